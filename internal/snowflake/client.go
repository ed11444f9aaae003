package snowflake

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/snowflakedb/gosnowflake"

	"github.com/ignite/conversion-sync/internal/domain"
	"github.com/ignite/conversion-sync/internal/pkg/logger"
)

// Client reads conversion rows from Snowflake.
type Client struct {
	config Config
	db     *sql.DB
}

// NewClient creates a new Snowflake client
func NewClient(cfg Config) (*Client, error) {
	dsn, err := DSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("snowflake", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open snowflake connection: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	return NewClientWithDB(db, cfg), nil
}

// DSN renders cfg as a driver connection string, escaping credentials.
func DSN(cfg Config) (string, error) {
	dsn, err := gosnowflake.DSN(&gosnowflake.Config{
		Account:   cfg.Account,
		User:      cfg.User,
		Password:  cfg.Password,
		Database:  cfg.Database,
		Schema:    cfg.Schema,
		Warehouse: cfg.Warehouse,
		Role:      cfg.Role,
	})
	if err != nil {
		return "", fmt.Errorf("building snowflake dsn: %w", err)
	}
	return dsn, nil
}

// NewClientWithDB wraps an already opened database handle.
func NewClientWithDB(db *sql.DB, cfg Config) *Client {
	return &Client{config: cfg, db: db}
}

// Close closes the database connection
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Ping tests the database connection
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// TableFor resolves a project/dataset/table selector, falling back to the
// configured database and schema for empty parts.
func (c *Client) TableFor(project, dataset, table string) Table {
	t := Table{Database: project, Schema: dataset, Name: table}
	if t.Database == "" {
		t.Database = c.config.Database
	}
	if t.Schema == "" {
		t.Schema = c.config.Schema
	}
	return t
}

// FetchConversions reads every row of the table, newest conversion first.
// An empty table fails with domain.ErrNoRows. The column set is checked
// before any row is read and the first row must convert cleanly; later
// rows with unusable values come back with the field empty so the mapper
// reports them individually.
func (c *Client) FetchConversions(ctx context.Context, project, dataset, table string) ([]domain.RawRecord, error) {
	t := c.TableFor(project, dataset, table)
	if err := t.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	query := fmt.Sprintf(`SELECT * FROM %s ORDER BY %s DESC`, t, colConversionTime)
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", t, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", t, err)
	}
	index, err := columnIndex(cols)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", t, err)
	}

	var records []domain.RawRecord
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		rec, bad := toRecord(vals, index)
		rec.Position = len(records) + 1
		if len(records) == 0 && len(bad) > 0 {
			return nil, fmt.Errorf("%w: %s: first row has unusable %s", ErrSchema, t, strings.Join(bad, ", "))
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s: %w", t, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%s: %w", t, domain.ErrNoRows)
	}

	logger.Info("snowflake: conversions fetched",
		"table", t.String(),
		"rows", len(records),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return records, nil
}

// columnIndex maps canonical column names to result positions and checks
// that every required column is present.
func columnIndex(cols []string) (map[string]int, error) {
	index := make(map[string]int, len(cols))
	for i, c := range cols {
		name := strings.ToUpper(c)
		if canon, ok := columnAliases[name]; ok {
			name = canon
		}
		if _, dup := index[name]; !dup {
			index[name] = i
		}
	}

	var missing []string
	for _, c := range requiredColumns {
		if _, ok := index[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing columns %s", ErrSchema, strings.Join(missing, ", "))
	}
	return index, nil
}

// toRecord converts one scanned row. bad lists columns that held a value
// of an unusable type.
func toRecord(vals []any, index map[string]int) (domain.RawRecord, []string) {
	var rec domain.RawRecord
	var bad []string

	get := func(col string) any {
		if i, ok := index[col]; ok {
			return vals[i]
		}
		return nil
	}
	str := func(col string) string {
		s, ok := asString(get(col))
		if !ok {
			bad = append(bad, col)
		}
		return strings.TrimSpace(s)
	}

	if v := get(colConversionTime); v != nil {
		if ts, ok := asTime(v); ok {
			rec.ConversionTime = ts
		} else {
			bad = append(bad, colConversionTime)
		}
	}
	rec.TransactionID = str(colTransactionID)
	rec.Email = str(colEmail)
	rec.Phone = str(colPhone)
	rec.ConversionName = str(colConversionName)
	rec.CurrencyCode = str(colCurrencyCode)
	rec.ClickID = str(colClickID)
	rec.ClickIDKind = domain.ClickIDKind(strings.ToLower(str(colClickIDKind)))
	if v := get(colValue); v != nil {
		if f, ok := asFloat(v); ok {
			rec.Value = &f
		} else {
			bad = append(bad, colValue)
		}
	}
	return rec, bad
}

func asString(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", true
	case string:
		return x, true
	case []byte:
		return string(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	}
	return "", false
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999 -0700",
	"2006-01-02 15:04:05-07:00",
	"2006-01-02 15:04:05",
}

func asTime(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, true
	case []byte:
		return asTime(string(x))
	case string:
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, strings.TrimSpace(x)); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int64:
		return float64(x), true
	case []byte:
		return asFloat(string(x))
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	}
	return 0, false
}
