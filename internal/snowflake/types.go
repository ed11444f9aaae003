package snowflake

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Sentinel errors for the Snowflake row source.
var (
	ErrInvalidIdentifier = errors.New("invalid table identifier")
	ErrSchema            = errors.New("table does not match the conversion schema")
)

// Config holds Snowflake database configuration
type Config struct {
	Account   string `yaml:"account"`
	User      string `yaml:"user"`
	Password  string `yaml:"password"`
	Database  string `yaml:"database"`
	Schema    string `yaml:"schema"`
	Warehouse string `yaml:"warehouse"`
	Role      string `yaml:"role"`
	Enabled   bool   `yaml:"enabled"`
}

// ParseConnectionString extracts components from the connection string
// Format: scheme=https;ACCOUNT=xxx;HOST=yyy;port=443;USER=zzz;PASSWORD=www;DB=aaa.bbb;WAREHOUSE=ccc;
func ParseConnectionString(connStr string) Config {
	parts := make(map[string]string)
	for _, kv := range strings.Split(connStr, ";") {
		if idx := indexOfChar(kv, '='); idx > 0 {
			parts[strings.ToUpper(kv[:idx])] = kv[idx+1:]
		}
	}

	db := parts["DB"]
	var database, schema string
	if idx := indexOfChar(db, '.'); idx > 0 {
		database = db[:idx]
		schema = db[idx+1:]
	} else {
		database = db
	}

	return Config{
		Account:   parts["ACCOUNT"],
		User:      parts["USER"],
		Password:  parts["PASSWORD"],
		Database:  database,
		Schema:    schema,
		Warehouse: parts["WAREHOUSE"],
		Role:      parts["ROLE"],
	}
}

func indexOfChar(s string, c rune) int {
	for i, r := range s {
		if r == c {
			return i
		}
	}
	return -1
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]{0,254}$`)

// Table names a fully qualified source table.
type Table struct {
	Database string
	Schema   string
	Name     string
}

// Validate checks every part against Snowflake's unquoted identifier rules
// so the name can be interpolated into SQL.
func (t Table) Validate() error {
	for _, part := range []struct{ kind, v string }{
		{"database", t.Database},
		{"schema", t.Schema},
		{"table", t.Name},
	} {
		if !identRe.MatchString(part.v) {
			return fmt.Errorf("%w: %s %q", ErrInvalidIdentifier, part.kind, part.v)
		}
	}
	return nil
}

func (t Table) String() string {
	return t.Database + "." + t.Schema + "." + t.Name
}

// Source columns. Lookups are case-insensitive.
const (
	colConversionTime = "CONVERSION_TIME"
	colTransactionID  = "TRANSACTION_ID"
	colEmail          = "EMAIL"
	colPhone          = "PHONE"
	colConversionName = "CONVERSION_NAME"
	colCurrencyCode   = "CURRENCY_CODE"
	colClickID        = "CLICK_ID"
	colClickIDKind    = "CLICK_ID_KIND"
	colValue          = "VALUE"
)

var requiredColumns = []string{
	colConversionTime,
	colTransactionID,
	colEmail,
	colPhone,
	colConversionName,
	colCurrencyCode,
	colValue,
}

// columnAliases maps alternative warehouse column names onto the canonical ones.
var columnAliases = map[string]string{
	"GCLID":            colClickID,
	"CONVERSION_VALUE": colValue,
	"ORDER_ID":         colTransactionID,
	"HASHED_EMAIL":     colEmail,
	"HASHED_PHONE":     colPhone,
}
