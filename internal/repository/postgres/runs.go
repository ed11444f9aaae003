package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ignite/conversion-sync/internal/domain"
	"github.com/ignite/conversion-sync/internal/service/pipeline"
)

// RunRepo implements pipeline.RunStore against PostgreSQL.
type RunRepo struct{ db *sql.DB }

// NewRunRepo creates a Postgres-backed run history repository.
func NewRunRepo(db *sql.DB) *RunRepo { return &RunRepo{db: db} }

const runColumns = `id, source, target, status, rows, accepted_count, error_count,
	rounds_exhausted, chunks, mapping_failures, failure, errors, started_at, finished_at`

func (r *RunRepo) Save(ctx context.Context, rep *domain.PipelineReport) error {
	errs, err := json.Marshal(rep.Errors)
	if err != nil {
		return fmt.Errorf("encode run errors: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO pipeline_runs (`+runColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			target = EXCLUDED.target,
			rows = EXCLUDED.rows,
			accepted_count = EXCLUDED.accepted_count,
			error_count = EXCLUDED.error_count,
			rounds_exhausted = EXCLUDED.rounds_exhausted,
			chunks = EXCLUDED.chunks,
			mapping_failures = EXCLUDED.mapping_failures,
			failure = EXCLUDED.failure,
			errors = EXCLUDED.errors,
			finished_at = EXCLUDED.finished_at
	`, rep.RunID, rep.Source, rep.Target, string(rep.Status), rep.Rows, rep.AcceptedCount, len(rep.Errors),
		rep.RoundsExhausted, rep.Chunks, rep.MappingFailures, rep.Failure, string(errs), rep.StartedAt, nullTime(rep))
	if err != nil {
		return fmt.Errorf("save run %s: %w", rep.RunID, err)
	}
	return nil
}

func (r *RunRepo) Get(ctx context.Context, id string) (*domain.PipelineReport, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM pipeline_runs WHERE id = $1`, id)
	rep, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pipeline.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return rep, nil
}

func (r *RunRepo) List(ctx context.Context, limit int) ([]domain.PipelineReport, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM pipeline_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	out := []domain.PipelineReport{}
	for rows.Next() {
		rep, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, *rep)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*domain.PipelineReport, error) {
	var (
		rep        domain.PipelineReport
		status     string
		errorCount int
		errs       []byte
		finished   sql.NullTime
	)
	if err := s.Scan(&rep.RunID, &rep.Source, &rep.Target, &status, &rep.Rows, &rep.AcceptedCount, &errorCount,
		&rep.RoundsExhausted, &rep.Chunks, &rep.MappingFailures, &rep.Failure, &errs, &rep.StartedAt, &finished); err != nil {
		return nil, err
	}
	rep.Status = domain.RunStatus(status)
	rep.FinishedAt = finished.Time
	rep.Errors = []domain.RecordError{}
	if len(errs) > 0 {
		if err := json.Unmarshal(errs, &rep.Errors); err != nil {
			return nil, fmt.Errorf("decode run errors: %w", err)
		}
	}
	return &rep, nil
}

func nullTime(rep *domain.PipelineReport) sql.NullTime {
	return sql.NullTime{Time: rep.FinishedAt, Valid: !rep.FinishedAt.IsZero()}
}
