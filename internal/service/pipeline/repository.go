package pipeline

import (
	"context"

	"github.com/ignite/conversion-sync/internal/conversions"
	"github.com/ignite/conversion-sync/internal/domain"
)

// RowSource reads the rows of a warehouse table. It fails with an error
// wrapping ErrNoRows when the table is empty.
type RowSource interface {
	FetchConversions(ctx context.Context, project, dataset, table string) ([]domain.RawRecord, error)
}

// HandleProvider builds the authenticated platform client for a run.
type HandleProvider interface {
	Fetch(ctx context.Context, identifier string) (conversions.Client, error)
}

// RunStore persists run reports.
type RunStore interface {
	// Save inserts or replaces the report with the same RunID.
	Save(ctx context.Context, r *domain.PipelineReport) error

	// Get returns ErrNotFound for an unknown id.
	Get(ctx context.Context, id string) (*domain.PipelineReport, error)

	// List returns the most recent runs first.
	List(ctx context.Context, limit int) ([]domain.PipelineReport, error)
}

// Archiver keeps the upload and result files of every chunk.
type Archiver interface {
	ArchiveChunk(ctx context.Context, runID string, batch []domain.MappedEvent, report domain.UploadReport) error
}

// Notifier announces finished runs.
type Notifier interface {
	RunFinished(ctx context.Context, r *domain.PipelineReport) error
}
