package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/conversion-sync/internal/conversions"
	"github.com/ignite/conversion-sync/internal/domain"
	"github.com/ignite/conversion-sync/internal/pkg/distlock"
	"github.com/ignite/conversion-sync/internal/pkg/logger"
	"github.com/ignite/conversion-sync/internal/pkg/parallel"
)

// Config tunes a Service.
type Config struct {
	ChunkSize int
	// MapWorkers and UploadWorkers bound each stage; 0 means unbounded.
	MapWorkers    int
	UploadWorkers int
	Uploader      conversions.UploaderConfig
	// LockTTL is the run lock lifetime; the lock is refreshed every
	// LockRefresh (default LockTTL/3) while the run executes.
	LockTTL     time.Duration
	LockRefresh time.Duration
}

// Deps are the collaborators of a Service. Store, Archiver, Notifier and
// Locks are optional.
type Deps struct {
	Source   RowSource
	Handles  HandleProvider
	Store    RunStore
	Archiver Archiver
	Notifier Notifier
	Locks    distlock.Factory
}

// Service orchestrates sync runs.
type Service struct {
	deps  Deps
	cfg   Config
	now   func() time.Time
	newID func() string
}

// NewService creates a pipeline service.
func NewService(deps Deps, cfg Config) *Service {
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = conversions.DefaultChunkSize
	}
	return &Service{
		deps:  deps,
		cfg:   cfg,
		now:   func() time.Time { return time.Now().UTC() },
		newID: func() string { return uuid.New().String() },
	}
}

// RunRequest selects the source table and the credentials to upload with.
type RunRequest struct {
	ProjectID string `json:"project_id"`
	DatasetID string `json:"dataset_id"`
	TableName string `json:"table_name"`
	// Target overrides the credentials identifier. Defaults to ProjectID.
	Target string `json:"target,omitempty"`
}

// Validate checks that every selector is present.
func (r RunRequest) Validate() error {
	var missing []string
	if strings.TrimSpace(r.ProjectID) == "" {
		missing = append(missing, "project_id")
	}
	if strings.TrimSpace(r.DatasetID) == "" {
		missing = append(missing, "dataset_id")
	}
	if strings.TrimSpace(r.TableName) == "" {
		missing = append(missing, "table_name")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidRequest, strings.Join(missing, ", "))
	}
	return nil
}

// Source is the dotted table selector.
func (r RunRequest) Source() string {
	return r.ProjectID + "." + r.DatasetID + "." + r.TableName
}

// Identifier selects the credentials.
func (r RunRequest) Identifier() string {
	if r.Target != "" {
		return r.Target
	}
	return r.ProjectID
}

type mapResult struct {
	event domain.MappedEvent
	raw   domain.RawRecord
	err   error
}

type chunkJob struct {
	index int
	batch []domain.MappedEvent
}

type chunkResult struct {
	batch  []domain.MappedEvent
	report domain.UploadReport
}

// Run executes one sync. The returned report is non-nil whenever the run
// got past validation and locking, including failed runs; err is set when
// the run failed.
func (s *Service) Run(ctx context.Context, req RunRequest) (*domain.PipelineReport, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	report := &domain.PipelineReport{
		RunID:     s.newID(),
		Source:    req.Source(),
		Target:    req.Identifier(),
		Status:    domain.RunRunning,
		Errors:    []domain.RecordError{},
		StartedAt: s.now(),
	}

	stopKeepalive := func() {}
	if s.deps.Locks != nil {
		lock := s.deps.Locks(distlock.RunKey(report.Source, report.Target))
		ok, err := lock.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("acquiring run lock: %w", err)
		}
		if !ok {
			return nil, ErrRunInProgress
		}
		defer func() {
			if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("pipeline: releasing run lock failed", "run_id", report.RunID, "error", err)
			}
		}()
		stopKeepalive = distlock.Keepalive(ctx, lock, s.cfg.LockTTL, s.cfg.LockRefresh)
	}

	logger.Info("pipeline run started", "run_id", report.RunID, "source", report.Source, "target", report.Target)

	chunks, runErr := s.execute(ctx, req, report)
	stopKeepalive()
	report.FinishedAt = s.now()
	if runErr != nil {
		report.Failure = runErr.Error()
	}
	report.Finalize()

	// Bookkeeping must outlive a canceled request.
	bg := context.WithoutCancel(ctx)
	s.persist(bg, report)
	s.archive(bg, report.RunID, chunks)
	s.notify(bg, report)

	logger.Info("pipeline run finished",
		"run_id", report.RunID,
		"status", string(report.Status),
		"rows", report.Rows,
		"accepted", report.AcceptedCount,
		"errors", len(report.Errors),
		"chunks", report.Chunks,
		"rounds_exhausted", report.RoundsExhausted,
		"duration_ms", report.Duration().Milliseconds(),
	)
	return report, runErr
}

func (s *Service) execute(ctx context.Context, req RunRequest, report *domain.PipelineReport) ([]chunkResult, error) {
	client, err := s.deps.Handles.Fetch(ctx, req.Identifier())
	if err != nil {
		return nil, fmt.Errorf("building platform client: %w", err)
	}
	report.Target = client.CustomerID()

	rows, err := s.deps.Source.FetchConversions(ctx, req.ProjectID, req.DatasetID, req.TableName)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", report.Source, err)
	}
	report.Rows = len(rows)

	mapper := conversions.NewMapper(client)
	events, err := s.mapAll(ctx, mapper, rows, report)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		logger.Warn("pipeline: no row could be mapped", "run_id", report.RunID, "rows", len(rows))
		return nil, nil
	}

	batches, err := conversions.Chunk(events, s.cfg.ChunkSize)
	if err != nil {
		return nil, err
	}
	report.Chunks = len(batches)

	jobs := make([]chunkJob, len(batches))
	for i, b := range batches {
		jobs[i] = chunkJob{index: i + 1, batch: b}
	}

	uploader := conversions.NewUploader(client, mapper, s.cfg.Uploader)
	results, err := parallel.Map(ctx, jobs, func(ctx context.Context, j chunkJob) (chunkResult, error) {
		rep, err := uploader.Upload(ctx, j.index, j.batch)
		if err != nil {
			return chunkResult{}, err
		}
		return chunkResult{batch: j.batch, report: rep}, nil
	}, parallel.WithLimit(s.cfg.UploadWorkers), parallel.WithStage("upload"))
	if err != nil {
		return nil, fmt.Errorf("uploading: %w", err)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].report.Chunk < results[j].report.Chunk })
	for _, r := range results {
		report.AcceptedCount += r.report.AcceptedCount()
		report.Errors = append(report.Errors, r.report.Errors...)
		report.RoundsExhausted = report.RoundsExhausted || r.report.RoundsExhausted
	}
	return results, nil
}

// mapAll maps every row concurrently. A row that fails to map becomes a
// MAPPING_ERROR entry in the report and never aborts its siblings. The
// events come back in source order so chunking is deterministic.
func (s *Service) mapAll(ctx context.Context, mapper *conversions.Mapper, rows []domain.RawRecord, report *domain.PipelineReport) ([]domain.MappedEvent, error) {
	results, err := parallel.Map(ctx, rows, func(_ context.Context, raw domain.RawRecord) (mapResult, error) {
		ev, err := mapper.Map(raw)
		return mapResult{event: ev, raw: raw, err: err}, nil
	}, parallel.WithLimit(s.cfg.MapWorkers), parallel.WithStage("map"))
	if err != nil {
		return nil, fmt.Errorf("mapping: %w", err)
	}

	events := make([]domain.MappedEvent, 0, len(results))
	var failures []domain.RecordError
	for _, r := range results {
		if r.err == nil {
			events = append(events, r.event)
			continue
		}
		var me *conversions.MappingError
		if !errors.As(r.err, &me) {
			return nil, fmt.Errorf("mapping row %d: %w", r.raw.Position, r.err)
		}
		failures = append(failures, domain.RecordError{
			Index:   r.raw.Position,
			Code:    conversions.CodeMapping,
			Message: me.Error(),
			OrderID: r.raw.TransactionID,
		})
	}

	sort.Slice(events, func(i, j int) bool { return events[i].Origin.Position < events[j].Origin.Position })
	sort.Slice(failures, func(i, j int) bool { return failures[i].Index < failures[j].Index })

	report.MappingFailures = len(failures)
	report.Errors = append(report.Errors, failures...)
	if len(failures) > 0 {
		logger.Warn("pipeline: rows failed mapping", "run_id", report.RunID, "failed", len(failures), "rows", len(rows))
	}
	return events, nil
}

func (s *Service) persist(ctx context.Context, r *domain.PipelineReport) {
	if s.deps.Store == nil {
		return
	}
	if err := s.deps.Store.Save(ctx, r); err != nil {
		logger.Error("pipeline: saving run report failed", "run_id", r.RunID, "error", err)
	}
}

func (s *Service) archive(ctx context.Context, runID string, chunks []chunkResult) {
	if s.deps.Archiver == nil {
		return
	}
	for _, c := range chunks {
		if err := s.deps.Archiver.ArchiveChunk(ctx, runID, c.batch, c.report); err != nil {
			logger.Error("pipeline: archiving chunk failed", "run_id", runID, "chunk", c.report.Chunk, "error", err)
		}
	}
}

func (s *Service) notify(ctx context.Context, r *domain.PipelineReport) {
	if s.deps.Notifier == nil {
		return
	}
	if err := s.deps.Notifier.RunFinished(ctx, r); err != nil {
		logger.Error("pipeline: run notification failed", "run_id", r.RunID, "error", err)
	}
}

// Get returns a persisted run.
func (s *Service) Get(ctx context.Context, id string) (*domain.PipelineReport, error) {
	if s.deps.Store == nil {
		return nil, ErrNotFound
	}
	return s.deps.Store.Get(ctx, id)
}

// List returns recent runs, newest first. limit is clamped to [1, 100].
func (s *Service) List(ctx context.Context, limit int) ([]domain.PipelineReport, error) {
	if s.deps.Store == nil {
		return []domain.PipelineReport{}, nil
	}
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return s.deps.Store.List(ctx, limit)
}
