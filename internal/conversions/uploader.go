package conversions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/conversion-sync/internal/domain"
	"github.com/ignite/conversion-sync/internal/pkg/logger"
)

// DefaultMaxRounds bounds the retry loop when no cap is configured.
const DefaultMaxRounds = 50

// Endpoint submits a batch with partial failure enabled.
type Endpoint interface {
	Upload(ctx context.Context, batch []domain.MappedEvent) (*UploadResponse, error)
}

// UploadResponse is the platform answer normalized to batch positions.
// Accepted[i] reports whether batch[i] was accepted.
type UploadResponse struct {
	Accepted []bool
	Errors   []PositionError
}

// PositionError is one platform error attached to a 0-based batch index.
type PositionError struct {
	Index   int
	Code    string
	Message string
}

// Remapper rebuilds a rejected event for resubmission. *Mapper implements it.
type Remapper interface {
	Remap(ev domain.MappedEvent) (domain.MappedEvent, error)
}

// UploaderConfig tunes the retry loop.
type UploaderConfig struct {
	MaxRounds  int
	RoundDelay time.Duration
}

// Uploader drives the submit / classify / remap loop for one chunk at a
// time. It is safe for concurrent use across chunks.
type Uploader struct {
	endpoint Endpoint
	remapper Remapper
	cfg      UploaderConfig
}

// NewUploader returns an Uploader. A non-positive MaxRounds falls back to
// DefaultMaxRounds.
func NewUploader(endpoint Endpoint, remapper Remapper, cfg UploaderConfig) *Uploader {
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = DefaultMaxRounds
	}
	return &Uploader{endpoint: endpoint, remapper: remapper, cfg: cfg}
}

// retryState is the bookkeeping for one round.
type retryState struct {
	round     int
	submitted int
	accepted  int
	permanent int
	retry     []pending
}

type pending struct {
	event   domain.MappedEvent
	outcome domain.UploadOutcome
	index   int
}

// Upload submits batch and resubmits its retryable records until none are
// left or the round cap is reached. Every error carries the round and the
// 1-based index in that round's submission (report.Submissions). A
// transport failure aborts the chunk with a *TransportError.
func (u *Uploader) Upload(ctx context.Context, chunk int, batch []domain.MappedEvent) (domain.UploadReport, error) {
	report := domain.UploadReport{Chunk: chunk, Submitted: len(batch)}
	if len(batch) == 0 {
		return report, ErrEmptyInput
	}

	current := batch
	for round := 1; ; round++ {
		report.Rounds = round
		report.Submissions = append(report.Submissions, current)

		resp, err := u.endpoint.Upload(ctx, current)
		if err != nil {
			return report, asTransport(err)
		}

		outcomes, err := Classify(current, resp)
		if err != nil {
			return report, fmt.Errorf("chunk %d round %d: %w", chunk, round, err)
		}

		st := retryState{round: round, submitted: len(current)}
		for i, o := range outcomes {
			switch o.Kind {
			case domain.OutcomeAccepted:
				st.accepted++
				report.Accepted = append(report.Accepted, current[i])
			case domain.OutcomePermanent:
				st.permanent++
				report.Errors = append(report.Errors, recordError(chunk, round, i, current[i], o))
			case domain.OutcomeRetryable:
				st.retry = append(st.retry, pending{event: current[i], outcome: o, index: i})
			}
		}

		logger.Info("upload round classified",
			"chunk", chunk,
			"round", round,
			"submitted", st.submitted,
			"accepted", st.accepted,
			"rejected", st.permanent,
			"retryable", len(st.retry),
		)

		if len(st.retry) == 0 {
			return report, checkAccounting(report, nil, len(batch))
		}

		if round >= u.cfg.MaxRounds {
			report.RoundsExhausted = true
			for _, p := range st.retry {
				e := recordError(chunk, round, p.index, p.event, p.outcome)
				e.Retryable = true
				report.Errors = append(report.Errors, e)
			}
			logger.Warn("upload rounds exhausted",
				"chunk", chunk,
				"rounds", round,
				"still_retryable", len(st.retry),
			)
			return report, checkAccounting(report, nil, len(batch))
		}

		next := make([]domain.MappedEvent, 0, len(st.retry))
		for _, p := range st.retry {
			ev, err := u.remapper.Remap(p.event)
			if err != nil {
				report.Errors = append(report.Errors, domain.RecordError{
					Chunk:   chunk,
					Round:   round,
					Index:   p.index + 1,
					Code:    CodeMapping,
					Message: err.Error(),
					OrderID: p.event.OrderID,
				})
				continue
			}
			next = append(next, ev)
		}
		if err := checkAccounting(report, next, len(batch)); err != nil {
			return report, err
		}
		if len(next) == 0 {
			return report, nil
		}

		if err := u.wait(ctx); err != nil {
			return report, fmt.Errorf("chunk %d waiting for round %d: %w", chunk, round+1, err)
		}
		current = next
	}
}

// checkAccounting verifies that every record of the original batch is
// accepted, reported as an error, or carried into the next round.
func checkAccounting(report domain.UploadReport, carried []domain.MappedEvent, total int) error {
	accounted := len(report.Accepted) + len(report.Errors) + len(carried)
	if accounted == total {
		return nil
	}
	return fmt.Errorf("chunk %d round %d: %w: %d accepted, %d errors, %d carried of %d submitted",
		report.Chunk, report.Rounds, ErrClassification, len(report.Accepted), len(report.Errors), len(carried), total)
}

func (u *Uploader) wait(ctx context.Context) error {
	if u.cfg.RoundDelay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(u.cfg.RoundDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func recordError(chunk, round, i int, ev domain.MappedEvent, o domain.UploadOutcome) domain.RecordError {
	return domain.RecordError{
		Chunk:   chunk,
		Round:   round,
		Index:   i + 1,
		Code:    o.Code,
		Message: o.Message,
		OrderID: ev.OrderID,
	}
}

func asTransport(err error) error {
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Err: err}
}

// Classify assigns an outcome to every position of batch. A position is
// accepted when the response marks it so. Otherwise it is retryable if any
// attached error is the recoverable timestamp error, permanently rejected
// with the attached errors otherwise, and permanently rejected with code
// UNKNOWN when the platform attached nothing.
func Classify(batch []domain.MappedEvent, resp *UploadResponse) ([]domain.UploadOutcome, error) {
	if resp == nil {
		return nil, fmt.Errorf("%w: no response", ErrClassification)
	}
	if len(resp.Accepted) != len(batch) {
		return nil, fmt.Errorf("%w: %d results for %d records", ErrClassification, len(resp.Accepted), len(batch))
	}

	byIndex := make(map[int][]PositionError, len(resp.Errors))
	for _, pe := range resp.Errors {
		if pe.Index < 0 || pe.Index >= len(batch) {
			return nil, fmt.Errorf("%w: error index %d outside batch of %d", ErrClassification, pe.Index, len(batch))
		}
		byIndex[pe.Index] = append(byIndex[pe.Index], pe)
	}

	outcomes := make([]domain.UploadOutcome, len(batch))
	for i := range batch {
		if resp.Accepted[i] {
			outcomes[i] = domain.UploadOutcome{Kind: domain.OutcomeAccepted}
			continue
		}
		outcomes[i] = classifyRejected(byIndex[i])
	}
	return outcomes, nil
}

func classifyRejected(errs []PositionError) domain.UploadOutcome {
	if len(errs) == 0 {
		return domain.UploadOutcome{
			Kind:    domain.OutcomePermanent,
			Code:    CodeUnknown,
			Message: "record rejected without error detail",
		}
	}
	for _, pe := range errs {
		if IsRetryable(pe.Code, pe.Message) {
			return domain.UploadOutcome{Kind: domain.OutcomeRetryable, Code: pe.Code, Message: pe.Message}
		}
	}
	msgs := make([]string, 0, len(errs))
	for _, pe := range errs {
		msgs = append(msgs, pe.Message)
	}
	code := errs[0].Code
	if code == "" {
		code = CodeUnknown
	}
	return domain.UploadOutcome{Kind: domain.OutcomePermanent, Code: code, Message: strings.Join(msgs, "; ")}
}
