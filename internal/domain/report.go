package domain

import "time"

// RunStatus summarizes how a pipeline run ended.
type RunStatus string

const (
	RunRunning            RunStatus = "running"
	RunCompleted          RunStatus = "completed"
	RunCompletedWithError RunStatus = "completed_with_errors"
	RunRoundsExhausted    RunStatus = "rounds_exhausted"
	RunFailed             RunStatus = "failed"
)

// RecordError attributes one rejected or unmappable record. Index is
// 1-based: the position in submission Round for upload errors, the source
// row position for mapping errors (Round 0). Retryable marks records that
// were still retryable when the round cap was hit.
type RecordError struct {
	Chunk     int    `json:"chunk"`
	Round     int    `json:"round,omitempty"`
	Index     int    `json:"index"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	OrderID   string `json:"order_id,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// UploadReport is the result of uploading one chunk.
type UploadReport struct {
	Chunk     int           `json:"chunk"`
	Submitted int           `json:"submitted"`
	Accepted  []MappedEvent `json:"-"`
	// Submissions holds the batch sent in each round, first round first.
	Submissions     [][]MappedEvent `json:"-"`
	Errors          []RecordError   `json:"errors"`
	Rounds          int             `json:"rounds"`
	RoundsExhausted bool            `json:"rounds_exhausted"`
}

// AcceptedCount returns the number of accepted events.
func (r UploadReport) AcceptedCount() int { return len(r.Accepted) }

// PipelineReport is the aggregated result of one run.
type PipelineReport struct {
	RunID           string        `json:"run_id"`
	Source          string        `json:"source"`
	Target          string        `json:"target"`
	Status          RunStatus     `json:"status"`
	Rows            int           `json:"rows"`
	AcceptedCount   int           `json:"accepted_count"`
	Errors          []RecordError `json:"errors"`
	RoundsExhausted bool          `json:"rounds_exhausted"`
	Chunks          int           `json:"chunks"`
	MappingFailures int           `json:"mapping_failures"`
	Failure         string        `json:"failure,omitempty"`
	StartedAt       time.Time     `json:"started_at"`
	FinishedAt      time.Time     `json:"finished_at"`
}

// Duration returns the wall time of the run.
func (r PipelineReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Finalize derives Status from the accumulated counters.
func (r *PipelineReport) Finalize() {
	switch {
	case r.Failure != "":
		r.Status = RunFailed
	case r.RoundsExhausted:
		r.Status = RunRoundsExhausted
	case len(r.Errors) > 0:
		r.Status = RunCompletedWithError
	default:
		r.Status = RunCompleted
	}
}
