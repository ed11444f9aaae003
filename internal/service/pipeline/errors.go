package pipeline

import (
	"errors"

	"github.com/ignite/conversion-sync/internal/domain"
)

// Sentinel errors for the pipeline service layer.
var (
	ErrInvalidRequest = errors.New("invalid run request")
	ErrRunInProgress  = errors.New("a run for this source and target is already in progress")
	ErrNotFound       = errors.New("run not found")
	ErrNoRows         = domain.ErrNoRows
)
