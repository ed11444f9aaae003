package conversions

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the conversions package.
var (
	ErrConfiguration  = errors.New("invalid configuration")
	ErrEmptyInput     = fmt.Errorf("%w: empty input", ErrConfiguration)
	ErrMapping        = errors.New("record mapping failed")
	ErrClassification = errors.New("upload response does not match submitted batch")
	ErrTransport      = errors.New("upload transport failed")
)

// Error codes attached to RecordError entries.
const (
	CodeConversionPrecedesClick = "CONVERSION_PRECEDES_CLICK"
	CodeConversionPrecedesEvent = "CONVERSION_PRECEDES_EVENT"
	CodeUnknown                 = "UNKNOWN"
	CodeMapping                 = "MAPPING_ERROR"
)

// MappingError reports a raw record that cannot be turned into an event.
type MappingError struct {
	Position int
	OrderID  string
	Fields   []string
	Reason   string
}

func (e *MappingError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "record %d", e.Position)
	if e.OrderID != "" {
		fmt.Fprintf(&b, " (order %s)", e.OrderID)
	}
	if len(e.Fields) > 0 {
		fmt.Fprintf(&b, ": missing %s", strings.Join(e.Fields, ", "))
	}
	if e.Reason != "" {
		fmt.Fprintf(&b, ": %s", e.Reason)
	}
	return b.String()
}

func (e *MappingError) Unwrap() error { return ErrMapping }

// TransportError is a network, auth or protocol failure talking to the
// upload endpoint. It is fatal for the chunk.
type TransportError struct {
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("upload transport: status %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("upload transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// IsRetryable reports whether an upload error denotes a conversion whose
// timestamp precedes the click it is attributed to. Those records may be
// accepted once the platform has ingested the click.
func IsRetryable(code, message string) bool {
	switch code {
	case CodeConversionPrecedesClick, CodeConversionPrecedesEvent:
		return true
	}
	m := strings.ToLower(message)
	return strings.Contains(m, "conversion time precedes click") ||
		strings.Contains(m, "precedes the click")
}
