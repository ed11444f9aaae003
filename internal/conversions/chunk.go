package conversions

import "fmt"

// DefaultChunkSize is the largest batch the upload endpoint accepts.
const DefaultChunkSize = 2000

// Chunk splits items into contiguous slices of at most maxSize, preserving
// order. Every chunk except possibly the last holds exactly maxSize items.
// Chunks share the backing array of items but cannot grow into each other.
func Chunk[T any](items []T, maxSize int) ([][]T, error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", ErrConfiguration, maxSize)
	}
	if len(items) == 0 {
		return nil, ErrEmptyInput
	}

	chunks := make([][]T, 0, (len(items)+maxSize-1)/maxSize)
	for i := 0; i < len(items); i += maxSize {
		end := min(i+maxSize, len(items))
		chunks = append(chunks, items[i:end:end])
	}
	return chunks, nil
}
