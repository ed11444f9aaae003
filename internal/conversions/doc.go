// Package conversions turns warehouse rows into platform conversion events
// and uploads them in chunks.
//
// The Mapper builds a MappedEvent from a RawRecord. Chunk splits the mapped
// events into batches no larger than the platform limit. The Uploader sends
// one batch at a time with partial failure enabled, classifies every
// position as accepted, permanently rejected or retryable, and resubmits
// only the retryable subset until it is empty or the round cap is hit.
//
// The package depends on the ad platform only through the Handle and
// Endpoint interfaces.
package conversions
