// Package pipeline runs one offline conversion sync end to end.
//
// A run takes the run lock for its source/target pair, builds an
// authenticated platform client, reads the source table, maps every row,
// chunks the mapped events and uploads the chunks in parallel. The result
// is a PipelineReport that is persisted, archived and announced before the
// lock is released.
//
// The service owns sequencing only. Validation lives in the mapper, the
// retry loop in the uploader, and all I/O behind the interfaces in
// repository.go.
package pipeline
