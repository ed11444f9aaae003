// Package storage holds the AWS-backed persistence used by the pipeline:
// a DynamoDB run history table and an S3 archive of per-chunk upload and
// result files.
package storage
