package storage

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"path"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ignite/conversion-sync/internal/domain"
)

// S3API is the subset of the S3 client used by Archive.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

var (
	uploadHeader = []string{"Order ID", "Conversion Action", "Conversion Time", "Conversion Value",
		"Conversion Currency", "Google Click ID", "GBRAID", "WBRAID", "Hashed Email", "Hashed Phone"}
	resultHeader = []string{"Order ID", "Status", "Round", "Index", "Error Code", "Error Message"}
)

// Archive writes every chunk to S3: one upload file per submission round at
// {prefix}/{runID}/chunk-NNNN-round-RR-upload.csv and one result file at
// {prefix}/{runID}/chunk-NNNN-result.csv.
type Archive struct {
	client S3API
	bucket string
	prefix string
}

// NewArchive creates an S3 chunk archive.
func NewArchive(client S3API, bucket, prefix string) *Archive {
	return &Archive{client: client, bucket: bucket, prefix: prefix}
}

// NewArchiveFromConfig builds the S3 client from an AWS config.
func NewArchiveFromConfig(cfg aws.Config, bucket, prefix string) *Archive {
	return NewArchive(s3.NewFromConfig(cfg), bucket, prefix)
}

// ArchiveChunk implements pipeline.Archiver.
func (a *Archive) ArchiveChunk(ctx context.Context, runID string, batch []domain.MappedEvent, report domain.UploadReport) error {
	submissions := report.Submissions
	if len(submissions) == 0 {
		submissions = [][]domain.MappedEvent{batch}
	}
	for i, sub := range submissions {
		upload, err := UploadFile(sub)
		if err != nil {
			return err
		}
		name := fmt.Sprintf("chunk-%04d-round-%02d-upload.csv", report.Chunk, i+1)
		if err := a.put(ctx, a.key(runID, name), upload); err != nil {
			return err
		}
	}

	result, err := ResultFile(report)
	if err != nil {
		return err
	}
	return a.put(ctx, a.key(runID, fmt.Sprintf("chunk-%04d-result.csv", report.Chunk)), result)
}

func (a *Archive) key(runID, name string) string {
	return path.Join(a.prefix, runID, name)
}

func (a *Archive) put(ctx context.Context, key string, body []byte) error {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("text/csv"),
	})
	if err != nil {
		return fmt.Errorf("putting object %s to S3: %w", key, err)
	}
	return nil
}

// UploadFile renders a batch as submitted, one row per event.
func UploadFile(batch []domain.MappedEvent) ([]byte, error) {
	rows := make([][]string, 0, len(batch)+1)
	rows = append(rows, uploadHeader)
	for _, ev := range batch {
		var email, phone string
		for _, id := range ev.UserIdentifiers {
			if id.HashedEmail != "" {
				email = id.HashedEmail
			}
			if id.HashedPhoneNumber != "" {
				phone = id.HashedPhoneNumber
			}
		}
		rows = append(rows, []string{
			ev.OrderID,
			ev.ConversionAction,
			ev.ConversionDateTime,
			strconv.FormatFloat(ev.ConversionValue, 'f', -1, 64),
			ev.CurrencyCode,
			ev.Gclid,
			ev.Gbraid,
			ev.Wbraid,
			email,
			phone,
		})
	}
	return writeCSV(rows)
}

// ResultFile renders the outcome of a chunk: accepted events first, then
// every error with the round and index locating it in that round's upload
// file. Records still retryable at the round cap get status "retryable".
func ResultFile(report domain.UploadReport) ([]byte, error) {
	rows := make([][]string, 0, len(report.Accepted)+len(report.Errors)+1)
	rows = append(rows, resultHeader)
	for _, ev := range report.Accepted {
		rows = append(rows, []string{ev.OrderID, domain.OutcomeAccepted.String(), strconv.Itoa(ev.Attempt + 1), "", "", ""})
	}
	for _, e := range report.Errors {
		status := domain.OutcomePermanent
		if e.Retryable {
			status = domain.OutcomeRetryable
		}
		rows = append(rows, []string{e.OrderID, status.String(), strconv.Itoa(e.Round), strconv.Itoa(e.Index), e.Code, e.Message})
	}
	return writeCSV(rows)
}

func writeCSV(rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(rows); err != nil {
		return nil, fmt.Errorf("writing csv: %w", err)
	}
	return buf.Bytes(), nil
}
