package storage

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/conversion-sync/internal/domain"
	"github.com/ignite/conversion-sync/internal/service/pipeline"
)

// fakeDynamo keeps items by PK and pages scans one item at a time.
type fakeDynamo struct {
	items   map[string]map[string]types.AttributeValue
	scans   int
	putErr  error
	lastPut *dynamodb.PutItemInput
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: map[string]map[string]types.AttributeValue{}}
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	f.lastPut = in
	pk := in.Item["PK"].(*types.AttributeValueMemberS).Value
	f.items[pk] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	pk := in.Key["PK"].(*types.AttributeValueMemberS).Value
	return &dynamodb.GetItemOutput{Item: f.items[pk]}, nil
}

func (f *fakeDynamo) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.scans++
	keys := make([]string, 0, len(f.items))
	for k := range f.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	start := 0
	if in.ExclusiveStartKey != nil {
		last := in.ExclusiveStartKey["PK"].(*types.AttributeValueMemberS).Value
		start = sort.SearchStrings(keys, last) + 1
	}
	if start >= len(keys) {
		return &dynamodb.ScanOutput{}, nil
	}
	out := &dynamodb.ScanOutput{Items: []map[string]types.AttributeValue{f.items[keys[start]]}}
	if start+1 < len(keys) {
		out.LastEvaluatedKey = map[string]types.AttributeValue{"PK": f.items[keys[start]]["PK"]}
	}
	return out, nil
}

func report(id string, started time.Time) *domain.PipelineReport {
	return &domain.PipelineReport{
		RunID:         id,
		Source:        "analytics.ads.conv",
		Target:        "123",
		Status:        domain.RunCompletedWithError,
		Rows:          2,
		AcceptedCount: 1,
		Errors:        []domain.RecordError{{Chunk: 1, Index: 2, Code: "X", Message: "bad", OrderID: "ORD-2"}},
		Chunks:        1,
		StartedAt:     started,
		FinishedAt:    started.Add(time.Second),
	}
}

func TestRunTableSaveGet(t *testing.T) {
	db := newFakeDynamo()
	table := NewRunTable(db, "conversion-runs")
	started := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

	require.NoError(t, table.Save(context.Background(), report("run-1", started)))
	assert.Equal(t, "conversion-runs", aws.ToString(db.lastPut.TableName))
	assert.Contains(t, db.items, "RUN#run-1")

	got, err := table.Get(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, domain.RunCompletedWithError, got.Status)
	require.Len(t, got.Errors, 1)
	assert.Equal(t, "ORD-2", got.Errors[0].OrderID)
	assert.Equal(t, time.Second, got.Duration())
}

func TestRunTableGetNotFound(t *testing.T) {
	table := NewRunTable(newFakeDynamo(), "runs")
	_, err := table.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, pipeline.ErrNotFound)
}

func TestRunTableSaveError(t *testing.T) {
	db := newFakeDynamo()
	db.putErr = errors.New("throttled")
	err := NewRunTable(db, "runs").Save(context.Background(), report("r", time.Now()))
	assert.ErrorContains(t, err, "throttled")
}

func TestRunTableListNewestFirst(t *testing.T) {
	db := newFakeDynamo()
	table := NewRunTable(db, "runs")
	base := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, table.Save(context.Background(), report(id, base.Add(time.Duration(i)*time.Hour))))
	}

	runs, err := table.List(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].RunID)
	assert.Equal(t, "b", runs[1].RunID)
	assert.Equal(t, 3, db.scans)
}

type fakeS3 struct {
	objects map[string]string
	types   map[string]string
	err     error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, _ := io.ReadAll(in.Body)
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = string(body)
	f.types[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func readCSV(t *testing.T, s string) [][]string {
	t.Helper()
	rows, err := csv.NewReader(strings.NewReader(s)).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestArchiveChunk(t *testing.T) {
	s3c := &fakeS3{objects: map[string]string{}, types: map[string]string{}}
	arch := NewArchive(s3c, "bucket", "conversions")

	batch := []domain.MappedEvent{
		{
			OrderID:            "ORD-1",
			ConversionAction:   "customers/123/conversionActions/9",
			ConversionDateTime: "2024-05-10 12:00:00+00:00",
			ConversionValue:    12.5,
			CurrencyCode:       "USD",
			Gclid:              "gclid-1",
			UserIdentifiers:    []domain.UserIdentifier{{HashedEmail: "e1"}, {HashedPhoneNumber: "p1"}},
		},
		{OrderID: "ORD-2", ConversionAction: "customers/123/conversionActions/9", Wbraid: "wb", CurrencyCode: "EUR"},
	}
	rep := domain.UploadReport{
		Chunk:     3,
		Submitted: 2,
		Accepted:  batch[:1],
		Errors:    []domain.RecordError{{Chunk: 3, Round: 1, Index: 2, Code: "INVALID", Message: "bad click", OrderID: "ORD-2"}},
	}

	require.NoError(t, arch.ArchiveChunk(context.Background(), "run-9", batch, rep))
	require.Len(t, s3c.objects, 2)

	upload := readCSV(t, s3c.objects["bucket/conversions/run-9/chunk-0003-round-01-upload.csv"])
	require.Len(t, upload, 3)
	assert.Equal(t, uploadHeader, upload[0])
	assert.Equal(t, []string{"ORD-1", "customers/123/conversionActions/9", "2024-05-10 12:00:00+00:00",
		"12.5", "USD", "gclid-1", "", "", "e1", "p1"}, upload[1])
	assert.Equal(t, "wb", upload[2][7])

	result := readCSV(t, s3c.objects["bucket/conversions/run-9/chunk-0003-result.csv"])
	require.Len(t, result, 3)
	assert.Equal(t, resultHeader, result[0])
	assert.Equal(t, []string{"ORD-1", "accepted", "1", "", "", ""}, result[1])
	assert.Equal(t, []string{"ORD-2", "rejected", "1", "2", "INVALID", "bad click"}, result[2])
	assert.Equal(t, "text/csv", s3c.types["conversions/run-9/chunk-0003-result.csv"])
}

func TestArchiveChunkRoundsLocateErrors(t *testing.T) {
	s3c := &fakeS3{objects: map[string]string{}, types: map[string]string{}}
	arch := NewArchive(s3c, "bucket", "conversions")

	first := []domain.MappedEvent{{OrderID: "ORD-1"}, {OrderID: "ORD-2"}, {OrderID: "ORD-3"}}
	second := []domain.MappedEvent{{OrderID: "ORD-2", Attempt: 1}, {OrderID: "ORD-3", Attempt: 1}}
	rep := domain.UploadReport{
		Chunk:       1,
		Submitted:   3,
		Accepted:    []domain.MappedEvent{first[0], second[0]},
		Submissions: [][]domain.MappedEvent{first, second},
		Errors: []domain.RecordError{{
			Chunk: 1, Round: 2, Index: 2, Code: "CONVERSION_PRECEDES_CLICK", Message: "precedes", OrderID: "ORD-3", Retryable: true,
		}},
		Rounds:          2,
		RoundsExhausted: true,
	}

	require.NoError(t, arch.ArchiveChunk(context.Background(), "run-1", first, rep))
	require.Len(t, s3c.objects, 3)

	round2 := readCSV(t, s3c.objects["bucket/conversions/run-1/chunk-0001-round-02-upload.csv"])
	require.Len(t, round2, 3)

	result := readCSV(t, s3c.objects["bucket/conversions/run-1/chunk-0001-result.csv"])
	require.Len(t, result, 4)
	assert.Equal(t, []string{"ORD-1", "accepted", "1", "", "", ""}, result[1])
	assert.Equal(t, []string{"ORD-2", "accepted", "2", "", "", ""}, result[2])

	errRow := result[3]
	assert.Equal(t, "retryable", errRow[1])
	round, err := strconv.Atoi(errRow[2])
	require.NoError(t, err)
	index, err := strconv.Atoi(errRow[3])
	require.NoError(t, err)
	located := readCSV(t, s3c.objects[fmt.Sprintf("bucket/conversions/run-1/chunk-0001-round-%02d-upload.csv", round)])
	assert.Equal(t, errRow[0], located[index][0], "round and index point at the archived row")
}

func TestArchiveChunkPutError(t *testing.T) {
	s3c := &fakeS3{objects: map[string]string{}, types: map[string]string{}, err: errors.New("denied")}
	err := NewArchive(s3c, "b", "p").ArchiveChunk(context.Background(), "r", nil, domain.UploadReport{Chunk: 1})
	assert.ErrorContains(t, err, "chunk-0001-round-01-upload.csv")
	assert.ErrorContains(t, err, "denied")
}
