package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/ignite/conversion-sync/internal/domain"
	"github.com/ignite/conversion-sync/internal/service/pipeline"
)

const (
	runPrefix = "RUN#"
	reportSK  = "REPORT"
	runTTL    = 90 * 24 * time.Hour
)

// DynamoAPI is the subset of the DynamoDB client used by RunTable.
type DynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, opts ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// RunItem represents a run report stored in DynamoDB
type RunItem struct {
	PK        string `dynamodbav:"PK"`
	SK        string `dynamodbav:"SK"`
	Data      string `dynamodbav:"Data"`
	Status    string `dynamodbav:"Status"`
	StartedAt string `dynamodbav:"StartedAt"`
	TTL       int64  `dynamodbav:"TTL,omitempty"`
}

// RunTable implements pipeline.RunStore on a single DynamoDB table.
type RunTable struct {
	client    DynamoAPI
	tableName string
}

// NewRunTable creates a DynamoDB-backed run history store.
func NewRunTable(client DynamoAPI, tableName string) *RunTable {
	return &RunTable{client: client, tableName: tableName}
}

// NewRunTableFromConfig builds the DynamoDB client from an AWS config.
func NewRunTableFromConfig(cfg aws.Config, tableName string) *RunTable {
	return NewRunTable(dynamodb.NewFromConfig(cfg), tableName)
}

func (t *RunTable) Save(ctx context.Context, rep *domain.PipelineReport) error {
	data, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("marshaling run: %w", err)
	}

	item := RunItem{
		PK:        runPrefix + rep.RunID,
		SK:        reportSK,
		Data:      string(data),
		Status:    string(rep.Status),
		StartedAt: rep.StartedAt.UTC().Format(time.RFC3339Nano),
		TTL:       rep.StartedAt.Add(runTTL).Unix(),
	}

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshaling item: %w", err)
	}

	_, err = t.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(t.tableName),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("putting run %s to DynamoDB: %w", rep.RunID, err)
	}
	return nil
}

func (t *RunTable) Get(ctx context.Context, id string) (*domain.PipelineReport, error) {
	out, err := t.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(t.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: runPrefix + id},
			"SK": &types.AttributeValueMemberS{Value: reportSK},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("getting run %s from DynamoDB: %w", id, err)
	}
	if len(out.Item) == 0 {
		return nil, pipeline.ErrNotFound
	}
	return decodeRun(out.Item)
}

// List scans every report item and returns the most recent first. Run
// history is small and expires through TTL, so a scan is acceptable.
func (t *RunTable) List(ctx context.Context, limit int) ([]domain.PipelineReport, error) {
	var (
		items []map[string]types.AttributeValue
		start map[string]types.AttributeValue
	)
	for {
		out, err := t.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:        aws.String(t.tableName),
			FilterExpression: aws.String("SK = :sk AND begins_with(PK, :prefix)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":sk":     &types.AttributeValueMemberS{Value: reportSK},
				":prefix": &types.AttributeValueMemberS{Value: runPrefix},
			},
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, fmt.Errorf("scanning runs: %w", err)
		}
		items = append(items, out.Items...)
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		start = out.LastEvaluatedKey
	}

	runs := make([]domain.PipelineReport, 0, len(items))
	for _, it := range items {
		rep, err := decodeRun(it)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *rep)
	}
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func decodeRun(av map[string]types.AttributeValue) (*domain.PipelineReport, error) {
	var item RunItem
	if err := attributevalue.UnmarshalMap(av, &item); err != nil {
		return nil, fmt.Errorf("unmarshaling item: %w", err)
	}
	var rep domain.PipelineReport
	if err := json.NewDecoder(strings.NewReader(item.Data)).Decode(&rep); err != nil {
		return nil, fmt.Errorf("decoding run %s: %w", strings.TrimPrefix(item.PK, runPrefix), err)
	}
	if rep.Errors == nil {
		rep.Errors = []domain.RecordError{}
	}
	return &rep, nil
}
