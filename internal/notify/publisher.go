// Package notify announces finished pipeline runs on an SQS queue.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/ignite/conversion-sync/internal/domain"
	"github.com/ignite/conversion-sync/internal/pkg/logger"
)

const EventRunFinished = "conversion_run.finished"

// SQSAPI is the subset of the SQS client used by Publisher.
type SQSAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, opts ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// RunEvent is the message body published for every finished run.
type RunEvent struct {
	EventType       string           `json:"event_type"`
	RunID           string           `json:"run_id"`
	Source          string           `json:"source"`
	Target          string           `json:"target"`
	Status          domain.RunStatus `json:"status"`
	Rows            int              `json:"rows"`
	AcceptedCount   int              `json:"accepted_count"`
	ErrorCount      int              `json:"error_count"`
	RoundsExhausted bool             `json:"rounds_exhausted"`
	Failure         string           `json:"failure,omitempty"`
	DurationMS      int64            `json:"duration_ms"`
	Timestamp       time.Time        `json:"timestamp"`
}

type Publisher struct {
	client   SQSAPI
	queueURL string
	timeout  time.Duration
}

func NewPublisher(client SQSAPI, queueURL string) *Publisher {
	return &Publisher{client: client, queueURL: queueURL, timeout: 5 * time.Second}
}

// NewPublisherFromConfig builds the SQS client from an AWS config.
func NewPublisherFromConfig(cfg aws.Config, queueURL string) *Publisher {
	return NewPublisher(sqs.NewFromConfig(cfg), queueURL)
}

// RunFinished implements pipeline.Notifier. Per-record errors are not
// included; consumers fetch the full report from the run history.
func (p *Publisher) RunFinished(ctx context.Context, r *domain.PipelineReport) error {
	evt := RunEvent{
		EventType:       EventRunFinished,
		RunID:           r.RunID,
		Source:          r.Source,
		Target:          r.Target,
		Status:          r.Status,
		Rows:            r.Rows,
		AcceptedCount:   r.AcceptedCount,
		ErrorCount:      len(r.Errors),
		RoundsExhausted: r.RoundsExhausted,
		Failure:         r.Failure,
		DurationMS:      r.Duration().Milliseconds(),
		Timestamp:       r.FinishedAt,
	}
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal run event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"event_type": {DataType: aws.String("String"), StringValue: aws.String(EventRunFinished)},
			"status":     {DataType: aws.String("String"), StringValue: aws.String(string(r.Status))},
		},
	})
	if err != nil {
		return fmt.Errorf("publishing run %s to SQS: %w", r.RunID, err)
	}
	logger.Debug("run event published", "run_id", r.RunID, "queue", p.queueURL)
	return nil
}
