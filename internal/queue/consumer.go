// Package queue consumes prediction jobs from an SQS queue and feeds them
// into the ingestion pipeline. The consumer is an alternative entry point to
// the HTTP API for callers that drop object store keys onto a queue.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/tphakala/yolo-go/internal/conf"
	"github.com/tphakala/yolo-go/internal/errors"
	"github.com/tphakala/yolo-go/internal/logging"
	"github.com/tphakala/yolo-go/internal/observability"
	"github.com/tphakala/yolo-go/internal/pipeline"
)

// sqsAPI is the subset of the SQS client the consumer uses.
type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// jobMessage is the JSON body of one queued prediction job.
type jobMessage struct {
	ImageKey     string `json:"image_key"`
	ChatID       string `json:"chat_id"`
	PredictionID string `json:"prediction_id"`
}

// Consumer long-polls the queue and runs each job through the pipeline.
// Messages are deleted only after the pipeline succeeds, so failed jobs
// return to the queue for redelivery.
type Consumer struct {
	client   sqsAPI
	pipeline *pipeline.Pipeline
	settings *conf.Settings
	metrics  *observability.Metrics
	logger   *slog.Logger

	queueURL     string
	maxMessages  int32
	waitSeconds  int32
	idleDelay    time.Duration
	backoffDelay time.Duration
}

// NewConsumer creates a Consumer backed by a real SQS client.
func NewConsumer(ctx context.Context, settings *conf.Settings, p *pipeline.Pipeline, metrics *observability.Metrics) (*Consumer, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(settings.Queue.Region),
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.New(fmt.Errorf("loading queue AWS config: %w", err)).
			Component("queue").
			Category(errors.CategoryConfiguration).
			Build()
	}

	client := sqs.NewFromConfig(cfg, func(o *sqs.Options) {
		if settings.Queue.Endpoint != "" {
			o.BaseEndpoint = aws.String(settings.Queue.Endpoint)
		}
	})

	return newConsumer(client, settings, p, metrics), nil
}

func newConsumer(client sqsAPI, settings *conf.Settings, p *pipeline.Pipeline, metrics *observability.Metrics) *Consumer {
	return &Consumer{
		client:       client,
		pipeline:     p,
		settings:     settings,
		metrics:      metrics,
		logger:       logging.ForService("queue"),
		queueURL:     settings.Queue.URL,
		maxMessages:  int32(settings.Queue.MaxMessages),
		waitSeconds:  int32(settings.Queue.WaitSeconds),
		idleDelay:    time.Duration(settings.Queue.IdleSeconds) * time.Second,
		backoffDelay: time.Duration(settings.Queue.BackoffSeconds) * time.Second,
	}
}

// Run polls the queue until ctx is cancelled. Receive errors back off and
// the loop continues; the only exit path is cancellation.
func (c *Consumer) Run(ctx context.Context) {
	c.logger.Info("queue consumer started", "queue_url", c.queueURL)
	for {
		if ctx.Err() != nil {
			c.logger.Info("queue consumer stopped")
			return
		}

		out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(c.queueURL),
			MaxNumberOfMessages: c.maxMessages,
			WaitTimeSeconds:     c.waitSeconds,
		})
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("queue consumer stopped")
				return
			}
			if c.metrics != nil {
				c.metrics.Queue.RecordReceiveError()
			}
			c.logger.Error("failed to receive messages", "error", err)
			if !c.sleep(ctx, c.backoffDelay) {
				return
			}
			continue
		}

		if c.metrics != nil {
			c.metrics.Queue.RecordBatchSize(len(out.Messages))
		}
		if len(out.Messages) == 0 {
			if !c.sleep(ctx, c.idleDelay) {
				return
			}
			continue
		}

		for i := range out.Messages {
			c.handleMessage(ctx, &out.Messages[i])
		}
	}
}

// handleMessage runs one job and deletes the message on success. Malformed
// or failed jobs stay on the queue for redelivery or dead-lettering.
func (c *Consumer) handleMessage(ctx context.Context, msg *types.Message) {
	var job jobMessage
	if msg.Body == nil || json.Unmarshal([]byte(*msg.Body), &job) != nil || job.ImageKey == "" {
		if c.metrics != nil {
			c.metrics.Queue.RecordMessage("malformed")
		}
		c.logger.Warn("skipping malformed queue message", "message_id", aws.ToString(msg.MessageId))
		return
	}

	result, err := c.pipeline.Process(ctx, &pipeline.Request{
		UID:      job.PredictionID,
		ImageKey: job.ImageKey,
		Source:   pipeline.SourceQueue,
	})
	if err != nil {
		if c.metrics != nil {
			c.metrics.Queue.RecordMessage("failed")
		}
		c.logger.Error("queued prediction failed",
			"message_id", aws.ToString(msg.MessageId),
			"image_key", job.ImageKey,
			"error", err)
		return
	}

	if _, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: msg.ReceiptHandle,
	}); err != nil {
		if c.metrics != nil {
			c.metrics.Queue.RecordMessage("delete_failed")
		}
		c.logger.Error("failed to delete processed message",
			"message_id", aws.ToString(msg.MessageId),
			"error", err)
		return
	}

	if c.metrics != nil {
		c.metrics.Queue.RecordMessage("processed")
	}
	c.logger.Info("queued prediction completed",
		"image_key", job.ImageKey,
		"prediction_uid", result.PredictionUID,
		"detections", result.DetectionCount,
		"chat_id", job.ChatID)
}

// sleep waits for d or until ctx is cancelled, reporting whether to keep
// running.
func (c *Consumer) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
