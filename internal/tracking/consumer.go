package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/ignite/engagement-tracker/internal/domain"
	"github.com/ignite/engagement-tracker/internal/service/engagement"
)

// Applier records one capture and reports failure.
type Applier interface {
	Apply(ctx context.Context, c domain.Capture) error
}

// Consumer drains the tracking queue into the recorder. A message is
// deleted once recorded, or when it can never succeed (bad body, unknown
// token, invalid type). Datastore failures leave it for redelivery; the
// capture id makes the retry safe.
type Consumer struct {
	client    SQSAPI
	queueURL  string
	applier   Applier
	retryWait time.Duration
}

func NewConsumer(client SQSAPI, queueURL string, applier Applier) *Consumer {
	return &Consumer{
		client:    client,
		queueURL:  queueURL,
		applier:   applier,
		retryWait: 5 * time.Second,
	}
}

// Run polls until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) {
	log.Info("SQS tracking consumer started", "queue", c.queueURL)
	defer log.Info("SQS tracking consumer stopped")

	for ctx.Err() == nil {
		out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(c.queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     20,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("SQS receive error", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.retryWait):
			}
			continue
		}
		c.handleBatch(ctx, out.Messages)
	}
}

func (c *Consumer) handleBatch(ctx context.Context, msgs []sqstypes.Message) {
	for _, msg := range msgs {
		if c.handle(ctx, aws.ToString(msg.Body)) {
			c.deleteMessage(ctx, msg.ReceiptHandle)
		}
	}
}

// handle reports whether the message is finished with.
func (c *Consumer) handle(ctx context.Context, body string) bool {
	var capture domain.Capture
	if err := json.Unmarshal([]byte(body), &capture); err != nil {
		log.Warn("SQS bad message", "error", err)
		return true
	}

	err := c.applier.Apply(ctx, capture)
	switch {
	case err == nil:
		return true
	case errors.Is(err, engagement.ErrTokenNotFound), errors.Is(err, engagement.ErrInvalidEventType):
		log.Debug("dropping unrecordable capture", "event_type", capture.EventType, "error", err)
		return true
	default:
		log.Warn("SQS process error", "event_type", capture.EventType, "error", err)
		return false
	}
}

func (c *Consumer) deleteMessage(ctx context.Context, handle *string) {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: handle,
	})
	if err != nil {
		log.Warn("SQS delete failed", "error", err)
	}
}
