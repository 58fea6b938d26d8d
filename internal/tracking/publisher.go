package tracking

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/ignite/engagement-tracker/internal/domain"
	"github.com/ignite/engagement-tracker/internal/pkg/metrics"
)

// SQSAPI is the subset of the SQS client used by the publisher and consumer.
type SQSAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Publisher sends captures to an SQS queue for a worker to record. Pair it
// with an AsyncDispatcher so publishing stays off the response path.
type Publisher struct {
	client   SQSAPI
	queueURL string
}

func NewPublisher(client SQSAPI, queueURL string) *Publisher {
	return &Publisher{client: client, queueURL: queueURL}
}

// Publish is a RunFunc. Failures are logged and counted.
func (p *Publisher) Publish(ctx context.Context, c domain.Capture) {
	body, err := json.Marshal(c)
	if err != nil {
		log.Error("marshal capture failed", "error", err)
		return
	}
	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		metrics.CapturesDroppedTotal.WithLabelValues("publish_error").Inc()
		log.Warn("publishing capture to SQS failed", "event_type", c.EventType, "error", err)
	}
}
