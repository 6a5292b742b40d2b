// Package downstream publishes booking transition events to the internal
// queue consumed by other services (analytics, CRM sync).
package downstream

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/builderlane/bookingsync/internal/events"
	"github.com/builderlane/bookingsync/pkg/logging"
)

// sqsAPI is the slice of the SQS client the publisher needs.
type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Publisher forwards outbox entries to an SQS queue. It implements
// events.DeliveryHandler so it can be driven by the outbox deliverer.
type Publisher struct {
	client   sqsAPI
	queueURL string
	logger   *logging.Logger
}

// NewPublisher creates an SQS publisher. Returns nil when the queue URL is
// empty so callers can leave downstream publishing unconfigured.
func NewPublisher(client *sqs.Client, queueURL string, logger *logging.Logger) *Publisher {
	if client == nil || queueURL == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{client: client, queueURL: queueURL, logger: logger}
}

// Handle sends the entry payload as a single SQS message. Message attributes
// carry the transition type and booking id so consumers can filter without
// decoding the body.
func (p *Publisher) Handle(ctx context.Context, entry events.OutboxEntry) error {
	if p == nil {
		return nil
	}

	_, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(entry.Payload)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"transition": {DataType: aws.String("String"), StringValue: aws.String(entry.Type)},
			"booking_id": {DataType: aws.String("String"), StringValue: aws.String(entry.BookingID.String())},
		},
	})
	if err != nil {
		return fmt.Errorf("downstream: failed to send SQS message: %w", err)
	}

	p.logger.Debug("transition published downstream", "entry_id", entry.ID, "transition", entry.Type)
	return nil
}

var _ events.DeliveryHandler = (*Publisher)(nil)
