package notify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"activity-ledger/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

type sqsSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSNotifier sends each event's payload as one SQS message. On a FIFO queue
// messages are grouped by activity and deduplicated on the dedupe key.
type SQSNotifier struct {
	client   sqsSender
	queueURL string
	fifo     bool
}

func NewSQSNotifier(client *sqs.Client, queueURL string) *SQSNotifier {
	return newSQSNotifier(client, queueURL)
}

// NewSQSNotifierFromEnv builds the client from the default AWS credential
// chain.
func NewSQSNotifierFromEnv(ctx context.Context, region, queueURL string) (*SQSNotifier, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	return NewSQSNotifier(sqs.NewFromConfig(cfg), queueURL), nil
}

func newSQSNotifier(client sqsSender, queueURL string) *SQSNotifier {
	return &SQSNotifier{
		client:   client,
		queueURL: queueURL,
		fifo:     strings.HasSuffix(queueURL, ".fifo"),
	}
}

var _ Notifier = (*SQSNotifier)(nil)

func (n *SQSNotifier) Notify(ctx context.Context, event models.OutboxEvent) error {
	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(n.queueURL),
		MessageBody: aws.String(string(event.Payload)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"event_type": {DataType: aws.String("String"), StringValue: aws.String(string(event.Type))},
			"event_id":   {DataType: aws.String("String"), StringValue: aws.String(event.ID)},
			"dedupe_key": {DataType: aws.String("String"), StringValue: aws.String(event.DedupeKey)},
		},
	}
	if n.fifo {
		sum := sha256.Sum256([]byte(event.DedupeKey))
		input.MessageGroupId = aws.String(event.ActivityID)
		input.MessageDeduplicationId = aws.String(hex.EncodeToString(sum[:]))
	}

	if _, err := n.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("sending %s to SQS: %w", event.Type, err)
	}
	return nil
}
