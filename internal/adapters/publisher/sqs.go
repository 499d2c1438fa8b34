// Package publisher sends finished sync results to an audit queue.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/eshaffer321/upbank-ynab-sync/internal/domain/model"
)

// MaxMessageBytes is the SQS message body limit
const MaxMessageBytes = 256 * 1024

// SQSAPI is the subset of the SQS client the publisher needs
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSPublisher publishes SyncResult JSON to an SQS queue
type SQSPublisher struct {
	Client   SQSAPI
	QueueURL string
}

// NewSQSPublisher creates a new SQSPublisher
func NewSQSPublisher(client SQSAPI, queueURL string) *SQSPublisher {
	return &SQSPublisher{
		Client:   client,
		QueueURL: queueURL,
	}
}

// Publish sends the result. Results too large for one message are sent
// with their per-transaction detail stripped; counts and errors are kept.
func (p *SQSPublisher) Publish(ctx context.Context, result *model.SyncResult) error {
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal sync result: %w", err)
	}

	truncated := false
	if len(body) > MaxMessageBytes {
		body, err = json.Marshal(withoutTransactions(result))
		if err != nil {
			return fmt.Errorf("failed to marshal sync result summary: %w", err)
		}
		truncated = true
	}

	_, err = p.Client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.QueueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"run_id":     stringAttr(result.RunID),
			"profile_id": stringAttr(result.ProfileID),
			"is_success": stringAttr(strconv.FormatBool(result.IsSuccess())),
			"truncated":  stringAttr(strconv.FormatBool(truncated)),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to send sync result to SQS: %w", err)
	}

	return nil
}

func stringAttr(v string) types.MessageAttributeValue {
	if v == "" {
		v = "-"
	}
	return types.MessageAttributeValue{
		DataType:    aws.String("String"),
		StringValue: aws.String(v),
	}
}

func withoutTransactions(result *model.SyncResult) *model.SyncResult {
	c := *result
	c.Accounts = make([]model.AccountSyncResult, len(result.Accounts))
	for i, acct := range result.Accounts {
		acct.Results = nil
		c.Accounts[i] = acct
	}
	return &c
}
