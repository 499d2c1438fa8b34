package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoDBAPI is the subset of the DynamoDB client the state store uses
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

const (
	dynamoKey        = "pk"
	dynamoRecordType = "record_type"
	recordTypeSynced = "synced"
	recordTypeFailed = "failed"
	syncedKeyPrefix  = "SYNCED#"
	failedKeyPrefix  = "FAILED#"
)

// DynamoStore implements StateStore on a single DynamoDB table keyed by
// "pk". Synced and failed records live side by side under different key
// prefixes.
type DynamoStore struct {
	Client    DynamoDBAPI
	TableName string
}

// Make sure we conform to the interface
var _ StateStore = (*DynamoStore)(nil)

// NewDynamoStore creates a new DynamoDB-backed state store
func NewDynamoStore(client DynamoDBAPI, tableName string) *DynamoStore {
	return &DynamoStore{
		Client:    client,
		TableName: tableName,
	}
}

func keyFor(prefix, token string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		dynamoKey: &types.AttributeValueMemberS{Value: prefix + token},
	}
}

// IsSynced checks for a synced item with a strongly consistent read
func (s *DynamoStore) IsSynced(ctx context.Context, token string) (bool, error) {
	out, err := s.Client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:            aws.String(s.TableName),
		Key:                  keyFor(syncedKeyPrefix, token),
		ConsistentRead:       aws.Bool(true),
		ProjectionExpression: aws.String(dynamoKey),
	})
	if err != nil {
		return false, fmt.Errorf("failed to get sync state from DynamoDB: %w", err)
	}
	return out.Item != nil, nil
}

// MarkSynced writes the record only if the token is not yet present
func (s *DynamoStore) MarkSynced(ctx context.Context, record *SyncRecord) error {
	copied := *record
	if copied.SyncedAt.IsZero() {
		copied.SyncedAt = time.Now().UTC()
	}

	item, err := attributevalue.MarshalMap(copied)
	if err != nil {
		return fmt.Errorf("failed to marshal sync record: %w", err)
	}
	item[dynamoKey] = &types.AttributeValueMemberS{Value: syncedKeyPrefix + record.ImportToken}
	item[dynamoRecordType] = &types.AttributeValueMemberS{Value: recordTypeSynced}

	_, err = s.Client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.TableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(pk)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return s.checkExisting(ctx, record)
		}
		return fmt.Errorf("failed to put sync record: %w", err)
	}

	_, err = s.Client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.TableName),
		Key:       keyFor(failedKeyPrefix, record.ImportToken),
	})
	if err != nil {
		return fmt.Errorf("failed to clear failure record: %w", err)
	}
	return nil
}

// checkExisting resolves a lost conditional put: same source transaction is
// a no-op, a different one is a token collision.
func (s *DynamoStore) checkExisting(ctx context.Context, record *SyncRecord) error {
	out, err := s.Client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.TableName),
		Key:            keyFor(syncedKeyPrefix, record.ImportToken),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("failed to read existing sync record: %w", err)
	}

	var existing SyncRecord
	if err := attributevalue.UnmarshalMap(out.Item, &existing); err != nil {
		return fmt.Errorf("failed to unmarshal existing sync record: %w", err)
	}
	if existing.SourceTransactionID != record.SourceTransactionID {
		return fmt.Errorf("token %s belongs to %s: %w", record.ImportToken, existing.SourceTransactionID, ErrAlreadySynced)
	}
	return nil
}

// RecordFailure upserts the failure item, adding to its attempt count
func (s *DynamoStore) RecordFailure(ctx context.Context, failure *FailureRecord) error {
	failedAt := failure.FailedAt
	if failedAt.IsZero() {
		failedAt = time.Now().UTC()
	}
	failedAtAV, err := attributevalue.Marshal(failedAt)
	if err != nil {
		return fmt.Errorf("failed to marshal failure time: %w", err)
	}

	_, err = s.Client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(s.TableName),
		Key:              keyFor(failedKeyPrefix, failure.ImportToken),
		UpdateExpression: aws.String("SET #rt = :rt, import_token = :token, source_transaction_id = :tx, source_account_id = :acct, error_type = :et, message = :msg, failed_at = :at ADD attempts :n"),
		ExpressionAttributeNames: map[string]string{
			"#rt": dynamoRecordType,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":rt":    &types.AttributeValueMemberS{Value: recordTypeFailed},
			":token": &types.AttributeValueMemberS{Value: failure.ImportToken},
			":tx":    &types.AttributeValueMemberS{Value: failure.SourceTransactionID},
			":acct":  &types.AttributeValueMemberS{Value: failure.SourceAccountID},
			":et":    &types.AttributeValueMemberS{Value: string(failure.ErrorType)},
			":msg":   &types.AttributeValueMemberS{Value: failure.Message},
			":at":    failedAtAV,
			":n":     &types.AttributeValueMemberN{Value: strconv.Itoa(failure.Attempts)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to record failure in DynamoDB: %w", err)
	}
	return nil
}

type healthItem struct {
	RecordType string    `dynamodbav:"record_type"`
	SyncedAt   time.Time `dynamodbav:"synced_at"`
}

// GetHealth scans the table and tallies synced and failed items
func (s *DynamoStore) GetHealth(ctx context.Context) (*Health, error) {
	health := &Health{}
	input := &dynamodb.ScanInput{
		TableName:                aws.String(s.TableName),
		ProjectionExpression:     aws.String("#rt, synced_at"),
		ExpressionAttributeNames: map[string]string{"#rt": dynamoRecordType},
	}

	for {
		out, err := s.Client.Scan(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync state: %w", err)
		}

		var items []healthItem
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
			return nil, fmt.Errorf("failed to unmarshal sync state: %w", err)
		}
		for _, item := range items {
			switch item.RecordType {
			case recordTypeSynced:
				health.TotalRecords++
				if !item.SyncedAt.IsZero() && (health.OldestRecord == nil || item.SyncedAt.Before(*health.OldestRecord)) {
					t := item.SyncedAt
					health.OldestRecord = &t
				}
			case recordTypeFailed:
				health.FailedTransactions++
			}
		}

		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}

	return health, nil
}
