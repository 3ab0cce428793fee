package dynamolock

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// lockItem is the DynamoDB row shape for one (project, subscription)
// lock, keyed by a composite partition key.
type lockItem struct {
	PK         string `dynamodbav:"pk"`
	Owner      string `dynamodbav:"owner"`
	AcquiredAt int64  `dynamodbav:"acquired_at"`
	ExpiresAt  int64  `dynamodbav:"expires_at"`
}

func pk(projectID, subscriptionID string) string {
	return projectID + "#" + subscriptionID
}

// Store implements sublock.Backend against DynamoDB conditional writes.
type Store struct {
	client *Client
}

func NewStore(client *Client) *Store {
	return &Store{client: client}
}

// TryAcquire inserts the lock row if absent, or takes it over if the
// existing row is stale, in a single conditional PutItem.
func (s *Store) TryAcquire(ctx context.Context, projectID, subscriptionID, owner string, now, expiresAt int64, staleBefore int64) (bool, error) {
	item, err := attributevalue.MarshalMap(lockItem{
		PK:         pk(projectID, subscriptionID),
		Owner:      owner,
		AcquiredAt: now,
		ExpiresAt:  expiresAt,
	})
	if err != nil {
		return false, fmt.Errorf("marshal lock item: %w", err)
	}

	_, err = s.client.DB().PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.client.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(pk) OR expires_at < :stale"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":stale": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", staleBefore)},
		},
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Extend conditionally updates expiresAt only if owner still matches.
func (s *Store) Extend(ctx context.Context, projectID, subscriptionID, owner string, newExpiresAt int64) (bool, error) {
	_, err := s.client.DB().UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.client.tableName),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: pk(projectID, subscriptionID)},
		},
		UpdateExpression:         aws.String("SET expires_at = :newExp"),
		ConditionExpression:      aws.String("#owner = :owner"),
		ExpressionAttributeNames: map[string]string{"#owner": "owner"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":newExp": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", newExpiresAt)},
			":owner":  &types.AttributeValueMemberS{Value: owner},
		},
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Release deletes the row only if still owned.
func (s *Store) Release(ctx context.Context, projectID, subscriptionID, owner string) error {
	_, err := s.client.DB().DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.client.tableName),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: pk(projectID, subscriptionID)},
		},
		ConditionExpression:      aws.String("#owner = :owner"),
		ExpressionAttributeNames: map[string]string{"#owner": "owner"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberS{Value: owner},
		},
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return nil
		}
		return err
	}
	return nil
}
