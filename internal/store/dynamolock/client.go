// Package dynamolock implements the durable backend for SubscriptionLock
// using DynamoDB conditional writes, grounded on the teacher's
// internal/dynamodb/client.go (AWS SDK v2 client construction) and
// event_publisher.go (attributevalue marshaling conventions).
package dynamolock

import (
	"context"
	"fmt"

	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/flexprice/flexcore/internal/config"
)

// Client wraps the DynamoDB SDK client used for SubscriptionLock rows.
type Client struct {
	db        *dynamodb.Client
	tableName string
}

func NewClient(ctx context.Context, cfg *config.Configuration) (*Client, error) {
	if !cfg.DynamoDB.InUse {
		return nil, nil
	}

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, awsConfig.WithRegion(cfg.DynamoDB.Region))
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS SDK config: %w", err)
	}

	return &Client{
		db:        dynamodb.NewFromConfig(awsCfg),
		tableName: cfg.DynamoDB.LockTableName,
	}, nil
}

func (c *Client) DB() *dynamodb.Client { return c.db }
