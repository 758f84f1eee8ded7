package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoStore implements RecordStore on a single DynamoDB table with a
// string partition key named "key". Conditional writes give the
// compare-and-swap contract natively.
type DynamoStore struct {
	client    *dynamodb.Client
	tableName string
}

// dynamoRecord represents the DynamoDB item structure
type dynamoRecord struct {
	Key     string `dynamodbav:"key"`
	Value   string `dynamodbav:"value"`
	Version int64  `dynamodbav:"version"`
}

func NewDynamoStore(client *dynamodb.Client, tableName string) *DynamoStore {
	return &DynamoStore{client: client, tableName: tableName}
}

func (ds *DynamoStore) Get(ctx context.Context, key string) (*Record, error) {
	result, err := ds.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(ds.tableName),
		Key: map[string]types.AttributeValue{
			"key": &types.AttributeValueMemberS{Value: key},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	if result.Item == nil {
		return nil, nil
	}

	var item dynamoRecord
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal item: %w", err)
	}
	return &Record{Key: item.Key, Value: json.RawMessage(item.Value), Version: item.Version}, nil
}

func (ds *DynamoStore) Put(ctx context.Context, key string, value any, expectedVersion int64) (int64, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return 0, err
	}

	item := dynamoRecord{
		Key:     key,
		Value:   string(data),
		Version: expectedVersion + 1,
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal item: %w", err)
	}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(ds.tableName),
		Item:      av,
	}
	// Conditional write prevents lost updates (optimistic locking)
	if expectedVersion == 0 {
		input.ConditionExpression = aws.String("attribute_not_exists(#k)")
		input.ExpressionAttributeNames = map[string]string{"#k": "key"}
	} else {
		input.ConditionExpression = aws.String("version = :ev")
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":ev": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", expectedVersion)},
		}
	}

	if _, err := ds.client.PutItem(ctx, input); err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return 0, ErrVersionConflict
		}
		return 0, fmt.Errorf("failed to put item: %w", err)
	}
	return expectedVersion + 1, nil
}

func (ds *DynamoStore) Delete(ctx context.Context, key string) error {
	_, err := ds.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(ds.tableName),
		Key: map[string]types.AttributeValue{
			"key": &types.AttributeValueMemberS{Value: key},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	return nil
}

func (ds *DynamoStore) List(ctx context.Context, prefix string) ([]Record, error) {
	var out []Record
	var startKey map[string]types.AttributeValue

	for {
		result, err := ds.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:        aws.String(ds.tableName),
			FilterExpression: aws.String("begins_with(#k, :p)"),
			ExpressionAttributeNames: map[string]string{
				"#k": "key",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":p": &types.AttributeValueMemberS{Value: prefix},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan items: %w", err)
		}

		for _, raw := range result.Items {
			var item dynamoRecord
			if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
				return nil, fmt.Errorf("failed to unmarshal item: %w", err)
			}
			out = append(out, Record{Key: item.Key, Value: json.RawMessage(item.Value), Version: item.Version})
		}

		if result.LastEvaluatedKey == nil {
			break
		}
		startKey = result.LastEvaluatedKey
	}
	return out, nil
}
