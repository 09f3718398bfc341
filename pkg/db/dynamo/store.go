package dynamo

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/truly-network/eventlistener/pkg/db"
)

// API is the subset of the DynamoDB client used by Store.
type API interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DeleteTable(ctx context.Context, params *dynamodb.DeleteTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteTableOutput, error)
	ListTables(ctx context.Context, params *dynamodb.ListTablesInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ListTablesOutput, error)
}

// Store is a db.Store backed by DynamoDB.
type Store struct {
	api      API
	hashKeys map[string]string
}

var _ db.Store = (*Store)(nil)

// NewStore wraps api. Tables listed in defs get create-only writes guarded by a
// condition on their hash key; writes to other tables are unconditional.
func NewStore(api API, defs ...db.TableDefinition) *Store {
	keys := make(map[string]string, len(defs))
	for _, d := range defs {
		keys[d.Name] = d.HashKey.Name
	}
	return &Store{api: api, hashKeys: keys}
}

// CreateItem issues a single PutItem.
func (s *Store) CreateItem(ctx context.Context, table string, item db.Item) error {
	av, err := attributevalue.MarshalMap(map[string]any(item))
	if err != nil {
		return fmt.Errorf("failed to marshal item for %s: %w", table, err)
	}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(table),
		Item:      av,
	}
	if hk, ok := s.hashKeys[table]; ok {
		input.ConditionExpression = aws.String("attribute_not_exists(#pk)")
		input.ExpressionAttributeNames = map[string]string{"#pk": hk}
	}

	if _, err := s.api.PutItem(ctx, input); err != nil {
		return mapError(table, err)
	}
	return nil
}

func (s *Store) TableExists(ctx context.Context, table string) (bool, error) {
	_, err := s.api.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)})
	if err == nil {
		return true, nil
	}
	var rnf *types.ResourceNotFoundException
	if errors.As(err, &rnf) {
		return false, nil
	}
	return false, fmt.Errorf("describe table %s: %w", table, err)
}

func (s *Store) CreateTable(ctx context.Context, def db.TableDefinition) error {
	input := &dynamodb.CreateTableInput{
		TableName:   aws.String(def.Name),
		BillingMode: types.BillingModePayPerRequest,
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(def.HashKey.Name), AttributeType: scalarType(def.HashKey.Type)},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(def.HashKey.Name), KeyType: types.KeyTypeHash},
		},
	}
	if def.RangeKey != nil {
		input.AttributeDefinitions = append(input.AttributeDefinitions, types.AttributeDefinition{
			AttributeName: aws.String(def.RangeKey.Name), AttributeType: scalarType(def.RangeKey.Type),
		})
		input.KeySchema = append(input.KeySchema, types.KeySchemaElement{
			AttributeName: aws.String(def.RangeKey.Name), KeyType: types.KeyTypeRange,
		})
	}
	for k, v := range def.Tags {
		input.Tags = append(input.Tags, types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}

	if _, err := s.api.CreateTable(ctx, input); err != nil {
		return fmt.Errorf("create table %s: %w", def.Name, err)
	}
	return nil
}

func (s *Store) DeleteTable(ctx context.Context, table string) error {
	if _, err := s.api.DeleteTable(ctx, &dynamodb.DeleteTableInput{TableName: aws.String(table)}); err != nil {
		return mapError(table, err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	_, err := s.api.ListTables(ctx, &dynamodb.ListTablesInput{Limit: aws.Int32(1)})
	return err
}

func mapError(table string, err error) error {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return fmt.Errorf("%w: %s: %w", db.ErrItemExists, table, err)
	}
	var rnf *types.ResourceNotFoundException
	if errors.As(err, &rnf) {
		return fmt.Errorf("%w: %s: %w", db.ErrTableNotFound, table, err)
	}
	return fmt.Errorf("%s: %w", table, err)
}

func scalarType(t db.AttributeType) types.ScalarAttributeType {
	if t == db.AttributeNumber {
		return types.ScalarAttributeTypeN
	}
	return types.ScalarAttributeTypeS
}
