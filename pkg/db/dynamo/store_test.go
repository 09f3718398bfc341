package dynamo

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/truly-network/eventlistener/pkg/db"
)

type fakeAPI struct {
	mu        sync.Mutex
	puts      []*dynamodb.PutItemInput
	creates   []*dynamodb.CreateTableInput
	deletes   []string
	putErr    error
	descErr   error
	deleteErr error
	listErr   error
}

func (f *fakeAPI) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts = append(f.puts, in)
	if f.putErr != nil {
		return nil, f.putErr
	}
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeAPI) DescribeTable(_ context.Context, in *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	if f.descErr != nil {
		return nil, f.descErr
	}
	return &dynamodb.DescribeTableOutput{Table: &types.TableDescription{TableName: in.TableName}}, nil
}

func (f *fakeAPI) CreateTable(_ context.Context, in *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	f.creates = append(f.creates, in)
	return &dynamodb.CreateTableOutput{}, nil
}

func (f *fakeAPI) DeleteTable(_ context.Context, in *dynamodb.DeleteTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteTableOutput, error) {
	f.deletes = append(f.deletes, aws.ToString(in.TableName))
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	return &dynamodb.DeleteTableOutput{}, nil
}

func (f *fakeAPI) ListTables(context.Context, *dynamodb.ListTablesInput, ...func(*dynamodb.Options)) (*dynamodb.ListTablesOutput, error) {
	return &dynamodb.ListTablesOutput{}, f.listErr
}

var names = db.TableNames{EventsByToken: "byToken", EventsSystem: "system"}

func TestCreateItemIssuesConditionalPut(t *testing.T) {
	api := &fakeAPI{}
	s := NewStore(api, db.EventTables(names)...)

	err := s.CreateItem(context.Background(), "byToken", db.Item{
		db.AttrToken:     "42",
		db.AttrEventID:   int64(123456789),
		db.AttrEventName: "Transfer",
	})
	require.NoError(t, err)
	require.Len(t, api.puts, 1)

	in := api.puts[0]
	assert.Equal(t, "byToken", aws.ToString(in.TableName))
	assert.Equal(t, "attribute_not_exists(#pk)", aws.ToString(in.ConditionExpression))
	assert.Equal(t, map[string]string{"#pk": db.AttrToken}, in.ExpressionAttributeNames)

	token, ok := in.Item[db.AttrToken].(*types.AttributeValueMemberS)
	require.True(t, ok)
	assert.Equal(t, "42", token.Value)
	id, ok := in.Item[db.AttrEventID].(*types.AttributeValueMemberN)
	require.True(t, ok)
	assert.Equal(t, "123456789", id.Value)
}

func TestCreateItemUnknownTableIsUnconditional(t *testing.T) {
	api := &fakeAPI{}
	s := NewStore(api)

	require.NoError(t, s.CreateItem(context.Background(), "other", db.Item{"id": "x"}))
	require.Len(t, api.puts, 1)
	assert.Nil(t, api.puts[0].ConditionExpression)
}

func TestCreateItemErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
	}{
		{"conditional check", &types.ConditionalCheckFailedException{Message: aws.String("exists")}, db.ErrItemExists},
		{"missing table", &types.ResourceNotFoundException{Message: aws.String("nope")}, db.ErrTableNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{putErr: tt.err}
			s := NewStore(api, db.EventTables(names)...)

			err := s.CreateItem(context.Background(), "system", db.Item{db.AttrEventID: int64(1)})
			assert.ErrorIs(t, err, tt.target)
			assert.ErrorIs(t, err, tt.err)
			assert.Len(t, api.puts, 1, "exactly one request")
		})
	}

	t.Run("other errors are wrapped", func(t *testing.T) {
		boom := errors.New("throttled")
		s := NewStore(&fakeAPI{putErr: boom})
		err := s.CreateItem(context.Background(), "system", db.Item{db.AttrEventID: int64(1)})
		assert.ErrorIs(t, err, boom)
		assert.NotErrorIs(t, err, db.ErrItemExists)
	})
}

func TestTableExists(t *testing.T) {
	s := NewStore(&fakeAPI{})
	ok, err := s.TableExists(context.Background(), "system")
	require.NoError(t, err)
	assert.True(t, ok)

	s = NewStore(&fakeAPI{descErr: &types.ResourceNotFoundException{}})
	ok, err = s.TableExists(context.Background(), "system")
	require.NoError(t, err)
	assert.False(t, ok)

	s = NewStore(&fakeAPI{descErr: errors.New("network")})
	_, err = s.TableExists(context.Background(), "system")
	assert.Error(t, err)
}

func TestCreateTableBuildsSchema(t *testing.T) {
	api := &fakeAPI{}
	s := NewStore(api)

	for _, def := range db.EventTables(names) {
		require.NoError(t, s.CreateTable(context.Background(), def))
	}
	require.Len(t, api.creates, 2)

	byToken := api.creates[0]
	assert.Equal(t, types.BillingModePayPerRequest, byToken.BillingMode)
	require.Len(t, byToken.KeySchema, 2)
	assert.Equal(t, db.AttrToken, aws.ToString(byToken.KeySchema[0].AttributeName))
	assert.Equal(t, types.KeyTypeHash, byToken.KeySchema[0].KeyType)
	assert.Equal(t, db.AttrEventID, aws.ToString(byToken.KeySchema[1].AttributeName))
	assert.Equal(t, types.KeyTypeRange, byToken.KeySchema[1].KeyType)
	assert.Equal(t, types.ScalarAttributeTypeN, byToken.AttributeDefinitions[1].AttributeType)
	require.Len(t, byToken.Tags, 1)
	assert.Equal(t, "project", aws.ToString(byToken.Tags[0].Key))

	system := api.creates[1]
	require.Len(t, system.KeySchema, 1)
	assert.Equal(t, db.AttrEventID, aws.ToString(system.KeySchema[0].AttributeName))
}

func TestDeleteTable(t *testing.T) {
	api := &fakeAPI{}
	s := NewStore(api)
	require.NoError(t, s.DeleteTable(context.Background(), "system"))
	assert.Equal(t, []string{"system"}, api.deletes)

	api = &fakeAPI{deleteErr: &types.ResourceNotFoundException{}}
	s = NewStore(api)
	assert.ErrorIs(t, s.DeleteTable(context.Background(), "system"), db.ErrTableNotFound)
}

func TestPing(t *testing.T) {
	assert.NoError(t, NewStore(&fakeAPI{}).Ping(context.Background()))
	assert.Error(t, NewStore(&fakeAPI{listErr: errors.New("down")}).Ping(context.Background()))
}
