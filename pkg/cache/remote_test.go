package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const jwksURL = "https://tenant.auth0.com/.well-known/jwks.json"

// MockS3Client is a mock implementation of the s3API interface
type MockS3Client struct {
	mock.Mock
}

func (m *MockS3Client) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	args := m.Called(params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*s3.GetObjectOutput), args.Error(1)
}

func (m *MockS3Client) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	args := m.Called(params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*s3.PutObjectOutput), args.Error(1)
}

func (m *MockS3Client) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	args := m.Called(params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*s3.DeleteObjectOutput), args.Error(1)
}

// MockDynamoDBClient is a mock implementation of the dynamoDBAPI interface
type MockDynamoDBClient struct {
	mock.Mock
}

func (m *MockDynamoDBClient) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	args := m.Called(params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dynamodb.GetItemOutput), args.Error(1)
}

func (m *MockDynamoDBClient) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	args := m.Called(params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dynamodb.PutItemOutput), args.Error(1)
}

// MockRedisClient is a mock implementation of the redisAPI interface
type MockRedisClient struct {
	mock.Mock
}

func (m *MockRedisClient) Get(ctx context.Context, key string) *redis.StringCmd {
	args := m.Called(key)
	return args.Get(0).(*redis.StringCmd)
}

func (m *MockRedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	args := m.Called(key, value, expiration)
	return args.Get(0).(*redis.StatusCmd)
}

func waitFor(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for background write")
	}
}

func s3Body(t *testing.T, item s3CacheItem) io.ReadCloser {
	data, err := json.Marshal(item)
	require.NoError(t, err)
	return io.NopCloser(bytes.NewReader(data))
}

func TestS3Cache_FormatKey(t *testing.T) {
	c := &s3Cache{prefix: "jwks"}
	assert.Equal(t, "jwks/https:%2F%2Ftenant.auth0.com%2F.well-known%2Fjwks.json.json", c.formatKey(jwksURL))

	c.prefix = ""
	assert.Equal(t, "plain.json", c.formatKey("plain"))
}

func TestS3Cache_SetPersistsInBackground(t *testing.T) {
	client := new(MockS3Client)
	done := make(chan struct{})

	client.On("PutObject", mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		return *in.Bucket == "cache-bucket" && *in.ContentType == "application/json"
	})).Return(&s3.PutObjectOutput{}, nil).Run(func(args mock.Arguments) {
		in := args.Get(0).(*s3.PutObjectInput)
		var item s3CacheItem
		assert.NoError(t, json.NewDecoder(in.Body).Decode(&item))
		assert.Equal(t, "k1", item.Value.Keys[0].KeyID)
		close(done)
	}).Once()

	c, err := NewS3Cache("cache-bucket", "jwks", WithS3Client(client))
	require.NoError(t, err)

	c.Set(jwksURL, testJWKS("k1"), time.Minute)
	waitFor(t, done)

	// served from the local tier, no GetObject expected
	got, found := c.Get(jwksURL)
	assert.True(t, found)
	assert.Equal(t, "k1", got.Keys[0].KeyID)

	client.AssertExpectations(t)
}

func TestS3Cache_GetFromBucket(t *testing.T) {
	client := new(MockS3Client)
	item := s3CacheItem{
		Value:      testJWKS("remote"),
		Expiration: time.Now().Add(time.Hour),
		CreatedAt:  time.Now(),
	}
	client.On("GetObject", mock.Anything).Return(&s3.GetObjectOutput{
		Body:          s3Body(t, item),
		ContentLength: aws.Int64(100),
	}, nil).Once()

	c, err := NewS3Cache("cache-bucket", "jwks", WithS3Client(client))
	require.NoError(t, err)

	got, found := c.Get(jwksURL)
	require.True(t, found)
	assert.Equal(t, "remote", got.Keys[0].KeyID)

	// second read hits the local tier
	_, found = c.Get(jwksURL)
	assert.True(t, found)
	client.AssertNumberOfCalls(t, "GetObject", 1)
}

func TestS3Cache_Miss(t *testing.T) {
	client := new(MockS3Client)
	client.On("GetObject", mock.Anything).Return(nil, &s3types.NoSuchKey{}).Once()

	c, err := NewS3Cache("cache-bucket", "jwks", WithS3Client(client))
	require.NoError(t, err)

	_, found := c.Get(jwksURL)
	assert.False(t, found)
	client.AssertExpectations(t)
}

func TestS3Cache_ExpiredObjectIsDeleted(t *testing.T) {
	client := new(MockS3Client)
	done := make(chan struct{})
	item := s3CacheItem{
		Value:      testJWKS("stale"),
		Expiration: time.Now().Add(-time.Minute),
		CreatedAt:  time.Now().Add(-time.Hour),
	}
	client.On("GetObject", mock.Anything).Return(&s3.GetObjectOutput{Body: s3Body(t, item)}, nil).Once()
	client.On("DeleteObject", mock.Anything).Return(&s3.DeleteObjectOutput{}, nil).Run(func(mock.Arguments) {
		close(done)
	}).Once()

	c, err := NewS3Cache("cache-bucket", "jwks", WithS3Client(client))
	require.NoError(t, err)

	_, found := c.Get(jwksURL)
	assert.False(t, found)
	waitFor(t, done)
	client.AssertExpectations(t)
}

func TestS3Cache_OversizedObject(t *testing.T) {
	client := new(MockS3Client)
	client.On("GetObject", mock.Anything).Return(&s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(nil)),
		ContentLength: aws.Int64(Defaults.MaxItemSize + 1),
	}, nil).Once()

	c, err := NewS3Cache("cache-bucket", "jwks", WithS3Client(client))
	require.NoError(t, err)

	_, found := c.Get(jwksURL)
	assert.False(t, found)
}

func TestDynamoDBCache_GetFromTable(t *testing.T) {
	client := new(MockDynamoDBClient)
	value, err := json.Marshal(testJWKS("ddb"))
	require.NoError(t, err)

	client.On("GetItem", mock.MatchedBy(func(in *dynamodb.GetItemInput) bool {
		key, ok := in.Key[attrKey].(*ddbtypes.AttributeValueMemberS)
		return *in.TableName == "jwks-cache" && ok && key.Value == jwksURL
	})).Return(&dynamodb.GetItemOutput{
		Item: map[string]ddbtypes.AttributeValue{
			attrKey:        &ddbtypes.AttributeValueMemberS{Value: jwksURL},
			attrValue:      &ddbtypes.AttributeValueMemberS{Value: string(value)},
			attrExpiration: &ddbtypes.AttributeValueMemberS{Value: time.Now().Add(time.Hour).Format(time.RFC3339)},
		},
	}, nil).Once()

	c, err := NewDynamoDBCache("jwks-cache", WithDynamoDBClient(client))
	require.NoError(t, err)

	got, found := c.Get(jwksURL)
	require.True(t, found)
	assert.Equal(t, "ddb", got.Keys[0].KeyID)

	_, found = c.Get(jwksURL)
	assert.True(t, found)
	client.AssertNumberOfCalls(t, "GetItem", 1)
}

func TestDynamoDBCache_MissAndErrors(t *testing.T) {
	tests := []struct {
		name   string
		output *dynamodb.GetItemOutput
		err    error
	}{
		{name: "no item", output: &dynamodb.GetItemOutput{}},
		{name: "service error", err: errors.New("throttled")},
		{
			name: "expired item",
			output: &dynamodb.GetItemOutput{Item: map[string]ddbtypes.AttributeValue{
				attrValue:      &ddbtypes.AttributeValueMemberS{Value: `{"keys":[{"kid":"x"}]}`},
				attrExpiration: &ddbtypes.AttributeValueMemberS{Value: time.Now().Add(-time.Minute).Format(time.RFC3339)},
			}},
		},
		{
			name: "value is not a string",
			output: &dynamodb.GetItemOutput{Item: map[string]ddbtypes.AttributeValue{
				attrValue: &ddbtypes.AttributeValueMemberN{Value: "1"},
			}},
		},
		{
			name: "value is not json",
			output: &dynamodb.GetItemOutput{Item: map[string]ddbtypes.AttributeValue{
				attrValue: &ddbtypes.AttributeValueMemberS{Value: "{"},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := new(MockDynamoDBClient)
			if tt.err != nil {
				client.On("GetItem", mock.Anything).Return(nil, tt.err).Once()
			} else {
				client.On("GetItem", mock.Anything).Return(tt.output, nil).Once()
			}

			c, err := NewDynamoDBCache("jwks-cache", WithDynamoDBClient(client))
			require.NoError(t, err)

			_, found := c.Get(jwksURL)
			assert.False(t, found)
			client.AssertExpectations(t)
		})
	}
}

func TestDynamoDBCache_SetPersistsInBackground(t *testing.T) {
	client := new(MockDynamoDBClient)
	done := make(chan struct{})

	client.On("PutItem", mock.MatchedBy(func(in *dynamodb.PutItemInput) bool {
		_, hasTTL := in.Item[attrTTL].(*ddbtypes.AttributeValueMemberN)
		key, ok := in.Item[attrKey].(*ddbtypes.AttributeValueMemberS)
		return *in.TableName == "jwks-cache" && hasTTL && ok && key.Value == jwksURL
	})).Return(&dynamodb.PutItemOutput{}, nil).Run(func(mock.Arguments) {
		close(done)
	}).Once()

	c, err := NewDynamoDBCache("jwks-cache", WithDynamoDBClient(client))
	require.NoError(t, err)

	c.Set(jwksURL, testJWKS("k1"), time.Minute)
	waitFor(t, done)

	_, found := c.Get(jwksURL)
	assert.True(t, found)
	client.AssertExpectations(t)
}

func TestRedisCache_SetAndGet(t *testing.T) {
	client := new(MockRedisClient)
	client.On("Set", redisKeyPrefix+jwksURL, mock.Anything, time.Minute).
		Return(redis.NewStatusResult("OK", nil)).Once()

	c, err := NewRedisCache("", WithRedisClient(client))
	require.NoError(t, err)

	c.Set(jwksURL, testJWKS("k1"), time.Minute)

	got, found := c.Get(jwksURL)
	require.True(t, found)
	assert.Equal(t, "k1", got.Keys[0].KeyID)
	client.AssertExpectations(t)
	client.AssertNotCalled(t, "Get", mock.Anything)
}

func TestRedisCache_GetFromServer(t *testing.T) {
	client := new(MockRedisClient)
	value, err := json.Marshal(testJWKS("shared"))
	require.NoError(t, err)
	client.On("Get", redisKeyPrefix+jwksURL).Return(redis.NewStringResult(string(value), nil)).Once()

	c, err := NewRedisCache("", WithRedisClient(client))
	require.NoError(t, err)

	got, found := c.Get(jwksURL)
	require.True(t, found)
	assert.Equal(t, "shared", got.Keys[0].KeyID)

	_, found = c.Get(jwksURL)
	assert.True(t, found)
	client.AssertNumberOfCalls(t, "Get", 1)
}

func TestRedisCache_Miss(t *testing.T) {
	client := new(MockRedisClient)
	client.On("Get", mock.Anything).Return(redis.NewStringResult("", redis.Nil)).Once()
	client.On("Get", mock.Anything).Return(redis.NewStringResult("", errors.New("connection refused"))).Once()
	client.On("Get", mock.Anything).Return(redis.NewStringResult("not json", nil)).Once()

	c, err := NewRedisCache("", WithRedisClient(client))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, found := c.Get(jwksURL)
		assert.False(t, found)
	}
	client.AssertExpectations(t)
}

func TestNewRedisCache_RequiresAddr(t *testing.T) {
	c, err := NewRedisCache("")
	assert.Error(t, err)
	assert.Nil(t, c)
}
