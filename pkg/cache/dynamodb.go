package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/boogy/permission-warden/pkg/types"
)

// Attribute names of a cache item. "TTL" is meant to be the table's native TTL attribute.
const (
	attrKey        = "Key"
	attrValue      = "Value"
	attrExpiration = "Expiration"
	attrTTL        = "TTL"
	attrCreatedAt  = "CreatedAt"
)

// dynamoDBAPI is the subset of the DynamoDB client used by the cache
type dynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// dynamoDBCache implements the Cache interface using DynamoDB behind a local memory tier
type dynamoDBCache struct {
	client     dynamoDBAPI
	tableName  string
	local      *memoryCache
	defaultTTL time.Duration
	now        func() time.Time
}

type dynamoDBCacheOptions struct {
	maxLocalSize int
	defaultTTL   time.Duration
	awsConfig    aws.Config
	client       dynamoDBAPI
}

// DynamoDBCacheOption is a function that configures the DynamoDB cache
type DynamoDBCacheOption func(*dynamoDBCacheOptions)

// WithDynamoDBMaxLocalSize sets the maximum size of the local memory cache
func WithDynamoDBMaxLocalSize(size int) DynamoDBCacheOption {
	return func(o *dynamoDBCacheOptions) {
		o.maxLocalSize = size
	}
}

// WithDynamoDBDefaultTTL sets the default TTL for cache items
func WithDynamoDBDefaultTTL(ttl time.Duration) DynamoDBCacheOption {
	return func(o *dynamoDBCacheOptions) {
		o.defaultTTL = ttl
	}
}

// WithDynamoDBAWSConfig sets a custom AWS configuration
func WithDynamoDBAWSConfig(cfg aws.Config) DynamoDBCacheOption {
	return func(o *dynamoDBCacheOptions) {
		o.awsConfig = cfg
	}
}

// WithDynamoDBClient injects a ready client, bypassing AWS config loading
func WithDynamoDBClient(client dynamoDBAPI) DynamoDBCacheOption {
	return func(o *dynamoDBCacheOptions) {
		o.client = client
	}
}

// NewDynamoDBCache creates a new DynamoDB cache with the given table name
func NewDynamoDBCache(tableName string, opts ...DynamoDBCacheOption) (Cache, error) {
	options := &dynamoDBCacheOptions{
		maxLocalSize: Defaults.MaxLocalSize,
		defaultTTL:   Defaults.TTL,
	}
	for _, opt := range opts {
		opt(options)
	}

	client := options.client
	if client == nil {
		cfg := options.awsConfig
		if cfg.Credentials == nil {
			var err error
			cfg, err = config.LoadDefaultConfig(context.TODO(),
				config.WithRetryMaxAttempts(Defaults.MaxRetries),
			)
			if err != nil {
				slog.Error("Failed to load AWS config for DynamoDB cache", "error", err.Error())
				return nil, fmt.Errorf("failed to load AWS config: %w", err)
			}
		}
		client = dynamodb.NewFromConfig(cfg)
	}

	return &dynamoDBCache{
		client:     client,
		tableName:  tableName,
		local:      newMemoryCache(WithMemoryMaxSize(options.maxLocalSize), WithMemoryDefaultTTL(options.defaultTTL)),
		defaultTTL: options.defaultTTL,
		now:        time.Now,
	}, nil
}

// Get retrieves a key set from the local tier, then from DynamoDB
func (c *dynamoDBCache) Get(key string) (*types.JWKS, bool) {
	if jwks, found := c.local.Get(key); found {
		return jwks, true
	}

	jwks, expiration, found := c.getFromDynamoDB(key)
	if !found {
		return nil, false
	}

	c.local.setUntil(key, jwks, expiration)
	return jwks, true
}

func (c *dynamoDBCache) getFromDynamoDB(key string) (*types.JWKS, time.Time, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), Defaults.Timeout)
	defer cancel()

	result, err := c.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]ddbtypes.AttributeValue{
			attrKey: &ddbtypes.AttributeValueMemberS{Value: key},
		},
	})
	if err != nil {
		slog.Error("Failed to get item from DynamoDB",
			"key", key,
			"error", err.Error(),
			"table", c.tableName)
		return nil, time.Time{}, false
	}

	if result.Item == nil {
		slog.Debug("Cache miss in DynamoDB", "key", key)
		return nil, time.Time{}, false
	}

	valueStr, ok := result.Item[attrValue].(*ddbtypes.AttributeValueMemberS)
	if !ok {
		slog.Error("Invalid item format in DynamoDB - missing or non-string Value attribute", "key", key)
		return nil, time.Time{}, false
	}

	if len(valueStr.Value) > int(Defaults.MaxItemSize) {
		slog.Warn("DynamoDB cache item exceeds maximum allowed size",
			"key", key,
			"size", len(valueStr.Value),
			"maxAllowed", Defaults.MaxItemSize)
		return nil, time.Time{}, false
	}

	// Native TTL deletion is lazy, so expiry is checked here too
	var expiration time.Time
	if expirationStr, ok := result.Item[attrExpiration].(*ddbtypes.AttributeValueMemberS); ok {
		expiration, err = time.Parse(time.RFC3339, expirationStr.Value)
		if err == nil && c.now().After(expiration) {
			slog.Debug("DynamoDB cache entry expired", "key", key)
			return nil, time.Time{}, false
		}
	}

	var jwks types.JWKS
	if err := json.Unmarshal([]byte(valueStr.Value), &jwks); err != nil {
		slog.Error("Failed to unmarshal JWKS from DynamoDB",
			"key", key,
			"error", err.Error())
		return nil, time.Time{}, false
	}

	slog.Debug("DynamoDB cache hit", "key", key)
	return &jwks, expiration, true
}

// Set stores the key set locally and persists it to DynamoDB in the background
func (c *dynamoDBCache) Set(key string, value *types.JWKS, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	expiration := c.now().Add(ttl)
	c.local.setUntil(key, value, expiration)

	go c.storeInDynamoDB(key, value, expiration)
}

func (c *dynamoDBCache) storeInDynamoDB(key string, value *types.JWKS, expiration time.Time) {
	valueJSON, err := json.Marshal(value)
	if err != nil {
		slog.Error("Failed to marshal JWKS", "key", key, "error", err.Error())
		return
	}

	if len(valueJSON) > int(Defaults.DynamoDBMaxItemSize) {
		slog.Error("Cache item too large to store in DynamoDB",
			"key", key,
			"size", len(valueJSON),
			"maxAllowed", Defaults.DynamoDBMaxItemSize)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), Defaults.Timeout)
	defer cancel()

	_, err = c.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item: map[string]ddbtypes.AttributeValue{
			attrKey:        &ddbtypes.AttributeValueMemberS{Value: key},
			attrValue:      &ddbtypes.AttributeValueMemberS{Value: string(valueJSON)},
			attrExpiration: &ddbtypes.AttributeValueMemberS{Value: expiration.Format(time.RFC3339)},
			attrTTL:        &ddbtypes.AttributeValueMemberN{Value: strconv.FormatInt(expiration.Unix(), 10)},
			attrCreatedAt:  &ddbtypes.AttributeValueMemberS{Value: c.now().Format(time.RFC3339)},
		},
	})
	if err != nil {
		slog.Error("Failed to set item in DynamoDB",
			"key", key,
			"error", err.Error(),
			"table", c.tableName)
		return
	}

	slog.Debug("Cached value in DynamoDB", "key", key, "expiration", expiration, "size", len(valueJSON))
}
