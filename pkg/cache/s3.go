package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/boogy/permission-warden/pkg/types"
)

// s3API is the subset of the S3 client used by the cache
type s3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// s3Cache implements the Cache interface using an S3 bucket behind a local memory tier
type s3Cache struct {
	client     s3API
	bucketName string
	prefix     string
	local      *memoryCache
	defaultTTL time.Duration
	now        func() time.Time
}

// s3CacheItem wraps the key set with metadata for caching
type s3CacheItem struct {
	Value      *types.JWKS `json:"value"`
	Expiration time.Time   `json:"expiration"`
	CreatedAt  time.Time   `json:"created_at"`
}

type s3CacheOptions struct {
	maxLocalSize int
	defaultTTL   time.Duration
	awsConfig    aws.Config
	client       s3API
}

// S3CacheOption is a function that configures the S3 cache
type S3CacheOption func(*s3CacheOptions)

// WithMaxLocalSize sets the maximum size of the local memory cache
func WithMaxLocalSize(size int) S3CacheOption {
	return func(o *s3CacheOptions) {
		o.maxLocalSize = size
	}
}

// WithDefaultTTL sets the default TTL for cache items
func WithDefaultTTL(ttl time.Duration) S3CacheOption {
	return func(o *s3CacheOptions) {
		o.defaultTTL = ttl
	}
}

// WithAWSConfig sets a custom AWS configuration
func WithAWSConfig(cfg aws.Config) S3CacheOption {
	return func(o *s3CacheOptions) {
		o.awsConfig = cfg
	}
}

// WithS3Client injects a ready client, bypassing AWS config loading
func WithS3Client(client s3API) S3CacheOption {
	return func(o *s3CacheOptions) {
		o.client = client
	}
}

// NewS3Cache creates a new S3 cache for the given bucket and key prefix
func NewS3Cache(bucketName, prefix string, opts ...S3CacheOption) (Cache, error) {
	options := &s3CacheOptions{
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
				slog.Error("Failed to load AWS config", "error", err.Error())
				return nil, fmt.Errorf("failed to load AWS config: %w", err)
			}
		}
		client = s3.NewFromConfig(cfg)
	}

	return &s3Cache{
		client:     client,
		bucketName: bucketName,
		prefix:     prefix,
		local:      newMemoryCache(WithMemoryMaxSize(options.maxLocalSize), WithMemoryDefaultTTL(options.defaultTTL)),
		defaultTTL: options.defaultTTL,
		now:        time.Now,
	}, nil
}

// Get retrieves a key set from the local tier, then from S3
func (c *s3Cache) Get(key string) (*types.JWKS, bool) {
	if jwks, found := c.local.Get(key); found {
		return jwks, true
	}

	item, found := c.getFromS3(key)
	if !found {
		return nil, false
	}

	c.local.setUntil(key, item.Value, item.Expiration)
	return item.Value, true
}

func (c *s3Cache) getFromS3(key string) (*s3CacheItem, bool) {
	objectKey := c.formatKey(key)

	ctx, cancel := context.WithTimeout(context.Background(), Defaults.Timeout)
	defer cancel()

	resp, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucketName),
		Key:    aws.String(objectKey),
		Range:  aws.String(fmt.Sprintf("bytes=0-%d", Defaults.S3MaxObjectSize)),
	})
	if err != nil {
		var noSuchKey *s3types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			slog.Debug("Cache miss in S3", "key", key)
			return nil, false
		}

		slog.Error("Failed to get object from S3", "key", key, "error", err)
		return nil, false
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Error("Error closing S3 response body", "error", err)
		}
	}()

	if resp.ContentLength != nil && *resp.ContentLength > Defaults.MaxItemSize {
		slog.Warn("S3 cache item exceeds maximum allowed size",
			"key", key,
			"size", *resp.ContentLength,
			"maxAllowed", Defaults.MaxItemSize)
		return nil, false
	}

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, Defaults.MaxItemSize))
	if err != nil {
		slog.Error("Failed to read S3 object body", "key", key, "error", err)
		return nil, false
	}

	var item s3CacheItem
	if err := json.Unmarshal(bodyBytes, &item); err != nil {
		slog.Error("Failed to decode S3 cache item", "key", key, "error", err)
		return nil, false
	}

	if item.Value == nil || len(item.Value.Keys) == 0 {
		slog.Warn("S3 cache item holds an empty key set", "key", key)
		return nil, false
	}

	if c.now().After(item.Expiration) {
		slog.Debug("S3 cache entry expired", "key", key)
		go c.deleteObject(objectKey)
		return nil, false
	}

	slog.Debug("S3 cache hit", "key", key)
	return &item, true
}

// Set stores the key set locally and persists it to S3 in the background
func (c *s3Cache) Set(key string, value *types.JWKS, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	expiration := c.now().Add(ttl)
	c.local.setUntil(key, value, expiration)

	go c.storeInS3(key, value, expiration)
}

func (c *s3Cache) storeInS3(key string, value *types.JWKS, expiration time.Time) {
	objectKey := c.formatKey(key)

	item := s3CacheItem{
		Value:      value,
		Expiration: expiration,
		CreatedAt:  c.now(),
	}

	data, err := json.Marshal(item)
	if err != nil {
		slog.Error("Failed to marshal cache item", "key", key, "error", err)
		return
	}

	if int64(len(data)) > Defaults.S3MaxObjectSize {
		slog.Error("Cache item too large to store in S3",
			"key", key,
			"size", len(data),
			"maxAllowed", Defaults.S3MaxObjectSize)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), Defaults.Timeout)
	defer cancel()

	_, err = c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucketName),
		Key:         aws.String(objectKey),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"Expiration": item.Expiration.Format(time.RFC3339),
			"CreatedAt":  item.CreatedAt.Format(time.RFC3339),
			"Size":       fmt.Sprintf("%d", len(data)),
		},
	})
	if err != nil {
		slog.Error("Failed to put object in S3", "key", key, "error", err)
		return
	}

	slog.Debug("Cached value in S3", "key", key, "expiration", expiration, "size", len(data))
}

// formatKey maps a cache key (a URL) to a flat object key under the prefix
func (c *s3Cache) formatKey(key string) string {
	escaped := url.PathEscape(key)
	if c.prefix == "" {
		return escaped + ".json"
	}
	return fmt.Sprintf("%s/%s.json", c.prefix, escaped)
}

func (c *s3Cache) deleteObject(objectKey string) {
	ctx, cancel := context.WithTimeout(context.Background(), Defaults.Timeout)
	defer cancel()

	_, err := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucketName),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		slog.Error("Failed to delete expired object from S3", "key", objectKey, "error", err)
		return
	}
	slog.Debug("Deleted expired object from S3", "key", objectKey)
}
