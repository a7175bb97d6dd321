package aws

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// AwsServiceWrapperInterface allows to test AWS specific code based on the AWS services
type AwsServiceWrapperInterface interface {
	GetS3Object(bucket, key string) (io.ReadCloser, error)
	RefreshClients()
}

var (
	initOnce sync.Once
	wrapper  *AwsServiceWrapper
	initErr  error
)

// AwsServiceWrapper is the implementation of AwsServiceWrapperInterface
// it wraps the actual AWS service call but has no additional functionality implemented
type AwsServiceWrapper struct {
	mu       sync.RWMutex
	cfg      aws.Config
	s3Client *s3.Client

	maxS3ObjectSize int64         // Maximum allowed size for S3 objects
	defaultTimeout  time.Duration // Default timeout for AWS operations
}

// NewAwsServiceWrapper returns the process wide wrapper, loading the AWS config on first use.
func NewAwsServiceWrapper() (*AwsServiceWrapper, error) {
	initOnce.Do(func() {
		cfg, err := config.LoadDefaultConfig(context.TODO(),
			config.WithRetryMaxAttempts(3),
		)
		if err != nil {
			slog.Error("Failed to load AWS config", "error", err)
			initErr = fmt.Errorf("failed to load AWS config: %w", err)
			return
		}

		wrapper = &AwsServiceWrapper{
			cfg:             cfg,
			s3Client:        s3.NewFromConfig(cfg),
			maxS3ObjectSize: 1024 * 1024, // 1MB max size for config files
			defaultTimeout:  30 * time.Second,
		}
	})

	return wrapper, initErr
}

// RefreshClients recreates AWS service clients, useful for long-running Lambda environments
// where clients might need refreshing periodically
func (s *AwsServiceWrapper) RefreshClients() {
	slog.Info("Refreshing AWS clients")
	cfg, err := config.LoadDefaultConfig(context.TODO(),
		config.WithRetryMaxAttempts(3),
	)
	if err != nil {
		slog.Error("Failed to refresh AWS config, keeping existing clients", slog.String("error", err.Error()))
		return
	}

	s.mu.Lock()
	s.cfg = cfg
	s.s3Client = s3.NewFromConfig(cfg)
	s.mu.Unlock()

	slog.Info("AWS clients successfully refreshed")
}

func (s *AwsServiceWrapper) GetS3Object(bucket, key string) (io.ReadCloser, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.defaultTimeout)
	defer cancel()

	slog.Debug("Fetching S3 object",
		"bucket", bucket,
		"key", key,
	)

	s.mu.RLock()
	client := s.s3Client
	s.mu.RUnlock()

	result, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Range:  aws.String(fmt.Sprintf("bytes=0-%d", s.maxS3ObjectSize)),
	})
	if err != nil {
		slog.Error("Error fetching S3 object",
			slog.String("bucket", bucket),
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	if result.ContentLength != nil && *result.ContentLength > s.maxS3ObjectSize {
		slog.Warn("S3 object exceeds maximum allowed size",
			slog.Int64("size", *result.ContentLength),
			slog.Int64("maxAllowed", s.maxS3ObjectSize),
			slog.String("bucket", bucket),
			slog.String("key", key),
		)
	}

	return result.Body, nil
}
