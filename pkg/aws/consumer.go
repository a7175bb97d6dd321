package aws

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	pwcfg "github.com/boogy/permission-warden/pkg/config"
)

// AwsConsumerInterface encapsulates all actions performs with the AWS services
type AwsConsumerInterface interface {
	ReadS3Configuration() error
	GetS3Object(bucket, key string) (io.ReadCloser, error)
}

// AwsConsumer is the implementation of AwsConsumerInterface
type AwsConsumer struct {
	AWS    AwsServiceWrapperInterface
	Config *pwcfg.Config
}

// NewAwsConsumer creates a new AwsConsumer
func NewAwsConsumer(cfg *pwcfg.Config) (*AwsConsumer, error) {
	w, err := NewAwsServiceWrapper()
	if err != nil {
		return nil, err
	}

	return &AwsConsumer{
		AWS:    w,
		Config: cfg,
	}, nil
}

// ReadS3Configuration decodes the JSON object at S3ConfigBucket/S3ConfigPath over
// the loaded configuration and validates the result.
func (a *AwsConsumer) ReadS3Configuration() error {
	if a.Config.S3ConfigBucket == "" || a.Config.S3ConfigPath == "" {
		return errors.New("S3ConfigBucket and S3ConfigPath options must be set")
	}

	content, err := a.AWS.GetS3Object(a.Config.S3ConfigBucket, a.Config.S3ConfigPath)
	if err != nil {
		// Credentials may have expired in a long-lived container; retry once on fresh clients
		slog.Warn("Failed to read S3 configuration, refreshing clients", slog.String("error", err.Error()))
		a.AWS.RefreshClients()
		content, err = a.AWS.GetS3Object(a.Config.S3ConfigBucket, a.Config.S3ConfigPath)
	}
	if err != nil {
		return fmt.Errorf("failed to get S3 configuration object: %w", err)
	}
	defer func() {
		if cerr := content.Close(); cerr != nil {
			slog.Error("Error closing S3 configuration object", "error", cerr)
		}
	}()

	// Decoding reuses slice elements in place, so routes must start empty or
	// fields omitted by the overlay (such as public) would leak from the old entry.
	routes := a.Config.RoutePermissions
	a.Config.RoutePermissions = nil

	decoder := json.NewDecoder(content)
	if err := decoder.Decode(a.Config); err != nil {
		a.Config.RoutePermissions = routes
		return fmt.Errorf("unable to decode configuration from S3: %w", err)
	}
	if len(a.Config.RoutePermissions) == 0 {
		a.Config.RoutePermissions = routes
	}

	if err := a.Config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration from S3: %w", err)
	}

	slog.Debug("Successfully imported config",
		slog.String("issuer", a.Config.Issuer),
		slog.String("audience", a.Config.Audience),
		slog.Int("routes", len(a.Config.RoutePermissions)))
	return nil
}

// GetS3Object retrieves an object from S3
func (a *AwsConsumer) GetS3Object(bucket, key string) (io.ReadCloser, error) {
	if bucket == "" {
		return nil, errors.New("bucket name cannot be empty")
	}

	if key == "" {
		return nil, errors.New("object key cannot be empty")
	}

	return a.AWS.GetS3Object(bucket, key)
}
