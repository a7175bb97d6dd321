package handler

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/boogy/permission-warden/pkg/audit"
	"github.com/boogy/permission-warden/pkg/authz"
	"github.com/boogy/permission-warden/pkg/aws"
	"github.com/boogy/permission-warden/pkg/cache"
	"github.com/boogy/permission-warden/pkg/config"
	"github.com/boogy/permission-warden/pkg/jwks"
	"github.com/boogy/permission-warden/pkg/utils"
	"github.com/boogy/permission-warden/pkg/validator"
	"github.com/boogy/permission-warden/pkg/version"
)

// Bootstrap contains all the initialized components needed by handlers
type Bootstrap struct {
	Config     *config.Config
	Cache      cache.Cache
	KeyStore   *jwks.KeyStore
	Validator  *validator.TokenValidator
	Authorizer *authz.Authorizer
	Recorder   audit.Recorder
	Logger     *slog.Logger
}

// NewBootstrap initializes all common components needed by Lambda handlers
func NewBootstrap(ctx context.Context) (*Bootstrap, error) {
	versionInfo := version.Get()

	logger := initializeLogger()

	logger.Info(
		fmt.Sprintf("Starting %s", versionInfo.BinName),
		slog.String("version", versionInfo.Version),
		slog.String("commit", versionInfo.Commit),
		slog.String("date", versionInfo.Date),
	)

	cfg, err := config.NewConfig()
	if err != nil {
		logger.Error("Failed to load configuration", slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	// Overlay configuration stored in S3, if provided
	if cfg.S3ConfigBucket != "" && cfg.S3ConfigPath != "" {
		consumer, err := aws.NewAwsConsumer(cfg)
		if err != nil {
			logger.Error("Failed to initialize AWS consumer", slog.String("error", err.Error()))
			return nil, fmt.Errorf("failed to initialize AWS consumer: %w", err)
		}
		if err := consumer.ReadS3Configuration(); err != nil {
			logger.Error("Failed to read S3 configuration", slog.String("error", err.Error()))
			return nil, fmt.Errorf("failed to read S3 configuration: %w", err)
		}
	}

	b, err := NewBootstrapFromConfig(ctx, cfg, jwks.NewHTTPFetcher(cfg.JWKSTimeout))
	if err != nil {
		return nil, err
	}
	b.Logger = logger
	return b, nil
}

// NewBootstrapFromConfig wires the key store, validator, authorizer and audit
// recorder for an already validated configuration. The key set is loaded
// before returning so the first request does not pay for the fetch.
func NewBootstrapFromConfig(ctx context.Context, cfg *config.Config, fetcher jwks.Fetcher, recorderOpts ...audit.Option) (*Bootstrap, error) {
	jwksCache, err := cache.NewCache(cfg)
	if err != nil {
		slog.Error("Failed to initialize cache", slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}

	keyStore := jwks.NewKeyStore(fetcher, jwksCache, cfg.JWKSURL, cache.GetConfiguredTTL(cfg))
	if err := keyStore.Load(ctx); err != nil {
		slog.Error("Failed to load key set",
			slog.String("url", cfg.JWKSURL),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to load key set: %w", err)
	}

	tokenValidator := validator.NewTokenValidator(cfg, keyStore)

	recorder, err := audit.NewRecorder(cfg, recorderOpts...)
	if err != nil {
		slog.Error("Failed to initialize audit recorder", slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to initialize audit recorder: %w", err)
	}

	return &Bootstrap{
		Config:     cfg,
		Cache:      jwksCache,
		KeyStore:   keyStore,
		Validator:  tokenValidator,
		Authorizer: authz.NewAuthorizer(tokenValidator),
		Recorder:   recorder,
		Logger:     slog.Default(),
	}, nil
}

// Cleanup handles cleanup operations for the bootstrap components
func (b *Bootstrap) Cleanup() {
	if b.Recorder == nil {
		return
	}
	if err := b.Recorder.Close(); err != nil {
		b.Logger.Error("Failed to flush audit decisions", slog.String("error", err.Error()))
	}
}

// initializeLogger sets up the global logger with proper configuration
func initializeLogger() *slog.Logger {
	var programLevel = new(slog.LevelVar) // Default to Info
	programLevel.Set(slog.LevelInfo)

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel != "" {
		if level, err := utils.ParseLogLevel(logLevel); err == nil {
			programLevel.Set(level)
		} else {
			slog.Info("Invalid LOG_LEVEL, defaulting to Info", slog.String("level", logLevel), slog.String("error", err.Error()))
		}
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: programLevel,
	}))
	slog.SetDefault(logger)

	return logger
}

// NewAwsApiGatewayFromBootstrap creates a new API Gateway handler using bootstrap
func NewAwsApiGatewayFromBootstrap(bootstrap *Bootstrap) *AwsApiGateway {
	return NewAwsApiGateway(bootstrap.Authorizer, bootstrap.Recorder)
}

// NewAwsLambdaUrlFromBootstrap creates a new Lambda URL handler using bootstrap
func NewAwsLambdaUrlFromBootstrap(bootstrap *Bootstrap) *AwsLambdaUrl {
	return NewAwsLambdaUrl(bootstrap.Authorizer, bootstrap.Recorder)
}

// NewAwsApplicationLoadBalancerFromBootstrap creates a new ALB handler using bootstrap
func NewAwsApplicationLoadBalancerFromBootstrap(bootstrap *Bootstrap) *AwsApplicationLoadBalancer {
	return NewAwsApplicationLoadBalancer(bootstrap.Authorizer, bootstrap.Recorder)
}

// NewAwsRequestAuthorizerFromBootstrap creates a new REQUEST authorizer using bootstrap
func NewAwsRequestAuthorizerFromBootstrap(bootstrap *Bootstrap) *AwsRequestAuthorizer {
	return NewAwsRequestAuthorizer(bootstrap.Config, bootstrap.Authorizer, bootstrap.Recorder)
}
