package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/boogy/permission-warden/pkg/handler"
	"github.com/boogy/permission-warden/pkg/server"
	"github.com/boogy/permission-warden/pkg/utils"
	"github.com/joho/godotenv"
)

// Settings for the local server
type ServerSettings struct {
	Port            int
	ConfigPath      string
	EnvFile         string
	LogLevel        string
	SimulateLatency time.Duration
}

func main() {
	settings := parseCliFlags()

	// Environment from .env, never overriding variables already set
	if err := godotenv.Load(settings.EnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", settings.EnvFile, err)
		os.Exit(1)
	}
	if os.Getenv("LOG_LEVEL") == "" {
		_ = os.Setenv("LOG_LEVEL", settings.LogLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bootstrap, err := handler.NewBootstrap(ctx)
	if err != nil {
		slog.Error("Failed to initialize", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer bootstrap.Cleanup()

	router := server.NewRouter(server.Dependencies{
		APIGateway: handler.NewAwsApiGatewayFromBootstrap(bootstrap),
		Authorizer: bootstrap.Authorizer,
		Keys:       bootstrap.KeyStore,
		Latency:    settings.SimulateLatency,
	})

	addr := fmt.Sprintf(":%d", settings.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Handle graceful shutdown
	go func() {
		<-ctx.Done()

		slog.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", slog.String("error", err.Error()))
		}
	}()

	slog.Info("Starting local development server",
		slog.Int("port", settings.Port),
		slog.String("authorizeEndpoint", fmt.Sprintf("http://localhost:%d/authorize", settings.Port)),
		slog.String("healthEndpoint", fmt.Sprintf("http://localhost:%d/health", settings.Port)))

	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("Server stopped")
}

func parseCliFlags() ServerSettings {
	settings := ServerSettings{}

	flag.IntVar(&settings.Port, "port", 8080, "Port to listen on")
	flag.StringVar(&settings.ConfigPath, "config", "", "Path to config file")
	flag.StringVar(&settings.EnvFile, "env-file", ".env", "Path to a .env file")
	flag.StringVar(&settings.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.DurationVar(&settings.SimulateLatency, "latency", 0, "Simulate network latency (e.g., 100ms)")

	flag.Parse()

	if _, err := utils.ParseLogLevel(settings.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	}

	// Set config path as environment variable if provided
	if settings.ConfigPath != "" {
		if err := os.Setenv("CONFIG_PATH", settings.ConfigPath); err != nil {
			slog.Error("Error setting CONFIG_PATH environment variable", "error", err)
		}
	}

	return settings
}
