package jwks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/boogy/permission-warden/pkg/types"
)

// maxKeySetSize bounds the response body read from the key set endpoint
const maxKeySetSize = 1024 * 1024

// Fetcher retrieves a key set from its endpoint
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*types.JWKS, error)
}

// HTTPFetcher fetches key sets over HTTP
type HTTPFetcher struct {
	Client *http.Client
}

// NewHTTPFetcher returns a fetcher whose requests are bounded by timeout
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{
		Client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Fetch performs GET url and decodes the JSON body into a key set.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (*types.JWKS, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build JWKS request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.Client.Do(req)
	if err != nil {
		slog.Error("Failed to fetch JWKS", "url", url, "error", err)
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Error("Failed to close JWKS response body", "error", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		slog.Error("Received non-200 status code when fetching JWKS", "url", url, "status", resp.StatusCode)
		return nil, fmt.Errorf("received non-200 status code when fetching JWKS: %d", resp.StatusCode)
	}

	var jwks types.JWKS
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxKeySetSize)).Decode(&jwks); err != nil {
		slog.Error("Failed to parse JWKS", "url", url, "error", err)
		return nil, fmt.Errorf("failed to parse JWKS: %w", err)
	}

	slog.Debug("Fetched JWKS", "url", url, "kids", jwks.KeyIDs())
	return &jwks, nil
}
