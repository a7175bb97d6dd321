package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"maps"
	"net/http"
	"time"

	"github.com/boogy/permission-warden/pkg/types"
	"github.com/golang-jwt/jwt/v5"
)

// result is a transport-neutral HTTP response
type result struct {
	StatusCode int
	Headers    map[string]string
	Body       string
}

// newRequestContext attaches request metadata and the processing deadline to ctx
func newRequestContext(ctx context.Context, requestID, sourceIP, userAgent string) (context.Context, context.CancelFunc) {
	ctx = context.WithValue(ctx, RequestIDContextKey, requestID)
	ctx = context.WithValue(ctx, StartTimeContextKey, time.Now())
	ctx = context.WithValue(ctx, SourceIPContextKey, sourceIP)
	ctx = context.WithValue(ctx, UserAgentContextKey, userAgent)
	return context.WithTimeout(ctx, DefaultTimeout)
}

// successResult wraps the verified claims in the standard response
func successResult(ctx context.Context, claims jwt.MapClaims) result {
	return jsonResult(ctx, http.StatusOK, Response{
		Success: true,
		Data:    claims,
	})
}

// errorResult maps err to a status and error body. Authorization failures keep
// their own status, request problems become 400 and anything else a bare 500.
func errorResult(ctx context.Context, err error) result {
	status := http.StatusInternalServerError
	body := &types.ErrorBody{Code: "internal_error", Description: "Internal server error"}

	var authErr *types.AuthError
	switch {
	case errors.As(err, &authErr):
		status = authErr.Status()
		b := authErr.Body()
		body = &b
	case errors.Is(err, ErrInvalidJSON), errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrHeaderTooLarge):
		status = http.StatusBadRequest
		body = &types.ErrorBody{Code: "invalid_request", Description: err.Error()}
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
		body = &types.ErrorBody{Code: "timeout", Description: "Request processing timed out"}
	}

	return jsonResult(ctx, status, Response{
		Success: false,
		Error:   body,
	})
}

func jsonResult(ctx context.Context, status int, response Response) result {
	response.RequestID, _ = ctx.Value(RequestIDContextKey).(string)
	if startTime, ok := ctx.Value(StartTimeContextKey).(time.Time); ok {
		response.ProcessingMS = time.Since(startTime).Milliseconds()
	}

	headers := maps.Clone(ResponseHeaders)
	if response.RequestID != "" {
		headers["X-Request-ID"] = response.RequestID
	}

	body, err := json.Marshal(response)
	if err != nil {
		slog.Error("Failed to marshal response", slog.String("error", err.Error()))
		return result{
			StatusCode: http.StatusInternalServerError,
			Headers:    headers,
			Body:       `{"success":false,"error":{"code":"internal_error","description":"Internal server error"}}`,
		}
	}

	return result{StatusCode: status, Headers: headers, Body: string(body)}
}
