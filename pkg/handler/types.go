package handler

import (
	"errors"
	"time"

	"github.com/boogy/permission-warden/pkg/types"
)

// Constants for handler configuration
const (
	// DefaultTimeout is the maximum time to process a request
	DefaultTimeout = 10 * time.Second

	// MaxHeaderLength is the maximum allowed length for the Authorization header
	MaxHeaderLength = 16384 // 16KB

	// MaxPermissionLength is the maximum allowed length for a requested permission
	MaxPermissionLength = 256

	// MaxBodySize is the maximum accepted request body
	MaxBodySize = 64 * 1024
)

// Transport names recorded with each decision
const (
	SourceAPIGateway = "apigateway"
	SourceLambdaURL  = "lambdaurl"
	SourceALB        = "alb"
	SourceAuthorizer = "authorizer"
)

// Context key types to avoid string collision in context values
type contextKey string

const (
	RequestIDContextKey contextKey = "requestId"
	StartTimeContextKey contextKey = "startTime"
	SourceIPContextKey  contextKey = "sourceIp"
	UserAgentContextKey contextKey = "userAgent"
)

// Custom error types for more precise error reporting
var (
	ErrInvalidJSON    = errors.New("invalid JSON in request body")
	ErrInvalidRequest = errors.New("invalid request parameters")
	ErrHeaderTooLarge = errors.New("authorization header exceeds maximum allowed size")
)

var (
	// ResponseHeaders common headers to include in all API responses
	ResponseHeaders = map[string]string{
		"Content-Type": "application/json",
	}
)

// RequestData is the request format expected by the Lambda
type RequestData struct {
	Permission string `json:"permission" validate:"permission"` // Permission the bearer must hold, empty for any verified token
}

// Response represents a standardized API response
type Response struct {
	Success      bool   `json:"success"`
	RequestID    string `json:"requestId"`
	ProcessingMS int64  `json:"processingMs,omitempty"`

	// For successful responses
	Data any `json:"data,omitempty"`

	// For error responses
	Error *types.ErrorBody `json:"error,omitempty"`
}
