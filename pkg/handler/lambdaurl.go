package handler

import (
	"context"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"
	"github.com/boogy/permission-warden/pkg/audit"
	"github.com/boogy/permission-warden/pkg/authz"
	"github.com/boogy/permission-warden/pkg/utils"
	"github.com/google/uuid"
)

// AwsLambdaUrl handles AWS Lambda URL requests
type AwsLambdaUrl struct {
	processor *RequestProcessor
}

// NewAwsLambdaUrl creates a new Lambda URL handler
func NewAwsLambdaUrl(authorizer *authz.Authorizer, recorder audit.Recorder) *AwsLambdaUrl {
	return &AwsLambdaUrl{
		processor: NewRequestProcessor(authorizer, recorder),
	}
}

// Handler is the Lambda function interface for Lambda URLs
func (h *AwsLambdaUrl) Handler(ctx context.Context, event events.LambdaFunctionURLRequest) (events.LambdaFunctionURLResponse, error) {
	requestID := event.RequestContext.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}

	ctx, cancel := newRequestContext(ctx, requestID, event.RequestContext.HTTP.SourceIP, event.RequestContext.HTTP.UserAgent)
	defer cancel()

	log := slog.With(
		slog.String("requestId", requestID),
		slog.String("rawPath", event.RawPath),
		slog.String("method", event.RequestContext.HTTP.Method),
		slog.String("sourceIp", event.RequestContext.HTTP.SourceIP),
	)

	body, err := decodeBody(event.Body, event.IsBase64Encoded)
	if err != nil {
		return h.respond(errorResult(ctx, err)), nil
	}

	requestData, err := ParseRequestBody(body)
	if err != nil {
		log.Warn("Invalid request body", slog.String("error", err.Error()))
		return h.respond(errorResult(ctx, err)), nil
	}

	// Function URLs lowercase header names
	claims, err := h.processor.ProcessRequest(ctx, utils.HeaderValue(event.Headers, "authorization"), requestData, SourceLambdaURL, log)
	if err != nil {
		return h.respond(errorResult(ctx, err)), nil
	}

	return h.respond(successResult(ctx, claims)), nil
}

func (h *AwsLambdaUrl) respond(r result) events.LambdaFunctionURLResponse {
	return events.LambdaFunctionURLResponse{
		StatusCode:      r.StatusCode,
		Headers:         r.Headers,
		Body:            r.Body,
		IsBase64Encoded: false,
	}
}
