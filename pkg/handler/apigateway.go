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

// AwsApiGateway handles AWS API Gateway proxy integration requests
type AwsApiGateway struct {
	processor *RequestProcessor
}

// NewAwsApiGateway creates a new API Gateway handler
func NewAwsApiGateway(authorizer *authz.Authorizer, recorder audit.Recorder) *AwsApiGateway {
	return &AwsApiGateway{
		processor: NewRequestProcessor(authorizer, recorder),
	}
}

// Handler is the Lambda function interface for API Gateway
func (h *AwsApiGateway) Handler(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	requestID := event.RequestContext.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}

	ctx, cancel := newRequestContext(ctx, requestID, event.RequestContext.Identity.SourceIP, event.RequestContext.Identity.UserAgent)
	defer cancel()

	log := slog.With(
		slog.String("requestId", requestID),
		slog.String("path", event.Path),
		slog.String("method", event.HTTPMethod),
		slog.String("sourceIp", event.RequestContext.Identity.SourceIP),
		slog.String("userAgent", event.RequestContext.Identity.UserAgent),
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

	claims, err := h.processor.ProcessRequest(ctx, utils.HeaderValue(event.Headers, "Authorization"), requestData, SourceAPIGateway, log)
	if err != nil {
		return h.respond(errorResult(ctx, err)), nil
	}

	return h.respond(successResult(ctx, claims)), nil
}

func (h *AwsApiGateway) respond(r result) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{
		StatusCode:      r.StatusCode,
		Headers:         r.Headers,
		Body:            r.Body,
		IsBase64Encoded: false,
	}
}
