package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/boogy/permission-warden/pkg/audit"
	"github.com/boogy/permission-warden/pkg/authz"
	"github.com/boogy/permission-warden/pkg/utils"
	"github.com/google/uuid"
)

// AwsApplicationLoadBalancer handles ALB target group requests
type AwsApplicationLoadBalancer struct {
	processor *RequestProcessor
}

// NewAwsApplicationLoadBalancer creates a new ALB handler
func NewAwsApplicationLoadBalancer(authorizer *authz.Authorizer, recorder audit.Recorder) *AwsApplicationLoadBalancer {
	return &AwsApplicationLoadBalancer{
		processor: NewRequestProcessor(authorizer, recorder),
	}
}

// Handler is the Lambda function interface for ALB
func (h *AwsApplicationLoadBalancer) Handler(ctx context.Context, event events.ALBTargetGroupRequest) (events.ALBTargetGroupResponse, error) {
	requestID := albHeader(event, "X-Amzn-Trace-Id")
	if requestID == "" {
		requestID = uuid.New().String()
	}
	sourceIP := albHeader(event, "X-Forwarded-For")
	userAgent := albHeader(event, "User-Agent")

	ctx, cancel := newRequestContext(ctx, requestID, sourceIP, userAgent)
	defer cancel()

	log := slog.With(
		slog.String("requestId", requestID),
		slog.String("path", event.Path),
		slog.String("method", event.HTTPMethod),
		slog.String("sourceIp", sourceIP),
	)

	body, err := decodeBody(event.Body, event.IsBase64Encoded)
	if err != nil {
		return h.respond(event, errorResult(ctx, err)), nil
	}

	requestData, err := ParseRequestBody(body)
	if err != nil {
		log.Warn("Invalid request body", slog.String("error", err.Error()))
		return h.respond(event, errorResult(ctx, err)), nil
	}

	claims, err := h.processor.ProcessRequest(ctx, albHeader(event, "Authorization"), requestData, SourceALB, log)
	if err != nil {
		return h.respond(event, errorResult(ctx, err)), nil
	}

	return h.respond(event, successResult(ctx, claims)), nil
}

// albHeader reads a header from either the single or the multi-value map,
// whichever the target group is configured to send
func albHeader(event events.ALBTargetGroupRequest, name string) string {
	if v := utils.HeaderValue(event.Headers, name); v != "" {
		return v
	}
	for k, values := range event.MultiValueHeaders {
		if len(values) > 0 && http.CanonicalHeaderKey(k) == http.CanonicalHeaderKey(name) {
			return values[0]
		}
	}
	return ""
}

func (h *AwsApplicationLoadBalancer) respond(event events.ALBTargetGroupRequest, r result) events.ALBTargetGroupResponse {
	response := events.ALBTargetGroupResponse{
		StatusCode:        r.StatusCode,
		StatusDescription: fmt.Sprintf("%d %s", r.StatusCode, http.StatusText(r.StatusCode)),
		Body:              r.Body,
		IsBase64Encoded:   false,
	}

	// The response must use the same header map shape as the request
	if len(event.MultiValueHeaders) > 0 {
		response.MultiValueHeaders = make(map[string][]string, len(r.Headers))
		for k, v := range r.Headers {
			response.MultiValueHeaders[k] = []string{v}
		}
	} else {
		response.Headers = r.Headers
	}
	return response
}
