package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/boogy/permission-warden/pkg/audit"
	"github.com/boogy/permission-warden/pkg/authz"
	"github.com/boogy/permission-warden/pkg/config"
	"github.com/boogy/permission-warden/pkg/types"
	"github.com/google/uuid"
)

const (
	policyVersion      = "2012-10-17"
	invokeAction       = "execute-api:Invoke"
	anonymousPrincipal = "anonymous"
)

// ErrUnauthorized is the exact error API Gateway turns into a 401 response
var ErrUnauthorized = errors.New("Unauthorized")

// AwsRequestAuthorizer is an API Gateway REQUEST authorizer. It resolves the
// permission for the incoming method and path from the route table and
// answers with an IAM policy.
type AwsRequestAuthorizer struct {
	config    *config.Config
	processor *RequestProcessor
	recorder  audit.Recorder
}

// NewAwsRequestAuthorizer creates a new REQUEST authorizer handler
func NewAwsRequestAuthorizer(cfg *config.Config, authorizer *authz.Authorizer, recorder audit.Recorder) *AwsRequestAuthorizer {
	if recorder == nil {
		recorder = audit.Nop{}
	}
	return &AwsRequestAuthorizer{
		config:    cfg,
		processor: NewRequestProcessor(authorizer, recorder),
		recorder:  recorder,
	}
}

// Handler is the Lambda function interface for the REQUEST authorizer
func (h *AwsRequestAuthorizer) Handler(ctx context.Context, event events.APIGatewayCustomAuthorizerRequestTypeRequest) (events.APIGatewayCustomAuthorizerResponse, error) {
	requestID := event.RequestContext.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}

	ctx, cancel := newRequestContext(ctx, requestID, event.RequestContext.Identity.SourceIP, "")
	defer cancel()

	log := slog.With(
		slog.String("requestId", requestID),
		slog.String("path", event.Path),
		slog.String("method", event.HTTPMethod),
		slog.String("methodArn", event.MethodArn),
	)

	route, ok := h.config.MatchRoute(event.HTTPMethod, event.Path)
	if !ok {
		log.Info("No route permission configured, denying")
		h.recorder.Record(audit.Decision{
			RequestID: requestID,
			Source:    SourceAuthorizer,
			Code:      "route_not_found",
			Status:    http.StatusForbidden,
		})
		return policy(anonymousPrincipal, "Deny", event.MethodArn, nil), nil
	}

	if route.Public {
		log.Debug("Public route, allowing without token")
		return policy(anonymousPrincipal, "Allow", event.MethodArn, nil), nil
	}

	header := headerValue(event.Headers, event.MultiValueHeaders, "Authorization")
	claims, err := h.processor.ProcessRequest(ctx, header, &RequestData{Permission: route.Permission}, SourceAuthorizer, log)
	if err != nil {
		var authErr *types.AuthError
		switch {
		case errors.As(err, &authErr) && authErr.Status() == http.StatusForbidden:
			return policy(anonymousPrincipal, "Deny", event.MethodArn, nil), nil
		case errors.As(err, &authErr), errors.Is(err, ErrHeaderTooLarge):
			return events.APIGatewayCustomAuthorizerResponse{}, ErrUnauthorized
		default:
			log.Error("Authorizer failed", slog.String("error", err.Error()))
			return events.APIGatewayCustomAuthorizerResponse{}, err
		}
	}

	subject, _ := claims.GetSubject()
	permissions, _, _ := authz.Permissions(claims)
	return policy(subject, "Allow", event.MethodArn, map[string]any{
		"sub":         subject,
		"permissions": strings.Join(permissions, ","),
	}), nil
}

// headerValue looks a header up in the single-value map and falls back to multi-value headers
func headerValue(headers map[string]string, multi map[string][]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	for k, values := range multi {
		if strings.EqualFold(k, name) && len(values) > 0 {
			return values[0]
		}
	}
	return ""
}

func policy(principalID, effect, resource string, values map[string]any) events.APIGatewayCustomAuthorizerResponse {
	if principalID == "" {
		principalID = anonymousPrincipal
	}
	return events.APIGatewayCustomAuthorizerResponse{
		PrincipalID: principalID,
		PolicyDocument: events.APIGatewayCustomAuthorizerPolicy{
			Version: policyVersion,
			Statement: []events.IAMPolicyStatement{
				{
					Action:   []string{invokeAction},
					Effect:   effect,
					Resource: []string{resource},
				},
			},
		},
		Context: values,
	}
}
