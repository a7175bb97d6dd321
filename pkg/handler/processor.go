package handler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/boogy/permission-warden/pkg/audit"
	"github.com/boogy/permission-warden/pkg/authz"
	"github.com/boogy/permission-warden/pkg/types"
	"github.com/golang-jwt/jwt/v5"
)

// RequestProcessor contains the core business logic shared by every transport
type RequestProcessor struct {
	authorizer *authz.Authorizer
	recorder   audit.Recorder
}

// NewRequestProcessor creates a new instance of request processor. A nil recorder discards decisions.
func NewRequestProcessor(authorizer *authz.Authorizer, recorder audit.Recorder) *RequestProcessor {
	if recorder == nil {
		recorder = audit.Nop{}
	}
	return &RequestProcessor{
		authorizer: authorizer,
		recorder:   recorder,
	}
}

// ProcessRequest authorizes header for the requested permission and records the decision.
func (r *RequestProcessor) ProcessRequest(ctx context.Context, header string, requestData *RequestData, source string, log *slog.Logger) (jwt.MapClaims, error) {
	startTime, _ := ctx.Value(StartTimeContextKey).(time.Time)
	requestID, _ := ctx.Value(RequestIDContextKey).(string)

	permission := ""
	if requestData != nil {
		permission = requestData.Permission
	}
	log = log.With(slog.String("permission", permission))

	decision := audit.Decision{
		RequestID:  requestID,
		Source:     source,
		Permission: permission,
	}

	if err := ctx.Err(); err != nil {
		log.Error("Request context done before authorization", slog.String("error", err.Error()))
		return nil, err
	}

	if err := ValidateAuthorizationHeader(header); err != nil {
		log.Warn("Rejected oversized authorization header", slog.Int("length", len(header)))
		decision.Code = "invalid_request"
		decision.Status = 400
		r.recorder.Record(decision)
		return nil, err
	}

	claims, err := r.authorizer.Authorize(header, permission)
	if err != nil {
		var authErr *types.AuthError
		if errors.As(err, &authErr) {
			decision.Code = authErr.Code
			decision.Status = authErr.Status()
		} else {
			decision.Code = "internal_error"
			decision.Status = 500
		}
		r.recorder.Record(decision)

		log.Info("Authorization denied",
			slog.String("code", decision.Code),
			slog.Int("status", decision.Status),
			slog.String("error", err.Error()),
			slog.Duration("duration", time.Since(startTime)))
		return nil, err
	}

	subject, _ := claims.GetSubject()
	decision.Subject = subject
	decision.Allowed = true
	decision.Status = 200
	r.recorder.Record(decision)

	log.Info("Authorization granted",
		slog.String("subject", subject),
		slog.Duration("duration", time.Since(startTime)))

	return claims, nil
}
