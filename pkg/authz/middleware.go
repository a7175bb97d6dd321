package authz

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/boogy/permission-warden/pkg/types"
	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const claimsContextKey contextKey = "claims"

// ErrorResponse is the JSON body written for a denied request
type ErrorResponse struct {
	Success bool            `json:"success"`
	Error   types.ErrorBody `json:"error"`
}

// Middleware rejects requests that are not authorized for permission and puts the
// verified claims in the request context for the next handler.
func (a *Authorizer) Middleware(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := a.Authorize(r.Header.Get("Authorization"), permission)
			if err != nil {
				slog.Info("Request denied",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("permission", permission),
					slog.String("error", err.Error()))
				WriteError(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// WithClaims returns a copy of ctx carrying claims
func WithClaims(ctx context.Context, claims jwt.MapClaims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}

// ClaimsFromContext returns the claims stored by Middleware
func ClaimsFromContext(ctx context.Context) (jwt.MapClaims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(jwt.MapClaims)
	return claims, ok
}

// WriteError writes err as a JSON error response. Errors that are not
// authorization failures become a 500 without detail.
func WriteError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	body := types.ErrorBody{Code: "internal_error", Description: "Internal server error"}

	if authErr, ok := types.AsAuthError(err); ok {
		status = authErr.Status()
		body = authErr.Body()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(ErrorResponse{Success: false, Error: body}); err != nil {
		slog.Error("Failed to write error response", "error", err)
	}
}
