package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/boogy/permission-warden/pkg/authz"
	"github.com/boogy/permission-warden/pkg/handler"
	"github.com/boogy/permission-warden/pkg/types"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// ReloadPermission guards the key set reload endpoint
const ReloadPermission = "reload:keys"

// KeyReloader refreshes the verification key set
type KeyReloader interface {
	Reload(ctx context.Context) error
	Keys() *types.JWKS
}

// Dependencies holds everything the router needs
type Dependencies struct {
	APIGateway *handler.AwsApiGateway
	Authorizer *authz.Authorizer
	Keys       KeyReloader
	Latency    time.Duration // simulated latency added to /authorize
}

// NewRouter configures all routes and middleware of the local server
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(handler.DefaultTimeout))

	r.Get("/health", healthHandler)
	r.Post("/authorize", authorizeHandler(deps))

	r.With(deps.Authorizer.Middleware("")).Get("/claims", claimsHandler)
	r.With(deps.Authorizer.Middleware(ReloadPermission)).Post("/keys/reload", reloadHandler(deps.Keys))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, authz.ErrorResponse{
			Error: types.ErrorBody{Code: "not_found", Description: "Resource not found"},
		})
	})

	return r
}

// requestLogger logs every request through slog
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		slog.Info("Request completed",
			slog.String("requestId", middleware.GetReqID(r.Context())),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)))
	})
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// authorizeHandler replays the request as an API Gateway proxy event so the
// local server answers exactly like the Lambda
func authorizeHandler(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Latency > 0 {
			time.Sleep(deps.Latency)
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, handler.MaxBodySize+1))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, authz.ErrorResponse{
				Error: types.ErrorBody{Code: "invalid_request", Description: "Error reading request body"},
			})
			return
		}

		event := events.APIGatewayProxyRequest{
			Body:       string(body),
			Path:       r.URL.Path,
			HTTPMethod: r.Method,
			Headers:    make(map[string]string, len(r.Header)),
		}
		for k, v := range r.Header {
			if len(v) > 0 {
				event.Headers[k] = v[0]
			}
		}
		event.RequestContext.RequestID = middleware.GetReqID(r.Context())
		event.RequestContext.Identity.SourceIP = r.RemoteAddr
		event.RequestContext.Identity.UserAgent = r.UserAgent()

		response, err := deps.APIGateway.Handler(r.Context(), event)
		if err != nil {
			slog.Error("Handler error", slog.String("error", err.Error()))
			authz.WriteError(w, err)
			return
		}

		for k, v := range response.Headers {
			w.Header().Set(k, v)
		}
		w.WriteHeader(response.StatusCode)
		if _, err := io.WriteString(w, response.Body); err != nil {
			slog.Error("Error writing response", "error", err)
		}
	}
}

func claimsHandler(w http.ResponseWriter, r *http.Request) {
	claims, _ := authz.ClaimsFromContext(r.Context())
	writeJSON(w, http.StatusOK, handler.Response{
		Success:   true,
		RequestID: middleware.GetReqID(r.Context()),
		Data:      claims,
	})
}

func reloadHandler(keys KeyReloader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := keys.Reload(r.Context()); err != nil {
			slog.Error("Key set reload failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusBadGateway, authz.ErrorResponse{
				Error: types.ErrorBody{Code: "reload_failed", Description: "Unable to reload the key set"},
			})
			return
		}

		writeJSON(w, http.StatusOK, handler.Response{
			Success:   true,
			RequestID: middleware.GetReqID(r.Context()),
			Data:      map[string]any{"kids": keys.Keys().KeyIDs()},
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}
