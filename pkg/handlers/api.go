// Package handlers exposes the assistant pipeline over HTTP. The
// handlers stay thin: decode, resolve the tenant, call the service,
// map the error taxonomy onto status codes.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/spendlens/spendlens/cmd/server/middleware"
	pkgerrors "github.com/spendlens/spendlens/pkg/errors"
	"github.com/spendlens/spendlens/pkg/models"
)

// AssistantService is the pipeline surface the API consumes.
type AssistantService interface {
	ConvertQuestionToSQL(ctx context.Context, question, userID string) (*models.GeneratedSQL, error)
	RunSQL(ctx context.Context, sqlText, userID string) (*models.ExecutionResult, error)
}

// HealthChecker reports backend readiness.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// API bundles the HTTP surface dependencies.
type API struct {
	service AssistantService
	health  HealthChecker
	logger  zerolog.Logger
}

// NewAPI creates the HTTP API over the assistant service.
func NewAPI(service AssistantService, health HealthChecker, logger zerolog.Logger) *API {
	return &API{
		service: service,
		health:  health,
		logger:  logger.With().Str("component", "api").Logger(),
	}
}

// RouterOptions carries the middleware chain and optional extras built
// in cmd/server.
type RouterOptions struct {
	Auth           func(http.Handler) http.Handler
	Logging        func(http.Handler) http.Handler
	Recovery       func(http.Handler) http.Handler
	Metrics        func(http.Handler) http.Handler
	MetricsHandler http.Handler
}

// Router assembles the chi router. Data routes sit behind auth;
// healthz and metrics do not.
func (a *API) Router(opts RouterOptions) chi.Router {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-User-ID"},
	}))
	if opts.Recovery != nil {
		r.Use(opts.Recovery)
	}
	if opts.Logging != nil {
		r.Use(opts.Logging)
	}
	if opts.Metrics != nil {
		r.Use(opts.Metrics)
	}

	r.Get("/healthz", a.handleHealth)
	if opts.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", opts.MetricsHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		if opts.Auth != nil {
			r.Use(opts.Auth)
		}
		r.Post("/ask", a.handleAsk)
		r.Post("/query", a.handleQuery)
	})
	return r
}

type askRequest struct {
	Question string `json:"question"`
}

type queryRequest struct {
	SQL string `json:"sql"`
}

func (a *API) handleAsk(w http.ResponseWriter, r *http.Request) {
	tenant, ok := middleware.GetTenant(r.Context())
	if !ok {
		a.writeError(w, pkgerrors.New(pkgerrors.CodeUnauthorized, "no tenant in request context"))
		return
	}

	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, pkgerrors.Wrap(err, pkgerrors.CodeInvalidRequest, "malformed request body"))
		return
	}

	generated, err := a.service.ConvertQuestionToSQL(r.Context(), req.Question, tenant)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, generated)
}

func (a *API) handleQuery(w http.ResponseWriter, r *http.Request) {
	tenant, ok := middleware.GetTenant(r.Context())
	if !ok {
		a.writeError(w, pkgerrors.New(pkgerrors.CodeUnauthorized, "no tenant in request context"))
		return
	}

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, pkgerrors.Wrap(err, pkgerrors.CodeInvalidRequest, "malformed request body"))
		return
	}

	result, err := a.service.RunSQL(r.Context(), req.SQL, tenant)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, result)
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if a.health != nil {
		if err := a.health.HealthCheck(r.Context()); err != nil {
			a.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
			return
		}
	}
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code       string      `json:"code"`
	Message    string      `json:"message"`
	Violations interface{} `json:"violations,omitempty"`
}

// writeError maps the error taxonomy onto HTTP statuses. Validation
// and shape failures are the client's to fix (422); timeouts and
// engine failures are gateway-style upstream errors.
func (a *API) writeError(w http.ResponseWriter, err error) {
	code := pkgerrors.GetCode(err)

	var status int
	switch code {
	case pkgerrors.CodeInvalidRequest:
		status = http.StatusBadRequest
	case pkgerrors.CodeInvalidSQL, pkgerrors.CodeUnsupportedQueryShape:
		status = http.StatusUnprocessableEntity
	case pkgerrors.CodeUnauthorized:
		status = http.StatusUnauthorized
	case pkgerrors.CodeExecutionTimeout:
		status = http.StatusGatewayTimeout
	case pkgerrors.CodeExecutionFailed, pkgerrors.CodeGenerationFailed, pkgerrors.CodeRetrievalFailed:
		status = http.StatusBadGateway
	case pkgerrors.CodeConnectionFailed:
		status = http.StatusServiceUnavailable
	default:
		status = http.StatusInternalServerError
	}

	body := errorBody{Error: errorDetail{
		Code:    code,
		Message: pkgerrors.GetMessage(err),
	}}
	var ae *pkgerrors.AssistantError
	if errors.As(err, &ae) {
		if v, ok := ae.Details["violations"]; ok {
			body.Error.Violations = v
		}
	}

	a.writeJSON(w, status, body)
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error().Err(err).Msg("Failed to encode response")
	}
}
