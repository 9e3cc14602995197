// Package api provides the HTTP server for pomociclo.
// It exposes the study session lifecycle, progression and weekly quests.
// Authentication happens upstream; the caller is identified by X-User-ID.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pomociclo/pomociclo/internal/app/settlement"
	"github.com/pomociclo/pomociclo/internal/domain"
	"github.com/pomociclo/pomociclo/internal/health"
	"github.com/pomociclo/pomociclo/internal/infra/metrics"
	"github.com/pomociclo/pomociclo/internal/platform/logger"
)

// UserHeader carries the authenticated user id set by the gateway.
const UserHeader = "X-User-ID"

// Settler is the settlement service as used by the handlers.
type Settler interface {
	StartSession(ctx context.Context, userID, subjectID string) (*domain.StudySession, error)
	EndSession(ctx context.Context, req settlement.Request) (settlement.Result, error)
	Progression(ctx context.Context, userID string) (settlement.Standing, error)
	Quests(ctx context.Context, userID string) (*domain.WeeklyQuestDocument, error)
}

// HealthReporter exposes the latest health check results.
type HealthReporter interface {
	Statuses() []health.Status
	IsHealthy() bool
}

// Server is the pomociclo HTTP API server.
type Server struct {
	settler        Settler
	health         HealthReporter
	log            *logger.Logger
	validate       *validator.Validate
	metricsEnabled bool
	timeout        time.Duration
}

// NewServer creates a new API server.
func NewServer(settler Settler, log *logger.Logger) *Server {
	return &Server{
		settler:  settler,
		log:      log.With("component", "api"),
		validate: newValidator(),
		timeout:  30 * time.Second,
	}
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetHealth attaches the health checker behind /health.
func (s *Server) SetHealth(h HealthReporter) { s.health = h }

// SetTimeout overrides the per-request timeout.
func (s *Server) SetTimeout(d time.Duration) {
	if d > 0 {
		s.timeout = d
	}
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.timeout))
	r.Use(s.instrument)

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Use(requireUser)
		r.Post("/study/start", s.handleStartSession)
		r.Post("/study/end", s.handleEndSession)
		r.Get("/progression", s.handleProgression)
		r.Get("/quests", s.handleQuests)
	})

	// Prometheus metrics endpoint
	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	status, code := "ok", http.StatusOK
	if !s.health.IsHealthy() {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{
		"status": status,
		"checks": s.health.Statuses(),
	})
}

// ─── Middleware ─────────────────────────────────────────────────────────────

type userKey struct{}

// requireUser rejects requests without the gateway-provided user id.
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(UserHeader)
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "missing "+UserHeader+" header")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, userID)))
	})
}

func userFrom(r *http.Request) string {
	id, _ := r.Context().Value(userKey{}).(string)
	return id
}

// instrument counts requests by route pattern and status.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	})
}

// ─── Responses ──────────────────────────────────────────────────────────────

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": msg,
			"type":    errorType(status),
		},
	})
}

func errorType(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "already_settled"
	case http.StatusServiceUnavailable:
		return "retryable"
	default:
		return "error"
	}
}
