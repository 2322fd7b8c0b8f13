package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"villaops/internal/config"
	"villaops/internal/domain"
	"villaops/internal/lifecycle"
	"villaops/internal/metrics"
	"villaops/internal/models"
	"villaops/internal/service"
	"villaops/internal/sweep"

	"github.com/rs/zerolog"
)

const maxBodyBytes = 1 << 20

// Bookings is the booking intake and read side.
type Bookings interface {
	ConfirmBooking(ctx context.Context, ev models.BookingConfirmed) (*service.TimelineView, error)
	GetTimeline(ctx context.Context, bookingID string) (*service.TimelineView, error)
	GetTask(ctx context.Context, id string) (*models.Task, error)
	ListTasks(ctx context.Context, filter models.TaskFilter) ([]*models.Task, error)
}

// Lifecycle applies staff actions to tasks.
type Lifecycle interface {
	Assign(ctx context.Context, taskID string) (*models.Task, error)
	Transition(ctx context.Context, req lifecycle.TransitionRequest) (*models.Task, error)
	SubmitInspection(ctx context.Context, req lifecycle.InspectionRequest) (*lifecycle.InspectionResult, error)
}

type CheckoutRunner interface {
	Run(ctx context.Context) (sweep.CheckoutResult, error)
}

type TimeoutRunner interface {
	Run(ctx context.Context) (sweep.TimeoutResult, error)
}

type Pinger interface {
	PingContext(ctx context.Context) error
}

// Deps are the services behind the HTTP routes.
type Deps struct {
	Bookings  Bookings
	Lifecycle Lifecycle
	Offers    domain.OfferStore
	Alerts    domain.AlertStore
	Checkout  CheckoutRunner
	Timeouts  TimeoutRunner
	Store     Pinger
	Now       domain.Clock
}

// HTTPServer exposes the JSON API.
type HTTPServer struct {
	cfg    config.APIConfig
	deps   Deps
	server *http.Server
	auth   *HTTPAuth
	logger zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, deps Deps, logger *zerolog.Logger) *HTTPServer {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	srv := &HTTPServer{cfg: cfg, deps: deps, auth: NewHTTPAuth(cfg), logger: zerolog.Nop()}
	if logger != nil {
		srv.logger = logger.With().Str("component", "http").Logger()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", srv.handleHealth)

	mux.Handle("POST /api/v1/bookings/confirmed", srv.auth.Require(permWriteBookings, srv.handleBookingConfirmed))
	mux.Handle("GET /api/v1/timelines/{bookingId}", srv.auth.Require(permReadTasks, srv.handleGetTimeline))

	mux.Handle("GET /api/v1/tasks", srv.auth.Require(permReadTasks, srv.handleListTasks))
	mux.Handle("GET /api/v1/tasks/{id}", srv.auth.Require(permReadTasks, srv.handleGetTask))
	mux.Handle("POST /api/v1/tasks/{id}/status", srv.auth.Require(permWriteTasks, srv.handleTaskStatus))
	mux.Handle("POST /api/v1/tasks/{id}/assign", srv.auth.Require(permWriteTasks, srv.handleTaskAssign))
	mux.Handle("POST /api/v1/tasks/{id}/inspection", srv.auth.Require(permWriteTasks, srv.handleInspection))

	mux.Handle("POST /api/v1/offers/{id}/accept", srv.auth.Require(permWriteJobs, srv.handleAcceptOffer))
	mux.Handle("POST /api/v1/jobs/{id}/start", srv.auth.Require(permWriteJobs, srv.handleStartJob))

	mux.Handle("GET /api/v1/alerts", srv.auth.Require(permReadAlerts, srv.handleListAlerts))
	mux.Handle("POST /api/v1/alerts/{id}/resolve", srv.auth.Require(permWriteAlerts, srv.handleResolveAlert))

	mux.Handle("POST /api/v1/sweeps/timeouts", srv.auth.Require(permRunSweeps, srv.handleSweepTimeouts))
	mux.Handle("POST /api/v1/sweeps/checkout", srv.auth.Require(permRunSweeps, srv.handleSweepCheckout))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.loggingMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	return srv
}

// Handler returns the root handler, middleware included.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		endpoint := r.Pattern
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.IncHTTP(endpoint)

		event := s.logger.Info()
		if recorder.status >= http.StatusInternalServerError {
			event = s.logger.Error()
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case domain.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConcurrentModification), errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict
	case domain.IsTransient(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *HTTPServer) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, code, "internal error")
		return
	}
	writeError(w, code, err.Error())
}

// decodeBody reads a JSON body into v. An empty body leaves v untouched when allowEmpty is set.
func decodeBody(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return domain.Invalid("body", "invalid JSON body")
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
