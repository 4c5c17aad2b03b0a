package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/jonathan/job-autofill/internal/patterns"
	"github.com/jonathan/job-autofill/internal/pipeline"
	"github.com/jonathan/job-autofill/internal/profile"
	"github.com/jonathan/job-autofill/internal/review"
	"github.com/jonathan/job-autofill/internal/server/middleware"
	"github.com/jonathan/job-autofill/internal/server/ratelimit"
	"github.com/jonathan/job-autofill/internal/settings"
	"github.com/jonathan/job-autofill/internal/types"
)

// Runner performs autofill runs on the attached page.
type Runner interface {
	Run(ctx context.Context, trigger types.Trigger) (*types.RunReport, error)
}

// Drafter re-drafts the answer to one open-ended field of the last run.
// Runners that implement it enable POST /review/{index}/draft.
type Drafter interface {
	Redraft(ctx context.Context, index int) (*pipeline.Draft, error)
}

// ProfileRefresher reloads the applicant profile from the platform.
type ProfileRefresher interface {
	Refresh(ctx context.Context) (*profile.Profile, error)
	FetchedAt() time.Time
}

// Config holds server configuration
type Config struct {
	Addr string
	// Validator checks bearer tokens; nil leaves the API open, which is only
	// sensible on a loopback address.
	Validator middleware.TokenValidator
	// RateLimit nil uses the limiter defaults.
	RateLimit    *ratelimit.Config
	PingInterval time.Duration
	Logger       zerolog.Logger
}

// Server represents the HTTP server
type Server struct {
	httpServer  *http.Server
	runner      Runner
	drafter     Drafter
	board       *review.Board
	settings    *settings.Store
	profiles    ProfileRefresher
	rateLimiter *ratelimit.Limiter
	validate    *validator.Validate
	ping        time.Duration
	logger      zerolog.Logger
}

// New creates a new server instance
func New(cfg Config, runner Runner, board *review.Board, st *settings.Store, profiles ProfileRefresher) *Server {
	s := &Server{
		runner:      runner,
		board:       board,
		settings:    st,
		profiles:    profiles,
		rateLimiter: ratelimit.NewLimiter(cfg.RateLimit),
		validate:    validator.New(),
		ping:        cfg.PingInterval,
		logger:      cfg.Logger.With().Str("component", "server").Logger(),
	}
	if s.ping <= 0 {
		s.ping = 15 * time.Second
	}
	if d, ok := runner.(Drafter); ok {
		s.drafter = d
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(s.withLogging)
	r.Use(s.withCORS)
	r.Use(s.withRateLimit)

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(cfg.Validator))

		r.Post("/fill", s.handleFill)
		r.Get("/review", s.handleGetReview)
		r.Delete("/review", s.handleCloseReview)
		r.Post("/review/{index}/draft", s.handleDraft)
		r.Get("/runs/stream", s.handleRunStream)

		r.Get("/settings", s.handleGetSettings)
		r.Put("/settings", s.handlePutSettings)

		r.Post("/profile/refresh", s.handleRefreshProfile)
		r.Get("/profiles", s.handleListProfiles)
	})

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Event streams stay open, so writes have no deadline.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("control server listening")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		s.Close()
		if !ok {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info().Msg("shutting down control server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = s.httpServer.Shutdown(shutdownCtx)
	s.Close()
	if err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.logger.Info().Msg("control server stopped")
	return nil
}

// Close releases background resources.
func (s *Server) Close() {
	s.rateLimiter.Stop()
}

// withCORS adds CORS headers
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// withRateLimit adds rate limiting middleware
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, info := s.rateLimiter.Allow(s.extractClientID(r), r.URL.Path, r.Method)
		s.setRateLimitHeaders(w, info)
		if !allowed {
			s.rateLimitResponse(w, r, info)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withLogging adds request logging
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("request_id", chimw.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("request completed")
	})
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// FillRequest is the optional body of POST /fill.
type FillRequest struct {
	Trigger types.Trigger `json:"trigger" validate:"omitempty,oneof=manual fab observer page_load"`
}

// FillResponse carries the run report and, when the run aborted, its error.
type FillResponse struct {
	Report *types.RunReport `json:"report"`
	Error  string           `json:"error,omitempty"`
}

func (s *Server) handleFill(w http.ResponseWriter, r *http.Request) {
	var req FillRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, &ErrValidation{Field: "body", Message: err.Error()})
			return
		}
	}
	if err := s.validate.Struct(req); err != nil {
		s.writeError(w, &ErrValidation{Field: "trigger", Message: err.Error()})
		return
	}
	if req.Trigger == "" {
		req.Trigger = types.TriggerManual
	}

	report, err := s.runner.Run(r.Context(), req.Trigger)
	if err != nil {
		s.logger.Error().Err(err).Msg("autofill run failed")
		s.jsonResponse(w, http.StatusInternalServerError, FillResponse{Report: report, Error: err.Error()})
		return
	}
	s.jsonResponse(w, http.StatusOK, FillResponse{Report: report})
}

func (s *Server) handleGetReview(w http.ResponseWriter, r *http.Request) {
	report, ok := s.board.Current()
	if !ok {
		s.writeError(w, &ErrNotFound{Resource: "review"})
		return
	}
	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		s.board.Render(w)
		return
	}
	s.jsonResponse(w, http.StatusOK, report)
}

func (s *Server) handleCloseReview(w http.ResponseWriter, _ *http.Request) {
	if !s.board.Close() {
		s.writeError(w, &ErrNotFound{Resource: "review"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDraft(w http.ResponseWriter, r *http.Request) {
	if s.drafter == nil {
		s.writeError(w, &ErrUnavailable{Feature: "answer drafting"})
		return
	}
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		s.writeError(w, &ErrValidation{Field: "index", Message: "must be a non-negative field index"})
		return
	}

	draft, err := s.drafter.Redraft(r.Context(), index)
	switch {
	case err == nil:
		s.jsonResponse(w, http.StatusOK, draft)
	case errors.Is(err, pipeline.ErrNoGenerator):
		s.writeError(w, &ErrUnavailable{Feature: "answer drafting"})
	case errors.Is(err, pipeline.ErrNoRun), errors.Is(err, pipeline.ErrFieldNotFound):
		s.writeError(w, &ErrNotFound{Resource: fmt.Sprintf("field %d", index)})
	case errors.Is(err, pipeline.ErrNotOpenEnded):
		s.writeError(w, &ErrValidation{Field: "index", Message: err.Error()})
	default:
		s.logger.Error().Err(err).Int("field_index", index).Msg("answer drafting failed")
		s.writeError(w, &ErrUpstream{Op: "answer drafting", Err: err})
	}
}

// handleRunStream streams board events. The first event is a snapshot of the
// report on display, null when there is none.
func (s *Server) handleRunStream(w http.ResponseWriter, r *http.Request) {
	events, cancel := s.board.Subscribe(review.DefaultBuffer)
	defer cancel()

	sse, err := NewSSEWriter(w)
	if err != nil {
		s.writeError(w, err)
		return
	}

	current, _ := s.board.Current()
	if err := sse.WriteEvent("snapshot", current); err != nil {
		return
	}

	ticker := time.NewTicker(s.ping)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if err := sse.Ping(); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := sse.WriteEvent(string(ev.Kind), ev); err != nil {
				s.logger.Debug().Err(err).Msg("event stream closed by client")
				return
			}
		}
	}
}

func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, s.settings.Get())
}

// handlePutSettings applies a partial or full settings document over the
// current settings.
func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	next := s.settings.Get()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&next); err != nil {
		s.writeError(w, &ErrValidation{Field: "body", Message: err.Error()})
		return
	}
	if err := next.Validate(); err != nil {
		s.writeError(w, &ErrValidation{Field: "settings", Message: err.Error()})
		return
	}
	if next.Industry != "" && !patterns.Known(next.Industry) {
		s.writeError(w, &ErrValidation{Field: "industry", Message: fmt.Sprintf("unknown industry pack %q", next.Industry)})
		return
	}
	if err := s.settings.Replace(next); err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info().Str("fill_speed", string(next.FillSpeed)).Str("industry", next.Industry).Msg("settings updated")
	s.jsonResponse(w, http.StatusOK, next)
}

// ProfileStatus describes the profile after a refresh.
type ProfileStatus struct {
	Summary   string    `json:"summary"`
	FetchedAt time.Time `json:"fetched_at"`
}

func (s *Server) handleRefreshProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.profiles.Refresh(r.Context())
	if err != nil {
		s.writeError(w, &ErrUpstream{Op: "profile refresh", Err: err})
		return
	}
	s.jsonResponse(w, http.StatusOK, ProfileStatus{Summary: p.Summary(), FetchedAt: s.profiles.FetchedAt()})
}

func (s *Server) handleListProfiles(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, patterns.GetAvailableProfiles())
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode JSON response")
	}
}

// errorResponse writes an error JSON response
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.errorResponse(w, HTTPStatus(err), err.Error())
}

// extractClientID extracts the client identifier from the request.
func (s *Server) extractClientID(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// setRateLimitHeaders sets standard rate limit headers on the response.
func (s *Server) setRateLimitHeaders(w http.ResponseWriter, info ratelimit.Info) {
	if info.Limit > 0 {
		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", info.Limit))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", info.Remaining))
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", info.ResetTime.Unix()))
	}
}

// rateLimitResponse writes a 429 Too Many Requests response with rate limit information.
func (s *Server) rateLimitResponse(w http.ResponseWriter, r *http.Request, info ratelimit.Info) {
	response := map[string]any{
		"error":     "rate_limit_exceeded",
		"message":   "Rate limit exceeded. Please try again later.",
		"limit":     info.Limit,
		"remaining": info.Remaining,
	}
	if !info.ResetTime.IsZero() {
		response["reset_at"] = info.ResetTime.Format(time.RFC3339)
	}

	if info.RetryAfter > 0 {
		seconds := int((info.RetryAfter + time.Second - 1) / time.Second)
		response["retry_after"] = seconds
		w.Header().Set("Retry-After", fmt.Sprintf("%d", seconds))
	}

	s.logger.Warn().
		Str("path", r.URL.Path).
		Int("limit", info.Limit).
		Dur("retry_after", info.RetryAfter).
		Msg("rate limit exceeded")

	s.jsonResponse(w, http.StatusTooManyRequests, response)
}
