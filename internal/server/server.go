// Package server exposes the search pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/FranksOps/skein/internal/aggregate"
	"github.com/FranksOps/skein/internal/metrics"
	"github.com/FranksOps/skein/internal/pipeline"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Searcher runs one request to completion. *pipeline.Dispatcher implements
// it.
type Searcher interface {
	Handle(ctx context.Context, req pipeline.Request) ([]aggregate.Output, error)
}

// Config configures the HTTP surface.
type Config struct {
	// Defaults fill the settings a caller leaves out.
	Defaults pipeline.Request
	// ServeMetrics mounts /metrics on the same router.
	ServeMetrics bool
	// OpenResponses reports the number of in-flight responses for the
	// readiness check. Nil reports zero.
	OpenResponses func() int
}

type errorBody struct {
	ErrorMessage string `json:"errorMessage"`
}

// Server routes HTTP requests to a Searcher.
type Server struct {
	cfg      Config
	searcher Searcher
	logger   *slog.Logger
	router   chi.Router
}

// New builds the router.
func New(cfg Config, searcher Searcher, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.OpenResponses == nil {
		cfg.OpenResponses = func() int { return 0 }
	}

	s := &Server{cfg: cfg, searcher: searcher, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(middleware.GetHead)

	r.Get("/", s.ready)
	r.Get("/search", s.search)
	if cfg.ServeMetrics {
		r.Handle("/metrics", metrics.Handler())
	}
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) ready(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"openResponses": s.cfg.OpenResponses(),
	})
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	req, err := ParseRequest(r.URL.Query(), s.cfg.Defaults)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	out, err := s.searcher.Handle(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := StatusFor(err)
	if code >= http.StatusInternalServerError {
		s.logger.Warn("search request failed",
			"request_id", middleware.GetReqID(r.Context()),
			"status", code,
			"err", err,
		)
	}
	writeJSON(w, code, errorBody{ErrorMessage: err.Error()})
}

// StatusFor maps a pipeline error to an HTTP status code.
func StatusFor(err error) int {
	switch {
	case pipeline.IsInputError(err):
		return http.StatusBadRequest
	case errors.Is(err, aggregate.ErrDrained), errors.Is(err, pipeline.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.logger.Info("http request",
				"request_id", middleware.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"remote", r.RemoteAddr,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}
