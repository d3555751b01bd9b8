package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/calvin1011/watchtower/internal/competitor"
	"github.com/calvin1011/watchtower/internal/digest"
	"github.com/calvin1011/watchtower/internal/intel"
	"github.com/calvin1011/watchtower/internal/metrics"
	"github.com/calvin1011/watchtower/internal/pipeline"
)

const defaultRequestTimeout = 60 * time.Second

// Runner runs the pipeline for a set of competitors.
type Runner interface {
	RunAll(ctx context.Context, competitors []intel.Competitor) (pipeline.Summary, error)
}

// DigestService builds, previews and sends digests.
type DigestService interface {
	Send(ctx context.Context, recipient string, sinceDays int) (intel.Digest, error)
	Preview(ctx context.Context, sinceDays int) (digest.Preview, error)
	History(ctx context.Context, limit int) ([]intel.Digest, error)
	MailerConfigured() bool
}

// Pinger is a dependency checked by /readyz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators of a Server. Store and Registry are required.
type Deps struct {
	Store    intel.IntelStore
	Registry *competitor.Registry
	Runner   Runner
	Digests  DigestService
	Embedder intel.Embedder
	Checks   map[string]Pinger
}

// Options tunes the HTTP layer.
type Options struct {
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the pipeline, digest service and stores.
type Server struct {
	router chi.Router
	deps   Deps
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	s := &Server{deps: deps, logger: logger.Named("api")}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	read := timeoutMiddleware(opts.RequestTimeout)
	r.Route("/v1", func(r chi.Router) {
		r.With(read).Get("/competitors", s.listCompetitors)
		r.Route("/intel", func(r chi.Router) {
			r.With(read).Get("/", s.listIntel)
			r.With(read).Get("/search", s.searchIntel)
			r.With(read).Get("/signals/{signal_type}", s.listIntelBySignal)
			r.With(read).Get("/item/{id}", s.getIntel)
			r.With(read).Get("/{competitor}", s.listIntelByCompetitor)
			// Pipeline runs outlive the read timeout.
			r.Post("/run", s.runPipeline)
		})
		r.Route("/digest", func(r chi.Router) {
			r.With(read).Get("/history", s.digestHistory)
			r.With(read).Get("/preview", s.digestPreview)
			r.Post("/send", s.sendDigest)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	failures := map[string]string{}
	for name, check := range s.deps.Checks {
		if err := check.Ping(ctx); err != nil {
			failures[name] = err.Error()
		}
	}
	if len(failures) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failures": failures})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) listCompetitors(w http.ResponseWriter, _ *http.Request) {
	competitors := s.deps.Registry.All()
	writeJSON(w, http.StatusOK, map[string]any{"competitors": competitors, "count": len(competitors)})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.String("request_id", requestID(r.Context())),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
