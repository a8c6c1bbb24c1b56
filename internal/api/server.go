package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/grail/internal/engine"
	"github.com/JakeFAU/grail/internal/job"
	"github.com/JakeFAU/grail/internal/metrics"
	"github.com/JakeFAU/grail/internal/store"
)

// maxBodyBytes bounds request bodies; extract accepts whole documents inline.
const maxBodyBytes = 16 << 20

// Engine is the job runner behind the HTTP handlers.
type Engine interface {
	Render(ctx context.Context, req job.Request) (*job.RenderResult, error)
	Extract(ctx context.Context, req job.Request) (*job.ExtractResult, error)
	Batch(ctx context.Context, req job.BatchRequest) (*job.BatchResult, error)
	Stats() engine.Stats
}

// Options configures the Server.
type Options struct {
	Port            int
	Version         string
	BrowserDisabled bool
	// Actions backs /actions; nil disables the routes' data (503).
	Actions store.ActionRepository
	Clock   job.Clock
	Logger  *zap.Logger
}

// Server wires HTTP handlers to the engine.
type Server struct {
	router  chi.Router
	engine  Engine
	opts    Options
	started time.Time
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(eng Engine, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	s := &Server{
		engine:  eng,
		opts:    opts,
		started: now(opts.Clock),
		logger:  opts.Logger,
	}
	actions := NewActionHandler(opts.Actions, opts.Logger.Named("actions"))

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(corsMiddleware)
	r.Use(loggingMiddleware(opts.Logger))
	r.Use(recoverMiddleware(opts.Logger))
	r.Use(metrics.Middleware)

	r.Get("/", s.health)
	r.Get("/health", s.health)
	r.Post("/render", s.render)
	r.Post("/extract", s.extract)
	r.Post("/batch", s.batch)
	r.Route("/actions", func(r chi.Router) {
		r.Get("/", actions.ListActions)
		r.Get("/{action_id}", actions.GetAction)
	})
	r.Handle("/metrics", metrics.Handler())

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

type limitsResponse struct {
	MaxParallel int `json:"maxParallel"`
	RPS         int `json:"rps"`
}

type healthResponse struct {
	Status        string         `json:"status"`
	Port          int            `json:"port"`
	Version       string         `json:"version"`
	UptimeMs      int64          `json:"uptime_ms"`
	Browser       string         `json:"browser"`
	SchemaVersion string         `json:"schema_version"`
	Limits        limitsResponse `json:"limits"`
	InFlight      int            `json:"in_flight"`
	Waiting       int            `json:"waiting"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	stats := s.engine.Stats()
	browser := "auto"
	if s.opts.BrowserDisabled {
		browser = "disabled"
	}
	uptime := now(s.opts.Clock).Sub(s.started).Milliseconds()
	if uptime < 0 {
		uptime = 0
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:        "ok",
		Port:          s.opts.Port,
		Version:       s.opts.Version,
		UptimeMs:      uptime,
		Browser:       browser,
		SchemaVersion: job.SchemaVersion,
		Limits: limitsResponse{
			MaxParallel: stats.MaxParallel,
			RPS:         stats.RequestsPerSecond,
		},
		InFlight: stats.InFlight,
		Waiting:  stats.Waiting,
	})
}

func (s *Server) render(w http.ResponseWriter, r *http.Request) {
	var req job.Request
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := s.engine.Render(jobContext(r), req)
	if err != nil {
		s.writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) extract(w http.ResponseWriter, r *http.Request) {
	var req job.Request
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := s.engine.Extract(jobContext(r), req)
	if err != nil {
		s.writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) batch(w http.ResponseWriter, r *http.Request) {
	var req job.BatchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := s.engine.Batch(jobContext(r), req)
	if err != nil {
		s.writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) writeJobError(w http.ResponseWriter, err error) {
	typed := job.AsError(err)
	status := typed.Status()
	if status >= http.StatusInternalServerError && status != http.StatusNotImplemented {
		s.logger.Error("request failed", zap.String("kind", string(typed.Kind)), zap.Error(err))
	}
	writeJSON(w, status, typed.Payload())
}

// decodeBody parses a JSON body. An empty body decodes to the zero value so
// the engine reports the missing field.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

// jobContext keeps request values such as trace spans but drops the
// client's cancellation; started jobs run until their own timeouts.
func jobContext(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

func now(clock job.Clock) time.Time {
	if clock == nil {
		return time.Now()
	}
	return clock.Now()
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// corsMiddleware allows browser-based local tools to call the daemon.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		h.Set("Access-Control-Allow-Headers", "content-type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", RequestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
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

// RequestID returns the id assigned by the request-id middleware.
func RequestID(ctx context.Context) string {
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
