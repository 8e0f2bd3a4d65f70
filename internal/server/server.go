// Package server exposes the voice assistant's HTTP API.
package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/szaher/voxgate/internal/conversation"
	"github.com/szaher/voxgate/internal/session"
	"github.com/szaher/voxgate/internal/telemetry"
	"github.com/szaher/voxgate/internal/transcribe"
)

// DefaultMaxUploadBytes bounds multipart audio uploads.
const DefaultMaxUploadBytes = 25 << 20

// Conversation is the gateway used by POST /api/llm.
type Conversation interface {
	Converse(ctx context.Context, prompt conversation.Prompt, sessionID string) (*conversation.Reply, error)
	Model() string
}

// AudioSaver persists uploads before transcription.
type AudioSaver interface {
	Save(r io.Reader, ext string) (string, error)
}

// Server is the voxgate HTTP server.
type Server struct {
	mux    *http.ServeMux
	server *http.Server
	logger *slog.Logger

	sessions    *session.Store
	gateway     Conversation
	transcriber transcribe.Transcriber
	provider    string
	audio       AudioSaver
	metrics     *telemetry.Metrics
	tracer      *telemetry.Tracer
	limiter     *RateLimiter

	maxUploadBytes int64
	readTimeout    time.Duration
	writeTimeout   time.Duration
	startTime      time.Time
}

// Option configures the Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithTranscriber enables POST /api/transcribe. provider is reported in spans.
func WithTranscriber(t transcribe.Transcriber, provider string) Option {
	return func(s *Server) {
		s.transcriber = t
		s.provider = provider
	}
}

// WithAudioStore keeps a copy of each upload on disk.
func WithAudioStore(a AudioSaver) Option {
	return func(s *Server) { s.audio = a }
}

// WithMetrics enables request metrics and GET /metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithTracer records spans for upstream calls.
func WithTracer(t *telemetry.Tracer) Option {
	return func(s *Server) { s.tracer = t }
}

// WithRateLimit enables per-client rate limiting on /api/ routes.
// A non-positive rate disables it.
func WithRateLimit(cfg RateLimitConfig) Option {
	return func(s *Server) {
		if cfg.RequestsPerSecond <= 0 || cfg.Burst <= 0 {
			s.limiter = nil
			return
		}
		s.limiter = NewRateLimiter(cfg)
	}
}

// WithMaxUploadBytes bounds audio uploads.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUploadBytes = n
		}
	}
}

// WithTimeouts sets the listener's read and write timeouts.
func WithTimeouts(read, write time.Duration) Option {
	return func(s *Server) {
		s.readTimeout = read
		s.writeTimeout = write
	}
}

// New creates the HTTP server.
func New(sessions *session.Store, gateway Conversation, opts ...Option) *Server {
	s := &Server{
		sessions:       sessions,
		gateway:        gateway,
		logger:         slog.Default(),
		tracer:         telemetry.NewTracer(nil),
		maxUploadBytes: DefaultMaxUploadBytes,
		startTime:      time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/llm", s.handleLLM)
	mux.HandleFunc("POST /api/session", s.handleCreateSession)
	mux.HandleFunc("DELETE /api/session", s.handleDeleteSession)
	mux.HandleFunc("GET /api/session/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /api/session/{id}/history", s.handleClearHistory)
	mux.HandleFunc("POST /api/transcribe", s.handleTranscribe)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	s.mux = mux
	return s
}

// Handler returns the HTTP handler for use with httptest or custom servers.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	if s.limiter != nil {
		h = s.limiter.Middleware(ClientIPKeyFunc)(h)
	}
	h = s.metricsMiddleware(h)
	h = s.accessLogMiddleware(h)
	return telemetry.CorrelationMiddleware(s.logger)(h)
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln. It returns http.ErrServerClosed after Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
	}
	s.logger.Info("voxgate server starting", "addr", ln.Addr().String(), "transcription", s.transcriber != nil)
	return s.server.Serve(ln)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	if s.metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		s.metrics.RecordHTTPRequest(r.Method, route, rec.status)
	})
}

func (s *Server) accessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		telemetry.Logger(r.Context(), s.logger).Debug("request served",
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}
