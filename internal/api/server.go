package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/yangwenmai/gitpodcast/internal/model"
	"github.com/yangwenmai/gitpodcast/internal/podcast"
)

// maxRequestBody is the maximum allowed request body size (1 MB).
const maxRequestBody int64 = 1 << 20

// Podcaster is the orchestration surface the handlers drive.
type Podcaster interface {
	FetchDiagram(ctx context.Context, req model.GenerationRequest) podcast.Result[model.DiagramArtifact]
	ModifyDiagram(ctx context.Context, req model.GenerationRequest) podcast.Result[model.DiagramArtifact]
	EstimateCost(ctx context.Context, req model.GenerationRequest) podcast.Result[model.CostEstimate]
	FetchAudio(ctx context.Context, req model.GenerationRequest) podcast.Result[model.AudioArtifact]
	CachedDiagram(ctx context.Context, owner, repo string) podcast.Result[model.DiagramArtifact]
}

// Server holds the HTTP handlers and dependencies.
type Server struct {
	podcaster     Podcaster
	router        chi.Router
	limiter       *clientLimiter
	corsOrigin    string
	audioLength   model.AudioLength
	logger        *slog.Logger
	sweepEvery    time.Duration
	ratePerMinute int
}

// Option configures a Server.
type Option func(*Server)

// WithCORSOrigin sets the allowed CORS origin (default "*").
func WithCORSOrigin(origin string) Option {
	return func(s *Server) { s.corsOrigin = origin }
}

// WithDefaultAudioLength sets the audio length used when a request omits it.
func WithDefaultAudioLength(l model.AudioLength) Option {
	return func(s *Server) { s.audioLength = l }
}

// WithRateLimit caps requests per client IP per minute. Zero disables it.
func WithRateLimit(perMinute int) Option {
	return func(s *Server) { s.ratePerMinute = perMinute }
}

// WithLogger sets the request logger (default: slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates a new API server.
func New(p Podcaster, opts ...Option) *Server {
	srv := &Server{
		podcaster:   p,
		corsOrigin:  "*",
		audioLength: model.AudioShort,
		logger:      slog.Default(),
		sweepEvery:  time.Minute,
	}
	for _, opt := range opts {
		opt(srv)
	}
	if srv.ratePerMinute > 0 {
		srv.limiter = newClientLimiter(srv.ratePerMinute)
	}
	srv.routes()
	return srv
}

// Handler returns the root http.Handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs background maintenance (stale limiter eviction) until ctx is
// cancelled.
func (s *Server) Start(ctx context.Context) {
	if s.limiter == nil {
		return
	}
	s.logger.Info("rate limiter sweeper started", "interval", s.sweepEvery.String())
	ticker := time.NewTicker(s.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("rate limiter sweeper stopped")
			return
		case <-ticker.C:
			if n := s.limiter.sweep(time.Now(), 2*s.sweepEvery); n > 0 {
				s.logger.Debug("evicted idle clients", "count", n)
			}
		}
	}
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(s.corsHandler())
	if s.limiter != nil {
		r.Use(s.limiter.middleware)
	}
	r.Use(limitBody)
	r.Use(jsonContent)

	r.Get("/healthz", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Post("/generate", s.handleGenerate)
		r.Post("/modify", s.handleModify)
		r.Post("/cost", s.handleCost)
		r.Post("/audio", s.handleAudio)
		r.Get("/diagrams/{owner}/{repo}", s.handleCachedDiagram)
	})
	s.router = r
}

// ---------------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------------

func (s *Server) corsHandler() func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins: []string{s.corsOrigin},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	})
}

// requestLogger logs one structured line per request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
		)
	})
}

// limitBody restricts the request body to maxRequestBody bytes.
func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
		next.ServeHTTP(w, r)
	})
}

func jsonContent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// ---------------------------------------------------------------------------
// Response helpers
// ---------------------------------------------------------------------------

type errorResponse struct {
	Error          string `json:"error"`
	Code           string `json:"code,omitempty"`
	RequiresAPIKey bool   `json:"requires_api_key,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeFailure(w http.ResponseWriter, f *podcast.Failure) {
	writeJSON(w, statusFor(f), errorResponse{
		Error:          f.Message,
		Code:           string(f.Code),
		RequiresAPIKey: f.RequiresAPIKey,
	})
}

func statusFor(f *podcast.Failure) int {
	switch f.Code {
	case model.CodeRateLimited:
		return http.StatusTooManyRequests
	case model.CodeNoExistingArtifact:
		return http.StatusNotFound
	case model.CodeInvalidInput, model.CodeInvalidKey:
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}
