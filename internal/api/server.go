// Package api exposes the estimator over JSON HTTP.
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/importduty/internal/cache"
	"github.com/sells-group/importduty/internal/fxrate"
	"github.com/sells-group/importduty/internal/session"
)

// Config configures the HTTP surface.
type Config struct {
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
}

// RateInfo reports the exchange rate.
type RateInfo interface {
	Rate(ctx context.Context) float64
	Info() fxrate.Info
}

// CacheAdmin exposes the option caches.
type CacheAdmin interface {
	CacheStats() []cache.Stats
	ClearCache()
}

// Deps are the components served by the API.
type Deps struct {
	Forms    session.Deps
	Registry *session.Registry
	Rates    RateInfo
	Cache    CacheAdmin
}

// Server routes API requests.
type Server struct {
	cfg     Config
	deps    Deps
	limiter *rate.Limiter
	router  chi.Router
}

// New builds the router.
func New(cfg Config, deps Deps) *Server {
	s := &Server{cfg: cfg, deps: deps}
	if cfg.RateLimitRPS > 0 {
		burst := cfg.RateLimitBurst
		if burst <= 0 {
			burst = int(cfg.RateLimitRPS)
		}
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), burst)
	}
	s.router = s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	origins := s.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(s.rateLimit)

		r.Route("/options", func(r chi.Router) {
			r.Get("/seed", s.handleSeed)
			r.Get("/models", s.handleModels)
			r.Get("/specs", s.handleSpecs)
			r.Get("/countries", s.handleCountries)
		})

		r.Get("/rate", s.handleRate)
		r.Post("/estimate", s.handleEstimate)

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", s.handleCreateSession)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetSession)
				r.Put("/fields/{field}", s.handleSetField)
				r.Post("/calculate", s.handleCalculate)
				r.Post("/reset", s.handleReset)
			})
		})

		r.Route("/admin/cache", func(r chi.Router) {
			r.Get("/", s.handleCacheStats)
			r.Post("/clear", s.handleCacheClear)
		})
	})

	return r
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "too many requests"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		}
		if status >= http.StatusInternalServerError {
			zap.L().Error("http request", fields...)
			return
		}
		if !strings.HasPrefix(r.URL.Path, "/health") {
			zap.L().Info("http request", fields...)
		}
	})
}
