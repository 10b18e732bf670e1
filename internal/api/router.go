package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/sparkgate/sparkgate/internal/auth"
	"github.com/sparkgate/sparkgate/internal/chat"
	"github.com/sparkgate/sparkgate/internal/metrics"
	"github.com/sparkgate/sparkgate/internal/ratelimit"
)

// RouterDeps holds all dependencies for the API router.
type RouterDeps struct {
	Engine   QueryRunner
	Chat     ChatContinuer
	Models   ModelSource
	Balances BalanceReader
	Usage    UsageReader
	Auth     *auth.Service
	Limiter  *ratelimit.Limiter
	Metrics  *metrics.Metrics
	// Tokens seals and opens chat context tokens. Nil means plain encoding.
	Tokens *chat.Codec
	// AllowedOrigins configures CORS; empty disables it.
	AllowedOrigins []string
}

// NewRouter builds the chi router with all routes and middleware.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(secureHeaders)
	r.Use(slogRequestLogger)
	if len(deps.AllowedOrigins) > 0 {
		r.Use(corsMiddleware(deps.AllowedOrigins))
	}
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}

	// Handlers.
	query := newQueryHandler(deps.Engine, deps.Models, deps.Tokens, deps.Metrics)
	conversations := newChatHandler(deps.Chat, deps.Models, deps.Tokens)
	models := newModelsHandler(deps.Models)
	accounts := newAccountHandler(deps.Balances, deps.Usage)

	// Health check.
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Metrics snapshot.
	if deps.Metrics != nil {
		r.Get("/metrics", deps.Metrics.Handler())
	}

	// Well-known manifest.
	r.Get("/.well-known/sparkgate.json", WellKnownHandler)

	// Public (unauthenticated) routes.
	r.Get("/api/v1/models", models.ListModels)

	// Account-authed routes (require API key + rate limiting).
	r.Route("/api/v1", func(ar chi.Router) {
		ar.Use(auth.Middleware(deps.Auth))
		if deps.Limiter != nil {
			ar.Use(ratelimit.Middleware(deps.Limiter, rejectionCounter(deps.Metrics)))
		}

		ar.Post("/query", query.Dispatch)
		ar.Post("/chat", conversations.Continue)
		ar.Get("/balance", accounts.GetBalance)
		ar.Get("/usage", accounts.GetUsage)
		ar.Get("/usage/charges", accounts.ListCharges)
	})

	return r
}

func rejectionCounter(m *metrics.Metrics) func() {
	if m == nil {
		return func() {}
	}
	return func() { m.RateLimitRejectionsTotal.Inc() }
}

// slogRequestLogger is a simple structured logging middleware using slog.
func slogRequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"bytes", ww.BytesWritten(),
		)
	})
}
