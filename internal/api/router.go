package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/fastprodman/tcgpacks/internal/config"
	"github.com/fastprodman/tcgpacks/internal/infra/logging"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
)

type RouterConfig struct {
	Auth           config.AuthConfig
	RateLimit      config.RateLimitConfig
	AllowedOrigins []string
	Logger         *slog.Logger
}

// NewRouter registers every endpoint on a chi router.
func NewRouter(h *HandlerProvider, cfg RouterConfig) (http.Handler, error) {
	auth, err := newAuthenticator(cfg.Auth, h.users)
	if err != nil {
		return nil, fmt.Errorf("init auth: %w", err)
	}

	limiter, err := newUserLimiter(cfg.RateLimit)
	if err != nil {
		return nil, fmt.Errorf("init rate limiter: %w", err)
	}

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         86400,
	}).Handler)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.With(auth.middleware(true)).Get("/ws", h.NotificationsHandler)

		r.Group(func(r chi.Router) {
			r.Use(auth.middleware(false))

			r.Get("/credits/balance", h.GetBalanceHandler)
			r.Post("/credits/balance", h.SubmitBalanceHandler)
			r.Get("/credits/history", h.HistoryHandler)
			r.Get("/credits/daily", h.DailyStatusHandler)
			r.Post("/credits/daily", h.ClaimDailyHandler)

			r.With(limiter.middleware).Post("/packs/open", h.OpenPackHandler)
			r.Get("/tasks/{requestId}", h.TaskStatusHandler)

			r.Get("/cards", h.CollectionHandler)
			r.Post("/cards/{cardId}/claim", h.ClaimCardHandler)

			r.Route("/admin", func(r chi.Router) {
				r.Use(requireAdmin)

				r.Post("/credits", h.GrantHandler)
				r.Post("/pool", h.AddPoolHandler)
				r.Get("/pool/stats", h.PoolStatsHandler)
				r.Get("/users/{userId}/reconcile", h.ReconcileHandler)
			})
		})
	})

	return r, nil
}

// requestLogger stores a request scoped logger in the context and logs
// every completed request.
func requestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			log := base.With("request_id", middleware.GetReqID(r.Context()))

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r.WithContext(logging.WithLogger(r.Context(), log)))

			log.Info("request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
			)
		})
	}
}
