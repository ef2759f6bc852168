package api

import (
	"net/http"

	"github.com/ashureev/prdesk/internal/identity"
	"github.com/ashureev/prdesk/internal/middleware"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// RouterConfig collects the handlers and limits mounted by NewRouter.
type RouterConfig struct {
	Sessions       *SessionHandler
	Profiles       *ProfileHandler
	Health         *HealthHandler
	Events         http.Handler
	RateLimiter    *middleware.RateLimiter
	MaxBodySize    int64
	AllowedOrigins []string
	IsDevelopment  bool
}

// NewRouter builds the HTTP router.
func NewRouter(cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(identity.Middleware(cfg.IsDevelopment))

	if cfg.Health != nil {
		cfg.Health.RegisterHealth(r)
	}

	var limit func(http.Handler) http.Handler
	if cfg.RateLimiter != nil {
		limit = cfg.RateLimiter.Middleware(func(r *http.Request) string {
			return identity.OwnerIDFromContext(r.Context())
		})
	}

	r.Group(func(r chi.Router) {
		if cfg.MaxBodySize > 0 {
			r.Use(middleware.MaxBodySize(cfg.MaxBodySize))
		}
		if cfg.Sessions != nil {
			cfg.Sessions.RegisterRoutes(r, limit)
		}
		if cfg.Profiles != nil {
			cfg.Profiles.RegisterRoutes(r)
		}
	})

	if cfg.Events != nil {
		r.Method(http.MethodGet, "/ws/sessions/{sessionID}/events", cfg.Events)
	}

	return r
}
