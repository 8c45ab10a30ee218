package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"tvault-control/internal/middleware"
)

// RouterConfig carries the HTTP-surface settings for NewRouter.
type RouterConfig struct {
	Validator      middleware.JWTValidator
	AllowedOrigins []string
	RateLimit      middleware.RateLimitConfig
}

// NewRouter builds the chi router: request ids, panic recovery, CORS and
// rate limiting on everything; JWT auth on the /v2 API routes.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.Recoverer)
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	if cfg.RateLimit.RequestsPerSecond > 0 {
		r.Use(middleware.RateLimiter(cfg.RateLimit))
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v2/iamserviceaccounts", func(r chi.Router) {
		r.Use(middleware.Authenticate(cfg.Validator))

		r.Get("/", h.List)
		r.Post("/onboard", h.Onboard)
		r.Post("/offboard", h.Offboard)
		r.Post("/activate", h.Activate)

		r.Post("/{accountID}/{name}/keys", h.CreateKey)
		r.Put("/{accountID}/{name}/keys/{keyID}", h.RotateKey)
		r.Delete("/{accountID}/{name}/keys/{keyID}", h.DeleteKey)

		r.Post("/user", h.AddUser)
		r.Delete("/user", h.RemoveUser)
		r.Post("/group", h.AddGroup)
		r.Delete("/group", h.RemoveGroup)
		r.Post("/approle", h.AddAppRole)
		r.Delete("/approle", h.RemoveAppRole)
		r.Post("/awsrole", h.AddAWSRole)
		r.Delete("/awsrole", h.RemoveAWSRole)

		r.Get("/audit", h.ListAudit)
	})

	return r
}
