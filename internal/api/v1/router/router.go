package router

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"morphflux/internal/api/v1/handler"
	"morphflux/internal/api/v1/response"
	"morphflux/internal/middleware"
	"morphflux/internal/ratelimit"
	"morphflux/internal/service"
	"morphflux/internal/token"
)

// APIPrefix is where every versioned route is mounted.
const APIPrefix = "/api/v1"

type Services struct {
	Auth            service.AuthService
	Users           service.UserService
	Images          service.ImageService
	Transformations service.TransformationService
	DLQ             service.DLQService
}

type Options struct {
	Tokens *token.Service
	// UserLookup loads the account named by an access token.
	UserLookup middleware.UserLookup
	// IPLimiter is optional; nil disables per-address throttling.
	IPLimiter      *ratelimit.IPLimiter
	PubSubAuth     middleware.PubSubAuthConfig
	AllowedOrigins []string
	// Health reports whether backing stores are reachable.
	Health func(ctx context.Context) error
}

// New wires handlers and middleware into the API's HTTP handler.
func New(svc Services, opts Options, logger zerolog.Logger) http.Handler {
	validate := handler.NewValidator()
	auth := middleware.NewAuthenticator(opts.Tokens, opts.UserLookup, logger)
	pushAuth := middleware.PubSubAuth(opts.PubSubAuth, logger.With().Str("middleware", "pubsub_auth").Logger())

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimw.Recoverer)

	r.Get("/health", healthHandler(opts.Health))

	r.Route(APIPrefix, func(r chi.Router) {
		if opts.IPLimiter != nil {
			r.Use(middleware.RateLimit(opts.IPLimiter, logger))
		}
		handler.NewAuthHandler(svc.Auth, validate, logger).RegisterRoutes(r, auth.Authenticate)
		handler.NewUserHandler(svc.Users, validate, logger).RegisterRoutes(r, auth.Authenticate)
		handler.NewUploadHandler(svc.Images, validate, logger).RegisterRoutes(r, auth.Authenticate)
		handler.NewTransformationHandler(svc.Transformations, validate, logger).RegisterRoutes(r, auth.Authenticate)
		handler.NewWorkerHandler(svc.Transformations, svc.DLQ, logger).RegisterRoutes(r, pushAuth)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.Fail(w, http.StatusNotFound, "Route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		response.Fail(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	c := cors.New(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	logger.Info().Msg("Router initialized")
	return c.Handler(r)
}

func healthHandler(check func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				response.JSON(w, http.StatusServiceUnavailable, response.Envelope{
					Error: "Service unavailable",
					Data:  map[string]string{"status": "degraded"},
				})
				return
			}
		}
		response.OK(w, http.StatusOK, "", map[string]string{"status": "ok"})
	}
}
