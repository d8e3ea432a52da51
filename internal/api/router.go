package api

import (
	"net/http"

	"github.com/dalepay/wallet-movements/internal/api/handler"
	"github.com/dalepay/wallet-movements/internal/api/middleware"
	"github.com/dalepay/wallet-movements/internal/api/spec"
	"github.com/dalepay/wallet-movements/internal/config"
	"github.com/dalepay/wallet-movements/internal/instrument"
	"github.com/dalepay/wallet-movements/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
)

// Deps are the services the HTTP layer routes to. DB and Redis are only
// used by the readiness probe and may be nil in tests.
type Deps struct {
	Movements   *service.MovementService
	Quotes      *service.QuoteService
	Instruments *instrument.Validator
	Idempotency middleware.IdempotencyStore
	DB          handler.Pinger
	Redis       redis.Cmdable
}

type Router struct {
	cfg    *config.Config
	logger *zap.Logger
	deps   Deps
}

func NewRouter(cfg *config.Config, logger *zap.Logger, deps Deps) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{cfg: cfg, logger: logger, deps: deps}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.RecoverMiddleware(api.logger))
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)

	healthHandler := handler.NewHealthHandler(api.deps.DB, api.deps.Redis)
	quoteHandler := handler.NewQuoteHandler(api.deps.Quotes)
	instrumentHandler := handler.NewInstrumentHandler(api.deps.Instruments)
	movementHandler := handler.NewMovementHandler(api.deps.Movements)

	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/openapi.yaml", spec.OpenAPIHandler())
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))

	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.cfg.PublicRateLimitRPS))
		r.Post("/v1/quotes", quoteHandler.Quote)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)
		r.Use(middleware.AccountRateLimiter(api.cfg.AuthRateLimitRPS))

		r.Post("/v1/instruments/cards/validate", instrumentHandler.ValidateCard)
		r.Post("/v1/instruments/bank-accounts/validate", instrumentHandler.ValidateBankAccount)

		r.Post("/v1/movements", movementHandler.Open)
		r.Get("/v1/movements/current", movementHandler.Current)
		r.Route("/v1/movements/{id}", func(r chi.Router) {
			r.Get("/", movementHandler.Get)
			r.Patch("/", movementHandler.Update)
			r.Delete("/", movementHandler.Discard)
			r.Post("/review", movementHandler.Review)
			r.With(middleware.IdempotencyMiddleware(api.deps.Idempotency, api.logger)).
				Post("/confirm", movementHandler.Confirm)
			r.Post("/cancel", movementHandler.Cancel)
			r.Post("/retry", movementHandler.Retry)
		})
	})

	return r
}
