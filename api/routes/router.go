package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/greenmile-app/greenmile-backend/api/controllers"
	deliverycontrollers "github.com/greenmile-app/greenmile-backend/api/controllers/deliveries"
	ordercontrollers "github.com/greenmile-app/greenmile-backend/api/controllers/orders"
	walletcontrollers "github.com/greenmile-app/greenmile-backend/api/controllers/wallets"
	webhookcontrollers "github.com/greenmile-app/greenmile-backend/api/controllers/webhooks"
	"github.com/greenmile-app/greenmile-backend/api/middleware"
	"github.com/greenmile-app/greenmile-backend/internal/dispatch"
	"github.com/greenmile-app/greenmile-backend/internal/orders"
	"github.com/greenmile-app/greenmile-backend/internal/wallets"
	"github.com/greenmile-app/greenmile-backend/pkg/config"
	"github.com/greenmile-app/greenmile-backend/pkg/enums"
	"github.com/greenmile-app/greenmile-backend/pkg/logger"
	"github.com/greenmile-app/greenmile-backend/pkg/metrics"
	"github.com/greenmile-app/greenmile-backend/pkg/redis"
)

// RouterParams bundles everything the HTTP surface needs.
type RouterParams struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         controllers.Pinger
	Redis      *redis.Client
	Orders     orders.Service
	Dispatch   dispatch.Service
	Wallets    wallets.Service
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

func NewRouter(p RouterParams) http.Handler {
	cfg := p.Config
	logg := p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.CORS(),
		middleware.Logging(logg),
		middleware.Metrics(metrics.NewHTTPMetrics(p.Registerer)),
	)

	readinessDeps := map[string]controllers.Pinger{}
	if p.DB != nil {
		readinessDeps["db"] = p.DB
	}
	if p.Redis != nil {
		readinessDeps["redis"] = p.Redis
	}
	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, readinessDeps))
	})

	if p.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(p.Gatherer, promhttp.HandlerOpts{}))
	}

	webhookPolicy := middleware.NewRateLimitPolicy(
		"webhooks",
		cfg.Webhooks.RateLimitWindow,
		cfg.Webhooks.RateLimitPerIP,
	)
	r.Route("/api/v1/webhooks", func(r chi.Router) {
		if p.Redis != nil {
			r.Use(middleware.RateLimit(webhookPolicy, p.Redis, logg))
		}
		r.Post("/payment", webhookcontrollers.Payment(p.Orders, cfg.Webhooks.SigningSecret, logg))
		r.Post("/payout", webhookcontrollers.Payout(p.Wallets, cfg.Webhooks.SigningSecret, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		if p.Redis != nil {
			r.Use(middleware.Idempotency(p.Redis, logg))
		}

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", ordercontrollers.List(p.Orders, logg))
			r.With(middleware.RequireRole(logg, enums.ActorRoleCustomer)).
				Post("/", ordercontrollers.Create(p.Orders, logg))
			r.Get("/{orderID}", ordercontrollers.Detail(p.Orders, logg))
			r.Post("/{orderID}/transition", ordercontrollers.Transition(p.Orders, logg))
			r.Post("/{orderID}/cancel", ordercontrollers.Cancel(p.Orders, logg))
		})

		r.Route("/deliveries", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.ActorRoleRider, enums.ActorRolePlatform))
			r.Get("/available", deliverycontrollers.ListAvailable(p.Dispatch, logg))
			r.Get("/mine", deliverycontrollers.ListMine(p.Dispatch, logg))
			r.Post("/{deliveryID}/accept", deliverycontrollers.Accept(p.Dispatch, logg))
			r.Post("/{deliveryID}/advance", deliverycontrollers.Advance(p.Dispatch, logg))
			r.Post("/{deliveryID}/cancel", deliverycontrollers.Cancel(p.Dispatch, logg))
		})

		r.Route("/wallet", func(r chi.Router) {
			r.Get("/", walletcontrollers.Get(p.Wallets, logg))
			r.Get("/transactions", walletcontrollers.Transactions(p.Wallets, logg))
			r.Post("/withdrawals", walletcontrollers.Withdraw(p.Wallets, logg))
			r.Route("/bank-accounts", func(r chi.Router) {
				r.Get("/", walletcontrollers.ListBankAccounts(p.Wallets, logg))
				r.Post("/", walletcontrollers.AddBankAccount(p.Wallets, logg))
				r.Delete("/{accountID}", walletcontrollers.RemoveBankAccount(p.Wallets, logg))
			})
		})
	})

	return r
}
