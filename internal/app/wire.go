package app

import (
	"log/slog"
	"net/http"

	"github.com/carpoolhub/platform/internal/auth"
	"github.com/carpoolhub/platform/internal/guard"
	"github.com/carpoolhub/platform/internal/handler"
	"github.com/carpoolhub/platform/internal/infra"
	"github.com/carpoolhub/platform/internal/ledger"
	"github.com/carpoolhub/platform/internal/policy"
	"github.com/carpoolhub/platform/internal/provider"
	"github.com/carpoolhub/platform/internal/repository"
	"github.com/carpoolhub/platform/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// Services holds the wired wallet services.
type Services struct {
	Engine       *ledger.Engine
	Stripe       *provider.StripeProvider
	Wallet       *service.WalletService
	Payouts      *service.PayoutService
	Recharges    *service.RechargeService
	Reservations *service.ReservationService
	Reconciler   *service.Reconciler
	Sweeper      *service.Sweeper
}

// ServiceDeps holds what NewServices needs. Redis may be nil; the payout
// rate limiter then runs in process memory.
type ServiceDeps struct {
	Config  *infra.Config
	Pool    repository.Pool
	Repos   repository.Repositories
	Redis   *redis.Client
	Metrics *infra.Metrics
	Logger  *slog.Logger
}

// NewServices wires the ledger engine, the instrumented provider client and
// every service on top of them.
func NewServices(deps ServiceDeps) (*Services, error) {
	cfg := deps.Config
	logger := deps.Logger

	rate, err := cfg.Commission()
	if err != nil {
		return nil, err
	}
	platformUser, err := cfg.PlatformUser()
	if err != nil {
		return nil, err
	}

	engine := ledger.NewEngine(deps.Repos, rate, deps.Metrics)

	stripe := provider.NewStripeProvider(cfg.StripeSecretKey, cfg.StripeWebhookSecret, cfg.StripeAPIBase, cfg.ProviderTimeout, logger)
	breaker := guard.NewCircuitBreaker(cfg.BreakerThreshold, cfg.BreakerResetAfter)
	prov := provider.NewInstrumented(stripe, breaker, deps.Metrics)

	var limiter guard.Limiter = guard.NewRateLimiter(cfg.PayoutRateLimit, cfg.PayoutRateWindow)
	if deps.Redis != nil {
		limiter = guard.NewRedisRateLimiter(deps.Redis, cfg.PayoutRateLimit, cfg.PayoutRateWindow, "carpool:payout-rate:", logger)
	}
	limits := policy.PayoutLimitPolicy{
		SingleMin: cfg.PayoutMinAmount,
		SingleMax: cfg.PayoutMaxAmount,
		DailyMax:  cfg.PayoutDailyMax,
	}
	urls := service.CheckoutURLs{Success: cfg.CheckoutSuccessURL, Cancel: cfg.CheckoutCancelURL}

	s := &Services{Engine: engine, Stripe: stripe}
	s.Wallet = service.NewWalletService(deps.Pool, deps.Repos, engine, logger)
	s.Payouts = service.NewPayoutService(deps.Pool, deps.Repos, engine, prov, limiter, limits, deps.Metrics, logger)
	s.Recharges = service.NewRechargeService(deps.Pool, deps.Repos, engine, prov, urls, deps.Metrics, logger)
	s.Reservations = service.NewReservationService(deps.Pool, deps.Repos, engine, prov, urls, platformUser, deps.Metrics, logger)
	s.Reconciler = service.NewReconciler(deps.Pool, deps.Repos, s.Payouts, s.Recharges, s.Reservations, deps.Metrics, logger)
	s.Sweeper = service.NewSweeper(deps.Pool, deps.Repos, s.Payouts, s.Recharges, s.Reconciler, service.SweepConfig{
		StaleAfter:  cfg.SweepStaleAfter,
		BatchSize:   cfg.SweepBatchSize,
		MaxAttempts: cfg.EventMaxAttempts,
	}, deps.Metrics, logger)
	return s, nil
}

// RouterDeps holds all dependencies needed by NewRouter.
type RouterDeps struct {
	Services *Services
	JWTMgr   *auth.JWTManager
	Logger   *slog.Logger
	// Health dependencies pinged by /health
	Health map[string]infra.Pinger
	// Gatherer backs /metrics; nil leaves it unmounted
	Gatherer           prometheus.Gatherer
	CORSAllowedOrigins string
}

// NewRouter assembles the chi.Router with all routes and middleware.
func NewRouter(deps RouterDeps) chi.Router {
	svc := deps.Services
	jwtMgr := deps.JWTMgr
	logger := deps.Logger

	// Handlers
	walletHandler := handler.NewWalletHandler(svc.Wallet)
	paymentHandler := handler.NewPaymentHandler(svc.Payouts, svc.Recharges, svc.Reservations, svc.Wallet)
	adminHandler := handler.NewAdminHandler(svc.Wallet)
	webhookHandler := handler.NewWebhookHandler(map[string]handler.WebhookSource{
		"stripe": {Verifier: svc.Stripe, SignatureHeader: "Stripe-Signature"},
	}, svc.Reconciler, logger)

	r := chi.NewRouter()

	// Global middleware (order matters)
	r.Use(handler.Recovery(logger))
	r.Use(handler.RequestID)
	r.Use(handler.RequestLogger(logger))
	r.Use(handler.CORSWithOrigins(deps.CORSAllowedOrigins))

	r.Get("/health", handler.HealthHandler(deps.Health))
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(handler.JSONContentType)

		// Webhooks (no auth; the signature authenticates the sender)
		r.Post("/api/webhook/{source}", webhookHandler.Handle)

		r.Route("/api/payment", func(r chi.Router) {
			r.Use(auth.Authenticate(jwtMgr))

			r.Get("/wallet-balance", walletHandler.GetBalance)
			r.Get("/wallet-transactions", walletHandler.GetTransactions)

			r.Post("/wallet-payout", paymentHandler.RequestPayout)
			r.Get("/wallet-payouts", paymentHandler.ListPayouts)
			r.Get("/wallet-payouts/{id}", paymentHandler.GetPayout)

			r.Post("/wallet-recharge", paymentHandler.InitiateRecharge)
			r.Get("/wallet-recharges", paymentHandler.ListRecharges)

			r.Post("/reservations/{id}/checkout", paymentHandler.ReservationCheckout)
			r.Post("/reservations/{id}/authorize", paymentHandler.AuthorizeReservation)
			r.Post("/reservations/{id}/pay-with-wallet", paymentHandler.PayReservationWithWallet)
		})

		r.Route("/api/admin", func(r chi.Router) {
			r.Use(auth.Authenticate(jwtMgr))
			r.Use(auth.RequireRole(auth.RoleAdmin))

			r.Patch("/wallets/{userID}/status", adminHandler.SetAccountStatus)
			r.Get("/wallets/{userID}/audit", adminHandler.Audit)
		})
	})

	return r
}
