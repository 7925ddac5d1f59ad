package server

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"sync"
	"time"

	"festival-platform/internal/config"
	"festival-platform/internal/handlers"
	"festival-platform/internal/metrics"
	"festival-platform/internal/middleware"
	"festival-platform/internal/repositories"
	"festival-platform/internal/repositories/memory"
	"festival-platform/internal/services"
)

// Repositories is the storage the services run on
type Repositories struct {
	Name     string
	Catalog  services.CatalogReader
	Bookings services.BookingStore
	Sessions services.CartSessionStore
	Attempts services.AttemptStore
	Flags    services.ReconciliationStore
	Checkout services.CheckoutStore
	Outbox   services.OutboxStore
	Orders   services.OrderReader
	Health   func(ctx context.Context) error
}

// PostgresRepositories builds the SQL repositories over db
func PostgresRepositories(db *sql.DB) Repositories {
	return Repositories{
		Name:     "postgres",
		Catalog:  repositories.NewCatalogRepository(db),
		Bookings: repositories.NewBookingRepository(db),
		Sessions: repositories.NewCartSessionRepository(db),
		Attempts: repositories.NewCheckoutAttemptRepository(db),
		Flags:    repositories.NewReconciliationRepository(db),
		Checkout: repositories.NewCheckoutRepository(db),
		Outbox:   repositories.NewOutboxRepository(db),
		Orders:   repositories.NewOrderRepository(db),
		Health:   db.PingContext,
	}
}

// MemoryRepositories builds in-process repositories over store
func MemoryRepositories(store *memory.Store) Repositories {
	return Repositories{
		Name:     "memory",
		Catalog:  memory.NewCatalogRepository(store),
		Bookings: memory.NewBookingRepository(store),
		Sessions: memory.NewCartSessionRepository(store),
		Attempts: memory.NewCheckoutAttemptRepository(store),
		Flags:    memory.NewReconciliationRepository(store),
		Checkout: memory.NewCheckoutRepository(store),
		Outbox:   memory.NewOutboxRepository(store),
		Orders:   memory.NewOrderRepository(store),
	}
}

// App holds the wired services, the HTTP handler and the background workers
type App struct {
	Config   *config.Config
	Metrics  *metrics.Metrics
	Gateways *services.GatewayRegistry
	Cart     *services.CartService
	Checkout *services.CheckoutOrchestrator
	Sweeper  *services.ExpirySweeper
	Relay    *services.OutboxRelay
	Handler  http.Handler

	publisher *services.KafkaPublisher
	limiter   *middleware.RateLimiter
}

// NewApp wires services and handlers on repos
func NewApp(cfg *config.Config, repos Repositories, m *metrics.Metrics) *App {
	gateways, stripe, paypal := buildGateways(cfg)

	pricing := services.NewPricingAggregator(repos.Catalog, repos.Bookings, cfg.Checkout.Currency)
	reservations := services.NewReservationManager(repos.Catalog, repos.Bookings, cfg.Checkout.ReservationTTL, m)
	cart := services.NewCartService(repos.Catalog, pricing, reservations, repos.Sessions, m)
	checkout := services.NewCheckoutOrchestrator(
		pricing,
		gateways,
		repos.Attempts,
		repos.Sessions,
		repos.Flags,
		services.NewCommitter(repos.Checkout, services.CheckoutCommittedTopic),
		m,
	)
	publisher := services.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.TopicPrefix)

	store := middleware.NewCookieStore(cfg.Session.Secret, cfg.IsProduction(), cfg.Checkout.CartSessionTTL)
	sessions := middleware.NewSessionMiddleware(store)
	limiter := middleware.NewRateLimiter(cfg.Server.CheckoutRateLimit, time.Minute)

	h := Handlers{
		Cart:     handlers.NewCartHandler(cart),
		Checkout: handlers.NewCheckoutHandler(cart, checkout, gateways),
		Orders:   handlers.NewOrderHandler(services.NewOrderService(repos.Orders)),
		Admin:    handlers.NewAdminHandler(checkout, cfg.Checkout.ReconcileAfter),
		Webhooks: handlers.NewWebhookHandler(checkout, stripe, paypal),
	}
	if !cfg.IsProduction() {
		h.DevSession = handlers.NewDevSessionHandler(sessions)
	}

	return &App{
		Config:   cfg,
		Metrics:  m,
		Gateways: gateways,
		Cart:     cart,
		Checkout: checkout,
		Sweeper:  services.NewExpirySweeper(reservations, repos.Sessions, cfg.Checkout.CartSessionTTL, m),
		Relay:    services.NewOutboxRelay(repos.Outbox, publisher, 100, m),
		Handler: NewRouter(h, Options{
			Sessions:        sessions,
			Metrics:         m,
			CORS:            middleware.DefaultCORSConfig(cfg.Server.AllowedOrigins...),
			CheckoutLimiter: limiter,
			Production:      cfg.IsProduction(),
			Health:          repos.Health,
			Storage:         repos.Name,
		}),
		publisher: publisher,
		limiter:   limiter,
	}
}

// buildGateways registers every gateway with credentials. The mock gateway
// is only offered outside production.
func buildGateways(cfg *config.Config) (*services.GatewayRegistry, *services.StripeGateway, *services.PayPalGateway) {
	registry := services.NewGatewayRegistry(services.NewManualGateway())

	var stripe *services.StripeGateway
	if cfg.Stripe.SecretKey != "" {
		stripe = services.NewStripeGateway(services.StripeConfig{
			SecretKey:     cfg.Stripe.SecretKey,
			WebhookSecret: cfg.Stripe.WebhookSecret,
		})
		registry.Register(stripe)
	}

	var paypal *services.PayPalGateway
	if cfg.PayPal.ClientID != "" && cfg.PayPal.ClientSecret != "" {
		paypal = services.NewPayPalGateway(services.PayPalConfig{
			ClientID:     cfg.PayPal.ClientID,
			ClientSecret: cfg.PayPal.ClientSecret,
			Environment:  cfg.PayPal.Environment,
			WebhookID:    cfg.PayPal.WebhookID,
		})
		registry.Register(paypal)
	}

	if !cfg.IsProduction() {
		registry.Register(services.NewMockGateway())
	}

	log.Printf("checkout: payment gateways %v", registry.Names())
	return registry, stripe, paypal
}

// RunWorkers starts the sweeper, reconciler and outbox relay and blocks until
// ctx is cancelled and all of them have stopped
func (a *App) RunWorkers(ctx context.Context) {
	var wg sync.WaitGroup
	run := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	run(func() { a.Sweeper.Run(ctx, a.Config.Checkout.SweepInterval) })
	run(func() {
		services.RunEvery(ctx, "reconciler", a.Config.Checkout.ReconcileInterval, func(ctx context.Context) error {
			_, err := a.Checkout.ReconcileAwaiting(ctx, a.Config.Checkout.ReconcileAfter, 100)
			return err
		})
	})
	if a.publisher.Enabled() {
		run(func() { a.Relay.Run(ctx, a.Config.Checkout.OutboxInterval) })
	} else {
		log.Println("outbox: no Kafka brokers configured, events stay in the outbox")
	}

	wg.Wait()
}

// Close releases the rate limiter and the Kafka writers
func (a *App) Close() error {
	a.limiter.Stop()
	return a.publisher.Close()
}
