package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"

	"github.com/utafrali/marketplace/internal/config"
	"github.com/utafrali/marketplace/internal/event"
	"github.com/utafrali/marketplace/internal/gateway"
	handler "github.com/utafrali/marketplace/internal/handler/http"
	"github.com/utafrali/marketplace/internal/policy"
	"github.com/utafrali/marketplace/internal/repository"
	"github.com/utafrali/marketplace/internal/repository/memory"
	"github.com/utafrali/marketplace/internal/repository/postgres"
	redisrepo "github.com/utafrali/marketplace/internal/repository/redis"
	"github.com/utafrali/marketplace/internal/service"
	"github.com/utafrali/marketplace/migrations"
	"github.com/utafrali/marketplace/pkg/database"
	"github.com/utafrali/marketplace/pkg/health"
	"github.com/utafrali/marketplace/pkg/httpclient"
	pkgkafka "github.com/utafrali/marketplace/pkg/kafka"
	"github.com/utafrali/marketplace/pkg/middleware"
	"github.com/utafrali/marketplace/pkg/tracing"
)

// App wires together all dependencies and runs the marketplace server.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redis          *goredis.Client
	producer       *pkgkafka.Producer
	market         *service.MarketService
	limiter        *middleware.RateLimiter
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
// Partially initialized resources are released when a later step fails.
func NewApp(cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.closeResources()
		}
	}()

	a.tracerShutdown, err = tracing.InitTracer(ctx, cfg.Tracing())
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	carts, err := a.cartRepository(ctx)
	if err != nil {
		return nil, err
	}
	purchases, err := a.purchaseRepository(ctx)
	if err != nil {
		return nil, err
	}

	var notifier service.NotificationSink
	if len(cfg.KafkaBrokers) > 0 {
		a.producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		notifier = event.NewNotifier(a.producer, logger)
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	} else {
		notifier = event.NewLogNotifier(logger)
		logger.Info("no kafka brokers configured, notifications are logged only")
	}

	payment, supply := a.gateways()

	engine, err := policy.NewEngine(logger)
	if err != nil {
		return nil, fmt.Errorf("init policy engine: %w", err)
	}

	a.market = service.NewMarketService(engine, carts, purchases, notifier, logger, cfg.AdminIDs)
	checkout := service.NewCheckoutCoordinator(a.market, engine, payment, supply, purchases, notifier, logger,
		service.SagaTimeouts{
			PaymentTimeout: cfg.SagaPaymentTimeout,
			SupplyTimeout:  cfg.SagaSupplyTimeout,
		},
	)

	a.limiter = middleware.NewRateLimiter(cfg.RateLimit())

	router := handler.NewRouter(handler.RouterDeps{
		Market:      a.market,
		Checkout:    checkout,
		Health:      a.healthChecks(),
		Validate:    middleware.NewJWTValidator([]byte(cfg.JWTSecret)),
		RateLimiter: a.limiter,
		Logger:      logger,
	})

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

func (a *App) cartRepository(ctx context.Context) (repository.CartRepository, error) {
	if a.cfg.CartStore != config.StoreRedis {
		return memory.NewCartRepository(), nil
	}
	client, err := database.NewRedisClient(ctx, a.cfg.Redis(), a.logger)
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	a.redis = client
	a.logger.Info("connected to Redis", slog.String("addr", a.cfg.Redis().Addr()))
	return redisrepo.NewCartRepository(client, a.cfg.CartTTL), nil
}

func (a *App) purchaseRepository(ctx context.Context) (repository.PurchaseRepository, error) {
	if a.cfg.PurchaseStore != config.StorePostgre {
		return memory.NewPurchaseRepository(), nil
	}
	pgCfg := a.cfg.Postgres()
	pool, err := database.NewPostgresPool(ctx, &pgCfg, a.logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	a.pool = pool
	a.logger.Info("connected to PostgreSQL",
		slog.String("host", pgCfg.Host),
		slog.Int("port", pgCfg.Port),
		slog.String("database", pgCfg.DBName),
	)

	if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, pool); err != nil {
		return nil, fmt.Errorf("register pool metrics: %w", err)
	}
	if err := database.RunMigrations(ctx, pool, migrations.FS, a.logger); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	a.logger.Info("database migrations completed")

	if a.cfg.SlowQueryThreshold > 0 {
		database.SetSlowQueryLogging(a.cfg.SlowQueryThreshold, a.logger)
	}
	return postgres.NewPurchaseRepository(pool), nil
}

// gateways builds the payment and supply providers. HTTP providers share
// the outbound client settings and get one circuit breaker each.
func (a *App) gateways() (service.PaymentGateway, service.SupplyGateway) {
	cfg := a.cfg

	var payment service.PaymentGateway
	if cfg.PaymentMode == config.ModeHTTP {
		cb := httpclient.NewCircuitBreakerClient(httpclient.New(cfg.ProviderHTTP()), cfg.CircuitBreaker("payment"), a.logger)
		payment = gateway.NewHTTPPaymentGateway(cb, cfg.PaymentURL, a.logger)
	} else {
		payment = gateway.NewMockPaymentGateway(cfg.PaymentDeclineAbove, cfg.PaymentMockLatency, a.logger)
	}

	var supply service.SupplyGateway
	if cfg.SupplyMode == config.ModeHTTP {
		cb := httpclient.NewCircuitBreakerClient(httpclient.New(cfg.ProviderHTTP()), cfg.CircuitBreaker("supply"), a.logger)
		supply = gateway.NewHTTPSupplyGateway(cb, cfg.SupplyURL, a.logger)
	} else {
		supply = gateway.NewMockSupplyGateway(cfg.SupplyFailProducts, cfg.SupplyMockLatency, a.logger)
	}

	a.logger.Info("providers configured",
		slog.String("payment_mode", cfg.PaymentMode),
		slog.String("supply_mode", cfg.SupplyMode),
	)
	return payment, supply
}

func (a *App) healthChecks() *health.Handler {
	h := health.NewHandler()
	if a.pool != nil {
		h.RegisterCritical("postgres", func(ctx context.Context) error {
			return a.pool.Ping(ctx)
		})
	}
	if a.redis != nil {
		h.RegisterCritical("redis", func(ctx context.Context) error {
			return a.redis.Ping(ctx).Err()
		})
	}
	if a.producer != nil {
		h.RegisterNonCritical("kafka", func(ctx context.Context) error {
			return a.producer.Ping(ctx)
		})
	}
	return h
}

// Handler returns the HTTP handler serving the API.
func (a *App) Handler() http.Handler {
	return a.httpServer.Handler
}

// Run starts the HTTP server and the housekeeping loop, and blocks until the
// context is canceled.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", a.httpServer.Addr, err)
	}
	return a.serve(ctx, ln)
}

func (a *App) serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server", slog.String("addr", ln.Addr().String()))
		if err := a.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	hkCtx, stopHousekeeping := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.housekeeping(hkCtx)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case runErr = <-errCh:
	}

	stopHousekeeping()
	wg.Wait()
	return errors.Join(runErr, a.Shutdown())
}

// housekeeping drops settled reservations and idle rate limiter entries on
// every tick.
func (a *App) housekeeping(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.ReservationPruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.sweep(ctx)
		}
	}
}

func (a *App) sweep(ctx context.Context) {
	pruned := a.market.PruneSettledReservations(ctx, a.cfg.ReservationRetention)
	clients := a.limiter.Sweep()
	if pruned > 0 || clients > 0 {
		a.logger.DebugContext(ctx, "housekeeping",
			slog.Int("reservations_pruned", pruned),
			slog.Int("rate_limit_clients_dropped", clients),
		)
	}
}

// Shutdown gracefully stops all components in order: HTTP server, tracer,
// Kafka producer, then the storage clients.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	httpCtx, httpCancel := context.WithTimeout(context.Background(), a.cfg.HTTPShutdownTimeout)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if err := a.closeResources(); err != nil {
		errs = append(errs, err)
	}

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

func (a *App) closeResources() error {
	var errs []error

	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	return errors.Join(errs...)
}
