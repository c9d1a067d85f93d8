// Package app wires the checkout service together and runs it.
package app

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	goredis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/discount"
	"github.com/xenking/kart-checkout/internal/domain/notify"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/handler"
	"github.com/xenking/kart-checkout/internal/notifier"
	"github.com/xenking/kart-checkout/internal/storage/postgres"
	"github.com/xenking/kart-checkout/internal/storage/redis"
	"github.com/xenking/kart-checkout/pkg/health"
	"github.com/xenking/kart-checkout/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("notify.driver", cfg.Notify.Driver),
		zap.Bool("idempotency", cfg.Redis.Enabled()),
	)

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}
	store := postgres.NewStore(pool)

	healthSvc := health.New(nil)
	healthSvc.Ready(health.Check{Name: "postgres", Timeout: 5 * time.Second, Func: health.Ping(store)})
	healthSvc.Live(health.Check{Name: "goroutines", Func: health.Goroutines(10000)})
	healthSvc.Live(health.Check{Name: "gc", Func: health.GCPause(time.Second)})

	orderOpts := []order.Option{
		order.WithTracerProvider(m.TracerProvider()),
		order.WithMeterProvider(m.MeterProvider()),
	}

	if cfg.Redis.Enabled() {
		rdb, err := connectRedis(ctx, cfg.Redis)
		if err != nil {
			return errors.Wrap(err, "connect redis")
		}
		defer func() { _ = rdb.Close() }()

		healthSvc.Ready(health.Check{Name: "redis", Timeout: 2 * time.Second, Func: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
		orderOpts = append(orderOpts, order.WithIdempotency(redis.NewIdempotencyStore(rdb, cfg.Redis.IdempotencyTTL)))
	}

	sender, senderCloser, err := notifier.New(ctx, cfg.Notify, lg.Named("notify"))
	if err != nil {
		return errors.Wrap(err, "create notifier")
	}
	trigger := notify.NewTrigger(sender, lg.Named("notify"), notify.WithTimeout(cfg.Notify.Timeout))
	orderOpts = append(orderOpts, order.WithNotifier(trigger))

	// Repositories.
	productRepo := postgres.NewProductRepository(store)
	cartRepo := postgres.NewCartRepository(store)
	discountRepo := postgres.NewDiscountRepository(store)
	orderRepo := postgres.NewOrderRepository(store)
	apikeyRepo := postgres.NewAPIKeyRepository(store)

	// Domain services.
	ledger := discount.NewLedger(discountRepo, orderRepo, discount.WithTracerProvider(m.TracerProvider()))
	carts := cart.NewService(cartRepo, productRepo)
	orders, err := order.NewService(store, carts, ledger, orderRepo, orderOpts...)
	if err != nil {
		return errors.Wrap(err, "create order service")
	}

	h := handler.New(productRepo, carts, orders, ledger,
		handler.NewSecurity(apikeyRepo, []byte(cfg.APIKeyPepper)))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("GET /readyz", healthSvc.ReadyEndpoint)
	h.Register(mux)
	routeFinder := httpmiddleware.MakeRouteFinder(mux)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Recovery(),
			httpmiddleware.RequestID(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization", handler.HeaderAPIKey, handler.HeaderIdempotencyKey},
				ExposeHeaders:    []string{httpmiddleware.HeaderRequestID, "Retry-After"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.Instrument("kart-api", routeFinder, m.TracerProvider(), m.MeterProvider()),
			httpmiddleware.LogRequests(routeFinder),
		),
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		if ctx.Err() != nil {
			time.Sleep(cfg.Graceful.ReadinessDelay)
		}

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()

		// Confirmations for orders committed before shutdown still go out.
		if err := trigger.Wait(shutdownCtx); err != nil {
			lg.Warn("Notifications still in flight at shutdown", zap.Error(err))
		}
		closeQuietly(lg, "notifier", senderCloser)
		return nil
	})
	return g.Wait()
}

func connectRedis(ctx context.Context, cfg RedisConfig) (*goredis.Client, error) {
	if cfg.Addr != "" {
		return redis.NewClient(ctx, cfg.Addr, cfg.Password, cfg.DB)
	}
	return redis.NewClientFromURL(ctx, cfg.URL)
}

func closeQuietly(lg *zap.Logger, name string, c io.Closer) {
	if err := c.Close(); err != nil {
		lg.Warn("Close failed", zap.String("resource", name), zap.Error(err))
	}
}
