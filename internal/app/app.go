package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jia-app/subscriptionservice/internal/audit"
	"github.com/jia-app/subscriptionservice/internal/auth"
	"github.com/jia-app/subscriptionservice/internal/cache"
	"github.com/jia-app/subscriptionservice/internal/config"
	"github.com/jia-app/subscriptionservice/internal/db"
	"github.com/jia-app/subscriptionservice/internal/events"
	"github.com/jia-app/subscriptionservice/internal/log"
	"github.com/jia-app/subscriptionservice/internal/metrics"
	"github.com/jia-app/subscriptionservice/internal/paypal"
	"github.com/jia-app/subscriptionservice/internal/subscription/repo"
	"github.com/jia-app/subscriptionservice/internal/subscription/repo/memory"
	"github.com/jia-app/subscriptionservice/internal/subscription/repo/postgres"
	"github.com/jia-app/subscriptionservice/internal/subscription/transport"
	"github.com/jia-app/subscriptionservice/internal/subscription/usecase"
	"github.com/jia-app/subscriptionservice/internal/subscription/webhook"
	"github.com/jia-app/subscriptionservice/internal/tracing"
)

// App represents the application
type App struct {
	config   *config.Config
	logger   *zap.Logger
	pool     *db.Pool
	cache    *cache.Cache
	notifier events.Notifier
	store    repo.Store
	handler  http.Handler

	httpServer      *http.Server
	metricsServer   *metrics.Server
	shutdownTracing func(context.Context) error
}

// New wires the service from cfg. Redis is optional: when it cannot be
// reached the service runs without redelivery filtering.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := log.Init(cfg.Log.Level); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger := log.L(ctx)

	logger.Info("Initializing subscription service",
		zap.String("app_name", cfg.AppName),
		zap.String("http_address", cfg.HTTP.Address),
		zap.String("storage_driver", cfg.Storage.Driver),
		zap.String("events_driver", cfg.Events.Driver))

	a := &App{config: cfg, logger: logger}

	shutdownTracing, err := tracing.Init(cfg.Tracing, cfg.AppName, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.shutdownTracing = shutdownTracing

	if err := a.initStore(ctx); err != nil {
		a.cleanup(ctx)
		return nil, err
	}

	var dedupe *webhook.Deduplicator
	if cfg.Redis.Addr != "" {
		c, err := cache.NewCache(ctx, cfg.Redis)
		if err != nil {
			logger.Warn("Redis initialization failed, continuing without redelivery filtering",
				zap.Error(err),
				zap.String("redis_addr", cfg.Redis.Addr))
		} else {
			a.cache = c
			dedupe = webhook.NewDeduplicator(c, cfg.Redis.DedupTTL)
		}
	}

	notifier, err := NewNotifier(ctx, cfg.Events)
	if err != nil {
		a.cleanup(ctx)
		return nil, fmt.Errorf("failed to initialize notifier: %w", err)
	}
	a.notifier = notifier

	client := paypal.NewClient(cfg.PayPal, logger)

	opts := transport.Options{
		Credentials:   client,
		Parser:        webhook.NewParser(),
		Deduplicator:  dedupe,
		Reconciler:    usecase.NewReconciler(a.store, usecase.WithNotifier(notifier)),
		Subscriptions: a.store,
		CookieName:    cfg.Auth.CookieName,
		Ready:         a.ready,
		MaxBodyBytes:  cfg.HTTP.MaxBodyBytes,
		Timeout:       cfg.HTTP.RequestTimeout,
	}
	if cfg.PayPal.VerifySignature {
		opts.Verifier = client
	}
	if cfg.Auth.JWTSecret != "" {
		validator, err := auth.NewJWTValidator(cfg.Auth.JWTSecret)
		if err != nil {
			a.cleanup(ctx)
			return nil, fmt.Errorf("failed to initialize token validator: %w", err)
		}
		opts.Tokens = validator
	} else {
		logger.Warn("auth.jwt_secret not set, subscription lookup endpoint disabled")
	}

	a.handler = transport.NewHandler(opts).Routes()
	a.httpServer = &http.Server{
		Addr:              cfg.HTTP.Address,
		Handler:           a.handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if cfg.Metrics.Enabled {
		a.metricsServer = metrics.NewServer(cfg.Metrics.Address, logger)
	}

	return a, nil
}

func (a *App) initStore(ctx context.Context) error {
	store, pool, err := OpenStore(ctx, a.config.Storage, a.logger)
	if err != nil {
		return err
	}
	a.store, a.pool = store, pool
	return nil
}

// OpenStore opens the configured subscription store, running migrations
// first when enabled. The pool is nil for the memory driver; otherwise
// the caller closes it.
func OpenStore(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (repo.Store, *db.Pool, error) {
	switch cfg.Driver {
	case config.StorageMemory:
		logger.Warn("Using in-memory subscription store, data is lost on restart")
		return memory.NewStore(), nil, nil

	case config.StoragePostgres:
		pool, err := db.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
		}

		if cfg.Postgres.Migrate {
			if err := db.Migrate(ctx, pool.Pool, postgres.Migrations, postgres.MigrationsDir, logger); err != nil {
				pool.Close()
				return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
			}
		}

		store, err := postgres.NewStoreWithPool(pool.Pool)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, pool, nil

	default:
		return nil, nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
}

// NewNotifier builds the change notifier selected by cfg.Driver.
func NewNotifier(ctx context.Context, cfg config.EventsConfig) (events.Notifier, error) {
	switch cfg.Driver {
	case config.EventsKafka:
		n, err := events.NewKafkaNotifier(ctx, cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return nil, err
		}
		return n, nil
	case config.EventsAudit:
		return events.NewAuditNotifier(audit.NewZapAuditLogger(log.L(ctx))), nil
	case config.EventsNoop, "":
		return events.NoopNotifier{}, nil
	default:
		return nil, fmt.Errorf("unsupported events driver: %s", cfg.Driver)
	}
}

// Handler returns the service router.
func (a *App) Handler() http.Handler {
	return a.handler
}

// ready reports whether the subscription store is reachable. Redis is not
// consulted since the service works without it.
func (a *App) ready(ctx context.Context) error {
	if p, ok := a.store.(repo.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("Starting subscription service",
		zap.String("address", a.config.HTTP.Address))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})
	if a.metricsServer != nil {
		g.Go(func() error {
			return a.metricsServer.Start(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.config.HTTP.ShutdownTimeout)
		defer cancel()
		return a.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Shutdown stops the listeners and releases every dependency.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("Shutting down subscription service")

	var errs []error
	if a.httpServer != nil {
		if err := a.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http server shutdown: %w", err))
		}
	}
	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server shutdown: %w", err))
		}
	}
	a.cleanup(ctx)

	a.logger.Info("Application shutdown complete")
	return errors.Join(errs...)
}

func (a *App) cleanup(ctx context.Context) {
	if c, ok := a.notifier.(io.Closer); ok {
		if err := c.Close(); err != nil {
			a.logger.Error("Failed to close notifier", zap.Error(err))
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Error("Failed to close redis client", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.shutdownTracing != nil {
		if err := a.shutdownTracing(ctx); err != nil {
			a.logger.Error("Failed to flush traces", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
