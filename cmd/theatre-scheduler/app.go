package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/theatreops/theatre/internal/config"
	"github.com/theatreops/theatre/internal/domain/theatre"
	"github.com/theatreops/theatre/internal/platform/db"
	"github.com/theatreops/theatre/internal/platform/lock"
	"github.com/theatreops/theatre/internal/platform/metrics"
	"github.com/theatreops/theatre/internal/platform/middleware"
)

// app is the wired set of dependencies shared by every command.
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	store   theatre.Store
	health  db.Pinger
	metrics *metrics.Metrics
	svc     *theatre.Service
	closers []func()
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, metrics: metrics.New(true)}

	catalog, err := loadCatalog(cfg.CatalogPath)
	if err != nil {
		return nil, err
	}

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}

	locker, err := a.newLocker(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.svc = theatre.NewService(a.store, catalog, locker, a.metrics, theatre.GeneratorOptions{
		Seed:         cfg.ScheduleSeed,
		TheatreCount: cfg.TheatreCount,
		ChunkSize:    cfg.WriteChunkSize,
	}, logger)
	return a, nil
}

func loadCatalog(path string) (*theatre.Catalog, error) {
	if path == "" {
		return theatre.DefaultCatalog(), nil
	}
	return theatre.LoadCatalog(path)
}

func (a *app) openStore(ctx context.Context) error {
	switch a.cfg.StoreDriver {
	case config.DriverSQLite:
		s, err := theatre.NewSQLiteStore(a.cfg.SQLitePath, a.logger)
		if err != nil {
			return err
		}
		a.store, a.health = s, s
		a.closers = append(a.closers, func() { s.Close() })
	default:
		pool, err := a.newPool(ctx)
		if err != nil {
			return err
		}
		a.store, a.health = theatre.NewPGStore(pool), pool
		a.closers = append(a.closers, pool.Close)
		a.logger.Info().Msg("connected to database")
	}
	return nil
}

func (a *app) newPool(ctx context.Context) (*pgxpool.Pool, error) {
	pool, err := db.NewPool(ctx, a.cfg.DatabaseURL, db.PoolOptions{
		MaxConns:        a.cfg.DBMaxConns,
		MinConns:        a.cfg.DBMinConns,
		MaxConnIdleTime: 5 * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return pool, nil
}

// newLocker shares the run lock through Redis when REDIS_URL is set.
func (a *app) newLocker(ctx context.Context) (lock.Locker, error) {
	if a.cfg.RedisURL == "" {
		return lock.NewLocalLocker(a.cfg.RunLockTTL()), nil
	}
	l, err := lock.NewRedisLockerFromURL(ctx, a.cfg.RedisURL, a.cfg.RunLockTTL())
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { l.Close() })
	a.logger.Info().Msg("using redis run lock")
	return l, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// pushMetrics sends run metrics to the pushgateway, if one is configured.
// Failures are logged only.
func (a *app) pushMetrics() {
	if a.cfg.PushgatewayURL == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.metrics.Push(ctx, a.cfg.PushgatewayURL, "theatre_scheduler"); err != nil {
		a.logger.Warn().Err(err).Msg("failed to push metrics")
	}
}

func newServer(a *app) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))

	e.GET("/health", db.HealthHandler(a.cfg.StoreDriver, a.health))
	if a.cfg.MetricsEnabled {
		e.GET("/metrics", echo.WrapHandler(a.metrics.Handler()))
	}

	rateLimitCfg := middleware.DefaultRateLimitConfig()
	if a.cfg.RateLimitRPS > 0 {
		rateLimitCfg.RequestsPerSecond = a.cfg.RateLimitRPS
	}
	if a.cfg.RateLimitBurst > 0 {
		rateLimitCfg.BurstSize = a.cfg.RateLimitBurst
	}

	apiV1 := e.Group("/api/v1")
	theatre.NewHandler(a.svc).RegisterRoutes(apiV1,
		middleware.RateLimit(rateLimitCfg),
		middleware.BodyLimit("64K"),
	)
	return e
}
