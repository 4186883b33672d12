package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"

	"github.com/Checker-Finance/offer-sync/internal/api"
	"github.com/Checker-Finance/offer-sync/internal/jobs"
	"github.com/Checker-Finance/offer-sync/internal/marketplace"
	"github.com/Checker-Finance/offer-sync/internal/publisher"
	"github.com/Checker-Finance/offer-sync/internal/rate"
	internalsecrets "github.com/Checker-Finance/offer-sync/internal/secrets"
	"github.com/Checker-Finance/offer-sync/internal/store"
	syncengine "github.com/Checker-Finance/offer-sync/internal/sync"
	"github.com/Checker-Finance/offer-sync/pkg/config"
	"github.com/Checker-Finance/offer-sync/pkg/logger"
	"github.com/Checker-Finance/offer-sync/pkg/secrets"
	"github.com/Checker-Finance/offer-sync/pkg/utils"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Load configuration ---
	cfg := config.Load()

	logger.Init(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	defer logger.Sync()
	logg := logger.S()
	logg.Info("starting [offer-sync]...")
	logg.Info("connection to DSN: ", utils.MaskDSN(cfg.DatabaseURL))

	// --- AWS Secrets Manager provider ---
	awsProvider, err := secrets.NewAWSProvider(cfg.AWSRegion)
	if err != nil {
		logg.Fatalw("failed to create AWS Secrets Manager provider", "error", err)
	}

	// --- Per-account config resolver (secrets cached in-memory) ---
	configCache := secrets.NewCache[marketplace.AccountConfig](cfg.CacheTTL)
	stopCleaner := make(chan struct{})
	go configCache.StartCleaner(cfg.CleanupFreq, stopCleaner)

	resolver := internalsecrets.NewAccountConfigResolver(
		logg.Desugar(),
		cfg.Env,
		cfg.Marketplace,
		awsProvider,
		configCache,
	)

	// --- Discover configured accounts ---
	accounts, err := resolver.DiscoverAccounts(ctx)
	if err != nil {
		logg.Warnw("failed to discover accounts from AWS Secrets Manager", "error", err)
	} else {
		logg.Infow("discovered marketplace accounts", "count", len(accounts), "accounts", accounts)
	}

	// --- Connect to NATS ---
	nc, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		logg.Fatalw("failed to connect to NATS", "error", err)
	}

	// --- Publisher ---
	pub, err := publisher.New(nc, cfg.OutboundSubject, cfg.ServiceName)
	if err != nil {
		logg.Fatalw("failed to init publisher", "error", err)
	}

	// --- Rate limiter (per-account marketplace API budget) ---
	rateMgr := rate.NewManager(rate.Config{
		RequestsPerSecond: 5,
		Burst:             10,
		Cooldown:          1 * time.Second,
	})

	// --- Store (Redis + Postgres hybrid) ---
	st, err := store.NewHybrid(cfg.RedisAddr, cfg.RedisDB, cfg.DatabaseURL, store.PGPoolConfig{
		MaxConns:          int32(cfg.PGMaxConns),
		MinConns:          int32(cfg.PGMinConns),
		MaxConnLifetime:   cfg.PGMaxConnLifetime,
		MaxConnIdleTime:   cfg.PGMaxConnIdleTime,
		HealthCheckPeriod: cfg.PGHealthCheckPeriod,
	}, cfg.StateCacheTTL, logg.Desugar())
	if err != nil {
		logg.Fatalw("failed to init store", "error", err)
	}

	// --- Marketplace HTTP client (account config supplied per-request) ---
	mktClient := marketplace.NewClient(
		logg.Desugar(),
		rateMgr,
	)

	// --- Sync engine ---
	reconciler := syncengine.NewReconciler(logg.Desugar(), st, cfg.ServiceName)
	coordinator := syncengine.NewCoordinator(
		logg.Desugar(),
		st,
		mktClient,
		resolver,
		reconciler,
		pub,
		cfg.SyncMaxParallel,
	)

	// --- Scheduled sync poller ---
	poller := syncengine.NewPoller(logg.Desugar(), coordinator, cfg.SyncInterval, cfg.SyncLimitPerRun)
	go poller.Start(ctx)

	// --- Daily summary refresher ---
	refresher := jobs.NewSummaryRefresher(
		logger.L(),
		st.(*store.HybridStore).PG,
		pub,
		cfg.SummaryRefreshInterval,
	)
	go refresher.Start(ctx)

	// --- Fiber HTTP Server ---
	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
		BodyLimit:    cfg.HTTPBodyLimit,
	})

	handler := api.NewHandler(logg.Desugar(), coordinator, st)
	api.RegisterRoutes(app, st, handler)

	go func() {
		logg.Infof("HTTP API listening on :%d", cfg.Port)
		if err := app.Listen(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logg.Fatalw("fiber.listen_failed", "error", err)
		}
	}()

	// --- Main process stays alive until interrupted ---
	logg.Infow("[offer-sync] running",
		"nats", cfg.NATSURL,
		"env", cfg.Env,
		"sync_interval", cfg.SyncInterval,
		"limit_per_run", cfg.SyncLimitPerRun,
		"discovered_accounts", len(accounts))

	<-ctx.Done()
	logg.Info("shutting down [offer-sync]...")

	close(stopCleaner)
	poller.Stop()
	refresher.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logg.Warnw("fiber.shutdown_failed", "error", err)
	}
	if err := nc.Drain(); err != nil {
		logg.Warnw("nats.drain_failed", "error", err)
	}
	if err := st.Close(); err != nil {
		logg.Warnw("store.close_failed", "error", err)
	}
}
