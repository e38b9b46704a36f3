// Command api runs the payout reconciliation service: the HTTP API for
// withdrawals, provider webhooks and ledger reads, plus the background
// pending-withdrawal sweeper.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/facebookgo/clock"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-payout-reconciler/internal/config"
	"github.com/tbourn/go-payout-reconciler/internal/gateway"
	httpapi "github.com/tbourn/go-payout-reconciler/internal/http"
	"github.com/tbourn/go-payout-reconciler/internal/idempotency"
	"github.com/tbourn/go-payout-reconciler/internal/observability"
	"github.com/tbourn/go-payout-reconciler/internal/repo"
	"github.com/tbourn/go-payout-reconciler/internal/services"
	"github.com/tbourn/go-payout-reconciler/internal/store"
	"github.com/tbourn/go-payout-reconciler/internal/webhook"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// .env is optional; real deployments inject the environment.
	_ = godotenv.Load()

	cfg := config.MustLoad()
	logger := observability.SetupLogger(cfg, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		logger.Fatal().Err(err).Msg("otel setup failed")
	}

	db, err := repo.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Database.Driver).Msg("open database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		logger.Fatal().Err(err).Msg("migrate database")
	}

	clk := clock.New()
	kv, purger, closeKV, err := openStore(cfg.Store, db, clk)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.Store.Backend).Msg("open key-value store")
	}
	defer closeKV()

	idem := idempotency.New(kv, idempotency.WithDefaults(idempotency.Params{
		LockTTL:      cfg.Idempotency.LockTTL,
		ResultTTL:    cfg.Idempotency.ResultTTL,
		Timeout:      cfg.Idempotency.WaitTimeout,
		PollInterval: cfg.Idempotency.PollInterval,
	}))

	client := gateway.NewClient(gateway.Config{
		BaseURL: cfg.Gateway.BaseURL,
		Timeout: cfg.Gateway.Timeout,
		Credentials: gateway.Credentials{
			ClientID:     cfg.Gateway.ClientID,
			ClientSecret: cfg.Gateway.ClientSecret,
			Username:     cfg.Gateway.Username,
			Password:     cfg.Gateway.Password,
		},
	})
	tokens := gateway.NewTokenCache(kv, client, gateway.TokenCacheConfig{
		Margin:     cfg.Gateway.TokenMargin,
		Floor:      cfg.Gateway.TokenFloor,
		RefreshTTL: cfg.Gateway.RefreshTTL,
		LockTTL:    cfg.Gateway.RefreshLockTTL,
	}, clk)
	payouts := gateway.NewPayouts(client, tokens)

	reconciler := services.NewLedgerReconciler(db, repo.Ledger{}, kv, services.ReconcilerConfig{
		ProcessedTTL:   cfg.Reconcile.ProcessedTTL,
		LockTTL:        cfg.Reconcile.LockTTL,
		ContentionWait: cfg.Reconcile.LockWait,
	})

	if cfg.Sweep.Enabled {
		sweeper := services.NewPayoutSweeper(db, repo.Ledger{}, payouts, reconciler, kv, services.SweeperConfig{
			Interval:    cfg.Sweep.Interval,
			StaleAfter:  cfg.Sweep.StaleAfter,
			BatchSize:   cfg.Sweep.BatchSize,
			Concurrency: cfg.Sweep.Concurrency,
		}, clk)
		sweeper.Purger = purger
		go sweeper.Run(ctx)
	}

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Deps{
		DB:       db,
		Idem:     idem,
		Ledger:   reconciler,
		Payouts:  payouts,
		Verifier: webhook.NewVerifier(cfg.WebhookSecret),
	}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Str("version", version).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server failed")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("otel shutdown")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// openStore selects the key-value backend. The returned Purger is nil for
// backends that expire keys on their own.
func openStore(cfg config.StoreConfig, db *gorm.DB, clk clock.Clock) (store.Store, services.Purger, func(), error) {
	switch cfg.Backend {
	case "memory":
		log.Warn().Msg("in-memory store: locks and idempotency results are not shared between instances")
		return store.NewMemory(clk), nil, func() {}, nil
	case "sql":
		s := store.NewSQL(db, clk)
		return s, s, func() {}, nil
	case "redis":
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.RedisAddr},
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		return store.NewRedis(rdb, cfg.KeyPrefix), nil, func() { _ = rdb.Close() }, nil
	}
	return nil, nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}
