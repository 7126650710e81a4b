package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"chrono-battle/auth"
	"chrono-battle/config"
	"chrono-battle/handler"
	"chrono-battle/service"
	"chrono-battle/storage"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Инициализация логгера
	logger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("Starting Chrono Battle Service")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Service failed", zap.Error(err))
	}

	logger.Info("Server exited")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := service.NewMetrics(reg)
	clock := service.SystemClock{}

	// Хранилища
	redisStorage, err := storage.NewRedisStorage(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize redis storage: %w", err)
	}
	defer redisStorage.Close()
	logger.Info("Connected to Redis", zap.String("addr", cfg.RedisAddr))

	sqliteStore, err := storage.OpenSQLite(ctx, cfg.SQLitePath, logger)
	if err != nil {
		return fmt.Errorf("failed to open sqlite: %w", err)
	}
	defer sqliteStore.Close()
	logger.Info("Opened SQLite", zap.String("path", cfg.SQLitePath))

	// Справочники и формулы
	catalog := service.NewCatalog(sqliteStore, logger)
	if err := catalog.Refresh(ctx); err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}

	formulas, err := service.NewFormulaEngine(cfg.FormulaScriptPath, logger, metrics)
	if err != nil {
		return fmt.Errorf("failed to load formulas: %w", err)
	}

	verifier, err := auth.NewVerifier(cfg.JWTSecret)
	if err != nil {
		return fmt.Errorf("failed to initialize token verifier: %w", err)
	}

	// Сервисы
	presence := service.NewPresence(logger, metrics)
	registry := service.NewRegistry(clock, metrics)
	settlement := service.NewSettlementWorker(sqliteStore, redisStorage, clock, logger, metrics, cfg.Settlement())

	battles := service.NewBattleService(service.BattleDeps{
		Registry:  registry,
		Notifier:  presence,
		Accounts:  sqliteStore,
		Inventory: sqliteStore,
		Catalog:   catalog,
		Formulas:  formulas,
		Cache:     redisStorage,
		Settler:   settlement,
		Clock:     clock,
		Logger:    logger,
		Metrics:   metrics,
	}, cfg.Battle())

	matcher := service.NewMatcherService(redisStorage, sqliteStore, registry, battles, presence, clock, logger, metrics, cfg.Matcher())
	battles.AttachRequeuer(matcher)

	sweeper := service.NewSweeper(battles, registry, logger)
	dispatcher := service.NewDispatcher(presence, registry, battles, matcher, sqliteStore, verifier, clock, logger)

	// HTTP
	api := handler.NewAPIHandler(handler.APIDeps{
		Queue:      matcher,
		Online:     presence,
		Battles:    registry,
		Reports:    redisStorage,
		History:    sqliteStore,
		Formulas:   formulas,
		Catalog:    catalog,
		Chat:       redisStorage,
		Tokens:     verifier,
		Accounts:   sqliteStore,
		AdminToken: cfg.AdminToken,
		Logger:     logger,
	})
	ws := handler.NewWSHandler(ctx, dispatcher, cfg.HeartbeatIdle, logger)
	router := handler.NewRouter(api, ws, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting HTTP server", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server forced to shutdown", zap.Error(err))
		}
		return nil
	})

	g.Go(func() error {
		return runMatcher(gctx, matcher, cfg.MatchInterval, logger)
	})

	g.Go(func() error {
		return sweeper.Run(gctx, cfg.SweepInterval)
	})

	g.Go(func() error {
		return settlement.Run(gctx)
	})

	err = g.Wait()
	battles.Wait()
	return err
}

// runMatcher запускает проходы подбора с интервалом до отмены ctx
func runMatcher(ctx context.Context, matcher *service.MatcherService, interval time.Duration, logger *zap.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := matcher.ProcessQueue(ctx); err != nil {
				logger.Warn("Failed to process queue", zap.Error(err))
			}
		case <-ctx.Done():
			return nil
		}
	}
}
