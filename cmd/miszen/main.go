package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"miszen/internal/api"
	"miszen/internal/config"
	"miszen/internal/dispatcher"
	"miszen/internal/ingress"
	"miszen/internal/metrics"
	"miszen/internal/mis"
	"miszen/internal/storage"
	"miszen/internal/zen"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("miszen_exited", "error", err)
		os.Exit(1)
	}
	logger.Info("miszen_stopped_gracefully")
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	results, err := openResults(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if results != nil {
		defer func() {
			if cerr := results.Close(); cerr != nil {
				logger.Warn("result_repository_close_failed", "error", cerr)
			}
		}()
	}

	recordsDB, err := openEventRecordsDB(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := storage.CloseGorm(recordsDB); cerr != nil {
			logger.Warn("event_records_close_failed", "error", cerr)
		}
	}()
	var records storage.EventRecordRepository
	if recordsDB != nil {
		records = storage.NewEventRecordRepository(recordsDB)
	}

	adapter := zen.NewAdapter(zen.TCPDialer(cfg.ProtocolOptions(logger)), cfg.AdapterOptions(logger))
	if err := adapter.Connect(ctx); err != nil {
		return err
	}
	defer adapter.Disconnect()

	d := dispatcher.New(adapter, cfg, dispatcher.Options{Logger: logger})
	m := metrics.New(d.QueueSize)
	d.AddPostProcessor(m.PostProcessor)

	if results != nil || records != nil {
		d.AddPostProcessor(storage.NewResultRecorder(results, records, logger).PostProcessor)
	}

	var pool *mis.WorkerPool
	if cfg.MISRecordResults {
		pool = mis.NewWorkerPool(cfg.MISWorkers, 100, logger)
		pool.Start()
		client := mis.NewClient(mis.ConfigFrom(cfg, logger))
		d.AddPostProcessor(mis.NewRecorder(client, pool, logger).PostProcessor)
	}

	var lastResults api.LastResultSource
	if results != nil {
		lastResults = results
	}
	handler := api.NewHandler(d, adapter, lastResults, records)
	router := api.NewRouter(handler, m.Handler(), logger)

	d.Start()
	logger.Info("miszen_started",
		"mcp_host", cfg.MCPHost,
		"mcp_port", cfg.MCPPort,
		"http_port", cfg.HTTPPort,
		"event_mappings", len(cfg.EventMappings),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return api.Serve(gctx, fmt.Sprintf(":%d", cfg.HTTPPort), router, logger)
	})
	if cfg.NATSURL != "" {
		decoder := ingress.NewDecoder(d, m.IngressReceived, logger)
		sub := ingress.NewSubscriber(cfg.NATSURL, cfg.MISEventQueue, decoder, logger)
		g.Go(func() error {
			return sub.Run(gctx)
		})
	}

	err = g.Wait()
	logger.Info("miszen_shutting_down")

	d.Stop()
	if pool != nil {
		drainPool(pool, 10*time.Second, logger)
	}
	return err
}

// openResults builds the hybrid result repository from whichever tiers are
// configured. It returns nil when neither Redis nor Postgres is set.
func openResults(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*storage.HybridResultRepository, error) {
	if cfg.RedisURL == "" && cfg.DatabaseURL == "" {
		return nil, nil
	}

	var cache storage.ResultCache
	if cfg.RedisURL != "" {
		redisRepo, err := storage.NewResultRedisRepo(cfg.RedisURL, cfg.ResultCacheTTL)
		if err != nil {
			return nil, err
		}
		cache = redisRepo
		logger.Info("redis_connected")
	}

	var store storage.ResultStore
	if cfg.DatabaseURL != "" {
		db, err := storage.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			if cache != nil {
				cache.Close()
			}
			return nil, err
		}
		pg := storage.NewResultPostgresRepo(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			if cache != nil {
				cache.Close()
			}
			return nil, err
		}
		store = pg
		logger.Info("postgres_connected")
	}

	repo := storage.NewHybridResultRepository(cache, store, storage.HybridOptions{Logger: logger})
	repo.Start()
	return repo, nil
}

// openEventRecordsDB returns nil when no database is configured.
func openEventRecordsDB(cfg *config.Config, logger *slog.Logger) (*gorm.DB, error) {
	if cfg.DatabaseURL == "" {
		return nil, nil
	}
	db, err := storage.OpenGorm(cfg.DatabaseURL, cfg.IsDevelopment())
	if err != nil {
		return nil, err
	}
	logger.Info("event_records_enabled")
	return db, nil
}

func drainPool(pool *mis.WorkerPool, timeout time.Duration, logger *slog.Logger) {
	done := make(chan struct{})
	go func() {
		pool.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		logger.Warn("mis_recorder_drain_timeout", "timeout", timeout)
		pool.Shutdown()
	}
}
