package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	assocmetrics "pulseboard/internal/association/metrics"
	assocservice "pulseboard/internal/association/service"
	assocstore "pulseboard/internal/association/store"
	"pulseboard/internal/dashboard/cache"
	"pulseboard/internal/dashboard/events"
	"pulseboard/internal/dashboard/handler"
	dashmetrics "pulseboard/internal/dashboard/metrics"
	"pulseboard/internal/dashboard/orchestrator"
	"pulseboard/internal/dashboard/query"
	"pulseboard/internal/dashboard/service"
	"pulseboard/internal/dashboard/tracer"
	"pulseboard/internal/platform/config"
	"pulseboard/internal/platform/database"
	"pulseboard/internal/platform/health"
	"pulseboard/internal/platform/logger"
	platformredis "pulseboard/internal/platform/redis"
	"pulseboard/pkg/platform/circuit"
)

// main wires dependencies and keeps the server lifecycle small. Business
// logic lives in the internal service packages.
func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	log.Info("initializing pulseboard", "addr", cfg.Addr, "environment", cfg.Environment)

	dbCfg := database.DefaultConfig()
	dbCfg.URL = cfg.PostgresURL
	pool, err := database.New(dbCfg)
	if err != nil {
		log.Error("database init failed", "error", err)
		os.Exit(1)
	}
	if pool == nil {
		log.Error("POSTGRES_URL is required")
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := platformredis.New(cfg.RedisURL)
	if err != nil {
		log.Error("redis init failed", "error", err)
		os.Exit(1)
	}

	store := assocstore.NewPostgres(pool.DB())
	aMetrics := assocmetrics.New()
	repair := assocservice.NewRepairService(store, store,
		assocservice.WithLogger(log),
		assocservice.WithMetrics(aMetrics),
	)

	var snapshots cache.SnapshotCache = cache.NewInMemory()
	if redisClient != nil {
		snapshots = cache.NewRedisMirror(snapshots, redisClient.Client, cfg.Fetch.CacheDuration, log)
	}

	var source events.ChangeEventSource
	var kafkaSource *events.KafkaSource
	if cfg.KafkaBrokers != "" {
		kafkaSource = events.NewKafkaSource(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID, log)
		kafkaSource.Start(context.Background())
		source = kafkaSource
	} else {
		log.Warn("KAFKA_BROKERS not set, change events disabled")
		source = events.NewBus()
	}

	dMetrics := dashmetrics.New()
	orch := orchestrator.New(
		query.NewPostgres(pool.DB()),
		snapshots,
		source,
		orchestrator.Config{
			MaxRetries:      cfg.Fetch.MaxRetries,
			RetryDelay:      cfg.Fetch.RetryDelay,
			RefreshInterval: cfg.Fetch.RefreshInterval,
			CacheDuration:   cfg.Fetch.CacheDuration,
			QueryTimeout:    cfg.Fetch.QueryTimeout,
		},
		orchestrator.WithLogger(log),
		orchestrator.WithMetrics(dMetrics),
		orchestrator.WithTracer(tracer.NewOTel()),
		orchestrator.WithBreaker(circuit.New("metrics-query")),
	)

	dashboards := service.New(store, repair, orch,
		service.WithLogger(log),
		service.WithMetrics(aMetrics),
	)

	healthHandler := health.New(cfg.Environment)
	healthHandler.RegisterCheck("postgres", func() error {
		return pool.Ping(context.Background())
	})
	statsCtx, stopStats := context.WithCancel(context.Background())
	defer stopStats()
	if redisClient != nil {
		healthHandler.RegisterCheck("redis", func() error {
			return redisClient.Ping(context.Background())
		})
		go redisClient.CollectPoolStatsEvery(statsCtx, 30*time.Second)
	}

	router := chi.NewRouter()
	handler.New(dashboards, log).Register(router)
	healthHandler.Register(router)
	router.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("starting http server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	log.Info("shutting down gracefully")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}

	orch.CloseAll()
	if kafkaSource != nil {
		_ = kafkaSource.Close()
	}
	if redisClient != nil {
		stopStats()
		_ = redisClient.Close()
	}

	log.Info("server stopped")
}
