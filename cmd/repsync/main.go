package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/pgxpoolprometheus"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mossy-p/repsync/config"
	"github.com/mossy-p/repsync/internal/handlers"
	"github.com/mossy-p/repsync/internal/logging"
	"github.com/mossy-p/repsync/internal/metrics"
	"github.com/mossy-p/repsync/internal/redis"
	"github.com/mossy-p/repsync/internal/results"
	"github.com/mossy-p/repsync/internal/session"
	"github.com/mossy-p/repsync/internal/signaling"
	"github.com/mossy-p/repsync/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Load configuration
	cfg := config.Load()

	logging.Setup(logging.LoggerSetupParams{
		LogFileName:   cfg.Log.File,
		LogToStdout:   true,
		LogLevel:      cfg.Log.Level,
		LogFormatJSON: cfg.Log.JSON,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect to Redis
	var st store.Store
	rdb, err := redis.Connect(ctx, cfg.Redis)
	switch {
	case err == nil:
		defer rdb.Close()
		st = store.NewRedis(rdb, cfg.SessionTTL)
		log.Println("Redis connection established")
	case cfg.IsProduction():
		log.Fatalf("Failed to connect to Redis: %v", err)
	default:
		log.WithError(err).Warn("redis unavailable, keeping sessions in memory")
		st = store.NewMemory()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var repo results.Repo = results.NewMemoryRepo()
	if cfg.PostgresDSN != "" {
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("Failed to open postgres pool: %v", err)
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			log.Warnf("failed to ping db: %s", err)
		}
		reg.MustRegister(pgxpoolprometheus.NewCollector(pool, map[string]string{"db_name": "repsync"}))

		psql := results.NewPsqlRepo(pool)
		if err := psql.EnsureSchema(ctx); err != nil {
			log.Fatalf("Failed to prepare results schema: %v", err)
		}
		repo = psql
		log.Println("postgres results store ready")
	} else {
		log.Warn("POSTGRES_DSN not set, results are kept in memory")
	}
	repo = results.NewCachedRepo(repo)

	metricsManager := metrics.NewManager("repsync", "server", reg)

	coord := session.NewCoordinator(st, repo,
		session.WithMaxParticipants(cfg.MaxParticipants),
		session.WithMetrics(metricsManager),
	)
	relay := signaling.NewRelay(coord, st, metricsManager)
	hub := handlers.NewHub(coord, relay, metricsManager)

	// Setup Gin router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := handlers.NewRouter(handlers.RouterParams{
		JWTSecret:      cfg.JWTSecret,
		AllowedOrigins: cfg.AllowedOrigins,
		Coordinator:    coord,
		Relay:          relay,
		Results:        repo,
		Hub:            hub,
		Metrics:        metricsManager,
		Gatherer:       reg,
		ICEServers:     cfg.ICEServers,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("Starting repsync server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server:", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server shutdown")
	}
}
