package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"outpass/internal/config"
	"outpass/internal/handler"
	"outpass/internal/leave"
	"outpass/internal/logging"
	"outpass/internal/metrics"
	"outpass/internal/notify"
	"outpass/internal/queue"
	"outpass/internal/store"
)

func main() {
	cfg := config.Load()
	logger := logging.New(logging.Options{Env: cfg.Env, RollbarToken: cfg.RollbarToken})
	defer logger.Close()

	if err := cfg.Validate(); err != nil {
		logger.Fatalf("config: %v", err)
	}
	// Set Gin mode based on environment
	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, logger); err != nil {
		logger.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App, logger *logging.Logger) error {
	ctx := context.Background()

	db, err := store.NewDB(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := store.Migrate(ctx, db); err != nil {
		return err
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		// Nothing drains this queue outside the process; only useful for local runs.
		q = queue.NewInMemory(256)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, cfg.NotifyQueueKey)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	notifier := notify.NewQueueNotifier(q, logger, m, cfg.NotifyTimeout)
	svc := leave.NewService(store.NewRepository(db), notifier,
		leave.Policy{FinalApprovalAnyLevel: cfg.FinalApprovalAnyLevel, Location: cfg.Location()},
		leave.WithLogger(logger),
		leave.WithMetrics(m),
	)

	health := map[string]handler.HealthCheck{"db": db.Healthy}
	if cfg.QueueBackend != "memory" {
		health["redis"] = redisClient.Healthy
	}
	h := handler.New(svc, handler.Config{
		SigningKey:      cfg.JWTSigningKey,
		Issuer:          cfg.JWTIssuer,
		AccessTTL:       cfg.AccessTTL,
		DevTokens:       cfg.Env == "dev",
		RateLimitPerMin: cfg.RateLimitPerMin,
		AllowOrigin:     cfg.FrontendBaseURL,
	}, logger, health, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	// Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      h.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Printf("[api] listening on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Printf("[api] shutting down")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(err, "[api] forced shutdown")
	}
	notifier.Wait()

	logger.Printf("[api] exited")
	return nil
}
