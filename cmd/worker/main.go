package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"outpass/internal/config"
	"outpass/internal/leave"
	"outpass/internal/logging"
	"outpass/internal/metrics"
	"outpass/internal/notify"
	"outpass/internal/queue"
	"outpass/internal/scheduler"
	"outpass/internal/store"
)

// Worker runs the expiry sweep and delivers queued notifications.
func main() {
	cfg := config.Load()
	logger := logging.New(logging.Options{Env: cfg.Env, RollbarToken: cfg.RollbarToken})
	defer logger.Close()
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Printf("[worker] shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()
	if err := store.Migrate(ctx, db); err != nil {
		logger.Fatalf("migrate: %v", err)
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	var (
		q    queue.Queue
		lock scheduler.Locker
	)
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(256)
		lock = scheduler.NopLocker{}
	} else {
		q = queue.NewRedisQueue(redisClient.Client, cfg.NotifyQueueKey)
		lock = scheduler.NewRedisLocker(redisClient.Client)
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	metricsSrv := &http.Server{Addr: ":" + cfg.MetricsPort, Handler: promhttp.Handler()}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(err, "[worker] metrics server")
		}
	}()
	defer metricsSrv.Close()

	notifier := notify.NewQueueNotifier(q, logger, m, cfg.NotifyTimeout)

	sweeper := leave.NewSweeper(store.NewRepository(db), notifier, leave.SweeperConfig{
		BatchSize:     cfg.SweepBatchSize,
		RecordTimeout: cfg.SweepRecordTimeout,
		Metrics:       m,
		Logger:        logger,
	})
	sched := scheduler.New(sweeper, lock, logger, scheduler.Config{
		Interval: cfg.SweepInterval,
		LockTTL:  cfg.SweepLockTTL,
	})
	if err := sched.Start(ctx); err != nil {
		logger.Fatalf("scheduler: %v", err)
	}

	dir, err := notify.ParseDirectory(cfg.RoleEmails)
	if err != nil {
		logger.Fatalf("config: %v", err)
	}
	renderer, err := notify.NewRenderer(cfg.AppName, cfg.FrontendBaseURL, cfg.Location())
	if err != nil {
		logger.Fatalf("templates: %v", err)
	}
	var mailer notify.Mailer = notify.LogMailer{Log: logger}
	if cfg.SendGridAPIKey != "" {
		mailer = notify.NewSendGridMailer(cfg.SendGridAPIKey, cfg.AppName, cfg.MailFrom)
	} else {
		logger.Printf("[worker] SENDGRID_API_KEY not set, emails are logged only")
	}

	w := notify.NewWorker(q, renderer, mailer, dir, logger, m)
	if err := w.Run(ctx); err != nil {
		logger.Fatalf("notification worker: %v", err)
	}

	sched.Stop()
	notifier.Wait()
	logger.Printf("[worker] stopped")
}
