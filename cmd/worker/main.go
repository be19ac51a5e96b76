package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/rushboard/rushboard/internal/advance"
	"github.com/rushboard/rushboard/internal/app"
	jobmetrics "github.com/rushboard/rushboard/internal/jobs"
	"github.com/rushboard/rushboard/internal/platform/cache"
	"github.com/rushboard/rushboard/internal/platform/db"
	"github.com/rushboard/rushboard/internal/realtime"
	"github.com/rushboard/rushboard/internal/rounds"
	"github.com/rushboard/rushboard/internal/settings"
	"github.com/rushboard/rushboard/internal/shared"
	"github.com/rushboard/rushboard/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	// Transitions applied by the worker reach API subscribers through the redis bus.
	publisher := realtime.NewBroadcaster(realtime.NewRedisBridge(redisClient, cfg.RealtimeChannelPrefix, logger), logger)
	auditLogger := shared.NewAuditLogger(pool)

	roundRepo := rounds.NewRepository(pool)
	roundService := rounds.NewService(roundRepo, publisher, auditLogger, logger)
	sweeper := advance.NewSweeper(roundRepo, roundService, logger)
	// The worker never writes the current cycle, so it needs no cycle directory.
	settingsService := settings.NewService(settings.NewRepository(pool), nil, publisher, auditLogger, logger)

	sweepJob := jobs.NewSweepJob(sweeper, settingsService, logger, jobmetrics.NewMetrics(nil))
	sweepTask, err := jobs.NewSweepTask(jobs.SweepPayload{})
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskAdvanceSweep, Handler: sweepJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.SweepCron, Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(0), asynq.Queue(jobs.QueueDefault)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
