package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/rushboard/rushboard/internal/advance"
	"github.com/rushboard/rushboard/internal/app"
	"github.com/rushboard/rushboard/internal/audit"
	"github.com/rushboard/rushboard/internal/auth"
	"github.com/rushboard/rushboard/internal/cycles"
	"github.com/rushboard/rushboard/internal/delibs"
	"github.com/rushboard/rushboard/internal/observability"
	"github.com/rushboard/rushboard/internal/platform/cache"
	"github.com/rushboard/rushboard/internal/platform/db"
	"github.com/rushboard/rushboard/internal/rbac"
	"github.com/rushboard/rushboard/internal/realtime"
	"github.com/rushboard/rushboard/internal/rounds"
	"github.com/rushboard/rushboard/internal/settings"
	"github.com/rushboard/rushboard/internal/shared"
	"github.com/rushboard/rushboard/internal/votes"
	"github.com/rushboard/rushboard/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	if cfg.AutoMigrate {
		if err := db.Migrate(ctx, dbpool); err != nil {
			logger.Error("migrate schema", slog.Any("error", err))
			os.Exit(1)
		}
	}

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

	// Every replica publishes to redis and relays redis back into its local hub,
	// so a subscriber sees events regardless of which replica committed them.
	hub := realtime.NewHub()
	bridge := realtime.NewRedisBridge(redisClient, cfg.RealtimeChannelPrefix, logger)
	if err := bridge.Relay(ctx, hub, realtime.ChannelRounds, realtime.ChannelSettings); err != nil {
		logger.Error("start realtime relay", slog.Any("error", err))
		os.Exit(1)
	}
	publisher := realtime.NewBroadcaster(bridge, logger)

	auditLogger := shared.NewAuditLogger(dbpool)
	rbacMiddleware := rbac.Middleware{Service: rbac.NewService(), Logger: logger}
	authMiddleware := auth.Middleware{Verifier: auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer), Logger: logger}

	cycleRepo := cycles.NewRepository(dbpool)
	settingsService := settings.NewService(settings.NewRepository(dbpool), cycleRepo, publisher, auditLogger, logger)
	cycleService := cycles.NewService(cycleRepo, settingsService, auditLogger, logger)

	roundRepo := rounds.NewRepository(dbpool)
	roundService := rounds.NewService(roundRepo, publisher, auditLogger, logger)
	sweeper := advance.NewSweeper(roundRepo, roundService, logger)

	delibsService := delibs.NewService(delibs.NewRepository(dbpool), publisher, auditLogger, logger)
	voteService := votes.NewService(votes.NewRepository(dbpool), roundRepo, settingsService, auditLogger, logger)

	metrics := observability.NewMetrics()
	metrics.WatchFanout(hub, realtime.ChannelRounds, realtime.ChannelSettings)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		Metrics:         metrics,
		AuthMiddleware:  authMiddleware,
		RBACMiddleware:  rbacMiddleware,
		RoundsHandler:   rounds.NewHandler(logger, roundService, settingsService, rbacMiddleware),
		DelibsHandler:   delibs.NewHandler(logger, delibsService, rbacMiddleware),
		VotesHandler:    votes.NewHandler(logger, voteService, rbacMiddleware),
		CyclesHandler:   cycles.NewHandler(logger, cycleService, rbacMiddleware),
		SettingsHandler: settings.NewHandler(logger, settingsService, rbacMiddleware),
		AuditHandler:    audit.NewHandler(logger, audit.NewService(audit.NewRepository(dbpool)), rbacMiddleware),
		SweepHandler:    advance.NewHandler(logger, sweeper, settingsService),
		RealtimeHandler: realtime.NewHandler(hub, logger, cfg.WSAllowedOrigins),
		JobHandler:      jobs.NewHandler(inspector, jobClient, logger, rbacMiddleware),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
