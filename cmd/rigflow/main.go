package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/rigflow/rigflow/internal/app"
	"github.com/rigflow/rigflow/internal/auth"
	"github.com/rigflow/rigflow/internal/features"
	"github.com/rigflow/rigflow/internal/observability"
	"github.com/rigflow/rigflow/internal/platform/cache"
	"github.com/rigflow/rigflow/internal/rbac"
	"github.com/rigflow/rigflow/internal/shared"
	"github.com/rigflow/rigflow/jobs"
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

	metrics := observability.NewMetrics()
	authzMetrics := observability.NewAuthzMetrics(metrics.Registerer())

	source, err := app.ServerPolicySource(cfg, redisClient)
	if err != nil {
		logger.Error("policy source", slog.Any("error", err))
		os.Exit(1)
	}
	store := rbac.NewStore(rbac.DefaultPolicy(), rbac.StoreConfig{
		Source:   source,
		Logger:   logger,
		Options:  []rbac.ResolverOption{rbac.WithLogger(logger), rbac.WithObserver(authzMetrics)},
		OnReload: authzMetrics.ObserveReload,
	})
	if _, err := store.Reload(ctx); err != nil {
		if cfg.PolicySource != app.PolicySourceRedis || !errors.Is(err, rbac.ErrPolicyNotPublished) {
			logger.Error("initial policy load", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Warn("no policy published yet, serving built-in policy")
	}
	if cfg.PolicySource == app.PolicySourceRedis {
		go func() {
			if err := rbac.Watch(ctx, redisClient, store, logger, nil); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("policy watch stopped", slog.Any("error", err))
			}
		}()
	}

	flags, err := features.LoadFlags()
	if err != nil {
		logger.Error("load feature flags", slog.Any("error", err))
		os.Exit(1)
	}

	sessionManager := shared.NewSessionManager(redisClient, "rigflow_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	rbacMiddleware := rbac.Middleware{Store: store, Logger: logger}

	authService := auth.NewService(store)
	authHandler := auth.NewHandler(logger, authService, sessionManager)
	authzHandler := rbac.NewHandler(logger, store, rbacMiddleware)
	featureGate := features.NewGate(flags, store)

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
	jobHandler := jobs.NewHandler(inspector, jobClient, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		SessionManager: sessionManager,
		Store:          store,
		RBACMiddleware: rbacMiddleware,
		AuthHandler:    authHandler,
		AuthzHandler:   authzHandler,
		FeatureGate:    featureGate,
		JobHandler:     jobHandler,
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("policy_source", source.Name()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
