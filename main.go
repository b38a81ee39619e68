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

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"

	"climbcrew/internal"
	"climbcrew/internal/attendance"
	"climbcrew/internal/config"
	"climbcrew/internal/crew"
	"climbcrew/internal/invalidate"
	"climbcrew/internal/ratelimit"
	"climbcrew/internal/storage/memory"
	"climbcrew/internal/storage/postgres"
	"climbcrew/internal/telemetry"
)

type store interface {
	crew.Store
	attendance.Store
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	logger := slog.New(internal.ContextHandler{Handler: cfg.Logger(os.Stdout).Handler()})
	slog.SetDefault(logger)
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.OTelEndpoint, cfg.OTelServiceName)
	if err != nil {
		logger.Error("setup tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	var (
		st     store
		health func(context.Context) error
	)
	if cfg.DatabaseURL != "" {
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL, postgres.ConnectOptions{MaxConns: cfg.DBMaxConns}, logger)
		if err != nil {
			logger.Error("connect database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		pg := postgres.New(pool, cfg.StoreTimeout)
		if err := pg.EnsureSchema(ctx); err != nil {
			logger.Error("apply schema", "error", err)
			os.Exit(1)
		}
		st, health = pg, pg.Ping
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory store")
		st = memory.New()
	}

	var (
		limitStore ratelimit.Store
		publisher  invalidate.Publisher = invalidate.LogPublisher{Logger: logger}
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("parse redis url", "error", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis not reachable at startup", "error", err)
		}
		limitStore = ratelimit.NewRedisStore(rdb)
		publisher = invalidate.NewRedisPublisher(rdb, cfg.InvalidationChannel, logger)
	} else {
		logger.Warn("REDIS_URL not set, rate limiting disabled")
	}
	limiter := ratelimit.New(limitStore, ratelimit.Options{
		FailOpen: cfg.RateLimitFailOpen || limitStore == nil,
		Timeout:  cfg.RateLimitTimeout,
	}, logger)

	crews := crew.NewService(st, logger)
	att := attendance.NewService(st, crews, publisher, logger)

	r := internal.Router(internal.Deps{
		Crews:      crews,
		Attendance: att,
		Limiter:    limiter,
		Logger:     logger,
		JWTSecret:  cfg.JWTSecret,
		AuthCookie: cfg.AuthCookie,
		SweepToken: cfg.SweepToken,
		Health:     health,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("serve", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		logger.Error("shutdown", "error", err)
	}
}
