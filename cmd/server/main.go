package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"finance_tracker/internal/api"
	"finance_tracker/internal/config"
	"finance_tracker/internal/db"
	"finance_tracker/internal/realtime"
	"finance_tracker/internal/service"
	"finance_tracker/internal/store"
	"finance_tracker/internal/utils"

	"github.com/cenkalti/backoff/v5"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	startupTimeout  = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

// Main function to set up and run the server
func main() {
	cfg := config.LoadConfig()
	setupLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gdb, err := connectDB(ctx, cfg)
	if err != nil {
		logrus.Fatalf("failed to connect to DB: %v", err)
	}
	if cfg.AutoMigrate {
		if err := db.AutoMigrate(gdb); err != nil {
			logrus.Fatalf("%v", err)
		}
	}

	// An unreachable Redis degrades reads to the database, it does not stop the server
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPass,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()
	cache := utils.NewCache(redisClient)
	if err := connectCache(ctx, cache); err != nil {
		logrus.WithError(err).Warn("Redis unreachable, continuing without a warm cache")
	}

	st := store.New(gdb)
	hub := realtime.NewHub(realtime.Config{
		Store:         st,
		Cache:         cache,
		JWTSecret:     cfg.JWTSecret,
		Logger:        logrus.StandardLogger(),
		AllowedOrigin: cfg.ClientOrigin,
	})
	hubCtx, stopHub := context.WithCancel(context.Background())
	go hub.Run(hubCtx)

	svc := service.NewTransactionService(st, service.Options{
		Cache:            cache,
		Broadcaster:      hub,
		Logger:           logrus.StandardLogger(),
		CacheTTL:         cfg.CacheTTL,
		ConflictWindow:   cfg.ConflictWindow,
		BypassCacheReads: cfg.IsDevelopment(),
	})

	// Set Mode to Release if in production
	if cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := api.NewRouter(api.Deps{
		Store:        st,
		Transactions: svc,
		Cache:        cache,
		Hub:          hub,
		JWTSecret:    cfg.JWTSecret,
	})
	// Set trusted proxies for Gin
	if err := r.SetTrustedProxies([]string{"127.0.0.1"}); err != nil {
		logrus.Fatalf("failed to set trusted proxies: %v", err)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logrus.WithFields(logrus.Fields{"port": cfg.AppPort, "env": cfg.AppEnv}).Info("Server running")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logrus.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("Graceful shutdown failed")
	}
	// closes every websocket, which hijacked connections Shutdown does not track
	stopHub()
}

func setupLogger(cfg *config.Config) {
	if cfg.IsProd() {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logrus.WithField("level", cfg.LogLevel).Warn("Unknown log level, using info")
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}

// connectDB opens the database, retrying with exponential backoff while it comes up
func connectDB(ctx context.Context, cfg *config.Config) (*gorm.DB, error) {
	return backoff.Retry(ctx, func() (*gorm.DB, error) {
		gdb, err := db.Open(cfg)
		if err != nil {
			return nil, err
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := db.Ping(pingCtx, gdb); err != nil {
			if sqlDB, e := gdb.DB(); e == nil {
				_ = sqlDB.Close()
			}
			return nil, err
		}
		return gdb, nil
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(startupTimeout),
		backoff.WithNotify(func(err error, next time.Duration) {
			logrus.WithFields(logrus.Fields{"error": err.Error(), "retry_in": next.String()}).Warn("Database not ready")
		}),
	)
}

func connectCache(ctx context.Context, cache *utils.Cache) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, cache.Ping(ctx)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(5),
	)
	return err
}
