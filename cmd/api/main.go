package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dunamismax/convertflow/internal/api"
	"github.com/dunamismax/convertflow/internal/codec"
	"github.com/dunamismax/convertflow/internal/config"
	"github.com/dunamismax/convertflow/internal/convert"
	"github.com/dunamismax/convertflow/internal/queue"
	"github.com/dunamismax/convertflow/internal/ratelimit"
	"github.com/dunamismax/convertflow/internal/storage"
	"github.com/dunamismax/convertflow/internal/store"
	"github.com/dunamismax/convertflow/internal/telemetry"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lmsgprefix)

	if err := codec.Startup(); err != nil {
		logger.Fatalf("codec startup failed: %v", err)
	}
	defer codec.Shutdown()

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelStartup()

	shutdownTracing, err := telemetry.SetupTracing(startupCtx, telemetry.TraceConfig{
		ServiceName:  cfg.Tracing.ServiceName,
		Component:    "api",
		Exporter:     cfg.Tracing.Exporter,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		OTLPInsecure: cfg.Tracing.OTLPInsecure,
		SampleRatio:  cfg.Tracing.SampleRatio,
	}, logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Printf("tracing shutdown error: %v", err)
		}
	}()

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name, cfg.Queue.TaskTimeout)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Printf("queue client close error: %v", err)
		}
	}()

	jobStore, closeStore, err := store.Open(startupCtx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		logger.Fatalf("job store setup failed: %v", err)
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Printf("job store close error: %v", err)
		}
	}()

	storageClient, err := storage.NewClient(storage.Config{
		Endpoint: cfg.Storage.Endpoint,
		Access:   cfg.Storage.AccessKey,
		Secret:   cfg.Storage.SecretKey,
		Bucket:   cfg.Storage.Bucket,
		UseSSL:   cfg.Storage.UseSSL,
	})
	if err != nil {
		logger.Fatalf("storage setup failed: %v", err)
	}
	if err := storageClient.EnsureBucket(startupCtx); err != nil {
		logger.Printf("ensure bucket failed bucket=%s err=%v", storageClient.Bucket(), err)
	}

	var limiter api.RateLimiter
	if cfg.RateLimit.Capacity > 0 {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Queue.RedisAddr,
			Password: cfg.Queue.RedisPassword,
			DB:       cfg.Queue.RedisDB,
		})
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Printf("redis client close error: %v", err)
			}
		}()

		bucket, err := ratelimit.NewRedisTokenBucket(redisClient, cfg.RateLimit.Capacity, cfg.RateLimit.Window, "")
		if err != nil {
			logger.Fatalf("rate limiter setup failed: %v", err)
		}
		limiter = bucket
		logger.Printf("rate limiting enabled capacity=%d window=%s", cfg.RateLimit.Capacity, cfg.RateLimit.Window)
	}

	app := api.NewServer(logger, queueClient, jobStore, storageClient, api.Config{
		PresignTTL:            cfg.API.PresignTTL,
		MaxInputBytes:         cfg.API.MaxInputBytes,
		Converter:             &convert.Converter{Options: codec.Options{Quality: cfg.Convert.Quality}, Logger: logger},
		RateLimiter:           limiter,
		RateLimitUserIDHeader: cfg.RateLimit.UserIDHeader,
	})

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s store=%s webp=%t", cfg.API.Addr, cfg.Database.Driver, codec.WebPEncodingAvailable())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Println("shutting down")
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}
