package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/dunamismax/convertflow/internal/codec"
	"github.com/dunamismax/convertflow/internal/config"
	"github.com/dunamismax/convertflow/internal/convert"
	"github.com/dunamismax/convertflow/internal/storage"
	"github.com/dunamismax/convertflow/internal/store"
	"github.com/dunamismax/convertflow/internal/telemetry"
	"github.com/dunamismax/convertflow/internal/webhook"
	"github.com/dunamismax/convertflow/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[worker] ", log.LstdFlags|log.Lmsgprefix)

	if err := codec.Startup(); err != nil {
		logger.Fatalf("codec startup failed: %v", err)
	}
	defer codec.Shutdown()

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelStartup()

	shutdownTracing, err := telemetry.SetupTracing(startupCtx, telemetry.TraceConfig{
		ServiceName:  cfg.Tracing.ServiceName,
		Component:    "worker",
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
		logger.Printf("object storage disabled, only local_file jobs will run: %v", err)
		storageClient = nil
	}

	webhookClient := webhook.NewClient(webhook.Config{
		SigningSecret:  cfg.Webhook.SigningSecret,
		Timeout:        cfg.Webhook.Timeout,
		MaxAttempts:    cfg.Webhook.MaxAttempts,
		InitialBackoff: cfg.Webhook.InitialBackoff,
		MaxBackoff:     cfg.Webhook.MaxBackoff,
	})

	converter := &convert.Converter{Options: codec.Options{Quality: cfg.Convert.Quality}, Logger: logger}

	logger.Printf(
		"starting worker concurrency=%d max_active_jobs=%d queue=%s redis=%s store=%s webp=%t",
		cfg.Worker.Concurrency,
		cfg.Worker.MaxActiveJobs,
		cfg.Queue.Name,
		cfg.Queue.RedisAddr,
		cfg.Database.Driver,
		codec.WebPEncodingAvailable(),
	)

	usageStore, _ := jobStore.(store.UsageStore)
	srv, err := worker.NewServer(
		logger,
		cfg.Queue,
		cfg.Worker,
		converter,
		cfg.API.MaxInputBytes,
		storageClient,
		webhookClient,
		jobStore,
		usageStore,
	)
	if err != nil {
		logger.Fatalf("worker setup failed: %v", err)
	}

	if cfg.Worker.MetricsAddr != "" {
		metricsServer := &http.Server{
			Addr:              cfg.Worker.MetricsAddr,
			Handler:           srv.MetricsHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Printf("metrics listening on %s", cfg.Worker.MetricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Printf("metrics server failed: %v", err)
			}
		}()
	}

	if err := srv.Run(); err != nil {
		logger.Fatalf("worker failed: %v", err)
	}
}
