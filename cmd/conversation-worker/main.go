package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/dealer-sms-agent/cmd/mainconfig"
	"github.com/wolfman30/dealer-sms-agent/internal/app/bootstrap"
	appconfig "github.com/wolfman30/dealer-sms-agent/internal/config"
	"github.com/wolfman30/dealer-sms-agent/internal/observability/tracing"
	"github.com/wolfman30/dealer-sms-agent/pkg/logging"
)

func main() {
	mainconfig.LoadEnv()
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	if cfg.UseMemoryQueue {
		logger.Error("conversation-worker consumes SQS; set CONVERSATION_QUEUE_URL or run the api with USE_MEMORY_QUEUE")
		os.Exit(1)
	}

	shutdownTracing, err := tracing.Setup(context.Background(), tracing.Config{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Env,
		Endpoint:    cfg.OTLPEndpoint,
		Headers:     cfg.OTLPHeaders,
	}, logger)
	if err != nil {
		logger.Error("failed to set up tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(ctx)
	}()

	awsConfig, err := mainconfig.LoadAWSConfig(context.Background(), cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	rt, err := bootstrap.BuildRuntime(context.Background(), cfg, &awsConfig, registry, logger)
	if err != nil {
		logger.Error("failed to build runtime", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	worker := rt.NewWorker(cfg, logger)
	worker.Start(ctx)
	go bootstrap.RunProcessedEventsJanitor(ctx, rt.Processed, cfg.ProcessedEventsRetention, time.Hour, logger)

	metricsSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()
	logger.Info("conversation worker started", "workers", cfg.WorkerCount, "queue", cfg.ConversationQueueURL)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down conversation worker...")
	cancel()

	doneCtx, doneCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer doneCancel()
	_ = metricsSrv.Shutdown(doneCtx)

	waitCh := make(chan struct{})
	go func() {
		worker.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Info("conversation worker stopped")
	case <-doneCtx.Done():
		logger.Error("conversation worker shutdown timed out", "error", doneCtx.Err())
	}
}
