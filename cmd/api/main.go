package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/dealer-sms-agent/cmd/mainconfig"
	"github.com/wolfman30/dealer-sms-agent/internal/api/router"
	"github.com/wolfman30/dealer-sms-agent/internal/app/bootstrap"
	appconfig "github.com/wolfman30/dealer-sms-agent/internal/config"
	"github.com/wolfman30/dealer-sms-agent/internal/conversation"
	"github.com/wolfman30/dealer-sms-agent/internal/http/handlers"
	"github.com/wolfman30/dealer-sms-agent/internal/messaging"
	"github.com/wolfman30/dealer-sms-agent/internal/observability/tracing"
	"github.com/wolfman30/dealer-sms-agent/pkg/logging"
)

func main() {
	mainconfig.LoadEnv()

	// Load configuration
	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting dealer-sms-agent API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"memory_queue", cfg.UseMemoryQueue,
	)

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

	var awsCfg *aws.Config
	if mainconfig.NeedsAWS(cfg) {
		loaded, err := mainconfig.LoadAWSConfig(context.Background(), cfg)
		if err != nil {
			logger.Error("failed to load AWS config", "error", err)
			os.Exit(1)
		}
		awsCfg = &loaded
	}

	metricsHandler, registry := setupMetrics()
	rt, err := bootstrap.BuildRuntime(context.Background(), cfg, awsCfg, registry, logger)
	if err != nil {
		logger.Error("failed to build runtime", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	appCtx, cancelApp := context.WithCancel(context.Background())
	defer cancelApp()

	go bootstrap.RunProcessedEventsJanitor(appCtx, rt.Processed, cfg.ProcessedEventsRetention, time.Hour, logger)

	worker := startInlineWorker(appCtx, cfg, rt, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      buildRouter(cfg, rt, metricsHandler, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	cancelApp()
	waitForInlineWorker(worker, logger)

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

func setupMetrics() (http.Handler, *prometheus.Registry) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), registry
}

func buildRouter(cfg *appconfig.Config, rt *bootstrap.Runtime, metricsHandler http.Handler, logger *logging.Logger) http.Handler {
	publisher := conversation.NewPublisher(rt.Queue, logger)
	messagingHandler := messaging.NewHandler(cfg.TwilioWebhookSecret, publisher, logger,
		messaging.WithPublicBaseURL(cfg.PublicBaseURL),
		messaging.WithWebhookObserver(rt.Metrics),
	)

	routerCfg := &router.Config{
		Logger:           logger,
		MessagingHandler: messagingHandler,
		AdminAuthSecret:  cfg.AdminJWTSecret,
		AdminRateLimit:   cfg.AdminRateLimit,
		MetricsHandler:   metricsHandler,
	}
	if cfg.AdminJWTSecret != "" {
		routerCfg.AdminConversations = handlers.NewAdminConversationsHandler(rt.NewAdminService(cfg, logger), logger)
	} else {
		logger.Warn("ADMIN_JWT_SECRET not set; admin routes disabled")
	}
	return router.New(routerCfg)
}

// startInlineWorker consumes the in-process queue. It returns nil when turns are
// handled by cmd/conversation-worker instead.
func startInlineWorker(ctx context.Context, cfg *appconfig.Config, rt *bootstrap.Runtime, logger *logging.Logger) *conversation.Worker {
	if !cfg.UseMemoryQueue || rt.MemoryQueue == nil {
		return nil
	}
	worker := rt.NewWorker(cfg, logger)
	worker.Start(ctx)
	logger.Info("inline conversation worker started", "workers", cfg.WorkerCount)
	return worker
}

func waitForInlineWorker(worker *conversation.Worker, logger *logging.Logger) {
	if worker == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		worker.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("inline conversation worker stopped")
	case <-time.After(30 * time.Second):
		logger.Error("inline conversation worker shutdown timed out")
	}
}
