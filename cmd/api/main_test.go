package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/wolfman30/dealer-sms-agent/internal/app/bootstrap"
	appconfig "github.com/wolfman30/dealer-sms-agent/internal/config"
	"github.com/wolfman30/dealer-sms-agent/pkg/logging"
)

func TestSetupMetricsExposesDealerCounters(t *testing.T) {
	handler, registry := setupMetrics()
	if handler == nil || registry == nil {
		t.Fatalf("expected non-nil handler and registry")
	}

	rt, err := bootstrap.BuildRuntime(context.Background(), &appconfig.Config{UseMemoryQueue: true}, nil, registry, logging.New("error"))
	if err != nil {
		t.Fatalf("build runtime: %v", err)
	}
	defer rt.Close()
	rt.Metrics.ObserveInbound("accepted")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "dealer_messaging_inbound_webhook_total") {
		t.Fatalf("expected inbound counter to be exported")
	}
}

func TestStartInlineWorkerDisabled(t *testing.T) {
	cfg := &appconfig.Config{UseMemoryQueue: false}
	if worker := startInlineWorker(context.Background(), cfg, &bootstrap.Runtime{}, logging.New("error")); worker != nil {
		t.Fatalf("expected no worker when memory queue is disabled")
	}
}

func TestInlineWorkerProcessesWebhook(t *testing.T) {
	logger := logging.New("error")
	cfg := &appconfig.Config{
		UseMemoryQueue: true,
		WorkerCount:    1,
		AgentName:      "Jerry",
		DealershipName: "Foothills Motors",
		AdminJWTSecret: "secret",
	}
	metricsHandler, registry := setupMetrics()
	rt, err := bootstrap.BuildRuntime(context.Background(), cfg, nil, registry, logger)
	if err != nil {
		t.Fatalf("build runtime: %v", err)
	}
	defer rt.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	worker := startInlineWorker(ctx, cfg, rt, logger)
	if worker == nil {
		t.Fatalf("expected worker when memory queue is enabled")
	}

	handler := buildRouter(cfg, rt, metricsHandler, logger)

	form := url.Values{}
	form.Set("MessageSid", "SM900")
	form.Set("From", "+14035550100")
	form.Set("To", "+15875550000")
	form.Set("Body", "hello")
	req := httptest.NewRequest(http.MethodPost, "/messaging/twilio/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected webhook 200, got %d", rr.Code)
	}

	admin := rt.NewAdminService(cfg, logger)
	deadline := time.Now().Add(2 * time.Second)
	for {
		transcript, err := admin.Transcript(ctx, "+14035550100")
		if err == nil && len(transcript.Messages) == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected the inline worker to reply to the webhook message")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	waitForInlineWorker(worker, logger)
}
