package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/dealer-sms-agent/internal/conversation"
	"github.com/wolfman30/dealer-sms-agent/internal/phone"
	"github.com/wolfman30/dealer-sms-agent/pkg/logging"
)

var twilioTracer = otel.Tracer("dealer.internal.messaging.twilio")

// emptyTwiML acknowledges a webhook without sending anything; replies go out through
// the REST API once the turn has run.
const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

type inboundPublisher interface {
	EnqueueInbound(ctx context.Context, msg conversation.InboundMessage) error
}

// WebhookObserver records webhook outcomes. *metrics.DealerMetrics satisfies it.
type WebhookObserver interface {
	ObserveInbound(status string)
	ObserveWebhookLatency(d time.Duration)
}

// Handler handles messaging webhook requests.
type Handler struct {
	webhookSecret string
	publicBaseURL string
	publisher     inboundPublisher
	observer      WebhookObserver
	logger        *logging.Logger
}

// HandlerOption customizes a Handler.
type HandlerOption func(*Handler)

// WithPublicBaseURL fixes the scheme and host used for signature checks when the
// service sits behind a proxy that rewrites them.
func WithPublicBaseURL(base string) HandlerOption {
	return func(h *Handler) {
		h.publicBaseURL = strings.TrimRight(strings.TrimSpace(base), "/")
	}
}

// WithWebhookObserver records webhook metrics.
func WithWebhookObserver(observer WebhookObserver) HandlerOption {
	return func(h *Handler) {
		h.observer = observer
	}
}

// NewHandler creates a new messaging handler. An empty webhookSecret disables
// signature validation.
func NewHandler(webhookSecret string, publisher inboundPublisher, logger *logging.Logger, opts ...HandlerOption) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	if publisher == nil {
		panic("messaging: publisher cannot be nil")
	}
	h := &Handler{
		webhookSecret: webhookSecret,
		publisher:     publisher,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// TwilioWebhook handles POST /messaging/twilio/webhook requests. Apart from a bad
// signature, every outcome is acknowledged with empty TwiML so Twilio never retries
// or shows the customer an error.
func (h *Handler) TwilioWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, span := twilioTracer.Start(r.Context(), "messaging.twilio.webhook")
	defer span.End()

	if h.webhookSecret != "" {
		if !ValidateTwilioSignature(r, h.webhookSecret, h.signatureURL(r)) {
			h.logger.Warn("invalid twilio signature", "remote_addr", r.RemoteAddr)
			span.RecordError(errors.New("invalid twilio signature"))
			h.observe("unauthorized", start)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}

	status := h.accept(ctx, span, r)
	span.SetAttributes(attribute.String("dealer.webhook.status", status))
	h.observe(status, start)

	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(emptyTwiML))
}

func (h *Handler) accept(ctx context.Context, span trace.Span, r *http.Request) string {
	webhook, err := ParseTwilioWebhook(r)
	if err != nil {
		h.logger.Error("failed to parse twilio webhook", "error", err)
		return "invalid"
	}
	from := phone.Normalize(webhook.From)
	if from == "" || strings.TrimSpace(webhook.Body) == "" {
		h.logger.Warn("ignoring twilio webhook without sender or body",
			"message_sid", webhook.MessageSid, "raw_from", webhook.From)
		return "invalid"
	}
	span.SetAttributes(
		attribute.String("dealer.twilio.message_sid", webhook.MessageSid),
		attribute.String("dealer.twilio.from", from),
	)

	msg := conversation.InboundMessage{
		Phone:             from,
		Body:              webhook.Body,
		ProviderMessageID: webhook.MessageSid,
		To:                phone.Normalize(webhook.To),
		ReceivedAt:        time.Now().UTC(),
	}

	publishCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := h.publisher.EnqueueInbound(publishCtx, msg); err != nil {
		h.logger.Error("failed to enqueue inbound sms", "error", err, "phone", from, "message_sid", webhook.MessageSid)
		return "enqueue_failed"
	}

	h.logger.Info("twilio webhook accepted", "phone", from, "message_sid", webhook.MessageSid)
	return "accepted"
}

func (h *Handler) signatureURL(r *http.Request) string {
	if h.publicBaseURL != "" {
		return h.publicBaseURL + r.URL.RequestURI()
	}
	return buildAbsoluteURL(r)
}

func (h *Handler) observe(status string, start time.Time) {
	if h.observer == nil {
		return
	}
	h.observer.ObserveInbound(status)
	h.observer.ObserveWebhookLatency(time.Since(start))
}

// HealthCheck returns a simple health check response.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := map[string]string{
		"status": "ok",
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}

func buildAbsoluteURL(r *http.Request) string {
	if r.URL == nil {
		return ""
	}
	if r.URL.Scheme != "" {
		return r.URL.String()
	}
	scheme := r.Header.Get("X-Forwarded-Proto")
	if scheme == "" {
		scheme = "https"
		if r.TLS == nil {
			scheme = "http"
		}
	}
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	return fmt.Sprintf("%s://%s%s", scheme, host, r.URL.RequestURI())
}
