package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/dealer-sms-agent/internal/conversation"
	"github.com/wolfman30/dealer-sms-agent/pkg/logging"
)

var twilioSendTracer = otel.Tracer("dealer.internal.messaging.twilio_send")

const (
	defaultTwilioBaseURL = "https://api.twilio.com"
	twilioSendAttempts   = 3
)

// TwilioSender posts SMS messages using Twilio's REST API.
type TwilioSender struct {
	accountSID string
	authToken  string
	from       string
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
	sleep      func(time.Duration)
}

// SenderOption customizes a TwilioSender.
type SenderOption func(*TwilioSender)

// WithBaseURL points the sender at a different API host (tests, proxies).
func WithBaseURL(baseURL string) SenderOption {
	return func(s *TwilioSender) {
		if baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/"); baseURL != "" {
			s.baseURL = baseURL
		}
	}
}

// WithHTTPClient replaces the default 10s-timeout client.
func WithHTTPClient(client *http.Client) SenderOption {
	return func(s *TwilioSender) {
		if client != nil {
			s.httpClient = client
		}
	}
}

// NewTwilioSender builds a sender with sane defaults.
func NewTwilioSender(accountSID, authToken, defaultFrom string, logger *logging.Logger, opts ...SenderOption) *TwilioSender {
	if logger == nil {
		logger = logging.Default()
	}
	s := &TwilioSender{
		accountSID: strings.TrimSpace(accountSID),
		authToken:  strings.TrimSpace(authToken),
		from:       strings.TrimSpace(defaultFrom),
		baseURL:    defaultTwilioBaseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
		sleep:  time.Sleep,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ conversation.ReplyMessenger = (*TwilioSender)(nil)

// SendReply dispatches a single SMS, retrying network errors, 429s and 5xx responses.
func (s *TwilioSender) SendReply(ctx context.Context, msg conversation.OutboundReply) error {
	if s.accountSID == "" || s.authToken == "" {
		return errors.New("messaging: twilio credentials missing")
	}
	if msg.To == "" {
		return errors.New("messaging: to required")
	}
	if msg.From == "" {
		msg.From = s.from
	}
	if msg.From == "" {
		return errors.New("messaging: from required")
	}
	if strings.TrimSpace(msg.Body) == "" {
		return errors.New("messaging: body required")
	}

	ctx, span := twilioSendTracer.Start(ctx, "messaging.twilio.send")
	defer span.End()
	span.SetAttributes(
		attribute.String("dealer.conversation_id", msg.ConversationID),
		attribute.String("dealer.to", msg.To),
	)

	payload := url.Values{}
	payload.Set("To", msg.To)
	payload.Set("From", msg.From)
	payload.Set("Body", msg.Body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", s.baseURL, s.accountSID)

	var lastErr error
	for attempt := 1; attempt <= twilioSendAttempts; attempt++ {
		retry, err := s.post(ctx, endpoint, payload, msg)
		if err == nil {
			s.logger.Info("twilio sms sent", "conversation_id", msg.ConversationID, "to", msg.To, "attempt", attempt)
			return nil
		}
		lastErr = err
		if !retry || ctx.Err() != nil {
			break
		}
		if attempt < twilioSendAttempts {
			s.sleep(time.Duration(200+rand.Intn(300)) * time.Millisecond)
		}
	}

	span.RecordError(lastErr)
	return lastErr
}

// post performs one attempt and reports whether a failure is worth retrying.
func (s *TwilioSender) post(ctx context.Context, endpoint string, payload url.Values, msg conversation.OutboundReply) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(payload.Encode()))
	if err != nil {
		return false, fmt.Errorf("messaging: build twilio request: %w", err)
	}
	req.SetBasicAuth(s.accountSID, s.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return true, fmt.Errorf("messaging: twilio request: %w", err)
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if msg.Metadata != nil && len(body) > 0 {
			var parsed struct {
				SID    string `json:"sid"`
				Status string `json:"status"`
			}
			if err := json.Unmarshal(body, &parsed); err == nil {
				if parsed.SID != "" {
					msg.Metadata["provider_message_id"] = parsed.SID
				}
				if parsed.Status != "" {
					msg.Metadata["provider_status"] = parsed.Status
				}
			}
		}
		return false, nil
	}

	err = fmt.Errorf("messaging: twilio send failed: %s", formatTwilioError(resp.StatusCode, body))
	// Only rate limits and server errors are transient.
	return resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500, err
}

type twilioAPIError struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
	Status   int    `json:"status"`
}

func formatTwilioError(status int, body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return fmt.Sprintf("status %d", status)
	}
	var parsed twilioAPIError
	if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil && parsed.Message != "" {
		if parsed.Code != 0 {
			return fmt.Sprintf("status %d code %d: %s", status, parsed.Code, parsed.Message)
		}
		return fmt.Sprintf("status %d: %s", status, parsed.Message)
	}
	return fmt.Sprintf("status %d: %s", status, trimmed)
}
