package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/wolfman30/dealer-sms-agent/internal/phone"
	"github.com/wolfman30/dealer-sms-agent/pkg/logging"
)

// Publisher enqueues inbound messages for asynchronous dialogue turns.
type Publisher struct {
	queue  queueClient
	logger *logging.Logger
}

// NewPublisher creates a queue-backed publisher.
func NewPublisher(queue queueClient, logger *logging.Logger) *Publisher {
	if queue == nil {
		panic("conversation: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{
		queue:  queue,
		logger: logger,
	}
}

// EnqueueInbound publishes one inbound SMS. The job id is the provider message id when
// present so queue-level deduplication lines up with the processed events table.
func (p *Publisher) EnqueueInbound(ctx context.Context, msg InboundMessage) error {
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now().UTC()
	}
	payload, body, err := encodePayload(queuePayload{
		ID:      msg.ProviderMessageID,
		Kind:    jobTypeInbound,
		Inbound: msg,
	})
	if err != nil {
		return err
	}

	opts := sendOptions{
		GroupID:         phone.Digits(msg.Phone),
		DeduplicationID: payload.ID,
	}
	if err := p.queue.Send(ctx, body, opts); err != nil {
		return fmt.Errorf("conversation: failed to enqueue job: %w", err)
	}

	p.logger.Debug("conversation job enqueued", "job_id", payload.ID, "kind", payload.Kind)
	return nil
}
