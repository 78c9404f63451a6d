package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type queueClient interface {
	Send(ctx context.Context, body string, opts sendOptions) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// Queue is the job transport shared by Publisher and Worker. MemoryQueue and
// SQSQueue implement it.
type Queue interface {
	queueClient
}

var (
	_ Queue = (*MemoryQueue)(nil)
	_ Queue = (*SQSQueue)(nil)
)

// sendOptions carries FIFO hints; queues that do not order messages ignore them.
type sendOptions struct {
	GroupID         string
	DeduplicationID string
}

type queueMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
}

type jobType string

const jobTypeInbound jobType = "inbound_sms"

// InboundMessage is one provider-delivered SMS awaiting a dialogue turn.
type InboundMessage struct {
	Phone             string    `json:"phone"`
	Body              string    `json:"body"`
	ProviderMessageID string    `json:"provider_message_id,omitempty"`
	To                string    `json:"to,omitempty"`
	ReceivedAt        time.Time `json:"received_at"`
}

type queuePayload struct {
	ID      string         `json:"id"`
	Kind    jobType        `json:"kind"`
	Inbound InboundMessage `json:"inbound"`
}

func encodePayload(payload queuePayload) (queuePayload, string, error) {
	if payload.ID == "" {
		payload.ID = uuid.NewString()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return queuePayload{}, "", fmt.Errorf("conversation: failed to encode payload: %w", err)
	}

	return payload, string(body), nil
}
