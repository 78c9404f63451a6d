package conversation

import (
	"context"
	"encoding/json"
	"time"

	"github.com/wolfman30/dealer-sms-agent/pkg/logging"
)

// ConversationEvent represents a structured event in the dialogue lifecycle.
// All events share the same base fields for easy filtering/grep.
type ConversationEvent struct {
	Time           string         `json:"time"`
	Event          string         `json:"event"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Phone          string         `json:"phone"`
	Stage          string         `json:"stage,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
}

// EventLogger emits one JSON line per decision point in a turn:
//
//	grep '"event":"finalized"' /var/log/app.log
//	grep '"phone":"+14035550100"' /var/log/app.log
type EventLogger struct {
	logger *logging.Logger
}

// NewEventLogger creates a new conversation event logger.
func NewEventLogger(logger *logging.Logger) *EventLogger {
	return &EventLogger{logger: logger}
}

// Log emits a structured conversation event.
func (e *EventLogger) Log(_ context.Context, event, convID, phone string, stage Stage, data map[string]any) {
	if e == nil || e.logger == nil {
		return
	}
	evt := ConversationEvent{
		Time:           time.Now().UTC().Format(time.RFC3339Nano),
		Event:          event,
		ConversationID: convID,
		Phone:          phone,
		Stage:          string(stage),
		Data:           data,
	}
	b, _ := json.Marshal(evt)
	e.logger.Info(string(b))
}

func (e *EventLogger) MessageReceived(ctx context.Context, conv Conversation, message string) {
	msg := message
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	e.Log(ctx, "message_received", conv.ID.String(), conv.CustomerPhone, conv.Stage, map[string]any{
		"message": msg,
		"status":  string(conv.Status),
	})
}

// TurnDecided logs the engine's decision, naming the event after the outcome.
func (e *EventLogger) TurnDecided(ctx context.Context, conv Conversation, d Decision) {
	data := map[string]any{"outcome": string(d.Outcome)}
	if d.Patch.Stage != nil && *d.Patch.Stage != conv.Stage {
		data["from_stage"] = string(conv.Stage)
		data["to_stage"] = string(*d.Patch.Stage)
	}

	event := "reprompt"
	switch d.Outcome {
	case OutcomeAdvanced:
		event = "stage_advanced"
	case OutcomeInterrupt, OutcomeOptedOut, OutcomeResumed, OutcomeCancelled:
		event = "interrupt"
	case OutcomeFinalized, OutcomeRescheduled:
		event = "finalized"
		if d.Finalization != nil {
			data["kind"] = string(d.Finalization.Kind)
			data["datetime"] = d.Finalization.PreferredDatetime
			data["rescheduled"] = d.Finalization.Rescheduled
		}
	case OutcomeSilent:
		event = "suppressed"
	}
	e.Log(ctx, event, conv.ID.String(), conv.CustomerPhone, conv.Stage, data)
}

func (e *EventLogger) DuplicateDelivery(ctx context.Context, phone, providerMessageID, source string) {
	e.Log(ctx, "duplicate_delivery", "", phone, "", map[string]any{
		"provider_message_id": providerMessageID,
		"detected_by":         source,
	})
}

func (e *EventLogger) SMSSent(ctx context.Context, conv Conversation, ok bool, durationMs int64) {
	e.Log(ctx, "sms_sent", conv.ID.String(), conv.CustomerPhone, conv.Stage, map[string]any{
		"ok":          ok,
		"duration_ms": durationMs,
	})
}

func (e *EventLogger) Error(ctx context.Context, convID, phone string, stage Stage, step string, err error) {
	e.Log(ctx, "error", convID, phone, stage, map[string]any{
		"step":  step,
		"error": err.Error(),
	})
}
