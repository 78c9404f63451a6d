package conversation

import (
	"context"
	"fmt"
	"strings"

	"github.com/wolfman30/dealer-sms-agent/internal/events"
	"github.com/wolfman30/dealer-sms-agent/internal/phone"
	"github.com/wolfman30/dealer-sms-agent/pkg/logging"
)

// AdminService backs the operator endpoints. Operator writes bypass the dialogue
// engine but share the per-phone lock with inbound turns.
type AdminService struct {
	store     Store
	engine    *Engine
	messenger ReplyMessenger
	locker    Locker
	from      string
	logger    *logging.Logger
}

// SendResult describes an operator or outreach message.
type SendResult struct {
	Phone          string `json:"phone"`
	ConversationID string `json:"conversation_id"`
	Body           string `json:"body"`
	Sent           bool   `json:"sent"`
}

// NewAdminService creates an AdminService. Pass the same locker the pipeline uses.
func NewAdminService(store Store, engine *Engine, messenger ReplyMessenger, locker Locker, from string, logger *logging.Logger) *AdminService {
	if store == nil {
		panic("conversation: store cannot be nil")
	}
	if engine == nil {
		panic("conversation: engine cannot be nil")
	}
	if locker == nil {
		locker = NewLocalLocker()
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminService{
		store:     store,
		engine:    engine,
		messenger: messenger,
		locker:    locker,
		from:      strings.TrimSpace(from),
		logger:    logger,
	}
}

// Transcript returns the latest conversation for rawPhone and its messages.
func (a *AdminService) Transcript(ctx context.Context, rawPhone string) (*Transcript, error) {
	key := phone.Normalize(rawPhone)
	if key == "" {
		return nil, ErrInvalidPhone
	}
	return a.store.Transcript(ctx, key)
}

// Delete removes every record held for rawPhone.
func (a *AdminService) Delete(ctx context.Context, rawPhone string) (DeleteResult, error) {
	key := phone.Normalize(rawPhone)
	if key == "" {
		return DeleteResult{}, ErrInvalidPhone
	}
	release, err := a.locker.Lock(ctx, phone.Digits(key))
	if err != nil {
		return DeleteResult{}, fmt.Errorf("conversation: delete: %w", err)
	}
	defer release()

	res, err := a.store.DeleteByPhone(ctx, key)
	if err != nil {
		return DeleteResult{}, err
	}
	a.logger.Info("conversation data deleted",
		"phone", key,
		"conversations", res.Conversations,
		"messages", res.Messages,
		"appointments", res.Appointments,
		"callbacks", res.Callbacks,
	)
	return res, nil
}

// OperatorReply stores body as an assistant message on the current conversation and
// texts it to the customer. Stopped conversations are refused.
func (a *AdminService) OperatorReply(ctx context.Context, rawPhone, body string) (*SendResult, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, ErrEmptyBody
	}
	return a.withPhone(ctx, rawPhone, func(key string) (*SendResult, error) {
		conv, err := a.store.CurrentConversation(ctx, key)
		if err != nil {
			return nil, err
		}
		if conv.Status == StatusStopped {
			return nil, ErrOptedOut
		}
		return a.deliver(ctx, *conv, body, events.AnalyticsOperatorReply)
	})
}

// Outreach starts a campaign conversation with rawPhone. An empty body sends the
// opening prompt. A finalized customer gets a fresh conversation.
func (a *AdminService) Outreach(ctx context.Context, rawPhone, body string) (*SendResult, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		body = a.engine.Persona().OpeningMessage()
	}
	return a.withPhone(ctx, rawPhone, func(key string) (*SendResult, error) {
		if _, err := a.store.EnsureCustomer(ctx, key); err != nil {
			return nil, err
		}
		conv, err := a.store.CurrentConversation(ctx, key)
		if err != nil {
			return nil, err
		}
		switch conv.Status {
		case StatusStopped:
			return nil, ErrOptedOut
		case StatusActive:
		default:
			if conv, err = a.store.OpenConversation(ctx, key); err != nil {
				return nil, err
			}
		}
		return a.deliver(ctx, *conv, body, events.AnalyticsOutreachSent)
	})
}

func (a *AdminService) withPhone(ctx context.Context, rawPhone string, fn func(key string) (*SendResult, error)) (*SendResult, error) {
	key := phone.Normalize(rawPhone)
	if key == "" {
		return nil, ErrInvalidPhone
	}
	release, err := a.locker.Lock(ctx, phone.Digits(key))
	if err != nil {
		return nil, fmt.Errorf("conversation: admin send: %w", err)
	}
	defer release()
	return fn(key)
}

func (a *AdminService) deliver(ctx context.Context, conv Conversation, body, event string) (*SendResult, error) {
	turn := Turn{
		ConversationID: conv.ID,
		Phone:          conv.CustomerPhone,
		Events: []AnalyticsEvent{{
			Type:    event,
			Phone:   conv.CustomerPhone,
			Payload: map[string]any{"conversation_id": conv.ID.String(), "stage": string(conv.Stage)},
		}},
		Reply: &Message{
			ConversationID: conv.ID,
			Phone:          conv.CustomerPhone,
			Role:           RoleAssistant,
			Content:        body,
		},
	}
	if err := a.store.CommitTurn(ctx, turn); err != nil {
		return nil, err
	}

	res := &SendResult{Phone: conv.CustomerPhone, ConversationID: conv.ID.String(), Body: body}
	if a.messenger == nil {
		a.logger.Warn("no sms sender configured; admin message stored only", "phone", conv.CustomerPhone, "conversation_id", conv.ID.String())
		return res, nil
	}
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := a.messenger.SendReply(sendCtx, OutboundReply{
		ConversationID: conv.ID.String(),
		To:             conv.CustomerPhone,
		From:           a.from,
		Body:           body,
		Metadata:       map[string]string{"source": event},
	}); err != nil {
		a.logger.Error("failed to send admin sms", "error", err,
			"phone", conv.CustomerPhone, "conversation_id", conv.ID.String(), "stage", conv.Stage)
		return res, fmt.Errorf("conversation: admin send: %w", err)
	}
	res.Sent = true
	return res, nil
}
