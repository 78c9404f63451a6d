package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/dealer-sms-agent/internal/events"
	"github.com/wolfman30/dealer-sms-agent/internal/phone"
	"github.com/wolfman30/dealer-sms-agent/pkg/logging"
)

const (
	notifyTimeout = 30 * time.Second
	sendTimeout   = 15 * time.Second
)

type processedEventStore interface {
	MarkProcessed(ctx context.Context, provider, eventID string) (bool, error)
}

// TurnResult summarises one handled inbound message.
type TurnResult struct {
	Phone          string
	ConversationID uuid.UUID
	Stage          Stage
	Status         Status
	Reply          string
	Outcome        Outcome
	Duplicate      bool
	SendFailed     bool
}

// Pipeline runs exactly one dialogue turn per inbound provider message.
type Pipeline struct {
	store     Store
	engine    *Engine
	messenger ReplyMessenger
	locker    Locker
	processed processedEventStore
	notifier  FinalizationNotifier
	observer  TurnObserver
	from      string
	logger    *logging.Logger
	events    *EventLogger
	tracer    trace.Tracer

	notifyWG sync.WaitGroup
}

// PipelineOption customizes a Pipeline.
type PipelineOption func(*Pipeline)

// WithLocker replaces the default in-process phone lock.
func WithLocker(locker Locker) PipelineOption {
	return func(p *Pipeline) {
		if locker != nil {
			p.locker = locker
		}
	}
}

// WithProcessedEventsStore dedupes inbound provider message ids.
func WithProcessedEventsStore(store processedEventStore) PipelineOption {
	return func(p *Pipeline) {
		p.processed = store
	}
}

// WithFinalizationNotifier sends lead notifications after appointments and callbacks.
func WithFinalizationNotifier(notifier FinalizationNotifier) PipelineOption {
	return func(p *Pipeline) {
		p.notifier = notifier
	}
}

// WithTurnObserver records pipeline metrics.
func WithTurnObserver(observer TurnObserver) PipelineOption {
	return func(p *Pipeline) {
		p.observer = observer
	}
}

// WithFromNumber sets the sender number used when the inbound message has no To.
func WithFromNumber(from string) PipelineOption {
	return func(p *Pipeline) {
		p.from = strings.TrimSpace(from)
	}
}

// NewPipeline wires the store, engine and SMS sender into a turn pipeline.
func NewPipeline(store Store, engine *Engine, messenger ReplyMessenger, logger *logging.Logger, opts ...PipelineOption) *Pipeline {
	if store == nil {
		panic("conversation: store cannot be nil")
	}
	if engine == nil {
		panic("conversation: engine cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	p := &Pipeline{
		store:     store,
		engine:    engine,
		messenger: messenger,
		locker:    NewLocalLocker(),
		logger:    logger,
		events:    NewEventLogger(logger),
		tracer:    otel.Tracer("dealer.internal.conversation.pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// HandleInbound runs one turn for msg. Failures are terminal for the turn: they are
// logged and returned, and the caller must not retry.
func (p *Pipeline) HandleInbound(ctx context.Context, msg InboundMessage) (*TurnResult, error) {
	ctx, span := p.tracer.Start(ctx, "conversation.pipeline.handle_inbound", trace.WithAttributes(
		attribute.String("provider_message_id", msg.ProviderMessageID),
	))
	defer span.End()

	phoneKey := phone.Normalize(msg.Phone)
	if phoneKey == "" {
		p.logger.Warn("dropping inbound message with invalid phone", "raw_phone", msg.Phone, "provider_message_id", msg.ProviderMessageID)
		return nil, ErrInvalidPhone
	}
	res := &TurnResult{Phone: phoneKey}

	release, err := p.locker.Lock(ctx, phone.Digits(phoneKey))
	if err != nil {
		return nil, p.fail(ctx, span, nil, phoneKey, "lock", err)
	}
	defer release()

	if msg.ProviderMessageID != "" && p.processed != nil {
		first, err := p.processed.MarkProcessed(ctx, events.ProviderTwilio, msg.ProviderMessageID)
		if err != nil {
			return nil, p.fail(ctx, span, nil, phoneKey, "dedupe", err)
		}
		if !first {
			p.duplicate(ctx, phoneKey, msg.ProviderMessageID, "processed_events")
			res.Duplicate = true
			return res, nil
		}
	}

	if _, err := p.store.EnsureCustomer(ctx, phoneKey); err != nil {
		return nil, p.fail(ctx, span, nil, phoneKey, "ensure_customer", err)
	}
	conv, err := p.store.CurrentConversation(ctx, phoneKey)
	if err != nil {
		return nil, p.fail(ctx, span, nil, phoneKey, "current_conversation", err)
	}
	span.SetAttributes(attribute.String("conversation_id", conv.ID.String()))

	if _, err := p.store.AppendMessage(ctx, Message{
		ConversationID:    conv.ID,
		Phone:             phoneKey,
		Role:              RoleUser,
		Content:           msg.Body,
		ProviderMessageID: msg.ProviderMessageID,
	}); err != nil {
		if errors.Is(err, ErrDuplicateDelivery) {
			p.duplicate(ctx, phoneKey, msg.ProviderMessageID, "messages")
			res.Duplicate = true
			res.ConversationID = conv.ID
			return res, nil
		}
		return nil, p.fail(ctx, span, conv, phoneKey, "append_inbound", err)
	}
	if err := p.store.Touch(ctx, conv.ID); err != nil {
		return nil, p.fail(ctx, span, conv, phoneKey, "touch", err)
	}

	fresh, err := p.store.GetConversation(ctx, conv.ID)
	if err != nil {
		return nil, p.fail(ctx, span, conv, phoneKey, "reread", err)
	}
	p.events.MessageReceived(ctx, *fresh, msg.Body)

	decision := p.engine.Decide(*fresh, msg.Body)
	p.events.TurnDecided(ctx, *fresh, decision)

	turn := Turn{
		ConversationID: fresh.ID,
		Phone:          phoneKey,
		Patch:          decision.Patch,
		CustomerName:   decision.CustomerName,
		Finalization:   decision.Finalization,
		Events:         decision.Events,
	}
	if decision.Reply != "" {
		turn.Reply = &Message{
			ConversationID: fresh.ID,
			Phone:          phoneKey,
			Role:           RoleAssistant,
			Content:        decision.Reply,
		}
	}
	if decision.Mutates() || turn.Reply != nil {
		if err := p.store.CommitTurn(ctx, turn); err != nil {
			return nil, p.fail(ctx, span, fresh, phoneKey, "commit_turn", err)
		}
	}

	after := *fresh
	decision.Patch.Apply(&after)
	res.ConversationID = after.ID
	res.Stage = after.Stage
	res.Status = after.Status
	res.Reply = decision.Reply
	res.Outcome = decision.Outcome
	if p.observer != nil {
		p.observer.ObserveTurn(string(fresh.Stage), string(decision.Outcome))
		if fin := decision.Finalization; fin != nil {
			p.observer.ObserveFinalization(string(fin.Kind), fin.Rescheduled)
		}
	}

	if decision.Reply != "" {
		from := strings.TrimSpace(msg.To)
		if from == "" {
			from = p.from
		}
		if err := p.send(ctx, after, from, decision.Reply); err != nil {
			res.SendFailed = true
		}
	}

	if decision.Finalization != nil {
		p.notifyAsync(ctx, *decision.Finalization)
	}
	return res, nil
}

// Wait blocks until in-flight lead notifications finish.
func (p *Pipeline) Wait() {
	p.notifyWG.Wait()
}

// send delivers a reply. The state transition is already committed, so a failure
// is logged and reported but never rolled back.
func (p *Pipeline) send(ctx context.Context, conv Conversation, from, body string) error {
	if p.messenger == nil {
		p.logger.Warn("no sms sender configured; reply not sent", "phone", conv.CustomerPhone, "conversation_id", conv.ID.String(), "stage", conv.Stage)
		return nil
	}
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	start := time.Now()
	err := p.messenger.SendReply(sendCtx, OutboundReply{
		ConversationID: conv.ID.String(),
		To:             conv.CustomerPhone,
		From:           from,
		Body:           body,
	})
	p.events.SMSSent(ctx, conv, err == nil, time.Since(start).Milliseconds())
	status := "sent"
	if err != nil {
		status = "failed"
		p.logger.Error("failed to send sms reply", "error", err,
			"phone", conv.CustomerPhone, "conversation_id", conv.ID.String(), "stage", conv.Stage)
	}
	if p.observer != nil {
		p.observer.ObserveOutboundSMS(status)
	}
	return err
}

func (p *Pipeline) notifyAsync(ctx context.Context, fin Finalization) {
	if p.notifier == nil {
		return
	}
	p.notifyWG.Add(1)
	go func() {
		defer p.notifyWG.Done()
		notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()
		if err := p.notifier.NotifyFinalization(notifyCtx, fin); err != nil {
			p.logger.Error("failed to send lead notification", "error", err,
				"phone", fin.Phone, "conversation_id", fin.ConversationID.String(), "kind", fin.Kind)
		}
	}()
}

func (p *Pipeline) duplicate(ctx context.Context, phoneKey, providerMessageID, source string) {
	p.events.DuplicateDelivery(ctx, phoneKey, providerMessageID, source)
	p.logger.Info("skipping duplicate inbound delivery", "phone", phoneKey, "provider_message_id", providerMessageID, "detected_by", source)
	if p.observer != nil {
		p.observer.ObserveDuplicate()
	}
}

func (p *Pipeline) fail(ctx context.Context, span trace.Span, conv *Conversation, phoneKey, step string, err error) error {
	convID := ""
	var stage Stage
	if conv != nil {
		convID = conv.ID.String()
		stage = conv.Stage
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, step)
	p.events.Error(ctx, convID, phoneKey, stage, step, err)
	p.logger.Error("dialogue turn failed", "error", err, "step", step,
		"phone", phoneKey, "conversation_id", convID, "stage", stage)
	return fmt.Errorf("conversation: %s: %w", step, err)
}
