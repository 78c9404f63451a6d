package conversation

import "context"

// ReplyMessenger delivers replies back to the customer (e.g. via SMS).
type ReplyMessenger interface {
	SendReply(ctx context.Context, reply OutboundReply) error
}

// OutboundReply carries the data required to push a message to the customer.
type OutboundReply struct {
	ConversationID string
	To             string
	From           string
	Body           string
	Metadata       map[string]string
}

// FinalizationNotifier is told about booked, requested and rescheduled leads.
type FinalizationNotifier interface {
	NotifyFinalization(ctx context.Context, fin Finalization) error
}

// TurnObserver receives pipeline measurements. *metrics.DealerMetrics satisfies it.
type TurnObserver interface {
	ObserveTurn(stage, outcome string)
	ObserveFinalization(kind string, rescheduled bool)
	ObserveOutboundSMS(status string)
	ObserveDuplicate()
}
