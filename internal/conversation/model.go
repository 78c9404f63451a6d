package conversation

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Stage is the position of a conversation within the qualification funnel.
type Stage string

const (
	StageGreeting    Stage = "greeting"
	StageBudget      Stage = "budget"
	StageAppointment Stage = "appointment"
	StageName        Stage = "name"
	StageDatetime    Stage = "datetime"
	StageConfirmed   Stage = "confirmed"
)

var stageOrder = map[Stage]int{
	StageGreeting:    1,
	StageBudget:      2,
	StageAppointment: 3,
	StageName:        4,
	StageDatetime:    5,
	StageConfirmed:   6,
}

// Rank returns the 1-based position of the stage in the funnel, or 0 for unknown stages.
func (s Stage) Rank() int {
	return stageOrder[s]
}

// Status is the lifecycle state of a conversation.
type Status string

const (
	StatusActive    Status = "active"
	StatusConverted Status = "converted"
	StatusStopped   Status = "stopped"
	StatusCancelled Status = "cancelled"
)

// Intent is the follow-up the customer chose.
type Intent string

const (
	IntentNone      Intent = ""
	IntentTestDrive Intent = "test_drive"
	IntentCallback  Intent = "callback"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// FinalizationKind selects the table a finalized lead lands in.
type FinalizationKind string

const (
	FinalizationAppointment FinalizationKind = "appointment"
	FinalizationCallback    FinalizationKind = "callback"
)

var (
	// ErrConversationNotFound is returned when no conversation matches a lookup.
	ErrConversationNotFound = errors.New("conversation: not found")
	// ErrCustomerNotFound is returned when no customer exists for a phone.
	ErrCustomerNotFound = errors.New("conversation: customer not found")
	// ErrDuplicateDelivery marks an inbound provider message that was already handled.
	ErrDuplicateDelivery = errors.New("conversation: duplicate delivery")
	// ErrLockNotAcquired is returned when the per-phone lock stays contended past the wait budget.
	ErrLockNotAcquired = errors.New("conversation: phone lock not acquired")
	// ErrInvalidPhone is returned when a phone cannot be normalized.
	ErrInvalidPhone = errors.New("conversation: invalid phone number")
	// ErrActiveConversationExists is returned when a change would leave a phone with two active conversations.
	ErrActiveConversationExists = errors.New("conversation: phone already has an active conversation")
	// ErrOptedOut is returned when an outbound send targets a stopped conversation.
	ErrOptedOut = errors.New("conversation: recipient opted out")
	// ErrEmptyBody is returned when an operator message has no text.
	ErrEmptyBody = errors.New("conversation: message body required")
)

// Customer is keyed by canonical phone.
type Customer struct {
	Phone         string    `json:"phone"`
	Name          string    `json:"name,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	LastContactAt time.Time `json:"last_contact_at"`
}

// Conversation is one pass through the qualification funnel for a phone.
type Conversation struct {
	ID            uuid.UUID `json:"id"`
	CustomerPhone string    `json:"customer_phone"`
	Status        Status    `json:"status"`
	Stage         Stage     `json:"stage"`
	VehicleType   string    `json:"vehicle_type,omitempty"`
	Budget        string    `json:"budget,omitempty"`
	BudgetAmount  *int64    `json:"budget_amount,omitempty"`
	Intent        Intent    `json:"intent,omitempty"`
	CustomerName  string    `json:"customer_name,omitempty"`
	Datetime      string    `json:"datetime,omitempty"`
	LastMessage   string    `json:"last_message,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Message is one inbound or outbound SMS.
type Message struct {
	ID                uuid.UUID `json:"id"`
	ConversationID    uuid.UUID `json:"conversation_id"`
	Phone             string    `json:"phone"`
	Role              Role      `json:"role"`
	Content           string    `json:"content"`
	ProviderMessageID string    `json:"provider_message_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// Finalization is the appointment or callback row produced when a datetime is captured.
type Finalization struct {
	Kind              FinalizationKind `json:"kind"`
	ConversationID    uuid.UUID        `json:"conversation_id"`
	Phone             string           `json:"phone"`
	Name              string           `json:"name"`
	VehicleType       string           `json:"vehicle_type"`
	Budget            string           `json:"budget"`
	BudgetAmount      *int64           `json:"budget_amount,omitempty"`
	PreferredDatetime string           `json:"preferred_datetime"`
	Rescheduled       bool             `json:"rescheduled"`
	CreatedAt         time.Time        `json:"created_at"`
}

// AnalyticsEvent is an append-only fact recorded alongside a state transition.
type AnalyticsEvent struct {
	Type      string         `json:"event_type"`
	Phone     string         `json:"phone"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ConversationPatch lists the columns a turn may change. Nil fields are left untouched.
type ConversationPatch struct {
	Stage        *Stage
	Status       *Status
	VehicleType  *string
	Budget       *string
	BudgetAmount *int64
	Intent       *Intent
	CustomerName *string
	Datetime     *string
	LastMessage  *string
}

// IsEmpty reports whether the patch changes nothing.
func (p ConversationPatch) IsEmpty() bool {
	return p.Stage == nil && p.Status == nil && p.VehicleType == nil &&
		p.Budget == nil && p.BudgetAmount == nil && p.Intent == nil &&
		p.CustomerName == nil && p.Datetime == nil && p.LastMessage == nil
}

// Apply copies the set fields onto conv.
func (p ConversationPatch) Apply(conv *Conversation) {
	if conv == nil {
		return
	}
	if p.Stage != nil {
		conv.Stage = *p.Stage
	}
	if p.Status != nil {
		conv.Status = *p.Status
	}
	if p.VehicleType != nil {
		conv.VehicleType = *p.VehicleType
	}
	if p.Budget != nil {
		conv.Budget = *p.Budget
	}
	if p.BudgetAmount != nil {
		amount := *p.BudgetAmount
		conv.BudgetAmount = &amount
	}
	if p.Intent != nil {
		conv.Intent = *p.Intent
	}
	if p.CustomerName != nil {
		conv.CustomerName = *p.CustomerName
	}
	if p.Datetime != nil {
		conv.Datetime = *p.Datetime
	}
	if p.LastMessage != nil {
		conv.LastMessage = *p.LastMessage
	}
}

// Turn is everything one dialogue turn commits atomically.
type Turn struct {
	ConversationID uuid.UUID
	Phone          string
	Patch          ConversationPatch
	// CustomerName, when set, is also written to the customer record.
	CustomerName string
	Finalization *Finalization
	Events       []AnalyticsEvent
	Reply        *Message
}

// Transcript is a conversation together with its messages in chronological order.
type Transcript struct {
	Conversation Conversation `json:"conversation"`
	Messages     []Message    `json:"messages"`
}

// DeleteResult reports how many rows an administrative delete removed.
type DeleteResult struct {
	Phone           string `json:"phone"`
	Conversations   int64  `json:"conversations"`
	Messages        int64  `json:"messages"`
	Appointments    int64  `json:"appointments"`
	Callbacks       int64  `json:"callbacks"`
	AnalyticsEvents int64  `json:"analytics_events"`
	Customers       int64  `json:"customers"`
}
