package conversation

import (
	"context"

	"github.com/google/uuid"
)

// Store is the durable source of truth for customers, conversations and messages.
// Phones passed in must already be canonical (see internal/phone).
type Store interface {
	// EnsureCustomer gets or creates the customer and touches last_contact_at.
	EnsureCustomer(ctx context.Context, phone string) (*Customer, error)
	// CurrentConversation returns the most recent active conversation, else the most recent
	// converted or stopped one, else a newly created active conversation at the greeting stage.
	CurrentConversation(ctx context.Context, phone string) (*Conversation, error)
	// OpenConversation returns the active conversation, creating one if none exists.
	OpenConversation(ctx context.Context, phone string) (*Conversation, error)
	GetConversation(ctx context.Context, id uuid.UUID) (*Conversation, error)
	// AppendMessage stores a message. It returns ErrDuplicateDelivery when the provider
	// message id was already stored.
	AppendMessage(ctx context.Context, msg Message) (*Message, error)
	Touch(ctx context.Context, id uuid.UUID) error
	// CommitTurn applies a turn in a single transaction.
	CommitTurn(ctx context.Context, turn Turn) error
	// Transcript returns the latest conversation for phone with its messages.
	Transcript(ctx context.Context, phone string) (*Transcript, error)
	// DeleteByPhone removes every record for phone.
	DeleteByPhone(ctx context.Context, phone string) (DeleteResult, error)
}
