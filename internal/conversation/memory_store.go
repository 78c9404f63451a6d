package conversation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore implements Store in process memory. State is not shared across
// processes, so it is only suitable for tests and single-instance development.
type MemoryStore struct {
	mu            sync.Mutex
	customers     map[string]*Customer
	conversations map[uuid.UUID]*Conversation
	messages      []Message
	providerIDs   map[string]struct{}
	appointments  map[uuid.UUID]Finalization
	callbacks     map[uuid.UUID]Finalization
	analytics     []AnalyticsEvent
	now           func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		customers:     make(map[string]*Customer),
		conversations: make(map[uuid.UUID]*Conversation),
		providerIDs:   make(map[string]struct{}),
		appointments:  make(map[uuid.UUID]Finalization),
		callbacks:     make(map[uuid.UUID]Finalization),
		now:           time.Now,
	}
}

func (s *MemoryStore) EnsureCustomer(_ context.Context, phone string) (*Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	c, ok := s.customers[phone]
	if !ok {
		c = &Customer{Phone: phone, CreatedAt: now}
		s.customers[phone] = c
	}
	c.LastContactAt = now
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) CurrentConversation(_ context.Context, phone string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv := s.latestLocked(phone, StatusActive); conv != nil {
		return copyConversation(conv), nil
	}
	if conv := s.latestLocked(phone); conv != nil && conv.Status != StatusCancelled {
		return copyConversation(conv), nil
	}
	return copyConversation(s.createLocked(phone)), nil
}

func (s *MemoryStore) OpenConversation(_ context.Context, phone string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv := s.latestLocked(phone, StatusActive); conv != nil {
		return copyConversation(conv), nil
	}
	return copyConversation(s.createLocked(phone)), nil
}

func (s *MemoryStore) GetConversation(_ context.Context, id uuid.UUID) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return nil, ErrConversationNotFound
	}
	return copyConversation(conv), nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, msg Message) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[msg.ConversationID]; !ok {
		return nil, ErrConversationNotFound
	}
	return s.appendLocked(msg)
}

func (s *MemoryStore) Touch(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return ErrConversationNotFound
	}
	conv.UpdatedAt = s.now().UTC()
	return nil
}

func (s *MemoryStore) CommitTurn(_ context.Context, turn Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[turn.ConversationID]
	if !ok {
		return ErrConversationNotFound
	}
	if turn.Patch.Status != nil && *turn.Patch.Status == StatusActive && conv.Status != StatusActive {
		if other := s.latestLocked(conv.CustomerPhone, StatusActive); other != nil && other.ID != conv.ID {
			return ErrActiveConversationExists
		}
	}

	now := s.now().UTC()
	turn.Patch.Apply(conv)
	conv.UpdatedAt = now

	if turn.CustomerName != "" {
		if c, ok := s.customers[conv.CustomerPhone]; ok {
			c.Name = turn.CustomerName
		}
	}
	if fin := turn.Finalization; fin != nil {
		table := s.appointments
		if fin.Kind == FinalizationCallback {
			table = s.callbacks
		}
		row := *fin
		if existing, ok := table[conv.ID]; ok {
			existing.PreferredDatetime = fin.PreferredDatetime
			row = existing
		} else if row.CreatedAt.IsZero() {
			row.CreatedAt = now
		}
		table[conv.ID] = row
	}
	for _, evt := range turn.Events {
		if evt.CreatedAt.IsZero() {
			evt.CreatedAt = now
		}
		s.analytics = append(s.analytics, evt)
	}
	if turn.Reply != nil {
		if _, err := s.appendLocked(*turn.Reply); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) Transcript(_ context.Context, phone string) (*Transcript, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv := s.latestLocked(phone)
	if conv == nil {
		return nil, ErrConversationNotFound
	}
	out := &Transcript{Conversation: *copyConversation(conv)}
	for _, m := range s.messages {
		if m.ConversationID == conv.ID {
			out.Messages = append(out.Messages, m)
		}
	}
	return out, nil
}

func (s *MemoryStore) DeleteByPhone(_ context.Context, phone string) (DeleteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := DeleteResult{Phone: phone}

	kept := s.messages[:0]
	for _, m := range s.messages {
		if m.Phone == phone {
			res.Messages++
			if m.ProviderMessageID != "" {
				delete(s.providerIDs, m.ProviderMessageID)
			}
			continue
		}
		kept = append(kept, m)
	}
	s.messages = kept

	for id, conv := range s.conversations {
		if conv.CustomerPhone == phone {
			delete(s.conversations, id)
			res.Conversations++
		}
	}
	for id, f := range s.appointments {
		if f.Phone == phone {
			delete(s.appointments, id)
			res.Appointments++
		}
	}
	for id, f := range s.callbacks {
		if f.Phone == phone {
			delete(s.callbacks, id)
			res.Callbacks++
		}
	}
	keptEvents := s.analytics[:0]
	for _, evt := range s.analytics {
		if evt.Phone == phone {
			res.AnalyticsEvents++
			continue
		}
		keptEvents = append(keptEvents, evt)
	}
	s.analytics = keptEvents
	if _, ok := s.customers[phone]; ok {
		delete(s.customers, phone)
		res.Customers = 1
	}
	return res, nil
}

// Finalizations returns the appointment and callback rows stored for phone.
func (s *MemoryStore) Finalizations(phone string) (appointments, callbacks []Finalization) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.appointments {
		if f.Phone == phone {
			appointments = append(appointments, f)
		}
	}
	for _, f := range s.callbacks {
		if f.Phone == phone {
			callbacks = append(callbacks, f)
		}
	}
	return appointments, callbacks
}

// AnalyticsEvents returns the recorded analytics events for phone in insertion order.
func (s *MemoryStore) AnalyticsEvents(phone string) []AnalyticsEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []AnalyticsEvent
	for _, evt := range s.analytics {
		if evt.Phone == phone {
			out = append(out, evt)
		}
	}
	return out
}

// Conversations returns every conversation for phone, newest first.
func (s *MemoryStore) Conversations(phone string) []Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Conversation
	for _, conv := range s.conversations {
		if conv.CustomerPhone == phone {
			out = append(out, *conv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

func (s *MemoryStore) Customer(phone string) (*Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.customers[phone]
	if !ok {
		return nil, ErrCustomerNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) appendLocked(msg Message) (*Message, error) {
	if msg.ProviderMessageID != "" {
		if _, dup := s.providerIDs[msg.ProviderMessageID]; dup {
			return nil, ErrDuplicateDelivery
		}
		s.providerIDs[msg.ProviderMessageID] = struct{}{}
	}
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now().UTC()
	}
	s.messages = append(s.messages, msg)
	return &msg, nil
}

// latestLocked returns the most recently started conversation for phone whose status is
// one of statuses (any status when none are given).
func (s *MemoryStore) latestLocked(phone string, statuses ...Status) *Conversation {
	var latest *Conversation
	for _, conv := range s.conversations {
		if conv.CustomerPhone != phone {
			continue
		}
		if len(statuses) > 0 && !hasStatus(conv.Status, statuses) {
			continue
		}
		if latest == nil || conv.StartedAt.After(latest.StartedAt) {
			latest = conv
		}
	}
	return latest
}

func (s *MemoryStore) createLocked(phone string) *Conversation {
	now := s.now().UTC()
	// Keep started_at strictly increasing per phone so "most recent" is unambiguous.
	if prev := s.latestLocked(phone); prev != nil && !now.After(prev.StartedAt) {
		now = prev.StartedAt.Add(time.Microsecond)
	}
	conv := &Conversation{
		ID:            uuid.New(),
		CustomerPhone: phone,
		Status:        StatusActive,
		Stage:         StageGreeting,
		StartedAt:     now,
		UpdatedAt:     now,
	}
	s.conversations[conv.ID] = conv
	return conv
}

func hasStatus(status Status, statuses []Status) bool {
	for _, st := range statuses {
		if status == st {
			return true
		}
	}
	return false
}

func copyConversation(conv *Conversation) *Conversation {
	cp := *conv
	if conv.BudgetAmount != nil {
		amount := *conv.BudgetAmount
		cp.BudgetAmount = &amount
	}
	return &cp
}
