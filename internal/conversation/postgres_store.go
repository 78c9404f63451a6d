package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PgxPool is the subset of pgxpool.Pool the store needs.
type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const uniqueViolation = "23505"

const conversationColumns = `id, customer_phone, status, stage,
	COALESCE(vehicle_type, ''), COALESCE(budget, ''), budget_amount, COALESCE(intent, ''),
	COALESCE(customer_name, ''), COALESCE(datetime, ''), COALESCE(last_message, ''),
	started_at, updated_at`

var finalizationInserts = map[FinalizationKind]string{
	FinalizationAppointment: `
		INSERT INTO appointments (id, conversation_id, phone, name, vehicle_type, budget, budget_amount, preferred_datetime)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (conversation_id)
		DO UPDATE SET preferred_datetime = EXCLUDED.preferred_datetime, updated_at = now()
	`,
	FinalizationCallback: `
		INSERT INTO callbacks (id, conversation_id, phone, name, vehicle_type, budget, budget_amount, preferred_datetime)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (conversation_id)
		DO UPDATE SET preferred_datetime = EXCLUDED.preferred_datetime, updated_at = now()
	`,
}

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	pool PgxPool
}

func NewPostgresStore(pool PgxPool) *PostgresStore {
	if pool == nil {
		panic("conversation: pgx pool required")
	}
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) EnsureCustomer(ctx context.Context, phone string) (*Customer, error) {
	query := `
		INSERT INTO customers (phone)
		VALUES ($1)
		ON CONFLICT (phone) DO UPDATE SET last_contact_at = now()
		RETURNING phone, COALESCE(name, ''), created_at, last_contact_at
	`
	var c Customer
	if err := s.pool.QueryRow(ctx, query, phone).Scan(&c.Phone, &c.Name, &c.CreatedAt, &c.LastContactAt); err != nil {
		return nil, fmt.Errorf("conversation: ensure customer: %w", err)
	}
	return &c, nil
}

func (s *PostgresStore) CurrentConversation(ctx context.Context, phone string) (*Conversation, error) {
	// The active conversation wins; otherwise the most recent one, unless it was cancelled.
	query := `SELECT ` + conversationColumns + `
		FROM conversations
		WHERE customer_phone = $1
		ORDER BY (status = 'active') DESC, started_at DESC
		LIMIT 1`
	conv, err := scanConversation(s.pool.QueryRow(ctx, query, phone))
	if err == nil && conv.Status != StatusCancelled {
		return conv, nil
	}
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("conversation: current conversation: %w", err)
	}
	return s.createConversation(ctx, phone)
}

func (s *PostgresStore) OpenConversation(ctx context.Context, phone string) (*Conversation, error) {
	conv, err := s.activeConversation(ctx, phone)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("conversation: open conversation: %w", err)
	}
	return s.createConversation(ctx, phone)
}

func (s *PostgresStore) activeConversation(ctx context.Context, phone string) (*Conversation, error) {
	query := `SELECT ` + conversationColumns + `
		FROM conversations
		WHERE customer_phone = $1 AND status = 'active'
		ORDER BY started_at DESC
		LIMIT 1`
	return scanConversation(s.pool.QueryRow(ctx, query, phone))
}

// createConversation inserts an active conversation. If another writer won the race on
// the one-active-per-phone index, the winner is returned instead.
func (s *PostgresStore) createConversation(ctx context.Context, phone string) (*Conversation, error) {
	query := `
		INSERT INTO conversations (id, customer_phone, status, stage)
		VALUES ($1, $2, 'active', 'greeting')
		ON CONFLICT (customer_phone) WHERE status = 'active' DO NOTHING
		RETURNING ` + conversationColumns
	conv, err := scanConversation(s.pool.QueryRow(ctx, query, uuid.New(), phone))
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("conversation: create conversation: %w", err)
	}
	conv, err = s.activeConversation(ctx, phone)
	if err != nil {
		return nil, fmt.Errorf("conversation: reselect active conversation: %w", err)
	}
	return conv, nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = $1`
	conv, err := scanConversation(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("conversation: get conversation: %w", err)
	}
	return conv, nil
}

func (s *PostgresStore) AppendMessage(ctx context.Context, msg Message) (*Message, error) {
	return insertMessage(ctx, s.pool, msg)
}

func (s *PostgresStore) Touch(ctx context.Context, id uuid.UUID) error {
	ct, err := s.pool.Exec(ctx, `UPDATE conversations SET updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("conversation: touch: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrConversationNotFound
	}
	return nil
}

func (s *PostgresStore) CommitTurn(ctx context.Context, turn Turn) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("conversation: begin turn: %w", err)
	}
	defer tx.Rollback(ctx)

	p := turn.Patch
	ct, err := tx.Exec(ctx, `
		UPDATE conversations SET
			stage = COALESCE($2, stage),
			status = COALESCE($3, status),
			vehicle_type = COALESCE($4, vehicle_type),
			budget = COALESCE($5, budget),
			budget_amount = COALESCE($6, budget_amount),
			intent = COALESCE($7, intent),
			customer_name = COALESCE($8, customer_name),
			datetime = COALESCE($9, datetime),
			last_message = COALESCE($10, last_message),
			updated_at = now()
		WHERE id = $1
	`, turn.ConversationID, optString(p.Stage), optString(p.Status), p.VehicleType, p.Budget,
		p.BudgetAmount, optString(p.Intent), p.CustomerName, p.Datetime, p.LastMessage)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrActiveConversationExists
		}
		return fmt.Errorf("conversation: apply patch: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrConversationNotFound
	}

	if turn.CustomerName != "" {
		if _, err := tx.Exec(ctx, `UPDATE customers SET name = $2 WHERE phone = $1`, turn.Phone, turn.CustomerName); err != nil {
			return fmt.Errorf("conversation: update customer name: %w", err)
		}
	}

	if fin := turn.Finalization; fin != nil {
		query, ok := finalizationInserts[fin.Kind]
		if !ok {
			return fmt.Errorf("conversation: unknown finalization kind %q", fin.Kind)
		}
		if _, err := tx.Exec(ctx, query, uuid.New(), turn.ConversationID, turn.Phone, fin.Name,
			fin.VehicleType, fin.Budget, fin.BudgetAmount, fin.PreferredDatetime); err != nil {
			return fmt.Errorf("conversation: save %s: %w", fin.Kind, err)
		}
	}

	for _, evt := range turn.Events {
		payload, err := json.Marshal(evt.Payload)
		if err != nil {
			return fmt.Errorf("conversation: encode analytics payload: %w", err)
		}
		createdAt := evt.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO analytics_events (event_type, phone, payload, created_at)
			VALUES ($1, $2, $3, $4)
		`, evt.Type, evt.Phone, payload, createdAt); err != nil {
			return fmt.Errorf("conversation: insert analytics event: %w", err)
		}
	}

	if turn.Reply != nil {
		if _, err := insertMessage(ctx, tx, *turn.Reply); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("conversation: commit turn: %w", err)
	}
	return nil
}

func (s *PostgresStore) Transcript(ctx context.Context, phone string) (*Transcript, error) {
	query := `SELECT ` + conversationColumns + `
		FROM conversations
		WHERE customer_phone = $1
		ORDER BY started_at DESC
		LIMIT 1`
	conv, err := scanConversation(s.pool.QueryRow(ctx, query, phone))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("conversation: transcript conversation: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, conversation_id, phone, role, content, COALESCE(provider_message_id, ''), created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC, id ASC
	`, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("conversation: transcript messages: %w", err)
	}
	defer rows.Close()

	out := &Transcript{Conversation: *conv}
	for rows.Next() {
		var (
			m    Message
			role string
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Phone, &role, &m.Content, &m.ProviderMessageID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("conversation: scan message: %w", err)
		}
		m.Role = Role(role)
		out.Messages = append(out.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conversation: transcript rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) DeleteByPhone(ctx context.Context, phone string) (DeleteResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return DeleteResult{}, fmt.Errorf("conversation: begin delete: %w", err)
	}
	defer tx.Rollback(ctx)

	res := DeleteResult{Phone: phone}
	steps := []struct {
		query string
		count *int64
	}{
		{`DELETE FROM messages WHERE phone = $1`, &res.Messages},
		{`DELETE FROM appointments WHERE phone = $1`, &res.Appointments},
		{`DELETE FROM callbacks WHERE phone = $1`, &res.Callbacks},
		{`DELETE FROM analytics_events WHERE phone = $1`, &res.AnalyticsEvents},
		{`DELETE FROM conversations WHERE customer_phone = $1`, &res.Conversations},
		{`DELETE FROM customers WHERE phone = $1`, &res.Customers},
	}
	for _, st := range steps {
		n, err := execRowsAffected(ctx, tx, st.query, phone)
		if err != nil {
			return DeleteResult{}, fmt.Errorf("conversation: delete by phone: %w", err)
		}
		*st.count = n
	}

	if err := tx.Commit(ctx); err != nil {
		return DeleteResult{}, fmt.Errorf("conversation: commit delete: %w", err)
	}
	return res, nil
}

func insertMessage(ctx context.Context, q querier, msg Message) (*Message, error) {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	query := `
		INSERT INTO messages (id, conversation_id, phone, role, content, provider_message_id)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
		RETURNING created_at
	`
	err := q.QueryRow(ctx, query, msg.ID, msg.ConversationID, msg.Phone, string(msg.Role), msg.Content, msg.ProviderMessageID).
		Scan(&msg.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateDelivery
		}
		return nil, fmt.Errorf("conversation: insert message: %w", err)
	}
	return &msg, nil
}

func execRowsAffected(ctx context.Context, q querier, query string, args ...any) (int64, error) {
	ct, err := q.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

func scanConversation(row pgx.Row) (*Conversation, error) {
	var (
		c                     Conversation
		status, stage, intent string
	)
	if err := row.Scan(&c.ID, &c.CustomerPhone, &status, &stage, &c.VehicleType, &c.Budget, &c.BudgetAmount,
		&intent, &c.CustomerName, &c.Datetime, &c.LastMessage, &c.StartedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Status = Status(status)
	c.Stage = Stage(stage)
	c.Intent = Intent(intent)
	return &c, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func optString[T ~string](v *T) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}
