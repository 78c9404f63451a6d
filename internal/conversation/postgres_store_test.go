package conversation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	pgx "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var conversationCols = []string{
	"id", "customer_phone", "status", "stage", "vehicle_type", "budget", "budget_amount",
	"intent", "customer_name", "datetime", "last_message", "started_at", "updated_at",
}

func conversationRow(c Conversation) []any {
	return []any{
		c.ID, c.CustomerPhone, string(c.Status), string(c.Stage), c.VehicleType, c.Budget, c.BudgetAmount,
		string(c.Intent), c.CustomerName, c.Datetime, c.LastMessage, c.StartedAt, c.UpdatedAt,
	}
}

// patchArgs matches the conversation id followed by the nine patch columns.
func patchArgs(convID uuid.UUID) []any {
	args := []any{convID}
	for i := 0; i < 9; i++ {
		args = append(args, pgxmock.AnyArg())
	}
	return args
}

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresStore(mock), mock
}

func TestPostgresEnsureCustomer(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()
	mock.ExpectQuery("INSERT INTO customers").
		WithArgs("+14035550100").
		WillReturnRows(pgxmock.NewRows([]string{"phone", "name", "created_at", "last_contact_at"}).
			AddRow("+14035550100", "", now, now))

	c, err := store.EnsureCustomer(context.Background(), "+14035550100")
	require.NoError(t, err)
	assert.Equal(t, "+14035550100", c.Phone)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCurrentConversationReturnsExisting(t *testing.T) {
	store, mock := newMockStore(t)
	existing := Conversation{
		ID: uuid.New(), CustomerPhone: "+14035550100", Status: StatusConverted, Stage: StageConfirmed,
		VehicleType: "SUV", Datetime: "Tomorrow morning", StartedAt: time.Now(), UpdatedAt: time.Now(),
	}
	mock.ExpectQuery(`ORDER BY \(status = 'active'\) DESC, started_at DESC`).
		WithArgs("+14035550100").
		WillReturnRows(pgxmock.NewRows(conversationCols).AddRow(conversationRow(existing)...))

	conv, err := store.CurrentConversation(context.Background(), "+14035550100")
	require.NoError(t, err)
	assert.Equal(t, existing.ID, conv.ID)
	assert.Equal(t, StatusConverted, conv.Status)
	assert.Equal(t, StageConfirmed, conv.Stage)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCurrentConversationCreates(t *testing.T) {
	store, mock := newMockStore(t)
	created := Conversation{ID: uuid.New(), CustomerPhone: "+14035550100", Status: StatusActive, Stage: StageGreeting, StartedAt: time.Now(), UpdatedAt: time.Now()}

	mock.ExpectQuery(`ORDER BY \(status = 'active'\)`).WithArgs("+14035550100").WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("INSERT INTO conversations").
		WithArgs(pgxmock.AnyArg(), "+14035550100").
		WillReturnRows(pgxmock.NewRows(conversationCols).AddRow(conversationRow(created)...))

	conv, err := store.CurrentConversation(context.Background(), "+14035550100")
	require.NoError(t, err)
	assert.Equal(t, StageGreeting, conv.Stage)
	assert.Equal(t, StatusActive, conv.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCreateConversationLosesRace(t *testing.T) {
	store, mock := newMockStore(t)
	winner := Conversation{ID: uuid.New(), CustomerPhone: "+14035550100", Status: StatusActive, Stage: StageBudget, StartedAt: time.Now(), UpdatedAt: time.Now()}

	mock.ExpectQuery(`ORDER BY \(status = 'active'\)`).WithArgs("+14035550100").WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("INSERT INTO conversations").WithArgs(pgxmock.AnyArg(), "+14035550100").WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`status = 'active'\s+ORDER BY`).
		WithArgs("+14035550100").
		WillReturnRows(pgxmock.NewRows(conversationCols).AddRow(conversationRow(winner)...))

	conv, err := store.CurrentConversation(context.Background(), "+14035550100")
	require.NoError(t, err)
	assert.Equal(t, winner.ID, conv.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetConversationNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()
	mock.ExpectQuery("FROM conversations WHERE id").WithArgs(id).WillReturnError(pgx.ErrNoRows)

	_, err := store.GetConversation(context.Background(), id)
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestPostgresAppendMessageDuplicate(t *testing.T) {
	store, mock := newMockStore(t)
	convID := uuid.New()
	mock.ExpectQuery("INSERT INTO messages").
		WithArgs(pgxmock.AnyArg(), convID, "+14035550100", "user", "40k", "SM123").
		WillReturnError(&pgconn.PgError{Code: "23505"})

	_, err := store.AppendMessage(context.Background(), Message{
		ConversationID: convID, Phone: "+14035550100", Role: RoleUser, Content: "40k", ProviderMessageID: "SM123",
	})
	assert.ErrorIs(t, err, ErrDuplicateDelivery)
}

func TestPostgresTouchMissing(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()
	mock.ExpectExec("UPDATE conversations SET updated_at").WithArgs(id).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	assert.ErrorIs(t, store.Touch(context.Background(), id), ErrConversationNotFound)
}

func TestPostgresCommitTurnFinalization(t *testing.T) {
	store, mock := newMockStore(t)
	convID := uuid.New()
	amount := int64(40000)
	turn := Turn{
		ConversationID: convID,
		Phone:          "+14035550100",
		Patch: ConversationPatch{
			Stage:    ptr(StageConfirmed),
			Status:   ptr(StatusConverted),
			Datetime: ptr("Tomorrow morning"),
		},
		Finalization: &Finalization{
			Kind: FinalizationAppointment, ConversationID: convID, Phone: "+14035550100", Name: "Jane doe",
			VehicleType: "SUV", Budget: Budget30kTo50k, BudgetAmount: &amount, PreferredDatetime: "Tomorrow morning",
		},
		Events: []AnalyticsEvent{{Type: "appointment_booked", Phone: "+14035550100", Payload: map[string]any{"kind": "appointment"}}},
		Reply:  &Message{ConversationID: convID, Phone: "+14035550100", Role: RoleAssistant, Content: "You're booked!"},
	}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE conversations SET").
		WithArgs(convID, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO appointments").
		WithArgs(pgxmock.AnyArg(), convID, "+14035550100", "Jane doe", "SUV", Budget30kTo50k, &amount, "Tomorrow morning").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO analytics_events").
		WithArgs("appointment_booked", "+14035550100", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("INSERT INTO messages").
		WithArgs(pgxmock.AnyArg(), convID, "+14035550100", "assistant", "You're booked!", "").
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mock.ExpectCommit()

	require.NoError(t, store.CommitTurn(context.Background(), turn))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCommitTurnRollsBackOnFailure(t *testing.T) {
	store, mock := newMockStore(t)
	convID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE conversations SET").WithArgs(patchArgs(convID)...).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE customers SET name").
		WithArgs("+14035550100", "Jane doe").
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := store.CommitTurn(context.Background(), Turn{
		ConversationID: convID,
		Phone:          "+14035550100",
		Patch:          ConversationPatch{CustomerName: ptr("Jane doe"), Stage: ptr(StageDatetime)},
		CustomerName:   "Jane doe",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "update customer name")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCommitTurnActiveConflict(t *testing.T) {
	store, mock := newMockStore(t)
	convID := uuid.New()
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE conversations SET").
		WithArgs(patchArgs(convID)...).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()

	err := store.CommitTurn(context.Background(), Turn{ConversationID: convID, Patch: ConversationPatch{Status: ptr(StatusActive)}})
	assert.ErrorIs(t, err, ErrActiveConversationExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCurrentConversationSkipsCancelled(t *testing.T) {
	store, mock := newMockStore(t)
	cancelled := Conversation{
		ID: uuid.New(), CustomerPhone: "+14035550100", Status: StatusCancelled, Stage: StageConfirmed,
		StartedAt: time.Now(), UpdatedAt: time.Now(),
	}
	fresh := Conversation{
		ID: uuid.New(), CustomerPhone: "+14035550100", Status: StatusActive, Stage: StageGreeting,
		StartedAt: time.Now(), UpdatedAt: time.Now(),
	}
	mock.ExpectQuery(`ORDER BY \(status = 'active'\)`).
		WithArgs("+14035550100").
		WillReturnRows(pgxmock.NewRows(conversationCols).AddRow(conversationRow(cancelled)...))
	mock.ExpectQuery("INSERT INTO conversations").
		WithArgs(pgxmock.AnyArg(), "+14035550100").
		WillReturnRows(pgxmock.NewRows(conversationCols).AddRow(conversationRow(fresh)...))

	conv, err := store.CurrentConversation(context.Background(), "+14035550100")
	require.NoError(t, err)
	assert.Equal(t, fresh.ID, conv.ID)
	assert.Equal(t, StatusActive, conv.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTranscript(t *testing.T) {
	store, mock := newMockStore(t)
	conv := Conversation{ID: uuid.New(), CustomerPhone: "+14035550100", Status: StatusActive, Stage: StageBudget, StartedAt: time.Now(), UpdatedAt: time.Now()}

	mock.ExpectQuery("FROM conversations").
		WithArgs("+14035550100").
		WillReturnRows(pgxmock.NewRows(conversationCols).AddRow(conversationRow(conv)...))
	mock.ExpectQuery("FROM messages").
		WithArgs(conv.ID).
		WillReturnRows(pgxmock.NewRows([]string{"id", "conversation_id", "phone", "role", "content", "provider_message_id", "created_at"}).
			AddRow(uuid.New(), conv.ID, "+14035550100", "user", "SUV", "SM1", time.Now()).
			AddRow(uuid.New(), conv.ID, "+14035550100", "assistant", "Great choice", "", time.Now()))

	tr, err := store.Transcript(context.Background(), "+14035550100")
	require.NoError(t, err)
	require.Len(t, tr.Messages, 2)
	assert.Equal(t, RoleUser, tr.Messages[0].Role)
	assert.Equal(t, RoleAssistant, tr.Messages[1].Role)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDeleteByPhone(t *testing.T) {
	store, mock := newMockStore(t)
	phone := "+14035550100"

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM messages").WithArgs(phone).WillReturnResult(pgxmock.NewResult("DELETE", 7))
	mock.ExpectExec("DELETE FROM appointments").WithArgs(phone).WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec("DELETE FROM callbacks").WithArgs(phone).WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec("DELETE FROM analytics_events").WithArgs(phone).WillReturnResult(pgxmock.NewResult("DELETE", 5))
	mock.ExpectExec("DELETE FROM conversations").WithArgs(phone).WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectExec("DELETE FROM customers").WithArgs(phone).WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	res, err := store.DeleteByPhone(context.Background(), phone)
	require.NoError(t, err)
	assert.Equal(t, DeleteResult{Phone: phone, Conversations: 2, Messages: 7, Appointments: 1, AnalyticsEvents: 5, Customers: 1}, res)
	require.NoError(t, mock.ExpectationsWereMet())
}
