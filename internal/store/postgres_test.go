package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (pgxmock.PgxPoolIface, *Postgres) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, NewPostgres(mock)
}

func TestPostgresGetCustomerByPhone(t *testing.T) {
	mock, s := newMockStore(t)
	id := uuid.New()
	now := time.Now()

	mock.ExpectQuery(`SELECT .+ FROM customers WHERE phone`).
		WithArgs("+12125551234").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "name", "phone", "synthesized_phone", "email", "medical_flags", "created_at", "updated_at",
		}).AddRow(id, "Dana Reyes", "+12125551234", false, "dana@example.com", []byte(`{"allergy":"lidocaine"}`), now, now))

	got, err := s.GetCustomerByPhone(context.Background(), "+12125551234")
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "Dana Reyes", got.Name)
	assert.Equal(t, "lidocaine", got.MedicalFlags["allergy"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetCustomerByPhoneNotFound(t *testing.T) {
	mock, s := newMockStore(t)

	mock.ExpectQuery(`SELECT .+ FROM customers WHERE phone`).
		WithArgs("+19998887777").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "name", "phone", "synthesized_phone", "email", "medical_flags", "created_at", "updated_at",
		}))

	_, err := s.GetCustomerByPhone(context.Background(), "+19998887777")
	assert.True(t, IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateConversationMetadata(t *testing.T) {
	mock, s := newMockStore(t)
	id := uuid.New()

	mock.ExpectExec(`UPDATE conversations SET metadata`).
		WithArgs(id, []byte(`{"pending_booking_intent":true}`)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.UpdateConversationMetadata(context.Background(), id, map[string]any{"pending_booking_intent": true})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateConversationMetadataNotFound(t *testing.T) {
	mock, s := newMockStore(t)
	id := uuid.New()

	mock.ExpectExec(`UPDATE conversations SET metadata`).
		WithArgs(id, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateConversationMetadata(context.Background(), id, map[string]any{})
	assert.True(t, IsNotFound(err))
}

func TestPostgresAppendMessage(t *testing.T) {
	mock, s := newMockStore(t)
	convID := uuid.New()

	mock.ExpectQuery(`INSERT INTO messages`).
		WithArgs(pgxmock.AnyArg(), convID, DirectionInbound, "Any openings tomorrow?", pgxmock.AnyArg(), false, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"seq"}).AddRow(int64(7)))

	msg := &Message{ConversationID: convID, Direction: DirectionInbound, Content: "Any openings tomorrow?"}
	require.NoError(t, s.AppendMessage(context.Background(), msg))
	assert.Equal(t, int64(7), msg.Seq)
	assert.NotEqual(t, uuid.Nil, msg.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAppendMessageRejectsEmptyContent(t *testing.T) {
	_, s := newMockStore(t)
	err := s.AppendMessage(context.Background(), &Message{ConversationID: uuid.New(), Direction: DirectionInbound})
	assert.Error(t, err)
}

func TestPostgresCompleteConversationGuard(t *testing.T) {
	mock, s := newMockStore(t)
	id := uuid.New()

	mock.ExpectExec(`UPDATE conversations SET status`).
		WithArgs(id, StatusCompleted, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.CompleteConversation(context.Background(), id, StatusCompleted, time.Now())
	assert.True(t, IsNotFound(err))

	assert.Error(t, s.CompleteConversation(context.Background(), id, "archived", time.Now()))
}

func TestPostgresCreateAppointment(t *testing.T) {
	mock, s := newMockStore(t)

	mock.ExpectExec(`INSERT INTO appointments`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), "evt_9", pgxmock.AnyArg(), "botox",
			pgxmock.AnyArg(), 30, ApptScheduled, "ai", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	appt := &Appointment{
		CalendarEventID:     "evt_9",
		AppointmentDatetime: time.Now().Add(24 * time.Hour),
		ServiceType:         "botox",
		DurationMinutes:     30,
	}
	require.NoError(t, s.CreateAppointment(context.Background(), appt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListMessagesOrdering(t *testing.T) {
	mock, s := newMockStore(t)
	convID := uuid.New()
	at := time.Now()

	mock.ExpectQuery(`SELECT .+ FROM messages WHERE conversation_id`).
		WithArgs(convID).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "conversation_id", "direction", "content", "sent_at", "processed", "metadata", "seq",
		}).
			AddRow(uuid.New(), convID, DirectionInbound, "hi", at, true, []byte(`{}`), int64(1)).
			AddRow(uuid.New(), convID, DirectionOutbound, "hello", at, true, []byte(`{}`), int64(2)))

	msgs, err := s.ListMessages(context.Background(), convID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.NoError(t, mock.ExpectationsWereMet())
}
