package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCustomerLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	cust := &Customer{Name: "Dana Reyes", Phone: "+12125551234"}
	require.NoError(t, s.CreateCustomer(ctx, cust))
	require.NotEqual(t, uuid.Nil, cust.ID)

	got, err := s.GetCustomerByPhone(ctx, "+12125551234")
	require.NoError(t, err)
	assert.Equal(t, cust.ID, got.ID)

	// Phone is unique.
	err = s.CreateCustomer(ctx, &Customer{Name: "Other", Phone: "+12125551234"})
	assert.Error(t, err)

	require.NoError(t, s.UpdateCustomerContact(ctx, cust.ID, "", "dana@example.com"))
	got, err = s.GetCustomerByID(ctx, cust.ID)
	require.NoError(t, err)
	assert.Equal(t, "Dana Reyes", got.Name, "empty name must not overwrite")
	assert.Equal(t, "dana@example.com", got.Email)

	_, err = s.GetCustomerByPhone(ctx, "+19998887777")
	assert.True(t, IsNotFound(err))
}

func TestMemoryConversationMetadataIsolation(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	conv := &Conversation{Channel: ChannelSMS, Metadata: map[string]any{"pending_booking_intent": true}}
	require.NoError(t, s.CreateConversation(ctx, conv))

	got, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)

	// Mutating the returned map must not change stored state.
	got.Metadata["pending_booking_intent"] = false
	again, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, true, again.Metadata["pending_booking_intent"])

	require.NoError(t, s.UpdateConversationMetadata(ctx, conv.ID, map[string]any{"x": 1}))
	again, _ = s.GetConversation(ctx, conv.ID)
	// JSON round-trip makes numbers float64, same as a JSONB column.
	assert.Equal(t, float64(1), again.Metadata["x"])
	assert.NotContains(t, again.Metadata, "pending_booking_intent")
}

func TestMemoryConversationStatusMonotonic(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	conv := &Conversation{Channel: ChannelVoice}
	require.NoError(t, s.CreateConversation(ctx, conv))
	assert.Equal(t, StatusActive, conv.Status)

	require.NoError(t, s.CompleteConversation(ctx, conv.ID, StatusCompleted, time.Now()))

	// A second completion attempt finds no active conversation.
	err := s.CompleteConversation(ctx, conv.ID, StatusFailed, time.Now())
	assert.True(t, IsNotFound(err))

	got, _ := s.GetConversation(ctx, conv.ID)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)

	assert.Error(t, s.CompleteConversation(ctx, conv.ID, "paused", time.Now()))
}

func TestMemoryMessageOrdering(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	conv := &Conversation{Channel: ChannelSMS}
	require.NoError(t, s.CreateConversation(ctx, conv))

	at := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	first := &Message{ConversationID: conv.ID, Direction: DirectionInbound, Content: "hi", SentAt: at}
	second := &Message{ConversationID: conv.ID, Direction: DirectionOutbound, Content: "hello", SentAt: at}
	later := &Message{ConversationID: conv.ID, Direction: DirectionInbound, Content: "book me", SentAt: at.Add(time.Minute)}
	require.NoError(t, s.AppendMessage(ctx, first))
	require.NoError(t, s.AppendMessage(ctx, second))
	require.NoError(t, s.AppendMessage(ctx, later))

	msgs, err := s.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	// Equal timestamps keep insertion order.
	assert.Equal(t, "hi", msgs[0].Content)
	assert.Equal(t, "hello", msgs[1].Content)
	assert.Equal(t, "book me", msgs[2].Content)

	assert.Error(t, s.AppendMessage(ctx, &Message{ConversationID: conv.ID, Direction: DirectionInbound}))
	assert.Error(t, s.AppendMessage(ctx, &Message{ConversationID: uuid.New(), Direction: DirectionInbound, Content: "x"}))
}

func TestMemoryFindActiveConversation(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	custID := uuid.New()
	old := &Conversation{CustomerID: &custID, Channel: ChannelSMS, LastActivityAt: time.Now().Add(-time.Hour)}
	fresh := &Conversation{CustomerID: &custID, Channel: ChannelSMS, LastActivityAt: time.Now()}
	done := &Conversation{CustomerID: &custID, Channel: ChannelSMS, Status: StatusCompleted}
	require.NoError(t, s.CreateConversation(ctx, old))
	require.NoError(t, s.CreateConversation(ctx, fresh))
	require.NoError(t, s.CreateConversation(ctx, done))

	got, err := s.FindActiveConversation(ctx, custID, ChannelSMS)
	require.NoError(t, err)
	assert.Equal(t, fresh.ID, got.ID)

	_, err = s.FindActiveConversation(ctx, custID, ChannelEmail)
	assert.True(t, IsNotFound(err))
}

func TestMemoryIdleConversations(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	stale := &Conversation{Channel: ChannelSMS, LastActivityAt: time.Now().Add(-24 * time.Hour)}
	active := &Conversation{Channel: ChannelSMS, LastActivityAt: time.Now()}
	require.NoError(t, s.CreateConversation(ctx, stale))
	require.NoError(t, s.CreateConversation(ctx, active))

	idle, err := s.ListIdleActiveConversations(ctx, time.Now().Add(-12*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, idle, 1)
	assert.Equal(t, stale.ID, idle[0].ID)
}

func TestMemoryAppointments(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	when := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	appt := &Appointment{
		CalendarEventID:     "evt_123",
		AppointmentDatetime: when,
		ServiceType:         "botox",
		DurationMinutes:     30,
	}
	require.NoError(t, s.CreateAppointment(ctx, appt))
	assert.Equal(t, ApptScheduled, appt.Status)
	assert.Equal(t, "ai", appt.BookedBy)

	assert.Error(t, s.CreateAppointment(ctx, &Appointment{CalendarEventID: "evt_123", ServiceType: "botox"}))

	require.NoError(t, s.RescheduleAppointment(ctx, "evt_123", when.Add(2*time.Hour)))
	got, err := s.GetAppointmentByCalendarEventID(ctx, "evt_123")
	require.NoError(t, err)
	assert.Equal(t, ApptRescheduled, got.Status)
	assert.Equal(t, when.Add(2*time.Hour), got.AppointmentDatetime)

	require.NoError(t, s.CancelAppointment(ctx, "evt_123", "customer request", time.Now()))
	got, _ = s.GetAppointmentByCalendarEventID(ctx, "evt_123")
	assert.Equal(t, ApptCancelled, got.Status)
	require.NotNil(t, got.CancellationReason)
	assert.Equal(t, "customer request", *got.CancellationReason)
}
