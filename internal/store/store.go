package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Store is the persistence port. Postgres backs production; Memory backs
// tests and local development without a database.
type Store interface {
	// Customers
	CreateCustomer(ctx context.Context, c *Customer) error
	GetCustomerByID(ctx context.Context, id uuid.UUID) (*Customer, error)
	GetCustomerByPhone(ctx context.Context, phone string) (*Customer, error)
	UpdateCustomerContact(ctx context.Context, id uuid.UUID, name, email string) error

	// Conversations
	CreateConversation(ctx context.Context, c *Conversation) error
	GetConversation(ctx context.Context, id uuid.UUID) (*Conversation, error)
	FindActiveConversation(ctx context.Context, customerID uuid.UUID, channel string) (*Conversation, error)
	UpdateConversationMetadata(ctx context.Context, id uuid.UUID, metadata map[string]any) error
	TouchConversation(ctx context.Context, id uuid.UUID, lastActivity time.Time) error
	CompleteConversation(ctx context.Context, id uuid.UUID, status string, completedAt time.Time) error
	UpdateConversationScoring(ctx context.Context, id uuid.UUID, score int, sentiment, outcome, summary string) error
	ListIdleActiveConversations(ctx context.Context, idleBefore time.Time, limit int) ([]*Conversation, error)

	// Messages
	AppendMessage(ctx context.Context, m *Message) error
	ListMessages(ctx context.Context, conversationID uuid.UUID) ([]*Message, error)

	// Channel details
	CreateVoiceDetails(ctx context.Context, d *VoiceDetails) error
	CreateSMSDetails(ctx context.Context, d *SMSDetails) error
	CreateEmailDetails(ctx context.Context, d *EmailDetails) error

	// Appointments
	CreateAppointment(ctx context.Context, a *Appointment) error
	GetAppointmentByCalendarEventID(ctx context.Context, calendarEventID string) (*Appointment, error)
	RescheduleAppointment(ctx context.Context, calendarEventID string, newDatetime time.Time) error
	CancelAppointment(ctx context.Context, calendarEventID, reason string, cancelledAt time.Time) error
}

// ErrNotFound is returned when a lookup matches nothing.
type ErrNotFound struct {
	Entity string
}

func (e *ErrNotFound) Error() string { return "store: " + e.Entity + " not found" }

// IsNotFound reports whether err is a missing-row error from this package.
func IsNotFound(err error) bool {
	var nf *ErrNotFound
	return errors.As(err, &nf)
}
