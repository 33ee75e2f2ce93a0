// Package store persists customers, conversations, messages, channel
// details, and appointments. Conversation metadata is the in-flight control
// block for slot offers and booking intent; every mutation must go through
// UpdateConversationMetadata so the whole map is rewritten.
package store

import (
	"time"

	"github.com/google/uuid"
)

// Conversation channels.
const (
	ChannelVoice = "voice"
	ChannelSMS   = "sms"
	ChannelEmail = "email"
)

// Conversation statuses. Transitions are monotonic: active moves to
// completed or failed and never back.
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Message directions.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Appointment statuses.
const (
	ApptScheduled   = "scheduled"
	ApptCompleted   = "completed"
	ApptCancelled   = "cancelled"
	ApptNoShow      = "no_show"
	ApptRescheduled = "rescheduled"
)

// Customer is a contact resolved by phone. Phone is unique and non-null;
// email-only contacts get a synthesized placeholder that never matches a
// real number.
type Customer struct {
	ID               uuid.UUID      `json:"id"`
	Name             string         `json:"name"`
	Phone            string         `json:"phone"`
	SynthesizedPhone bool           `json:"synthesized_phone"`
	Email            string         `json:"email"`
	MedicalFlags     map[string]any `json:"medical_flags"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Conversation is one customer interaction on exactly one channel.
type Conversation struct {
	ID                uuid.UUID      `json:"id"`
	CustomerID        *uuid.UUID     `json:"customer_id,omitempty"`
	Channel           string         `json:"channel"`
	Status            string         `json:"status"`
	InitiatedAt       time.Time      `json:"initiated_at"`
	LastActivityAt    time.Time      `json:"last_activity_at"`
	CompletedAt       *time.Time     `json:"completed_at,omitempty"`
	SatisfactionScore *int           `json:"satisfaction_score,omitempty"`
	Sentiment         *string        `json:"sentiment,omitempty"`
	Outcome           *string        `json:"outcome,omitempty"`
	Summary           *string        `json:"summary,omitempty"`
	Subject           *string        `json:"subject,omitempty"`
	Metadata          map[string]any `json:"metadata"`
}

// Message is one inbound or outbound entry in a conversation. Ordering is
// by SentAt with Seq breaking ties at insertion order.
type Message struct {
	ID             uuid.UUID      `json:"id"`
	ConversationID uuid.UUID      `json:"conversation_id"`
	Direction      string         `json:"direction"`
	Content        string         `json:"content"`
	SentAt         time.Time      `json:"sent_at"`
	Processed      bool           `json:"processed"`
	Metadata       map[string]any `json:"metadata"`
	Seq            int64          `json:"seq"`
}

// TranscriptSegment is one utterance in a voice call transcript.
type TranscriptSegment struct {
	Speaker   string    `json:"speaker"` // customer or assistant
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// FunctionCallRecord captures one tool invocation during a voice call.
type FunctionCallRecord struct {
	Name      string    `json:"name"`
	Arguments string    `json:"arguments"`
	Result    string    `json:"result,omitempty"`
	CalledAt  time.Time `json:"called_at"`
}

// VoiceDetails is the 1:1 voice payload for a call's single inbound message.
type VoiceDetails struct {
	MessageID          uuid.UUID            `json:"message_id"`
	DurationSeconds    int                  `json:"duration_seconds"`
	RecordingURL       *string              `json:"recording_url,omitempty"`
	TranscriptSegments []TranscriptSegment  `json:"transcript_segments"`
	FunctionCalls      []FunctionCallRecord `json:"function_calls"`
	InterruptionCount  int                  `json:"interruption_count"`
}

// SMSDetails carries provider metadata for an SMS message.
type SMSDetails struct {
	MessageID         uuid.UUID `json:"message_id"`
	FromNumber        string    `json:"from_number"`
	ToNumber          string    `json:"to_number"`
	ProviderMessageID string    `json:"provider_message_id,omitempty"`
	DeliveryStatus    string    `json:"delivery_status,omitempty"`
}

// EmailDetails carries addressing metadata for an email message.
type EmailDetails struct {
	MessageID   uuid.UUID `json:"message_id"`
	FromAddress string    `json:"from_address"`
	ToAddress   string    `json:"to_address"`
	Subject     string    `json:"subject,omitempty"`
	Attachments []string  `json:"attachments,omitempty"`
}

// Appointment mirrors a calendar event. CalendarEventID is the unique
// foreign key into the calendar of record.
type Appointment struct {
	ID                  uuid.UUID  `json:"id"`
	CustomerID          *uuid.UUID `json:"customer_id,omitempty"`
	CalendarEventID     string     `json:"calendar_event_id"`
	AppointmentDatetime time.Time  `json:"appointment_datetime"`
	ServiceType         string     `json:"service_type"`
	Provider            *string    `json:"provider,omitempty"`
	DurationMinutes     int        `json:"duration_minutes"`
	Status              string     `json:"status"`
	BookedBy            string     `json:"booked_by"`
	SpecialRequests     *string    `json:"special_requests,omitempty"`
	CancellationReason  *string    `json:"cancellation_reason,omitempty"`
	CancelledAt         *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}
