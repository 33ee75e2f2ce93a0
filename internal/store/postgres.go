package store

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

// DB is the slice of pgxpool.Pool the store uses; pgxmock satisfies it too.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	db DB
}

// NewPostgres wraps a pool (or mock) in a Store.
func NewPostgres(db DB) *Postgres {
	return &Postgres{db: db}
}

var _ Store = (*Postgres)(nil)

func (s *Postgres) CreateCustomer(ctx context.Context, c *Customer) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	now := time.Now()
	c.CreatedAt, c.UpdatedAt = now, now
	if c.MedicalFlags == nil {
		c.MedicalFlags = map[string]any{}
	}
	flags, err := json.Marshal(c.MedicalFlags)
	if err != nil {
		return fmt.Errorf("store: marshal medical flags: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO customers (id, name, phone, synthesized_phone, email, medical_flags, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.Name, c.Phone, c.SynthesizedPhone, c.Email, flags, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: create customer: %w", err)
	}
	return nil
}

func (s *Postgres) GetCustomerByID(ctx context.Context, id uuid.UUID) (*Customer, error) {
	return s.scanCustomer(s.db.QueryRow(ctx, `
		SELECT id, name, phone, synthesized_phone, email, medical_flags, created_at, updated_at
		FROM customers WHERE id = $1`, id))
}

func (s *Postgres) GetCustomerByPhone(ctx context.Context, phone string) (*Customer, error) {
	return s.scanCustomer(s.db.QueryRow(ctx, `
		SELECT id, name, phone, synthesized_phone, email, medical_flags, created_at, updated_at
		FROM customers WHERE phone = $1`, phone))
}

func (s *Postgres) scanCustomer(row pgx.Row) (*Customer, error) {
	var c Customer
	var flags []byte
	err := row.Scan(&c.ID, &c.Name, &c.Phone, &c.SynthesizedPhone, &c.Email, &flags, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "customer"}
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan customer: %w", err)
	}
	if len(flags) > 0 {
		_ = json.Unmarshal(flags, &c.MedicalFlags)
	}
	return &c, nil
}

func (s *Postgres) UpdateCustomerContact(ctx context.Context, id uuid.UUID, name, email string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE customers
		SET name = CASE WHEN $2 <> '' THEN $2 ELSE name END,
		    email = CASE WHEN $3 <> '' THEN $3 ELSE email END,
		    updated_at = NOW()
		WHERE id = $1`, id, name, email)
	if err != nil {
		return fmt.Errorf("store: update customer contact: %w", err)
	}
	return nil
}

func (s *Postgres) CreateConversation(ctx context.Context, c *Conversation) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Status == "" {
		c.Status = StatusActive
	}
	now := time.Now()
	if c.InitiatedAt.IsZero() {
		c.InitiatedAt = now
	}
	if c.LastActivityAt.IsZero() {
		c.LastActivityAt = now
	}
	if c.Metadata == nil {
		c.Metadata = map[string]any{}
	}
	meta, err := json.Marshal(c.Metadata)
	if err != nil {
		return fmt.Errorf("store: marshal metadata: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO conversations (id, customer_id, channel, status, initiated_at, last_activity_at, subject, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.CustomerID, c.Channel, c.Status, c.InitiatedAt, c.LastActivityAt, c.Subject, meta)
	if err != nil {
		return fmt.Errorf("store: create conversation: %w", err)
	}
	return nil
}

const conversationColumns = `id, customer_id, channel, status, initiated_at, last_activity_at,
	completed_at, satisfaction_score, sentiment, outcome, summary, subject, metadata`

func (s *Postgres) GetConversation(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	return scanConversation(s.db.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id))
}

func (s *Postgres) FindActiveConversation(ctx context.Context, customerID uuid.UUID, channel string) (*Conversation, error) {
	return scanConversation(s.db.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations
		 WHERE customer_id = $1 AND channel = $2 AND status = 'active'
		 ORDER BY last_activity_at DESC LIMIT 1`, customerID, channel))
}

func scanConversation(row pgx.Row) (*Conversation, error) {
	var c Conversation
	var meta []byte
	err := row.Scan(&c.ID, &c.CustomerID, &c.Channel, &c.Status, &c.InitiatedAt, &c.LastActivityAt,
		&c.CompletedAt, &c.SatisfactionScore, &c.Sentiment, &c.Outcome, &c.Summary, &c.Subject, &meta)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "conversation"}
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan conversation: %w", err)
	}
	c.Metadata = map[string]any{}
	if len(meta) > 0 {
		_ = json.Unmarshal(meta, &c.Metadata)
	}
	return &c, nil
}

// UpdateConversationMetadata rewrites the whole metadata map. Partial
// in-place JSONB updates are deliberately not offered; the metadata map is
// authoritative in-flight state and must be replaced atomically.
func (s *Postgres) UpdateConversationMetadata(ctx context.Context, id uuid.UUID, metadata map[string]any) error {
	if metadata == nil {
		metadata = map[string]any{}
	}
	meta, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("store: marshal metadata: %w", err)
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE conversations SET metadata = $2, last_activity_at = NOW() WHERE id = $1`, id, meta)
	if err != nil {
		return fmt.Errorf("store: update metadata: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "conversation"}
	}
	return nil
}

func (s *Postgres) TouchConversation(ctx context.Context, id uuid.UUID, lastActivity time.Time) error {
	_, err := s.db.Exec(ctx,
		`UPDATE conversations SET last_activity_at = $2 WHERE id = $1`, id, lastActivity)
	if err != nil {
		return fmt.Errorf("store: touch conversation: %w", err)
	}
	return nil
}

// CompleteConversation finishes an active conversation. The status guard
// keeps transitions monotonic.
func (s *Postgres) CompleteConversation(ctx context.Context, id uuid.UUID, status string, completedAt time.Time) error {
	if status != StatusCompleted && status != StatusFailed {
		return fmt.Errorf("store: invalid terminal status %q", status)
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE conversations SET status = $2, completed_at = $3
		WHERE id = $1 AND status = 'active'`, id, status, completedAt)
	if err != nil {
		return fmt.Errorf("store: complete conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "active conversation"}
	}
	return nil
}

func (s *Postgres) UpdateConversationScoring(ctx context.Context, id uuid.UUID, score int, sentiment, outcome, summary string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE conversations SET satisfaction_score = $2, sentiment = $3, outcome = $4, summary = $5
		WHERE id = $1`, id, score, sentiment, outcome, summary)
	if err != nil {
		return fmt.Errorf("store: update scoring: %w", err)
	}
	return nil
}

func (s *Postgres) ListIdleActiveConversations(ctx context.Context, idleBefore time.Time, limit int) ([]*Conversation, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+conversationColumns+` FROM conversations
		 WHERE status = 'active' AND last_activity_at < $1
		 ORDER BY last_activity_at ASC LIMIT $2`, idleBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list idle conversations: %w", err)
	}
	defer rows.Close()

	var out []*Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Postgres) AppendMessage(ctx context.Context, m *Message) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.SentAt.IsZero() {
		m.SentAt = time.Now()
	}
	if m.Content == "" {
		return errors.New("store: message content must be non-empty")
	}
	if m.Metadata == nil {
		m.Metadata = map[string]any{}
	}
	meta, err := json.Marshal(m.Metadata)
	if err != nil {
		return fmt.Errorf("store: marshal message metadata: %w", err)
	}
	err = s.db.QueryRow(ctx, `
		INSERT INTO messages (id, conversation_id, direction, content, sent_at, processed, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING seq`,
		m.ID, m.ConversationID, m.Direction, m.Content, m.SentAt, m.Processed, meta).Scan(&m.Seq)
	if err != nil {
		return fmt.Errorf("store: append message: %w", err)
	}
	return nil
}

func (s *Postgres) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]*Message, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, conversation_id, direction, content, sent_at, processed, metadata, seq
		FROM messages WHERE conversation_id = $1
		ORDER BY sent_at ASC, seq ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("store: list messages: %w", err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		var m Message
		var meta []byte
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Direction, &m.Content, &m.SentAt, &m.Processed, &meta, &m.Seq); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		m.Metadata = map[string]any{}
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &m.Metadata)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (s *Postgres) CreateVoiceDetails(ctx context.Context, d *VoiceDetails) error {
	segments, err := json.Marshal(d.TranscriptSegments)
	if err != nil {
		return fmt.Errorf("store: marshal transcript: %w", err)
	}
	calls, err := json.Marshal(d.FunctionCalls)
	if err != nil {
		return fmt.Errorf("store: marshal function calls: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO voice_details (message_id, duration_seconds, recording_url, transcript_segments, function_calls, interruption_count)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		d.MessageID, d.DurationSeconds, d.RecordingURL, segments, calls, d.InterruptionCount)
	if err != nil {
		return fmt.Errorf("store: create voice details: %w", err)
	}
	return nil
}

func (s *Postgres) CreateSMSDetails(ctx context.Context, d *SMSDetails) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO sms_details (message_id, from_number, to_number, provider_message_id, delivery_status)
		VALUES ($1, $2, $3, $4, $5)`,
		d.MessageID, d.FromNumber, d.ToNumber, d.ProviderMessageID, d.DeliveryStatus)
	if err != nil {
		return fmt.Errorf("store: create sms details: %w", err)
	}
	return nil
}

func (s *Postgres) CreateEmailDetails(ctx context.Context, d *EmailDetails) error {
	attachments, err := json.Marshal(d.Attachments)
	if err != nil {
		return fmt.Errorf("store: marshal attachments: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO email_details (message_id, from_address, to_address, subject, attachments)
		VALUES ($1, $2, $3, $4, $5)`,
		d.MessageID, d.FromAddress, d.ToAddress, d.Subject, attachments)
	if err != nil {
		return fmt.Errorf("store: create email details: %w", err)
	}
	return nil
}

func (s *Postgres) CreateAppointment(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = ApptScheduled
	}
	if a.BookedBy == "" {
		a.BookedBy = "ai"
	}
	now := time.Now()
	a.CreatedAt, a.UpdatedAt = now, now
	_, err := s.db.Exec(ctx, `
		INSERT INTO appointments (id, customer_id, calendar_event_id, appointment_datetime, service_type,
			provider, duration_minutes, status, booked_by, special_requests, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		a.ID, a.CustomerID, a.CalendarEventID, a.AppointmentDatetime, a.ServiceType,
		a.Provider, a.DurationMinutes, a.Status, a.BookedBy, a.SpecialRequests, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: create appointment: %w", err)
	}
	return nil
}

func (s *Postgres) GetAppointmentByCalendarEventID(ctx context.Context, calendarEventID string) (*Appointment, error) {
	var a Appointment
	err := s.db.QueryRow(ctx, `
		SELECT id, customer_id, calendar_event_id, appointment_datetime, service_type, provider,
			duration_minutes, status, booked_by, special_requests, cancellation_reason, cancelled_at,
			created_at, updated_at
		FROM appointments WHERE calendar_event_id = $1`, calendarEventID).
		Scan(&a.ID, &a.CustomerID, &a.CalendarEventID, &a.AppointmentDatetime, &a.ServiceType, &a.Provider,
			&a.DurationMinutes, &a.Status, &a.BookedBy, &a.SpecialRequests, &a.CancellationReason, &a.CancelledAt,
			&a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "appointment"}
	}
	if err != nil {
		return nil, fmt.Errorf("store: get appointment: %w", err)
	}
	return &a, nil
}

func (s *Postgres) RescheduleAppointment(ctx context.Context, calendarEventID string, newDatetime time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE appointments SET appointment_datetime = $2, status = 'rescheduled', updated_at = NOW()
		WHERE calendar_event_id = $1`, calendarEventID, newDatetime)
	if err != nil {
		return fmt.Errorf("store: reschedule appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "appointment"}
	}
	return nil
}

func (s *Postgres) CancelAppointment(ctx context.Context, calendarEventID, reason string, cancelledAt time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE appointments SET status = 'cancelled', cancellation_reason = $2, cancelled_at = $3, updated_at = NOW()
		WHERE calendar_event_id = $1`, calendarEventID, reason, cancelledAt)
	if err != nil {
		return fmt.Errorf("store: cancel appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "appointment"}
	}
	return nil
}
