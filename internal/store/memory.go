package store

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-memory Store for tests and database-less development.
// All returned records are copies; metadata aliasing cannot leak state.
type Memory struct {
	mu            sync.Mutex
	customers     map[uuid.UUID]*Customer
	conversations map[uuid.UUID]*Conversation
	messages      map[uuid.UUID][]*Message
	voiceDetails  map[uuid.UUID]*VoiceDetails
	smsDetails    map[uuid.UUID]*SMSDetails
	emailDetails  map[uuid.UUID]*EmailDetails
	appointments  map[string]*Appointment
	nextSeq       int64
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		customers:     make(map[uuid.UUID]*Customer),
		conversations: make(map[uuid.UUID]*Conversation),
		messages:      make(map[uuid.UUID][]*Message),
		voiceDetails:  make(map[uuid.UUID]*VoiceDetails),
		smsDetails:    make(map[uuid.UUID]*SMSDetails),
		emailDetails:  make(map[uuid.UUID]*EmailDetails),
		appointments:  make(map[string]*Appointment),
	}
}

var _ Store = (*Memory)(nil)

// cloneMap round-trips through JSON so stored metadata matches what a JSONB
// column would return (numbers become float64, no shared references).
func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	raw, _ := json.Marshal(m)
	out := map[string]any{}
	_ = json.Unmarshal(raw, &out)
	return out
}

func (s *Memory) CreateCustomer(_ context.Context, c *Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	for _, existing := range s.customers {
		if existing.Phone == c.Phone {
			return errors.New("store: duplicate phone")
		}
	}
	now := time.Now()
	c.CreatedAt, c.UpdatedAt = now, now
	if c.MedicalFlags == nil {
		c.MedicalFlags = map[string]any{}
	}
	cp := *c
	cp.MedicalFlags = cloneMap(c.MedicalFlags)
	s.customers[c.ID] = &cp
	return nil
}

func (s *Memory) GetCustomerByID(_ context.Context, id uuid.UUID) (*Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.customers[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "customer"}
	}
	cp := *c
	cp.MedicalFlags = cloneMap(c.MedicalFlags)
	return &cp, nil
}

func (s *Memory) GetCustomerByPhone(_ context.Context, phone string) (*Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.customers {
		if c.Phone == phone {
			cp := *c
			cp.MedicalFlags = cloneMap(c.MedicalFlags)
			return &cp, nil
		}
	}
	return nil, &ErrNotFound{Entity: "customer"}
}

func (s *Memory) UpdateCustomerContact(_ context.Context, id uuid.UUID, name, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.customers[id]
	if !ok {
		return &ErrNotFound{Entity: "customer"}
	}
	if name != "" {
		c.Name = name
	}
	if email != "" {
		c.Email = email
	}
	c.UpdatedAt = time.Now()
	return nil
}

func (s *Memory) CreateConversation(_ context.Context, c *Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
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
	cp := *c
	cp.Metadata = cloneMap(c.Metadata)
	s.conversations[c.ID] = &cp
	return nil
}

func (s *Memory) GetConversation(_ context.Context, id uuid.UUID) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "conversation"}
	}
	cp := *c
	cp.Metadata = cloneMap(c.Metadata)
	return &cp, nil
}

func (s *Memory) FindActiveConversation(_ context.Context, customerID uuid.UUID, channel string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *Conversation
	for _, c := range s.conversations {
		if c.Status != StatusActive || c.Channel != channel {
			continue
		}
		if c.CustomerID == nil || *c.CustomerID != customerID {
			continue
		}
		if best == nil || c.LastActivityAt.After(best.LastActivityAt) {
			best = c
		}
	}
	if best == nil {
		return nil, &ErrNotFound{Entity: "conversation"}
	}
	cp := *best
	cp.Metadata = cloneMap(best.Metadata)
	return &cp, nil
}

func (s *Memory) UpdateConversationMetadata(_ context.Context, id uuid.UUID, metadata map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return &ErrNotFound{Entity: "conversation"}
	}
	c.Metadata = cloneMap(metadata)
	c.LastActivityAt = time.Now()
	return nil
}

func (s *Memory) TouchConversation(_ context.Context, id uuid.UUID, lastActivity time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return &ErrNotFound{Entity: "conversation"}
	}
	c.LastActivityAt = lastActivity
	return nil
}

func (s *Memory) CompleteConversation(_ context.Context, id uuid.UUID, status string, completedAt time.Time) error {
	if status != StatusCompleted && status != StatusFailed {
		return errors.New("store: invalid terminal status " + status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok || c.Status != StatusActive {
		return &ErrNotFound{Entity: "active conversation"}
	}
	c.Status = status
	c.CompletedAt = &completedAt
	return nil
}

func (s *Memory) UpdateConversationScoring(_ context.Context, id uuid.UUID, score int, sentiment, outcome, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return &ErrNotFound{Entity: "conversation"}
	}
	c.SatisfactionScore = &score
	c.Sentiment = &sentiment
	c.Outcome = &outcome
	c.Summary = &summary
	return nil
}

func (s *Memory) ListIdleActiveConversations(_ context.Context, idleBefore time.Time, limit int) ([]*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Conversation
	for _, c := range s.conversations {
		if c.Status == StatusActive && c.LastActivityAt.Before(idleBefore) {
			cp := *c
			cp.Metadata = cloneMap(c.Metadata)
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivityAt.Before(out[j].LastActivityAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Memory) AppendMessage(_ context.Context, m *Message) error {
	if m.Content == "" {
		return errors.New("store: message content must be non-empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[m.ConversationID]; !ok {
		return &ErrNotFound{Entity: "conversation"}
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.SentAt.IsZero() {
		m.SentAt = time.Now()
	}
	s.nextSeq++
	m.Seq = s.nextSeq
	cp := *m
	cp.Metadata = cloneMap(m.Metadata)
	s.messages[m.ConversationID] = append(s.messages[m.ConversationID], &cp)
	return nil
}

func (s *Memory) ListMessages(_ context.Context, conversationID uuid.UUID) ([]*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[conversationID]
	out := make([]*Message, 0, len(msgs))
	for _, m := range msgs {
		cp := *m
		cp.Metadata = cloneMap(m.Metadata)
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].SentAt.Equal(out[j].SentAt) {
			return out[i].SentAt.Before(out[j].SentAt)
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}

func (s *Memory) CreateVoiceDetails(_ context.Context, d *VoiceDetails) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.voiceDetails[d.MessageID]; exists {
		return errors.New("store: voice details already exist for message")
	}
	cp := *d
	s.voiceDetails[d.MessageID] = &cp
	return nil
}

// GetVoiceDetails is a test helper not on the Store interface.
func (s *Memory) GetVoiceDetails(messageID uuid.UUID) (*VoiceDetails, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.voiceDetails[messageID]
	if !ok {
		return nil, false
	}
	cp := *d
	return &cp, true
}

func (s *Memory) CreateSMSDetails(_ context.Context, d *SMSDetails) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	s.smsDetails[d.MessageID] = &cp
	return nil
}

func (s *Memory) CreateEmailDetails(_ context.Context, d *EmailDetails) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	s.emailDetails[d.MessageID] = &cp
	return nil
}

func (s *Memory) CreateAppointment(_ context.Context, a *Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.appointments[a.CalendarEventID]; exists {
		return errors.New("store: duplicate calendar_event_id")
	}
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
	cp := *a
	s.appointments[a.CalendarEventID] = &cp
	return nil
}

func (s *Memory) GetAppointmentByCalendarEventID(_ context.Context, calendarEventID string) (*Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appointments[calendarEventID]
	if !ok {
		return nil, &ErrNotFound{Entity: "appointment"}
	}
	cp := *a
	return &cp, nil
}

func (s *Memory) RescheduleAppointment(_ context.Context, calendarEventID string, newDatetime time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appointments[calendarEventID]
	if !ok {
		return &ErrNotFound{Entity: "appointment"}
	}
	a.AppointmentDatetime = newDatetime
	a.Status = ApptRescheduled
	a.UpdatedAt = time.Now()
	return nil
}

func (s *Memory) CancelAppointment(_ context.Context, calendarEventID, reason string, cancelledAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appointments[calendarEventID]
	if !ok {
		return &ErrNotFound{Entity: "appointment"}
	}
	a.Status = ApptCancelled
	a.CancellationReason = &reason
	a.CancelledAt = &cancelledAt
	a.UpdatedAt = time.Now()
	return nil
}
