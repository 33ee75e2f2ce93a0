package turn

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenspa/receptionist/internal/booking"
	"github.com/lumenspa/receptionist/internal/calendar"
	"github.com/lumenspa/receptionist/internal/llm"
	"github.com/lumenspa/receptionist/internal/slots"
	"github.com/lumenspa/receptionist/internal/store"
	"github.com/lumenspa/receptionist/internal/timeutil"
	"github.com/lumenspa/receptionist/pkg/logging"
)

// scriptedLLM replays canned responses and records every request. The last
// response repeats once the script runs out.
type scriptedLLM struct {
	responses []*llm.Response
	err       error
	requests  []llm.Request
}

func (s *scriptedLLM) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	idx := len(s.requests) - 1
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	return s.responses[idx], nil
}

type fakeCalendar struct {
	slots             []calendar.Slot
	createdID         string
	created           []calendar.EventRequest
	availabilityCalls int
}

func (f *fakeCalendar) AvailableSlots(_ context.Context, _ time.Time, _ string) ([]calendar.Slot, error) {
	f.availabilityCalls++
	return f.slots, nil
}

func (f *fakeCalendar) CreateEvent(_ context.Context, req calendar.EventRequest) (string, error) {
	f.created = append(f.created, req)
	return f.createdID, nil
}

func (f *fakeCalendar) UpdateEvent(context.Context, string, time.Time, time.Time) error { return nil }
func (f *fakeCalendar) DeleteEvent(context.Context, string) error                       { return nil }
func (f *fakeCalendar) GetEvent(_ context.Context, id string) (*calendar.Event, error) {
	return &calendar.Event{ID: id}, nil
}

// Monday March 9 2026, 9:00 AM eastern. "Tomorrow" resolves to March 10.
func testZone() *timeutil.Zone {
	zone := timeutil.MustZone("America/New_York")
	fixed := time.Date(2026, 3, 9, 9, 0, 0, 0, zone.Location())
	return zone.WithClock(func() time.Time { return fixed })
}

func slotAt(hour int, zone *timeutil.Zone) calendar.Slot {
	start := time.Date(2026, 3, 10, hour, 0, 0, 0, zone.Location())
	return calendar.Slot{Start: start, End: start.Add(30 * time.Minute)}
}

type fixture struct {
	turn *Orchestrator
	mem  *store.Memory
	conv *store.Conversation
	cal  *fakeCalendar
	llm  *scriptedLLM
	zone *timeutil.Zone
}

func newFixture(t *testing.T, client *scriptedLLM) *fixture {
	t.Helper()
	logger := logging.Default()
	zone := testZone()
	mem := store.NewMemory()
	conv := &store.Conversation{Channel: store.ChannelSMS, Metadata: map[string]any{}}
	require.NoError(t, mem.CreateConversation(context.Background(), conv))

	cal := &fakeCalendar{createdID: "evt_1", slots: []calendar.Slot{slotAt(10, zone), slotAt(14, zone)}}
	tools := booking.NewTools(cal, zone, logger)
	engine := slots.NewEngine(zone, slots.DefaultTTL, logger)
	bk := booking.NewOrchestrator(tools, engine, mem, zone, logger, nil)
	return &fixture{
		turn: NewOrchestrator(mem, client, bk, zone, "Lumen Aesthetics", logger, nil),
		mem:  mem,
		conv: conv,
		cal:  cal,
		llm:  client,
		zone: zone,
	}
}

func (f *fixture) inbound(t *testing.T, content string) *store.Message {
	t.Helper()
	m := &store.Message{
		ConversationID: f.conv.ID,
		Direction:      store.DirectionInbound,
		Content:        content,
		SentAt:         f.zone.Now(),
	}
	require.NoError(t, f.mem.AppendMessage(context.Background(), m))
	return m
}

func TestDetectBookingIntent(t *testing.T) {
	assert.True(t, DetectBookingIntent("Can I book botox tomorrow?"))
	assert.True(t, DetectBookingIntent("What's your availability Friday?"))
	assert.True(t, DetectBookingIntent("I need to RESCHEDULE"))
	assert.False(t, DetectBookingIntent("How much is a hydrafacial?"))
	assert.False(t, DetectBookingIntent("Where are you located?"))
}

func TestExtractService(t *testing.T) {
	assert.Equal(t, "botox", ExtractService("thinking about Botox for my forehead"))
	assert.Equal(t, "laser_hair_removal", ExtractService("do you do laser hair removal?"))
	assert.Equal(t, "dermal_fillers", ExtractService("price on dermal_fillers"))
	assert.Equal(t, "", ExtractService("just saying hi"))
}

func TestExtractDate(t *testing.T) {
	zone := testZone()
	tests := []struct {
		text string
		want string
	}{
		{"tomorrow afternoon", "2026-03-10"},
		{"sometime today", "2026-03-09"},
		{"on 2026-03-20 please", "2026-03-20"},
		{"how about Friday", "2026-03-13"},
		{"next Monday", "2026-03-16"}, // today is Monday; same weekday means next week
		{"march 25 works", "2026-03-25"},
		{"whenever", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExtractDate(tt.text, zone), tt.text)
	}
}

func TestRunPreemptiveAvailability(t *testing.T) {
	client := &scriptedLLM{responses: []*llm.Response{
		{Content: "We have 10:00 AM and 2:00 PM tomorrow. Reply 1 or 2!"},
	}}
	f := newFixture(t, client)
	ctx := context.Background()

	reply, err := f.turn.Run(ctx, f.conv, f.inbound(t, "Hi, can I book botox tomorrow?"))
	require.NoError(t, err)
	assert.Contains(t, reply, "10:00 AM")

	// The availability result was handed to the model as a tool exchange.
	require.Len(t, client.requests, 1)
	msgs := client.requests[0].Messages
	var sawToolResult bool
	for _, m := range msgs {
		if m.Role == llm.RoleTool && m.ToolCallID == "preemptive_call" {
			sawToolResult = true
			assert.Contains(t, m.Content, "all_slots")
		}
	}
	assert.True(t, sawToolResult, "preemptive tool result must reach the model")

	// Offers and intent flags persisted.
	stored, _ := f.mem.GetConversation(ctx, f.conv.ID)
	assert.Equal(t, true, stored.Metadata[booking.MetaPendingBookingIntent])
	assert.Equal(t, "botox", stored.Metadata[booking.MetaPendingBookingService])
	offer, ok := f.turn.booking.Engine().PendingOffer(stored.Metadata)
	require.True(t, ok)
	assert.Len(t, offer.Slots, 2)

	// Reply persisted as the outbound message.
	history, _ := f.mem.ListMessages(ctx, f.conv.ID)
	require.Len(t, history, 2)
	assert.Equal(t, store.DirectionOutbound, history[1].Direction)
	assert.Equal(t, reply, history[1].Content)
}

func TestRunPreemptiveAvailabilitySkipsFreshOffers(t *testing.T) {
	client := &scriptedLLM{responses: []*llm.Response{
		{Content: "We have 10:00 AM and 2:00 PM tomorrow."},
	}}
	f := newFixture(t, client)
	ctx := context.Background()

	_, err := f.turn.Run(ctx, f.conv, f.inbound(t, "Hi, can I book botox tomorrow?"))
	require.NoError(t, err)
	require.Equal(t, 1, f.cal.availabilityCalls)

	// A second intent-bearing message reuses the offers on the table.
	_, err = f.turn.Run(ctx, f.conv, f.inbound(t, "actually, can I book botox tomorrow morning?"))
	require.NoError(t, err)
	assert.Equal(t, 1, f.cal.availabilityCalls, "unexpired offers must suppress the preemptive check")

	offer, ok := f.turn.booking.Engine().PendingOffer(f.conv.Metadata)
	require.True(t, ok)
	assert.Len(t, offer.Slots, 2)
}

func TestRunToolLoopBooksAppointment(t *testing.T) {
	args := `{"customer_name":"Dana Reyes","customer_phone":"+12125551234","start_time":"2026-03-10T14:00:00-04:00","service_type":"botox"}`
	client := &scriptedLLM{responses: []*llm.Response{
		{ToolCalls: []llm.ToolCall{{ID: "call_1", Name: booking.ToolBookAppointment, Arguments: args}}},
		{Content: "You're booked for 2:00 PM tomorrow, Dana!"},
	}}
	f := newFixture(t, client)
	ctx := context.Background()

	// Offers already on the table from a prior turn; customer picks 2.
	f.turn.booking.CheckAvailability(ctx, f.conv, "call_0",
		map[string]any{"date": "2026-03-10", "service_type": "botox"})

	reply, err := f.turn.Run(ctx, f.conv, f.inbound(t, "2 please"))
	require.NoError(t, err)
	assert.Contains(t, reply, "booked")

	require.Len(t, f.cal.created, 1)
	assert.Equal(t, 14, f.cal.created[0].Start.Hour())

	appt, err := f.mem.GetAppointmentByCalendarEventID(ctx, "evt_1")
	require.NoError(t, err)
	assert.Equal(t, "botox", appt.ServiceType)

	// Second completion carried the tool result back.
	require.Len(t, client.requests, 2)
	last := client.requests[1].Messages[len(client.requests[1].Messages)-1]
	assert.Equal(t, llm.RoleTool, last.Role)
	assert.Equal(t, "call_1", last.ToolCallID)
}

func TestRunDeterministicBookingSkipsModel(t *testing.T) {
	client := &scriptedLLM{responses: []*llm.Response{{Content: "should not be used"}}}
	f := newFixture(t, client)
	ctx := context.Background()

	f.conv.Metadata[MetaCustomerName] = "Dana Reyes"
	f.conv.Metadata[MetaCustomerPhone] = "+12125551234"
	f.turn.booking.CheckAvailability(ctx, f.conv, "call_0",
		map[string]any{"date": "2026-03-10", "service_type": "botox"})

	reply, err := f.turn.Run(ctx, f.conv, f.inbound(t, "1"))
	require.NoError(t, err)
	assert.Contains(t, reply, "You're all set, Dana Reyes!")
	assert.Contains(t, reply, "Botox")
	assert.Empty(t, client.requests, "deterministic booking must not call the model")

	require.Len(t, f.cal.created, 1)
	assert.Equal(t, 10, f.cal.created[0].Start.Hour())
}

func TestRunDeterministicBookingIgnoresSynthesizedPhone(t *testing.T) {
	client := &scriptedLLM{responses: []*llm.Response{{Content: "Could you share a phone number for the booking?"}}}
	f := newFixture(t, client)
	ctx := context.Background()

	customer := &store.Customer{
		Name:             "Dana Reyes",
		Phone:            "email:deadbeefdeadbeef",
		SynthesizedPhone: true,
		Email:            "dana@example.com",
	}
	require.NoError(t, f.mem.CreateCustomer(ctx, customer))
	f.conv.CustomerID = &customer.ID
	f.conv.Metadata[MetaCustomerName] = "Dana Reyes"

	f.turn.booking.CheckAvailability(ctx, f.conv, "call_0",
		map[string]any{"date": "2026-03-10", "service_type": "botox"})

	reply, err := f.turn.Run(ctx, f.conv, f.inbound(t, "1"))
	require.NoError(t, err)
	assert.Contains(t, reply, "phone number")
	assert.Len(t, client.requests, 1, "an email-only customer falls through to the model")
	assert.Empty(t, f.cal.created, "no event may carry the placeholder phone")
}

func TestRunApologyOnModelFailure(t *testing.T) {
	client := &scriptedLLM{err: errors.New("rate limited")}
	f := newFixture(t, client)
	ctx := context.Background()

	reply, err := f.turn.Run(ctx, f.conv, f.inbound(t, "hello?"))
	require.NoError(t, err)
	assert.Equal(t, apologyReply, reply)

	history, _ := f.mem.ListMessages(ctx, f.conv.ID)
	require.Len(t, history, 2)
	assert.Equal(t, apologyReply, history[1].Content)
}

func TestRunToolLoopDepthCapped(t *testing.T) {
	loop := &llm.Response{ToolCalls: []llm.ToolCall{{
		ID: "call_n", Name: booking.ToolCheckAvailability,
		Arguments: `{"date":"2026-03-10","service_type":"botox"}`,
	}}}
	client := &scriptedLLM{responses: []*llm.Response{loop}}
	f := newFixture(t, client)

	reply, err := f.turn.Run(context.Background(), f.conv, f.inbound(t, "availability tomorrow for botox?"))
	require.NoError(t, err)
	assert.Equal(t, toolLoopCapReply, reply)
	assert.Len(t, client.requests, maxToolDepth+1)
}

func TestSystemPromptChannels(t *testing.T) {
	zone := testZone()
	sms := SystemPrompt(store.ChannelSMS, "Lumen Aesthetics", zone)
	assert.Contains(t, sms, "NEVER state availability")
	assert.Contains(t, sms, "Channel: SMS")
	assert.Contains(t, sms, "botox")

	email := SystemPrompt(store.ChannelEmail, "Lumen Aesthetics", zone)
	assert.Contains(t, email, "salutation")
	assert.Equal(t, maxEmailTokens, MaxTokensFor(store.ChannelEmail))
	assert.Equal(t, maxSMSTokens, MaxTokensFor(store.ChannelSMS))
}
