package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenspa/receptionist/internal/booking"
	"github.com/lumenspa/receptionist/internal/calendar"
	"github.com/lumenspa/receptionist/internal/llm"
	"github.com/lumenspa/receptionist/internal/locks"
	"github.com/lumenspa/receptionist/internal/messaging"
	"github.com/lumenspa/receptionist/internal/slots"
	"github.com/lumenspa/receptionist/internal/store"
	"github.com/lumenspa/receptionist/internal/timeutil"
	"github.com/lumenspa/receptionist/internal/turn"
	"github.com/lumenspa/receptionist/internal/voice"
	"github.com/lumenspa/receptionist/pkg/logging"
)

type scriptedLLM struct {
	content string
}

func (s *scriptedLLM) Complete(context.Context, llm.Request) (*llm.Response, error) {
	return &llm.Response{Content: s.content}, nil
}

type fakeCalendar struct{}

func (fakeCalendar) AvailableSlots(context.Context, time.Time, string) ([]calendar.Slot, error) {
	return nil, nil
}
func (fakeCalendar) CreateEvent(context.Context, calendar.EventRequest) (string, error) {
	return "evt_1", nil
}
func (fakeCalendar) UpdateEvent(context.Context, string, time.Time, time.Time) error { return nil }
func (fakeCalendar) DeleteEvent(context.Context, string) error                       { return nil }
func (fakeCalendar) GetEvent(_ context.Context, id string) (*calendar.Event, error) {
	return &calendar.Event{ID: id}, nil
}

type capturingEmailSender struct {
	sent []messaging.OutboundEmail
}

func (c *capturingEmailSender) SendEmail(_ context.Context, msg messaging.OutboundEmail) error {
	c.sent = append(c.sent, msg)
	return nil
}

type testEnv struct {
	handlers *Handlers
	mem      *store.Memory
	email    *capturingEmailSender
	redis    *miniredis.Miniredis
}

func newTestEnv(t *testing.T, reply string) *testEnv {
	t.Helper()
	logger := logging.Default()
	zone := timeutil.MustZone("America/New_York")
	mem := store.NewMemory()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	tools := booking.NewTools(fakeCalendar{}, zone, logger)
	engine := slots.NewEngine(zone, slots.DefaultTTL, logger)
	bk := booking.NewOrchestrator(tools, engine, mem, zone, logger, nil)
	turnOrch := turn.NewOrchestrator(mem, &scriptedLLM{content: reply}, bk, zone, "Lumen Aesthetics", logger, nil)

	email := &capturingEmailSender{}
	h := New(Deps{
		Store:  mem,
		Turn:   turnOrch,
		SMS:    nil,
		Email:  email,
		Locks:  locks.NewKeyed(),
		Dedup:  locks.NewDeduper(rdb, time.Hour, logger),
		Zone:   zone,
		Logger: logger,

		SpaName: "Lumen Aesthetics",
	})
	return &testEnv{handlers: h, mem: mem, email: email, redis: mr}
}

func postJSON(t *testing.T, handler http.HandlerFunc, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestSMSWebhookCreatesConversationAndReplies(t *testing.T) {
	env := newTestEnv(t, "Hi! How can I help you today?")

	rec := postJSON(t, env.handlers.SMSWebhook, map[string]string{
		"from": "+1 (212) 555-1234", "to": "+12125550000",
		"body": "hello", "provider_message_id": "pm_1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := map[string]any{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Hi! How can I help you today?", resp["reply"])

	ctx := context.Background()
	customer, err := env.mem.GetCustomerByPhone(ctx, "+12125551234")
	require.NoError(t, err)
	assert.False(t, customer.SynthesizedPhone)

	conv, err := env.mem.FindActiveConversation(ctx, customer.ID, store.ChannelSMS)
	require.NoError(t, err)
	messages, err := env.mem.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, store.DirectionInbound, messages[0].Direction)
	assert.Equal(t, store.DirectionOutbound, messages[1].Direction)
}

func TestSMSWebhookReusesActiveConversation(t *testing.T) {
	env := newTestEnv(t, "Sure thing!")

	first := postJSON(t, env.handlers.SMSWebhook, map[string]string{
		"from": "+12125551234", "body": "hello", "provider_message_id": "pm_1",
	})
	second := postJSON(t, env.handlers.SMSWebhook, map[string]string{
		"from": "+12125551234", "body": "one more thing", "provider_message_id": "pm_2",
	})
	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, http.StatusOK, second.Code)

	var a, b map[string]any
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &a))
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &b))
	assert.Equal(t, a["conversation_id"], b["conversation_id"])
}

func TestSMSWebhookDeduplicatesRetries(t *testing.T) {
	env := newTestEnv(t, "Hello!")

	payload := map[string]string{
		"from": "+12125551234", "body": "hello", "provider_message_id": "pm_dup",
	}
	first := postJSON(t, env.handlers.SMSWebhook, payload)
	retry := postJSON(t, env.handlers.SMSWebhook, payload)

	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, http.StatusOK, retry.Code)
	assert.Contains(t, retry.Body.String(), "duplicate")

	ctx := context.Background()
	customer, _ := env.mem.GetCustomerByPhone(ctx, "+12125551234")
	conv, _ := env.mem.FindActiveConversation(ctx, customer.ID, store.ChannelSMS)
	messages, _ := env.mem.ListMessages(ctx, conv.ID)
	assert.Len(t, messages, 2, "a retried delivery must not produce a second turn")
}

func TestSMSWebhookRejectsBadInput(t *testing.T) {
	env := newTestEnv(t, "Hello!")

	rec := postJSON(t, env.handlers.SMSWebhook, map[string]string{"from": "", "body": "hi"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(t, env.handlers.SMSWebhook, map[string]string{"from": "not-a-number", "body": "hi"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEmailWebhookSynthesizesCustomerAndSends(t *testing.T) {
	env := newTestEnv(t, "Hi Dana,\n\nWe'd love to help.\n\nLumen Aesthetics")

	rec := postJSON(t, env.handlers.EmailWebhook, map[string]string{
		"from": "Dana@Example.com", "from_name": "Dana Reyes",
		"to": "hello@lumenspa.com", "subject": "Botox pricing",
		"body_text": "How much is botox?", "provider_message_id": "em_1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	ctx := context.Background()
	phone := messaging.SynthesizePhoneFromEmail("dana@example.com")
	customer, err := env.mem.GetCustomerByPhone(ctx, phone)
	require.NoError(t, err)
	assert.True(t, customer.SynthesizedPhone)
	assert.Equal(t, "dana@example.com", customer.Email)
	assert.Equal(t, "Dana Reyes", customer.Name)

	require.Len(t, env.email.sent, 1)
	assert.Equal(t, "dana@example.com", env.email.sent[0].To)
	assert.Equal(t, "Re: Botox pricing", env.email.sent[0].Subject)
	assert.Contains(t, env.email.sent[0].BodyText, "Lumen Aesthetics")
}

func TestVoiceSessionBridgesCall(t *testing.T) {
	env := newTestEnv(t, "")
	logger := logging.Default()
	zone := timeutil.MustZone("America/New_York")

	// Fake realtime API that drains events until the socket closes.
	upgrader := websocket.Upgrader{}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(upstream.Close)

	tools := booking.NewTools(fakeCalendar{}, zone, logger)
	engine := slots.NewEngine(zone, slots.DefaultTTL, logger)
	bk := booking.NewOrchestrator(tools, engine, env.mem, zone, logger, nil)
	env.handlers.deps.Bridge = voice.NewBridge(voice.Config{
		RealtimeURL: "ws" + strings.TrimPrefix(upstream.URL, "http"),
		Model:       "test-realtime",
		SpaName:     "Lumen Aesthetics",
		GraceWindow: 100 * time.Millisecond,
	}, env.mem, bk, nil, zone, logger, nil)

	srv := httptest.NewServer(http.HandlerFunc(env.handlers.VoiceSession))
	t.Cleanup(srv.Close)

	caller, _, err := websocket.DefaultDialer.Dial(
		"ws"+strings.TrimPrefix(srv.URL, "http")+"?phone=%2B12125551234", nil)
	require.NoError(t, err)
	t.Cleanup(func() { caller.Close() })

	require.NoError(t, caller.WriteJSON(voice.ClientFrame{Type: voice.FramePing}))
	frame := voice.ServerFrame{}
	require.NoError(t, caller.SetReadDeadline(time.Now().Add(3*time.Second)))
	require.NoError(t, caller.ReadJSON(&frame))
	assert.Equal(t, voice.FramePong, frame.Type)

	require.NoError(t, caller.WriteJSON(voice.ClientFrame{Type: voice.FrameEndSession}))

	assert.Eventually(t, func() bool {
		customer, err := env.mem.GetCustomerByPhone(context.Background(), "+12125551234")
		if err != nil {
			return false
		}
		_, findErr := env.mem.FindActiveConversation(context.Background(), customer.ID, store.ChannelVoice)
		// Finalization completes the conversation, so no active one remains.
		return store.IsNotFound(findErr)
	}, 3*time.Second, 25*time.Millisecond)
}
