// Package turn runs one inbound message through the receptionist:
// selection capture, preemptive availability, the deterministic booking
// shortcut, and the LLM tool loop. Every turn produces an outbound reply.
package turn

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/lumenspa/receptionist/internal/booking"
	"github.com/lumenspa/receptionist/internal/catalog"
	"github.com/lumenspa/receptionist/internal/llm"
	"github.com/lumenspa/receptionist/internal/observability/metrics"
	"github.com/lumenspa/receptionist/internal/store"
	"github.com/lumenspa/receptionist/internal/timeutil"
	"github.com/lumenspa/receptionist/pkg/logging"
)

var tracer = otel.Tracer("receptionist.internal.turn")

// Synthetic tool-call id for availability checks the turn runs before the
// model asks for them.
const preemptiveCallID = "preemptive_call"

// maxToolDepth caps LLM tool-call rounds per turn.
const maxToolDepth = 3

const apologyReply = "I'm sorry, I'm having trouble responding right now. Please try again in a few minutes, or call the spa directly."

const toolLoopCapReply = "I wasn't able to finish that just now. Could you tell me once more what you'd like to do?"

// Metadata keys for customer identity gathered mid-conversation.
const (
	MetaCustomerName  = "customer_name"
	MetaCustomerPhone = "customer_phone"
	MetaCustomerEmail = "customer_email"
)

// Orchestrator drives one conversation turn end to end.
type Orchestrator struct {
	store   store.Store
	client  llm.Client
	booking *booking.Orchestrator
	zone    *timeutil.Zone
	spaName string
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// NewOrchestrator wires the turn pipeline.
func NewOrchestrator(st store.Store, client llm.Client, bk *booking.Orchestrator, zone *timeutil.Zone, spaName string, logger *logging.Logger, m *metrics.Metrics) *Orchestrator {
	return &Orchestrator{
		store:   st,
		client:  client,
		booking: bk,
		zone:    zone,
		spaName: spaName,
		logger:  logger.Component("turn"),
		metrics: m,
	}
}

// Run processes one inbound message that has already been appended to the
// conversation and returns the outbound reply. The reply is persisted and
// the conversation's last activity bumped before returning. A reply always
// comes back even when the model fails.
func (t *Orchestrator) Run(ctx context.Context, conv *store.Conversation, inbound *store.Message) (string, error) {
	ctx, span := tracer.Start(ctx, "turn.Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("conversation.id", conv.ID.String()),
		attribute.String("conversation.channel", conv.Channel),
	)

	start := t.zone.Now()
	if conv.Metadata == nil {
		conv.Metadata = map[string]any{}
	}

	engine := t.booking.Engine()
	if engine.CaptureSelection(conv.Metadata, inbound.ID.String(), inbound.Content) {
		t.persistMetadata(ctx, conv)
	}

	history, err := t.store.ListMessages(ctx, conv.ID)
	if err != nil {
		return "", fmt.Errorf("turn: load messages: %w", err)
	}

	synthetic := t.preemptiveAvailability(ctx, conv, inbound)

	if reply, booked := t.deterministicBooking(ctx, conv); booked {
		if err := t.finishTurn(ctx, conv, reply); err != nil {
			return "", err
		}
		t.metrics.ObserveTurn(conv.Channel, "booked_shortcut", t.zone.Now().Sub(start).Seconds())
		return reply, nil
	}

	reply, result := t.converse(ctx, conv, history, synthetic)
	if err := t.finishTurn(ctx, conv, reply); err != nil {
		return "", err
	}
	t.metrics.ObserveTurn(conv.Channel, result, t.zone.Now().Sub(start).Seconds())
	return reply, nil
}

// preemptiveAvailability runs check_availability before the model asks when
// the inbound text carries booking intent plus a resolvable service and
// date. The synthetic tool exchange is returned for the model's context.
func (t *Orchestrator) preemptiveAvailability(ctx context.Context, conv *store.Conversation, inbound *store.Message) []llm.Message {
	if !DetectBookingIntent(inbound.Content) {
		return nil
	}
	// Fresh offers are already on the table; the model works from those.
	if _, ok := t.booking.Engine().PendingOffer(conv.Metadata); ok {
		return nil
	}

	service := ExtractService(inbound.Content)
	if service == "" {
		service, _ = conv.Metadata[booking.MetaPendingBookingService].(string)
	}
	date := ExtractDate(inbound.Content, t.zone)

	conv.Metadata[booking.MetaPendingBookingIntent] = true
	if service != "" {
		conv.Metadata[booking.MetaPendingBookingService] = service
	}
	t.persistMetadata(ctx, conv)

	if service == "" || date == "" {
		return nil
	}

	args := map[string]any{"date": date, "service_type": service}
	payload := t.booking.CheckAvailability(ctx, conv, preemptiveCallID, args)
	t.logger.Info("preemptive availability check",
		"conversation_id", conv.ID, "service_type", service, "date", date,
		"success", payload["success"])

	argsJSON, _ := json.Marshal(args)
	payloadJSON, _ := json.Marshal(payload)
	return []llm.Message{
		{
			Role: llm.RoleAssistant,
			ToolCalls: []llm.ToolCall{{
				ID:        preemptiveCallID,
				Name:      booking.ToolCheckAvailability,
				Arguments: string(argsJSON),
			}},
		},
		{
			Role:       llm.RoleTool,
			ToolCallID: preemptiveCallID,
			Name:       booking.ToolCheckAvailability,
			Content:    string(payloadJSON),
		},
	}
}

// deterministicBooking books without the model when the customer has both
// selected a slot and identified themselves. Returns a templated
// confirmation when the booking lands; any failure falls through to the
// model.
func (t *Orchestrator) deterministicBooking(ctx context.Context, conv *store.Conversation) (string, bool) {
	offer, ok := t.booking.Engine().PendingOffer(conv.Metadata)
	if !ok || offer.SelectedSlot == nil {
		return "", false
	}
	name, phone, email := t.customerIdentity(ctx, conv)
	if name == "" || phone == "" {
		return "", false
	}

	args := map[string]any{
		"customer_name":  name,
		"customer_phone": phone,
		"start_time":     offer.SelectedSlot.Start,
		"service_type":   offer.ServiceType,
	}
	if email != "" {
		args["customer_email"] = email
	}
	payload, outcome := t.booking.BookAppointment(ctx, conv, args)
	if outcome != booking.OutcomeBooked {
		t.logger.Warn("deterministic booking fell through to model",
			"conversation_id", conv.ID, "outcome", int(outcome), "error", payload["error"])
		return "", false
	}

	when, _ := payload["start_time"].(string)
	label := when
	if parsed, err := t.zone.ParseISO(when); err == nil {
		label = t.zone.FormatLong(parsed)
	}
	service := catalog.DisplayName(offer.ServiceType)
	reply := fmt.Sprintf("You're all set, %s! Your %s appointment is booked for %s. Reply here if you need to make any changes.", name, service, label)
	t.logger.Info("deterministic booking confirmed", "conversation_id", conv.ID, "event_id", payload["event_id"])
	return reply, true
}

// customerIdentity resolves name, phone, and email from conversation
// metadata first, then the linked customer row.
func (t *Orchestrator) customerIdentity(ctx context.Context, conv *store.Conversation) (name, phone, email string) {
	name, _ = conv.Metadata[MetaCustomerName].(string)
	phone, _ = conv.Metadata[MetaCustomerPhone].(string)
	email, _ = conv.Metadata[MetaCustomerEmail].(string)
	if (name != "" && phone != "") || conv.CustomerID == nil {
		return name, phone, email
	}

	customer, err := t.store.GetCustomerByID(ctx, *conv.CustomerID)
	if err != nil {
		return name, phone, email
	}
	if name == "" {
		name = customer.Name
	}
	// Synthesized placeholders never stand in for a real phone number.
	if phone == "" && !customer.SynthesizedPhone {
		phone = customer.Phone
	}
	if email == "" {
		email = customer.Email
	}
	return name, phone, email
}

// converse runs the single LLM call and its tool loop. It never returns an
// empty reply.
func (t *Orchestrator) converse(ctx context.Context, conv *store.Conversation, history []*store.Message, synthetic []llm.Message) (string, string) {
	messages := make([]llm.Message, 0, len(history)+len(synthetic)+2*maxToolDepth)
	for _, m := range history {
		role := llm.RoleUser
		if m.Direction == store.DirectionOutbound {
			role = llm.RoleAssistant
		}
		messages = append(messages, llm.Message{Role: role, Content: m.Content})
	}
	messages = append(messages, synthetic...)

	req := llm.Request{
		System:    SystemPrompt(conv.Channel, t.spaName, t.zone),
		Tools:     booking.Declarations(),
		MaxTokens: MaxTokensFor(conv.Channel),
	}

	for depth := 0; ; depth++ {
		req.Messages = messages
		resp, err := t.client.Complete(ctx, req)
		if err != nil {
			t.logger.Error("completion failed", "conversation_id", conv.ID, "error", err)
			return apologyReply, "llm_failed"
		}
		if len(resp.ToolCalls) == 0 {
			if resp.Content == "" {
				return apologyReply, "empty_reply"
			}
			return resp.Content, "replied"
		}
		if depth >= maxToolDepth {
			t.logger.Warn("tool loop depth exhausted", "conversation_id", conv.ID)
			return toolLoopCapReply, "tool_cap"
		}

		messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls})
		for _, call := range resp.ToolCalls {
			result := t.booking.ExecuteToolCall(ctx, conv, call)
			encoded, _ := json.Marshal(result)
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				ToolCallID: call.ID,
				Name:       call.Name,
				Content:    string(encoded),
			})
		}
	}
}

// finishTurn persists the outbound reply and bumps conversation activity.
func (t *Orchestrator) finishTurn(ctx context.Context, conv *store.Conversation, reply string) error {
	now := t.zone.Now()
	outbound := &store.Message{
		ConversationID: conv.ID,
		Direction:      store.DirectionOutbound,
		Content:        reply,
		SentAt:         now,
	}
	if err := t.store.AppendMessage(ctx, outbound); err != nil {
		return fmt.Errorf("turn: persist reply: %w", err)
	}
	if err := t.store.TouchConversation(ctx, conv.ID, now); err != nil {
		t.logger.Warn("activity bump failed", "conversation_id", conv.ID, "error", err)
	}
	return nil
}

func (t *Orchestrator) persistMetadata(ctx context.Context, conv *store.Conversation) {
	if err := t.store.UpdateConversationMetadata(ctx, conv.ID, conv.Metadata); err != nil {
		t.logger.Error("metadata persist failed", "conversation_id", conv.ID, "error", err)
	}
}
