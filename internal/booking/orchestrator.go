package booking

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/lumenspa/receptionist/internal/llm"
	"github.com/lumenspa/receptionist/internal/observability/metrics"
	"github.com/lumenspa/receptionist/internal/slots"
	"github.com/lumenspa/receptionist/internal/store"
	"github.com/lumenspa/receptionist/internal/timeutil"
	"github.com/lumenspa/receptionist/pkg/logging"
)

// Outcome classifies a booking attempt.
type Outcome int

const (
	OutcomeBooked Outcome = iota
	OutcomeMismatch
	OutcomeCalendarFailed
	OutcomeInvalidInput
)

// Metadata keys the orchestrator owns besides the slot-offer block.
const (
	MetaLastAppointment       = "last_appointment"
	MetaPendingBookingIntent  = "pending_booking_intent"
	MetaPendingBookingService = "pending_booking_service"
)

// Orchestrator is the typed facade over the four tools. It threads every
// availability result through the slot engine and every booking through
// selection enforcement, and keeps conversation metadata persisted.
type Orchestrator struct {
	tools   *Tools
	engine  *slots.Engine
	store   store.Store
	zone    *timeutil.Zone
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// NewOrchestrator wires the facade.
func NewOrchestrator(tools *Tools, engine *slots.Engine, st store.Store, zone *timeutil.Zone, logger *logging.Logger, m *metrics.Metrics) *Orchestrator {
	return &Orchestrator{
		tools:   tools,
		engine:  engine,
		store:   st,
		zone:    zone,
		logger:  logger.Component("booking_orchestrator"),
		metrics: m,
	}
}

// Engine exposes the slot engine for turn-level selection capture.
func (o *Orchestrator) Engine() *slots.Engine { return o.engine }

// CheckAvailability runs the availability tool and records or clears slot
// offers in the conversation's metadata.
func (o *Orchestrator) CheckAvailability(ctx context.Context, conv *store.Conversation, toolCallID string, args map[string]any) map[string]any {
	payload, calErr := o.tools.CheckAvailability(ctx, args)
	if calErr != nil {
		o.metrics.ObserveCalendarError("availability")
	}
	if success(payload) {
		o.engine.RecordOffers(conv.Metadata, toolCallID, args, payload)
	} else {
		o.engine.ClearOffers(conv.Metadata)
	}
	o.persistMetadata(ctx, conv)
	return payload
}

// BookAppointment enforces slot selection, books, records the appointment
// row, and updates metadata. On mismatch the returned payload carries
// code "slot_selection_mismatch" and the numbered options so the LLM
// re-offers instead of retrying.
func (o *Orchestrator) BookAppointment(ctx context.Context, conv *store.Conversation, args map[string]any) (map[string]any, Outcome) {
	adjustments, err := o.engine.EnforceBooking(conv.Metadata, args)
	// Enforcement may have deleted an expired offer or adopted a slot;
	// persist either way.
	o.persistMetadata(ctx, conv)
	if err != nil {
		var mismatch *slots.SelectionMismatchError
		if errors.As(err, &mismatch) {
			o.metrics.ObserveSlotMismatch()
			o.metrics.ObserveBooking("mismatch")
			o.logger.Warn("booking rejected by slot enforcement", "conversation_id", conv.ID, "reason", mismatch.Reason)
			return map[string]any{
				"success":              false,
				"error":                mismatch.Reason,
				"code":                 "slot_selection_mismatch",
				"pending_slot_options": mismatch.OfferedOptions,
			}, OutcomeMismatch
		}
		return map[string]any{"success": false, "error": err.Error()}, OutcomeInvalidInput
	}

	payload, calErr := o.tools.BookAppointment(ctx, args)
	if calErr != nil {
		o.metrics.ObserveCalendarError("create")
		o.metrics.ObserveBooking("calendar_failed")
		return payload, OutcomeCalendarFailed
	}
	if !success(payload) {
		o.metrics.ObserveBooking("invalid_input")
		return payload, OutcomeInvalidInput
	}

	o.recordAppointment(ctx, conv, payload, args)
	o.engine.ClearOffers(conv.Metadata)
	delete(conv.Metadata, MetaPendingBookingIntent)
	delete(conv.Metadata, MetaPendingBookingService)
	o.persistMetadata(ctx, conv)

	if len(adjustments) > 0 {
		payload["adjustments"] = adjustments
	}
	o.metrics.ObserveBooking("booked")
	return payload, OutcomeBooked
}

// recordAppointment writes the appointment row and the last_appointment
// anchor used by reschedule/cancel without an explicit id.
func (o *Orchestrator) recordAppointment(ctx context.Context, conv *store.Conversation, payload, args map[string]any) {
	eventID := stringArg(payload, "event_id")
	startStr := stringArg(payload, "start_time")
	start, err := o.zone.ParseISO(startStr)
	if err != nil {
		start = o.zone.Now()
	}

	appt := &store.Appointment{
		CustomerID:          conv.CustomerID,
		CalendarEventID:     eventID,
		AppointmentDatetime: start,
		ServiceType:         stringArg(payload, "service_type"),
		DurationMinutes:     intArg(payload, "duration_minutes"),
		Status:              store.ApptScheduled,
		BookedBy:            "ai",
	}
	if provider := stringArg(payload, "provider"); provider != "" {
		appt.Provider = &provider
	}
	if notes := stringArg(args, "notes"); notes != "" {
		appt.SpecialRequests = &notes
	}
	if err := o.store.CreateAppointment(ctx, appt); err != nil {
		// A duplicate calendar_event_id means the booking already landed;
		// the calendar stays the source of truth.
		o.logger.Warn("appointment row not created", "event_id", eventID, "error", err)
	}

	last := map[string]any{
		"calendar_event_id": eventID,
		"service_type":      stringArg(payload, "service_type"),
		"start_time":        startStr,
		"status":            store.ApptScheduled,
	}
	if provider := stringArg(payload, "provider"); provider != "" {
		last["provider"] = provider
	}
	conv.Metadata[MetaLastAppointment] = last
}

// RescheduleAppointment moves an appointment, resolving a missing id from
// the conversation's last_appointment anchor.
func (o *Orchestrator) RescheduleAppointment(ctx context.Context, conv *store.Conversation, args map[string]any) map[string]any {
	o.resolveAppointmentID(conv, args)
	payload, calErr := o.tools.RescheduleAppointment(ctx, args)
	if calErr != nil {
		o.metrics.ObserveCalendarError("update")
		return payload
	}
	if !success(payload) {
		return payload
	}

	eventID := stringArg(payload, "event_id")
	newStartStr := stringArg(payload, "new_start_time")
	if newStart, err := o.zone.ParseISO(newStartStr); err == nil {
		if err := o.store.RescheduleAppointment(ctx, eventID, newStart); err != nil && !store.IsNotFound(err) {
			o.logger.Warn("appointment row not rescheduled", "event_id", eventID, "error", err)
		}
	}
	if last, ok := conv.Metadata[MetaLastAppointment].(map[string]any); ok {
		last["start_time"] = newStartStr
		last["status"] = store.ApptRescheduled
		conv.Metadata[MetaLastAppointment] = last
	}
	o.persistMetadata(ctx, conv)
	return payload
}

// CancelAppointment cancels an appointment with the same id resolution.
func (o *Orchestrator) CancelAppointment(ctx context.Context, conv *store.Conversation, args map[string]any) map[string]any {
	o.resolveAppointmentID(conv, args)
	payload, calErr := o.tools.CancelAppointment(ctx, args)
	if calErr != nil {
		o.metrics.ObserveCalendarError("delete")
		return payload
	}
	if !success(payload) {
		return payload
	}

	eventID := stringArg(payload, "event_id")
	reason := stringArg(args, "cancellation_reason")
	if err := o.store.CancelAppointment(ctx, eventID, reason, time.Now()); err != nil && !store.IsNotFound(err) {
		o.logger.Warn("appointment row not cancelled", "event_id", eventID, "error", err)
	}
	if last, ok := conv.Metadata[MetaLastAppointment].(map[string]any); ok {
		last["status"] = store.ApptCancelled
		if reason != "" {
			last["cancellation_reason"] = reason
		}
		conv.Metadata[MetaLastAppointment] = last
	}
	o.persistMetadata(ctx, conv)
	return payload
}

func (o *Orchestrator) resolveAppointmentID(conv *store.Conversation, args map[string]any) {
	if stringArg(args, "appointment_id") != "" {
		return
	}
	if last, ok := conv.Metadata[MetaLastAppointment].(map[string]any); ok {
		if id := stringArg(last, "calendar_event_id"); id != "" {
			args["appointment_id"] = id
		}
	}
}

// ExecuteToolCall dispatches one LLM tool call. Unknown names and broken
// argument JSON come back as structured tool errors.
func (o *Orchestrator) ExecuteToolCall(ctx context.Context, conv *store.Conversation, call llm.ToolCall) map[string]any {
	args := map[string]any{}
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return map[string]any{"success": false, "error": "tool arguments were not valid JSON"}
		}
	}
	switch call.Name {
	case ToolCheckAvailability:
		return o.CheckAvailability(ctx, conv, call.ID, args)
	case ToolBookAppointment:
		payload, _ := o.BookAppointment(ctx, conv, args)
		return payload
	case ToolRescheduleAppointment:
		return o.RescheduleAppointment(ctx, conv, args)
	case ToolCancelAppointment:
		return o.CancelAppointment(ctx, conv, args)
	default:
		return map[string]any{"success": false, "error": "unknown tool: " + call.Name}
	}
}

func (o *Orchestrator) persistMetadata(ctx context.Context, conv *store.Conversation) {
	if err := o.store.UpdateConversationMetadata(ctx, conv.ID, conv.Metadata); err != nil {
		o.logger.Error("metadata persist failed", "conversation_id", conv.ID, "error", err)
	}
}

func success(payload map[string]any) bool {
	ok, _ := payload["success"].(bool)
	return ok
}
