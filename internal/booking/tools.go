// Package booking implements the four scheduling tools and the orchestrator
// that binds them to slot-offer enforcement and persistence.
package booking

import (
	"context"
	"errors"
	"fmt"

	"github.com/lumenspa/receptionist/internal/calendar"
	"github.com/lumenspa/receptionist/internal/catalog"
	"github.com/lumenspa/receptionist/internal/timeutil"
	"github.com/lumenspa/receptionist/pkg/logging"
)

// Tool names as declared to the LLM.
const (
	ToolCheckAvailability      = "check_availability"
	ToolBookAppointment        = "book_appointment"
	ToolRescheduleAppointment  = "reschedule_appointment"
	ToolCancelAppointment      = "cancel_appointment"
	defaultSuggestedSlotsLimit = 3
)

// Tools are pure functions over the Calendar Port and the services catalog.
// They hold no conversation state; offer bookkeeping belongs to the
// Orchestrator.
type Tools struct {
	cal    calendar.Port
	zone   *timeutil.Zone
	logger *logging.Logger
}

// NewTools builds the tool set.
func NewTools(cal calendar.Port, zone *timeutil.Zone, logger *logging.Logger) *Tools {
	return &Tools{cal: cal, zone: zone, logger: logger.Component("booking")}
}

// CheckAvailability lists free slots for a date and service in natural
// clock order. Invalid input comes back as a structured error payload so
// the LLM can ask the user to clarify; calendar failures also return the
// underlying error for outcome classification.
func (t *Tools) CheckAvailability(ctx context.Context, args map[string]any) (map[string]any, error) {
	dateStr := stringArg(args, "date")
	serviceType := catalog.Normalize(stringArg(args, "service_type"))
	if serviceType == "" {
		return errorPayload("service_type is required"), nil
	}
	date, err := t.zone.ParseDate(dateStr)
	if err != nil {
		return errorPayload("date must be in YYYY-MM-DD format"), nil
	}

	found, err := t.cal.AvailableSlots(ctx, date, serviceType)
	if err != nil {
		t.logger.Error("availability lookup failed", "date", dateStr, "service_type", serviceType, "error", err)
		return errorPayload("the scheduling calendar is temporarily unavailable"), err
	}

	all := make([]map[string]any, 0, len(found))
	for _, s := range found {
		all = append(all, map[string]any{
			"start":      t.zone.FormatISO(s.Start),
			"start_time": t.zone.FormatClock(s.Start),
			"end":        t.zone.FormatISO(s.End),
			"end_time":   t.zone.FormatClock(s.End),
		})
	}

	limit := intArg(args, "limit")
	if limit <= 0 {
		limit = defaultSuggestedSlotsLimit
	}
	suggested := all
	if len(suggested) > limit {
		suggested = suggested[:limit]
	}

	payload := map[string]any{
		"success":         true,
		"date":            dateStr,
		"service_type":    serviceType,
		"available_slots": all,
		"all_slots":       all,
		"suggested_slots": suggested,
	}
	if len(all) == 0 {
		payload["availability_summary"] = fmt.Sprintf("No openings for %s on %s.", catalog.DisplayName(serviceType), dateStr)
	} else {
		payload["availability_summary"] = fmt.Sprintf("%d openings for %s on %s.", len(all), catalog.DisplayName(serviceType), dateStr)
	}
	return payload, nil
}

// BookAppointment creates the calendar event and returns confirmation
// fields. Duration comes from the services catalog.
func (t *Tools) BookAppointment(ctx context.Context, args map[string]any) (map[string]any, error) {
	name := stringArg(args, "customer_name")
	phone := stringArg(args, "customer_phone")
	startStr := stringArg(args, "start_time")
	serviceType := catalog.Normalize(stringArg(args, "service_type"))
	if name == "" || phone == "" {
		return errorPayload("customer_name and customer_phone are required"), nil
	}
	if serviceType == "" {
		return errorPayload("service_type is required"), nil
	}
	start, err := t.zone.ParseISO(startStr)
	if err != nil {
		return errorPayload("start_time must be an ISO-8601 timestamp"), nil
	}

	duration := catalog.Duration(serviceType)
	end := start.Add(timeutil.Minutes(duration))
	req := calendar.EventRequest{
		Start:         start,
		End:           end,
		CustomerName:  name,
		CustomerPhone: phone,
		CustomerEmail: stringArg(args, "customer_email"),
		Service:       catalog.DisplayName(serviceType),
		Provider:      stringArg(args, "provider"),
		Notes:         stringArg(args, "notes"),
	}

	eventID, err := t.cal.CreateEvent(ctx, req)
	if err != nil {
		t.logger.Error("event creation failed", "service_type", serviceType, "start", startStr, "error", err)
		return errorPayload("we couldn't reach the scheduling calendar; please try again shortly"), err
	}

	payload := map[string]any{
		"success":          true,
		"event_id":         eventID,
		"start_time":       t.zone.FormatISO(start),
		"service":          catalog.DisplayName(serviceType),
		"service_type":     serviceType,
		"duration_minutes": duration,
		"customer_name":    name,
		"confirmation":     fmt.Sprintf("%s booked for %s.", catalog.DisplayName(serviceType), t.zone.FormatLong(start)),
	}
	if req.Provider != "" {
		payload["provider"] = req.Provider
	}
	return payload, nil
}

// RescheduleAppointment moves an existing event.
func (t *Tools) RescheduleAppointment(ctx context.Context, args map[string]any) (map[string]any, error) {
	eventID := stringArg(args, "appointment_id")
	newStartStr := stringArg(args, "new_start_time")
	if eventID == "" {
		return errorPayload("appointment_id is required"), nil
	}
	newStart, err := t.zone.ParseISO(newStartStr)
	if err != nil {
		return errorPayload("new_start_time must be an ISO-8601 timestamp"), nil
	}

	serviceType := catalog.Normalize(stringArg(args, "service_type"))
	duration := catalog.Duration(serviceType)
	if err := t.cal.UpdateEvent(ctx, eventID, newStart, newStart.Add(timeutil.Minutes(duration))); err != nil {
		t.logger.Error("event update failed", "event_id", eventID, "error", err)
		return errorPayload("we couldn't update the appointment; please try again shortly"), err
	}

	return map[string]any{
		"success":        true,
		"event_id":       eventID,
		"new_start_time": t.zone.FormatISO(newStart),
		"service_type":   serviceType,
		"confirmation":   fmt.Sprintf("Appointment moved to %s.", t.zone.FormatLong(newStart)),
	}, nil
}

// CancelAppointment deletes the event.
func (t *Tools) CancelAppointment(ctx context.Context, args map[string]any) (map[string]any, error) {
	eventID := stringArg(args, "appointment_id")
	if eventID == "" {
		return errorPayload("appointment_id is required"), nil
	}
	if err := t.cal.DeleteEvent(ctx, eventID); err != nil {
		t.logger.Error("event deletion failed", "event_id", eventID, "error", err)
		return errorPayload("we couldn't cancel the appointment; please try again shortly"), err
	}
	payload := map[string]any{
		"success":      true,
		"event_id":     eventID,
		"cancelled":    true,
		"confirmation": "Your appointment has been cancelled.",
	}
	if reason := stringArg(args, "cancellation_reason"); reason != "" {
		payload["cancellation_reason"] = reason
	}
	return payload, nil
}

// IsCalendarFailure reports whether a tool error payload stems from the
// calendar of record being unreachable.
func IsCalendarFailure(err error) bool {
	var unavailable *calendar.UnavailableError
	return errors.As(err, &unavailable)
}

func errorPayload(message string) map[string]any {
	return map[string]any{"success": false, "error": message}
}

func stringArg(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func intArg(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}
