// Package calendar defines the port to the calendar of record and the
// Google Calendar implementation behind it.
package calendar

import (
	"context"
	"fmt"
	"time"
)

// Slot is one bookable window within business hours.
type Slot struct {
	Start time.Time
	End   time.Time
}

// EventRequest carries everything needed to create a calendar event.
type EventRequest struct {
	Start         time.Time
	End           time.Time
	CustomerName  string
	CustomerPhone string
	CustomerEmail string
	Service       string
	Provider      string
	Notes         string
}

// Summary is the event title written to the calendar. The create fallback
// matches on this exact string, so both sides must use it.
func (r EventRequest) Summary() string {
	if r.Provider != "" {
		return fmt.Sprintf("%s - %s (%s)", r.Service, r.CustomerName, r.Provider)
	}
	return fmt.Sprintf("%s - %s", r.Service, r.CustomerName)
}

// Event is the detail shape returned by lookups.
type Event struct {
	ID      string
	Summary string
	Start   time.Time
	End     time.Time
	Status  string
}

// Port is the calendar-of-record contract the booking tools depend on.
type Port interface {
	// AvailableSlots scans business hours on the given date and returns
	// the free windows for the service's duration.
	AvailableSlots(ctx context.Context, date time.Time, serviceType string) ([]Slot, error)
	// CreateEvent books the event and returns its calendar id.
	CreateEvent(ctx context.Context, req EventRequest) (string, error)
	// UpdateEvent moves an existing event to a new window.
	UpdateEvent(ctx context.Context, eventID string, newStart, newEnd time.Time) error
	// DeleteEvent removes an event.
	DeleteEvent(ctx context.Context, eventID string) error
	// GetEvent fetches event details.
	GetEvent(ctx context.Context, eventID string) (*Event, error)
}

// UnavailableError marks transient provider failures. Callers surface a
// polite message and do not retry within the turn.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("calendar unavailable during %s: %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Hours is the scannable business day.
type Hours struct {
	OpenHour    int
	OpenMinute  int
	CloseHour   int
	CloseMinute int
	StepMinutes int
}

// DefaultHours matches the spa's front desk schedule.
func DefaultHours() Hours {
	return Hours{OpenHour: 9, CloseHour: 19, StepMinutes: 30}
}

// ParseHours builds Hours from "HH:MM" open/close strings, falling back to
// defaults on malformed input.
func ParseHours(open, close string, stepMinutes int) Hours {
	h := DefaultHours()
	if stepMinutes > 0 {
		h.StepMinutes = stepMinutes
	}
	if oh, om, ok := parseClock(open); ok {
		h.OpenHour, h.OpenMinute = oh, om
	}
	if ch, cm, ok := parseClock(close); ok {
		h.CloseHour, h.CloseMinute = ch, cm
	}
	return h
}

func parseClock(s string) (hour, minute int, ok bool) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, 0, false
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, 0, false
	}
	return h, m, true
}

// interval is a busy window pulled from existing events.
type interval struct {
	start time.Time
	end   time.Time
}

// scanFreeSlots walks the business day in fixed steps, emitting a slot for
// every window of the requested duration that overlaps no busy interval.
// On collision the cursor jumps to the end of the blocking interval instead
// of stepping, so long events are skipped in one move.
func scanFreeSlots(date time.Time, hours Hours, durationMinutes int, busy []interval) []Slot {
	loc := date.Location()
	y, mo, d := date.Date()
	open := time.Date(y, mo, d, hours.OpenHour, hours.OpenMinute, 0, 0, loc)
	close := time.Date(y, mo, d, hours.CloseHour, hours.CloseMinute, 0, 0, loc)
	step := time.Duration(hours.StepMinutes) * time.Minute
	dur := time.Duration(durationMinutes) * time.Minute

	var slots []Slot
	for cursor := open; !cursor.Add(dur).After(close); {
		end := cursor.Add(dur)
		blocker, collides := firstOverlap(cursor, end, busy)
		if !collides {
			slots = append(slots, Slot{Start: cursor, End: end})
			cursor = cursor.Add(step)
			continue
		}
		if blocker.end.After(cursor) {
			cursor = blocker.end
		} else {
			cursor = cursor.Add(step)
		}
	}
	return slots
}

func firstOverlap(start, end time.Time, busy []interval) (interval, bool) {
	for _, b := range busy {
		if start.Before(b.end) && b.start.Before(end) {
			return b, true
		}
	}
	return interval{}, false
}
