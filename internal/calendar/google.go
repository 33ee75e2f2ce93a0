package calendar

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/lumenspa/receptionist/internal/catalog"
	"github.com/lumenspa/receptionist/pkg/logging"
)

var tracer = otel.Tracer("receptionist.internal.calendar")

// GoogleCalendar implements Port on top of the Google Calendar API.
type GoogleCalendar struct {
	svc        *gcal.Service
	calendarID string
	hours      Hours
	logger     *logging.Logger
}

// GoogleOption customizes a GoogleCalendar.
type GoogleOption func(*GoogleCalendar)

// WithHours overrides the default business hours.
func WithHours(h Hours) GoogleOption {
	return func(g *GoogleCalendar) { g.hours = h }
}

// WithLogger attaches a logger.
func WithLogger(l *logging.Logger) GoogleOption {
	return func(g *GoogleCalendar) { g.logger = l }
}

// NewGoogleCalendar builds the client from a service-account credentials
// file or inline JSON. Exactly one of credsFile/credsJSON should be set;
// if both are empty the ambient default credentials are used.
func NewGoogleCalendar(ctx context.Context, calendarID, credsFile, credsJSON string, opts ...GoogleOption) (*GoogleCalendar, error) {
	var clientOpts []option.ClientOption
	switch {
	case credsJSON != "":
		clientOpts = append(clientOpts, option.WithCredentialsJSON([]byte(credsJSON)))
	case credsFile != "":
		clientOpts = append(clientOpts, option.WithCredentialsFile(credsFile))
	}
	svc, err := gcal.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("calendar: create google client: %w", err)
	}
	if calendarID == "" {
		calendarID = "primary"
	}
	g := &GoogleCalendar{
		svc:        svc,
		calendarID: calendarID,
		hours:      DefaultHours(),
		logger:     logging.Default().Component("calendar"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// AvailableSlots lists the day's events and scans business hours for free
// windows sized to the service's duration.
func (g *GoogleCalendar) AvailableSlots(ctx context.Context, date time.Time, serviceType string) ([]Slot, error) {
	ctx, span := tracer.Start(ctx, "AvailableSlots")
	defer span.End()
	span.SetAttributes(
		attribute.String("calendar.date", date.Format("2006-01-02")),
		attribute.String("calendar.service_type", serviceType),
	)

	loc := date.Location()
	y, mo, d := date.Date()
	dayStart := time.Date(y, mo, d, 0, 0, 0, 0, loc)
	dayEnd := dayStart.Add(24 * time.Hour)

	events, err := g.svc.Events.List(g.calendarID).
		TimeMin(dayStart.Format(time.RFC3339)).
		TimeMax(dayEnd.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx).Do()
	if err != nil {
		return nil, &UnavailableError{Op: "list events", Err: err}
	}

	busy := make([]interval, 0, len(events.Items))
	for _, item := range events.Items {
		if item.Status == "cancelled" {
			continue
		}
		start, end, ok := eventWindow(item, loc)
		if !ok {
			continue
		}
		busy = append(busy, interval{start: start, end: end})
	}

	slots := scanFreeSlots(dayStart, g.hours, catalog.Duration(serviceType), busy)
	g.logger.Debug("scanned availability",
		"date", dayStart.Format("2006-01-02"),
		"service_type", serviceType,
		"busy_intervals", len(busy),
		"free_slots", len(slots))
	return slots, nil
}

// CreateEvent inserts the event. When the provider responds without an id,
// it searches ±1 minute around the requested start for an event with the
// identical summary before giving up.
func (g *GoogleCalendar) CreateEvent(ctx context.Context, req EventRequest) (string, error) {
	ctx, span := tracer.Start(ctx, "CreateEvent")
	defer span.End()
	span.SetAttributes(attribute.String("calendar.service", req.Service))

	description := fmt.Sprintf("Customer: %s\nPhone: %s", req.CustomerName, req.CustomerPhone)
	if req.CustomerEmail != "" {
		description += "\nEmail: " + req.CustomerEmail
	}
	if req.Notes != "" {
		description += "\nNotes: " + req.Notes
	}

	event := &gcal.Event{
		Summary:     req.Summary(),
		Description: description,
		Start:       &gcal.EventDateTime{DateTime: req.Start.Format(time.RFC3339)},
		End:         &gcal.EventDateTime{DateTime: req.End.Format(time.RFC3339)},
	}

	created, err := g.svc.Events.Insert(g.calendarID, event).Context(ctx).Do()
	if err != nil {
		return "", &UnavailableError{Op: "create event", Err: err}
	}
	if created != nil && created.Id != "" {
		return created.Id, nil
	}

	// Some deployments have seen the insert succeed while the response body
	// is lost in transit. Recover the id by summary match near the window.
	g.logger.Warn("create returned no event id, attempting summary recovery",
		"summary", req.Summary())
	id, err := g.findBySummary(ctx, req.Summary(), req.Start)
	if err != nil {
		return "", &UnavailableError{Op: "recover created event", Err: err}
	}
	if id == "" {
		return "", &UnavailableError{Op: "create event", Err: fmt.Errorf("no event id returned")}
	}
	return id, nil
}

func (g *GoogleCalendar) findBySummary(ctx context.Context, summary string, start time.Time) (string, error) {
	events, err := g.svc.Events.List(g.calendarID).
		TimeMin(start.Add(-time.Minute).Format(time.RFC3339)).
		TimeMax(start.Add(time.Minute).Format(time.RFC3339)).
		SingleEvents(true).
		Context(ctx).Do()
	if err != nil {
		return "", err
	}
	for _, item := range events.Items {
		if item.Summary == summary {
			return item.Id, nil
		}
	}
	return "", nil
}

// UpdateEvent patches the event's window.
func (g *GoogleCalendar) UpdateEvent(ctx context.Context, eventID string, newStart, newEnd time.Time) error {
	ctx, span := tracer.Start(ctx, "UpdateEvent")
	defer span.End()
	span.SetAttributes(attribute.String("calendar.event_id", eventID))

	patch := &gcal.Event{
		Start: &gcal.EventDateTime{DateTime: newStart.Format(time.RFC3339)},
		End:   &gcal.EventDateTime{DateTime: newEnd.Format(time.RFC3339)},
	}
	if _, err := g.svc.Events.Patch(g.calendarID, eventID, patch).Context(ctx).Do(); err != nil {
		return &UnavailableError{Op: "update event", Err: err}
	}
	return nil
}

// DeleteEvent removes the event from the calendar.
func (g *GoogleCalendar) DeleteEvent(ctx context.Context, eventID string) error {
	ctx, span := tracer.Start(ctx, "DeleteEvent")
	defer span.End()
	span.SetAttributes(attribute.String("calendar.event_id", eventID))

	if err := g.svc.Events.Delete(g.calendarID, eventID).Context(ctx).Do(); err != nil {
		return &UnavailableError{Op: "delete event", Err: err}
	}
	return nil
}

// GetEvent fetches a single event.
func (g *GoogleCalendar) GetEvent(ctx context.Context, eventID string) (*Event, error) {
	ctx, span := tracer.Start(ctx, "GetEvent")
	defer span.End()

	item, err := g.svc.Events.Get(g.calendarID, eventID).Context(ctx).Do()
	if err != nil {
		return nil, &UnavailableError{Op: "get event", Err: err}
	}
	start, end, _ := eventWindow(item, time.Local)
	return &Event{
		ID:      item.Id,
		Summary: item.Summary,
		Start:   start,
		End:     end,
		Status:  item.Status,
	}, nil
}

func eventWindow(item *gcal.Event, loc *time.Location) (time.Time, time.Time, bool) {
	if item.Start == nil || item.End == nil {
		return time.Time{}, time.Time{}, false
	}
	start, err := parseEventTime(item.Start, loc)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	end, err := parseEventTime(item.End, loc)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

func parseEventTime(edt *gcal.EventDateTime, loc *time.Location) (time.Time, error) {
	if edt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, edt.DateTime)
		if err != nil {
			return time.Time{}, err
		}
		return t.In(loc), nil
	}
	// All-day events carry only a date; they block the whole day.
	return time.ParseInLocation("2006-01-02", edt.Date, loc)
}
