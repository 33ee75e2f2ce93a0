// Package timeutil centralizes time parsing and formatting in the spa's
// fixed display timezone, plus stable identifier generation.
package timeutil

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Clock supplies the current time; swapped in tests.
type Clock func() time.Time

// Zone wraps the spa's timezone so all user-facing times share one location.
type Zone struct {
	loc *time.Location
	now Clock
}

// NewZone loads the named IANA timezone. An empty name means local time.
func NewZone(name string) (*Zone, error) {
	if strings.TrimSpace(name) == "" {
		return &Zone{loc: time.Local, now: time.Now}, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("timeutil: load timezone %q: %w", name, err)
	}
	return &Zone{loc: loc, now: time.Now}, nil
}

// MustZone is NewZone for fixed test/config values known to be valid.
func MustZone(name string) *Zone {
	z, err := NewZone(name)
	if err != nil {
		panic(err)
	}
	return z
}

// WithClock returns a copy of the zone using the given clock.
func (z *Zone) WithClock(now Clock) *Zone {
	return &Zone{loc: z.loc, now: now}
}

// Location exposes the underlying *time.Location.
func (z *Zone) Location() *time.Location { return z.loc }

// Now returns the current time in the spa timezone.
func (z *Zone) Now() time.Time { return z.now().In(z.loc) }

// isoLayouts are accepted on input, most specific first. The calendar and
// the LLM both emit RFC3339; humans occasionally hand us the naive forms.
var isoLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ParseISO parses an ISO-8601 timestamp. Values without an offset are
// interpreted in the spa timezone.
func (z *Zone) ParseISO(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("timeutil: empty timestamp")
	}
	for i, layout := range isoLayouts {
		var (
			t   time.Time
			err error
		)
		if i == 0 {
			t, err = time.Parse(layout, value)
		} else {
			t, err = time.ParseInLocation(layout, value, z.loc)
		}
		if err == nil {
			return t.In(z.loc), nil
		}
	}
	return time.Time{}, fmt.Errorf("timeutil: unrecognized timestamp %q", value)
}

// ParseDate parses a YYYY-MM-DD date at midnight in the spa timezone.
func (z *Zone) ParseDate(value string) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(value), z.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("timeutil: invalid date %q (want YYYY-MM-DD)", value)
	}
	return t, nil
}

// FormatISO renders a timestamp as RFC3339 in the spa timezone.
func (z *Zone) FormatISO(t time.Time) string {
	return t.In(z.loc).Format(time.RFC3339)
}

// FormatDate renders a timestamp's date portion.
func (z *Zone) FormatDate(t time.Time) string {
	return t.In(z.loc).Format("2006-01-02")
}

// FormatClock renders a human clock label like "2:00 PM".
func (z *Zone) FormatClock(t time.Time) string {
	return t.In(z.loc).Format("3:04 PM")
}

// FormatLong renders a confirmation-style label like
// "Monday, January 2 at 3:04 PM".
func (z *Zone) FormatLong(t time.Time) string {
	return t.In(z.loc).Format("Monday, January 2 at 3:04 PM")
}

// SameWallTime reports whether two timestamps land on the same naive wall
// time in the spa timezone. The slot engine compares requested times to
// offered times this way because the LLM often drops the offset.
func (z *Zone) SameWallTime(a, b time.Time) bool {
	a = a.In(z.loc)
	b = b.In(z.loc)
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day() &&
		a.Hour() == b.Hour() && a.Minute() == b.Minute()
}

// Minutes converts a minute count to a time.Duration.
func Minutes(n int) time.Duration { return time.Duration(n) * time.Minute }

// NewID generates an opaque 128-bit identifier.
func NewID() uuid.UUID { return uuid.New() }

// NewIDString generates an opaque identifier in string form.
func NewIDString() string { return uuid.NewString() }
