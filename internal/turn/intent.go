package turn

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/lumenspa/receptionist/internal/catalog"
	"github.com/lumenspa/receptionist/internal/timeutil"
)

// bookingVerbs are the lexical triggers for booking intent.
var bookingVerbs = []string{
	"book", "schedule", "appointment", "availability",
	"opening", "slot", "reschedule",
}

// DetectBookingIntent reports whether inbound text crosses the
// booking-intent threshold.
func DetectBookingIntent(text string) bool {
	lower := strings.ToLower(text)
	for _, verb := range bookingVerbs {
		if strings.Contains(lower, verb) {
			return true
		}
	}
	return false
}

// ExtractService finds the first catalog service mentioned in the text,
// matching display names and key forms. Returns "" when none is named.
func ExtractService(text string) string {
	lower := strings.ToLower(text)
	for _, svc := range catalog.All() {
		display := strings.ToLower(svc.DisplayName)
		spaced := strings.ReplaceAll(svc.Key, "_", " ")
		if strings.Contains(lower, display) || strings.Contains(lower, spaced) || strings.Contains(lower, svc.Key) {
			return svc.Key
		}
	}
	return ""
}

var (
	isoDatePattern  = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`)
	monthDayPattern = regexp.MustCompile(`\b(january|february|march|april|may|june|july|august|september|october|november|december)\s+(\d{1,2})\b`)
	weekdays        = map[string]time.Weekday{
		"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
		"wednesday": time.Wednesday, "thursday": time.Thursday,
		"friday": time.Friday, "saturday": time.Saturday,
	}
	months = map[string]time.Month{
		"january": time.January, "february": time.February, "march": time.March,
		"april": time.April, "may": time.May, "june": time.June, "july": time.July,
		"august": time.August, "september": time.September, "october": time.October,
		"november": time.November, "december": time.December,
	}
)

// ExtractDate resolves a date phrase to YYYY-MM-DD relative to now in the
// spa timezone. Supported forms: ISO dates, "today", "tomorrow", weekday
// names (next occurrence), and "month day". Returns "" when nothing
// parses.
func ExtractDate(text string, zone *timeutil.Zone) string {
	lower := strings.ToLower(text)
	now := zone.Now()

	if m := isoDatePattern.FindString(lower); m != "" {
		if _, err := zone.ParseDate(m); err == nil {
			return m
		}
	}
	if strings.Contains(lower, "tomorrow") {
		return zone.FormatDate(now.AddDate(0, 0, 1))
	}
	if strings.Contains(lower, "today") || strings.Contains(lower, "tonight") {
		return zone.FormatDate(now)
	}
	for name, wd := range weekdays {
		if !strings.Contains(lower, name) {
			continue
		}
		days := (int(wd) - int(now.Weekday()) + 7) % 7
		if days == 0 {
			days = 7 // "Tuesday" on a Tuesday means next week
		}
		return zone.FormatDate(now.AddDate(0, 0, days))
	}
	if m := monthDayPattern.FindStringSubmatch(lower); m != nil {
		month := months[m[1]]
		var day int
		fmt.Sscanf(m[2], "%d", &day)
		candidate := time.Date(now.Year(), month, day, 0, 0, 0, 0, zone.Location())
		if candidate.Before(now.AddDate(0, 0, -1)) {
			candidate = candidate.AddDate(1, 0, 0)
		}
		if candidate.Day() == day {
			return zone.FormatDate(candidate)
		}
	}
	return ""
}
