// Package slots implements the slot-offer ledger that mediates every
// booking: recording offered times in conversation metadata, capturing the
// customer's pick from free text, and enforcing that bookings only land on
// an offered slot.
package slots

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/lumenspa/receptionist/internal/timeutil"
	"github.com/lumenspa/receptionist/pkg/logging"
)

// MetadataKey is where the pending offer lives in conversation metadata.
const MetadataKey = "pending_slot_offers"

// DefaultTTL is how long an offer stays bookable.
const DefaultTTL = 4 * time.Hour

// Slot is one offered time, numbered from 1 in presentation order.
type Slot struct {
	Index     int    `json:"index"`
	Start     string `json:"start"`      // canonical ISO-8601
	StartTime string `json:"start_time"` // human label, e.g. "2:00 PM"
	End       string `json:"end"`
	EndTime   string `json:"end_time"`
}

// Offer is the pending_slot_offers payload.
type Offer struct {
	SourceToolCallID       string `json:"source_tool_call_id,omitempty"`
	ServiceType            string `json:"service_type"`
	Date                   string `json:"date"`
	OfferedAt              string `json:"offered_at"`
	ExpiresAt              string `json:"expires_at"`
	Slots                  []Slot `json:"slots"`
	SelectedOptionIndex    *int   `json:"selected_option_index,omitempty"`
	SelectedSlot           *Slot  `json:"selected_slot,omitempty"`
	SelectedByMessageID    string `json:"selected_by_message_id,omitempty"`
	SelectedContentPreview string `json:"selected_content_preview,omitempty"`
	SelectedAt             string `json:"selected_at,omitempty"`
}

// SelectionMismatchError is the expected failure when a booking does not
// line up with the offered slots. It is returned as a structured tool
// result, never surfaced as a crash.
type SelectionMismatchError struct {
	Reason         string
	OfferedOptions []string
}

func (e *SelectionMismatchError) Error() string {
	return "slot selection mismatch: " + e.Reason
}

// Engine mutates offer state inside conversation metadata maps. It holds
// no storage; the caller owns persistence and serialization.
type Engine struct {
	zone   *timeutil.Zone
	ttl    time.Duration
	logger *logging.Logger
}

// NewEngine builds an engine for the spa timezone.
func NewEngine(zone *timeutil.Zone, ttl time.Duration, logger *logging.Logger) *Engine {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Engine{zone: zone, ttl: ttl, logger: logger.Component("slots")}
}

// RecordOffers replaces pending offers with the slot list from availability
// output, preferring all_slots over available_slots. Empty output clears
// any pending offer. A selection on the previous offer is preserved when it
// still maps into the new list: by identical start first, then by index.
func (e *Engine) RecordOffers(metadata map[string]any, toolCallID string, args map[string]any, output map[string]any) {
	raw := extractSlotList(output)
	if len(raw) == 0 {
		e.ClearOffers(metadata)
		return
	}

	previous, _ := e.loadOffer(metadata)

	now := e.zone.Now()
	offer := &Offer{
		SourceToolCallID: toolCallID,
		ServiceType:      stringArg(args, "service_type"),
		Date:             stringArg(args, "date"),
		OfferedAt:        e.zone.FormatISO(now),
		ExpiresAt:        e.zone.FormatISO(now.Add(e.ttl)),
		Slots:            make([]Slot, 0, len(raw)),
	}
	if offer.ServiceType == "" {
		offer.ServiceType = stringArg(output, "service_type")
	}
	if offer.Date == "" {
		offer.Date = stringArg(output, "date")
	}
	for i, item := range raw {
		s := slotFromMap(item)
		s.Index = i + 1
		offer.Slots = append(offer.Slots, s)
	}

	e.preserveSelection(previous, offer)
	storeOffer(metadata, offer)
	e.logger.Debug("recorded slot offers", "count", len(offer.Slots), "service_type", offer.ServiceType)
}

// preserveSelection carries a prior selection into a refreshed offer.
func (e *Engine) preserveSelection(previous, next *Offer) {
	if previous == nil || previous.SelectedSlot == nil && previous.SelectedOptionIndex == nil {
		return
	}
	if previous.SelectedSlot != nil {
		for i := range next.Slots {
			if next.Slots[i].Start == previous.SelectedSlot.Start {
				idx := next.Slots[i].Index
				next.SelectedOptionIndex = &idx
				selected := next.Slots[i]
				next.SelectedSlot = &selected
				next.SelectedByMessageID = previous.SelectedByMessageID
				next.SelectedContentPreview = previous.SelectedContentPreview
				next.SelectedAt = previous.SelectedAt
				return
			}
		}
	}
	if previous.SelectedOptionIndex != nil {
		idx := *previous.SelectedOptionIndex
		if idx >= 1 && idx <= len(next.Slots) {
			next.SelectedOptionIndex = &idx
			selected := next.Slots[idx-1]
			next.SelectedSlot = &selected
			next.SelectedByMessageID = previous.SelectedByMessageID
			next.SelectedContentPreview = previous.SelectedContentPreview
			next.SelectedAt = previous.SelectedAt
		}
	}
}

// ClearOffers removes the pending offer.
func (e *Engine) ClearOffers(metadata map[string]any) {
	delete(metadata, MetadataKey)
}

// PendingOffer returns the unexpired offer, deleting an expired one on read.
func (e *Engine) PendingOffer(metadata map[string]any) (*Offer, bool) {
	return e.loadOffer(metadata)
}

var standaloneInt = regexp.MustCompile(`\b(\d{1,2})\b`)

// CaptureSelection extracts a slot choice from inbound text. Priority:
// standalone option numbers (clock expressions rejected), then start_time
// labels, then ISO start substrings. Returns false without mutating
// metadata when nothing matches.
func (e *Engine) CaptureSelection(metadata map[string]any, messageID, content string) bool {
	offer, ok := e.loadOffer(metadata)
	if !ok || len(offer.Slots) == 0 {
		return false
	}

	text := strings.ToLower(strings.TrimSpace(content))
	idx := e.matchOptionNumber(text, len(offer.Slots))
	if idx == 0 {
		idx = matchStartTimeLabel(text, offer.Slots)
	}
	if idx == 0 {
		idx = matchISOStart(text, offer.Slots)
	}
	if idx == 0 {
		return false
	}

	selected := offer.Slots[idx-1]
	offer.SelectedOptionIndex = &idx
	offer.SelectedSlot = &selected
	offer.SelectedByMessageID = messageID
	offer.SelectedContentPreview = preview(content, 120)
	offer.SelectedAt = e.zone.FormatISO(e.zone.Now())
	storeOffer(metadata, offer)
	e.logger.Info("captured slot selection", "option", idx, "start", selected.Start)
	return true
}

// matchOptionNumber finds the first standalone integer in [1, n] that is
// not part of a clock expression.
func (e *Engine) matchOptionNumber(text string, n int) int {
	for _, loc := range standaloneInt.FindAllStringIndex(text, -1) {
		start, end := loc[0], loc[1]
		if looksLikeClock(text, start, end) {
			continue
		}
		v, err := strconv.Atoi(text[start:end])
		if err != nil || v < 1 || v > n {
			continue
		}
		return v
	}
	return 0
}

// looksLikeClock rejects integers adjacent to ':' or followed by a meridiem.
func looksLikeClock(text string, start, end int) bool {
	if start > 0 && text[start-1] == ':' {
		return true
	}
	if end < len(text) && text[end] == ':' {
		return true
	}
	rest := strings.TrimLeft(text[end:], " \t")
	for _, meridiem := range []string{"am", "pm", "a.m", "p.m"} {
		if strings.HasPrefix(rest, meridiem) {
			return true
		}
	}
	return false
}

func matchStartTimeLabel(text string, slots []Slot) int {
	for _, s := range slots {
		label := strings.ToLower(s.StartTime)
		if label == "" {
			continue
		}
		compact := strings.ReplaceAll(label, " ", "")
		if strings.Contains(text, label) || strings.Contains(strings.ReplaceAll(text, " ", ""), compact) {
			return s.Index
		}
	}
	return 0
}

func matchISOStart(text string, slots []Slot) int {
	for _, s := range slots {
		if s.Start != "" && strings.Contains(text, strings.ToLower(s.Start)) {
			return s.Index
		}
	}
	return 0
}

// EnforceBooking validates and normalizes book_appointment arguments
// against the pending offer. The returned adjustments map records every
// field it overwrote. A captured user selection always beats the model's
// requested start_time.
func (e *Engine) EnforceBooking(metadata map[string]any, args map[string]any) (map[string]any, error) {
	offer, ok := e.loadOffer(metadata)
	if !ok || len(offer.Slots) == 0 {
		return nil, &SelectionMismatchError{
			Reason: "no availability was offered in this conversation; call check_availability first",
		}
	}

	adjustments := map[string]any{}
	requested := stringArg(args, "start_time")
	if requested == "" {
		requested = stringArg(args, "start")
	}

	var slot *Slot
	if offer.SelectedSlot != nil {
		slot = offer.SelectedSlot
		if requested != "" && !e.sameInstant(requested, slot.Start) {
			adjustments["start_time"] = map[string]any{
				"original":   requested,
				"normalized": slot.Start,
				"reason":     "customer already selected option " + strconv.Itoa(slot.Index),
			}
		}
	} else if requested != "" {
		slot = e.findSlotByTime(offer.Slots, requested)
		if slot != nil {
			// Adopt the matching slot as the selection and write it back.
			idx := slot.Index
			offer.SelectedOptionIndex = &idx
			adopted := *slot
			offer.SelectedSlot = &adopted
			offer.SelectedAt = e.zone.FormatISO(e.zone.Now())
			storeOffer(metadata, offer)
		}
	}

	if slot == nil {
		return nil, &SelectionMismatchError{
			Reason:         fmt.Sprintf("requested time %q is not among the offered slots", requested),
			OfferedOptions: offer.OptionLabels(),
		}
	}

	if prev := stringArg(args, "start_time"); prev != "" && prev != slot.Start {
		if _, already := adjustments["start_time"]; !already {
			adjustments["start_time"] = map[string]any{"original": prev, "normalized": slot.Start}
		}
	}
	args["start_time"] = slot.Start
	args["start"] = slot.Start
	if stringArg(args, "service_type") == "" && offer.ServiceType != "" {
		args["service_type"] = offer.ServiceType
		adjustments["service_type"] = offer.ServiceType
	}
	if stringArg(args, "date") == "" && offer.Date != "" {
		args["date"] = offer.Date
	}
	return adjustments, nil
}

// findSlotByTime matches on naive wall time, falling back to exact string
// comparison when the value does not parse.
func (e *Engine) findSlotByTime(slots []Slot, requested string) *Slot {
	reqTime, err := e.zone.ParseISO(requested)
	for i := range slots {
		if err == nil {
			slotTime, slotErr := e.zone.ParseISO(slots[i].Start)
			if slotErr == nil && e.zone.SameWallTime(reqTime, slotTime) {
				return &slots[i]
			}
			continue
		}
		if slots[i].Start == requested || strings.EqualFold(slots[i].StartTime, requested) {
			return &slots[i]
		}
	}
	return nil
}

func (e *Engine) sameInstant(a, b string) bool {
	ta, errA := e.zone.ParseISO(a)
	tb, errB := e.zone.ParseISO(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return e.zone.SameWallTime(ta, tb)
}

// OptionLabels renders the numbered choices for re-offering.
func (o *Offer) OptionLabels() []string {
	labels := make([]string, 0, len(o.Slots))
	for _, s := range o.Slots {
		label := s.StartTime
		if label == "" {
			label = s.Start
		}
		labels = append(labels, fmt.Sprintf("%d) %s", s.Index, label))
	}
	return labels
}

// FormatForSMS renders the offer the way it is texted to customers.
func (o *Offer) FormatForSMS() string {
	var b strings.Builder
	for _, label := range o.OptionLabels() {
		b.WriteString(label)
		b.WriteString("\n")
	}
	b.WriteString("Reply with the number of your preferred time.")
	return b.String()
}

// loadOffer reads and validates the pending offer, deleting it when expired.
func (e *Engine) loadOffer(metadata map[string]any) (*Offer, bool) {
	raw, ok := metadata[MetadataKey]
	if !ok {
		return nil, false
	}
	offer := &Offer{}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, false
	}
	if err := json.Unmarshal(encoded, offer); err != nil {
		return nil, false
	}
	if offer.ExpiresAt != "" {
		expires, err := e.zone.ParseISO(offer.ExpiresAt)
		if err == nil && e.zone.Now().After(expires) {
			delete(metadata, MetadataKey)
			e.logger.Info("expired slot offers removed", "expired_at", offer.ExpiresAt)
			return nil, false
		}
	}
	return offer, true
}

// storeOffer writes the offer back as a plain map so metadata stays
// JSON-native end to end.
func storeOffer(metadata map[string]any, offer *Offer) {
	encoded, _ := json.Marshal(offer)
	asMap := map[string]any{}
	_ = json.Unmarshal(encoded, &asMap)
	metadata[MetadataKey] = asMap
}

// extractSlotList pulls the ordered slot list from availability output,
// preferring all_slots.
func extractSlotList(output map[string]any) []map[string]any {
	for _, key := range []string{"all_slots", "available_slots"} {
		raw, ok := output[key]
		if !ok {
			continue
		}
		list, ok := raw.([]any)
		if !ok {
			if typed, ok := raw.([]map[string]any); ok {
				return typed
			}
			continue
		}
		out := make([]map[string]any, 0, len(list))
		for _, item := range list {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

func slotFromMap(m map[string]any) Slot {
	return Slot{
		Start:     stringArg(m, "start"),
		StartTime: stringArg(m, "start_time"),
		End:       stringArg(m, "end"),
		EndTime:   stringArg(m, "end_time"),
	}
}

func stringArg(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func preview(content string, max int) string {
	content = strings.TrimSpace(content)
	runes := []rune(content)
	if len(runes) <= max {
		return content
	}
	return string(runes[:max])
}
