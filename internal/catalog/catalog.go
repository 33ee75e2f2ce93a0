// Package catalog holds the static services menu. Keys are the snake_case
// identifiers the booking tools and LLM prompts use.
package catalog

import (
	"sort"
	"strconv"
	"strings"
)

// Service describes one bookable treatment.
type Service struct {
	Key              string `json:"key"`
	DisplayName      string `json:"display_name"`
	DurationMinutes  int    `json:"duration_minutes"`
	PriceRange       string `json:"price_range"`
	Description      string `json:"description"`
	PrepInstructions string `json:"prep_instructions"`
	Aftercare        string `json:"aftercare"`
}

// DefaultDurationMinutes is used when a booking request names a service
// we do not recognize.
const DefaultDurationMinutes = 60

var services = map[string]Service{
	"botox": {
		Key:              "botox",
		DisplayName:      "Botox",
		DurationMinutes:  30,
		PriceRange:       "$12-$15 per unit",
		Description:      "Wrinkle-relaxing injections for forehead lines, frown lines, and crow's feet.",
		PrepInstructions: "Avoid blood thinners, aspirin, and alcohol for 24 hours before treatment.",
		Aftercare:        "Stay upright for 4 hours. No rubbing the treated area or strenuous exercise for 24 hours.",
	},
	"dermal_fillers": {
		Key:              "dermal_fillers",
		DisplayName:      "Dermal Fillers",
		DurationMinutes:  45,
		PriceRange:       "$650-$900 per syringe",
		Description:      "Hyaluronic acid fillers to restore volume in lips, cheeks, and nasolabial folds.",
		PrepInstructions: "Avoid blood thinners and alcohol for 48 hours. Come with a clean face if possible.",
		Aftercare:        "Expect mild swelling for 24-48 hours. Ice as needed and avoid intense heat for 48 hours.",
	},
	"laser_hair_removal": {
		Key:              "laser_hair_removal",
		DisplayName:      "Laser Hair Removal",
		DurationMinutes:  45,
		PriceRange:       "$100-$450 per session",
		Description:      "Diode laser hair reduction. Most areas need 6-8 sessions spaced 4-6 weeks apart.",
		PrepInstructions: "Shave the area 24 hours before. No waxing, plucking, or sun exposure for 2 weeks prior.",
		Aftercare:        "Avoid sun exposure and hot showers for 48 hours. Apply SPF 30+ daily on treated areas.",
	},
	"hydrafacial": {
		Key:              "hydrafacial",
		DisplayName:      "HydraFacial",
		DurationMinutes:  60,
		PriceRange:       "$175-$300",
		Description:      "Deep-cleansing facial with exfoliation, extraction, and hydrating serum infusion.",
		PrepInstructions: "Stop retinoids and exfoliants 48 hours before your appointment.",
		Aftercare:        "Skip makeup for the rest of the day and use gentle products for 48 hours.",
	},
	"chemical_peel": {
		Key:              "chemical_peel",
		DisplayName:      "Chemical Peel",
		DurationMinutes:  45,
		PriceRange:       "$150-$400",
		Description:      "Medical-grade peels for texture, tone, and acne scarring. Light to medium depth.",
		PrepInstructions: "Discontinue retinoids 5-7 days before. Avoid sun exposure the week prior.",
		Aftercare:        "Do not pick or peel flaking skin. Moisturize and wear SPF 30+ for at least a week.",
	},
	"microneedling": {
		Key:              "microneedling",
		DisplayName:      "Microneedling",
		DurationMinutes:  60,
		PriceRange:       "$250-$450 per session",
		Description:      "Collagen induction therapy for fine lines, scarring, and overall skin texture.",
		PrepInstructions: "Stop retinoids 3 days before. Arrive with clean skin and no active breakouts.",
		Aftercare:        "Redness for 24-48 hours is normal. No makeup for 24 hours and SPF daily afterward.",
	},
	"consultation": {
		Key:              "consultation",
		DisplayName:      "Consultation",
		DurationMinutes:  30,
		PriceRange:       "Complimentary",
		Description:      "One-on-one with a provider to build a personalized treatment plan.",
		PrepInstructions: "Bring a list of current skincare products and any treatment history.",
		Aftercare:        "",
	},
}

// Lookup returns the service for a key. Matching is case-insensitive and
// tolerant of spaces or hyphens in place of underscores.
func Lookup(key string) (Service, bool) {
	svc, ok := services[Normalize(key)]
	return svc, ok
}

// Normalize canonicalizes a service identifier to its catalog key form.
func Normalize(key string) string {
	k := strings.ToLower(strings.TrimSpace(key))
	k = strings.ReplaceAll(k, " ", "_")
	k = strings.ReplaceAll(k, "-", "_")
	return k
}

// Duration returns the service's duration, or DefaultDurationMinutes for
// unknown services so booking never fails on a naming mismatch.
func Duration(key string) int {
	if svc, ok := Lookup(key); ok {
		return svc.DurationMinutes
	}
	return DefaultDurationMinutes
}

// DisplayName returns the human label, falling back to a title-cased key.
func DisplayName(key string) string {
	if svc, ok := Lookup(key); ok {
		return svc.DisplayName
	}
	words := strings.Fields(strings.ReplaceAll(Normalize(key), "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// Keys returns all catalog keys in sorted order.
func Keys() []string {
	keys := make([]string, 0, len(services))
	for k := range services {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// All returns every service sorted by key.
func All() []Service {
	out := make([]Service, 0, len(services))
	for _, k := range Keys() {
		out = append(out, services[k])
	}
	return out
}

// PromptMenu renders the catalog as compact lines for LLM system prompts.
func PromptMenu() string {
	var b strings.Builder
	for _, svc := range All() {
		b.WriteString("- ")
		b.WriteString(svc.DisplayName)
		b.WriteString(" (")
		b.WriteString(svc.Key)
		b.WriteString("): ")
		b.WriteString(svc.PriceRange)
		b.WriteString(", ")
		b.WriteString(strconv.Itoa(svc.DurationMinutes))
		b.WriteString(" min. ")
		b.WriteString(svc.Description)
		b.WriteString("\n")
	}
	return b.String()
}
