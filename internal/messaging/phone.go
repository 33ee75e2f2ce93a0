package messaging

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// SynthesizedPhonePrefix marks phone values derived from an email address
// rather than collected from a real handset.
const SynthesizedPhonePrefix = "email:"

// NormalizePhone canonicalizes a phone number to E.164, defaulting to the
// US region for bare national numbers. Returns "" when the value cannot be
// parsed as a plausible number.
func NormalizePhone(value string) string {
	value = strings.TrimSpace(value)
	if value == "" || IsSynthesizedPhone(value) {
		return value
	}
	num, err := phonenumbers.Parse(value, "US")
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return ""
	}
	return phonenumbers.Format(num, phonenumbers.E164)
}

// SynthesizePhoneFromEmail builds a stable placeholder phone for customers
// known only by email. The hash keeps the column unique without storing the
// address twice, and the prefix guarantees it never collides with a real
// E.164 number.
func SynthesizePhoneFromEmail(email string) string {
	normalized := strings.ToLower(strings.TrimSpace(email))
	sum := sha256.Sum256([]byte(normalized))
	return SynthesizedPhonePrefix + hex.EncodeToString(sum[:])[:16]
}

// IsSynthesizedPhone reports whether the value is an email-derived placeholder.
func IsSynthesizedPhone(value string) bool {
	return strings.HasPrefix(value, SynthesizedPhonePrefix)
}
