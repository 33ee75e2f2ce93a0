package turn

import (
	"fmt"
	"strings"

	"github.com/lumenspa/receptionist/internal/catalog"
	"github.com/lumenspa/receptionist/internal/store"
	"github.com/lumenspa/receptionist/internal/timeutil"
)

// Reply token ceilings per channel. SMS stays terse; email carries a
// salutation and signature.
const (
	maxSMSTokens   = 500
	maxEmailTokens = 1000
)

// MaxTokensFor returns the completion ceiling for a channel.
func MaxTokensFor(channel string) int {
	if channel == store.ChannelEmail {
		return maxEmailTokens
	}
	return maxSMSTokens
}

// SystemPrompt renders the receptionist persona for one channel.
func SystemPrompt(channel, spaName string, zone *timeutil.Zone) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are the receptionist for %s, a medical spa. You help customers learn about services and book, reschedule, or cancel appointments.\n\n", spaName)
	fmt.Fprintf(&b, "Current date and time: %s (%s).\n\n", zone.FormatLong(zone.Now()), zone.Location().String())

	b.WriteString("Services offered:\n")
	b.WriteString(catalog.PromptMenu())
	b.WriteString("\n")

	switch channel {
	case store.ChannelEmail:
		b.WriteString("Channel: email. Open with a brief salutation, write short paragraphs, and close with a signature from the spa. Keep replies under a few paragraphs.\n\n")
	case store.ChannelVoice:
		b.WriteString("Channel: voice. Speak in short natural sentences. Never read out lists of more than three options; summarize instead.\n\n")
	default:
		b.WriteString("Channel: SMS. Be warm but terse. One to three short sentences per reply. When offering appointment times, number them and ask the customer to reply with a number.\n\n")
	}

	b.WriteString(`CRITICAL RULES:
- NEVER state availability or appointment times without first calling check_availability.
- NEVER call book_appointment unless the customer has chosen a time from slots you offered in this conversation.
- When a booking is rejected with code "slot_selection_mismatch", re-offer the listed options; do not retry the same booking.
- Collect the customer's name and phone number before booking if you do not already have them.
- Stay in character as the spa's receptionist. Never identify as an AI model or name any technology provider.
- Do not give medical advice; suggest a consultation for clinical questions.`)
	return b.String()
}
