package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "America/New_York", cfg.SpaTimezone)
	assert.Equal(t, "09:00", cfg.BusinessHoursOpen)
	assert.Equal(t, "19:00", cfg.BusinessHoursClose)
	assert.Equal(t, 30, cfg.SlotStepMinutes)
	assert.Equal(t, 4*time.Hour, cfg.OfferTTL)
	assert.Equal(t, 30*time.Second, cfg.LLMTimeout)
	assert.Equal(t, 3, cfg.LLMMaxAttempts)
	assert.Equal(t, 3*time.Second, cfg.VoiceGraceWindow)
	assert.InDelta(t, 0.6, cfg.VoiceVADThreshold, 0.001)
	assert.Equal(t, "auto", cfg.EmailProvider)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("SPA_TIMEZONE", "America/Chicago")
	t.Setenv("OFFER_TTL", "2h")
	t.Setenv("SLOT_STEP_MINUTES", "15")
	t.Setenv("SMS_REPLY_VIA_PROVIDER", "true")
	t.Setenv("VOICE_VAD_THRESHOLD", "0.75")
	t.Setenv("EMAIL_PROVIDER", " SendGrid ")

	cfg := Load()

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, "America/Chicago", cfg.SpaTimezone)
	assert.Equal(t, 2*time.Hour, cfg.OfferTTL)
	assert.Equal(t, 15, cfg.SlotStepMinutes)
	assert.True(t, cfg.SMSReplyViaProvider)
	assert.InDelta(t, 0.75, cfg.VoiceVADThreshold, 0.001)
	assert.Equal(t, "sendgrid", cfg.EmailProvider)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("SLOT_STEP_MINUTES", "often")
	t.Setenv("OFFER_TTL", "whenever")
	t.Setenv("REDIS_TLS", "yep")

	cfg := Load()

	assert.Equal(t, 30, cfg.SlotStepMinutes)
	assert.Equal(t, 4*time.Hour, cfg.OfferTTL)
	assert.False(t, cfg.RedisTLS)
}
