package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	LogLevel      string
	PublicBaseURL string
	DatabaseURL   string

	// Spa identity and clock
	SpaName           string
	SpaTimezone       string
	BusinessHoursOpen  string // "09:00" local
	BusinessHoursClose string // "19:00" local
	SlotStepMinutes    int

	// Slot offers
	OfferTTL time.Duration

	// OpenAI (chat + realtime)
	OpenAIAPIKey        string
	OpenAIModel         string
	OpenAIRealtimeModel string
	OpenAIRealtimeURL   string
	OpenAIBaseURL       string
	LLMTimeout          time.Duration
	LLMMaxAttempts      int

	// Google Calendar (calendar of record)
	GoogleCalendarID       string
	GoogleCredentialsFile  string
	GoogleCredentialsJSON  string

	// Redis (webhook dedup, voice session scratch)
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// SMS provider (Telnyx V2)
	TelnyxAPIKey             string
	TelnyxMessagingProfileID string
	SMSFromNumber            string
	SMSReplyViaProvider      bool

	// Email provider selection: "sendgrid", "ses", or "auto"
	EmailProvider     string
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	AWSRegion         string
	AWSAccessKeyID    string
	AWSSecretAccessKey string
	SESFromEmail      string
	SESFromName       string

	// Conversation lifecycle
	IdleCompletionAfter time.Duration
	IdleSweepInterval   time.Duration

	// Voice session
	VoiceGraceWindow   time.Duration
	VoiceVADThreshold  float64
	VoiceGreeting      string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		DatabaseURL:   getEnv("DATABASE_URL", ""),

		SpaName:            getEnv("SPA_NAME", "Lumen Aesthetics & Wellness"),
		SpaTimezone:        getEnv("SPA_TIMEZONE", "America/New_York"),
		BusinessHoursOpen:  getEnv("BUSINESS_HOURS_OPEN", "09:00"),
		BusinessHoursClose: getEnv("BUSINESS_HOURS_CLOSE", "19:00"),
		SlotStepMinutes:    getEnvAsInt("SLOT_STEP_MINUTES", 30),

		OfferTTL: getEnvAsDuration("OFFER_TTL", 4*time.Hour),

		OpenAIAPIKey:        getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:         getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIRealtimeModel: getEnv("OPENAI_REALTIME_MODEL", "gpt-4o-realtime-preview"),
		OpenAIRealtimeURL:   getEnv("OPENAI_REALTIME_URL", "wss://api.openai.com/v1/realtime"),
		OpenAIBaseURL:       getEnv("OPENAI_BASE_URL", ""),
		LLMTimeout:          getEnvAsDuration("LLM_TIMEOUT", 30*time.Second),
		LLMMaxAttempts:      getEnvAsInt("LLM_MAX_ATTEMPTS", 3),

		GoogleCalendarID:      getEnv("GOOGLE_CALENDAR_ID", "primary"),
		GoogleCredentialsFile: getEnv("GOOGLE_CREDENTIALS_FILE", ""),
		GoogleCredentialsJSON: getEnv("GOOGLE_CREDENTIALS_JSON", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		TelnyxAPIKey:             getEnv("TELNYX_API_KEY", ""),
		TelnyxMessagingProfileID: getEnv("TELNYX_MESSAGING_PROFILE_ID", ""),
		SMSFromNumber:            getEnv("SMS_FROM_NUMBER", ""),
		SMSReplyViaProvider:      getEnvAsBool("SMS_REPLY_VIA_PROVIDER", false),

		EmailProvider:      strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "auto"))),
		SendGridAPIKey:     getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail:  getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:   getEnv("SENDGRID_FROM_NAME", "Lumen Aesthetics"),
		AWSRegion:          getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
		SESFromEmail:       getEnv("SES_FROM_EMAIL", ""),
		SESFromName:        getEnv("SES_FROM_NAME", "Lumen Aesthetics"),

		IdleCompletionAfter: getEnvAsDuration("IDLE_COMPLETION_AFTER", 12*time.Hour),
		IdleSweepInterval:   getEnvAsDuration("IDLE_SWEEP_INTERVAL", 15*time.Minute),

		VoiceGraceWindow:  getEnvAsDuration("VOICE_GRACE_WINDOW", 3*time.Second),
		VoiceVADThreshold: getEnvAsFloat("VOICE_VAD_THRESHOLD", 0.6),
		VoiceGreeting: getEnv("VOICE_GREETING",
			"Thank you for calling! This is the virtual receptionist. How can I help you today?"),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
