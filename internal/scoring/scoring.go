// Package scoring classifies finished conversations with a single
// JSON-object LLM completion and persists the result.
package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lumenspa/receptionist/internal/llm"
	"github.com/lumenspa/receptionist/internal/store"
	"github.com/lumenspa/receptionist/pkg/logging"
)

// Valid classification values.
var (
	validSentiments = map[string]bool{
		"positive": true, "neutral": true, "negative": true, "mixed": true,
	}
	validOutcomes = map[string]bool{
		"appointment_scheduled":   true,
		"appointment_rescheduled": true,
		"appointment_cancelled":   true,
		"info_request":            true,
		"escalated":               true,
		"abandoned":               true,
		"unresolved":              true,
	}
)

// Result is the parsed classification.
type Result struct {
	SatisfactionScore int    `json:"satisfaction_score"`
	Sentiment         string `json:"sentiment"`
	Outcome           string `json:"outcome"`
	Summary           string `json:"summary"`
}

// Defaults is what gets recorded when the model fails or returns junk.
// Malformed JSON on this path is not retryable.
func Defaults() Result {
	return Result{SatisfactionScore: 5, Sentiment: "neutral", Outcome: "unresolved", Summary: ""}
}

// Scorer runs post-completion scoring.
type Scorer struct {
	client llm.Client
	store  store.Store
	logger *logging.Logger
}

// NewScorer wires the scorer.
func NewScorer(client llm.Client, st store.Store, logger *logging.Logger) *Scorer {
	return &Scorer{client: client, store: st, logger: logger.Component("scoring")}
}

const systemPrompt = `You analyze finished med spa customer conversations.
Respond with a single JSON object with exactly these fields:
"satisfaction_score" (integer 1-10),
"sentiment" (one of: positive, neutral, negative, mixed),
"outcome" (one of: appointment_scheduled, appointment_rescheduled, appointment_cancelled, info_request, escalated, abandoned, unresolved),
"summary" (one or two sentences describing what happened).`

// Score classifies one conversation and persists the result. It never
// returns an error to the caller's turn; failures record defaults.
func (s *Scorer) Score(ctx context.Context, conv *store.Conversation) Result {
	messages, err := s.store.ListMessages(ctx, conv.ID)
	if err != nil {
		s.logger.Error("scoring could not load messages", "conversation_id", conv.ID, "error", err)
		return s.persist(ctx, conv, Defaults())
	}

	resp, err := s.client.Complete(ctx, llm.Request{
		System: systemPrompt,
		Messages: []llm.Message{{
			Role:    llm.RoleUser,
			Content: buildTranscript(conv.Channel, messages),
		}},
		Temperature: 0.2,
		MaxTokens:   400,
		JSONObject:  true,
	})
	if err != nil {
		s.logger.Warn("scoring completion failed, recording defaults", "conversation_id", conv.ID, "error", err)
		return s.persist(ctx, conv, Defaults())
	}

	result := parse(resp.Content)
	return s.persist(ctx, conv, result)
}

func (s *Scorer) persist(ctx context.Context, conv *store.Conversation, r Result) Result {
	if err := s.store.UpdateConversationScoring(ctx, conv.ID, r.SatisfactionScore, r.Sentiment, r.Outcome, r.Summary); err != nil {
		s.logger.Error("scoring persist failed", "conversation_id", conv.ID, "error", err)
	}
	return r
}

// parse validates the model output field by field, substituting defaults
// for anything out of range.
func parse(content string) Result {
	defaults := Defaults()
	content = strings.TrimSpace(content)
	if content == "" {
		return defaults
	}

	var raw Result
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return defaults
	}

	out := defaults
	if raw.SatisfactionScore >= 1 && raw.SatisfactionScore <= 10 {
		out.SatisfactionScore = raw.SatisfactionScore
	}
	if validSentiments[raw.Sentiment] {
		out.Sentiment = raw.Sentiment
	}
	if validOutcomes[raw.Outcome] {
		out.Outcome = raw.Outcome
	}
	out.Summary = strings.TrimSpace(raw.Summary)
	return out
}

func buildTranscript(channel string, messages []*store.Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Channel: %s\n\n", channel)
	if len(messages) == 0 {
		b.WriteString("(no messages were exchanged)")
		return b.String()
	}
	for _, m := range messages {
		speaker := "Customer"
		if m.Direction == store.DirectionOutbound {
			speaker = "Assistant"
		}
		fmt.Fprintf(&b, "%s: %s\n", speaker, m.Content)
	}
	return b.String()
}
