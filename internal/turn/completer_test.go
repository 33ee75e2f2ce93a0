package turn

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenspa/receptionist/internal/llm"
	"github.com/lumenspa/receptionist/internal/scoring"
	"github.com/lumenspa/receptionist/internal/store"
	"github.com/lumenspa/receptionist/pkg/logging"
)

func TestSweepCompletesAndScoresIdleConversations(t *testing.T) {
	ctx := context.Background()
	zone := testZone()
	mem := store.NewMemory()
	client := &scriptedLLM{responses: []*llm.Response{
		{Content: `{"satisfaction_score":6,"sentiment":"neutral","outcome":"abandoned","summary":"Customer stopped replying."}`},
	}}
	scorer := scoring.NewScorer(client, mem, logging.Default())
	completer := NewIdleCompleter(mem, scorer, zone, 12*time.Hour, time.Minute, logging.Default(), nil)

	idle := &store.Conversation{Channel: store.ChannelSMS}
	fresh := &store.Conversation{Channel: store.ChannelSMS}
	voice := &store.Conversation{Channel: store.ChannelVoice}
	for _, c := range []*store.Conversation{idle, fresh, voice} {
		require.NoError(t, mem.CreateConversation(ctx, c))
	}
	stale := zone.Now().Add(-13 * time.Hour)
	require.NoError(t, mem.TouchConversation(ctx, idle.ID, stale))
	require.NoError(t, mem.TouchConversation(ctx, fresh.ID, zone.Now()))
	require.NoError(t, mem.TouchConversation(ctx, voice.ID, stale))

	closed := completer.Sweep(ctx)
	assert.Equal(t, 1, closed)

	stored, err := mem.GetConversation(ctx, idle.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, stored.Status)
	require.NotNil(t, stored.Outcome)
	assert.Equal(t, "abandoned", *stored.Outcome)

	// Fresh text conversations and idle voice calls stay open.
	stored, _ = mem.GetConversation(ctx, fresh.ID)
	assert.Equal(t, store.StatusActive, stored.Status)
	stored, _ = mem.GetConversation(ctx, voice.ID)
	assert.Equal(t, store.StatusActive, stored.Status)
}

func TestSweepSecondPassIsNoop(t *testing.T) {
	ctx := context.Background()
	zone := testZone()
	mem := store.NewMemory()
	client := &scriptedLLM{responses: []*llm.Response{
		{Content: `{"satisfaction_score":5,"sentiment":"neutral","outcome":"unresolved","summary":""}`},
	}}
	scorer := scoring.NewScorer(client, mem, logging.Default())
	completer := NewIdleCompleter(mem, scorer, zone, time.Hour, time.Minute, logging.Default(), nil)

	conv := &store.Conversation{Channel: store.ChannelEmail}
	require.NoError(t, mem.CreateConversation(ctx, conv))
	require.NoError(t, mem.TouchConversation(ctx, conv.ID, zone.Now().Add(-2*time.Hour)))

	assert.Equal(t, 1, completer.Sweep(ctx))
	assert.Equal(t, 0, completer.Sweep(ctx))
}
