package turn

import (
	"context"
	"time"

	"github.com/lumenspa/receptionist/internal/observability/metrics"
	"github.com/lumenspa/receptionist/internal/scoring"
	"github.com/lumenspa/receptionist/internal/store"
	"github.com/lumenspa/receptionist/internal/timeutil"
	"github.com/lumenspa/receptionist/pkg/logging"
)

// sweepBatchSize bounds how many idle conversations one sweep closes.
const sweepBatchSize = 50

// IdleCompleter closes text conversations that have gone quiet and hands
// them to scoring. Voice conversations finalize at hangup instead.
type IdleCompleter struct {
	store     store.Store
	scorer    *scoring.Scorer
	zone      *timeutil.Zone
	idleAfter time.Duration
	interval  time.Duration
	logger    *logging.Logger
	metrics   *metrics.Metrics
}

// NewIdleCompleter wires the sweeper.
func NewIdleCompleter(st store.Store, scorer *scoring.Scorer, zone *timeutil.Zone, idleAfter, interval time.Duration, logger *logging.Logger, m *metrics.Metrics) *IdleCompleter {
	return &IdleCompleter{
		store:     st,
		scorer:    scorer,
		zone:      zone,
		idleAfter: idleAfter,
		interval:  interval,
		logger:    logger.Component("idle_completer"),
		metrics:   m,
	}
}

// Run sweeps on the configured interval until the context is cancelled.
func (c *IdleCompleter) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep(ctx)
		}
	}
}

// Sweep completes and scores one batch of idle conversations.
func (c *IdleCompleter) Sweep(ctx context.Context) int {
	cutoff := c.zone.Now().Add(-c.idleAfter)
	idle, err := c.store.ListIdleActiveConversations(ctx, cutoff, sweepBatchSize)
	if err != nil {
		c.logger.Error("idle sweep query failed", "error", err)
		return 0
	}

	closed := 0
	for _, conv := range idle {
		if conv.Channel == store.ChannelVoice {
			continue
		}
		if err := c.store.CompleteConversation(ctx, conv.ID, store.StatusCompleted, c.zone.Now()); err != nil {
			// Already completed by a concurrent path; nothing to score.
			c.logger.Debug("idle completion skipped", "conversation_id", conv.ID, "error", err)
			continue
		}
		c.scorer.Score(ctx, conv)
		c.metrics.ObserveConversationCompleted(conv.Channel, store.StatusCompleted)
		closed++
	}
	if closed > 0 {
		c.logger.Info("idle conversations completed", "count", closed)
	}
	return closed
}
