package locks

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lumenspa/receptionist/pkg/logging"
)

// DefaultDedupTTL covers the window in which providers retry deliveries.
const DefaultDedupTTL = 24 * time.Hour

// Deduper remembers provider message ids in Redis so webhook retries do not
// produce duplicate turns. It fails open: if Redis is unreachable the
// delivery is treated as first, since a duplicate reply beats a dropped one.
type Deduper struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

// NewDeduper wires the deduper. A nil client disables deduplication.
func NewDeduper(rdb *redis.Client, ttl time.Duration, logger *logging.Logger) *Deduper {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &Deduper{rdb: rdb, ttl: ttl, logger: logger.Component("dedup")}
}

// FirstDelivery reports whether this provider message id has not been seen
// within the TTL. Empty ids are always treated as first deliveries.
func (d *Deduper) FirstDelivery(ctx context.Context, channel, providerMessageID string) bool {
	if d == nil || d.rdb == nil || providerMessageID == "" {
		return true
	}
	key := "dedup:" + channel + ":" + providerMessageID
	ok, err := d.rdb.SetNX(ctx, key, 1, d.ttl).Result()
	if err != nil {
		d.logger.Warn("dedup check failed, treating as first delivery", "key", key, "error", err)
		return true
	}
	return ok
}
