package locks

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenspa/receptionist/pkg/logging"
)

func TestKeyedSerializesSameKey(t *testing.T) {
	k := NewKeyed()
	var counter, max, active int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("conv-1")
			defer unlock()
			mu.Lock()
			active++
			if active > max {
				max = active
			}
			mu.Unlock()
			counter++
			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
	assert.Equal(t, 1, max, "holders of the same key must never overlap")
}

func TestKeyedDifferentKeysDoNotBlock(t *testing.T) {
	k := NewKeyed()
	unlockA := k.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB := k.Lock("b")
		unlockB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("independent key blocked behind another key's holder")
	}
}

func TestKeyedReclaimsEntries(t *testing.T) {
	k := NewKeyed()
	unlock := k.Lock("gone")
	unlock()
	k.mu.Lock()
	defer k.mu.Unlock()
	assert.Empty(t, k.entries)
}

func newTestDeduper(t *testing.T) (*Deduper, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewDeduper(rdb, time.Hour, logging.Default()), mr
}

func TestDeduperFirstAndRepeatDelivery(t *testing.T) {
	d, _ := newTestDeduper(t)
	ctx := context.Background()

	assert.True(t, d.FirstDelivery(ctx, "sms", "msg_123"))
	assert.False(t, d.FirstDelivery(ctx, "sms", "msg_123"))

	// Same id on another channel is a distinct delivery.
	assert.True(t, d.FirstDelivery(ctx, "email", "msg_123"))
}

func TestDeduperEmptyIDAlwaysFirst(t *testing.T) {
	d, _ := newTestDeduper(t)
	assert.True(t, d.FirstDelivery(context.Background(), "sms", ""))
	assert.True(t, d.FirstDelivery(context.Background(), "sms", ""))
}

func TestDeduperExpiry(t *testing.T) {
	d, mr := newTestDeduper(t)
	ctx := context.Background()

	require.True(t, d.FirstDelivery(ctx, "sms", "msg_9"))
	mr.FastForward(2 * time.Hour)
	assert.True(t, d.FirstDelivery(ctx, "sms", "msg_9"))
}

func TestDeduperFailsOpen(t *testing.T) {
	d, mr := newTestDeduper(t)
	mr.Close()
	assert.True(t, d.FirstDelivery(context.Background(), "sms", "msg_1"))
}

func TestDeduperNilClientDisabled(t *testing.T) {
	d := NewDeduper(nil, 0, logging.Default())
	assert.True(t, d.FirstDelivery(context.Background(), "sms", "msg_1"))
}
