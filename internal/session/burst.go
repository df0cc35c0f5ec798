package session

import (
	"sync/atomic"
	"time"

	"github.com/yasserelgammal/rate-limiter/limiter"
	"github.com/yasserelgammal/rate-limiter/store"
)

// burstReserve grants up to rate extra admissions per minute once a
// category's sliding window is saturated, auto-resetting after 60s
// (spec §4.4: "burst_used ... auto-resets when more than 60s elapses
// since last_burst_reset"). The reset bookkeeping is lock-free atomics
// layered on top of a real token bucket, the same
// yasserelgammal/rate-limiter construction the teacher's gossip peer
// admission control uses.
type burstReserve struct {
	bucket        *limiter.TokenBucket
	used          atomic.Int64
	lastResetUnix atomic.Int64
}

func newBurstReserve(ratePerMinute int) *burstReserve {
	st := store.NewMemoryStore(time.Minute)
	bucket, _ := limiter.NewTokenBucket(limiter.Config{
		Rate:     int64(ratePerMinute),
		Duration: time.Minute,
		Burst:    int64(ratePerMinute),
	}, st)

	b := &burstReserve{bucket: bucket}
	b.lastResetUnix.Store(time.Now().Unix())
	return b
}

func (b *burstReserve) allow(key string, now time.Time) bool {
	b.maybeReset(now)
	if b.bucket == nil {
		return false
	}
	if !b.bucket.Allow(key) {
		return false
	}
	b.used.Add(1)
	return true
}

func (b *burstReserve) maybeReset(now time.Time) {
	last := b.lastResetUnix.Load()
	if now.Unix()-last <= 60 {
		return
	}
	if b.lastResetUnix.CompareAndSwap(last, now.Unix()) {
		b.used.Store(0)
	}
}
