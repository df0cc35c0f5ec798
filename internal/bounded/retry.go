package bounded

import (
	"math/rand"
	"regexp"
	"time"
)

// retryablePattern matches the spawn-failure messages spec §4.5 names as
// retryable: timeout / connection / rate limit / 429 / 5xx / "overloaded"
// / "temporarily unavailable".
var retryablePattern = regexp.MustCompile(`(?i)timeout|connection|rate limit|\b429\b|\b5\d{2}\b|overloaded|temporarily unavailable`)

func isRetryable(err error) bool {
	return err != nil && retryablePattern.MatchString(err.Error())
}

// retryState tracks one turn's attempt count, generalizing the teacher's
// CircuitBreaker mutex-guarded counter shape into a single-turn backoff
// schedule instead of an open/closed/half-open resource gate.
type retryState struct {
	attempt int
	cfg     RetryConfig
}

func newRetryState(cfg RetryConfig) *retryState {
	return &retryState{cfg: cfg}
}

// exhausted reports whether another attempt would exceed MaxRetries.
func (rs *retryState) exhausted() bool {
	return rs.attempt >= rs.cfg.MaxRetries
}

// backoff computes min(base*2^attempt, max) ± jitter and advances the
// attempt counter (spec §4.5 step 4).
func (rs *retryState) backoff() time.Duration {
	base := float64(rs.cfg.BaseDelayMs)
	max := float64(rs.cfg.MaxDelayMs)
	delay := base * float64(int(1)<<uint(rs.attempt))
	if delay > max {
		delay = max
	}
	jitter := rs.cfg.JitterFactor
	if jitter > 0 {
		spread := delay * jitter
		delay += (rand.Float64()*2 - 1) * spread
		if delay < 0 {
			delay = 0
		}
	}
	rs.attempt++
	return time.Duration(delay) * time.Millisecond
}
