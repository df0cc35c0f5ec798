package bounded

import "time"

// Constraints bounds an execution loop. HardMaxIterations is the only
// field with a meaningful default (spec §4.5: "default 100"); every
// other field is optional and skipped when zero.
type Constraints struct {
	MaxTurns          int
	MaxTokens         int
	MaxCostUSD        float64
	MaxTimeSeconds    int
	TokenBuffer       int
	HardMaxIterations int
	Retry             RetryConfig
}

// RetryConfig governs spawn retry/backoff.
type RetryConfig struct {
	MaxRetries   int
	BaseDelayMs  int
	MaxDelayMs   int
	JitterFactor float64
}

const defaultHardMaxIterations = 100

// normalized returns c with HardMaxIterations defaulted and Retry
// defaulted to a single, non-retrying attempt.
func (c Constraints) normalized() Constraints {
	if c.HardMaxIterations <= 0 {
		c.HardMaxIterations = defaultHardMaxIterations
	}
	if c.Retry.BaseDelayMs <= 0 {
		c.Retry.BaseDelayMs = 200
	}
	if c.Retry.MaxDelayMs <= 0 {
		c.Retry.MaxDelayMs = 10_000
	}
	return c
}

// State is the loop's running tally, updated once per successful turn
// (spec §4.5 step 5).
type State struct {
	Turns     int
	Tokens    int
	CostUSD   float64
	StartedAt time.Time
}

// violation names the first constraint State breaks against c, or ""
// if none are broken.
// violation checks the actual, unbuffered state against c — the "recompute
// constraints without the buffer" step (spec §4.5 step 7); the buffered
// projection lives in predictiveTokenProjection instead.
func (c Constraints) violation(s State) string {
	if c.MaxTurns > 0 && s.Turns > c.MaxTurns {
		return "max_turns"
	}
	if c.MaxTokens > 0 && s.Tokens > c.MaxTokens {
		return "max_tokens"
	}
	if c.MaxCostUSD > 0 && s.CostUSD > c.MaxCostUSD {
		return "max_cost_usd"
	}
	if c.MaxTimeSeconds > 0 && !s.StartedAt.IsZero() &&
		time.Since(s.StartedAt) > time.Duration(c.MaxTimeSeconds)*time.Second {
		return "max_time_seconds"
	}
	return ""
}

// predictiveTokenProjection projects next turn's cumulative token total
// from the running average (or TokenBuffer when turns == 0), per spec
// §4.5 step 2 and the literal "Bounded predictive limit" example.
func (c Constraints) predictiveTokenProjection(s State) int {
	if s.Turns == 0 {
		return s.Tokens + c.TokenBuffer
	}
	avg := s.Tokens / s.Turns
	return s.Tokens + avg
}
