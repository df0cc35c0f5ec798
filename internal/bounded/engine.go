package bounded

import (
	"context"
	"encoding/json"
	"time"

	"github.com/masc-run/masc/internal/masc"
)

// SpawnResult is the external agent invocation's output (spec §3's
// Non-goals note: the spawn mechanism itself — subprocess, RPC, whatever
// — is supplied by the embedder; Bounded only consumes its result).
type SpawnResult struct {
	OK           bool
	Stdout       string
	ExitCode     int
	ElapsedMs    int
	InputTokens  int
	OutputTokens int
	CostUSD      float64
}

// Spawner invokes agent with prompt and returns its result or an error.
// A returned error whose message matches the retryable pattern triggers
// backoff-and-retry (spec §4.5 step 4).
type Spawner func(ctx context.Context, agent, prompt string) (SpawnResult, error)

// Status is the terminal classification of a Run.
type Status string

const (
	StatusGoalReached      Status = "goal_reached"
	StatusConstraintExceed Status = "constraint_exceeded"
)

// Turn records one completed iteration for Result.History.
type Turn struct {
	Agent  string
	Output map[string]any
	Tokens int
	Cost   float64
}

// Result is what Run returns: a terminal status, the turn history, and
// (per spec §4.5 step 7) an optional warning when the goal was reached
// despite a constraint breach, or a partial output when it wasn't.
type Result struct {
	Status  Status
	History []Turn
	Warning string
	Output  map[string]any
	Reason  string
}

// Run drives agents through goal/constraints to completion, per spec
// §4.5's seven-step loop invariant and termination proof.
func Run(ctx context.Context, agents []string, goal Goal, constraints Constraints, prompt string, spawn Spawner) (Result, error) {
	if len(agents) == 0 {
		return Result{}, masc.New(masc.CodeNotFound, "no agents available").WithContext("reason", "No agents available")
	}
	c := constraints.normalized()
	state := State{StartedAt: time.Now()}
	history := make([]Turn, 0, c.HardMaxIterations)

	for {
		if state.Turns >= c.HardMaxIterations {
			return Result{Status: StatusConstraintExceed, History: history, Reason: "hard_max_iterations"}, nil
		}

		projected := c.predictiveTokenProjection(state)
		if c.MaxTokens > 0 && projected > c.MaxTokens {
			return Result{Status: StatusConstraintExceed, History: history, Reason: "max_tokens"}, nil
		}
		if v := c.violation(state); v != "" {
			return Result{Status: StatusConstraintExceed, History: history, Reason: v}, nil
		}

		agent := agents[state.Turns%len(agents)]

		result, err := spawnWithRetry(ctx, spawn, agent, prompt, c.Retry)
		if err != nil {
			return Result{}, err
		}

		state.Turns++
		state.Tokens += result.InputTokens + result.OutputTokens
		state.CostUSD += result.CostUSD

		output := parseSpawnOutput(result.Stdout)
		history = append(history, Turn{Agent: agent, Output: output, Tokens: result.InputTokens + result.OutputTokens, Cost: result.CostUSD})

		metGoal := goal.Met(output)

		postViolation := c.violation(state)
		switch {
		case metGoal && postViolation == "":
			return Result{Status: StatusGoalReached, History: history, Output: output}, nil
		case metGoal && postViolation != "":
			return Result{Status: StatusGoalReached, History: history, Output: output, Warning: "constraint " + postViolation + " exceeded after goal met"}, nil
		case !metGoal && postViolation != "":
			return Result{Status: StatusConstraintExceed, History: history, Output: output, Reason: postViolation}, nil
		}
	}
}

func spawnWithRetry(ctx context.Context, spawn Spawner, agent, prompt string, retryCfg RetryConfig) (SpawnResult, error) {
	rs := newRetryState(retryCfg)
	for {
		result, err := spawn(ctx, agent, prompt)
		if err == nil {
			return result, nil
		}
		if !isRetryable(err) || rs.exhausted() {
			return SpawnResult{}, err
		}
		delay := rs.backoff()
		select {
		case <-ctx.Done():
			return SpawnResult{}, ctx.Err()
		case <-time.After(delay):
		}
	}
}

// parseSpawnOutput parses stdout as a JSON object, wrapping non-object
// or unparseable output in {"raw": ...} (spec §4.5 step 6).
func parseSpawnOutput(stdout string) map[string]any {
	var obj map[string]any
	if err := json.Unmarshal([]byte(stdout), &obj); err == nil {
		return obj
	}
	return map[string]any{"raw": stdout}
}
