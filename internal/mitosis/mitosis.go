package mitosis

import (
	"context"
	"fmt"

	"github.com/masc-run/masc/internal/codec"
	"github.com/masc-run/masc/internal/masc"
)

// Config holds the thresholds and defaults governing the two-phase
// protocol (spec §4.6).
type Config struct {
	PrepareThreshold       float64
	HandoffThreshold       float64
	CompressionRatio       float64
	MinContextForDelta     int
	MinDeltaLen            int
	TimeElapsedTrigger     int // seconds; 0 disables
	TaskCompletionsTrigger int
	ToolCallsTrigger       int
}

// DefaultConfig returns spec.md's stated defaults.
func DefaultConfig() Config {
	return Config{
		PrepareThreshold:   0.5,
		HandoffThreshold:   0.8,
		CompressionRatio:   0.125,
		MinContextForDelta: 1000,
		MinDeltaLen:        100,
	}
}

// Spawner invokes the successor cell with its handoff prompt.
type Spawner func(ctx context.Context, prompt string) error

// Action classifies what AutoCheck decided to do.
type Action string

const (
	ActionNone     Action = "none"
	ActionPrepared Action = "prepared"
	ActionHandoff  Action = "handoff"
)

// Outcome is AutoCheck's result.
type Outcome struct {
	Action Action
	Child  *Cell
}

// Mitosis coordinates cells against a shared stem pool and codec.
type Mitosis struct {
	cfg  Config
	pool *StemPool
	c    *codec.Codec
}

// New returns a Mitosis engine. c may be nil, in which case delta
// compression is skipped and the raw deduped delta is used verbatim.
func New(cfg Config, pool *StemPool, c *codec.Codec) *Mitosis {
	return &Mitosis{cfg: cfg, pool: pool, c: c}
}

// Prepare runs Phase 1 on cell against content if it is not already
// ReadyForHandoff (idempotent — spec §4.6).
func (m *Mitosis) Prepare(cell *Cell, content string) {
	if cell.Phase == PhaseReadyForHandoff {
		return
	}
	sliceLen := int(m.cfg.CompressionRatio * float64(len(content)))
	cell.PreparedDNA = extractDNA(content, sliceLen)
	cell.PrepareContextLen = len(content)
	cell.Phase = PhaseReadyForHandoff
	cell.State = StatePrepared
}

// AutoCheck evaluates cell's context ratio against the two thresholds and
// drives Prepare/Handoff accordingly (spec §4.6, and the literal "Mitosis
// two-phase" example: ratio 0.55 -> Prepared, ratio 0.82 -> Handoff).
func (m *Mitosis) AutoCheck(ctx context.Context, cell *Cell, content string, ctxRatio float64, spawn Spawner) (Outcome, error) {
	switch {
	case ctxRatio >= m.cfg.HandoffThreshold:
		child, err := m.Handoff(ctx, cell, content, spawn)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Action: ActionHandoff, Child: child}, nil
	case ctxRatio >= m.cfg.PrepareThreshold:
		m.Prepare(cell, content)
		return Outcome{Action: ActionPrepared}, nil
	default:
		return Outcome{Action: ActionNone}, nil
	}
}

// Handoff runs Phase 2: builds the successor's DNA (delta-merged if cell
// already prepared, full-context otherwise — the emergency path), takes
// a Stem cell from the pool, spawns it with the handoff prompt, and
// starts the parent's apoptosis.
func (m *Mitosis) Handoff(ctx context.Context, cell *Cell, content string, spawn Spawner) (*Cell, error) {
	dna := m.buildHandoffDNA(cell, content)

	child, _ := m.pool.Take()
	child.Activate(cell.Generation + 1)
	child.CurrentDNA = dna

	if spawn != nil {
		if err := spawn(ctx, handoffPrompt(dna)); err != nil {
			return nil, masc.IoError("spawn handoff successor", err)
		}
	}

	cell.State = StateApoptotic
	m.pool.Replenish(child.Generation + 1)

	return child, nil
}

// buildHandoffDNA implements spec §4.6 Phase 2's DNA construction,
// including the delta skip conditions and the emergency (never-prepared)
// fallback to a fresh full-context extraction.
func (m *Mitosis) buildHandoffDNA(cell *Cell, content string) string {
	if cell.Phase != PhaseReadyForHandoff {
		return extractDNA(content, len(content))
	}
	if len(content) < m.cfg.MinContextForDelta {
		return cell.PreparedDNA
	}

	delta := safeSub(content, cell.PrepareContextLen, len(content))
	deduped := dedupLines(cell.PreparedDNA, delta)
	compressed := m.compress(deduped)

	if len(compressed) < m.cfg.MinDeltaLen {
		return cell.PreparedDNA
	}
	return cell.PreparedDNA + recentUpdatesHeader + compressed
}

func (m *Mitosis) compress(delta string) string {
	if m.c == nil {
		return delta
	}
	return string(m.c.Encode([]byte(delta)))
}

// CompleteApoptosis is callable once a parent has begun apoptosis,
// finalizing its terminal bookkeeping (spec §4.6).
func (m *Mitosis) CompleteApoptosis(cell *Cell) error {
	if cell.State != StateApoptotic {
		return masc.InvalidTransition(string(cell.State), string(StateApoptotic))
	}
	return nil
}

func handoffPrompt(dna string) string {
	return fmt.Sprintf("You are a successor agent. Resume from this context summary:\n\n%s", dna)
}
