// Package mitosis implements the two-phase agent context handoff
// protocol from spec §4.6: a Cell's effective lifetime is bounded by
// elapsed time, task/tool counters, or an external context-ratio signal,
// and handoff hands a compressed DNA summary to a freshly activated
// successor while the parent begins apoptosis.
package mitosis

import "time"

// State is a Cell's position in Stem -> Active -> Prepared -> Dividing
// -> Apoptotic.
type State string

const (
	StateStem      State = "stem"
	StateActive    State = "active"
	StatePrepared  State = "prepared"
	StateDividing  State = "dividing"
	StateApoptotic State = "apoptotic"
)

// Phase is a Cell's handoff readiness, orthogonal to State.
type Phase string

const (
	PhaseIdle            Phase = "idle"
	PhaseReadyForHandoff Phase = "ready_for_handoff"
)

// Cell models one agent's effective lifetime (spec §4.6).
type Cell struct {
	ID         string
	Generation int
	State      State
	Phase      Phase

	Birth     time.Time
	TaskCount int
	ToolCalls int

	CurrentDNA  string
	PreparedDNA string

	// PrepareContextLen is the context length at the moment Prepare ran,
	// used to slice the delta at Handoff time.
	PrepareContextLen int
}

// NewCell returns a fresh Stem cell of the given generation.
func NewCell(id string, generation int) *Cell {
	return &Cell{ID: id, Generation: generation, State: StateStem, Phase: PhaseIdle, Birth: time.Now()}
}

// Activate transitions a Stem cell to Active, recording its generation.
func (c *Cell) Activate(generation int) {
	c.State = StateActive
	c.Generation = generation
	c.Birth = time.Now()
}

// TriggersDue reports whether any of the time/task/tool triggers fired
// (spec §4.6's "Triggers" list, independent of the context-ratio
// thresholds that gate Prepare/Handoff itself).
func (c *Cell) TriggersDue(cfg Config) bool {
	if cfg.TimeElapsedTrigger > 0 && time.Since(c.Birth) >= time.Duration(cfg.TimeElapsedTrigger)*time.Second {
		return true
	}
	if cfg.TaskCompletionsTrigger > 0 && c.TaskCount >= cfg.TaskCompletionsTrigger {
		return true
	}
	if cfg.ToolCallsTrigger > 0 && c.ToolCalls >= cfg.ToolCallsTrigger {
		return true
	}
	return false
}
