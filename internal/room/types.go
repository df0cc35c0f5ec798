// Package room implements the Room state machine from spec §4.3: agent
// registry, task backlog with status transitions, broadcast message log,
// advisory file locks, and git-worktree bookkeeping, layered on Backend
// with TOCTOU-safe mutation under one logical lock per key family.
package room

import "time"

// AgentStatus is one of the four lifecycle states from spec §3.
type AgentStatus string

const (
	AgentOnline  AgentStatus = "online"
	AgentIdle    AgentStatus = "idle"
	AgentBusy    AgentStatus = "busy"
	AgentOffline AgentStatus = "offline"
)

// Agent is the agents:<name> entity from spec §3.
type Agent struct {
	Name         string      `json:"name"`
	Status       AgentStatus `json:"status"`
	Capabilities []string    `json:"capabilities"`
	CurrentTask  string      `json:"current_task,omitempty"`
	LastSeen     time.Time   `json:"last_seen"`
	JoinedAt     time.Time   `json:"joined_at"`
}

// TaskStatus names the task's position in the Todo -> Claimed -> InProgress
// -> Done state machine; Cancelled is reachable from any non-terminal
// state (spec §3).
type TaskStatus string

const (
	TaskTodo       TaskStatus = "todo"
	TaskClaimed    TaskStatus = "claimed"
	TaskInProgress TaskStatus = "in_progress"
	TaskDone       TaskStatus = "done"
	TaskCancelled  TaskStatus = "cancelled"
)

func (s TaskStatus) terminal() bool {
	return s == TaskDone || s == TaskCancelled
}

// Task is the tasks:<id> entity, carried inside the single backlog
// document (spec §3/§4.3).
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Priority    int        `json:"priority"`
	Status      TaskStatus `json:"status"`
	By          string     `json:"by,omitempty"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Notes       string     `json:"notes,omitempty"`
	Worktree    string     `json:"worktree,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// backlog is the full tasks:backlog document.
type backlog struct {
	Tasks map[string]*Task `json:"tasks"`
}

// Message is the messages:<seq> entity (spec §3): append-only, seq
// strictly increasing per room.
type Message struct {
	Seq       uint64    `json:"seq"`
	FromAgent string    `json:"from_agent"`
	Content   string    `json:"content"`
	Mention   string    `json:"mention,omitempty"`
	Ts        time.Time `json:"ts"`
}

// Synapse is the synapses:<from>:<to> entity. Its schema lives in core
// storage even though the only consumer (Hebbian learning) is out of
// scope for this core (spec §3).
type Synapse struct {
	From         string    `json:"from"`
	To           string    `json:"to"`
	Weight       float64   `json:"weight"`
	SuccessCount int       `json:"success_count"`
	FailureCount int       `json:"failure_count"`
	LastUpdated  time.Time `json:"last_updated"`
	CreatedAt    time.Time `json:"created_at"`
}

// state.json: seeded by Init, idempotent on re-init.
type roomState struct {
	CreatedAt time.Time `json:"created_at"`
	Version   int       `json:"version"`
}
