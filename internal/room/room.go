package room

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/masc-run/masc/internal/audit"
	"github.com/masc-run/masc/internal/backend"
	"github.com/masc-run/masc/internal/masc"
	"github.com/masc-run/masc/internal/metrics"
	"github.com/masc-run/masc/internal/validate"
)

const (
	stateKey        = "state"
	backlogKey      = "tasks:backlog"
	messageSeqKey   = "messages:__seq__"
	defaultLockTTL  = 30 * time.Minute
	lockAcquireWait = 50 * time.Millisecond
	maxLockAttempts = 20
)

// Room wires the spec §4.3 state machine to a Backend. It holds no
// in-memory copy of room state: every operation reads-modifies-writes
// through the backend under a named lock, so any number of Room values
// pointed at the same backend observe the same state.
type Room struct {
	backend backend.Backend
	audit   *audit.Writer
	logger  *slog.Logger
	metrics *metrics.Registry

	lockTTL time.Duration
}

// New returns a Room backed by b, logging audit records under auditRoot.
func New(b backend.Backend, auditRoot string, logger *slog.Logger) *Room {
	if logger == nil {
		logger = masc.NewLogger("room")
	}
	return &Room{
		backend: b,
		audit:   audit.NewWriter(auditRoot),
		logger:  logger,
		metrics: metrics.New(),
		lockTTL: defaultLockTTL,
	}
}

// Metrics returns the Room's operation counters for a caller (mascd) to
// snapshot and log.
func (r *Room) Metrics() *metrics.Registry { return r.metrics }

// Init seeds state.json iff absent; re-running Init on an already
// initialized room is a no-op (spec §4.3).
func (r *Room) Init(ctx context.Context) error {
	raw, err := json.Marshal(roomState{CreatedAt: time.Now().UTC(), Version: 1})
	if err != nil {
		return masc.IoError("marshal room state", err)
	}
	created, err := r.backend.SetIfAbsent(ctx, stateKey, raw)
	if err != nil {
		return err
	}
	if created {
		r.logger.Info("room initialized")
	}
	return nil
}

// requireInit is called by every non-Init operation (spec §7:
// NOT_INITIALIZED is raised by any operation before Init has run).
func (r *Room) requireInit(ctx context.Context) error {
	ok, err := r.backend.Exists(ctx, stateKey)
	if err != nil {
		return err
	}
	if !ok {
		return masc.New(masc.CodeNotInitialized, "room has not been initialized")
	}
	return nil
}

// withNamedLock runs fn while holding a short-lived backend lock on
// "locks:"+name, retrying acquisition at most maxLockAttempts times, 50ms
// apart (spec §4.3/§4.5: "≤ 20 attempts, 50 ms sleep"), failing with
// FileLocked on exhaustion. This is Room's single mutual-exclusion
// primitive for read-modify-write document updates (backlog, agent
// records, message sequence).
func (r *Room) withNamedLock(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	owner := "room-internal:" + name
	for attempt := 0; ; attempt++ {
		ok, err := r.backend.AcquireLock(ctx, name, owner, 5*time.Second)
		if err != nil {
			return err
		}
		if ok {
			break
		}
		if attempt+1 >= maxLockAttempts {
			return masc.FileLocked(name, "")
		}
		select {
		case <-ctx.Done():
			return masc.FileLocked(name, "")
		case <-time.After(lockAcquireWait):
		}
	}
	defer func() {
		if _, err := r.backend.ReleaseLock(ctx, name, owner); err != nil {
			r.logger.Warn("failed to release internal lock", "name", name, "err", err)
		}
	}()
	return fn(ctx)
}

func (r *Room) recordEvent(eventType string, fields map[string]any) {
	if err := r.audit.Write(audit.Record{Type: eventType, Ts: time.Now().UTC(), Fields: fields}); err != nil {
		r.logger.Warn("audit write failed", "type", eventType, "err", err)
		r.metrics.RoomOp(eventType, "error")
		return
	}
	r.metrics.RoomOp(eventType, "ok")
}

// RecordEvent lets Bounded and Mitosis write audit records through Room
// rather than opening their own Writer (spec §2's control-flow note).
func (r *Room) RecordEvent(eventType string, fields map[string]any) {
	r.recordEvent(eventType, fields)
}

func agentKey(name string) string { return "agents:" + name }

func validateAgentAndTask(agent, task string) error {
	if agent != "" {
		if err := validate.AgentID(agent); err != nil {
			return err
		}
	}
	if task != "" {
		if err := validate.TaskID(task); err != nil {
			return err
		}
	}
	return nil
}
