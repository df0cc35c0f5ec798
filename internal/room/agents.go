package room

import (
	"context"
	"encoding/json"
	"time"

	"github.com/masc-run/masc/internal/masc"
)

// zombieAfter is the heartbeat staleness threshold the sweep applies
// (spec §4.3: a 60s periodic sweep removes agents past this age).
const zombieAfter = 90 * time.Second

// Join registers agent, or refreshes it if already present (re-join after
// a restart is idempotent, matching Init's semantics for state.json).
func (r *Room) Join(ctx context.Context, name string, capabilities []string) (*Agent, error) {
	if err := r.requireInit(ctx); err != nil {
		return nil, err
	}
	if err := validateAgentAndTask(name, ""); err != nil {
		return nil, err
	}

	var out *Agent
	err := r.withNamedLock(ctx, agentKey(name), func(ctx context.Context) error {
		now := time.Now().UTC()
		existing, found, err := r.getAgent(ctx, name)
		if err != nil {
			return err
		}
		if found {
			existing.Status = AgentOnline
			existing.LastSeen = now
			if capabilities != nil {
				existing.Capabilities = capabilities
			}
			out = existing
			return r.putAgent(ctx, existing)
		}
		a := &Agent{
			Name:         name,
			Status:       AgentOnline,
			Capabilities: capabilities,
			LastSeen:     now,
			JoinedAt:     now,
		}
		out = a
		return r.putAgent(ctx, a)
	})
	if err != nil {
		return nil, err
	}
	r.recordEvent("agent_joined", map[string]any{"agent": name})
	return out, nil
}

// Leave removes agent's registry entry entirely (spec's Data Model: the
// Agent entity is "removed by leave or zombie sweep"). Leaving an agent
// that never joined is reported as NotFound.
func (r *Room) Leave(ctx context.Context, name string) error {
	if err := r.requireInit(ctx); err != nil {
		return err
	}
	return r.withNamedLock(ctx, agentKey(name), func(ctx context.Context) error {
		_, found, err := r.getAgent(ctx, name)
		if err != nil {
			return err
		}
		if !found {
			return masc.NotFound("agent", name)
		}
		if err := r.backend.Delete(ctx, agentKey(name)); err != nil {
			return err
		}
		r.recordEvent("agent_left", map[string]any{"agent": name})
		return nil
	})
}

// Heartbeat refreshes last_seen and optionally the status, keeping the
// agent out of the zombie sweep's reach.
func (r *Room) Heartbeat(ctx context.Context, name string, status AgentStatus) error {
	if err := r.requireInit(ctx); err != nil {
		return err
	}
	return r.withNamedLock(ctx, agentKey(name), func(ctx context.Context) error {
		a, found, err := r.getAgent(ctx, name)
		if err != nil {
			return err
		}
		if !found {
			return masc.NotFound("agent", name)
		}
		a.LastSeen = time.Now().UTC()
		if status != "" {
			a.Status = status
		}
		return r.putAgent(ctx, a)
	})
}

// GetAgent returns the agent record, or NotFound.
func (r *Room) GetAgent(ctx context.Context, name string) (*Agent, error) {
	if err := r.requireInit(ctx); err != nil {
		return nil, err
	}
	a, found, err := r.getAgent(ctx, name)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, masc.NotFound("agent", name)
	}
	return a, nil
}

// ListAgents enumerates every registered agent, including offline ones.
func (r *Room) ListAgents(ctx context.Context) ([]*Agent, error) {
	if err := r.requireInit(ctx); err != nil {
		return nil, err
	}
	all, err := r.backend.GetAll(ctx, "agents:")
	if err != nil {
		return nil, err
	}
	out := make([]*Agent, 0, len(all))
	for _, raw := range all {
		var a Agent
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, masc.IoError("decode agent record", err)
		}
		out = append(out, &a)
	}
	return out, nil
}

// SweepZombies removes every agent whose last heartbeat is older than
// zombieAfter (spec's Glossary calls this a "periodic removal"),
// releasing no locks or task claims — a crashed agent's claimed task and
// file locks are reclaimed independently, by lock TTL expiry and
// explicit release.
func (r *Room) SweepZombies(ctx context.Context) (int, error) {
	if err := r.requireInit(ctx); err != nil {
		return 0, err
	}
	agents, err := r.ListAgents(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().UTC().Add(-zombieAfter)
	swept := 0
	for _, a := range agents {
		if !a.LastSeen.Before(cutoff) {
			continue
		}
		name := a.Name
		removed := false
		err := r.withNamedLock(ctx, agentKey(name), func(ctx context.Context) error {
			cur, found, err := r.getAgent(ctx, name)
			if err != nil || !found {
				return err
			}
			if !cur.LastSeen.Before(cutoff) {
				return nil
			}
			removed = true
			return r.backend.Delete(ctx, agentKey(name))
		})
		if err != nil {
			return swept, err
		}
		if !removed {
			continue
		}
		swept++
		r.recordEvent("agent_zombie_swept", map[string]any{"agent": name, "last_seen": a.LastSeen})
	}
	return swept, nil
}

func (r *Room) getAgent(ctx context.Context, name string) (*Agent, bool, error) {
	raw, found, err := r.backend.Get(ctx, agentKey(name))
	if err != nil || !found {
		return nil, found, err
	}
	var a Agent
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, false, masc.IoError("decode agent record", err)
	}
	return &a, true, nil
}

func (r *Room) putAgent(ctx context.Context, a *Agent) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return masc.IoError("marshal agent record", err)
	}
	return r.backend.Set(ctx, agentKey(a.Name), raw)
}
