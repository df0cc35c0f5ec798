package room

import (
	"context"
	"encoding/json"
	"time"

	"github.com/masc-run/masc/internal/masc"
)

func synapseKey(from, to string) string { return "synapses:" + from + ":" + to }

// UpsertSynapse records a success/failure observation between two agents.
// The schema lives here because Backend owns all persistent state, but
// the weighting and decay logic belong to the Hebbian learning consumer,
// out of scope for this core (spec §3).
func (r *Room) UpsertSynapse(ctx context.Context, from, to string, success bool, weight float64) (*Synapse, error) {
	if err := r.requireInit(ctx); err != nil {
		return nil, err
	}
	if err := validateAgentAndTask(from, ""); err != nil {
		return nil, err
	}
	if err := validateAgentAndTask(to, ""); err != nil {
		return nil, err
	}

	var out *Synapse
	err := r.withNamedLock(ctx, synapseKey(from, to), func(ctx context.Context) error {
		s, found, err := r.getSynapse(ctx, from, to)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		if !found {
			s = &Synapse{From: from, To: to, CreatedAt: now}
		}
		s.Weight = weight
		if success {
			s.SuccessCount++
		} else {
			s.FailureCount++
		}
		s.LastUpdated = now
		out = s
		raw, err := json.Marshal(s)
		if err != nil {
			return masc.IoError("marshal synapse", err)
		}
		return r.backend.Set(ctx, synapseKey(from, to), raw)
	})
	return out, err
}

func (r *Room) getSynapse(ctx context.Context, from, to string) (*Synapse, bool, error) {
	raw, found, err := r.backend.Get(ctx, synapseKey(from, to))
	if err != nil || !found {
		return nil, found, err
	}
	var s Synapse
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, false, masc.IoError("decode synapse", err)
	}
	return &s, true, nil
}
