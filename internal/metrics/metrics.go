// Package metrics holds process-local counters for room operations and
// session admission decisions. Nothing here is exposed over HTTP — the
// counters exist for mascd to log a snapshot, not to be scraped.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles the counters a running daemon cares about.
type Registry struct {
	reg *prometheus.Registry

	RoomOps    *prometheus.CounterVec
	SessionOps *prometheus.CounterVec
}

// New builds a Registry with all collectors registered.
func New() *Registry {
	reg := prometheus.NewRegistry()

	roomOps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "masc_room_operations_total",
		Help: "Room operations by type and outcome.",
	}, []string{"op", "result"})

	sessionOps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "masc_session_allow_total",
		Help: "Session admission decisions by category and outcome.",
	}, []string{"category", "result"})

	reg.MustRegister(roomOps, sessionOps)

	return &Registry{reg: reg, RoomOps: roomOps, SessionOps: sessionOps}
}

// RoomOp increments the counter for a room operation outcome. result is
// typically "ok" or "error".
func (r *Registry) RoomOp(op, result string) {
	r.RoomOps.WithLabelValues(op, result).Inc()
}

// SessionAllow increments the counter for a session admission decision.
// result is "allowed" or "denied".
func (r *Registry) SessionAllow(category, result string) {
	r.SessionOps.WithLabelValues(category, result).Inc()
}

// Snapshot gathers the current counter values as a flat label->value map,
// suitable for a single structured log line.
func (r *Registry) Snapshot() (map[string]float64, error) {
	families, err := r.reg.Gather()
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64)
	for _, fam := range families {
		for _, m := range fam.GetMetric() {
			key := fam.GetName()
			for _, lp := range m.GetLabel() {
				key += "_" + lp.GetValue()
			}
			out[key] = m.GetCounter().GetValue()
		}
	}
	return out, nil
}
