// Package health aggregates named subsystem probes for the liveness and
// readiness endpoints. Probes are cheap by contract; each one runs under
// a short deadline so a wedged dependency cannot hang the health route.
package health

import (
	"context"
	"sync"
	"time"
)

// checkTimeout bounds a single probe.
const checkTimeout = 2 * time.Second

// Status is the result of one subsystem probe.
type Status struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Probe reports on one subsystem. Implementations must respect ctx.
type Probe func(ctx context.Context) Status

// OK is a convenience result for a healthy probe.
func OK(name string) Status {
	return Status{Name: name, Healthy: true}
}

// Failing builds an unhealthy result with a detail message.
func Failing(name, detail string) Status {
	return Status{Name: name, Healthy: false, Detail: detail}
}

// Registry holds named probes and runs them on demand. Registration
// order is preserved in the output.
type Registry struct {
	mu     sync.RWMutex
	probes []registered
}

type registered struct {
	name  string
	probe Probe
}

// NewRegistry creates an empty probe registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a named probe. Later registrations with the same name
// are kept; they show up as separate entries.
func (r *Registry) Register(name string, probe Probe) {
	r.mu.Lock()
	r.probes = append(r.probes, registered{name: name, probe: probe})
	r.mu.Unlock()
}

// Check runs every probe and reports the aggregate. healthy is true only
// when all probes pass; an empty registry is healthy.
func (r *Registry) Check(ctx context.Context) (healthy bool, statuses []Status) {
	r.mu.RLock()
	probes := make([]registered, len(r.probes))
	copy(probes, r.probes)
	r.mu.RUnlock()

	healthy = true
	statuses = make([]Status, 0, len(probes))
	for _, p := range probes {
		pctx, cancel := context.WithTimeout(ctx, checkTimeout)
		st := p.probe(pctx)
		cancel()
		if st.Name == "" {
			st.Name = p.name
		}
		if !st.Healthy {
			healthy = false
		}
		statuses = append(statuses, st)
	}
	return healthy, statuses
}
