package resilience

import "sync"

// Registry holds one breaker per protected operation name, created on first
// use. Construct a registry explicitly and inject it where needed; there is
// no package-level instance.
type Registry struct {
	mu       sync.Mutex
	defaults BreakerOptions
	breakers map[string]*Breaker
}

// RegistrySnapshot summarizes breaker states for the health monitor.
type RegistrySnapshot struct {
	Total    int
	Open     int
	HalfOpen int
}

// NewRegistry creates a registry whose breakers default to the given options.
func NewRegistry(defaults BreakerOptions) *Registry {
	defaults.applyDefaults()
	return &Registry{
		defaults: defaults,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for name, creating it with the registry defaults
// on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[name]
	if !ok {
		b = NewBreaker(name, r.defaults)
		r.breakers[name] = b
	}
	return b
}

// All returns the current breakers, in no particular order.
func (r *Registry) All() []*Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		out = append(out, b)
	}
	return out
}

// Snapshot counts breakers by state.
func (r *Registry) Snapshot() RegistrySnapshot {
	snap := RegistrySnapshot{}
	for _, b := range r.All() {
		snap.Total++
		switch b.State() {
		case Open:
			snap.Open++
		case HalfOpen:
			snap.HalfOpen++
		}
	}
	return snap
}
