package breaker

import "sync"

// Process-wide breaker registry, one instance per guarded resource: each
// upstream provider, the database, and the Redis backend. Health reporting
// reads the snapshots.

var (
	registryMu sync.RWMutex
	registry   = map[string]*Breaker{}
)

// Register creates (or replaces) the breaker for a named resource.
func Register(name string, cfg Config) *Breaker {
	b := New(name, cfg)
	registryMu.Lock()
	registry[name] = b
	registryMu.Unlock()
	return b
}

// Get returns the breaker for name, or nil when none is registered. A nil
// breaker means the caller runs unguarded.
func Get(name string) *Breaker {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return registry[name]
}

// Snapshots returns the current state of every registered breaker, for the
// health endpoint.
func Snapshots() []Snapshot {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]Snapshot, 0, len(registry))
	for _, b := range registry {
		out = append(out, b.GetState())
	}
	return out
}
