// Package activity tracks long-running in-daemon work that must block idle
// shutdown: attached debug sessions, live log captures, spawned
// subprocesses. It is a plain reference-counted registry with no ambient
// global; the daemon constructs one instance and threads it through the
// server and the idle monitor.
package activity

import "sync"

// Registry holds per-key reference counts. Safe for concurrent use.
type Registry struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{counts: make(map[string]int)}
}

// Lease marks one unit of in-flight work. Release is idempotent: the second
// and later calls are no-ops, so error paths can release defensively.
type Lease struct {
	registry *Registry
	key      string
	once     sync.Once
}

// Acquire increments the count for key and returns the lease that undoes it.
// The caller that started the long-running work owns the lease and must
// release it exactly once when that work ends, including on error paths.
func (r *Registry) Acquire(key string) *Lease {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[key]++
	return &Lease{registry: r, key: key}
}

// Release decrements the lease's key, deleting it at zero. Safe to call more
// than once; only the first call has an effect.
func (l *Lease) Release() {
	l.once.Do(func() {
		r := l.registry
		r.mu.Lock()
		defer r.mu.Unlock()
		if n := r.counts[l.key]; n > 1 {
			r.counts[l.key] = n - 1
		} else {
			delete(r.counts, l.key)
		}
	})
}

// Total returns the sum of all counts. The idle monitor treats any non-zero
// total as "work in progress".
func (r *Registry) Total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, n := range r.counts {
		total += n
	}
	return total
}

// Count returns the count for one key.
func (r *Registry) Count(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[key]
}

// Snapshot returns a copy of the current counts, for status reporting.
func (r *Registry) Snapshot() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int, len(r.counts))
	for k, n := range r.counts {
		out[k] = n
	}
	return out
}
