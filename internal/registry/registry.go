// Package registry holds the discovery components hassflux currently
// knows about, keyed by unique id.
//
// Writers are serialized by a mutex and publish a new immutable
// snapshot on every change. Readers load the current snapshot without
// locking, so topic matching, payload decoding and sink writes never
// wait behind a registration, and a snapshot handed out by [Registry.MatchAll]
// is never modified afterwards.
package registry

import (
	"sync"
	"sync/atomic"

	"github.com/nugget/hassflux/internal/discovery"
	"github.com/nugget/hassflux/internal/topic"
)

// Registry is a concurrency-safe set of components with at most one
// entry per unique id. The zero value is not usable; call [New].
type Registry struct {
	mu   sync.Mutex // serializes writers
	snap atomic.Pointer[[]discovery.Component]
}

// New returns an empty registry.
func New() *Registry {
	r := &Registry{}
	empty := []discovery.Component{}
	r.snap.Store(&empty)
	return r
}

// Upsert replaces any component with the same unique id by c. The
// replaced entry is removed and c is appended, so iteration order is
// registration order. It reports whether the state topic is new or
// changed, which means the caller must subscribe to c.StateTopic.
func (r *Registry) Upsert(c discovery.Component) (changed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := *r.snap.Load()
	next := make([]discovery.Component, 0, len(old)+1)

	changed = true
	for _, existing := range old {
		if existing.UniqueID == c.UniqueID {
			changed = existing.StateTopic != c.StateTopic
			continue
		}
		next = append(next, existing)
	}
	next = append(next, c)

	r.snap.Store(&next)
	return changed
}

// MatchAll returns every registered component whose state topic covers
// the concrete topic. The result is a fresh slice owned by the caller.
func (r *Registry) MatchAll(concrete string) []discovery.Component {
	var out []discovery.Component
	for _, c := range *r.snap.Load() {
		if topic.Matches(concrete, c.StateTopic) {
			out = append(out, c)
		}
	}
	return out
}

// Get returns the component registered under uniqueID.
func (r *Registry) Get(uniqueID string) (discovery.Component, bool) {
	for _, c := range *r.snap.Load() {
		if c.UniqueID == uniqueID {
			return c, true
		}
	}
	return discovery.Component{}, false
}

// StateTopics returns the distinct state topics of all registered
// components, in registration order. The MQTT client resubscribes to
// these after a reconnect.
func (r *Registry) StateTopics() []string {
	seen := make(map[string]bool)
	var topics []string
	for _, c := range *r.snap.Load() {
		if seen[c.StateTopic] {
			continue
		}
		seen[c.StateTopic] = true
		topics = append(topics, c.StateTopic)
	}
	return topics
}

// Len returns the number of registered components.
func (r *Registry) Len() int {
	return len(*r.snap.Load())
}
