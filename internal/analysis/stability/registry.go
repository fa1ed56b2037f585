package stability

import (
	"sort"
	"sync"
)

// entry owns the state of one key. Its mutex serializes read-modify-write cycles
// for that key only. An entry is live once a state has been committed to it; a
// dropped entry has been removed from the map and must not be used.
type entry struct {
	mu      sync.Mutex
	state   State
	live    bool
	dropped bool
}

// Registry maps instrument/timeframe keys to independent classification states.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*entry),
	}
}

// get returns or creates the entry for key.
func (r *Registry) get(key string) *entry {
	r.mu.RLock()
	if e, ok := r.entries[key]; ok {
		r.mu.RUnlock()
		return e
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if e, ok := r.entries[key]; ok {
		return e
	}

	e := &entry{}
	r.entries[key] = e
	return e
}

// Update runs fn with the current state of key while holding that key's lock. The
// returned state is committed only when fn returns commit true and a nil error;
// otherwise the previous state is kept. A key that has never committed a state is
// not tracked afterwards. Calls for different keys never block each other.
func (r *Registry) Update(key string, fn func(prev State) (next State, commit bool, err error)) error {
	for {
		e := r.get(key)
		e.mu.Lock()
		if e.dropped {
			e.mu.Unlock()
			continue
		}

		next, commit, err := fn(e.state)
		if err == nil && commit {
			e.state = next
			e.live = true
		}
		if !e.live {
			r.drop(key, e)
		}
		e.mu.Unlock()
		return err
	}
}

// drop removes e from the map. The caller holds e.mu.
func (r *Registry) drop(key string, e *entry) {
	r.mu.Lock()
	if r.entries[key] == e {
		delete(r.entries, key)
	}
	r.mu.Unlock()
	e.dropped = true
}

// Get returns a snapshot of the state of key.
func (r *Registry) Get(key string) (State, bool) {
	r.mu.RLock()
	e, ok := r.entries[key]
	r.mu.RUnlock()
	if !ok {
		return State{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.live {
		return State{}, false
	}
	return e.state, true
}

// Clear removes the state of key. It reports whether the key existed.
func (r *Registry) Clear(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[key]; !ok {
		return false
	}
	delete(r.entries, key)
	return true
}

// Keys returns all tracked keys in sorted order. A key whose first update is still
// running may be included.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of tracked keys.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
