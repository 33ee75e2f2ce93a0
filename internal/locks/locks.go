// Package locks serializes concurrent work per conversation and
// deduplicates provider webhook deliveries.
package locks

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// Keyed hands out one mutex per key. Entries are reclaimed when the last
// holder releases, so the map stays bounded by in-flight keys.
type Keyed struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewKeyed builds an empty keyed lock set.
func NewKeyed() *Keyed {
	return &Keyed{entries: map[string]*entry{}}
}

// Lock blocks until the key's mutex is held and returns the release func.
func (k *Keyed) Lock(key string) func() {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &entry{}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.entries, key)
		}
		k.mu.Unlock()
	}
}
