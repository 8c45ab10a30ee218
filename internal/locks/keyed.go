// Package locks provides a keyed advisory mutex used to serialize
// read-modify-write cycles on per-account metadata documents.
package locks

import "sync"

// Keyed hands out one mutex per key. Entries are never evicted; the key
// space (onboarded account identities) is small and bounded.
type Keyed struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewKeyed creates an empty keyed mutex set.
func NewKeyed() *Keyed {
	return &Keyed{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for key and returns its unlock function.
func (k *Keyed) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
