// Package keymutex provides mutual exclusion keyed by an arbitrary string.
//
// The ping/punish pipeline uses it to enforce a single-writer discipline per
// member id: a reminder tick and a punish tick touching the same member take
// the same lock, so the awaiting flag and its ping record cannot interleave.
package keymutex

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// KeyMutex hands out one mutex per key. Idle entries are released so the
// map stays bounded by the number of keys currently locked.
type KeyMutex struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func New() *KeyMutex {
	return &KeyMutex{entries: map[string]*entry{}}
}

func (k *KeyMutex) Lock(key string) {
	k.mu.Lock()
	e := k.entries[key]
	if e == nil {
		e = &entry{}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
}

func (k *KeyMutex) Unlock(key string) {
	k.mu.Lock()
	e := k.entries[key]
	if e == nil {
		k.mu.Unlock()
		panic("keymutex: unlock of unheld key " + key)
	}
	e.refs--
	if e.refs == 0 {
		delete(k.entries, key)
	}
	k.mu.Unlock()

	e.mu.Unlock()
}

// Do runs fn while holding the key's lock.
func (k *KeyMutex) Do(key string, fn func()) {
	k.Lock(key)
	defer k.Unlock(key)
	fn()
}
