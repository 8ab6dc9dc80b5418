// internal/session/locks.go
//
// Per-user mutual exclusion for session mutations. The cache offers no
// atomic read-modify-write, so the engine serializes Start/Advance/
// SubmitGuess/Reset per user id while requests for different users run
// fully in parallel.

package session

import "sync"

// keyedMutex hands out one mutex per key. Entries are never evicted; the
// map grows with the number of distinct users seen by this process, which
// is bounded and small relative to a session document.
type keyedMutex struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{m: make(map[string]*sync.Mutex)}
}

// lock acquires the mutex for key and returns its unlock function.
func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	m, ok := k.m[key]
	if !ok {
		m = &sync.Mutex{}
		k.m[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
