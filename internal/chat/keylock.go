package chat

import "sync"

// keyLock serialises work per room key. Entries are reference counted
// and removed when the last holder unlocks.
type keyLock struct {
	mu    sync.Mutex
	locks map[RoomKey]*keyLockEntry
}

type keyLockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyLock() *keyLock {
	return &keyLock{locks: make(map[RoomKey]*keyLockEntry)}
}

// Lock acquires key and returns its unlock function.
func (k *keyLock) Lock(key RoomKey) func() {
	k.mu.Lock()
	e := k.locks[key]
	if e == nil {
		e = &keyLockEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyLock) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
