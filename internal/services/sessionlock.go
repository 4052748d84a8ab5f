package services

import (
	"strconv"
	"sync"
)

// sessionLocks serializes work per (user, session) key. Entries are
// reference counted and removed once the last holder unlocks, so the map
// only holds sessions with an exchange in flight. The zero value is ready
// to use.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func sessionKey(userID, sessionID string) string {
	// Length prefix keeps ("a:b","c") and ("a","b:c") apart.
	return strconv.Itoa(len(userID)) + ":" + userID + sessionID
}

// lock blocks until the caller owns key and returns the matching unlock.
func (l *sessionLocks) lock(key string) (unlock func()) {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*sessionLock)
	}
	e, ok := l.locks[key]
	if !ok {
		e = &sessionLock{}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

// size reports the number of keys currently held or awaited.
func (l *sessionLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
