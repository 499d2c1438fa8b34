package sync

import (
	"sync"
)

// TokenLocks is a keyed mutex over import tokens. It serializes the
// check-then-write sequence for one token while leaving other tokens free.
// Entries are dropped as soon as nobody holds or waits for them.
type TokenLocks struct {
	mu    sync.Mutex
	locks map[string]*tokenLock
}

type tokenLock struct {
	mu   sync.Mutex
	refs int
}

// NewTokenLocks creates an empty lock set
func NewTokenLocks() *TokenLocks {
	return &TokenLocks{locks: make(map[string]*tokenLock)}
}

// Lock blocks until token is free and returns the matching unlock func
func (l *TokenLocks) Lock(token string) (unlock func()) {
	l.mu.Lock()
	entry, ok := l.locks[token]
	if !ok {
		entry = &tokenLock{}
		l.locks[token] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, token)
		}
		l.mu.Unlock()
	}
}

// Len returns the number of tokens currently held or waited on
func (l *TokenLocks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
