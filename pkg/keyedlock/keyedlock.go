// Package keyedlock provides mutual exclusion scoped to an arbitrary
// string key. It is used to serialize operations on the same logical
// entity, e.g. all registration attempts for one hardware identifier.
//
// Locks are created lazily on first use and removed once the last holder
// or waiter releases, so the backing map does not grow with the number of
// keys ever seen. Keys are compared case-insensitively because hardware
// identifiers and tokens may arrive with inconsistent casing.
//
// The lock is not reentrant: acquiring the same key from within a held
// section deadlocks.
package keyedlock

import (
	"context"
	"strings"
	"sync"
)

// entry is one live lock. refs counts holders plus waiters; the entry is
// dropped from the map when refs returns to zero.
type entry struct {
	ch   chan struct{}
	refs int
}

// KeyedLock is a set of lazily-created per-key mutexes.
// The zero value is not usable; call New.
type KeyedLock struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New creates an empty KeyedLock.
func New() *KeyedLock {
	return &KeyedLock{
		entries: make(map[string]*entry),
	}
}

// WithLock runs fn while holding the lock for key. The lock is released
// even if fn returns an error, and fn's error is returned unchanged.
func (l *KeyedLock) WithLock(key string, fn func() error) error {
	e := l.acquireEntry(key)
	e.ch <- struct{}{}
	defer l.release(key, e)
	return fn()
}

// WithLockCtx is WithLock with cancellable acquisition. If ctx is done
// before the lock is acquired, fn does not run and ctx.Err() is returned.
func (l *KeyedLock) WithLockCtx(ctx context.Context, key string, fn func() error) error {
	e := l.acquireEntry(key)
	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.dropRef(key, e)
		return ctx.Err()
	}
	defer l.release(key, e)
	return fn()
}

// Len returns the number of live lock entries. Used in tests to verify
// that uncontended keys do not leak.
func (l *KeyedLock) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func normalize(key string) string {
	return strings.ToLower(key)
}

func (l *KeyedLock) acquireEntry(key string) *entry {
	key = normalize(key)
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	return e
}

func (l *KeyedLock) release(key string, e *entry) {
	<-e.ch
	l.dropRef(key, e)
}

func (l *KeyedLock) dropRef(key string, e *entry) {
	key = normalize(key)
	l.mu.Lock()
	defer l.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}
