package services

import (
	"context"
	"sync"
)

// keyedLocker serialises work per key (an order id) while letting different keys proceed
// in parallel. Entries are reference counted and dropped once no caller holds or awaits them.
type keyedLocker struct {
	mu      sync.Mutex
	entries map[string]*keyedLockEntry
}

type keyedLockEntry struct {
	sem  chan struct{}
	refs int
}

func newKeyedLocker() *keyedLocker {
	return &keyedLocker{entries: make(map[string]*keyedLockEntry)}
}

// Lock blocks until key is free or ctx is done. The returned func releases the lock and
// must be called exactly once.
func (l *keyedLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	entry, ok := l.entries[key]
	if !ok {
		entry = &keyedLockEntry{sem: make(chan struct{}, 1)}
		l.entries[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	select {
	case entry.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(key, entry)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-entry.sem
			l.release(key, entry)
		})
	}, nil
}

func (l *keyedLocker) release(key string, entry *keyedLockEntry) {
	l.mu.Lock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.entries, key)
	}
	l.mu.Unlock()
}

func (l *keyedLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
