package banking

import (
	"context"
	"sort"
	"sync"
)

// =============================================================================
// KEYED LOCKER - In-process per-account mutual exclusion
// =============================================================================

// KeyedLocker is a Locker for single-instance deployments. Waiting honours
// context cancellation. Entries are reference counted and dropped when idle.
type KeyedLocker struct {
	mu    sync.Mutex
	locks map[AccountID]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

var _ Locker = (*KeyedLocker)(nil)

func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{locks: make(map[AccountID]*keyLock)}
}

// Lock acquires every id in ascending order. On failure, locks already taken
// are released before returning.
func (l *KeyedLocker) Lock(ctx context.Context, ids ...AccountID) (func(), error) {
	ordered := SortedUnique(ids)
	held := make([]AccountID, 0, len(ordered))
	for _, id := range ordered {
		if err := l.acquire(ctx, id); err != nil {
			l.releaseAll(held)
			return nil, err
		}
		held = append(held, id)
	}

	var once sync.Once
	return func() { once.Do(func() { l.releaseAll(held) }) }, nil
}

func (l *KeyedLocker) acquire(ctx context.Context, id AccountID) error {
	l.mu.Lock()
	kl, ok := l.locks[id]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[id] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.release(id, false)
		return ctx.Err()
	}
}

func (l *KeyedLocker) release(id AccountID, held bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl := l.locks[id]
	if held {
		<-kl.ch
	}
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, id)
	}
}

func (l *KeyedLocker) releaseAll(ids []AccountID) {
	for i := len(ids) - 1; i >= 0; i-- {
		l.release(ids[i], true)
	}
}

// SortedUnique returns the non-empty ids, de-duplicated, in ascending order.
func SortedUnique(ids []AccountID) []AccountID {
	seen := make(map[AccountID]bool, len(ids))
	out := make([]AccountID, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
