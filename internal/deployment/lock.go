package deployment

import (
	"context"
	"sync"
)

// LockManager serializes work per container name.
//
// The outer mutex protects the map; each name owns a one-slot channel that
// acts as its lock. Different names proceed concurrently, while duplicate
// deliveries for the same branch or PR wait their turn. A slot is dropped
// once no holder or waiter references it.
type LockManager struct {
	mu    sync.Mutex
	locks map[string]*lockSlot
}

type lockSlot struct {
	ch   chan struct{}
	refs int // holders plus waiters
}

// NewLockManager creates a new lock manager
func NewLockManager() *LockManager {
	return &LockManager{
		locks: make(map[string]*lockSlot),
	}
}

func (lm *LockManager) acquire(name string) *lockSlot {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	s, ok := lm.locks[name]
	if !ok {
		s = &lockSlot{ch: make(chan struct{}, 1)}
		lm.locks[name] = s
	}
	s.refs++
	return s
}

// release must be called with lm.mu held.
func (lm *LockManager) release(name string, s *lockSlot) {
	s.refs--
	if s.refs == 0 {
		delete(lm.locks, name)
	}
}

func (lm *LockManager) abandon(name string, s *lockSlot) {
	lm.mu.Lock()
	lm.release(name, s)
	lm.mu.Unlock()
}

// Lock blocks until the lock for name is held or ctx is done.
func (lm *LockManager) Lock(ctx context.Context, name string) error {
	s := lm.acquire(name)
	select {
	case s.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		lm.abandon(name, s)
		return ctx.Err()
	}
}

// TryLock acquires the lock for name without waiting.
// Returns false if another job currently holds it.
func (lm *LockManager) TryLock(name string) bool {
	s := lm.acquire(name)
	select {
	case s.ch <- struct{}{}:
		return true
	default:
		lm.abandon(name, s)
		return false
	}
}

// Unlock releases the lock for name. Unlocking a name that is not held is a no-op.
func (lm *LockManager) Unlock(name string) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	s := lm.locks[name]
	if s == nil {
		return
	}
	select {
	case <-s.ch:
		lm.release(name, s)
	default:
	}
}

// Held reports whether name is currently locked.
func (lm *LockManager) Held(name string) bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	s := lm.locks[name]
	return s != nil && len(s.ch) == 1
}
