package generic

import (
	"context"
	"fmt"
	"sync"
)

// KeyedMutex serializes work per user. Entries are reference counted and
// dropped once nobody holds or waits for them, so the map only holds users
// with in-flight operations.
type KeyedMutex struct {
	mu    sync.Mutex
	slots map[UserID]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{slots: make(map[UserID]*slot)}
}

// Lock blocks until the user's lock is held or ctx is done. On success the
// returned func releases the lock; it must be called exactly once.
func (k *KeyedMutex) Lock(ctx context.Context, userID UserID) (func(), error) {
	k.mu.Lock()
	s, ok := k.slots[userID]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		k.slots[userID] = s
	}
	s.refs++
	k.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
		return func() {
			<-s.ch
			k.release(userID, s)
		}, nil
	case <-ctx.Done():
		k.release(userID, s)
		return nil, fmt.Errorf("%w: user %s: %v", ErrProfileLockTimeout, userID, ctx.Err())
	}
}

func (k *KeyedMutex) release(userID UserID, s *slot) {
	k.mu.Lock()
	defer k.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(k.slots, userID)
	}
}

// Len returns the number of users with a held or awaited lock.
func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.slots)
}
