package generic_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/rewards-engine/generic"
)

func TestKeyedMutex_SerializesSameUser(t *testing.T) {
	// GIVEN: 20 goroutines contending for user-1
	// WHEN: Each holds the lock briefly
	// THEN: At most one is inside the critical section at a time
	k := generic.NewKeyedMutex()
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := k.Lock(ctx, "user-1")
			if err != nil {
				t.Error(err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Zero(t, k.Len(), "idle users must not stay in the map")
}

func TestKeyedMutex_ContextDone_ReturnsLockTimeout(t *testing.T) {
	k := generic.NewKeyedMutex()

	unlock, err := k.Lock(context.Background(), "user-1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = k.Lock(ctx, "user-1")
	assert.ErrorIs(t, err, generic.ErrProfileLockTimeout)
	assert.Equal(t, 1, k.Len())

	unlock()
	assert.Zero(t, k.Len())
}

func TestKeyedMutex_DifferentUsersDoNotBlock(t *testing.T) {
	k := generic.NewKeyedMutex()

	unlock1, err := k.Lock(context.Background(), "user-1")
	require.NoError(t, err)
	defer unlock1()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	unlock2, err := k.Lock(ctx, "user-2")
	require.NoError(t, err)
	unlock2()
}
