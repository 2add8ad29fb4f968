package redislock_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/compte-engine/store/redislock"
)

// These tests need a live Redis; set REDIS_URL (e.g. redis://localhost:6379/15).
func newLocker(t *testing.T) *redislock.Locker {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	client, err := redislock.Connect(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return redislock.New(client,
		redislock.WithPrefix("test:"+uuid.NewString()+":"),
		redislock.WithTTL(5*time.Second),
		redislock.WithRetry(5*time.Millisecond),
	)
}

func TestLocker_MutualExclusion(t *testing.T) {
	l := newLocker(t)
	var mu sync.Mutex
	inside, maxInside := 0, 0

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "acc-2", "acc-1")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			inside++
			if inside > maxInside {
				maxInside = inside
			}
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxInside)
}

func TestLocker_TimesOutWhileHeld(t *testing.T) {
	l := newLocker(t)
	unlock, err := l.Lock(context.Background(), "acc-1")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "acc-1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLocker_ReleaseAllowsReacquire(t *testing.T) {
	l := newLocker(t)
	unlock, err := l.Lock(context.Background(), "acc-1")
	require.NoError(t, err)
	unlock()
	unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlock2, err := l.Lock(ctx, "acc-1")
	require.NoError(t, err)
	unlock2()
}
