package workflow

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/hospital-admin-api/pkg/errors"
)

func TestKeyedLockerSerializesSameKey(t *testing.T) {
	locker := NewKeyedLocker(time.Second)
	var active, maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(context.Background(), "approval:1")
			if !assert.NoError(t, err) {
				return
			}
			defer unlock()
			n := atomic.AddInt32(&active, 1)
			for {
				cur := atomic.LoadInt32(&maxActive)
				if n <= cur || atomic.CompareAndSwapInt32(&maxActive, cur, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxActive)
	assert.Equal(t, 0, locker.size())
}

func TestKeyedLockerDistinctKeysDoNotContend(t *testing.T) {
	locker := NewKeyedLocker(50 * time.Millisecond)
	unlockA, err := locker.Lock(context.Background(), "approval:a")
	require.NoError(t, err)
	defer unlockA()

	unlockB, err := locker.Lock(context.Background(), "approval:b")
	require.NoError(t, err)
	unlockB()
}

func TestKeyedLockerTimeoutIsConflict(t *testing.T) {
	locker := NewKeyedLocker(20 * time.Millisecond)
	unlock, err := locker.Lock(context.Background(), "approval:1")
	require.NoError(t, err)

	_, err = locker.Lock(context.Background(), "approval:1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrConflict))

	unlock()
	unlock()
	assert.Equal(t, 0, locker.size())

	again, err := locker.Lock(context.Background(), "approval:1")
	require.NoError(t, err)
	again()
}

func TestKeyedLockerHonoursContext(t *testing.T) {
	locker := NewKeyedLocker(time.Minute)
	unlock, err := locker.Lock(context.Background(), "approval:1")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = locker.Lock(ctx, "approval:1")
	assert.True(t, errors.Is(err, appErrors.ErrConflict))
	assert.True(t, errors.Is(err, context.Canceled))
}
