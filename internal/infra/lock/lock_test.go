package lock

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pomociclo/pomociclo/internal/domain"
	"github.com/pomociclo/pomociclo/internal/platform/logger"
)

func TestLocal_SerializesSameUser(t *testing.T) {
	l := NewLocal()
	var inside, maxInside int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "u1")
			if !assert.NoError(t, err) {
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
	assert.Equal(t, 0, l.Active(), "entries are dropped once idle")
}

func TestLocal_DifferentUsersIndependent(t *testing.T) {
	l := NewLocal()
	unlockA, err := l.Lock(context.Background(), "a")
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := l.Lock(ctx, "b")
	require.NoError(t, err)
	unlockB()
}

func TestLocal_ContextTimeout(t *testing.T) {
	l := NewLocal()
	unlock, err := l.Lock(context.Background(), "u1")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "u1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrLockTimeout))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestLocal_UnlockIdempotent(t *testing.T) {
	l := NewLocal()
	unlock, err := l.Lock(context.Background(), "u1")
	require.NoError(t, err)
	unlock()
	unlock()

	again, err := l.Lock(context.Background(), "u1")
	require.NoError(t, err)
	again()
}

func TestRedis_LockAndRelease(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	r, err := NewRedis(ctx, addr, 2*time.Second, logger.Nop())
	require.NoError(t, err)
	defer r.Close()

	user := "lock-test-" + time.Now().Format("150405.000000")
	unlock, err := r.Lock(ctx, user)
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, err = r.Lock(short, user)
	assert.ErrorIs(t, err, domain.ErrLockTimeout)

	unlock()
	unlock2, err := r.Lock(ctx, user)
	require.NoError(t, err)
	unlock2()
}

func TestRedis_LeaseRenewedWhileHeld(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	r, err := NewRedis(ctx, addr, 300*time.Millisecond, logger.Nop())
	require.NoError(t, err)
	defer r.Close()

	user := "lease-test-" + time.Now().Format("150405.000000")
	unlock, err := r.Lock(ctx, user)
	require.NoError(t, err)

	// Hold well past the TTL; the lease must still be ours.
	time.Sleep(time.Second)
	short, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, err = r.Lock(short, user)
	assert.ErrorIs(t, err, domain.ErrLockTimeout)

	unlock()
	unlock() // idempotent

	unlock2, err := r.Lock(ctx, user)
	require.NoError(t, err)
	unlock2()
}

func TestRenewInterval(t *testing.T) {
	assert.Equal(t, 10*time.Second, renewInterval(30*time.Second))
	assert.Equal(t, 100*time.Millisecond, renewInterval(300*time.Millisecond))
	assert.Equal(t, 10*time.Millisecond, renewInterval(time.Millisecond))
}

func TestNewRedis_RequiresAddress(t *testing.T) {
	_, err := NewRedis(context.Background(), "", 0, logger.Nop())
	assert.Error(t, err)
}
