package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/pomociclo/pomociclo/internal/domain"
	"github.com/pomociclo/pomociclo/internal/platform/logger"
)

const (
	// DefaultTTL bounds how long a crashed holder can block a user.
	DefaultTTL = 30 * time.Second

	keyPrefix    = "pomo:lock:user:"
	pollInterval = 25 * time.Millisecond
	maxPoll      = 250 * time.Millisecond
)

// releaseScript deletes the key only if it still holds our token.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript pushes the lease forward only while we still own it.
var extendScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Redis is a lease-based user lock shared by every process pointing at the
// same Redis. SET NX PX acquires; release is token-checked. While held, the
// lease is renewed every renewInterval(ttl), so the TTL only bounds how long
// a crashed holder blocks the user.
type Redis struct {
	rdb *goredis.Client
	ttl time.Duration
	log *logger.Logger
}

var _ domain.UserLocker = (*Redis)(nil)

// NewRedis connects to addr and verifies it with PING.
func NewRedis(ctx context.Context, addr string, ttl time.Duration, log *logger.Logger) (*Redis, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis lock: missing address")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &Redis{rdb: rdb, ttl: ttl, log: log.With("service", "RedisUserLock")}, nil
}

// Lock polls SET NX with capped backoff until it wins or ctx ends.
func (r *Redis) Lock(ctx context.Context, userID string) (func(), error) {
	key := keyPrefix + userID
	token := uuid.NewString()
	wait := pollInterval

	for {
		ok, err := r.rdb.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("redis lock %s: %w", userID, err)
		}
		if ok {
			stop := make(chan struct{})
			done := make(chan struct{})
			go r.keepAlive(key, token, stop, done)

			var once sync.Once
			return func() {
				once.Do(func() {
					close(stop)
					<-done
					r.release(key, token)
				})
			}, nil
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, fmt.Errorf("lock user %s: %w: %w", userID, domain.ErrLockTimeout, ctx.Err())
		case <-t.C:
		}
		wait = min(2*wait, maxPoll)
	}
}

// keepAlive renews the lease until stop closes or ownership is lost.
func (r *Redis) keepAlive(key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(renewInterval(r.ttl))
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), renewInterval(r.ttl))
		n, err := extendScript.Run(ctx, r.rdb, []string{key}, token, r.ttl.Milliseconds()).Int64()
		cancel()
		switch {
		case err != nil:
			r.log.Warn("redis lock renewal failed", "key", key, "error", err)
		case n == 0:
			r.log.Error("redis lock lease lost", "key", key)
			return
		}
	}
}

// renewInterval is a third of the TTL, floored at 10ms.
func renewInterval(ttl time.Duration) time.Duration {
	return max(ttl/3, 10*time.Millisecond)
}

// release uses a fresh context: the caller's may already be done.
func (r *Redis) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := releaseScript.Run(ctx, r.rdb, []string{key}, token).Err(); err != nil {
		r.log.Warn("redis lock release failed", "key", key, "error", err)
	}
}

// Ping reports whether Redis is reachable.
func (r *Redis) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.rdb.Close()
}
