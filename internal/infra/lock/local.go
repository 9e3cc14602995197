// Package lock serializes settlement per user.
// Local is an in-process keyed mutex; Redis coordinates several processes.
package lock

import (
	"context"
	"fmt"
	"sync"

	"github.com/pomociclo/pomociclo/internal/domain"
)

// Local is a keyed mutex. Entries are reference counted and dropped when
// the last holder or waiter leaves, so the map only holds active users.
type Local struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	sem  chan struct{}
	refs int
}

var _ domain.UserLocker = (*Local)(nil)

// NewLocal creates an empty in-process locker.
func NewLocal() *Local {
	return &Local{entries: make(map[string]*entry)}
}

// Lock blocks until userID's lock is free or ctx ends.
func (l *Local) Lock(ctx context.Context, userID string) (func(), error) {
	e := l.acquire(userID)

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(userID, e)
		return nil, fmt.Errorf("lock user %s: %w: %w", userID, domain.ErrLockTimeout, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			l.release(userID, e)
		})
	}, nil
}

// Active returns how many users currently hold or wait for a lock.
func (l *Local) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *Local) acquire(userID string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[userID]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		l.entries[userID] = e
	}
	e.refs++
	return e
}

func (l *Local) release(userID string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, userID)
	}
}
