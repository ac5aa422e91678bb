package workflow

import (
	"context"
	"sync"
	"time"

	appErrors "github.com/noah-isme/hospital-admin-api/pkg/errors"
)

// Locker serializes mutations per key. Lock returns ErrConflict when the key
// cannot be acquired within the implementation's bound.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// KeyedLocker is an in-process Locker with one slot per key. Keys are dropped
// once no caller holds or waits on them.
type KeyedLocker struct {
	timeout time.Duration

	mu    sync.Mutex
	slots map[string]*lockSlot
}

type lockSlot struct {
	ch   chan struct{}
	refs int
}

// NewKeyedLocker constructs a locker that waits at most timeout per key.
func NewKeyedLocker(timeout time.Duration) *KeyedLocker {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &KeyedLocker{timeout: timeout, slots: make(map[string]*lockSlot)}
}

// Lock acquires key, waiting up to the configured timeout.
func (l *KeyedLocker) Lock(ctx context.Context, key string) (func(), error) {
	slot := l.acquireSlot(key)

	timer := time.NewTimer(l.timeout)
	defer timer.Stop()

	select {
	case slot.ch <- struct{}{}:
	case <-timer.C:
		l.releaseSlot(key, slot)
		return nil, appErrors.Clone(appErrors.ErrConflict, "approval request is busy, retry later")
	case <-ctx.Done():
		l.releaseSlot(key, slot)
		return nil, appErrors.Wrap(ctx.Err(), appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "lock wait cancelled")
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-slot.ch
			l.releaseSlot(key, slot)
		})
	}, nil
}

func (l *KeyedLocker) acquireSlot(key string) *lockSlot {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot, ok := l.slots[key]
	if !ok {
		slot = &lockSlot{ch: make(chan struct{}, 1)}
		l.slots[key] = slot
	}
	slot.refs++
	return slot
}

func (l *KeyedLocker) releaseSlot(key string, slot *lockSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, key)
	}
}

func (l *KeyedLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
