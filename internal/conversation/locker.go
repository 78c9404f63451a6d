package conversation

import (
	"context"
	"fmt"
	"sync"
)

// Locker serializes dialogue turns per phone. Lock blocks until the key is free or
// the locker gives up, and returns a release func that is safe to call more than once.
type Locker interface {
	Lock(ctx context.Context, key string) (release func(), err error)
}

// LocalLocker is a Locker for a single process.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*localLock
}

type localLock struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*localLock)}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	lk, ok := l.locks[key]
	if !ok {
		lk = &localLock{ch: make(chan struct{}, 1)}
		l.locks[key] = lk
	}
	lk.refs++
	l.mu.Unlock()

	select {
	case lk.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-lk.ch
				l.unref(key, lk)
			})
		}, nil
	case <-ctx.Done():
		l.unref(key, lk)
		return nil, fmt.Errorf("%w: %v", ErrLockNotAcquired, ctx.Err())
	}
}

func (l *LocalLocker) unref(key string, lk *localLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, key)
	}
}
