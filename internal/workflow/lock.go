package workflow

import (
	"context"
	"sync"
)

// keyedMutex serializes work per article id while letting different ids run concurrently.
type keyedMutex struct {
	mu    sync.Mutex
	slots map[uint]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{slots: make(map[uint]*slot)}
}

// Lock blocks until id is free or ctx is done. The returned func releases the lock.
func (k *keyedMutex) Lock(ctx context.Context, id uint) (func(), error) {
	k.mu.Lock()
	s, ok := k.slots[id]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		k.slots[id] = s
	}
	s.refs++
	k.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		k.release(id, s)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			k.release(id, s)
		})
	}, nil
}

func (k *keyedMutex) release(id uint, s *slot) {
	k.mu.Lock()
	s.refs--
	if s.refs == 0 {
		delete(k.slots, id)
	}
	k.mu.Unlock()
}
