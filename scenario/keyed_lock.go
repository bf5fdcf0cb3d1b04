package scenario

import (
	"context"
	"sync"
)

// KeyedLock serializes work per key in arrival order. Holders of different
// keys never block each other.
type KeyedLock struct {
	mu    sync.Mutex
	tails map[string]chan struct{}
}

// NewKeyedLock creates an empty lock set
func NewKeyedLock() *KeyedLock {
	return &KeyedLock{
		tails: make(map[string]chan struct{}),
	}
}

// Lock queues behind the current holder of key and blocks until it is this
// caller's turn. The returned unlock function must be called exactly once; it
// is safe to defer. If ctx ends while queued, Lock returns ctx.Err() and the
// queue position is handed on once the predecessor releases.
func (l *KeyedLock) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	prev := l.tails[key]
	mine := make(chan struct{})
	l.tails[key] = mine
	l.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			l.mu.Lock()
			if l.tails[key] == mine {
				delete(l.tails, key)
			}
			l.mu.Unlock()
			close(mine)
		})
	}

	if prev == nil {
		return release, nil
	}

	select {
	case <-prev:
		return release, nil
	case <-ctx.Done():
		go func() {
			<-prev
			release()
		}()
		return nil, ctx.Err()
	}
}

// Held reports whether any caller holds or waits for key
func (l *KeyedLock) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.tails[key]
	return ok
}
