package scenario

import (
	"sort"
	"sync"
)

// ChangeEvent announces that state for ShortID changed. An empty ShortID
// means everything changed and the host should re-render fully.
type ChangeEvent struct {
	ShortID string
}

// All reports whether the event covers every scenario
func (e ChangeEvent) All() bool {
	return e.ShortID == ""
}

// ChangeFeed fans change events out to subscribers. Handlers run on the
// emitting goroutine after the mutation is fully applied.
type ChangeFeed struct {
	mu   sync.RWMutex
	next int
	subs map[int]func(ChangeEvent)
}

// NewChangeFeed creates an empty feed
func NewChangeFeed() *ChangeFeed {
	return &ChangeFeed{subs: make(map[int]func(ChangeEvent))}
}

// Subscribe registers a handler and returns a function that removes it
func (f *ChangeFeed) Subscribe(handler func(ChangeEvent)) func() {
	f.mu.Lock()
	id := f.next
	f.next++
	f.subs[id] = handler
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
		})
	}
}

// Emit notifies every subscriber in subscription order
func (f *ChangeFeed) Emit(shortID string) {
	f.mu.RLock()
	ids := make([]int, 0, len(f.subs))
	for id := range f.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	handlers := make([]func(ChangeEvent), 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, f.subs[id])
	}
	f.mu.RUnlock()

	event := ChangeEvent{ShortID: shortID}
	for _, handler := range handlers {
		handler(event)
	}
}
