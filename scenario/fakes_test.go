package scenario

import (
	"context"
	"sync"
)

// fakeTracker is an in-memory EditorTracker
type fakeTracker struct {
	mu       sync.Mutex
	buffers  map[string]map[ScriptSlot]Buffer
	reverted int
	closed   int
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{buffers: make(map[string]map[ScriptSlot]Buffer)}
}

func (f *fakeTracker) open(shortID string, slot ScriptSlot, text string, dirty bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.buffers[shortID] == nil {
		f.buffers[shortID] = make(map[ScriptSlot]Buffer)
	}
	f.buffers[shortID][slot] = Buffer{Text: text, Dirty: dirty}
}

func (f *fakeTracker) buffer(shortID string, slot ScriptSlot) (Buffer, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.buffers[shortID][slot]
	return b, ok
}

func (f *fakeTracker) OpenBuffers(shortID string) map[ScriptSlot]Buffer {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[ScriptSlot]Buffer)
	for slot, b := range f.buffers[shortID] {
		out[slot] = b
	}
	return out
}

func (f *fakeTracker) IsBufferOpen(shortID string, slot ScriptSlot) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.buffers[shortID][slot]
	return ok
}

func (f *fakeTracker) RevertAll(shortID string, saved Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reverted++
	for slot := range f.buffers[shortID] {
		f.buffers[shortID][slot] = Buffer{Text: saved.Value(slot)}
	}
	return nil
}

func (f *fakeTracker) CloseAll(shortID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	delete(f.buffers, shortID)
	return nil
}

// fakeConfirmer answers every prompt with answer and records requests
type fakeConfirmer struct {
	mu       sync.Mutex
	answer   bool
	requests []ConfirmRequest
}

func (f *fakeConfirmer) Confirm(_ context.Context, req ConfirmRequest) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return f.answer, nil
}

func (f *fakeConfirmer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// fakeForms is an in-memory FormHost
type fakeForms struct {
	dirty    map[string]bool
	reopened []string
}

func (f *fakeForms) IsDirty(shortID string) bool {
	return f.dirty[shortID]
}

func (f *fakeForms) Reopen(_ context.Context, shortID string) error {
	f.reopened = append(f.reopened, shortID)
	return nil
}

// eventRecorder counts change events per short id
type eventRecorder struct {
	mu     sync.Mutex
	events []ChangeEvent
}

func (r *eventRecorder) handle(e ChangeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) count(shortID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.ShortID == shortID {
			n++
		}
	}
	return n
}

func (r *eventRecorder) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// harness wires the core components over a MockRemote
type harness struct {
	remote    *MockRemote
	cache     *Cache
	tracker   *fakeTracker
	confirmer *fakeConfirmer
	forms     *fakeForms
	lock      *KeyedLock
	saver     *SaveCoordinator
	provider  *Provider
	refresh   *Reconciler
	events    *eventRecorder
}

func newHarness() *harness {
	h := &harness{
		remote:    NewMockRemote(),
		tracker:   newFakeTracker(),
		confirmer: &fakeConfirmer{answer: true},
		forms:     &fakeForms{dirty: make(map[string]bool)},
		lock:      NewKeyedLock(),
		events:    &eventRecorder{},
	}
	h.cache = NewCache(h.remote, CacheOptions{EmptyRetryDelay: 1})
	h.cache.Subscribe(h.events.handle)
	h.saver = NewSaveCoordinator(h.remote, h.cache.Store(), h.tracker, h.confirmer, SaveOptions{Lock: h.lock})
	h.provider = NewProvider(h.cache, h.saver, OverrideWriter{Cache: h.cache})
	h.refresh = NewReconciler(h.cache, h.provider, h.tracker, h.forms, h.confirmer, RefreshOptions{Lock: h.lock})
	return h
}
