package scenario

import (
	"sync"
)

// LocalStore keeps last-known server script snapshots and manual existence
// overrides per scenario. It performs no I/O. Unknown short ids read as absent.
type LocalStore struct {
	mu        sync.Mutex
	snapshots map[string]Snapshot
	overrides map[string]map[ScriptSlot]Existence
	reload    map[string]bool
	feed      *ChangeFeed

	// onSave runs after a save is applied and before the change is emitted
	onSave func(shortID string)
}

// NewLocalStore creates a store that emits on feed. A nil feed gets a private one.
func NewLocalStore(feed *ChangeFeed) *LocalStore {
	if feed == nil {
		feed = NewChangeFeed()
	}
	return &LocalStore{
		snapshots: make(map[string]Snapshot),
		overrides: make(map[string]map[ScriptSlot]Existence),
		reload:    make(map[string]bool),
		feed:      feed,
	}
}

// Feed returns the change feed the store emits on
func (s *LocalStore) Feed() *ChangeFeed {
	return s.feed
}

// SetSnapshot merges the slots present in partial into the stored snapshot,
// creating it if absent
func (s *LocalStore) SetSnapshot(shortID string, partial Snapshot) {
	s.mu.Lock()
	current, ok := s.snapshots[shortID]
	if !ok {
		current = make(Snapshot, len(ScriptSlots))
		s.snapshots[shortID] = current
	}
	for slot, v := range partial.Clone() {
		current[slot] = v
	}
	s.mu.Unlock()

	s.feed.Emit(shortID)
}

// Snapshot returns a copy of the stored snapshot
func (s *LocalStore) Snapshot(shortID string) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[shortID]
	if !ok {
		return nil, false
	}
	return snap.Clone(), true
}

// ClearSnapshot removes the stored snapshot. It emits only when something was removed.
func (s *LocalStore) ClearSnapshot(shortID string) {
	s.mu.Lock()
	_, ok := s.snapshots[shortID]
	delete(s.snapshots, shortID)
	s.mu.Unlock()

	if ok {
		s.feed.Emit(shortID)
	}
}

// SetOverride records a manual existence flag for a slot
func (s *LocalStore) SetOverride(shortID string, slot ScriptSlot, existence Existence) {
	s.mu.Lock()
	slots, ok := s.overrides[shortID]
	if !ok {
		slots = make(map[ScriptSlot]Existence)
		s.overrides[shortID] = slots
	}
	changed := slots[slot] != existence
	slots[slot] = existence
	s.mu.Unlock()

	if changed {
		s.feed.Emit(shortID)
	}
}

// Override returns the manual existence flag for a slot, if any
func (s *LocalStore) Override(shortID string, slot ScriptSlot) (Existence, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existence, ok := s.overrides[shortID][slot]
	return existence, ok
}

// ClearOverrides removes every existence flag of the scenario
func (s *LocalStore) ClearOverrides(shortID string) {
	s.mu.Lock()
	_, ok := s.overrides[shortID]
	delete(s.overrides, shortID)
	s.mu.Unlock()

	if ok {
		s.feed.Emit(shortID)
	}
}

// EffectiveExists applies the override if present, otherwise tests the
// snapshot value for a non-empty string. No snapshot means false.
func (s *LocalStore) EffectiveExists(shortID string, slot ScriptSlot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.effectiveExistsLocked(shortID, slot)
}

func (s *LocalStore) effectiveExistsLocked(shortID string, slot ScriptSlot) bool {
	if existence, ok := s.overrides[shortID][slot]; ok {
		return existence == ExistenceExists
	}
	snap, ok := s.snapshots[shortID]
	if !ok {
		return false
	}
	return snap.Value(slot) != ""
}

// RequestServerReload arms the one-shot reload flag
func (s *LocalStore) RequestServerReload(shortID string) {
	s.mu.Lock()
	s.reload[shortID] = true
	s.mu.Unlock()
}

// ConsumeServerReload reports and clears the reload flag. A second call in
// the same cycle returns false.
func (s *LocalStore) ConsumeServerReload(shortID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	armed := s.reload[shortID]
	delete(s.reload, shortID)
	return armed
}

// forget drops the snapshot and overrides and arms the reload flag without
// emitting; the caller emits once for the whole reset
func (s *LocalStore) forget(shortID string) {
	s.mu.Lock()
	delete(s.snapshots, shortID)
	delete(s.overrides, shortID)
	s.reload[shortID] = true
	s.mu.Unlock()
}

// forgetAll resets every scenario without emitting
func (s *LocalStore) forgetAll() {
	s.mu.Lock()
	for shortID := range s.snapshots {
		s.reload[shortID] = true
	}
	s.snapshots = make(map[string]Snapshot)
	s.overrides = make(map[string]map[ScriptSlot]Existence)
	s.mu.Unlock()
}

// applySave replaces the snapshot wholesale with the canonical saved values
// and sets every slot's existence, emitting once. The owning cache drops its
// override model in the same step.
func (s *LocalStore) applySave(shortID string, canonical Snapshot, existence map[ScriptSlot]Existence) {
	s.mu.Lock()
	s.snapshots[shortID] = canonical.Clone()
	slots := make(map[ScriptSlot]Existence, len(existence))
	for slot, e := range existence {
		slots[slot] = e
	}
	s.overrides[shortID] = slots
	onSave := s.onSave
	s.mu.Unlock()

	if onSave != nil {
		onSave(shortID)
	}
	s.feed.Emit(shortID)
}
