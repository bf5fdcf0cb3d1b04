package scenario

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
)

// SaveOptions configures a SaveCoordinator
type SaveOptions struct {
	Logger *log.Logger
	// Lock is shared with the refresh flow so a refresh never interleaves
	// with a save of the same scenario. Nil gets a private lock.
	Lock *KeyedLock
}

// SaveCoordinator saves one script slot at a time without discarding unsaved
// edits in the scenario's other open slots. Saves of the same scenario run
// one at a time in arrival order.
type SaveCoordinator struct {
	remote    RemoteAPI
	store     *LocalStore
	tracker   EditorTracker
	confirmer Confirmer
	lock      *KeyedLock
	logger    *log.Logger
}

// NewSaveCoordinator creates a coordinator. A nil confirmer declines every
// multi-slot save.
func NewSaveCoordinator(remote RemoteAPI, store *LocalStore, tracker EditorTracker, confirmer Confirmer, opts SaveOptions) *SaveCoordinator {
	lock := opts.Lock
	if lock == nil {
		lock = NewKeyedLock()
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &SaveCoordinator{
		remote:    remote,
		store:     store,
		tracker:   tracker,
		confirmer: confirmer,
		lock:      lock,
		logger:    logger,
	}
}

// Save pushes content for slot together with every other open buffer of the
// scenario. It returns false without touching the network when the user
// declines a multi-slot save. On error the store and buffers are unchanged.
func (s *SaveCoordinator) Save(ctx context.Context, shortID string, slot ScriptSlot, content string) (bool, error) {
	dirty := s.dirtySlots(shortID, slot)
	if len(dirty) > 1 {
		ok, err := s.confirm(ctx, shortID, dirty)
		if err != nil {
			return false, err
		}
		if !ok {
			s.logger.Info("Multi-slot save declined", "shortId", shortID, "slots", dirty)
			return false, nil
		}
	}

	unlock, err := s.lock.Lock(ctx, shortID)
	if err != nil {
		return false, err
	}
	defer unlock()

	// Buffers may have changed while queued
	buffers := s.tracker.OpenBuffers(shortID)

	var server Snapshot
	for _, other := range ScriptSlots {
		if other == slot {
			continue
		}
		if _, open := buffers[other]; !open {
			state, err := s.remote.FetchScripts(ctx, shortID)
			if err != nil {
				return false, fmt.Errorf("failed to fetch scripts for %s: %w", shortID, err)
			}
			server = state.Scripts
			break
		}
	}

	payload := MergeForSave(slot, content, buffers, server)

	s.logger.Info("Saving scripts", "shortId", shortID, "slot", slot)
	canonical, err := s.remote.SaveScripts(ctx, shortID, payload)
	if err != nil {
		return false, fmt.Errorf("failed to save %s/%s: %w", shortID, slot, err)
	}
	if canonical == nil {
		canonical = payload.Clone()
	}
	for _, each := range ScriptSlots {
		if _, ok := canonical[each]; !ok {
			canonical[each] = payload[each]
		}
	}

	existence := make(map[ScriptSlot]Existence, len(ScriptSlots))
	for _, each := range ScriptSlots {
		if canonical.Value(each) != "" || s.tracker.IsBufferOpen(shortID, each) {
			existence[each] = ExistenceExists
		} else {
			existence[each] = ExistenceMissing
		}
	}
	s.store.applySave(shortID, canonical, existence)

	if err := s.tracker.RevertAll(shortID, canonical.Clone()); err != nil {
		s.logger.Warn("Failed to revert open buffers after save", "shortId", shortID, "err", err)
	}

	return true, nil
}

// dirtySlots lists the slot being saved plus every other open, modified slot
func (s *SaveCoordinator) dirtySlots(shortID string, saving ScriptSlot) []ScriptSlot {
	buffers := s.tracker.OpenBuffers(shortID)
	dirty := []ScriptSlot{saving}
	for _, slot := range ScriptSlots {
		if slot == saving {
			continue
		}
		if buf, ok := buffers[slot]; ok && buf.Dirty {
			dirty = append(dirty, slot)
		}
	}
	return dirty
}

func (s *SaveCoordinator) confirm(ctx context.Context, shortID string, dirty []ScriptSlot) (bool, error) {
	if s.confirmer == nil {
		return false, nil
	}
	names := make([]string, 0, len(dirty))
	for _, slot := range dirty {
		names = append(names, string(slot))
	}
	return s.confirmer.Confirm(ctx, ConfirmRequest{
		Title: fmt.Sprintf("Saving %s will also save %d other unsaved scripts", shortID, len(dirty)-1),
		Reasons: []string{
			"Unsaved scripts: " + strings.Join(names, ", "),
		},
		Affirmative: "Save all",
		Negative:    "Cancel",
	})
}

// MergeForSave builds the outgoing payload for saving slot. The saved content
// wins, then open buffer text, then the server value. Values are normalized
// for transport.
func MergeForSave(slot ScriptSlot, content string, buffers map[ScriptSlot]Buffer, server Snapshot) Snapshot {
	merged := make(Snapshot, len(ScriptSlots))
	for _, each := range ScriptSlots {
		switch {
		case each == slot:
			merged[each] = Str(content)
		default:
			if buf, open := buffers[each]; open {
				merged[each] = Str(buf.Text)
			} else if v, ok := server[each]; ok && v != nil {
				merged[each] = Str(*v)
			} else {
				merged[each] = nil
			}
		}
	}
	return NormalizeForTransport(merged)
}

// NormalizeForTransport maps empty and whitespace-only values to nil. Any
// other value passes through verbatim.
func NormalizeForTransport(scripts Snapshot) Snapshot {
	out := make(Snapshot, len(ScriptSlots))
	for _, slot := range ScriptSlots {
		v := scripts[slot]
		if v == nil || strings.TrimSpace(*v) == "" {
			out[slot] = nil
			continue
		}
		out[slot] = Str(*v)
	}
	return out
}
