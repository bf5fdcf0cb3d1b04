package scenario

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
)

// RefreshOptions configures a Reconciler
type RefreshOptions struct {
	Logger *log.Logger
	// Lock must be the same lock the save coordinator uses
	Lock *KeyedLock
}

// RefreshResult reports what a refresh found and did
type RefreshResult struct {
	Proceeded     bool
	ServerChanged bool
	DirtyScripts  []ScriptSlot
	FormDirty     bool
	ClosedEditors bool
	StoryCards    []StoryCard
}

// Reconciler decides whether a user refresh must purge open editors and
// performs the refresh
type Reconciler struct {
	remote    RemoteAPI
	cache     *Cache
	provider  *Provider
	tracker   EditorTracker
	forms     FormHost
	confirmer Confirmer
	lock      *KeyedLock
	logger    *log.Logger

	mu           sync.Mutex
	fingerprints map[string]Fingerprint
}

// NewReconciler creates a reconciler. forms may be nil when no form panels exist.
func NewReconciler(cache *Cache, provider *Provider, tracker EditorTracker, forms FormHost, confirmer Confirmer, opts RefreshOptions) *Reconciler {
	lock := opts.Lock
	if lock == nil {
		lock = NewKeyedLock()
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Reconciler{
		remote:       cache.Remote(),
		cache:        cache,
		provider:     provider,
		tracker:      tracker,
		forms:        forms,
		confirmer:    confirmer,
		lock:         lock,
		logger:       logger,
		fingerprints: make(map[string]Fingerprint),
	}
}

// ShouldPurgeOnRefresh fetches the server's scripts and reports whether they
// differ from what the previous call saw. The first call for a scenario and
// any fetch failure report true. The remembered fingerprint is updated on
// every successful check.
func (r *Reconciler) ShouldPurgeOnRefresh(ctx context.Context, shortID string) bool {
	changed, _, _ := r.check(ctx, shortID)
	return changed
}

// check returns the change verdict plus the fingerprint that was remembered
// before the call, so a declined refresh can put it back
func (r *Reconciler) check(ctx context.Context, shortID string) (changed bool, previous Fingerprint, hadPrevious bool) {
	r.mu.Lock()
	previous, hadPrevious = r.fingerprints[shortID]
	r.mu.Unlock()

	state, err := r.remote.FetchScripts(ctx, shortID)
	if err != nil {
		r.logger.Warn("Could not check server state, assuming changed", "shortId", shortID, "err", err)
		return true, previous, hadPrevious
	}

	current := FingerprintOf(state)
	r.mu.Lock()
	r.fingerprints[shortID] = current
	r.mu.Unlock()

	return !hadPrevious || !previous.Equal(current), previous, hadPrevious
}

// Prime remembers the server state seen when a scenario was opened, so the
// first refresh compares against it instead of reporting a change
func (r *Reconciler) Prime(shortID string, state ScriptState) {
	r.mu.Lock()
	r.fingerprints[shortID] = FingerprintOf(state)
	r.mu.Unlock()
}

func (r *Reconciler) restore(shortID string, previous Fingerprint, hadPrevious bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if hadPrevious {
		r.fingerprints[shortID] = previous
	} else {
		delete(r.fingerprints, shortID)
	}
}

// Refresh reloads a scenario from the server. When the server changed, scripts
// are dirty, or the form is dirty, the user is asked once with every reason;
// declining changes nothing. Open script editors are closed only when the
// server changed or scripts were dirty. The form panel is always reopened.
func (r *Reconciler) Refresh(ctx context.Context, shortID string) (RefreshResult, error) {
	result := RefreshResult{}

	changed, previous, hadPrevious := r.check(ctx, shortID)
	result.ServerChanged = changed

	for _, slot := range ScriptSlots {
		if buf, ok := r.tracker.OpenBuffers(shortID)[slot]; ok && buf.Dirty {
			result.DirtyScripts = append(result.DirtyScripts, slot)
		}
	}
	if r.forms != nil {
		result.FormDirty = r.forms.IsDirty(shortID)
	}

	reasons := refreshReasons(result)
	if len(reasons) > 0 {
		ok := false
		if r.confirmer != nil {
			var err error
			ok, err = r.confirmer.Confirm(ctx, ConfirmRequest{
				Title:       fmt.Sprintf("Refresh %s and discard local changes?", shortID),
				Reasons:     reasons,
				Affirmative: "Refresh",
				Negative:    "Cancel",
			})
			if err != nil {
				r.restore(shortID, previous, hadPrevious)
				return result, err
			}
		}
		if !ok {
			r.restore(shortID, previous, hadPrevious)
			r.logger.Info("Refresh declined", "shortId", shortID)
			return result, nil
		}
	}
	result.Proceeded = true

	unlock, err := r.lock.Lock(ctx, shortID)
	if err != nil {
		return result, err
	}
	defer unlock()

	// The forced card fetch emits the single change event for the whole reset
	r.provider.forgetFetch(shortID)
	r.cache.reset(shortID)

	cards, cardsErr := r.cache.GetStoryCardsForTree(ctx, shortID, StoryCardQuery{Force: true})
	if cardsErr != nil {
		r.logger.Warn("Failed to refetch story cards", "shortId", shortID, "err", cardsErr)
		r.cache.feed.Emit(shortID)
	}
	result.StoryCards = cards

	if len(result.DirtyScripts) > 0 || result.ServerChanged {
		if err := r.tracker.CloseAll(shortID); err != nil {
			return result, fmt.Errorf("failed to close editors for %s: %w", shortID, err)
		}
		result.ClosedEditors = true
	}

	if r.forms != nil {
		if err := r.forms.Reopen(ctx, shortID); err != nil {
			return result, fmt.Errorf("failed to reopen form for %s: %w", shortID, err)
		}
	}

	r.logger.Info("Refreshed scenario", "shortId", shortID, "closedEditors", result.ClosedEditors)
	if cardsErr != nil {
		return result, fmt.Errorf("refresh %s: %w", shortID, cardsErr)
	}
	return result, nil
}

func refreshReasons(result RefreshResult) []string {
	var reasons []string
	if result.ServerChanged {
		reasons = append(reasons, "The scenario's scripts changed on the server.")
	}
	if n := len(result.DirtyScripts); n > 0 {
		reasons = append(reasons, fmt.Sprintf("%d open script(s) have unsaved changes.", n))
	}
	if result.FormDirty {
		reasons = append(reasons, "The scenario form has unsaved changes.")
	}
	return reasons
}
