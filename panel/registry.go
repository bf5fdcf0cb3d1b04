package panel

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/zenibako/scenario-sync/scenario"
)

// Registry tracks the open form panel of each scenario. It implements
// scenario.FormHost for the refresh flow.
type Registry struct {
	mu     sync.RWMutex
	panels map[string]*Controller
	cache  *scenario.Cache
}

var _ scenario.FormHost = (*Registry)(nil)

// NewRegistry creates an empty registry
func NewRegistry(cache *scenario.Cache) *Registry {
	return &Registry{
		panels: make(map[string]*Controller),
		cache:  cache,
	}
}

// Register makes c the panel for its scenario, closing any previous one
func (r *Registry) Register(c *Controller) {
	r.mu.Lock()
	previous := r.panels[c.ShortID()]
	r.panels[c.ShortID()] = c
	r.mu.Unlock()

	if previous != nil && previous != c {
		previous.Close()
	}
}

// Unregister removes c if it is still the scenario's panel
func (r *Registry) Unregister(c *Controller) {
	r.mu.Lock()
	if r.panels[c.ShortID()] == c {
		delete(r.panels, c.ShortID())
	}
	r.mu.Unlock()
	c.Close()
}

// Get returns the scenario's panel
func (r *Registry) Get(shortID string) (*Controller, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.panels[shortID]
	return c, ok
}

// Len returns the number of open panels
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.panels)
}

// IsDirty reports whether the scenario's panel has unsaved changes
func (r *Registry) IsDirty(shortID string) bool {
	c, ok := r.Get(shortID)
	return ok && c.IsDirty()
}

// Reopen reinitializes the scenario's panel from fresh cache state,
// discarding whatever it showed
func (r *Registry) Reopen(ctx context.Context, shortID string) error {
	c, ok := r.Get(shortID)
	if !ok {
		return nil
	}
	return c.Reinit(ctx)
}

// CaptureAndClose keeps a dirty panel's unsaved model as the scenario's local
// override, then closes the panel. A panel that does not answer in time is
// closed without capture and the timeout is returned.
func (r *Registry) CaptureAndClose(ctx context.Context, shortID string) error {
	c, ok := r.Get(shortID)
	if !ok {
		return nil
	}
	defer r.Unregister(c)

	if !c.IsDirty() {
		return nil
	}
	model, err := c.RequestState(ctx)
	if err != nil {
		return err
	}
	r.cache.SetLocalScenarioOverride(shortID, model)
	log.Debug("Captured unsaved panel state", "shortId", shortID)
	return nil
}

// CloseAll closes every panel
func (r *Registry) CloseAll() {
	r.mu.Lock()
	panels := r.panels
	r.panels = make(map[string]*Controller)
	r.mu.Unlock()

	for _, c := range panels {
		c.Close()
	}
}
