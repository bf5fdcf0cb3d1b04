package scenario

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/zenibako/scenario-sync/templates"
)

// CacheOptions tunes the cache. Zero values select the defaults.
type CacheOptions struct {
	Logger *log.Logger
	Feed   *ChangeFeed
	// EmptyRetryDelay is how long to wait before refetching a story card list
	// that came back empty when the caller asked for a retry
	EmptyRetryDelay time.Duration
	// EmptyRetries is how many refetches an empty list gets
	EmptyRetries int
}

const (
	DefaultEmptyRetryDelay = 750 * time.Millisecond
	DefaultEmptyRetries    = 1
)

type pageKey struct {
	limit  int
	offset int
}

// StoryCardListener receives the new story card list of a scenario
type StoryCardListener func(shortID string, cards []StoryCard)

// Cache is the single in-process view of scenario metadata, story cards,
// local overrides, and script snapshots. Every externally visible change emits
// exactly one event on the feed after the change is applied.
type Cache struct {
	remote RemoteAPI
	store  *LocalStore
	feed   *ChangeFeed
	logger *log.Logger

	emptyRetryDelay time.Duration
	emptyRetries    int

	mu         sync.Mutex
	overrides  map[string]NormalizedScenario
	storyCards map[string][]StoryCard
	authoring  map[string]templates.AuthoringContext
	children   map[string][]ScenarioOption
	pages      map[pageKey][]ScenarioIdentity

	listenersMu   sync.RWMutex
	nextListener  int
	cardListeners map[int]StoryCardListener
}

// NewCache creates a cache over remote
func NewCache(remote RemoteAPI, opts CacheOptions) *Cache {
	feed := opts.Feed
	if feed == nil {
		feed = NewChangeFeed()
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	delay := opts.EmptyRetryDelay
	if delay <= 0 {
		delay = DefaultEmptyRetryDelay
	}
	retries := opts.EmptyRetries
	if retries <= 0 {
		retries = DefaultEmptyRetries
	}

	c := &Cache{
		remote:          remote,
		store:           NewLocalStore(feed),
		feed:            feed,
		logger:          logger,
		emptyRetryDelay: delay,
		emptyRetries:    retries,
		overrides:       make(map[string]NormalizedScenario),
		storyCards:      make(map[string][]StoryCard),
		authoring:       make(map[string]templates.AuthoringContext),
		children:        make(map[string][]ScenarioOption),
		pages:           make(map[pageKey][]ScenarioIdentity),
		cardListeners:   make(map[int]StoryCardListener),
	}
	c.store.onSave = c.dropOverride
	return c
}

// Store returns the script snapshot store owned by the cache
func (c *Cache) Store() *LocalStore {
	return c.store
}

// Remote returns the remote API the cache reads through
func (c *Cache) Remote() RemoteAPI {
	return c.remote
}

// Subscribe registers a change handler on the cache's feed
func (c *Cache) Subscribe(handler func(ChangeEvent)) func() {
	return c.feed.Subscribe(handler)
}

// OnStoryCards registers a listener for new story card lists
func (c *Cache) OnStoryCards(listener StoryCardListener) func() {
	c.listenersMu.Lock()
	id := c.nextListener
	c.nextListener++
	c.cardListeners[id] = listener
	c.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.listenersMu.Lock()
			delete(c.cardListeners, id)
			c.listenersMu.Unlock()
		})
	}
}

func (c *Cache) notifyStoryCards(shortID string, cards []StoryCard) {
	c.listenersMu.RLock()
	listeners := make([]StoryCardListener, 0, len(c.cardListeners))
	for _, l := range c.cardListeners {
		listeners = append(listeners, l)
	}
	c.listenersMu.RUnlock()

	for _, l := range listeners {
		l(shortID, cloneCards(cards))
	}
}

// GetEditorJSON returns the local override if one exists, otherwise fetches
// and normalizes the scenario. The authoring context is remembered for later
// story card creation, and the fetched story cards seed an empty card cache.
func (c *Cache) GetEditorJSON(ctx context.Context, shortID string) (NormalizedScenario, error) {
	c.mu.Lock()
	if override, ok := c.overrides[shortID]; ok {
		c.mu.Unlock()
		c.logger.Debug("Serving scenario from local override", "shortId", shortID)
		return override.Clone(), nil
	}
	c.mu.Unlock()

	c.logger.Info("Fetching scenario", "shortId", shortID)
	raw, err := c.remote.FetchScenario(ctx, shortID)
	if err != nil {
		return NormalizedScenario{}, fmt.Errorf("failed to fetch scenario %s: %w", shortID, err)
	}
	model := NormalizeScenario(raw)
	if model.ShortID == "" {
		model.ShortID = shortID
	}

	_, hasCards := raw["storyCards"].([]any)

	c.mu.Lock()
	c.authoring[shortID] = model.AuthoringContext()
	if _, cached := c.storyCards[shortID]; hasCards && !cached {
		c.storyCards[shortID] = cloneCards(model.StoryCards)
	}
	c.mu.Unlock()

	return model, nil
}

// AuthoringContext returns the remembered story card authoring context
func (c *Cache) AuthoringContext(shortID string) templates.AuthoringContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authoring[shortID]
}

// SetLocalScenarioOverride stores a private copy of model that supersedes
// server fetches until cleared
func (c *Cache) SetLocalScenarioOverride(shortID string, model NormalizedScenario) {
	clone := model.Clone()
	clone.ShortID = shortID

	c.mu.Lock()
	c.overrides[shortID] = clone
	c.authoring[shortID] = clone.AuthoringContext()
	c.mu.Unlock()

	c.feed.Emit(shortID)
}

// ClearLocalScenarioOverride drops the local override, emitting only if one existed
func (c *Cache) ClearLocalScenarioOverride(shortID string) {
	c.mu.Lock()
	_, ok := c.overrides[shortID]
	delete(c.overrides, shortID)
	c.mu.Unlock()

	if ok {
		c.feed.Emit(shortID)
	}
}

// dropOverride removes the override model without emitting. A saved script is
// a remote mutation, so the server becomes the source again.
func (c *Cache) dropOverride(shortID string) {
	c.mu.Lock()
	delete(c.overrides, shortID)
	c.mu.Unlock()
}

// HasLocalOverride reports whether a local override exists
func (c *Cache) HasLocalOverride(shortID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.overrides[shortID]
	return ok
}

// RequestServerReload forgets everything known about the scenario: snapshot,
// slot overrides, local override model, story cards, and container
// memoization. It arms the one-shot reload flag and emits once.
func (c *Cache) RequestServerReload(shortID string) {
	c.reset(shortID)
	c.logger.Debug("Requested server reload", "shortId", shortID)
	c.feed.Emit(shortID)
}

// reset is RequestServerReload without the event
func (c *Cache) reset(shortID string) {
	c.store.forget(shortID)

	c.mu.Lock()
	delete(c.overrides, shortID)
	delete(c.storyCards, shortID)
	delete(c.children, shortID)
	delete(c.authoring, shortID)
	c.pages = make(map[pageKey][]ScenarioIdentity)
	c.mu.Unlock()
}

// InvalidateAll forgets every scenario and emits a single "everything changed" event
func (c *Cache) InvalidateAll() {
	c.store.forgetAll()

	c.mu.Lock()
	c.overrides = make(map[string]NormalizedScenario)
	c.storyCards = make(map[string][]StoryCard)
	c.children = make(map[string][]ScenarioOption)
	c.authoring = make(map[string]templates.AuthoringContext)
	c.pages = make(map[pageKey][]ScenarioIdentity)
	c.mu.Unlock()

	c.logger.Debug("Invalidated all scenarios")
	c.feed.Emit("")
}

// ListScenarios returns one page of scenarios, memoized per (limit, offset)
func (c *Cache) ListScenarios(ctx context.Context, limit, offset int) ([]ScenarioIdentity, error) {
	key := pageKey{limit: limit, offset: offset}
	c.mu.Lock()
	if page, ok := c.pages[key]; ok {
		c.mu.Unlock()
		return append([]ScenarioIdentity(nil), page...), nil
	}
	c.mu.Unlock()

	page, err := c.remote.ListScenarios(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list scenarios: %w", err)
	}

	c.mu.Lock()
	c.pages[key] = append([]ScenarioIdentity(nil), page...)
	c.mu.Unlock()
	return page, nil
}

// Children returns the normalized child options of a container scenario, memoized
func (c *Cache) Children(ctx context.Context, shortID string) ([]ScenarioOption, error) {
	c.mu.Lock()
	if options, ok := c.children[shortID]; ok {
		c.mu.Unlock()
		return append([]ScenarioOption(nil), options...), nil
	}
	c.mu.Unlock()

	model, err := c.GetEditorJSON(ctx, shortID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.children[shortID] = append([]ScenarioOption(nil), model.Options...)
	c.mu.Unlock()
	return model.Options, nil
}

// SaveScenario sends the model's metadata to the server. On success the local
// override is destroyed and the cached story cards become the model's list.
// On failure nothing changes.
func (c *Cache) SaveScenario(ctx context.Context, shortID string, model NormalizedScenario) (NormalizedScenario, error) {
	raw, err := c.remote.UpdateScenario(ctx, shortID, model.Patch())
	if err != nil {
		return NormalizedScenario{}, fmt.Errorf("failed to save scenario %s: %w", shortID, err)
	}

	saved := NormalizeScenario(raw)
	saved.ShortID = shortID
	if _, hasCards := raw["storyCards"]; !hasCards {
		saved.StoryCards = cloneCards(model.StoryCards)
	}
	if saved.StoryCards == nil {
		saved.StoryCards = []StoryCard{}
	}
	if _, hasOptions := raw["options"]; !hasOptions {
		saved.Options = append([]ScenarioOption{}, model.Options...)
	}

	c.mu.Lock()
	delete(c.overrides, shortID)
	delete(c.children, shortID)
	c.storyCards[shortID] = cloneCards(saved.StoryCards)
	c.authoring[shortID] = saved.AuthoringContext()
	c.pages = make(map[pageKey][]ScenarioIdentity)
	c.mu.Unlock()

	c.logger.Info("Saved scenario", "shortId", shortID)
	c.feed.Emit(shortID)
	c.notifyStoryCards(shortID, saved.StoryCards)
	return saved.Clone(), nil
}

// PlotComponents returns the scenario's plot components, or an empty map
// when the remote API does not support them
func (c *Cache) PlotComponents(ctx context.Context, shortID string) (map[string]any, error) {
	components, err := c.remote.FetchPlotComponents(ctx, shortID)
	if errors.Is(err, ErrNotSupported) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch plot components for %s: %w", shortID, err)
	}
	if components == nil {
		components = map[string]any{}
	}
	return components, nil
}
