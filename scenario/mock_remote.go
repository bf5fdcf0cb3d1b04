package scenario

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/zenibako/scenario-sync/templates"
)

// Remote method names used by MockRemote call counters and FailNext
const (
	MethodListScenarios       = "ListScenarios"
	MethodFetchScenario       = "FetchScenario"
	MethodFetchScripts        = "FetchScripts"
	MethodSaveScripts         = "SaveScripts"
	MethodFetchStoryCards     = "FetchStoryCards"
	MethodCreateStoryCard     = "CreateStoryCard"
	MethodUpdateStoryCard     = "UpdateStoryCard"
	MethodDeleteStoryCard     = "DeleteStoryCard"
	MethodUpdateScenario      = "UpdateScenario"
	MethodFetchPlotComponents = "FetchPlotComponents"
)

// MockScenario is one scenario held by MockRemote
type MockScenario struct {
	Raw            map[string]any
	Scripts        Snapshot
	EditedAt       time.Time
	StoryCards     []StoryCard
	PlotComponents map[string]any
}

// MockRemote simulates the remote API in memory for testing
type MockRemote struct {
	mu         sync.Mutex
	scenarios  map[string]*MockScenario
	order      []string
	calls      map[string]int
	failures   map[string][]error
	saved      []Snapshot
	nextCardID int
	clock      time.Time

	// PlotComponentsSupported toggles the optional capability
	PlotComponentsSupported bool
	// EmptyCardFetches makes the next N story card fetches return no cards
	EmptyCardFetches int
}

// NewMockRemote creates an empty mock remote
func NewMockRemote() *MockRemote {
	return &MockRemote{
		scenarios: make(map[string]*MockScenario),
		calls:     make(map[string]int),
		failures:  make(map[string][]error),
		clock:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// AddScenario registers a scenario with the given title and empty scripts
func (m *MockRemote) AddScenario(shortID, title string) *MockScenario {
	m.mu.Lock()
	defer m.mu.Unlock()

	sc := &MockScenario{
		Raw: map[string]any{
			"shortId": shortID,
			"title":   title,
		},
		Scripts:    NewSnapshot(nil, nil, nil, nil),
		EditedAt:   m.tick(),
		StoryCards: []StoryCard{},
	}
	if _, exists := m.scenarios[shortID]; !exists {
		m.order = append(m.order, shortID)
	}
	m.scenarios[shortID] = sc
	log.Debug("Mock remote added scenario", "shortId", shortID)
	return sc
}

// SetScripts replaces a scenario's scripts as if edited elsewhere
func (m *MockRemote) SetScripts(shortID string, scripts Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc := m.scenarios[shortID]
	if sc == nil {
		return
	}
	for slot, v := range scripts.Clone() {
		sc.Scripts[slot] = v
	}
	sc.EditedAt = m.tick()
}

// SetField sets a raw scenario field
func (m *MockRemote) SetField(shortID, key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sc := m.scenarios[shortID]; sc != nil {
		sc.Raw[key] = value
	}
}

// AddStoryCard adds a card directly on the server side
func (m *MockRemote) AddStoryCard(shortID string, card StoryCard) StoryCard {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc := m.scenarios[shortID]
	if sc == nil {
		return StoryCard{}
	}
	if card.ID == "" {
		card.ID = m.newCardID()
	}
	sc.StoryCards = append(sc.StoryCards, card)
	return card
}

// FailNext makes the next call to method return err
func (m *MockRemote) FailNext(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[method] = append(m.failures[method], err)
}

// Calls returns how many times method was called
func (m *MockRemote) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

// TotalCalls returns the number of calls across every method
func (m *MockRemote) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, n := range m.calls {
		total += n
	}
	return total
}

// SavedPayloads returns every script payload received, in order
func (m *MockRemote) SavedPayloads() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Snapshot, 0, len(m.saved))
	for _, s := range m.saved {
		out = append(out, s.Clone())
	}
	return out
}

// enter records a call and returns a queued failure, if any
func (m *MockRemote) enter(method string) error {
	m.calls[method]++
	if queued := m.failures[method]; len(queued) > 0 {
		m.failures[method] = queued[1:]
		return queued[0]
	}
	return nil
}

func (m *MockRemote) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func (m *MockRemote) newCardID() string {
	m.nextCardID++
	return fmt.Sprintf("card-%d", m.nextCardID)
}

func (m *MockRemote) lookup(shortID string) (*MockScenario, error) {
	sc := m.scenarios[shortID]
	if sc == nil {
		return nil, &RemoteLogicError{Messages: []string{fmt.Sprintf("scenario %s not found", shortID)}}
	}
	return sc, nil
}

func (m *MockRemote) ListScenarios(_ context.Context, limit, offset int) ([]ScenarioIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(MethodListScenarios); err != nil {
		return nil, err
	}
	out := []ScenarioIdentity{}
	for i := offset; i < len(m.order) && (limit <= 0 || len(out) < limit); i++ {
		sc := m.scenarios[m.order[i]]
		out = append(out, ScenarioIdentity{ShortID: m.order[i], Title: normalizeProperty(sc.Raw["title"])})
	}
	return out, nil
}

func (m *MockRemote) FetchScenario(_ context.Context, shortID string) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(MethodFetchScenario); err != nil {
		return nil, err
	}
	sc, err := m.lookup(shortID)
	if err != nil {
		return nil, err
	}
	raw := make(map[string]any, len(sc.Raw)+1)
	for k, v := range sc.Raw {
		raw[k] = v
	}
	raw["storyCards"] = cardsToRaw(sc.StoryCards)
	return raw, nil
}

func (m *MockRemote) FetchScripts(_ context.Context, shortID string) (ScriptState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(MethodFetchScripts); err != nil {
		return ScriptState{}, err
	}
	sc, err := m.lookup(shortID)
	if err != nil {
		return ScriptState{}, err
	}
	editedAt := sc.EditedAt
	return ScriptState{Scripts: sc.Scripts.Clone(), EditedAt: &editedAt}, nil
}

func (m *MockRemote) SaveScripts(_ context.Context, shortID string, scripts Snapshot) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(MethodSaveScripts); err != nil {
		return nil, err
	}
	sc, err := m.lookup(shortID)
	if err != nil {
		return nil, err
	}
	m.saved = append(m.saved, scripts.Clone())
	next := make(Snapshot, len(ScriptSlots))
	for _, slot := range ScriptSlots {
		next[slot] = scripts[slot]
	}
	sc.Scripts = next.Clone()
	sc.EditedAt = m.tick()
	return next, nil
}

func (m *MockRemote) FetchStoryCards(_ context.Context, shortID string) ([]StoryCard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(MethodFetchStoryCards); err != nil {
		return nil, err
	}
	sc, err := m.lookup(shortID)
	if err != nil {
		return nil, err
	}
	if m.EmptyCardFetches > 0 {
		m.EmptyCardFetches--
		return []StoryCard{}, nil
	}
	return cloneCards(sc.StoryCards), nil
}

func (m *MockRemote) CreateStoryCard(_ context.Context, req templates.CreateRequest) (StoryCard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(MethodCreateStoryCard); err != nil {
		return StoryCard{}, err
	}
	sc, err := m.lookup(req.ShortID)
	if err != nil {
		return StoryCard{}, err
	}
	card := StoryCard{ID: m.newCardID(), CardFields: req.Card}
	sc.StoryCards = append(sc.StoryCards, card)
	return card, nil
}

func (m *MockRemote) UpdateStoryCard(_ context.Context, shortID string, card StoryCard) (StoryCard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(MethodUpdateStoryCard); err != nil {
		return StoryCard{}, err
	}
	sc, err := m.lookup(shortID)
	if err != nil {
		return StoryCard{}, err
	}
	for i := range sc.StoryCards {
		if sc.StoryCards[i].ID == card.ID {
			sc.StoryCards[i] = card
			return card, nil
		}
	}
	return StoryCard{}, &RemoteLogicError{Messages: []string{fmt.Sprintf("story card %s not found", card.ID)}}
}

func (m *MockRemote) DeleteStoryCard(_ context.Context, shortID, cardID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(MethodDeleteStoryCard); err != nil {
		return err
	}
	sc, err := m.lookup(shortID)
	if err != nil {
		return err
	}
	for i := range sc.StoryCards {
		if sc.StoryCards[i].ID == cardID {
			sc.StoryCards = append(sc.StoryCards[:i], sc.StoryCards[i+1:]...)
			return nil
		}
	}
	return &RemoteLogicError{Messages: []string{fmt.Sprintf("story card %s not found", cardID)}}
}

func (m *MockRemote) UpdateScenario(_ context.Context, shortID string, patch map[string]any) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(MethodUpdateScenario); err != nil {
		return nil, err
	}
	sc, err := m.lookup(shortID)
	if err != nil {
		return nil, err
	}
	for k, v := range patch {
		sc.Raw[k] = v
	}
	raw := make(map[string]any, len(sc.Raw))
	for k, v := range sc.Raw {
		raw[k] = v
	}
	return raw, nil
}

func (m *MockRemote) FetchPlotComponents(_ context.Context, shortID string) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(MethodFetchPlotComponents); err != nil {
		return nil, err
	}
	if !m.PlotComponentsSupported {
		return nil, ErrNotSupported
	}
	sc, err := m.lookup(shortID)
	if err != nil {
		return nil, err
	}
	return sc.PlotComponents, nil
}

func cardsToRaw(cards []StoryCard) []any {
	out := make([]any, 0, len(cards))
	for _, card := range cards {
		out = append(out, map[string]any{
			"id":                      card.ID,
			"title":                   card.Title,
			"type":                    card.Type,
			"keys":                    card.Keys,
			"value":                   card.Value,
			"description":             card.Description,
			"useForCharacterCreation": card.UseForCharacterCreation,
		})
	}
	return out
}
