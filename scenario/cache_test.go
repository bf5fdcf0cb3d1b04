package scenario

import (
	"context"
	"errors"
	"testing"

	"github.com/zenibako/scenario-sync/templates"
)

func TestGetEditorJSONNormalizesAndRemembersContext(t *testing.T) {
	h := newHarness()
	h.remote.AddScenario("abc", "Container")
	h.remote.SetField("abc", "storyCardInstructions", "Write in second person")
	h.remote.SetField("abc", "secretInternalField", "dropped")
	h.remote.SetField("abc", "options", []any{
		map[string]any{"shortId": "abc", "title": "Self", "parentScenarioId": "abc"},
		map[string]any{"shortId": "child1", "title": "Child", "parentScenarioId": "abc"},
		map[string]any{"shortId": "orphan", "title": "No parent"},
	})

	model, err := h.cache.GetEditorJSON(context.Background(), "abc")
	if err != nil {
		t.Fatalf("GetEditorJSON failed: %v", err)
	}
	if len(model.Options) != 1 || model.Options[0].ShortID != "child1" {
		t.Errorf("Expected only child1 option, got %+v", model.Options)
	}
	if model.Tags == nil || model.StoryCards == nil {
		t.Error("Expected defaults for absent list fields")
	}
	if got := h.cache.AuthoringContext("abc").Instructions; got != "Write in second person" {
		t.Errorf("Expected remembered instructions, got %q", got)
	}
}

func TestLocalOverrideIsClonedAndPreferred(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.remote.AddScenario("abc", "Server title")

	model := NormalizedScenario{Title: "Local title", StoryCards: []StoryCard{{ID: "c1"}}}
	h.cache.SetLocalScenarioOverride("abc", model)
	model.StoryCards[0].ID = "mutated"

	got, err := h.cache.GetEditorJSON(ctx, "abc")
	if err != nil {
		t.Fatalf("GetEditorJSON failed: %v", err)
	}
	if got.Title != "Local title" {
		t.Errorf("Expected override title, got %q", got.Title)
	}
	if got.StoryCards[0].ID != "c1" {
		t.Error("Override shares memory with the caller's model")
	}
	got.Title = "changed by reader"
	again, _ := h.cache.GetEditorJSON(ctx, "abc")
	if again.Title != "Local title" {
		t.Error("Reader mutated cached override")
	}
	if h.remote.Calls(MethodFetchScenario) != 0 {
		t.Error("Expected no fetch while an override exists")
	}

	h.cache.ClearLocalScenarioOverride("abc")
	fresh, _ := h.cache.GetEditorJSON(ctx, "abc")
	if fresh.Title != "Server title" {
		t.Errorf("Expected server title after clearing, got %q", fresh.Title)
	}
}

func TestRequestServerReloadForgetsEverything(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.remote.AddScenario("abc", "Reload")

	h.cache.Store().SetSnapshot("abc", NewSnapshot(Str("x"), nil, nil, nil))
	h.cache.Store().SetOverride("abc", SlotOnInput, ExistenceExists)
	h.cache.SetLocalScenarioOverride("abc", NormalizedScenario{Title: "local"})
	if _, err := h.cache.GetStoryCardsForTree(ctx, "abc", StoryCardQuery{Force: true}); err != nil {
		t.Fatalf("GetStoryCardsForTree failed: %v", err)
	}

	before := h.events.count("abc")
	h.cache.RequestServerReload("abc")

	if got := h.events.count("abc") - before; got != 1 {
		t.Errorf("Expected exactly 1 notification, got %d", got)
	}
	if _, ok := h.cache.Store().Snapshot("abc"); ok {
		t.Error("Snapshot survived reload")
	}
	if _, ok := h.cache.Store().Override("abc", SlotOnInput); ok {
		t.Error("Slot override survived reload")
	}
	if h.cache.HasLocalOverride("abc") {
		t.Error("Override model survived reload")
	}
	if !h.cache.Store().ConsumeServerReload("abc") {
		t.Error("Expected reload flag to be armed")
	}

	fetches := h.remote.Calls(MethodFetchStoryCards)
	if _, err := h.cache.GetStoryCardsForTree(ctx, "abc", StoryCardQuery{}); err != nil {
		t.Fatalf("GetStoryCardsForTree failed: %v", err)
	}
	if h.remote.Calls(MethodFetchStoryCards) != fetches+1 {
		t.Error("Expected cards to be refetched after reload")
	}
}

func TestInvalidateAllEmitsEverythingChanged(t *testing.T) {
	h := newHarness()
	h.cache.Store().SetSnapshot("a", NewSnapshot(Str("x"), nil, nil, nil))
	h.cache.Store().SetSnapshot("b", NewSnapshot(Str("y"), nil, nil, nil))

	h.cache.InvalidateAll()

	if h.events.count("") != 1 {
		t.Errorf("Expected one everything-changed event, got %d", h.events.count(""))
	}
	if _, ok := h.cache.Store().Snapshot("a"); ok {
		t.Error("Snapshot survived InvalidateAll")
	}
}

func TestListScenariosIsMemoized(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.remote.AddScenario("a", "A")
	h.remote.AddScenario("b", "B")
	h.remote.AddScenario("c", "C")

	page, err := h.cache.ListScenarios(ctx, 2, 1)
	if err != nil {
		t.Fatalf("ListScenarios failed: %v", err)
	}
	if len(page) != 2 || page[0].ShortID != "b" || page[1].ShortID != "c" {
		t.Errorf("Unexpected page: %+v", page)
	}
	if _, err := h.cache.ListScenarios(ctx, 2, 1); err != nil {
		t.Fatalf("ListScenarios failed: %v", err)
	}
	if got := h.remote.Calls(MethodListScenarios); got != 1 {
		t.Errorf("Expected 1 list call, got %d", got)
	}

	h.cache.InvalidateAll()
	if _, err := h.cache.ListScenarios(ctx, 2, 1); err != nil {
		t.Fatalf("ListScenarios failed: %v", err)
	}
	if got := h.remote.Calls(MethodListScenarios); got != 2 {
		t.Errorf("Expected refetch after invalidation, got %d calls", got)
	}
}

func TestChildrenAreMemoized(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.remote.AddScenario("parent", "Parent")
	h.remote.SetField("parent", "options", []any{
		map[string]any{"shortId": "kid", "parentScenario": map[string]any{"shortId": "parent"}},
	})

	kids, err := h.cache.Children(ctx, "parent")
	if err != nil {
		t.Fatalf("Children failed: %v", err)
	}
	if len(kids) != 1 || kids[0].ParentScenarioID != "parent" {
		t.Errorf("Unexpected children: %+v", kids)
	}
	_, _ = h.cache.Children(ctx, "parent")
	if got := h.remote.Calls(MethodFetchScenario); got != 1 {
		t.Errorf("Expected 1 fetch, got %d", got)
	}
}

func TestCreateStoryCardUpdatesCacheWithoutRefetch(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.remote.AddScenario("abc", "Cards")
	h.remote.SetField("abc", "storyCardInstructions", "be brief")
	if _, err := h.cache.GetEditorJSON(ctx, "abc"); err != nil {
		t.Fatalf("GetEditorJSON failed: %v", err)
	}
	if _, err := h.cache.GetStoryCardsForTree(ctx, "abc", StoryCardQuery{}); err != nil {
		t.Fatalf("GetStoryCardsForTree failed: %v", err)
	}
	fetches := h.remote.Calls(MethodFetchStoryCards)

	var notified []StoryCard
	cancel := h.cache.OnStoryCards(func(shortID string, cards []StoryCard) {
		notified = cards
	})
	defer cancel()

	created, err := h.cache.CreateStoryCard(ctx, "abc", templates.CardFields{Type: "race", Keys: " elf , elves ,"})
	if err != nil {
		t.Fatalf("CreateStoryCard failed: %v", err)
	}
	if created.Title != "New Race" || !created.UseForCharacterCreation || created.Keys != "elf,elves" {
		t.Errorf("Template defaults not applied: %+v", created)
	}

	cards, err := h.cache.GetStoryCardsForTree(ctx, "abc", StoryCardQuery{})
	if err != nil {
		t.Fatalf("GetStoryCardsForTree failed: %v", err)
	}
	if h.remote.Calls(MethodFetchStoryCards) != fetches {
		t.Error("Expected no refetch after create")
	}
	if len(cards) != 1 || cards[0].ID != created.ID {
		t.Errorf("Expected created card in cache, got %+v", cards)
	}
	if len(notified) != 1 {
		t.Errorf("Expected listener to see new list, got %d cards", len(notified))
	}
}

func TestUpdateStoryCardReplacesEntry(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.remote.AddScenario("abc", "Cards")
	card := h.remote.AddStoryCard("abc", StoryCard{CardFields: templates.CardFields{Title: "Old"}})
	_, _ = h.cache.GetStoryCardsForTree(ctx, "abc", StoryCardQuery{})

	card.Title = "New"
	if _, err := h.cache.UpdateStoryCard(ctx, "abc", card); err != nil {
		t.Fatalf("UpdateStoryCard failed: %v", err)
	}
	cards, _ := h.cache.GetStoryCardsForTree(ctx, "abc", StoryCardQuery{})
	if len(cards) != 1 || cards[0].Title != "New" {
		t.Errorf("Expected updated card, got %+v", cards)
	}
}

func TestStoryCardMutationFailureLeavesCache(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.remote.AddScenario("abc", "Cards")
	h.remote.AddStoryCard("abc", StoryCard{ID: "keep"})
	_, _ = h.cache.GetStoryCardsForTree(ctx, "abc", StoryCardQuery{})
	h.remote.FailNext(MethodDeleteStoryCard, &RemoteLogicError{Messages: []string{"denied"}})
	before := h.events.count("abc")

	err := h.cache.DeleteStoryCard(ctx, "abc", "keep")
	if !errors.Is(err, ErrRemoteLogic) {
		t.Fatalf("Expected remote logic error, got %v", err)
	}
	cards, _ := h.cache.GetStoryCardsForTree(ctx, "abc", StoryCardQuery{})
	if len(cards) != 1 {
		t.Error("Cache changed after failed delete")
	}
	if h.events.count("abc") != before {
		t.Error("Notification fired after failed delete")
	}
}

func TestStoryCardMutationDropsOverride(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.remote.AddScenario("abc", "Cards")
	h.cache.SetLocalScenarioOverride("abc", NormalizedScenario{
		StoryCards: []StoryCard{{ID: "local-1"}},
	})

	created, err := h.cache.CreateStoryCard(ctx, "abc", templates.CardFields{Title: "Server card"})
	if err != nil {
		t.Fatalf("CreateStoryCard failed: %v", err)
	}
	if h.cache.HasLocalOverride("abc") {
		t.Error("Expected override model to be destroyed by a remote mutation")
	}
	cards, _ := h.cache.GetStoryCardsForTree(ctx, "abc", StoryCardQuery{})
	if len(cards) != 2 || cards[1].ID != created.ID {
		t.Errorf("Expected override cards plus created card, got %+v", cards)
	}
}

func TestGetStoryCardsRetryIfEmpty(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.remote.AddScenario("abc", "Eventually consistent")
	h.remote.AddStoryCard("abc", StoryCard{ID: "late"})
	h.remote.EmptyCardFetches = 1

	cards, err := h.cache.GetStoryCardsForTree(ctx, "abc", StoryCardQuery{Force: true, RetryIfEmpty: true})
	if err != nil {
		t.Fatalf("GetStoryCardsForTree failed: %v", err)
	}
	if len(cards) != 1 {
		t.Errorf("Expected retry to find the card, got %d", len(cards))
	}
	if got := h.remote.Calls(MethodFetchStoryCards); got != 2 {
		t.Errorf("Expected 2 fetches, got %d", got)
	}
}

func TestGetStoryCardsEmptyWithoutRetry(t *testing.T) {
	h := newHarness()
	h.remote.AddScenario("abc", "Empty")

	cards, err := h.cache.GetStoryCardsForTree(context.Background(), "abc", StoryCardQuery{RetryIfEmpty: true})
	if err != nil {
		t.Fatalf("Empty result should not be an error: %v", err)
	}
	if cards == nil || len(cards) != 0 {
		t.Errorf("Expected empty list, got %+v", cards)
	}
}

func TestCopyStoryCardBetweenScenarios(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.remote.AddScenario("src", "Source")
	h.remote.AddScenario("dst", "Target")
	card := h.remote.AddStoryCard("src", StoryCard{CardFields: templates.CardFields{Title: "Dragon", Type: "character", Value: "Big"}})

	copied, err := h.cache.CopyStoryCardBetweenScenarios(ctx, "src", card.ID, "dst")
	if err != nil {
		t.Fatalf("Copy failed: %v", err)
	}
	if copied.Title != "Dragon" || copied.Value != "Big" || copied.ID == card.ID {
		t.Errorf("Unexpected copy: %+v", copied)
	}

	_, err = h.cache.CopyStoryCardBetweenScenarios(ctx, "src", "missing", "dst")
	if !errors.Is(err, ErrStoryCardNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}
}

func TestSaveScenarioDestroysOverride(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.remote.AddScenario("abc", "Before")

	model, _ := h.cache.GetEditorJSON(ctx, "abc")
	model.Title = "After"
	model.StoryCards = []StoryCard{{ID: "c1"}}
	h.cache.SetLocalScenarioOverride("abc", model)

	saved, err := h.cache.SaveScenario(ctx, "abc", model)
	if err != nil {
		t.Fatalf("SaveScenario failed: %v", err)
	}
	if saved.Title != "After" {
		t.Errorf("Expected saved title, got %q", saved.Title)
	}
	if h.cache.HasLocalOverride("abc") {
		t.Error("Override survived a successful save")
	}
	cards, _ := h.cache.GetStoryCardsForTree(ctx, "abc", StoryCardQuery{})
	if len(cards) != 1 || cards[0].ID != "c1" {
		t.Errorf("Expected saved model's cards in cache, got %+v", cards)
	}
}

func TestSaveScenarioFailureKeepsOverride(t *testing.T) {
	h := newHarness()
	h.remote.AddScenario("abc", "Before")
	h.cache.SetLocalScenarioOverride("abc", NormalizedScenario{Title: "Pending"})
	h.remote.FailNext(MethodUpdateScenario, &AuthError{Kind: AuthExpired})

	_, err := h.cache.SaveScenario(context.Background(), "abc", NormalizedScenario{Title: "Pending"})
	if !IsAuthError(err) {
		t.Errorf("Expected auth error, got %v", err)
	}
	if !h.cache.HasLocalOverride("abc") {
		t.Error("Override lost after failed save")
	}
}

func TestPlotComponentsCapability(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.remote.AddScenario("abc", "Plot")

	got, err := h.cache.PlotComponents(ctx, "abc")
	if err != nil {
		t.Fatalf("Unsupported capability should not error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Expected empty map, got %v", got)
	}

	h.remote.PlotComponentsSupported = true
	h.remote.FailNext(MethodFetchPlotComponents, errors.New("network down"))
	if _, err := h.cache.PlotComponents(ctx, "abc"); err == nil {
		t.Error("Expected other errors to propagate")
	}
}

func TestEditorJSONSeedsStoryCardCache(t *testing.T) {
	tests := []struct {
		name        string
		readEditor  bool
		wantFetches int
	}{
		{name: "editor read first", readEditor: true, wantFetches: 0},
		{name: "cold cache", readEditor: false, wantFetches: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			ctx := context.Background()
			h.remote.AddScenario("abc", "Seeded")
			h.remote.AddStoryCard("abc", StoryCard{ID: "existing"})

			if tt.readEditor {
				if _, err := h.cache.GetEditorJSON(ctx, "abc"); err != nil {
					t.Fatalf("GetEditorJSON failed: %v", err)
				}
			}
			created, err := h.cache.CreateStoryCard(ctx, "abc", templates.CardFields{Type: "location"})
			if err != nil {
				t.Fatalf("CreateStoryCard failed: %v", err)
			}

			cards, err := h.cache.GetStoryCardsForTree(ctx, "abc", StoryCardQuery{})
			if err != nil {
				t.Fatalf("GetStoryCardsForTree failed: %v", err)
			}
			if got := h.remote.Calls(MethodFetchStoryCards); got != tt.wantFetches {
				t.Errorf("Expected %d card fetches, got %d", tt.wantFetches, got)
			}
			if len(cards) != 2 || cards[1].ID != created.ID {
				t.Errorf("Expected existing and created cards, got %+v", cards)
			}
		})
	}
}

func TestEditorJSONKeepsCachedCards(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.remote.AddScenario("abc", "Cached")
	if _, err := h.cache.GetStoryCardsForTree(ctx, "abc", StoryCardQuery{}); err != nil {
		t.Fatalf("GetStoryCardsForTree failed: %v", err)
	}
	h.remote.AddStoryCard("abc", StoryCard{ID: "later"})

	if _, err := h.cache.GetEditorJSON(ctx, "abc"); err != nil {
		t.Fatalf("GetEditorJSON failed: %v", err)
	}
	cards, err := h.cache.GetStoryCardsForTree(ctx, "abc", StoryCardQuery{})
	if err != nil {
		t.Fatalf("GetStoryCardsForTree failed: %v", err)
	}
	if len(cards) != 0 {
		t.Errorf("Expected the existing cache entry to win, got %+v", cards)
	}
}
