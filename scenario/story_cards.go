package scenario

import (
	"context"
	"fmt"
	"time"

	"github.com/zenibako/scenario-sync/templates"
)

// StoryCardQuery selects how GetStoryCardsForTree resolves the list
type StoryCardQuery struct {
	// Force skips the override and cache tiers
	Force bool
	// RetryIfEmpty refetches after a short delay when the server returns no cards
	RetryIfEmpty bool
}

// GetStoryCardsForTree resolves a scenario's story cards from the local
// override model, then the card cache, then the server. A server fetch is
// cached and announced to card listeners.
func (c *Cache) GetStoryCardsForTree(ctx context.Context, shortID string, query StoryCardQuery) ([]StoryCard, error) {
	if !query.Force {
		c.mu.Lock()
		if override, ok := c.overrides[shortID]; ok && override.StoryCards != nil {
			cards := cloneCards(override.StoryCards)
			c.mu.Unlock()
			return cards, nil
		}
		if cached, ok := c.storyCards[shortID]; ok {
			cards := cloneCards(cached)
			c.mu.Unlock()
			c.logger.Debug("Story cards served from cache", "shortId", shortID, "count", len(cards))
			return cards, nil
		}
		c.mu.Unlock()
	}

	c.logger.Info("Fetching story cards", "shortId", shortID)
	cards, err := c.remote.FetchStoryCards(ctx, shortID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch story cards for %s: %w", shortID, err)
	}

	if query.RetryIfEmpty {
		for attempt := 0; len(cards) == 0 && attempt < c.emptyRetries; attempt++ {
			c.logger.Warn("Story cards came back empty, retrying", "shortId", shortID, "delay", c.emptyRetryDelay)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.emptyRetryDelay):
			}
			cards, err = c.remote.FetchStoryCards(ctx, shortID)
			if err != nil {
				return nil, fmt.Errorf("failed to fetch story cards for %s: %w", shortID, err)
			}
		}
	}

	if cards == nil {
		cards = []StoryCard{}
	}

	c.mu.Lock()
	c.storyCards[shortID] = cloneCards(cards)
	c.mu.Unlock()

	c.feed.Emit(shortID)
	c.notifyStoryCards(shortID, cards)
	return cloneCards(cards), nil
}

// CreateStoryCard creates a card on the server with the remembered authoring
// context and appends it to the cached list
func (c *Cache) CreateStoryCard(ctx context.Context, shortID string, fields templates.CardFields) (StoryCard, error) {
	req := templates.NewCreateRequest(shortID, fields, c.AuthoringContext(shortID))
	created, err := c.remote.CreateStoryCard(ctx, req)
	if err != nil {
		return StoryCard{}, fmt.Errorf("failed to create story card on %s: %w", shortID, err)
	}

	cards := c.mutateCards(shortID, func(cards []StoryCard) []StoryCard {
		return append(cards, created)
	})

	c.logger.Info("Created story card", "shortId", shortID, "cardId", created.ID)
	c.feed.Emit(shortID)
	if cards != nil {
		c.notifyStoryCards(shortID, cards)
	}
	return created, nil
}

// UpdateStoryCard sends card to the server and replaces the cached entry with the same id
func (c *Cache) UpdateStoryCard(ctx context.Context, shortID string, card StoryCard) (StoryCard, error) {
	updated, err := c.remote.UpdateStoryCard(ctx, shortID, card)
	if err != nil {
		return StoryCard{}, fmt.Errorf("failed to update story card %s on %s: %w", card.ID, shortID, err)
	}
	if updated.ID == "" {
		updated.ID = card.ID
	}

	cards := c.mutateCards(shortID, func(cards []StoryCard) []StoryCard {
		for i := range cards {
			if cards[i].ID == updated.ID {
				cards[i] = updated
				return cards
			}
		}
		return append(cards, updated)
	})

	c.logger.Info("Updated story card", "shortId", shortID, "cardId", updated.ID)
	c.feed.Emit(shortID)
	if cards != nil {
		c.notifyStoryCards(shortID, cards)
	}
	return updated, nil
}

// DeleteStoryCard deletes a card on the server and removes it from the cached list
func (c *Cache) DeleteStoryCard(ctx context.Context, shortID, cardID string) error {
	if err := c.remote.DeleteStoryCard(ctx, shortID, cardID); err != nil {
		return fmt.Errorf("failed to delete story card %s on %s: %w", cardID, shortID, err)
	}

	cards := c.mutateCards(shortID, func(cards []StoryCard) []StoryCard {
		out := cards[:0]
		for _, card := range cards {
			if card.ID != cardID {
				out = append(out, card)
			}
		}
		return out
	})

	c.logger.Info("Deleted story card", "shortId", shortID, "cardId", cardID)
	c.feed.Emit(shortID)
	if cards != nil {
		c.notifyStoryCards(shortID, cards)
	}
	return nil
}

// StoryCard looks up one card, honoring the local override model
func (c *Cache) StoryCard(ctx context.Context, shortID, cardID string) (StoryCard, error) {
	cards, err := c.GetStoryCardsForTree(ctx, shortID, StoryCardQuery{})
	if err != nil {
		return StoryCard{}, err
	}
	for _, card := range cards {
		if card.ID == cardID {
			return card, nil
		}
	}
	return StoryCard{}, fmt.Errorf("story card %s on %s: %w", cardID, shortID, ErrStoryCardNotFound)
}

// CopyStoryCardBetweenScenarios creates an equivalent of a source card on the target scenario
func (c *Cache) CopyStoryCardBetweenScenarios(ctx context.Context, sourceID, cardID, targetID string) (StoryCard, error) {
	card, err := c.StoryCard(ctx, sourceID, cardID)
	if err != nil {
		return StoryCard{}, err
	}
	created, err := c.CreateStoryCard(ctx, targetID, card.CardFields)
	if err != nil {
		return StoryCard{}, fmt.Errorf("failed to copy story card %s from %s: %w", cardID, sourceID, err)
	}
	return created, nil
}

// mutateCards applies fn to the cached list, if any, and drops the override
// model so the card cache becomes the single source. It returns the new list
// or nil when nothing was cached.
func (c *Cache) mutateCards(shortID string, fn func([]StoryCard) []StoryCard) []StoryCard {
	c.mu.Lock()
	defer c.mu.Unlock()

	var base []StoryCard
	cached, ok := c.storyCards[shortID]
	if ok {
		base = cloneCards(cached)
	} else if override, hasOverride := c.overrides[shortID]; hasOverride && override.StoryCards != nil {
		base = cloneCards(override.StoryCards)
		ok = true
	}
	delete(c.overrides, shortID)

	if !ok {
		return nil
	}
	next := fn(base)
	c.storyCards[shortID] = next
	return cloneCards(next)
}
