package panel

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/zenibako/scenario-sync/messages"
	"github.com/zenibako/scenario-sync/scenario"
	"github.com/zenibako/scenario-sync/templates"
)

// DefaultStateTimeout bounds how long a request-state round trip may take
const DefaultStateTimeout = 5 * time.Second

// Transport delivers outbound messages to one panel
type Transport interface {
	Send(ctx context.Context, msg messages.Outbound) error
}

// Options configures a Controller
type Options struct {
	Logger       *log.Logger
	StateTimeout time.Duration
}

// Controller drives one scenario form panel over the panel message contract
type Controller struct {
	shortID      string
	cache        *scenario.Cache
	transport    Transport
	logger       *log.Logger
	stateTimeout time.Duration

	mu      sync.Mutex
	dirty   bool
	closed  bool
	pending map[string]chan json.RawMessage

	unsubscribe func()
}

// NewController creates a controller and starts forwarding story card
// changes for shortID to the panel
func NewController(shortID string, cache *scenario.Cache, transport Transport, opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	timeout := opts.StateTimeout
	if timeout <= 0 {
		timeout = DefaultStateTimeout
	}

	c := &Controller{
		shortID:      shortID,
		cache:        cache,
		transport:    transport,
		logger:       logger.With("shortId", shortID),
		stateTimeout: timeout,
		pending:      make(map[string]chan json.RawMessage),
	}
	c.unsubscribe = cache.OnStoryCards(func(id string, cards []scenario.StoryCard) {
		if id != shortID {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), c.stateTimeout)
		defer cancel()
		c.send(ctx, messages.Outbound{Type: messages.MsgStoryCardsChanged, StoryCards: cards})
	})
	return c
}

// ShortID returns the scenario the panel edits
func (c *Controller) ShortID() string {
	return c.shortID
}

// IsDirty reports the panel's last announced dirty flag
func (c *Controller) IsDirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirty
}

func (c *Controller) send(ctx context.Context, msg messages.Outbound) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	if err := c.transport.Send(ctx, msg); err != nil {
		c.logger.Warn("Failed to send panel message", "type", msg.Type, "err", err)
	}
}

// Init sends the current model, story cards, and plot components
func (c *Controller) Init(ctx context.Context) error {
	model, err := c.cache.GetEditorJSON(ctx, c.shortID)
	if err != nil {
		return err
	}
	cards, err := c.cache.GetStoryCardsForTree(ctx, c.shortID, scenario.StoryCardQuery{})
	if err != nil {
		return err
	}
	plot, err := c.cache.PlotComponents(ctx, c.shortID)
	if err != nil {
		c.logger.Warn("Plot components unavailable", "err", err)
		plot = map[string]any{}
	}

	c.send(ctx, messages.Outbound{
		Type:           messages.MsgInit,
		Model:          model,
		StoryCards:     cards,
		PlotComponents: plot,
	})
	return nil
}

// Reinit discards the panel's local state and initializes it from the cache again
func (c *Controller) Reinit(ctx context.Context) error {
	c.mu.Lock()
	c.dirty = false
	c.mu.Unlock()
	return c.Init(ctx)
}

// HandleMessage processes one raw inbound panel message
func (c *Controller) HandleMessage(ctx context.Context, data []byte) error {
	msg, err := messages.DecodeInbound(data)
	if err != nil {
		return err
	}
	c.logger.Debug("Panel message", "type", msg.Type)

	switch msg.Type {
	case messages.MsgReady:
		return c.Init(ctx)

	case messages.MsgDirtyChanged:
		c.mu.Lock()
		c.dirty = msg.Dirty
		c.mu.Unlock()
		return nil

	case messages.MsgRequestStateResponse:
		c.mu.Lock()
		ch, ok := c.pending[msg.RequestID]
		delete(c.pending, msg.RequestID)
		c.mu.Unlock()
		if !ok {
			c.logger.Debug("No pending state request", "requestId", msg.RequestID)
			return nil
		}
		ch <- msg.Model
		return nil

	case messages.MsgCreateCard:
		var fields templates.CardFields
		if len(msg.Card) > 0 {
			if err := json.Unmarshal(msg.Card, &fields); err != nil {
				return c.fail(ctx, fmt.Errorf("invalid card: %w", err))
			}
		}
		if _, err := c.cache.CreateStoryCard(ctx, c.shortID, fields); err != nil {
			return c.fail(ctx, err)
		}
		return nil

	case messages.MsgDeleteCard:
		if err := c.cache.DeleteStoryCard(ctx, c.shortID, msg.CardID); err != nil {
			return c.fail(ctx, err)
		}
		return nil

	case messages.MsgUpdateCard:
		card, err := c.cache.StoryCard(ctx, c.shortID, msg.CardID)
		if err != nil {
			return c.fail(ctx, err)
		}
		if err := json.Unmarshal(msg.Patch, &card.CardFields); err != nil {
			return c.fail(ctx, fmt.Errorf("invalid card patch: %w", err))
		}
		card.ID = msg.CardID
		if _, err := c.cache.UpdateStoryCard(ctx, c.shortID, card); err != nil {
			return c.fail(ctx, err)
		}
		return nil

	case messages.MsgSaveScenario:
		model, err := scenario.ParseEditorJSON(c.shortID, msg.Model)
		if err != nil {
			return c.fail(ctx, err)
		}
		saved, err := c.cache.SaveScenario(ctx, c.shortID, model)
		if err != nil {
			return c.fail(ctx, err)
		}
		c.mu.Lock()
		c.dirty = false
		c.mu.Unlock()
		c.send(ctx, messages.Outbound{
			Type:       messages.MsgSaveSucceeded,
			Model:      saved,
			StoryCards: saved.StoryCards,
		})
		return nil
	}
	return nil
}

// fail reports err to the panel and returns it
func (c *Controller) fail(ctx context.Context, err error) error {
	c.send(ctx, messages.Outbound{Type: messages.MsgSaveFailed, Message: err.Error()})
	return err
}

// RequestState asks the panel for its current, possibly unsaved, model. It
// fails with scenario.ErrStateRequestTimeout when the panel does not answer in time.
func (c *Controller) RequestState(ctx context.Context) (scenario.NormalizedScenario, error) {
	requestID := uuid.NewString()
	ch := make(chan json.RawMessage, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return scenario.NormalizedScenario{}, fmt.Errorf("panel for %s is closed", c.shortID)
	}
	c.pending[requestID] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, requestID)
		c.mu.Unlock()
	}()

	if err := c.transport.Send(ctx, messages.Outbound{Type: messages.MsgRequestState, RequestID: requestID}); err != nil {
		return scenario.NormalizedScenario{}, fmt.Errorf("failed to request panel state: %w", err)
	}

	select {
	case raw := <-ch:
		return scenario.ParseEditorJSON(c.shortID, raw)
	case <-time.After(c.stateTimeout):
		c.logger.Warn("Panel did not answer state request", "requestId", requestID, "timeout", c.stateTimeout)
		return scenario.NormalizedScenario{}, fmt.Errorf("panel %s after %v: %w", c.shortID, c.stateTimeout, scenario.ErrStateRequestTimeout)
	case <-ctx.Done():
		return scenario.NormalizedScenario{}, ctx.Err()
	}
}

// Close stops forwarding story card changes. Pending state requests still run to their timeout.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	c.unsubscribe()
}
