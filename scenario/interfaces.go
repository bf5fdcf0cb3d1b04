package scenario

import (
	"context"

	"github.com/zenibako/scenario-sync/templates"
)

// RemoteAPI is the full capability set the core needs from the remote service.
// Implementations return ErrNotSupported for optional operations they lack
// rather than leaving methods unimplemented.
type RemoteAPI interface {
	ListScenarios(ctx context.Context, limit, offset int) ([]ScenarioIdentity, error)
	FetchScenario(ctx context.Context, shortID string) (map[string]any, error)
	FetchScripts(ctx context.Context, shortID string) (ScriptState, error)
	// SaveScripts replaces all four slots in one mutation and returns the
	// server's canonical values
	SaveScripts(ctx context.Context, shortID string, scripts Snapshot) (Snapshot, error)
	FetchStoryCards(ctx context.Context, shortID string) ([]StoryCard, error)
	CreateStoryCard(ctx context.Context, req templates.CreateRequest) (StoryCard, error)
	UpdateStoryCard(ctx context.Context, shortID string, card StoryCard) (StoryCard, error)
	DeleteStoryCard(ctx context.Context, shortID, cardID string) error
	UpdateScenario(ctx context.Context, shortID string, patch map[string]any) (map[string]any, error)
	// FetchPlotComponents is optional; ErrNotSupported means "none"
	FetchPlotComponents(ctx context.Context, shortID string) (map[string]any, error)
}

// Buffer is the live state of one open script editor
type Buffer struct {
	Text  string
	Dirty bool // modified relative to last saved content
}

// EditorTracker exposes the presentation host's registry of open script buffers
type EditorTracker interface {
	OpenBuffers(shortID string) map[ScriptSlot]Buffer
	IsBufferOpen(shortID string, slot ScriptSlot) bool
	// RevertAll replaces every open buffer of the scenario with the saved text
	// and marks it clean
	RevertAll(shortID string, saved Snapshot) error
	// CloseAll discards unsaved content and closes every open buffer of the scenario
	CloseAll(shortID string) error
}

// ConfirmRequest describes a single confirmation prompt
type ConfirmRequest struct {
	Title       string
	Reasons     []string
	Affirmative string
	Negative    string
}

// Confirmer asks the user to approve an operation. Declining is a normal
// false result, not an error.
type Confirmer interface {
	Confirm(ctx context.Context, req ConfirmRequest) (bool, error)
}

// ConfirmFunc adapts a function to Confirmer
type ConfirmFunc func(ctx context.Context, req ConfirmRequest) (bool, error)

func (f ConfirmFunc) Confirm(ctx context.Context, req ConfirmRequest) (bool, error) {
	return f(ctx, req)
}

// FormHost is the set of scenario form panels the refresh flow must consult
type FormHost interface {
	IsDirty(shortID string) bool
	// Reopen closes the scenario's form panel, if any, and opens it again
	// from fresh cache state
	Reopen(ctx context.Context, shortID string) error
}

// ScriptSaver saves one script slot
type ScriptSaver interface {
	Save(ctx context.Context, shortID string, slot ScriptSlot, content string) (bool, error)
}
