package scenario

import (
	"time"

	"github.com/zenibako/scenario-sync/templates"
)

// ScriptSlot names one of the four event-driven script bodies of a scenario
type ScriptSlot string

const (
	SlotSharedLibrary  ScriptSlot = "sharedLibrary"
	SlotOnInput        ScriptSlot = "onInput"
	SlotOnOutput       ScriptSlot = "onOutput"
	SlotOnModelContext ScriptSlot = "onModelContext"
)

// ScriptSlots lists every slot in a fixed order. Every scenario has exactly these four.
var ScriptSlots = []ScriptSlot{SlotSharedLibrary, SlotOnInput, SlotOnOutput, SlotOnModelContext}

// ParseScriptSlot maps a resource name to a slot
func ParseScriptSlot(name string) (ScriptSlot, bool) {
	for _, slot := range ScriptSlots {
		if string(slot) == name {
			return slot, true
		}
	}
	return "", false
}

// Snapshot holds the last known server value per slot. A nil value means the
// server has no content for the slot, which is distinct from "".
type Snapshot map[ScriptSlot]*string

// Str returns a pointer to s, for building snapshots
func Str(s string) *string {
	return &s
}

// NewSnapshot builds a snapshot with all four slots present
func NewSnapshot(sharedLibrary, onInput, onOutput, onModelContext *string) Snapshot {
	return Snapshot{
		SlotSharedLibrary:  sharedLibrary,
		SlotOnInput:        onInput,
		SlotOnOutput:       onOutput,
		SlotOnModelContext: onModelContext,
	}
}

// Value returns the slot's text, treating null as empty
func (s Snapshot) Value(slot ScriptSlot) string {
	if v := s[slot]; v != nil {
		return *v
	}
	return ""
}

// Clone deep-copies the snapshot so callers never share string pointers with the store
func (s Snapshot) Clone() Snapshot {
	if s == nil {
		return nil
	}
	out := make(Snapshot, len(s))
	for slot, v := range s {
		if v == nil {
			out[slot] = nil
			continue
		}
		out[slot] = Str(*v)
	}
	return out
}

// ScriptState is the server's script content plus its last edit time
type ScriptState struct {
	Scripts  Snapshot
	EditedAt *time.Time
}

// Existence is a manual per-slot override set by the presentation host
type Existence string

const (
	ExistenceExists  Existence = "exists"
	ExistenceMissing Existence = "missing"
)

// ScenarioIdentity is the stable cache key of a scenario
type ScenarioIdentity struct {
	ShortID string `json:"shortId"`
	Title   string `json:"title"`
}

// StoryCard is a keyed knowledge-base entry attached to a scenario
type StoryCard struct {
	ID string `json:"id"`
	templates.CardFields
}

// ScenarioOption is a child scenario offered as an option of a container scenario
type ScenarioOption struct {
	ShortID          string `json:"shortId"`
	Title            string `json:"title"`
	Prompt           string `json:"prompt"`
	ParentScenarioID string `json:"parentScenarioId"`
}

// NormalizedScenario is the editable scenario document: allow-listed metadata
// with defaults filled in, plus options and story cards
type NormalizedScenario struct {
	ShortID                   string           `json:"shortId"`
	Title                     string           `json:"title"`
	Description               string           `json:"description"`
	Prompt                    string           `json:"prompt"`
	Memory                    string           `json:"memory"`
	AuthorsNote               string           `json:"authorsNote"`
	Tags                      []string         `json:"tags"`
	ContentRating             string           `json:"contentRating"`
	Published                 bool             `json:"published"`
	AllowComments             bool             `json:"allowComments"`
	StoryCardInstructions     string           `json:"storyCardInstructions"`
	StoryCardStoryInformation string           `json:"storyCardStoryInformation"`
	Options                   []ScenarioOption `json:"options"`
	StoryCards                []StoryCard      `json:"storyCards"`
}

// Clone deep-copies the model
func (m NormalizedScenario) Clone() NormalizedScenario {
	out := m
	if m.Tags != nil {
		out.Tags = append(make([]string, 0, len(m.Tags)), m.Tags...)
	}
	if m.Options != nil {
		out.Options = append(make([]ScenarioOption, 0, len(m.Options)), m.Options...)
	}
	out.StoryCards = cloneCards(m.StoryCards)
	return out
}

// AuthoringContext extracts the story-card authoring guidance of the model
func (m NormalizedScenario) AuthoringContext() templates.AuthoringContext {
	return templates.AuthoringContext{
		Instructions:     m.StoryCardInstructions,
		StoryInformation: m.StoryCardStoryInformation,
	}
}

// Patch returns the allow-listed metadata fields sent on a scenario update
func (m NormalizedScenario) Patch() map[string]any {
	tags := m.Tags
	if tags == nil {
		tags = []string{}
	}
	return map[string]any{
		"title":                     m.Title,
		"description":               m.Description,
		"prompt":                    m.Prompt,
		"memory":                    m.Memory,
		"authorsNote":               m.AuthorsNote,
		"tags":                      tags,
		"contentRating":             m.ContentRating,
		"published":                 m.Published,
		"allowComments":             m.AllowComments,
		"storyCardInstructions":     m.StoryCardInstructions,
		"storyCardStoryInformation": m.StoryCardStoryInformation,
	}
}

func cloneCards(cards []StoryCard) []StoryCard {
	if cards == nil {
		return nil
	}
	return append(make([]StoryCard, 0, len(cards)), cards...)
}
