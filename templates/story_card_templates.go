package templates

import (
	"strings"
)

// CardFields holds the user-editable fields of a story card
type CardFields struct {
	Title                   string `json:"title"`
	Type                    string `json:"type"`                    // "character", "location", "faction", etc.
	Keys                    string `json:"keys"`                    // Comma-separated match terms
	Value                   string `json:"value"`                   // Card body
	Description             string `json:"description"`             // Notes, not sent to the model
	UseForCharacterCreation bool   `json:"useForCharacterCreation"` // Offered during character creation
}

// AuthoringContext is the scenario-level guidance attached to card creation
type AuthoringContext struct {
	Instructions     string `json:"instructions,omitempty"`
	StoryInformation string `json:"storyInformation,omitempty"`
}

// IsZero reports whether no authoring context has been captured
func (c AuthoringContext) IsZero() bool {
	return c.Instructions == "" && c.StoryInformation == ""
}

// StoryCardTemplate provides defaults for a new story card of one type
type StoryCardTemplate struct {
	Type                    string `json:"type"`
	Title                   string `json:"title"`
	Value                   string `json:"value"`
	UseForCharacterCreation bool   `json:"useForCharacterCreation"`
}

// CreateRequest is a story card creation request for one scenario
type CreateRequest struct {
	ShortID string           `json:"shortId"`
	Card    CardFields       `json:"card"`
	Context AuthoringContext `json:"context"`
}

// Story card type constants
const (
	CardTypeCharacter = "character"
	CardTypeLocation  = "location"
	CardTypeFaction   = "faction"
	CardTypeRace      = "race"
	CardTypeClass     = "class"
	CardTypeCustom    = "custom"
)

var defaultTemplates = map[string]StoryCardTemplate{
	CardTypeCharacter: {Type: CardTypeCharacter, Title: "New Character", UseForCharacterCreation: false},
	CardTypeLocation:  {Type: CardTypeLocation, Title: "New Location"},
	CardTypeFaction:   {Type: CardTypeFaction, Title: "New Faction"},
	CardTypeRace:      {Type: CardTypeRace, Title: "New Race", UseForCharacterCreation: true},
	CardTypeClass:     {Type: CardTypeClass, Title: "New Class", UseForCharacterCreation: true},
	CardTypeCustom:    {Type: CardTypeCustom, Title: "New Story Card"},
}

// CardTypes lists the known card types in display order
func CardTypes() []string {
	return []string{CardTypeCharacter, CardTypeLocation, CardTypeFaction, CardTypeRace, CardTypeClass, CardTypeCustom}
}

// ForType returns the template for a card type, falling back to the custom template
func ForType(cardType string) StoryCardTemplate {
	if tmpl, ok := defaultTemplates[strings.ToLower(strings.TrimSpace(cardType))]; ok {
		return tmpl
	}
	return defaultTemplates[CardTypeCustom]
}

// Apply fills empty fields from the template for the card's type and
// normalizes the key list
func Apply(fields CardFields) CardFields {
	tmpl := ForType(fields.Type)
	if strings.TrimSpace(fields.Type) == "" {
		fields.Type = tmpl.Type
	}
	if strings.TrimSpace(fields.Title) == "" {
		fields.Title = tmpl.Title
	}
	if fields.Value == "" {
		fields.Value = tmpl.Value
	}
	if !fields.UseForCharacterCreation && tmpl.UseForCharacterCreation {
		fields.UseForCharacterCreation = true
	}
	fields.Keys = NormalizeKeys(fields.Keys)
	return fields
}

// NormalizeKeys trims each comma-separated key and drops empty entries
func NormalizeKeys(keys string) string {
	parts := strings.Split(keys, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return strings.Join(out, ",")
}

// NewCreateRequest builds a create request with template defaults applied
func NewCreateRequest(shortID string, fields CardFields, ctx AuthoringContext) CreateRequest {
	return CreateRequest{
		ShortID: shortID,
		Card:    Apply(fields),
		Context: ctx,
	}
}
