package scenario

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zenibako/scenario-sync/templates"
)

// NormalizeScenario converts a raw remote scenario into the editable document.
// Only allow-listed fields are kept, absent fields get defaults, and options
// that are the scenario itself or have no parent are dropped.
func NormalizeScenario(raw map[string]any) NormalizedScenario {
	model := NormalizedScenario{
		ShortID:                   stringField(raw, "shortId"),
		Title:                     stringField(raw, "title"),
		Description:               stringField(raw, "description"),
		Prompt:                    stringField(raw, "prompt"),
		Memory:                    stringField(raw, "memory"),
		AuthorsNote:               stringField(raw, "authorsNote"),
		Tags:                      stringListField(raw, "tags"),
		ContentRating:             stringField(raw, "contentRating"),
		Published:                 boolField(raw, "published"),
		AllowComments:             boolField(raw, "allowComments"),
		StoryCardInstructions:     stringField(raw, "storyCardInstructions"),
		StoryCardStoryInformation: stringField(raw, "storyCardStoryInformation"),
		Options:                   []ScenarioOption{},
		StoryCards:                []StoryCard{},
	}

	if options, ok := raw["options"].([]any); ok {
		for _, item := range options {
			optionMap, ok := item.(map[string]any)
			if !ok {
				continue
			}
			option := ScenarioOption{
				ShortID:          stringField(optionMap, "shortId"),
				Title:            stringField(optionMap, "title"),
				Prompt:           stringField(optionMap, "prompt"),
				ParentScenarioID: parentReference(optionMap),
			}
			// The entry mirroring the scenario's own short id is the container
			// heading, and a null parent marks non-child metadata
			if option.ShortID == "" || option.ShortID == model.ShortID || option.ParentScenarioID == "" {
				continue
			}
			model.Options = append(model.Options, option)
		}
	}

	if cards, ok := raw["storyCards"].([]any); ok {
		model.StoryCards = NormalizeStoryCards(cards)
	}

	return model
}

// NormalizeStoryCards maps raw story card objects, skipping entries without an id
func NormalizeStoryCards(raw []any) []StoryCard {
	cards := make([]StoryCard, 0, len(raw))
	for _, item := range raw {
		cardMap, ok := item.(map[string]any)
		if !ok {
			continue
		}
		card, ok := NormalizeStoryCard(cardMap)
		if !ok {
			continue
		}
		cards = append(cards, card)
	}
	return cards
}

// NormalizeStoryCard maps one raw story card object. The body is read from
// "value" and falls back to "body"; keys may be a string or a list.
func NormalizeStoryCard(raw map[string]any) (StoryCard, bool) {
	id := stringField(raw, "id")
	if id == "" {
		return StoryCard{}, false
	}

	value := stringField(raw, "value")
	if _, hasValue := raw["value"]; !hasValue {
		value = stringField(raw, "body")
	}

	keys := stringField(raw, "keys")
	if list, ok := raw["keys"].([]any); ok {
		parts := make([]string, 0, len(list))
		for _, k := range list {
			parts = append(parts, normalizeProperty(k))
		}
		keys = strings.Join(parts, ",")
	}

	return StoryCard{
		ID: id,
		CardFields: templates.CardFields{
			Title:                   stringField(raw, "title"),
			Type:                    stringField(raw, "type"),
			Keys:                    keys,
			Value:                   value,
			Description:             stringField(raw, "description"),
			UseForCharacterCreation: boolField(raw, "useForCharacterCreation"),
		},
	}, true
}

// ParseEditorJSON parses a scenario document written by the user. The result
// is normalized the same way a remote fetch is; shortID wins over any id in the document.
func ParseEditorJSON(shortID string, data []byte) (NormalizedScenario, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return NormalizedScenario{}, &ValidationError{
			Resource: shortID + "/" + "scenario.json",
			Err:      fmt.Errorf("malformed JSON: %w", err),
		}
	}
	if raw == nil {
		return NormalizedScenario{}, &ValidationError{
			Resource: shortID + "/" + "scenario.json",
			Err:      fmt.Errorf("document must be a JSON object"),
		}
	}
	raw["shortId"] = shortID
	return NormalizeScenario(raw), nil
}

// MarshalEditorJSON serializes the document for a JSON resource read
func MarshalEditorJSON(model NormalizedScenario) ([]byte, error) {
	data, err := json.MarshalIndent(model, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal scenario document: %w", err)
	}
	return data, nil
}

func parentReference(option map[string]any) string {
	if id := stringField(option, "parentScenarioId"); id != "" {
		return id
	}
	if parent, ok := option["parentScenario"].(map[string]any); ok {
		return stringField(parent, "shortId")
	}
	return ""
}

func stringField(m map[string]any, key string) string {
	return normalizeProperty(m[key])
}

func boolField(m map[string]any, key string) bool {
	switch v := m[key].(type) {
	case bool:
		return v
	case string:
		return v == "true"
	default:
		return false
	}
}

func stringListField(m map[string]any, key string) []string {
	out := []string{}
	switch v := m[key].(type) {
	case []any:
		for _, item := range v {
			if s := normalizeProperty(item); s != "" {
				out = append(out, s)
			}
		}
	case []string:
		out = append(out, v...)
	}
	return out
}

// normalizeProperty renders scalar JSON values as strings; null becomes ""
func normalizeProperty(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%g", v)
	case bool:
		if v {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("%v", v)
	}
}
