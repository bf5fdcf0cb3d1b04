package graphql

import (
	"context"
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"github.com/zenibako/scenario-sync/scenario"
	"github.com/zenibako/scenario-sync/templates"
)

const storyCardFields = `id title type keys value description useForCharacterCreation`

const scriptFields = `editedAt gameCodeSharedLibrary gameCodeOnInput gameCodeOnOutput gameCodeOnModelContext`

const scenarioFields = `shortId title description prompt memory authorsNote tags contentRating published allowComments
storyCardInstructions storyCardStoryInformation
options { shortId title prompt parentScenarioId }
storyCards { ` + storyCardFields + ` }`

const (
	queryListScenarios = `query ListScenarios($limit: Int, $offset: Int) {
  scenarios(limit: $limit, offset: $offset) { shortId title }
}`

	queryScenario = `query GetScenario($shortId: String!) {
  scenario(shortId: $shortId) { ` + scenarioFields + ` }
}`

	queryScripts = `query GetScenarioScripts($shortId: String!) {
  scenario(shortId: $shortId) { ` + scriptFields + ` }
}`

	mutationSaveScripts = `mutation UpdateScenarioScripts($shortId: String!, $gameCode: JSONObject) {
  updateScenarioScripts(shortId: $shortId, gameCode: $gameCode) {
    success message scenario { ` + scriptFields + ` }
  }
}`

	queryStoryCards = `query GetStoryCards($shortId: String!) {
  scenario(shortId: $shortId) { storyCards { ` + storyCardFields + ` } }
}`

	mutationCreateStoryCard = `mutation CreateStoryCard($input: StoryCardInput!) {
  createStoryCard(input: $input) { success message storyCard { ` + storyCardFields + ` } }
}`

	mutationUpdateStoryCard = `mutation UpdateStoryCard($input: StoryCardInput!) {
  updateStoryCard(input: $input) { success message storyCard { ` + storyCardFields + ` } }
}`

	mutationDeleteStoryCard = `mutation DeleteStoryCard($input: DeleteStoryCardInput!) {
  deleteStoryCard(input: $input) { success message }
}`

	mutationUpdateScenario = `mutation UpdateScenario($input: ScenarioInput!) {
  updateScenario(input: $input) { success message scenario { ` + scenarioFields + ` } }
}`

	queryPlotComponents = `query GetPlotComponents($shortId: String!) {
  scenario(shortId: $shortId) { plotComponents }
}`
)

// scriptFieldNames maps slots to the remote schema's field names
var scriptFieldNames = map[scenario.ScriptSlot]string{
	scenario.SlotSharedLibrary:  "gameCodeSharedLibrary",
	scenario.SlotOnInput:        "gameCodeOnInput",
	scenario.SlotOnOutput:       "gameCodeOnOutput",
	scenario.SlotOnModelContext: "gameCodeOnModelContext",
}

func (c *Client) ListScenarios(ctx context.Context, limit, offset int) ([]scenario.ScenarioIdentity, error) {
	data, err := c.Do(ctx, queryListScenarios, map[string]any{"limit": limit, "offset": offset})
	if err != nil {
		return nil, err
	}
	out := []scenario.ScenarioIdentity{}
	data.Get("scenarios").ForEach(func(_, item gjson.Result) bool {
		out = append(out, scenario.ScenarioIdentity{
			ShortID: item.Get("shortId").String(),
			Title:   item.Get("title").String(),
		})
		return true
	})
	return out, nil
}

func (c *Client) FetchScenario(ctx context.Context, shortID string) (map[string]any, error) {
	data, err := c.Do(ctx, queryScenario, map[string]any{"shortId": shortID})
	if err != nil {
		return nil, err
	}
	return asMap(data.Get("scenario"))
}

func (c *Client) FetchScripts(ctx context.Context, shortID string) (scenario.ScriptState, error) {
	data, err := c.Do(ctx, queryScripts, map[string]any{"shortId": shortID})
	if err != nil {
		return scenario.ScriptState{}, err
	}
	node := data.Get("scenario")
	if !node.IsObject() {
		return scenario.ScriptState{}, scenario.ErrNoData
	}
	return parseScriptState(node), nil
}

func (c *Client) SaveScripts(ctx context.Context, shortID string, scripts scenario.Snapshot) (scenario.Snapshot, error) {
	gameCode := make(map[string]any, len(scenario.ScriptSlots))
	for _, slot := range scenario.ScriptSlots {
		if v := scripts[slot]; v != nil {
			gameCode[string(slot)] = *v
		} else {
			gameCode[string(slot)] = nil
		}
	}

	data, err := c.Do(ctx, mutationSaveScripts, map[string]any{"shortId": shortID, "gameCode": gameCode})
	if err != nil {
		return nil, err
	}
	payload := data.Get("updateScenarioScripts")
	if err := mutationResult(payload); err != nil {
		return nil, err
	}

	node := payload.Get("scenario")
	if !node.IsObject() {
		// Server accepted the save without echoing it; what was sent is canonical
		return scripts.Clone(), nil
	}
	return parseScriptState(node).Scripts, nil
}

func (c *Client) FetchStoryCards(ctx context.Context, shortID string) ([]scenario.StoryCard, error) {
	data, err := c.Do(ctx, queryStoryCards, map[string]any{"shortId": shortID})
	if err != nil {
		return nil, err
	}
	node := data.Get("scenario")
	if !node.IsObject() {
		return nil, scenario.ErrNoData
	}
	raw, _ := node.Get("storyCards").Value().([]any)
	return scenario.NormalizeStoryCards(raw), nil
}

func (c *Client) CreateStoryCard(ctx context.Context, req templates.CreateRequest) (scenario.StoryCard, error) {
	input := cardInput(req.ShortID, req.Card)
	if req.Context.Instructions != "" {
		input["instructions"] = req.Context.Instructions
	}
	if req.Context.StoryInformation != "" {
		input["storyInformation"] = req.Context.StoryInformation
	}

	data, err := c.Do(ctx, mutationCreateStoryCard, map[string]any{"input": input})
	if err != nil {
		return scenario.StoryCard{}, err
	}
	created, err := parseCardPayload(data.Get("createStoryCard"))
	if err != nil {
		return scenario.StoryCard{}, err
	}
	if created.ID == "" {
		return scenario.StoryCard{}, fmt.Errorf("created story card has no id: %w", scenario.ErrNoData)
	}
	return created, nil
}

func (c *Client) UpdateStoryCard(ctx context.Context, shortID string, card scenario.StoryCard) (scenario.StoryCard, error) {
	input := cardInput(shortID, card.CardFields)
	input["id"] = card.ID

	data, err := c.Do(ctx, mutationUpdateStoryCard, map[string]any{"input": input})
	if err != nil {
		return scenario.StoryCard{}, err
	}
	updated, err := parseCardPayload(data.Get("updateStoryCard"))
	if err != nil {
		return scenario.StoryCard{}, err
	}
	if updated.ID == "" {
		updated = card
	}
	return updated, nil
}

func (c *Client) DeleteStoryCard(ctx context.Context, shortID, cardID string) error {
	data, err := c.Do(ctx, mutationDeleteStoryCard, map[string]any{
		"input": map[string]any{"shortId": shortID, "id": cardID},
	})
	if err != nil {
		return err
	}
	return mutationResult(data.Get("deleteStoryCard"))
}

func (c *Client) UpdateScenario(ctx context.Context, shortID string, patch map[string]any) (map[string]any, error) {
	input := make(map[string]any, len(patch)+1)
	for k, v := range patch {
		input[k] = v
	}
	input["shortId"] = shortID

	data, err := c.Do(ctx, mutationUpdateScenario, map[string]any{"input": input})
	if err != nil {
		return nil, err
	}
	payload := data.Get("updateScenario")
	if err := mutationResult(payload); err != nil {
		return nil, err
	}
	if node := payload.Get("scenario"); node.IsObject() {
		return asMap(node)
	}
	return input, nil
}

func (c *Client) FetchPlotComponents(ctx context.Context, shortID string) (map[string]any, error) {
	if !c.plotComponents {
		return nil, scenario.ErrNotSupported
	}
	data, err := c.Do(ctx, queryPlotComponents, map[string]any{"shortId": shortID})
	if err != nil {
		return nil, err
	}
	components := data.Get("scenario.plotComponents")
	if !components.Exists() || components.Type == gjson.Null {
		return map[string]any{}, nil
	}
	m, err := asMap(components)
	if err != nil {
		return nil, fmt.Errorf("unexpected plot components shape: %w", err)
	}
	return m, nil
}

func parseScriptState(node gjson.Result) scenario.ScriptState {
	scripts := make(scenario.Snapshot, len(scenario.ScriptSlots))
	for slot, field := range scriptFieldNames {
		v := node.Get(field)
		if !v.Exists() || v.Type == gjson.Null {
			scripts[slot] = nil
			continue
		}
		scripts[slot] = scenario.Str(v.String())
	}

	state := scenario.ScriptState{Scripts: scripts}
	if edited := node.Get("editedAt"); edited.Exists() && edited.Type != gjson.Null {
		if t, err := time.Parse(time.RFC3339Nano, edited.String()); err == nil {
			state.EditedAt = &t
		}
	}
	return state
}

func parseCardPayload(payload gjson.Result) (scenario.StoryCard, error) {
	if err := mutationResult(payload); err != nil {
		return scenario.StoryCard{}, err
	}
	raw, ok := payload.Get("storyCard").Value().(map[string]any)
	if !ok {
		return scenario.StoryCard{}, nil
	}
	card, _ := scenario.NormalizeStoryCard(raw)
	return card, nil
}

func cardInput(shortID string, fields templates.CardFields) map[string]any {
	return map[string]any{
		"shortId":                 shortID,
		"title":                   fields.Title,
		"type":                    fields.Type,
		"keys":                    fields.Keys,
		"value":                   fields.Value,
		"description":             fields.Description,
		"useForCharacterCreation": fields.UseForCharacterCreation,
	}
}
