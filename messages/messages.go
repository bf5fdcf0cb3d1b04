package messages

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Panel message kinds exchanged with form panels

// MessageType identifies a panel message on the wire
type MessageType string

const (
	// Inbound (panel -> core)
	MsgReady                MessageType = "ready"
	MsgDirtyChanged         MessageType = "dirtyChanged"
	MsgRequestStateResponse MessageType = "requestStateResponse"
	MsgCreateCard           MessageType = "createCard"
	MsgDeleteCard           MessageType = "deleteCard"
	MsgUpdateCard           MessageType = "updateCard"
	MsgSaveScenario         MessageType = "saveScenario"

	// Outbound (core -> panel)
	MsgInit              MessageType = "init"
	MsgStoryCardsChanged MessageType = "storyCardsChanged"
	MsgSaveSucceeded     MessageType = "saveSucceeded"
	MsgSaveFailed        MessageType = "saveFailed"
	MsgRequestState      MessageType = "requestState"
)

var inboundTypes = map[MessageType]bool{
	MsgReady:                true,
	MsgDirtyChanged:         true,
	MsgRequestStateResponse: true,
	MsgCreateCard:           true,
	MsgDeleteCard:           true,
	MsgUpdateCard:           true,
	MsgSaveScenario:         true,
}

// IsInbound reports whether a panel is allowed to send this message type
func (t MessageType) IsInbound() bool {
	return inboundTypes[t]
}

// Inbound is a message received from a panel. Payload fields are populated
// according to Type; unrelated fields are left empty.
type Inbound struct {
	Type      MessageType     `json:"type"`
	Dirty     bool            `json:"dirty,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
	CardID    string          `json:"cardId,omitempty"`
	Card      json.RawMessage `json:"card,omitempty"`
	Patch     json.RawMessage `json:"patch,omitempty"`
	Model     json.RawMessage `json:"model,omitempty"`
}

// Outbound is a message sent to a panel
type Outbound struct {
	Type           MessageType `json:"type"`
	Model          any         `json:"model,omitempty"`
	StoryCards     any         `json:"storyCards,omitempty"`
	PlotComponents any         `json:"plotComponents,omitempty"`
	Message        string      `json:"message,omitempty"`
	RequestID      string      `json:"requestId,omitempty"`
}

// DecodeInbound parses a raw panel message and rejects unknown kinds
func DecodeInbound(data []byte) (Inbound, error) {
	var msg Inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		return Inbound{}, fmt.Errorf("failed to parse panel message: %w", err)
	}
	if !msg.Type.IsInbound() {
		return Inbound{}, fmt.Errorf("unknown panel message type: %q", msg.Type)
	}
	return msg, nil
}

// Resource address patterns
const (
	AddrScript       = "{short_id}/{slot}"
	AddrScenarioJSON = "{short_id}/scenario.json"
	AddrScenarioDir  = "{short_id}"

	// ScenarioJSONName is the resource name of the structured scenario document
	ScenarioJSONName = "scenario.json"
	JSONSuffix       = ".json"
)

// OSC address patterns used by the host bridge
const (
	AddrUpdateScenario  = "/update/scenario/{short_id}"
	AddrUpdateAll       = "/update/scenarios"
	AddrUpdateResource  = "/update/resource/{short_id}/{name}"
	AddrReloadScenario  = "/reload/{short_id}"
	AddrReloadAll       = "/reload"
	UpdatePrefix        = "/update"
	ReloadPrefix        = "/reload"
	ReloadScenarioRoute = "/reload/"
)

// AddressBuilder builds resource paths and bridge addresses for one scenario
type AddressBuilder struct {
	shortID string
}

// NewAddressBuilder creates a new address builder
func NewAddressBuilder(shortID string) *AddressBuilder {
	return &AddressBuilder{shortID: shortID}
}

// Build fills a pattern with the builder's short id and the given parameters
func (b *AddressBuilder) Build(pattern string, params map[string]string) string {
	address := pattern
	if strings.Contains(address, "{short_id}") && b.shortID != "" {
		address = strings.ReplaceAll(address, "{short_id}", b.shortID)
	}
	for key, value := range params {
		address = strings.ReplaceAll(address, fmt.Sprintf("{%s}", key), value)
	}
	return address
}

// ScriptPath returns the resource path of a script slot
func (b *AddressBuilder) ScriptPath(slot string) string {
	return b.Build(AddrScript, map[string]string{"slot": slot})
}

// ScenarioJSONPath returns the resource path of the scenario document
func (b *AddressBuilder) ScenarioJSONPath() string {
	return b.Build(AddrScenarioJSON, nil)
}

// UpdateAddress returns the OSC address announcing a change to this scenario.
// An empty short id announces a change to everything.
func (b *AddressBuilder) UpdateAddress() string {
	if b.shortID == "" {
		return AddrUpdateAll
	}
	return b.Build(AddrUpdateScenario, nil)
}

// ResourceUpdateAddress returns the OSC address announcing a resource write
func (b *AddressBuilder) ResourceUpdateAddress(name string) string {
	return b.Build(AddrUpdateResource, map[string]string{"name": name})
}

// SplitPath splits a resource path into short id and resource name.
// Leading slashes are ignored; the result is ok only for exactly two
// non-empty segments.
func SplitPath(path string) (shortID, resource string, ok bool) {
	trimmed := strings.Trim(path, "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// ParseReloadAddress extracts the short id from a reload command address.
// An empty short id with ok=true means "reload everything".
func ParseReloadAddress(address string) (shortID string, ok bool) {
	if address == AddrReloadAll {
		return "", true
	}
	if !strings.HasPrefix(address, ReloadScenarioRoute) {
		return "", false
	}
	shortID = strings.TrimPrefix(address, ReloadScenarioRoute)
	if shortID == "" || strings.Contains(shortID, "/") {
		return "", false
	}
	return shortID, true
}
