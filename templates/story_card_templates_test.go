package templates

import "testing"

func TestNormalizeKeys(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"dragon, wyrm ,  drake", "dragon,wyrm,drake"},
		{" , ,", ""},
		{"", ""},
		{"single", "single"},
	}

	for _, tt := range tests {
		if got := NormalizeKeys(tt.input); got != tt.expected {
			t.Errorf("NormalizeKeys(%q) = %q, expected %q", tt.input, got, tt.expected)
		}
	}
}

func TestApplyFillsDefaults(t *testing.T) {
	fields := Apply(CardFields{Type: "Race", Keys: "elf, elves"})

	if fields.Type != "Race" {
		t.Errorf("Expected type to be preserved, got %q", fields.Type)
	}
	if fields.Title != "New Race" {
		t.Errorf("Expected default race title, got %q", fields.Title)
	}
	if !fields.UseForCharacterCreation {
		t.Error("Expected race cards to default to character creation")
	}
	if fields.Keys != "elf,elves" {
		t.Errorf("Expected normalized keys, got %q", fields.Keys)
	}
}

func TestApplyUnknownTypeUsesCustom(t *testing.T) {
	fields := Apply(CardFields{Title: "Moon", Value: "It is full."})
	if fields.Type != CardTypeCustom {
		t.Errorf("Expected custom type, got %q", fields.Type)
	}
	if fields.Title != "Moon" || fields.Value != "It is full." {
		t.Errorf("Expected explicit fields to be kept, got %+v", fields)
	}
}

func TestNewCreateRequest(t *testing.T) {
	ctx := AuthoringContext{Instructions: "Write in second person."}
	req := NewCreateRequest("abcdef", CardFields{Type: CardTypeLocation}, ctx)

	if req.ShortID != "abcdef" {
		t.Errorf("Expected short id abcdef, got %q", req.ShortID)
	}
	if req.Card.Title != "New Location" {
		t.Errorf("Expected default title, got %q", req.Card.Title)
	}
	if req.Context.IsZero() {
		t.Error("Expected authoring context to be attached")
	}
}

func TestCardTypesHaveTemplates(t *testing.T) {
	for _, cardType := range CardTypes() {
		if tmpl := ForType(cardType); tmpl.Type != cardType {
			t.Errorf("Expected template for %s, got %s", cardType, tmpl.Type)
		}
	}
}
