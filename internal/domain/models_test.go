package domain

import (
	"encoding/json"
	"testing"
	"time"
)

func TestHasTag(t *testing.T) {
	c := &Chat{Tags: []string{"pinned", "work"}}

	if !c.HasTag("pinned") {
		t.Errorf("HasTag(pinned) = false; want true")
	}
	if c.HasTag("missing") {
		t.Errorf("HasTag(missing) = true; want false")
	}

	empty := &Chat{}
	if empty.HasTag("anything") {
		t.Errorf("HasTag on nil tag slice should be false")
	}
}

func TestMinimal_ProjectsListingFields(t *testing.T) {
	created := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	c := &Chat{
		ID:        "c1",
		Title:     "Trip planning",
		Username:  "alice",
		CreatedAt: created,
		Messages:  []Message{{Author: AuthorUser, Content: "hi"}},
	}

	m := c.Minimal()
	if m.ID != "c1" || m.Title != "Trip planning" || !m.CreatedAt.Equal(created) {
		t.Fatalf("unexpected projection: %+v", m)
	}
}

func TestChat_WireFormatFieldNames(t *testing.T) {
	c := Chat{
		ID:        "c1",
		Title:     "t",
		Tags:      []string{"a"},
		Username:  "alice",
		ModelID:   "model-1",
		Persona:   Persona{Name: "Helper", Role: "assistant"},
		CreatedAt: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	raw, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	// The persisted field names are a compatibility contract with records
	// written by earlier releases; a rename here silently orphans data.
	for _, key := range []string{"id", "title", "tags", "username", "modelId", "persona", "messages", "createdAt"} {
		if _, ok := m[key]; !ok {
			t.Errorf("marshaled chat missing wire field %q", key)
		}
	}
}

func TestMessage_SearchResultsRoundTripOpaque(t *testing.T) {
	in := Message{
		Author:        AuthorAI,
		Role:          "assistant",
		Content:       "answer",
		Timestamp:     time.Date(2025, 5, 5, 5, 5, 5, 0, time.UTC),
		SearchResults: json.RawMessage(`[{"documentId":"d1","content":"snippet"}]`),
	}

	raw, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out Message
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if string(out.SearchResults) != string(in.SearchResults) {
		t.Errorf("search results not carried opaquely: %s", out.SearchResults)
	}
	if out.Author != AuthorAI || out.Role != "assistant" {
		t.Errorf("unexpected message after round trip: %+v", out)
	}
}
