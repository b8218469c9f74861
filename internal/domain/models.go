// Package domain defines the conversation records persisted by the local
// chat data layer. Unlike a relational schema, these types are stored as
// whole JSON documents in the object store, one record per chat, so the
// JSON tags below are the on-disk wire format and must stay stable across
// releases (schema evolution happens through the migrate package, never by
// renaming tags in place).
package domain

import (
	"encoding/json"
	"time"
)

// Author identifies who produced a message.
type Author string

const (
	// AuthorUser marks a message typed by the human user.
	AuthorUser Author = "user"
	// AuthorAI marks a message produced by the model.
	AuthorAI Author = "ai"
)

// Persona is the descriptor of the assistant personality a chat was started
// with. Role is what gets resolved into model messages at append time.
type Persona struct {
	ID     string `json:"id,omitempty"`
	Name   string `json:"name"`
	Role   string `json:"role"`
	Avatar string `json:"avatar,omitempty"`
}

// Attachment is a file attached to a user message. Exactly one of
// DocumentID (a reference into the knowledge index) and Content (the text
// inlined into the record) is expected to be set per instance.
type Attachment struct {
	Type       string `json:"type"` // MIME type, e.g. "application/pdf"
	Name       string `json:"name"`
	DocumentID string `json:"documentId,omitempty"`
	Content    string `json:"content,omitempty"`
}

// Message is a single utterance within a chat. Messages are append-ordered:
// index order equals chronological order. Once appended a message is
// immutable except for explicit content edits by index.
//
// Role is resolved at append time: the chat's username for user messages,
// the persona's role for model responses. SearchResults is carried opaquely
// for the UI and never interpreted by this layer.
type Message struct {
	Author        Author          `json:"author"`
	Role          string          `json:"role"`
	Content       string          `json:"content"`
	Timestamp     time.Time       `json:"timestamp"`
	Attachments   []Attachment    `json:"attachments,omitempty"`
	SearchResults json.RawMessage `json:"searchResults,omitempty"`
}

// Chat is a persisted conversation record.
//
// Invariants:
//   - ID is opaque, globally unique, and never changes after creation.
//   - Tags contains no duplicates.
//   - Messages is mutable only through the repository's defined operations.
type Chat struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Tags      []string  `json:"tags"`
	Username  string    `json:"username"`
	ModelID   string    `json:"modelId"`
	Persona   Persona   `json:"persona"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
}

// HasTag reports whether tag is already present on the chat.
func (c *Chat) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Minimal projects the chat down to its listing fields.
func (c *Chat) Minimal() MinimalChat {
	return MinimalChat{ID: c.ID, Title: c.Title, CreatedAt: c.CreatedAt}
}

// MinimalChat is the lightweight projection used to list conversations
// without loading full message history. It is rebuilt from the store on
// load and kept eventually consistent by repository mutations; it is never
// persisted on its own.
type MinimalChat struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
}
