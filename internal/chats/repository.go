// Package chats implements the conversation repository: CRUD and invariant
// enforcement for chat records on top of the object store.
//
// Records are stored as whole JSON documents keyed by chat id, so every
// mutation is a read-modify-write of the full record. The object store
// gives no atomicity across that cycle; the repository therefore holds a
// per-id mutex around each cycle, which serializes overlapping operations
// on the same chat within this process. Writes from outside the process
// (another tab, another instance on the same file) remain unguarded and
// are surfaced only by an explicit Load.
//
// Error semantics:
//   - ErrChatNotFound when the id does not exist (read, update, append, tag).
//   - ErrDuplicateTag when pushing a tag that is already present.
//   - ErrMessageNotFound when editing a message index out of range.
//   - Delete is idempotent; PopMessages on an empty log is a safe no-op.
package chats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mkaretsos/go-chat-data/internal/domain"
	"github.com/mkaretsos/go-chat-data/internal/store"
)

// Update carries the fields of a shallow partial update. Nil fields are
// left untouched; set fields replace the stored value wholesale.
type Update struct {
	Title    *string
	Tags     *[]string
	Username *string
	ModelID  *string
	Persona  *domain.Persona
	Messages *[]domain.Message
}

// Repository owns chat persistence and the in-memory listing index. It
// must be the sole writer of chat records.
type Repository struct {
	store store.Store
	log   zerolog.Logger

	// locks serializes read-modify-write cycles per chat id.
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	// index is the MinimalChat cache behind List. It is rebuilt by Load
	// and maintained by mutations; it can diverge from the store after
	// migrations or out-of-process writes until the next Load.
	indexMu sync.RWMutex
	index   map[string]domain.MinimalChat
}

// NewRepository builds a repository over the chats namespace of a store.
func NewRepository(s store.Store, log zerolog.Logger) *Repository {
	return &Repository{
		store: s,
		log:   log,
		locks: make(map[string]*sync.Mutex),
		index: make(map[string]domain.MinimalChat),
	}
}

// Load rebuilds the listing index from the store. Callers run it once at
// startup (after migrations) and again whenever they need to resynchronize
// with writes the repository did not see.
func (r *Repository) Load(ctx context.Context) error {
	fresh := make(map[string]domain.MinimalChat)
	err := r.store.Iterate(ctx, func(key string, value []byte) error {
		var chat domain.Chat
		if err := json.Unmarshal(value, &chat); err != nil {
			return fmt.Errorf("decode chat %q: %w", key, err)
		}
		fresh[chat.ID] = chat.Minimal()
		return nil
	})
	if err != nil {
		return err
	}

	r.indexMu.Lock()
	r.index = fresh
	r.indexMu.Unlock()

	r.log.Debug().Int("chats", len(fresh)).Msg("chat index loaded")
	return nil
}

// List returns the known chats ordered by creation time descending, most
// recent first.
func (r *Repository) List() []domain.MinimalChat {
	r.indexMu.RLock()
	out := make([]domain.MinimalChat, 0, len(r.index))
	for _, m := range r.index {
		out = append(out, m)
	}
	r.indexMu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID // stable order for ties
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Create persists a new chat with a fresh id, the current UTC creation
// time and an empty message log, and returns the stored record.
func (r *Repository) Create(ctx context.Context, title, username string, tags []string, modelID string, persona domain.Persona) (*domain.Chat, error) {
	chat := &domain.Chat{
		ID:        uuid.NewString(),
		Title:     title,
		Tags:      []string{},
		Username:  username,
		ModelID:   modelID,
		Persona:   persona,
		Messages:  []domain.Message{},
		CreatedAt: time.Now().UTC(),
	}
	for _, tag := range tags {
		if chat.HasTag(tag) {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateTag, tag)
		}
		chat.Tags = append(chat.Tags, tag)
	}

	if err := r.write(ctx, chat); err != nil {
		return nil, err
	}
	r.indexPut(chat)
	return chat, nil
}

// Get returns the full chat record for id, or ErrChatNotFound.
func (r *Repository) Get(ctx context.Context, id string) (*domain.Chat, error) {
	return r.read(ctx, id)
}

// applyPatch merges u into c in place. Only non-nil fields participate.
func applyPatch(c *domain.Chat, u Update) {
	if u.Title != nil {
		c.Title = *u.Title
	}
	if u.Tags != nil {
		c.Tags = *u.Tags
	}
	if u.Username != nil {
		c.Username = *u.Username
	}
	if u.ModelID != nil {
		c.ModelID = *u.ModelID
	}
	if u.Persona != nil {
		c.Persona = *u.Persona
	}
	if u.Messages != nil {
		c.Messages = *u.Messages
	}
}

// Patch shallow-merges the provided fields over the stored record and
// persists the result.
func (r *Repository) Patch(ctx context.Context, id string, u Update) error {
	unlock := r.lock(id)
	defer unlock()

	chat, err := r.read(ctx, id)
	if err != nil {
		return err
	}
	applyPatch(chat, u)
	if err := r.write(ctx, chat); err != nil {
		return err
	}
	r.indexPut(chat)
	return nil
}

// PushTag appends tag to the chat's tag set. A tag already present is
// rejected with ErrDuplicateTag; the set never contains duplicates.
func (r *Repository) PushTag(ctx context.Context, id, tag string) error {
	unlock := r.lock(id)
	defer unlock()

	chat, err := r.read(ctx, id)
	if err != nil {
		return err
	}
	if chat.HasTag(tag) {
		return fmt.Errorf("%w: %q", ErrDuplicateTag, tag)
	}
	chat.Tags = append(chat.Tags, tag)
	return r.write(ctx, chat)
}

// AppendUserMessage appends a user-authored message, resolving the role
// from the chat's username, and returns the appended message.
func (r *Repository) AppendUserMessage(ctx context.Context, id, content string, attachments []domain.Attachment) (*domain.Message, error) {
	return r.append(ctx, id, func(chat *domain.Chat) domain.Message {
		return domain.Message{
			Author:      domain.AuthorUser,
			Role:        chat.Username,
			Content:     content,
			Timestamp:   time.Now().UTC(),
			Attachments: attachments,
		}
	})
}

// AppendModelResponse appends a model-authored message, resolving the role
// from the chat's persona, and returns the appended message.
func (r *Repository) AppendModelResponse(ctx context.Context, id, content string, searchResults json.RawMessage) (*domain.Message, error) {
	return r.append(ctx, id, func(chat *domain.Chat) domain.Message {
		return domain.Message{
			Author:        domain.AuthorAI,
			Role:          chat.Persona.Role,
			Content:       content,
			Timestamp:     time.Now().UTC(),
			SearchResults: searchResults,
		}
	})
}

func (r *Repository) append(ctx context.Context, id string, build func(*domain.Chat) domain.Message) (*domain.Message, error) {
	unlock := r.lock(id)
	defer unlock()

	chat, err := r.read(ctx, id)
	if err != nil {
		return nil, err
	}
	msg := build(chat)
	chat.Messages = append(chat.Messages, msg)
	if err := r.write(ctx, chat); err != nil {
		return nil, err
	}
	return &msg, nil
}

// UpdateMessageContent replaces the content of the message at index. This
// is the only sanctioned edit of an appended message.
func (r *Repository) UpdateMessageContent(ctx context.Context, id string, index int, content string) error {
	unlock := r.lock(id)
	defer unlock()

	chat, err := r.read(ctx, id)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(chat.Messages) {
		return fmt.Errorf("%w: index %d of %d", ErrMessageNotFound, index, len(chat.Messages))
	}
	chat.Messages[index].Content = content
	return r.write(ctx, chat)
}

// PopMessages removes the last message if one exists. Popping an empty log
// is a safe no-op.
func (r *Repository) PopMessages(ctx context.Context, id string) error {
	unlock := r.lock(id)
	defer unlock()

	chat, err := r.read(ctx, id)
	if err != nil {
		return err
	}
	if len(chat.Messages) == 0 {
		return nil
	}
	chat.Messages = chat.Messages[:len(chat.Messages)-1]
	return r.write(ctx, chat)
}

// Delete removes the chat record. Deleting an absent id is not an error.
func (r *Repository) Delete(ctx context.Context, id string) error {
	unlock := r.lock(id)
	defer unlock()

	if err := r.store.Delete(ctx, id); err != nil {
		return err
	}
	r.indexMu.Lock()
	delete(r.index, id)
	r.indexMu.Unlock()
	return nil
}

// lock acquires the per-id mutex and returns its release func.
func (r *Repository) lock(id string) func() {
	r.locksMu.Lock()
	mu, ok := r.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		r.locks[id] = mu
	}
	r.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

func (r *Repository) read(ctx context.Context, id string) (*domain.Chat, error) {
	raw, err := r.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %q", ErrChatNotFound, id)
		}
		return nil, err
	}
	var chat domain.Chat
	if err := json.Unmarshal(raw, &chat); err != nil {
		return nil, fmt.Errorf("decode chat %q: %w", id, err)
	}
	return &chat, nil
}

func (r *Repository) write(ctx context.Context, chat *domain.Chat) error {
	raw, err := json.Marshal(chat)
	if err != nil {
		return fmt.Errorf("encode chat %q: %w", chat.ID, err)
	}
	return r.store.Put(ctx, chat.ID, raw)
}

func (r *Repository) indexPut(chat *domain.Chat) {
	r.indexMu.Lock()
	r.index[chat.ID] = chat.Minimal()
	r.indexMu.Unlock()
}
