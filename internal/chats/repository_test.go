package chats

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mkaretsos/go-chat-data/internal/domain"
	"github.com/mkaretsos/go-chat-data/internal/store"
)

func newTestRepo() (*Repository, *store.Memory) {
	mem := store.NewMemory()
	return NewRepository(mem, zerolog.Nop()), mem
}

func mustCreate(t *testing.T, r *Repository, title string) *domain.Chat {
	t.Helper()
	chat, err := r.Create(context.Background(), title, "alice", nil, "model-1",
		domain.Persona{Name: "Helper", Role: "assistant"})
	if err != nil {
		t.Fatalf("Create(%q): %v", title, err)
	}
	return chat
}

func TestCreate_RoundTrip(t *testing.T) {
	r, _ := newTestRepo()
	ctx := context.Background()

	start := time.Now().UTC().Add(-time.Minute)
	chat, err := r.Create(ctx, "My chat", "alice", []string{"work"}, "model-1",
		domain.Persona{Name: "Helper", Role: "assistant"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if chat.ID == "" {
		t.Fatalf("created chat has empty id")
	}
	if chat.CreatedAt.Before(start) {
		t.Fatalf("CreatedAt seems unset: %v", chat.CreatedAt)
	}
	if len(chat.Messages) != 0 {
		t.Fatalf("new chat has %d messages; want 0", len(chat.Messages))
	}

	got, err := r.Get(ctx, chat.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != chat.ID || got.Title != "My chat" || got.Username != "alice" ||
		got.ModelID != "model-1" || got.Persona.Role != "assistant" ||
		len(got.Tags) != 1 || got.Tags[0] != "work" {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
	if !got.CreatedAt.Equal(chat.CreatedAt) {
		t.Errorf("CreatedAt changed across read: %v vs %v", got.CreatedAt, chat.CreatedAt)
	}
}

func TestCreate_IDsAreUniqueAndStable(t *testing.T) {
	r, _ := newTestRepo()
	ctx := context.Background()

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		chat := mustCreate(t, r, "c")
		if seen[chat.ID] {
			t.Fatalf("duplicate id generated: %s", chat.ID)
		}
		seen[chat.ID] = true

		// Stable across every read.
		for j := 0; j < 2; j++ {
			got, err := r.Get(ctx, chat.ID)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if got.ID != chat.ID {
				t.Fatalf("id changed across read: %s vs %s", got.ID, chat.ID)
			}
		}
	}
}

func TestCreate_RejectsDuplicateInitialTags(t *testing.T) {
	r, _ := newTestRepo()
	_, err := r.Create(context.Background(), "t", "u", []string{"a", "a"}, "m", domain.Persona{})
	if !errors.Is(err, ErrDuplicateTag) {
		t.Fatalf("Create with duplicate tags = %v; want ErrDuplicateTag", err)
	}
}

func TestGet_MissingChat(t *testing.T) {
	r, _ := newTestRepo()
	if _, err := r.Get(context.Background(), "nope"); !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("Get(missing) = %v; want ErrChatNotFound", err)
	}
}

func TestPatch_ShallowMergesProvidedFields(t *testing.T) {
	r, _ := newTestRepo()
	ctx := context.Background()
	chat := mustCreate(t, r, "before")

	title := "after"
	if err := r.Patch(ctx, chat.ID, Update{Title: &title}); err != nil {
		t.Fatalf("Patch: %v", err)
	}

	got, err := r.Get(ctx, chat.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Title != "after" {
		t.Errorf("Title = %q; want %q", got.Title, "after")
	}
	// Untouched fields survive the merge.
	if got.Username != "alice" || got.ModelID != "model-1" {
		t.Errorf("unrelated fields changed: %+v", got)
	}
	// The listing index follows the title change.
	list := r.List()
	if len(list) != 1 || list[0].Title != "after" {
		t.Errorf("index not updated: %+v", list)
	}
}

func TestPatch_MissingChat(t *testing.T) {
	r, _ := newTestRepo()
	title := "x"
	if err := r.Patch(context.Background(), "nope", Update{Title: &title}); !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("Patch(missing) = %v; want ErrChatNotFound", err)
	}
}

func TestPushTag_RejectsDuplicates(t *testing.T) {
	r, _ := newTestRepo()
	ctx := context.Background()
	chat := mustCreate(t, r, "t")

	if err := r.PushTag(ctx, chat.ID, "pinned"); err != nil {
		t.Fatalf("first PushTag: %v", err)
	}
	if err := r.PushTag(ctx, chat.ID, "pinned"); !errors.Is(err, ErrDuplicateTag) {
		t.Fatalf("second PushTag = %v; want ErrDuplicateTag", err)
	}

	got, _ := r.Get(ctx, chat.ID)
	count := 0
	for _, tag := range got.Tags {
		if tag == "pinned" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("tag set contains %d copies of %q; want 1", count, "pinned")
	}
}

func TestAppend_StrictlyAppendOnlyWithResolvedRoles(t *testing.T) {
	r, _ := newTestRepo()
	ctx := context.Background()
	chat := mustCreate(t, r, "t")

	userMsg, err := r.AppendUserMessage(ctx, chat.ID, "hello", []domain.Attachment{
		{Type: "text/plain", Name: "notes.txt", Content: "inline"},
	})
	if err != nil {
		t.Fatalf("AppendUserMessage: %v", err)
	}
	if userMsg.Author != domain.AuthorUser || userMsg.Role != "alice" {
		t.Errorf("user message author/role = %s/%s; want user/alice", userMsg.Author, userMsg.Role)
	}

	aiMsg, err := r.AppendModelResponse(ctx, chat.ID, "hi there", json.RawMessage(`[]`))
	if err != nil {
		t.Fatalf("AppendModelResponse: %v", err)
	}
	if aiMsg.Author != domain.AuthorAI || aiMsg.Role != "assistant" {
		t.Errorf("model message author/role = %s/%s; want ai/assistant", aiMsg.Author, aiMsg.Role)
	}

	got, _ := r.Get(ctx, chat.ID)
	if len(got.Messages) != 2 {
		t.Fatalf("message count = %d; want 2", len(got.Messages))
	}
	// Prior messages unchanged: index order is chronological order.
	if got.Messages[0].Content != "hello" || got.Messages[1].Content != "hi there" {
		t.Errorf("message order/content wrong: %+v", got.Messages)
	}
	if len(got.Messages[0].Attachments) != 1 || got.Messages[0].Attachments[0].Name != "notes.txt" {
		t.Errorf("attachments not persisted: %+v", got.Messages[0].Attachments)
	}
}

func TestAppend_MissingChat(t *testing.T) {
	r, _ := newTestRepo()
	if _, err := r.AppendUserMessage(context.Background(), "nope", "x", nil); !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("AppendUserMessage(missing) = %v; want ErrChatNotFound", err)
	}
}

func TestUpdateMessageContent(t *testing.T) {
	r, _ := newTestRepo()
	ctx := context.Background()
	chat := mustCreate(t, r, "t")
	if _, err := r.AppendUserMessage(ctx, chat.ID, "tpyo", nil); err != nil {
		t.Fatalf("append: %v", err)
	}

	if err := r.UpdateMessageContent(ctx, chat.ID, 0, "typo"); err != nil {
		t.Fatalf("UpdateMessageContent: %v", err)
	}
	got, _ := r.Get(ctx, chat.ID)
	if got.Messages[0].Content != "typo" {
		t.Errorf("content = %q; want %q", got.Messages[0].Content, "typo")
	}

	if err := r.UpdateMessageContent(ctx, chat.ID, 5, "x"); !errors.Is(err, ErrMessageNotFound) {
		t.Errorf("out-of-range edit = %v; want ErrMessageNotFound", err)
	}
	if err := r.UpdateMessageContent(ctx, chat.ID, -1, "x"); !errors.Is(err, ErrMessageNotFound) {
		t.Errorf("negative index edit = %v; want ErrMessageNotFound", err)
	}
}

func TestPopMessages_EmptyLogIsSafeNoOp(t *testing.T) {
	r, _ := newTestRepo()
	ctx := context.Background()
	chat := mustCreate(t, r, "t")

	if err := r.PopMessages(ctx, chat.ID); err != nil {
		t.Fatalf("PopMessages on empty log = %v; want nil", err)
	}
	got, _ := r.Get(ctx, chat.ID)
	if len(got.Messages) != 0 {
		t.Fatalf("messages = %d; want 0", len(got.Messages))
	}

	if _, err := r.AppendUserMessage(ctx, chat.ID, "one", nil); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := r.PopMessages(ctx, chat.ID); err != nil {
		t.Fatalf("PopMessages: %v", err)
	}
	got, _ = r.Get(ctx, chat.ID)
	if len(got.Messages) != 0 {
		t.Fatalf("messages after pop = %d; want 0", len(got.Messages))
	}
}

func TestDelete_IsIdempotent(t *testing.T) {
	r, _ := newTestRepo()
	ctx := context.Background()
	chat := mustCreate(t, r, "t")

	if err := r.Delete(ctx, chat.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := r.Delete(ctx, chat.ID); err != nil {
		t.Fatalf("second Delete = %v; want nil", err)
	}
	if _, err := r.Get(ctx, chat.ID); !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("Get after delete = %v; want ErrChatNotFound", err)
	}
	if len(r.List()) != 0 {
		t.Fatalf("List after delete = %+v; want empty", r.List())
	}
}

func TestList_OrdersByCreatedAtDescending(t *testing.T) {
	r, mem := newTestRepo()
	ctx := context.Background()

	// Seed the store directly with known creation times T1 < T2 < T3.
	t1 := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	t3 := t2.Add(time.Hour)
	for _, c := range []domain.Chat{
		{ID: "c1", Title: "oldest", CreatedAt: t1},
		{ID: "c3", Title: "newest", CreatedAt: t3},
		{ID: "c2", Title: "middle", CreatedAt: t2},
	} {
		raw, _ := json.Marshal(c)
		if err := mem.Put(ctx, c.ID, raw); err != nil {
			t.Fatalf("seed %s: %v", c.ID, err)
		}
	}
	if err := r.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}

	list := r.List()
	if len(list) != 3 {
		t.Fatalf("List = %d entries; want 3", len(list))
	}
	// Most recent first: [T3, T2, T1].
	if list[0].ID != "c3" || list[1].ID != "c2" || list[2].ID != "c1" {
		t.Fatalf("unexpected order: %v, %v, %v", list[0].ID, list[1].ID, list[2].ID)
	}
}

func TestLoad_RebuildsIndexAfterOutOfBandWrite(t *testing.T) {
	r, mem := newTestRepo()
	ctx := context.Background()
	mustCreate(t, r, "known")

	// Simulate an out-of-process write the repository did not see.
	other := domain.Chat{ID: "ext", Title: "external", CreatedAt: time.Now().UTC()}
	raw, _ := json.Marshal(other)
	if err := mem.Put(ctx, other.ID, raw); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if len(r.List()) != 1 {
		t.Fatalf("index should not see out-of-band writes before Load")
	}
	if err := r.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(r.List()) != 2 {
		t.Fatalf("List after Load = %d entries; want 2", len(r.List()))
	}
}

func TestConcurrentAppends_SameChatAreSerialized(t *testing.T) {
	r, _ := newTestRepo()
	ctx := context.Background()
	chat := mustCreate(t, r, "t")

	const n = 20
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			if _, err := r.AppendUserMessage(ctx, chat.ID, "m", nil); err != nil {
				t.Errorf("append: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := r.Get(ctx, chat.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	// Without per-id locking the read-modify-write races would lose
	// appends; the lock makes the count exact.
	if len(got.Messages) != n {
		t.Fatalf("messages = %d; want %d", len(got.Messages), n)
	}
}
