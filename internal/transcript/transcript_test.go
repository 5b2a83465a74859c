package transcript

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/csheth/quill/internal/message"
)

func TestAppendCreatesAndExtendsConversation(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "conversations.json")
	id := NewID()
	payload, err := message.New("What is in   this figure?", []string{"data:image/png;base64,AAA"}).Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	if err := Append(path, id, nil, NewEntry(RoleUser, payload)); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	meta := &LLMMetadata{Provider: "ollama", Model: "llava"}
	if err := Append(path, id, meta, NewEntry(RoleAssistant, "A bar chart.")); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	conv, err := Load(path, id)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(conv.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(conv.Entries))
	}
	if conv.Entries[0].Payload != payload {
		t.Fatalf("payload not stored verbatim: %s", conv.Entries[0].Payload)
	}
	if conv.Title != "What is in this figure?" {
		t.Fatalf("Title = %q", conv.Title)
	}
	if conv.LLM == nil || conv.LLM.Model != "llava" {
		t.Fatalf("LLM metadata = %+v", conv.LLM)
	}
	if _, err := uuid.Parse(conv.Entries[1].ID); err != nil {
		t.Fatalf("entry id is not a uuid: %v", err)
	}
}

func TestLoadMissingReturnsEmptyConversation(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "none.json")
	conv, err := Load(path, "abc")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if conv.ID != "abc" || len(conv.Entries) != 0 {
		t.Fatalf("unexpected conversation %+v", conv)
	}
	convs, err := List(path)
	if err != nil || len(convs) != 0 {
		t.Fatalf("List() = %v, %v", convs, err)
	}
}

func TestListOrdersByRecency(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "c.json")
	for _, id := range []string{"first", "second", "third"} {
		if err := Append(path, id, nil, NewEntry(RoleUser, id)); err != nil {
			t.Fatalf("Append(%s) error = %v", id, err)
		}
	}
	if err := Append(path, "first", nil, NewEntry(RoleAssistant, "again")); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	convs, err := List(path)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(convs) != 3 || convs[0].ID != "first" {
		t.Fatalf("unexpected order %v", convs)
	}
}

func TestImageOnlyTitle(t *testing.T) {
	t.Parallel()

	payload, _ := message.New(" ", []string{"data:a", "data:b"}).Encode()
	if got := titleFrom([]Entry{{Role: RoleUser, Payload: payload}}); got != "2 image(s)" {
		t.Fatalf("titleFrom() = %q", got)
	}
	long, _ := message.New(strings.Repeat("word ", 40), nil).Encode()
	if got := titleFrom([]Entry{{Role: RoleUser, Payload: long}}); len([]rune(got)) != 60 {
		t.Fatalf("long title not clipped: %q", got)
	}
}

func TestCorruptFileIsReported(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path, "x"); err == nil {
		t.Fatal("expected parse error")
	}
	if err := Append(path, "x", nil, NewEntry(RoleUser, "hi")); err == nil {
		t.Fatal("Append must not overwrite a corrupt file")
	}
}
