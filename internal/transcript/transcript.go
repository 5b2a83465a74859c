// Package transcript persists conversations: every sent composer payload and
// every reply, grouped by conversation id in a single JSON file.
package transcript

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/csheth/quill/internal/message"
)

// Roles recorded in a transcript.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleError     = "error"
)

// Conversation is one stored chat.
type Conversation struct {
	ID        string       `json:"id"`
	Title     string       `json:"title,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
	Entries   []Entry      `json:"entries,omitempty"`
	LLM       *LLMMetadata `json:"llm,omitempty"`
}

// Entry is one message. User payloads are stored exactly as the composer
// serialized them.
type Entry struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Payload   string    `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// LLMMetadata captures the model that produced the replies.
type LLMMetadata struct {
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
}

// NewID returns a fresh conversation or entry id.
func NewID() string {
	return uuid.NewString()
}

// DefaultPath is where conversations live when no path is configured.
func DefaultPath() string {
	base, err := os.UserConfigDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, "quill", "conversations.json")
}

// NewEntry stamps a message with an id and the current time.
func NewEntry(role, payload string) Entry {
	return Entry{ID: NewID(), Role: role, Payload: payload, Timestamp: time.Now().UTC()}
}

// Append adds entries to the conversation with the given id, creating it when
// missing. The title defaults to the first user text.
func Append(path, conversationID string, llm *LLMMetadata, entries ...Entry) error {
	if path == "" || conversationID == "" || len(entries) == 0 {
		return nil
	}
	convs, err := loadAll(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	now := time.Now().UTC()
	idx := -1
	for i := range convs {
		if convs[i].ID == conversationID {
			idx = i
			break
		}
	}
	if idx < 0 {
		convs = append(convs, Conversation{ID: conversationID, CreatedAt: now})
		idx = len(convs) - 1
	}
	conv := &convs[idx]
	conv.Entries = append(conv.Entries, entries...)
	conv.UpdatedAt = now
	if llm != nil {
		conv.LLM = llm
	}
	if conv.Title == "" {
		conv.Title = titleFrom(conv.Entries)
	}
	return writeAll(path, convs)
}

// Load returns the conversation with the given id. A missing file or id
// yields an empty conversation rather than an error.
func Load(path, conversationID string) (Conversation, error) {
	convs, err := loadAll(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Conversation{ID: conversationID}, nil
		}
		return Conversation{}, err
	}
	for _, conv := range convs {
		if conv.ID == conversationID {
			return conv, nil
		}
	}
	return Conversation{ID: conversationID}, nil
}

// List returns every stored conversation, most recently updated first.
func List(path string) ([]Conversation, error) {
	convs, err := loadAll(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	for i := 1; i < len(convs); i++ {
		for j := i; j > 0 && convs[j].UpdatedAt.After(convs[j-1].UpdatedAt); j-- {
			convs[j], convs[j-1] = convs[j-1], convs[j]
		}
	}
	return convs, nil
}

func titleFrom(entries []Entry) string {
	for _, e := range entries {
		if e.Role != RoleUser {
			continue
		}
		msg, err := message.Parse(e.Payload)
		if err != nil {
			continue
		}
		text := strings.Join(strings.Fields(msg.Text()), " ")
		if text == "" {
			if n := len(msg.Images()); n > 0 {
				return fmt.Sprintf("%d image(s)", n)
			}
			continue
		}
		if runes := []rune(text); len(runes) > 60 {
			text = string(runes[:59]) + "…"
		}
		return text
	}
	return ""
}

func loadAll(path string) ([]Conversation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var convs []Conversation
	if err := json.Unmarshal(data, &convs); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return convs, nil
}

func writeAll(path string, convs []Conversation) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(convs, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
