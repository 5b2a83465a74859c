package llm

import (
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/csheth/quill/internal/message"
)

func TestPickHTTPClientHonorsCustomClient(t *testing.T) {
	custom := &http.Client{Timeout: 42 * time.Second}
	if got := pickHTTPClient(custom); got != custom {
		t.Fatalf("expected custom client to be returned")
	}
}

func TestPickHTTPClientUsesLongerTimeout(t *testing.T) {
	client := pickHTTPClient(nil)
	if client.Timeout != defaultLLMHTTPTimeout {
		t.Fatalf("expected default timeout %s, got %s", defaultLLMHTTPTimeout, client.Timeout)
	}
}

func TestNewFromEnvPicksProvider(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("OLLAMA_HOST", "http://gpu-box:11434/")
	t.Setenv("OLLAMA_MODEL", "llava:13b")
	client, err := NewFromEnv(Config{})
	if err != nil {
		t.Fatalf("NewFromEnv: %v", err)
	}
	ollama, ok := client.(*ollamaClient)
	if !ok {
		t.Fatalf("expected ollama client, got %T", client)
	}
	if ollama.host != "http://gpu-box:11434" || ollama.model != "llava:13b" {
		t.Fatalf("unexpected ollama config %+v", ollama)
	}

	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENAI_MODEL", "gpt-4o")
	client, err = NewFromEnv(Config{})
	if err != nil {
		t.Fatalf("NewFromEnv: %v", err)
	}
	if client.Name() != "OpenAI (gpt-4o)" {
		t.Fatalf("Name() = %q", client.Name())
	}

	client, err = NewFromEnv(Config{Provider: "ollama", Model: "moondream"})
	if err != nil {
		t.Fatalf("NewFromEnv: %v", err)
	}
	if client.Name() != "Ollama (moondream)" {
		t.Fatalf("explicit provider ignored: %q", client.Name())
	}
}

func userTurn(t *testing.T, text string, images ...string) Turn {
	t.Helper()
	payload, err := message.New(text, images).Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return Turn{Role: RoleUser, Payload: payload}
}

func TestPrepareRequiresUserTurnLast(t *testing.T) {
	if _, err := prepare(nil); !errors.Is(err, errNoQuestion) {
		t.Fatalf("expected errNoQuestion, got %v", err)
	}
	history := []Turn{userTurn(t, "hi"), {Role: RoleAssistant, Payload: "hello"}}
	if _, err := prepare(history); !errors.Is(err, errNoQuestion) {
		t.Fatalf("expected errNoQuestion, got %v", err)
	}
}

func TestPrepareDropsOldestTurnsOverBudget(t *testing.T) {
	big := strings.Repeat("x", maxHistoryChars/2+1)
	history := []Turn{
		userTurn(t, big),
		{Role: RoleAssistant, Payload: big},
		userTurn(t, "latest", "data:image/png;base64,AAA"),
	}
	parts, err := prepare(history)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if len(parts) != 2 {
		t.Fatalf("expected 2 turns kept, got %d", len(parts))
	}
	last := parts[len(parts)-1]
	if last.text != "latest" || len(last.images) != 1 {
		t.Fatalf("unexpected last turn %+v", last)
	}
}

func TestBase64Payload(t *testing.T) {
	if data, ok := base64Payload("data:image/png;base64,AAA"); !ok || data != "AAA" {
		t.Fatalf("base64Payload = %q, %v", data, ok)
	}
	for _, url := range []string{"https://example.com/a.png", "data:text/plain,hi"} {
		if _, ok := base64Payload(url); ok {
			t.Fatalf("%q should not be treated as inline base64", url)
		}
	}
}
