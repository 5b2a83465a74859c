package llm

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"
)

const (
	defaultOllamaModel = "qwen2.5vl:7b"
	defaultOpenAIModel = "gpt-4o-mini"
	// History clipping keeps roughly 30k tokens of prior turns; images are
	// counted separately because their size says little about token cost.
	maxHistoryChars  = 120_000
	maxHistoryImages = 16
)

const defaultLLMHTTPTimeout = 3 * time.Minute

// Role names used in Turn.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Config describes how to build an LLM client.
type Config struct {
	// Provider is "ollama" or "openai"; empty picks OpenAI when an API key is set.
	Provider   string
	Model      string
	Endpoint   string
	APIKey     string
	HTTPClient *http.Client
}

// Turn is one entry of a conversation. User turns carry a serialized composer
// message; assistant turns carry plain text.
type Turn struct {
	Role    string
	Payload string
}

// Client answers the last user turn of a conversation.
type Client interface {
	Answer(ctx context.Context, history []Turn) (string, error)
	Name() string
}

// NewFromEnv inspects CLI arguments & environment variables to build a client.
func NewFromEnv(cfg Config) (Client, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" && apiKey != "" {
		provider = "openai"
	}
	if provider == "openai" {
		model := cfg.Model
		if model == "" {
			model = envOr("OPENAI_MODEL", defaultOpenAIModel)
		}
		base := cfg.Endpoint
		if base == "" {
			base = os.Getenv("OPENAI_BASE_URL")
		}
		return newOpenAIClient(apiKey, model, base, pickHTTPClient(cfg.HTTPClient)), nil
	}

	host := cfg.Endpoint
	if host == "" {
		host = envOr("OLLAMA_HOST", "http://localhost:11434")
	}
	model := cfg.Model
	if model == "" {
		model = envOr("OLLAMA_MODEL", defaultOllamaModel)
	}
	return &ollamaClient{
		host:   strings.TrimRight(host, "/"),
		model:  model,
		client: pickHTTPClient(cfg.HTTPClient),
	}, nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func pickHTTPClient(custom *http.Client) *http.Client {
	if custom != nil {
		return custom
	}
	// Vision models routinely take over a minute; callers cancel through the context.
	return &http.Client{Timeout: defaultLLMHTTPTimeout}
}
