package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
)

type ollamaClient struct {
	host   string
	model  string
	client *http.Client
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

func (c *ollamaClient) Name() string {
	return fmt.Sprintf("Ollama (%s)", c.model)
}

func (c *ollamaClient) Answer(ctx context.Context, history []Turn) (string, error) {
	parts, err := prepare(history)
	if err != nil {
		return "", err
	}
	messages := []ollamaMessage{{Role: "system", Content: systemPrompt}}
	for _, p := range parts {
		msg := ollamaMessage{Role: p.role, Content: p.text}
		for _, url := range p.images {
			data, ok := base64Payload(url)
			if !ok {
				// /api/chat only accepts inline base64 images
				log.Printf("[llm] skipping non-inline image for %s", c.Name())
				continue
			}
			msg.Images = append(msg.Images, data)
		}
		messages = append(messages, msg)
	}
	return c.chat(ctx, messages)
}

func (c *ollamaClient) chat(ctx context.Context, messages []ollamaMessage) (string, error) {
	payload := map[string]any{
		"model":    c.model,
		"messages": messages,
		"stream":   false,
		"options":  map[string]any{"temperature": 0.2},
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/api/chat", bytes.NewReader(buf))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("ollama API error: %s (%s)", resp.Status, string(body))
	}

	var parsed struct {
		Message ollamaMessage `json:"message"`
		Done    bool          `json:"done"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", err
	}
	reply := strings.TrimSpace(parsed.Message.Content)
	if reply == "" {
		return "", fmt.Errorf("ollama returned an empty response")
	}
	return reply, nil
}
