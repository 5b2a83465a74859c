package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

type openAIClient struct {
	model  string
	client *openai.Client
}

func newOpenAIClient(apiKey, model, base string, httpClient *http.Client) *openAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if base != "" {
		cfg.BaseURL = strings.TrimRight(base, "/")
	}
	cfg.HTTPClient = httpClient
	return &openAIClient{model: model, client: openai.NewClientWithConfig(cfg)}
}

func (c *openAIClient) Name() string {
	return fmt.Sprintf("OpenAI (%s)", c.model)
}

func (c *openAIClient) Answer(ctx context.Context, history []Turn) (string, error) {
	parts, err := prepare(history)
	if err != nil {
		return "", err
	}
	messages := []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleSystem, Content: systemPrompt}}
	for _, p := range parts {
		messages = append(messages, toOpenAIMessage(p))
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: 0.2,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("openai API error: %d %s", apiErr.HTTPStatusCode, apiErr.Message)
		}
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai API returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func toOpenAIMessage(p part) openai.ChatCompletionMessage {
	if p.role != RoleUser || len(p.images) == 0 {
		return openai.ChatCompletionMessage{Role: p.role, Content: p.text}
	}
	content := []openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: p.text}}
	for _, url := range p.images {
		content = append(content, openai.ChatMessagePart{
			Type:     openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{URL: url, Detail: openai.ImageURLDetailAuto},
		})
	}
	return openai.ChatCompletionMessage{Role: p.role, MultiContent: content}
}
