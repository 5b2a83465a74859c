package llm

import (
	"errors"
	"strings"

	"github.com/csheth/quill/internal/message"
)

const systemPrompt = "You are a helpful assistant. Questions may include images or rendered PDF pages; " +
	"refer to them by position (first image, page 2) when it helps. Answer concisely."

var errNoQuestion = errors.New("conversation has no user turn to answer")

// part is a provider-neutral view of one user or assistant turn.
type part struct {
	role   string
	text   string
	images []string
}

// prepare decodes the history and drops the oldest turns until both the text
// and image budgets fit. The last turn must come from the user.
func prepare(history []Turn) ([]part, error) {
	if len(history) == 0 || history[len(history)-1].Role != RoleUser {
		return nil, errNoQuestion
	}
	parts := make([]part, 0, len(history))
	for _, turn := range history {
		p := part{role: turn.Role}
		if turn.Role == RoleUser {
			msg, err := message.Parse(turn.Payload)
			if err != nil {
				return nil, err
			}
			p.text = msg.Text()
			p.images = msg.Images()
		} else {
			p.text = turn.Payload
		}
		parts = append(parts, p)
	}

	chars, images := 0, 0
	start := len(parts)
	for start > 0 {
		p := parts[start-1]
		chars += len(p.text)
		images += len(p.images)
		if start < len(parts) && (chars > maxHistoryChars || images > maxHistoryImages) {
			break
		}
		start--
	}
	kept := parts[start:]
	last := &kept[len(kept)-1]
	last.text = clipText(last.text, maxHistoryChars)
	if len(last.images) > maxHistoryImages {
		last.images = last.images[:maxHistoryImages]
	}
	return kept, nil
}

func clipText(text string, limit int) string {
	text = strings.TrimSpace(text)
	if limit <= 0 || len(text) <= limit {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}

// base64Payload extracts the encoded bytes from a base64 data URL.
func base64Payload(dataURL string) (string, bool) {
	if !strings.HasPrefix(dataURL, "data:") {
		return "", false
	}
	meta, data, ok := strings.Cut(dataURL[len("data:"):], ",")
	if !ok || !strings.HasSuffix(meta, ";base64") {
		return "", false
	}
	return data, true
}
