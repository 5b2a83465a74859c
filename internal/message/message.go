// Package message defines the outgoing chat message produced by the composer:
// one text segment followed by zero or more image segments, serialized as
// {"content":[{"type":"text","text":...},{"type":"image_url","image_url":{"url":...}}]}.
package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Segment types as they appear on the wire.
const (
	TypeText     = "text"
	TypeImageURL = "image_url"
)

// ErrNotMessage is returned by Parse when the payload has no content list.
var ErrNotMessage = errors.New("payload is not a structured message")

// ImageURL carries a self-contained image reference, usually a data URL.
type ImageURL struct {
	URL string `json:"url"`
}

// Segment is one tagged element of the content list.
type Segment struct {
	Type     string    `json:"type"`
	Text     *string   `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// Message is the outgoing payload. The first segment is always text.
type Message struct {
	Content []Segment `json:"content"`
}

// New builds a message from the draft text and the thumbnails in display order.
// The text segment is always present, even when text is empty.
func New(text string, images []string) Message {
	content := make([]Segment, 0, len(images)+1)
	content = append(content, TextSegment(text))
	for _, url := range images {
		content = append(content, ImageSegment(url))
	}
	return Message{Content: content}
}

// TextSegment returns a text segment; the text field is emitted even when empty.
func TextSegment(text string) Segment {
	return Segment{Type: TypeText, Text: &text}
}

// ImageSegment returns an image_url segment.
func ImageSegment(url string) Segment {
	return Segment{Type: TypeImageURL, ImageURL: &ImageURL{URL: url}}
}

// Encode serializes the message in its wire shape.
func (m Message) Encode() (string, error) {
	var buf strings.Builder
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(m); err != nil {
		return "", fmt.Errorf("encode message: %w", err)
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// Text joins every text segment.
func (m Message) Text() string {
	var parts []string
	for _, seg := range m.Content {
		if seg.Type == TypeText && seg.Text != nil {
			parts = append(parts, *seg.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Images returns image URLs in segment order.
func (m Message) Images() []string {
	var urls []string
	for _, seg := range m.Content {
		if seg.Type == TypeImageURL && seg.ImageURL != nil && seg.ImageURL.URL != "" {
			urls = append(urls, seg.ImageURL.URL)
		}
	}
	return urls
}

// Parse reads a payload produced by Encode. Unknown segment types are skipped
// so newer producers stay readable. A payload that is not JSON is treated as
// a plain text message.
func Parse(payload string) (Message, error) {
	trimmed := strings.TrimSpace(payload)
	if !gjson.Valid(trimmed) || !strings.HasPrefix(trimmed, "{") {
		return New(payload, nil), nil
	}
	content := gjson.Get(trimmed, "content")
	if !content.IsArray() {
		return Message{}, ErrNotMessage
	}
	var msg Message
	content.ForEach(func(_, seg gjson.Result) bool {
		switch seg.Get("type").String() {
		case TypeText:
			msg.Content = append(msg.Content, TextSegment(seg.Get("text").String()))
		case TypeImageURL:
			url := seg.Get("image_url.url").String()
			if url != "" {
				msg.Content = append(msg.Content, ImageSegment(url))
			}
		}
		return true
	})
	return msg, nil
}
