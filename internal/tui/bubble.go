package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"github.com/csheth/quill/internal/message"
	"github.com/csheth/quill/internal/transcript"
)

const (
	bubbleThumbCols = 10
	bubbleThumbRows = 4
)

// renderBubble draws one finished message read-only: text first, then the
// attached images as a grid.
func renderBubble(cache thumbnailCache, b chatBubble, width int) string {
	inner := width - 4
	if inner < 20 {
		inner = 20
	}
	label, style := bubbleChrome(b.Role)

	var parts []string
	parts = append(parts, bubbleLabelStyle.Render(label))
	switch {
	case b.Pending:
		parts = append(parts, helperStyle.Render("thinking…"))
	case b.Role == transcript.RoleUser:
		text, images := bubbleContent(b.Payload)
		if strings.TrimSpace(text) != "" {
			parts = append(parts, wordwrap.String(text, inner))
		}
		if grid := bubbleImages(cache, images, inner); grid != "" {
			parts = append(parts, grid)
		}
	case b.Role == transcript.RoleError:
		parts = append(parts, errorStyle.Render(wordwrap.String(b.Payload, inner)))
	default:
		parts = append(parts, wordwrap.String(strings.TrimSpace(b.Payload), inner))
	}
	return style.Width(inner + 2).Render(strings.Join(parts, "\n"))
}

func bubbleChrome(role string) (string, lipgloss.Style) {
	switch role {
	case transcript.RoleUser:
		return "You", userBubbleStyle
	case transcript.RoleError:
		return "Error", errorBubbleStyle
	default:
		return "Assistant", assistantBubbleStyle
	}
}

// bubbleContent recovers text and images from a stored payload. Payloads
// that are not composer messages are shown as plain text.
func bubbleContent(payload string) (string, []string) {
	msg, err := message.Parse(payload)
	if err != nil {
		return payload, nil
	}
	return msg.Text(), msg.Images()
}

func bubbleImages(cache thumbnailCache, images []string, width int) string {
	if len(images) == 0 {
		return ""
	}
	perRow := width / (bubbleThumbCols + 1)
	if perRow < 1 {
		perRow = 1
	}
	var rows []string
	for start := 0; start < len(images); start += perRow {
		end := start + perRow
		if end > len(images) {
			end = len(images)
		}
		cells := make([]string, 0, end-start)
		for _, url := range images[start:end] {
			cell := cache.get(url).renderBlocks(bubbleThumbCols, bubbleThumbRows)
			cells = append(cells, lipgloss.NewStyle().PaddingRight(1).Render(cell))
		}
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, cells...))
	}
	return strings.Join(rows, "\n")
}
