package tui

import "strings"

type pageLayout struct {
	windowWidth    int
	windowHeight   int
	viewportWidth  int
	viewportHeight int
	galleryHeight  int
	composerHeight int
}

func newPageLayout() pageLayout {
	return pageLayout{
		viewportWidth:  80,
		viewportHeight: 12,
		galleryHeight:  thumbRows + 4,
		composerHeight: composerHeight,
	}
}

// Update splits the window between the conversation viewport, the gallery
// strip and the composer. The gallery shrinks to its header when empty.
func (l *pageLayout) Update(width, height int, galleryRows int) {
	l.windowWidth = width
	l.windowHeight = height
	l.viewportWidth = max(width-viewportHorizontalPadding, minViewportWidth)
	l.composerHeight = composerHeight
	// Header line plus one bordered card row per gallery row.
	l.galleryHeight = 2
	if galleryRows > 0 {
		l.galleryHeight = 1 + galleryRows*(thumbRows+3)
	}
	const chrome = 8
	l.viewportHeight = max(height-chrome-l.composerHeight-l.galleryHeight, 4)
}

func (l pageLayout) thumbsPerRow() int {
	return max(l.viewportWidth/(thumbCols+2), 1)
}

func (l pageLayout) galleryRows(count int) int {
	if count == 0 {
		return 0
	}
	perRow := l.thumbsPerRow()
	return (count + perRow - 1) / perRow
}

// buildConversationContent stacks every bubble, oldest first.
func (m *model) buildConversationContent() string {
	if len(m.bubbles) == 0 {
		lines := []string{
			sectionHeaderStyle.Render("New conversation"),
			helperStyle.Render("Type a question below, attach images or PDFs, then press Enter to send."),
		}
		if m.config.LLM == nil {
			lines = append(lines, helperStyle.Render("No model configured: messages are saved to the transcript only."))
		}
		return strings.Join(lines, "\n")
	}
	width := m.bubbleWidth()
	rendered := make([]string, 0, len(m.bubbles))
	for _, b := range m.bubbles {
		rendered = append(rendered, renderBubble(m.thumbs, b, width))
	}
	return strings.Join(rendered, "\n")
}

func (m *model) bubbleWidth() int {
	width := m.viewport.Width
	if width <= 0 {
		width = 80
	}
	return max(width, 20)
}

// previewText trims value and cuts it to limit runes with an ellipsis.
func previewText(value string, limit int) string {
	value = strings.TrimSpace(value)
	runes := []rune(value)
	if limit <= 0 || len(runes) <= limit {
		return value
	}
	return strings.TrimSpace(string(runes[:limit])) + "…"
}
