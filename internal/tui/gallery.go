package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

const (
	thumbCols = 14
	thumbRows = 5
)

// galleryView is everything the gallery needs to draw itself. The gallery
// never mutates composer state; removal and preview toggles are reported to
// the model which owns the controller.
type galleryView struct {
	Thumbnails    []string
	Cursor        int
	Focused       bool
	RemoveVisible bool
	FullScreen    bool
	Pending       int
	Width         int
	Height        int
}

func renderGallery(cache thumbnailCache, v galleryView) string {
	if v.FullScreen && v.Cursor >= 0 && v.Cursor < len(v.Thumbnails) {
		return renderFullScreen(cache, v)
	}
	header := sectionHeaderStyle.Render(fmt.Sprintf("Attachments (%d)", len(v.Thumbnails)))
	if v.Pending > 0 {
		header += helperStyle.Render(fmt.Sprintf("  deriving %d…", v.Pending))
	}
	if len(v.Thumbnails) == 0 {
		if v.Pending > 0 {
			return header
		}
		return joinLines(header, helperStyle.Render("No attachments yet. Ctrl+O picks an image or PDF, Ctrl+L fetches a link."))
	}

	perRow := v.Width / (thumbCols + 2)
	if perRow < 1 {
		perRow = 1
	}
	var rows []string
	for start := 0; start < len(v.Thumbnails); start += perRow {
		end := start + perRow
		if end > len(v.Thumbnails) {
			end = len(v.Thumbnails)
		}
		cards := make([]string, 0, end-start)
		for i := start; i < end; i++ {
			cards = append(cards, renderThumbCard(cache, v, i))
		}
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, cards...))
	}
	return joinLines(header, strings.Join(rows, "\n"))
}

func renderThumbCard(cache thumbnailCache, v galleryView, i int) string {
	t := cache.get(v.Thumbnails[i])
	selected := v.Focused && i == v.Cursor
	caption := fmt.Sprintf("%d", i+1)
	if selected && v.RemoveVisible {
		caption += " " + thumbRemoveStyle.Render(" x ")
	}
	body := joinLines(
		t.renderBlocks(thumbCols, thumbRows),
		lipgloss.PlaceHorizontal(thumbCols, lipgloss.Center, caption),
	)
	if selected {
		return thumbSelectedStyle.Render(body)
	}
	return thumbStyle.Render(body)
}

func renderFullScreen(cache thumbnailCache, v galleryView) string {
	t := cache.get(v.Thumbnails[v.Cursor])
	cols := v.Width - 4
	rows := v.Height - 4
	if cols < thumbCols {
		cols = thumbCols
	}
	if rows < thumbRows {
		rows = thumbRows
	}
	title := fmt.Sprintf("Attachment %d of %d · %s", v.Cursor+1, len(v.Thumbnails), t.label())
	return previewBoxStyle.Render(joinLines(
		sectionHeaderStyle.Render(title),
		t.renderBlocks(cols, rows),
		helperStyle.Render("Enter or Esc closes the preview · ←/→ browse · x removes"),
	))
}

func joinLines(parts ...string) string {
	return strings.Join(parts, "\n")
}
