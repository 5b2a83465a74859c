package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

func (m *model) View() string {
	if m.quitting {
		return ""
	}
	if m.focus == focusGallery && m.fullScreen {
		return joinNonEmpty([]string{m.galleryPanel(), m.statusBar()})
	}
	m.refreshViewportIfDirty()
	parts := []string{m.heroView(), m.viewport.View()}
	switch m.focus {
	case focusPicker:
		parts = append(parts, m.pickerPanel())
	case focusLink:
		parts = append(parts, m.linkPanel())
	}
	parts = append(parts, m.galleryPanel(), m.messageLine(), m.composerPanel(), m.statusBar())
	if m.helpVisible {
		parts = append(parts, m.keyLegendView())
	}
	return joinNonEmpty(parts)
}

func (m *model) heroView() string {
	title := heroTitleStyle.Render("quill")
	meta := []string{taglineStyle.Render(heroTagline)}
	if id := m.config.ConversationID; id != "" {
		meta = append(meta, helperStyle.Render("conversation "+previewText(id, 8)))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, title, "  ", strings.Join(meta, helperStyle.Render("  •  ")))
}

func (m *model) galleryPanel() string {
	return renderGallery(m.thumbs, galleryView{
		Thumbnails:    m.composer.Thumbnails(),
		Cursor:        m.cursor,
		Focused:       m.focus == focusGallery,
		RemoveVisible: m.galleryRemovable,
		FullScreen:    m.fullScreen,
		Pending:       m.composer.State().Pending(),
		Width:         m.layout.viewportWidth,
		Height:        m.layout.windowHeight - 2,
	})
}

func (m *model) pickerPanel() string {
	return joinNonEmpty([]string{
		sectionHeaderStyle.Render("Attach a file"),
		helperStyle.Render(m.picker.CurrentDirectory),
		m.picker.View(),
		helperStyle.Render("Enter selects • h/← goes up • Esc cancels"),
	})
}

func (m *model) linkPanel() string {
	return joinNonEmpty([]string{
		sectionHeaderStyle.Render("Attach from a link"),
		m.link.View(),
		helperStyle.Render("Enter fetches the image or PDF • Esc cancels"),
	})
}

// messageLine shows the composer notice first, then UI errors, then info.
func (m *model) messageLine() string {
	if notice := m.composer.Notice(); !notice.IsZero() {
		text := notice.Message
		if notice.Err != nil {
			text = fmt.Sprintf("%s: %v", notice.Message, notice.Err)
		}
		return errorStyle.Render(text)
	}
	if m.errorMessage != "" {
		return errorStyle.Render(m.errorMessage)
	}
	if m.infoMessage != "" {
		return helperStyle.Render(m.infoMessage)
	}
	return ""
}

func (m *model) composerPanel() string {
	return joinNonEmpty([]string{
		m.textarea.View(),
		lipgloss.JoinHorizontal(lipgloss.Top, m.sendHint(), " ", helperStyle.Render(m.composerHelpText())),
	})
}

func (m *model) sendHint() string {
	switch {
	case m.composer.CanSubmit():
		return sendReadyStyle.Render("⏎ Send")
	case m.awaiting:
		return sendDisabledStyle.Render("⏎ Waiting for reply")
	}
	return sendDisabledStyle.Render("⏎ Nothing to send")
}

func (m *model) composerHelpText() string {
	switch m.focus {
	case focusGallery:
		return "←/→: select • Enter: preview • o: open • x: remove • Esc: back"
	case focusPicker, focusLink:
		return "Esc: back to composer"
	}
	return "Alt+Enter: newline • Ctrl+O: attach • Ctrl+L: link • Tab: attachments • F1: keys"
}

func (m *model) statusBar() string {
	stats := []string{m.focusLabel()}
	if n := len(m.composer.Thumbnails()); n > 0 {
		stats = append(stats, fmt.Sprintf("Attachments %d", n))
	}
	if m.composer.Busy() {
		stats = append(stats, fmt.Sprintf("%s deriving", m.spinner.View()))
	}
	switch {
	case m.config.LLM == nil:
		stats = append(stats, "offline")
	case m.awaiting:
		stats = append(stats, fmt.Sprintf("%s %s answering", m.spinner.View(), m.config.LLM.Name()))
	default:
		stats = append(stats, m.config.LLM.Name())
	}
	stats = append(stats, m.jobs.badges()...)
	return statusBarStyle.Render(strings.Join(stats, "  •  "))
}

func (m *model) focusLabel() string {
	switch m.focus {
	case focusGallery:
		if m.fullScreen {
			return "PREVIEW"
		}
		return "GALLERY"
	case focusPicker:
		return "PICKER"
	case focusLink:
		return "LINK"
	default:
		return "COMPOSE"
	}
}

type keyHint struct {
	Key         string
	Description string
}

func (m *model) keyLegendView() string {
	hints := []keyHint{
		{"Enter", "Send"},
		{"Alt+Enter", "Newline"},
		{"Ctrl+O", "Attach file"},
		{"Ctrl+L", "Attach link"},
		{"Tab", "Attachments"},
		{"x", "Remove attachment"},
		{"o", "Open attachment"},
		{"PgUp/PgDn", "Scroll"},
		{"F1", "Toggle keys"},
		{"Ctrl+C", "Quit"},
	}
	rows := []string{sectionHeaderStyle.Render("Keys")}
	const columns = 3
	for i := 0; i < len(hints); i += columns {
		end := i + columns
		if end > len(hints) {
			end = len(hints)
		}
		var cells []string
		for _, hint := range hints[i:end] {
			key := keyStyle.Render(hint.Key)
			desc := keyDescStyle.Render(" " + hint.Description + "  ")
			cells = append(cells, lipgloss.JoinHorizontal(lipgloss.Top, key, desc))
		}
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, cells...))
	}
	return legendBoxStyle.Render(strings.Join(rows, "\n"))
}

func joinNonEmpty(parts []string) string {
	filtered := make([]string, 0, len(parts))
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			continue
		}
		filtered = append(filtered, part)
	}
	return strings.Join(filtered, "\n")
}
