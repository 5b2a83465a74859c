package tui

import (
	"time"

	"github.com/charmbracelet/lipgloss"
)

type focusArea int

const (
	focusComposer focusArea = iota
	focusGallery
	focusPicker
	focusLink
)

const heroTagline = "Ask about anything you can paste, snap or scan."

const (
	minViewportWidth          = 40
	viewportHorizontalPadding = 4
	composerHeight            = 3
	composerCharLimit         = 8000
)

// Keys arriving closer together than this are treated as one input burst
// (a terminal paste). Enter inside a burst inserts a newline.
const inputBurstWindow = 8 * time.Millisecond

// Extensions offered by the file picker: images and PDFs.
var pickerAllowedTypes = []string{".png", ".jpg", ".jpeg", ".gif", ".webp", ".bmp", ".pdf"}

const linkPlaceholder = "https://example.com/figure.png"

type chatBubble struct {
	Role    string
	Payload string
	Pending bool
	At      time.Time
}

var (
	sectionHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("81"))
	errorStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	helperStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))

	heroAccentColor        = lipgloss.Color("#ff8c00")
	heroSecondaryTextColor = lipgloss.Color("#ffb347")

	heroTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(heroAccentColor)
	taglineStyle   = lipgloss.NewStyle().Foreground(heroSecondaryTextColor).Italic(true)
	statusBarStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#0f0f0f")).Background(lipgloss.Color("#8ecae6")).Padding(0, 1)
	keyStyle       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#0f0f0f")).Background(lipgloss.Color("#ffd166")).Padding(0, 1)
	keyDescStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#e0def4"))
	legendBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#56526e")).Padding(0, 1)

	sendReadyStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#0f0f0f")).Background(lipgloss.Color("#a3be8c")).Padding(0, 1)
	sendDisabledStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6e6a86")).Background(lipgloss.Color("#26233a")).Padding(0, 1)

	userBubbleStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#7f5af0")).Padding(0, 1)
	assistantBubbleStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#56526e")).Padding(0, 1)
	errorBubbleStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("9")).Padding(0, 1)
	bubbleLabelStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("147"))

	thumbStyle         = lipgloss.NewStyle().Border(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("#56526e"))
	thumbSelectedStyle = lipgloss.NewStyle().Border(lipgloss.ThickBorder()).BorderForeground(lipgloss.Color("#ffd166"))
	thumbRemoveStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#0f0f0f")).Background(lipgloss.Color("9"))
	previewBoxStyle    = lipgloss.NewStyle().Border(lipgloss.DoubleBorder()).BorderForeground(lipgloss.Color("#7f5af0")).Padding(0, 1)
)
