package tui

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/filepicker"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/csheth/quill/internal/attach"
	"github.com/csheth/quill/internal/composer"
	"github.com/csheth/quill/internal/llm"
	"github.com/csheth/quill/internal/transcript"
)

// Config wires the UI to its collaborators. Composer.Send is owned by the
// model and overwritten.
type Config struct {
	Composer       composer.Options
	Executor       *composer.Executor
	Previewer      composer.Previewer
	Fetcher        Fetcher
	LLM            llm.Client
	TranscriptPath string
	ConversationID string
	// History is a resumed conversation shown above the composer.
	History  []transcript.Entry
	StartDir string
	// Open shows a file in an external viewer; defaults to the OS handler.
	Open func(path string) error
}

type outgoing struct {
	payload        string
	conversationID string
}

type model struct {
	config   Config
	composer *composer.Controller
	executor *composer.Executor
	bus      *jobBus
	jobs     jobTracker

	textarea textarea.Model
	viewport viewport.Model
	picker   filepicker.Model
	link     textinput.Model
	spinner  spinner.Model
	layout   pageLayout

	focus            focusArea
	cursor           int
	fullScreen       bool
	galleryRemovable bool
	helpVisible      bool

	bubbles  []chatBubble
	turns    []llm.Turn
	outbox   []outgoing
	awaiting bool
	thumbs   thumbnailCache

	infoMessage  string
	errorMessage string

	now       func() time.Time
	lastKeyAt time.Time

	viewportDirty bool
	quitting      bool
}

// New returns a tea.Model ready to be mounted into a Program.
func New(config Config) tea.Model {
	return newModel(config)
}

func newModel(config Config) *model {
	ta := textarea.New()
	ta.Placeholder = config.Composer.Placeholder
	ta.ShowLineNumbers = false
	ta.CharLimit = composerCharLimit
	ta.SetHeight(composerHeight)
	ta.SetWidth(80)
	// Enter is routed through the composer; newlines are inserted explicitly.
	ta.KeyMap.InsertNewline.SetEnabled(false)
	ta.Focus()

	link := textinput.New()
	link.Placeholder = linkPlaceholder
	link.CharLimit = 2048
	link.Width = 70

	picker := filepicker.New()
	picker.AllowedTypes = pickerAllowedTypes
	picker.CurrentDirectory = config.StartDir
	if picker.CurrentDirectory == "" {
		if wd, err := os.Getwd(); err == nil {
			picker.CurrentDirectory = wd
		}
	}
	picker.AutoHeight = false
	picker.Height = 10

	executor := config.Executor
	if executor == nil {
		executor = composer.NewExecutor()
	}

	m := &model{
		config:           config,
		executor:         executor,
		bus:              newJobBus(),
		jobs:             jobTracker{},
		textarea:         ta,
		viewport:         viewport.New(80, 12),
		picker:           picker,
		link:             link,
		spinner:          spinner.New(spinner.WithSpinner(spinner.Dot)),
		layout:           newPageLayout(),
		galleryRemovable: true,
		thumbs:           thumbnailCache{},
		now:              time.Now,
		viewportDirty:    true,
	}
	opts := config.Composer
	opts.ConversationID = config.ConversationID
	opts.Send = m.enqueue
	m.composer = composer.New(opts, config.Previewer)
	m.restoreHistory(config.History)
	return m
}

func (m *model) restoreHistory(entries []transcript.Entry) {
	for _, e := range entries {
		m.bubbles = append(m.bubbles, chatBubble{Role: e.Role, Payload: e.Payload, At: e.Timestamp})
		switch e.Role {
		case transcript.RoleUser:
			m.turns = append(m.turns, llm.Turn{Role: llm.RoleUser, Payload: e.Payload})
		case transcript.RoleAssistant:
			m.turns = append(m.turns, llm.Turn{Role: llm.RoleAssistant, Payload: e.Payload})
		}
	}
}

func (m *model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.spinner.Tick)
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil
	case jobSignalMsg:
		m.jobs.observe(msg.Snapshot)
		return m, nil
	case jobResultEnvelope:
		m.jobs.observe(msg.Snapshot)
		if msg.Payload == nil {
			return m, nil
		}
		return m.Update(msg.Payload)
	case composerEventMsg:
		if msg.event == nil {
			return m, nil
		}
		return m, m.dispatch(msg.event)
	case fetchResultMsg:
		return m, m.handleFetchResult(msg)
	case answerResultMsg:
		return m, m.handleAnswer(msg)
	case saveResultMsg:
		if msg.err != nil {
			m.errorMessage = fmt.Sprintf("Transcript not saved: %v", msg.err)
		}
		return m, nil
	case openResultMsg:
		m.infoMessage = ""
		if msg.err != nil {
			m.errorMessage = fmt.Sprintf("Could not open %s: %v", filepath.Base(msg.path), msg.err)
		}
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.textarea, cmd = m.textarea.Update(msg)
	cmds = append(cmds, cmd)
	if m.focus == focusPicker {
		m.picker, cmd = m.picker.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

func (m *model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	now := m.now()
	burst := !m.lastKeyAt.IsZero() && now.Sub(m.lastKeyAt) < inputBurstWindow
	m.lastKeyAt = now

	if msg.String() == "ctrl+c" {
		return m, m.quit()
	}
	switch m.focus {
	case focusPicker:
		return m, m.processPickerKey(msg)
	case focusLink:
		return m, m.processLinkKey(msg)
	case focusGallery:
		return m, m.processGalleryKey(msg)
	}
	return m, m.processComposerKey(msg, burst)
}

func (m *model) processComposerKey(msg tea.KeyMsg, burst bool) tea.Cmd {
	switch msg.String() {
	case "enter":
		return m.pressEnter(false, burst)
	case "alt+enter", "ctrl+j":
		return m.pressEnter(true, burst)
	case "ctrl+o":
		return m.openPicker()
	case "ctrl+l":
		return m.openLink()
	case "tab":
		if len(m.composer.Thumbnails()) > 0 {
			m.focusGallery()
		}
		return nil
	case "f1":
		m.helpVisible = !m.helpVisible
		return nil
	case "pgup":
		m.viewport.HalfViewUp()
		return nil
	case "pgdown":
		m.viewport.HalfViewDown()
		return nil
	case "esc":
		m.clearMessages()
		return nil
	}
	m.composer.ClearNotice()
	var cmd tea.Cmd
	m.textarea, cmd = m.textarea.Update(msg)
	m.composer.SetDraft(m.textarea.Value())
	return cmd
}

// pressEnter forwards the submit key to the composer. The newline is only
// inserted when the composer declines to suppress it.
func (m *model) pressEnter(shiftHeld, composing bool) tea.Cmd {
	suppress, err := m.composer.OnKeyEnter(shiftHeld, composing)
	if !suppress {
		m.textarea.InsertString("\n")
		m.composer.SetDraft(m.textarea.Value())
		return nil
	}
	if err != nil {
		m.errorMessage = err.Error()
		return nil
	}
	return m.flushOutbox()
}

// enqueue is the composer's send callback. Work is deferred to flushOutbox
// so that Submit stays synchronous.
func (m *model) enqueue(payload string, conversationID ...string) error {
	id := ""
	if len(conversationID) > 0 {
		id = conversationID[0]
	}
	m.outbox = append(m.outbox, outgoing{payload: payload, conversationID: id})
	return nil
}

func (m *model) flushOutbox() tea.Cmd {
	if len(m.outbox) == 0 {
		return nil
	}
	pending := m.outbox
	m.outbox = nil

	var cmds []tea.Cmd
	for _, out := range pending {
		m.bubbles = append(m.bubbles, chatBubble{Role: transcript.RoleUser, Payload: out.payload, At: m.now()})
		m.turns = append(m.turns, llm.Turn{Role: llm.RoleUser, Payload: out.payload})
		if m.config.TranscriptPath != "" && out.conversationID != "" {
			entry := transcript.NewEntry(transcript.RoleUser, out.payload)
			cmds = append(cmds, m.bus.Start(jobKindSave, saveJob(m.config.TranscriptPath, out.conversationID, nil, entry)))
		}
		if m.config.LLM != nil && !m.awaiting {
			m.awaiting = true
			m.composer.SetDisabled(true)
			m.bubbles = append(m.bubbles, chatBubble{Role: transcript.RoleAssistant, Pending: true, At: m.now()})
			cmds = append(cmds, m.bus.Start(jobKindAnswer, answerJob(m.config.LLM, out.conversationID, m.turns)))
		}
	}
	m.textarea.SetValue(m.composer.Draft())
	m.cursor = 0
	m.fullScreen = false
	m.infoMessage = "Sent."
	m.errorMessage = ""
	m.afterComposerChange()
	return tea.Batch(cmds...)
}

func (m *model) handleAnswer(msg answerResultMsg) tea.Cmd {
	if msg.conversationID != m.config.ConversationID {
		return nil
	}
	m.awaiting = false
	m.composer.SetDisabled(false)
	role, payload := transcript.RoleAssistant, msg.answer
	if msg.err != nil {
		role, payload = transcript.RoleError, msg.err.Error()
	} else {
		m.turns = append(m.turns, llm.Turn{Role: llm.RoleAssistant, Payload: msg.answer})
	}
	reply := chatBubble{Role: role, Payload: payload, At: m.now()}
	if n := len(m.bubbles); n > 0 && m.bubbles[n-1].Pending {
		m.bubbles[n-1] = reply
	} else {
		m.bubbles = append(m.bubbles, reply)
	}
	m.infoMessage = ""
	m.viewportDirty = true
	if m.config.TranscriptPath == "" || msg.conversationID == "" {
		return nil
	}
	meta := &transcript.LLMMetadata{Provider: m.config.LLM.Name()}
	entry := transcript.NewEntry(role, payload)
	return m.bus.Start(jobKindSave, saveJob(m.config.TranscriptPath, msg.conversationID, meta, entry))
}

func (m *model) dispatch(ev composer.Event) tea.Cmd {
	effects := m.composer.Dispatch(ev)
	m.afterComposerChange()
	return effectCmds(m.bus, m.executor, effects)
}

func (m *model) selectFile(f *attach.File) tea.Cmd {
	effects := m.composer.SelectFile(f)
	m.afterComposerChange()
	if f != nil {
		m.infoMessage = fmt.Sprintf("Attached %s.", f.Name)
		m.errorMessage = ""
	}
	return effectCmds(m.bus, m.executor, effects)
}

func (m *model) selectPath(path string) tea.Cmd {
	f, err := attach.FromPath(path)
	if err != nil {
		m.errorMessage = err.Error()
		return nil
	}
	return m.selectFile(f)
}

// afterComposerChange re-syncs view state that depends on the thumbnails.
func (m *model) afterComposerChange() {
	thumbs := m.composer.Thumbnails()
	if m.cursor >= len(thumbs) {
		m.cursor = len(thumbs) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
	if len(thumbs) == 0 && m.focus == focusGallery {
		m.focusComposer()
	}
	if m.layout.windowWidth > 0 {
		m.layout.Update(m.layout.windowWidth, m.layout.windowHeight, m.layout.galleryRows(len(thumbs)))
		m.applyLayout()
	}
	m.viewportDirty = true
}

func (m *model) processGalleryKey(msg tea.KeyMsg) tea.Cmd {
	count := len(m.composer.Thumbnails())
	switch msg.String() {
	case "left", "h":
		if m.cursor > 0 {
			m.cursor--
		}
	case "right", "l":
		if m.cursor < count-1 {
			m.cursor++
		}
	case "enter", " ":
		m.fullScreen = !m.fullScreen
	case "o":
		return m.openPreview()
	case "x", "delete", "backspace":
		if !m.galleryRemovable {
			return nil
		}
		m.composer.RemoveThumbnail(m.cursor)
		m.afterComposerChange()
	case "esc":
		if m.fullScreen {
			m.fullScreen = false
			return nil
		}
		return m.focusComposer()
	case "tab":
		return m.focusComposer()
	case "ctrl+o":
		return m.openPicker()
	}
	return nil
}

// openPreview shows the selected attachment in an external viewer.
func (m *model) openPreview() tea.Cmd {
	path := m.composer.PreviewPath()
	if path == "" {
		m.errorMessage = "Nothing to open."
		return nil
	}
	open := m.config.Open
	if open == nil {
		open = openExternally
	}
	m.infoMessage = fmt.Sprintf("Opening %s…", filepath.Base(path))
	return m.bus.Start(jobKindOpen, openJob(open, path))
}

func (m *model) processPickerKey(msg tea.KeyMsg) tea.Cmd {
	if msg.String() == "esc" || msg.String() == "ctrl+o" {
		return m.focusComposer()
	}
	var cmd tea.Cmd
	m.picker, cmd = m.picker.Update(msg)
	if ok, path := m.picker.DidSelectFile(msg); ok {
		return tea.Batch(cmd, m.focusComposer(), m.selectPath(path))
	}
	if ok, path := m.picker.DidSelectDisabledFile(msg); ok {
		m.errorMessage = fmt.Sprintf("%s is not an image or PDF.", path)
	}
	return cmd
}

func (m *model) processLinkKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "esc":
		return m.focusComposer()
	case "enter":
		url := strings.TrimSpace(m.link.Value())
		focus := m.focusComposer()
		if url == "" {
			return focus
		}
		if m.config.Fetcher == nil {
			m.errorMessage = "Remote attachments are not configured."
			return nil
		}
		m.infoMessage = fmt.Sprintf("Fetching %s…", previewText(url, 60))
		return tea.Batch(focus, m.bus.Start(jobKindFetch, fetchJob(m.config.Fetcher, url)))
	}
	var cmd tea.Cmd
	m.link, cmd = m.link.Update(msg)
	return cmd
}

func (m *model) handleFetchResult(msg fetchResultMsg) tea.Cmd {
	if msg.err != nil {
		m.infoMessage = ""
		m.errorMessage = fmt.Sprintf("Could not fetch %s: %v", previewText(msg.url, 60), msg.err)
		return nil
	}
	return m.selectFile(msg.file)
}

func (m *model) openPicker() tea.Cmd {
	m.focus = focusPicker
	m.textarea.Blur()
	return m.picker.Init()
}

func (m *model) openLink() tea.Cmd {
	m.focus = focusLink
	m.textarea.Blur()
	m.link.Reset()
	return m.link.Focus()
}

func (m *model) focusGallery() {
	m.focus = focusGallery
	m.textarea.Blur()
	m.link.Blur()
}

func (m *model) focusComposer() tea.Cmd {
	m.focus = focusComposer
	m.fullScreen = false
	m.link.Blur()
	return m.textarea.Focus()
}

func (m *model) clearMessages() {
	m.composer.ClearNotice()
	m.errorMessage = ""
	m.infoMessage = ""
}

// quit unmounts the composer: late derivations are ignored and every open
// document is closed before the program exits.
func (m *model) quit() tea.Cmd {
	m.quitting = true
	for _, eff := range m.composer.Unmount() {
		m.executor.Run(context.Background(), eff)
	}
	if err := m.executor.Close(); err != nil {
		log.Printf("[composer] close executor: %v", err)
	}
	m.bus.Stop()
	return tea.Quit
}

func (m *model) resize(width, height int) {
	m.layout.Update(width, height, m.layout.galleryRows(len(m.composer.Thumbnails())))
	m.applyLayout()
}

func (m *model) applyLayout() {
	m.viewport.Width = m.layout.viewportWidth
	m.viewport.Height = m.layout.viewportHeight
	m.textarea.SetWidth(m.layout.viewportWidth)
	m.link.Width = m.layout.viewportWidth - 4
	m.picker.Height = m.layout.viewportHeight
	m.viewportDirty = true
}

func (m *model) refreshViewportIfDirty() {
	if !m.viewportDirty {
		return
	}
	m.viewportDirty = false
	m.thumbs.retain(m.composer.Thumbnails(), m.bubbleImages())
	m.viewport.SetContent(m.buildConversationContent())
	m.viewport.GotoBottom()
}

func (m *model) bubbleImages() []string {
	var urls []string
	for _, b := range m.bubbles {
		if b.Role != transcript.RoleUser {
			continue
		}
		_, images := bubbleContent(b.Payload)
		urls = append(urls, images...)
	}
	return urls
}
