package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/csheth/quill/internal/composer"
	"github.com/csheth/quill/internal/config"
	"github.com/csheth/quill/internal/fetch"
	"github.com/csheth/quill/internal/llm"
	"github.com/csheth/quill/internal/preview"
	"github.com/csheth/quill/internal/transcript"
	"github.com/csheth/quill/internal/tui"
)

func main() {
	flags := config.BindFlags(flag.CommandLine)
	flag.Parse()
	if err := run(flags); err != nil {
		fmt.Fprintln(os.Stderr, "quill:", err)
		os.Exit(1)
	}
}

func run(flags *config.Flags) error {
	cfg, err := flags.Resolve()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	closeLog, err := setupLogging(cfg.LogFile)
	if err != nil {
		return err
	}
	defer closeLog()

	llmClient, err := llm.NewFromEnv(llm.Config{
		Provider: cfg.LLM.Provider,
		Model:    cfg.LLM.Model,
		Endpoint: cfg.LLM.Endpoint,
	})
	if err != nil {
		log.Printf("[llm] disabled: %v", err)
		llmClient = nil
	}

	transcriptPath := cfg.Transcript
	if transcriptPath == "" {
		transcriptPath = transcript.DefaultPath()
	}
	conversationID := flags.Conversation
	var history []transcript.Entry
	if conversationID == "" {
		conversationID = transcript.NewID()
	} else {
		conv, err := transcript.Load(transcriptPath, conversationID)
		if err != nil {
			return fmt.Errorf("resume conversation: %w", err)
		}
		history = conv.Entries
	}

	previews, err := preview.NewStore("")
	if err != nil {
		return fmt.Errorf("preview store: %w", err)
	}
	defer func() {
		if err := previews.Close(); err != nil {
			log.Printf("[composer] close previews: %v", err)
		}
	}()

	var fetcher tui.Fetcher
	if cache, err := fetch.New(nil); err != nil {
		log.Printf("[fetch] remote attachments disabled: %v", err)
	} else {
		fetcher = cache
	}

	wd, _ := os.Getwd()
	model := tui.New(tui.Config{
		Composer:       cfg.ComposerOptions(),
		Executor:       composer.NewExecutor(),
		Previewer:      previews,
		Fetcher:        fetcher,
		LLM:            llmClient,
		TranscriptPath: transcriptPath,
		ConversationID: conversationID,
		History:        history,
		StartDir:       wd,
	})

	opts := []tea.ProgramOption{}
	if cfg.AltScreen {
		opts = append(opts, tea.WithAltScreen())
	}
	log.Printf("[quill] conversation %s (slot=%s, transcript=%s)", conversationID, cfg.ComposerOptions().Slot, transcriptPath)
	if _, err := tea.NewProgram(model, opts...).Run(); err != nil {
		return fmt.Errorf("program error: %w", err)
	}
	return nil
}

// setupLogging sends the standard logger to a file; the terminal belongs to
// the UI.
func setupLogging(path string) (func(), error) {
	if path == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			log.SetOutput(io.Discard)
			return func() {}, nil
		}
		path = filepath.Join(base, "quill", "quill.log")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			log.SetOutput(io.Discard)
			return func() {}, nil
		}
		return nil, fmt.Errorf("open log file: %w", err)
	}
	log.SetOutput(f)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	return func() { _ = f.Close() }, nil
}
