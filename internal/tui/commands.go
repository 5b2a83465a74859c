package tui

import (
	"context"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/csheth/quill/internal/attach"
	"github.com/csheth/quill/internal/composer"
	"github.com/csheth/quill/internal/llm"
	"github.com/csheth/quill/internal/transcript"
)

type composerEventMsg struct {
	event composer.Event
}

type fetchResultMsg struct {
	url  string
	file *attach.File
	err  error
}

type answerResultMsg struct {
	conversationID string
	answer         string
	err            error
}

type saveResultMsg struct {
	err error
}

type openResultMsg struct {
	path string
	err  error
}

// Fetcher resolves a remote URL into a local attachment.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*attach.File, error)
}

func deriveJob(ex *composer.Executor, eff composer.Effect) jobRunner {
	return func(ctx context.Context) (tea.Msg, error) {
		ev := ex.Run(ctx, eff)
		if ev == nil {
			return nil, nil
		}
		if failed, ok := ev.(composer.DerivationFailed); ok {
			return composerEventMsg{event: ev}, failed.Err
		}
		return composerEventMsg{event: ev}, nil
	}
}

func fetchJob(fetcher Fetcher, url string) jobRunner {
	return func(parent context.Context) (tea.Msg, error) {
		ctx, cancel := context.WithTimeout(parent, 45*time.Second)
		defer cancel()
		file, err := fetcher.Fetch(ctx, url)
		return fetchResultMsg{url: url, file: file, err: err}, err
	}
}

func answerJob(client llm.Client, conversationID string, history []llm.Turn) jobRunner {
	turns := append([]llm.Turn(nil), history...)
	return func(parent context.Context) (tea.Msg, error) {
		ctx, cancel := context.WithTimeout(parent, 3*time.Minute)
		defer cancel()
		answer, err := client.Answer(ctx, turns)
		return answerResultMsg{conversationID: conversationID, answer: answer, err: err}, err
	}
}

func openJob(open func(string) error, path string) jobRunner {
	return func(context.Context) (tea.Msg, error) {
		err := open(path)
		return openResultMsg{path: path, err: err}, err
	}
}

// transcriptMu serializes the read-modify-write cycles of save jobs.
var transcriptMu sync.Mutex

func saveJob(path, conversationID string, meta *transcript.LLMMetadata, entries ...transcript.Entry) jobRunner {
	toPersist := append([]transcript.Entry(nil), entries...)
	return func(context.Context) (tea.Msg, error) {
		transcriptMu.Lock()
		defer transcriptMu.Unlock()
		err := transcript.Append(path, conversationID, meta, toPersist...)
		return saveResultMsg{err: err}, err
	}
}

// effectCmds turns composer effects into commands. Derivations run on the
// job bus; closing a document and flushing the slot are immediate.
func effectCmds(bus *jobBus, ex *composer.Executor, effects []composer.Effect) tea.Cmd {
	if len(effects) == 0 {
		return nil
	}
	cmds := make([]tea.Cmd, 0, len(effects))
	for _, eff := range effects {
		eff := eff
		switch eff.(type) {
		case composer.CloseDocument:
			cmds = append(cmds, func() tea.Msg {
				ex.Run(context.Background(), eff)
				return nil
			})
		case composer.FlushSlot:
			cmds = append(cmds, func() tea.Msg {
				return composerEventMsg{event: ex.Run(context.Background(), eff)}
			})
		default:
			cmds = append(cmds, bus.Start(jobKindDerive, deriveJob(ex, eff)))
		}
	}
	return tea.Batch(cmds...)
}
