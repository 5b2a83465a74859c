package tui

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

type jobKind string

const (
	jobKindDerive jobKind = "derive"
	jobKindFetch  jobKind = "fetch"
	jobKindAnswer jobKind = "answer"
	jobKindSave   jobKind = "save"
	jobKindOpen   jobKind = "open"
)

type jobStatus string

const (
	jobStatusRunning   jobStatus = "running"
	jobStatusSucceeded jobStatus = "succeeded"
	jobStatusFailed    jobStatus = "failed"
	jobStatusCancelled jobStatus = "cancelled"
)

type jobSnapshot struct {
	ID      string
	Kind    jobKind
	Status  jobStatus
	Started time.Time
	Elapsed time.Duration
	Err     string
}

// finish derives the terminal snapshot from the runner's error.
func (s jobSnapshot) finish(err error) jobSnapshot {
	s.Elapsed = time.Since(s.Started)
	switch {
	case err == nil:
		s.Status = jobStatusSucceeded
	case errors.Is(err, context.Canceled):
		s.Status = jobStatusCancelled
		s.Err = err.Error()
	default:
		s.Status = jobStatusFailed
		s.Err = err.Error()
	}
	return s
}

// jobSignalMsg announces that a job has been scheduled.
type jobSignalMsg struct {
	Snapshot jobSnapshot
}

// jobResultEnvelope carries the final snapshot and the runner's message,
// which the model re-dispatches through Update.
type jobResultEnvelope struct {
	Snapshot jobSnapshot
	Payload  tea.Msg
}

type jobRunner func(context.Context) (tea.Msg, error)

// jobBus runs work off the UI loop. Every runner shares the bus context so
// Stop aborts in-flight reads, fetches and model calls on quit.
type jobBus struct {
	seq    atomic.Int64
	ctx    context.Context
	cancel context.CancelFunc
}

func newJobBus() *jobBus {
	ctx, cancel := context.WithCancel(context.Background())
	return &jobBus{ctx: ctx, cancel: cancel}
}

// Stop cancels every running job.
func (b *jobBus) Stop() {
	b.cancel()
}

// Start returns a command that first reports the job as running and then
// executes runner.
func (b *jobBus) Start(kind jobKind, runner jobRunner) tea.Cmd {
	snap := jobSnapshot{
		ID:      fmt.Sprintf("%s-%d", kind, b.seq.Add(1)),
		Kind:    kind,
		Status:  jobStatusRunning,
		Started: time.Now(),
	}
	signal := func() tea.Msg { return jobSignalMsg{Snapshot: snap} }
	run := func() tea.Msg {
		var (
			payload tea.Msg
			err     error
		)
		if err = b.ctx.Err(); err == nil {
			payload, err = runner(b.ctx)
		}
		done := snap.finish(err)
		log.Printf("[jobs] %s %s in %s (err=%v)", done.ID, done.Status, done.Elapsed.Round(time.Millisecond), err)
		return jobResultEnvelope{Snapshot: done, Payload: payload}
	}
	return tea.Sequence(signal, run)
}

// jobTracker holds the snapshots of jobs that have not finished yet.
type jobTracker map[string]jobSnapshot

func (t jobTracker) observe(s jobSnapshot) {
	if s.Status == jobStatusRunning {
		t[s.ID] = s
		return
	}
	delete(t, s.ID)
}

func (t jobTracker) running(kind jobKind) int {
	n := 0
	for _, s := range t {
		if s.Kind == kind {
			n++
		}
	}
	return n
}

// badges renders one "kind ×n" entry per kind, sorted by kind.
func (t jobTracker) badges() []string {
	counts := map[jobKind]int{}
	for _, s := range t {
		counts[s.Kind]++
	}
	kinds := make([]jobKind, 0, len(counts))
	for kind := range counts {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	out := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		out = append(out, fmt.Sprintf("%s ×%d", kind, t.running(kind)))
	}
	return out
}
