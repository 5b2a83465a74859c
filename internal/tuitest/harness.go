// Package tuitest drives a terminal program inside a pseudo terminal and
// records what it draws, so end-to-end tests can assert on rendered frames.
package tuitest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/creack/pty"
)

const (
	defaultWidth   = 120
	defaultHeight  = 32
	defaultTimeout = 5 * time.Second
)

// Step is one scripted interaction: wait Delay, then write Input.
type Step struct {
	Delay time.Duration
	Input []byte
}

// Pause waits without typing.
func Pause(d time.Duration) Step { return Step{Delay: d} }

// Type writes s as if typed.
func Type(s string) Step { return Step{Input: []byte(s)} }

// Press writes a key sequence after a short settle delay.
func Press(key []byte) Step { return Step{Delay: 150 * time.Millisecond, Input: key} }

// Config describes the program and the script to replay against it.
type Config struct {
	Command          []string
	Dir              string
	Env              []string
	Width            int
	Height           int
	Steps            []Step
	Timeout          time.Duration
	AllowedExitCodes []int
	AllowInterrupt   bool
}

// Recording is the raw terminal stream plus the frames parsed from it.
type Recording struct {
	Raw      []byte
	Frames   []Frame
	Duration time.Duration
}

// lockedBuffer is written by the PTY reader while the script runs.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

// Run starts the command in a PTY, replays the steps and waits for the
// program to exit.
func Run(ctx context.Context, cfg Config) (*Recording, error) {
	if len(cfg.Command) == 0 {
		return nil, errors.New("tuitest: command is required")
	}
	cfg = withDefaults(cfg)
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, cfg.Command[0], cfg.Command[1:]...)
	cmd.Dir = cfg.Dir
	cmd.Env = buildEnv(cfg.Env)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: uint16(cfg.Height), Cols: uint16(cfg.Width)})
	if err != nil {
		return nil, fmt.Errorf("tuitest: start program: %w", err)
	}
	defer func() { _ = ptmx.Close() }()

	output := &lockedBuffer{}
	copyDone := make(chan struct{})
	go func() {
		defer close(copyDone)
		responder := newTerminalResponder(ptmx)
		buf := make([]byte, 4096)
		for {
			n, readErr := ptmx.Read(buf)
			if n > 0 {
				responder.Process(buf[:n])
				_, _ = output.Write(buf[:n])
			}
			if readErr != nil {
				return
			}
		}
	}()

	start := time.Now()
	if err := replay(ctx, ptmx, cfg.Steps); err != nil {
		return nil, err
	}
	if err := wait(ctx, cmd, cfg); err != nil {
		return nil, err
	}

	_ = ptmx.Close()
	<-copyDone

	raw := output.Bytes()
	return &Recording{Raw: raw, Frames: parseFrames(raw), Duration: time.Since(start)}, nil
}

func withDefaults(cfg Config) Config {
	if cfg.Width <= 0 {
		cfg.Width = defaultWidth
	}
	if cfg.Height <= 0 {
		cfg.Height = defaultHeight
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return cfg
}

func replay(ctx context.Context, w *os.File, steps []Step) error {
	for _, step := range steps {
		if step.Delay > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("tuitest: context cancelled before script finished: %w", ctx.Err())
			case <-time.After(step.Delay):
			}
		}
		if len(step.Input) == 0 {
			continue
		}
		if _, err := w.Write(step.Input); err != nil {
			return fmt.Errorf("tuitest: write input: %w", err)
		}
	}
	return nil
}

func wait(ctx context.Context, cmd *exec.Cmd, cfg Config) error {
	allowed := map[int]struct{}{0: {}}
	for _, code := range cfg.AllowedExitCodes {
		allowed[code] = struct{}{}
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		if err == nil {
			return nil
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if _, ok := allowed[exitErr.ExitCode()]; ok {
				return nil
			}
		}
		if cfg.AllowInterrupt && strings.Contains(err.Error(), "signal: interrupt") {
			return nil
		}
		return fmt.Errorf("tuitest: program exited with error: %w", err)
	case <-ctx.Done():
		return fmt.Errorf("tuitest: timeout waiting for program exit: %w", ctx.Err())
	}
}

func buildEnv(extra []string) []string {
	env := append(os.Environ(), extra...)
	for _, entry := range env {
		if strings.HasPrefix(entry, "TERM=") {
			return env
		}
	}
	return append(env, "TERM=xterm-256color")
}

// Key sequences understood by bubbletea.
var (
	KeyEnter    = []byte{'\r'}
	KeyAltEnter = []byte{27, '\r'}
	KeyTab      = []byte{'\t'}
	KeyEsc      = []byte{27}
	KeyCtrlC    = []byte{3}
	KeyCtrlL    = []byte{12}
	KeyCtrlO    = []byte{15}
	KeyF1       = []byte("\x1bOP")
)
