// Package preview materializes the selected attachment as a temporary file so
// the host can hand it to an external viewer. Every lease owns at most one
// file, created on first use and removed on release.
package preview

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/csheth/quill/internal/attach"
	"github.com/csheth/quill/internal/composer"
)

// ErrReleased is reported by a lease used after Release.
var ErrReleased = errors.New("preview released")

// Store hands out leases backed by files under one directory.
type Store struct {
	dir string

	mu   sync.Mutex
	live map[*Lease]struct{}
}

// NewStore creates a store rooted at dir, or a fresh temp directory when dir is empty.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		tmp, err := os.MkdirTemp("", "quill-preview-")
		if err != nil {
			return nil, fmt.Errorf("create preview dir: %w", err)
		}
		dir = tmp
	} else if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create preview dir: %w", err)
	}
	return &Store{dir: dir, live: make(map[*Lease]struct{})}, nil
}

// Dir returns the directory preview files are written to.
func (s *Store) Dir() string { return s.dir }

// Acquire returns a lease for f. Nothing touches the disk until Path is called.
func (s *Store) Acquire(f *attach.File) (composer.Lease, error) {
	if f == nil {
		return nil, errors.New("no file to preview")
	}
	l := &Lease{store: s, file: f}
	s.mu.Lock()
	s.live[l] = struct{}{}
	s.mu.Unlock()
	return l, nil
}

// Live reports how many leases have not been released.
func (s *Store) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// Close releases every outstanding lease and removes the directory.
func (s *Store) Close() error {
	s.mu.Lock()
	leases := make([]*Lease, 0, len(s.live))
	for l := range s.live {
		leases = append(leases, l)
	}
	s.mu.Unlock()
	var errs []error
	for _, l := range leases {
		if err := l.Release(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := os.RemoveAll(s.dir); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *Store) forget(l *Lease) {
	s.mu.Lock()
	delete(s.live, l)
	s.mu.Unlock()
}

// Lease is one preview of one file.
type Lease struct {
	store *Store
	file  *attach.File

	mu       sync.Mutex
	path     string
	err      error
	released bool
}

// Path writes the preview file on first call and returns its location. It
// returns "" when the lease is released or the copy failed; Err explains why.
func (l *Lease) Path() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		l.err = ErrReleased
		return ""
	}
	if l.path == "" && l.err == nil {
		l.path, l.err = l.materialize()
	}
	return l.path
}

// Err returns the materialization error, if any.
func (l *Lease) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Release removes the preview file. Later calls are no-ops.
func (l *Lease) Release() error {
	l.mu.Lock()
	if l.released {
		l.mu.Unlock()
		return nil
	}
	l.released = true
	path := l.path
	l.path = ""
	l.mu.Unlock()

	l.store.forget(l)
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove preview: %w", err)
	}
	return nil
}

func (l *Lease) materialize() (string, error) {
	src, err := l.file.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	out, err := os.CreateTemp(l.store.dir, "*-"+safeName(l.file.Name))
	if err != nil {
		return "", fmt.Errorf("create preview: %w", err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		os.Remove(out.Name())
		return "", fmt.Errorf("write preview: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(out.Name())
		return "", fmt.Errorf("write preview: %w", err)
	}
	return out.Name(), nil
}

func safeName(name string) string {
	name = filepath.Base(name)
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*':
			return '-'
		}
		return r
	}, name)
	if name == "." || name == "" {
		return "attachment"
	}
	return name
}
