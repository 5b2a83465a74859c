package composer

import (
	"fmt"

	"github.com/csheth/quill/internal/attach"
)

// Token identifies one derivation. Epoch changes on every unmount so that
// completions from a torn-down composer are recognizable.
type Token struct {
	Epoch uint64
	Seq   uint64
}

func (t Token) String() string {
	return fmt.Sprintf("%d/%d", t.Epoch, t.Seq)
}

// Notice is a transient message for the hosting view.
type Notice struct {
	Message string
	Err     error
}

// IsZero reports whether there is nothing to show.
func (n Notice) IsZero() bool {
	return n.Message == "" && n.Err == nil
}

type job struct {
	token Token
	file  *attach.File
	kind  attach.Kind
	pages int
	next  int
}

// State is the composer's complete value. Reduce never mutates a State in
// place; slices are copied before they change.
type State struct {
	Draft      string
	Selected   *attach.File
	Thumbnails []string
	// Slot is the pending-image buffer used in SlotSingle mode.
	Slot string
	// Dropped counts images lost to slot overwrites.
	Dropped int
	Notice  Notice

	queue   []job
	running []job
	seq     uint64
	epoch   uint64
	mounted bool
}

// NewState returns a mounted, empty state.
func NewState() State {
	return State{mounted: true}
}

// Mounted reports whether completions are still applied.
func (s State) Mounted() bool { return s.mounted }

// Pending reports how many derivations are queued or running.
func (s State) Pending() int { return len(s.queue) + len(s.running) }

// Event is an input to Reduce.
type Event interface{ isEvent() }

// TextChanged replaces the draft.
type TextChanged struct{ Text string }

// FileSelected replaces the selection; a nil File clears it.
type FileSelected struct{ File *attach.File }

// ImageRead completes a direct image read.
type ImageRead struct {
	Token   Token
	DataURL string
}

// DocumentOpened reports a decoded document and its page count.
type DocumentOpened struct {
	Token Token
	Pages int
}

// PageRasterized delivers page Page (1-based) of a document.
type PageRasterized struct {
	Token   Token
	Page    int
	DataURL string
}

// DerivationFailed ends a derivation with an error.
type DerivationFailed struct {
	Token Token
	Err   error
}

// SlotFlushed moves the pending-image buffer into the thumbnails.
type SlotFlushed struct{ Token Token }

// ThumbnailRemoved deletes one thumbnail by index.
type ThumbnailRemoved struct{ Index int }

// Submitted resets the state after a successful send.
type Submitted struct{}

// Unmounted tears the composer down.
type Unmounted struct{}

// Mounted makes a torn-down composer live again under a new epoch.
type Mounted struct{}

func (TextChanged) isEvent()      {}
func (FileSelected) isEvent()     {}
func (ImageRead) isEvent()        {}
func (DocumentOpened) isEvent()   {}
func (PageRasterized) isEvent()   {}
func (DerivationFailed) isEvent() {}
func (SlotFlushed) isEvent()      {}
func (ThumbnailRemoved) isEvent() {}
func (Submitted) isEvent()        {}
func (Unmounted) isEvent()        {}
func (Mounted) isEvent()          {}

// Effect is asynchronous work requested by Reduce.
type Effect interface {
	isEffect()
	token() Token
}

// ReadImage reads a raster image into a data URL.
type ReadImage struct {
	Token   Token
	File    *attach.File
	MaxSize int64
}

// OpenDocument decodes a PDF and reports its page count.
type OpenDocument struct {
	Token   Token
	File    *attach.File
	MaxSize int64
}

// RasterizePage renders one page of an opened document.
type RasterizePage struct {
	Token Token
	Page  int
	Scale float64
}

// CloseDocument releases an opened document. It is safe to request more than once.
type CloseDocument struct{ Token Token }

// FlushSlot schedules a SlotFlushed event.
type FlushSlot struct{ Token Token }

func (ReadImage) isEffect()     {}
func (OpenDocument) isEffect()  {}
func (RasterizePage) isEffect() {}
func (CloseDocument) isEffect() {}
func (FlushSlot) isEffect()     {}

func (e ReadImage) token() Token     { return e.Token }
func (e OpenDocument) token() Token  { return e.Token }
func (e RasterizePage) token() Token { return e.Token }
func (e CloseDocument) token() Token { return e.Token }
func (e FlushSlot) token() Token     { return e.Token }

// Reduce applies one event and returns the next state plus the effects to run.
func Reduce(opts Options, s State, ev Event) (State, []Effect) {
	switch ev := ev.(type) {
	case TextChanged:
		s.Draft = ev.Text
		return s, nil

	case FileSelected:
		return selectFile(opts, s, ev.File)

	case ImageRead:
		if s.stale(ev.Token) {
			return s, nil
		}
		j, ok := s.find(ev.Token)
		if !ok {
			return s, nil
		}
		if opts.Slot == SlotSingle {
			if s.Slot != "" {
				s.Dropped++
			}
			s.Slot = ev.DataURL
			s, effects := s.finish(opts, j.token)
			return s, append(effects, FlushSlot{Token: ev.Token})
		}
		s.Thumbnails = appendThumbnail(s.Thumbnails, ev.DataURL)
		return s.finish(opts, j.token)

	case SlotFlushed:
		if s.stale(ev.Token) || s.Slot == "" {
			return s, nil
		}
		s.Thumbnails = appendThumbnail(s.Thumbnails, s.Slot)
		s.Slot = ""
		return s, nil

	case DocumentOpened:
		closeDoc := []Effect{CloseDocument{Token: ev.Token}}
		if s.stale(ev.Token) {
			return s, closeDoc
		}
		j, ok := s.find(ev.Token)
		if !ok {
			return s, closeDoc
		}
		if ev.Pages <= 0 {
			s, effects := s.finish(opts, j.token)
			return s, append(closeDoc, effects...)
		}
		j.pages = ev.Pages
		j.next = 1
		s.update(j)
		return s, []Effect{RasterizePage{Token: j.token, Page: 1, Scale: opts.scale()}}

	case PageRasterized:
		closeDoc := []Effect{CloseDocument{Token: ev.Token}}
		if s.stale(ev.Token) {
			return s, closeDoc
		}
		j, ok := s.find(ev.Token)
		if !ok {
			return s, closeDoc
		}
		if ev.Page != j.next {
			return s, nil
		}
		s.Thumbnails = appendThumbnail(s.Thumbnails, ev.DataURL)
		j.next++
		if j.next > j.pages {
			s, effects := s.finish(opts, j.token)
			return s, append(closeDoc, effects...)
		}
		s.update(j)
		return s, []Effect{RasterizePage{Token: j.token, Page: j.next, Scale: opts.scale()}}

	case DerivationFailed:
		if s.stale(ev.Token) {
			return s, []Effect{CloseDocument{Token: ev.Token}}
		}
		j, ok := s.find(ev.Token)
		if !ok {
			return s, nil
		}
		var effects []Effect
		if j.kind == attach.KindDocument {
			effects = append(effects, CloseDocument{Token: j.token})
		}
		if opts.Errors == ErrorSurface {
			s.Notice = Notice{Message: fmt.Sprintf("could not load %s", j.file.Name), Err: ev.Err}
		}
		s, next := s.finish(opts, j.token)
		return s, append(effects, next...)

	case ThumbnailRemoved:
		if ev.Index < 0 || ev.Index >= len(s.Thumbnails) {
			return s, nil
		}
		kept := make([]string, 0, len(s.Thumbnails)-1)
		kept = append(kept, s.Thumbnails[:ev.Index]...)
		kept = append(kept, s.Thumbnails[ev.Index+1:]...)
		s.Thumbnails = kept
		return s, nil

	case Submitted:
		s.Thumbnails = nil
		s.Slot = ""
		if opts.ClearOnSend {
			s.Draft = ""
		}
		return s, nil

	case Unmounted:
		if !s.mounted {
			return s, nil
		}
		var effects []Effect
		for _, j := range s.running {
			if j.kind == attach.KindDocument {
				effects = append(effects, CloseDocument{Token: j.token})
			}
		}
		s.mounted = false
		s.epoch++
		s.queue = nil
		s.running = nil
		s.Selected = nil
		s.Slot = ""
		return s, effects

	case Mounted:
		s.mounted = true
		return s, nil
	}
	return s, nil
}

func selectFile(opts Options, s State, file *attach.File) (State, []Effect) {
	if !s.mounted {
		return s, nil
	}
	s.Selected = file
	if file == nil {
		return s, nil
	}
	kind := file.Kind()
	if kind == attach.KindUnsupported {
		if opts.Unsupported == UnsupportedNotify {
			s.Notice = Notice{Message: fmt.Sprintf("%s is not an image or PDF (%s)", file.Name, displayType(file.MediaType))}
		}
		return s, nil
	}
	s.seq++
	j := job{token: Token{Epoch: s.epoch, Seq: s.seq}, file: file, kind: kind}
	if opts.Slot == SlotSingle {
		s.running = append(s.running[:len(s.running):len(s.running)], j)
		return s, []Effect{start(opts, j)}
	}
	s.queue = append(s.queue[:len(s.queue):len(s.queue)], j)
	return s.startNext(opts)
}

func start(opts Options, j job) Effect {
	if j.kind == attach.KindDocument {
		return OpenDocument{Token: j.token, File: j.file, MaxSize: opts.maxFileSize()}
	}
	return ReadImage{Token: j.token, File: j.file, MaxSize: opts.maxFileSize()}
}

// startNext promotes the head of the queue when nothing is running.
func (s State) startNext(opts Options) (State, []Effect) {
	if len(s.running) > 0 || len(s.queue) == 0 {
		return s, nil
	}
	j := s.queue[0]
	s.queue = append([]job(nil), s.queue[1:]...)
	s.running = []job{j}
	return s, []Effect{start(opts, j)}
}

func (s State) finish(opts Options, tok Token) (State, []Effect) {
	running := make([]job, 0, len(s.running))
	for _, j := range s.running {
		if j.token != tok {
			running = append(running, j)
		}
	}
	s.running = running
	if opts.Slot == SlotSingle {
		return s, nil
	}
	return s.startNext(opts)
}

func (s State) stale(tok Token) bool {
	return !s.mounted || tok.Epoch != s.epoch
}

func (s State) find(tok Token) (job, bool) {
	for _, j := range s.running {
		if j.token == tok {
			return j, true
		}
	}
	return job{}, false
}

func (s *State) update(updated job) {
	running := make([]job, len(s.running))
	for i, j := range s.running {
		if j.token == updated.token {
			j = updated
		}
		running[i] = j
	}
	s.running = running
}

func appendThumbnail(thumbs []string, url string) []string {
	out := make([]string, len(thumbs), len(thumbs)+1)
	copy(out, thumbs)
	return append(out, url)
}

func displayType(mediaType string) string {
	if mediaType == "" {
		return "unknown type"
	}
	return mediaType
}

// TokenOf returns the derivation token an effect belongs to.
func TokenOf(e Effect) Token { return e.token() }
