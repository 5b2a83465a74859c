package composer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/csheth/quill/internal/attach"
)

// ErrNoDocument is reported when a page is requested for a document that was
// never opened or has already been closed.
var ErrNoDocument = errors.New("document is not open")

// Document is an opened multi-page attachment.
type Document interface {
	NumPages() int
	RenderPage(ctx context.Context, n int, scale float64) (string, error)
	Close() error
}

// ImageReaderFunc reads an image file into a data URL.
type ImageReaderFunc func(ctx context.Context, f *attach.File, maxSize int64) (string, error)

// DocumentOpenerFunc decodes a document file.
type DocumentOpenerFunc func(ctx context.Context, f *attach.File, maxSize int64) (Document, error)

// Executor performs effects. Run may be called from several goroutines; open
// documents are tracked per token until a CloseDocument effect or Close.
type Executor struct {
	ReadImage    ImageReaderFunc
	OpenDocument DocumentOpenerFunc

	mu   sync.Mutex
	docs map[Token]Document
}

// NewExecutor returns an executor backed by the attach package.
func NewExecutor() *Executor {
	return &Executor{
		ReadImage: attach.ReadImage,
		OpenDocument: func(ctx context.Context, f *attach.File, maxSize int64) (Document, error) {
			return attach.OpenDocument(ctx, f, maxSize)
		},
	}
}

// Run performs one effect and returns the event that reports its outcome, or
// nil when the effect has no outcome to report.
func (e *Executor) Run(ctx context.Context, eff Effect) Event {
	switch eff := eff.(type) {
	case ReadImage:
		url, err := e.ReadImage(ctx, eff.File, eff.MaxSize)
		if err != nil {
			return DerivationFailed{Token: eff.Token, Err: err}
		}
		return ImageRead{Token: eff.Token, DataURL: url}

	case OpenDocument:
		doc, err := e.OpenDocument(ctx, eff.File, eff.MaxSize)
		if err != nil {
			return DerivationFailed{Token: eff.Token, Err: err}
		}
		e.mu.Lock()
		if e.docs == nil {
			e.docs = make(map[Token]Document)
		}
		e.docs[eff.Token] = doc
		e.mu.Unlock()
		return DocumentOpened{Token: eff.Token, Pages: doc.NumPages()}

	case RasterizePage:
		e.mu.Lock()
		doc, ok := e.docs[eff.Token]
		e.mu.Unlock()
		if !ok {
			return DerivationFailed{Token: eff.Token, Err: fmt.Errorf("page %d: %w", eff.Page, ErrNoDocument)}
		}
		url, err := doc.RenderPage(ctx, eff.Page, eff.Scale)
		if err != nil {
			return DerivationFailed{Token: eff.Token, Err: err}
		}
		return PageRasterized{Token: eff.Token, Page: eff.Page, DataURL: url}

	case CloseDocument:
		e.closeDocument(eff.Token)
		return nil

	case FlushSlot:
		return SlotFlushed{Token: eff.Token}
	}
	return nil
}

// Open reports how many documents are currently held.
func (e *Executor) Open() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.docs)
}

// Close releases every document still held.
func (e *Executor) Close() error {
	e.mu.Lock()
	docs := e.docs
	e.docs = nil
	e.mu.Unlock()
	var errs []error
	for tok, doc := range docs {
		if err := doc.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close document %s: %w", tok, err))
		}
	}
	return errors.Join(errs...)
}

func (e *Executor) closeDocument(tok Token) {
	e.mu.Lock()
	doc, ok := e.docs[tok]
	delete(e.docs, tok)
	e.mu.Unlock()
	if !ok {
		return
	}
	if err := doc.Close(); err != nil {
		log.Printf("[composer] close document %s: %v", tok, err)
	}
}

// Drain runs effects one at a time in FIFO order, dispatching each outcome
// back into c and queueing the follow-ups, until nothing is left.
func Drain(ctx context.Context, c *Controller, ex *Executor, effects []Effect) {
	queue := append([]Effect(nil), effects...)
	for len(queue) > 0 {
		eff := queue[0]
		queue = queue[1:]
		ev := ex.Run(ctx, eff)
		if ev == nil {
			continue
		}
		queue = append(queue, c.Dispatch(ev)...)
	}
}
