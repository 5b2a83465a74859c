package attach

import (
	"context"
	"fmt"

	"github.com/csheth/quill/internal/pdfraster"
)

// Document is an opened PDF whose pages render to PNG data URLs.
type Document struct {
	name string
	doc  *pdfraster.Document
}

// OpenDocument reads and decodes a PDF attachment.
func OpenDocument(ctx context.Context, f *File, maxSize int64) (*Document, error) {
	if f.Kind() != KindDocument {
		return nil, fmt.Errorf("%s: %w", f.Name, ErrUnsupported)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := f.ReadAll(maxSize)
	if err != nil {
		return nil, err
	}
	doc, err := pdfraster.Open(data)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Name, err)
	}
	return &Document{name: f.Name, doc: doc}, nil
}

// NumPages returns the page count.
func (d *Document) NumPages() int { return d.doc.NumPages() }

// RenderPage rasterizes page n (1-based) at scale times its native size.
func (d *Document) RenderPage(ctx context.Context, n int, scale float64) (string, error) {
	data, err := d.doc.RenderPNG(ctx, n, scale)
	if err != nil {
		return "", fmt.Errorf("%s page %d: %w", d.name, n, err)
	}
	return DataURL("image/png", data), nil
}

// Close releases the decoded document.
func (d *Document) Close() error { return d.doc.Close() }
