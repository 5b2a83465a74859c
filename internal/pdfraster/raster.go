// Package pdfraster renders PDF pages into standalone raster images.
//
// Pages are decoded with ledongthuc/pdf. The renderer walks each content
// stream for path fills, strokes, image XObjects and forms, then draws the
// page's positioned text runs with a bitmap face. The canvas is the page's
// MediaBox multiplied by the requested scale, so a 3x render of a US Letter
// page is 1836x2376 pixels. Clipping, shadings, patterns and soft masks are
// not applied.
package pdfraster

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"sync"

	"github.com/ledongthuc/pdf"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// DefaultScale is the oversampling factor applied to a page's native size.
const DefaultScale = 3.0

const (
	letterWidth  = 612.0
	letterHeight = 792.0
	// maxPixels caps one rendered page; 3x of an A0 sheet still fits.
	maxPixels = 120_000_000
)

var (
	// ErrMalformed wraps any failure to parse the document or a page.
	ErrMalformed = errors.New("malformed pdf")
	// ErrPageRange is returned for page numbers outside 1..NumPages.
	ErrPageRange = errors.New("page out of range")
	// ErrClosed is returned when rendering from a closed document.
	ErrClosed = errors.New("document closed")
)

var inkColor = color.RGBA{R: 0x1f, G: 0x1f, B: 0x1f, A: 0xff}

// Document is an opened PDF ready for page rasterization.
type Document struct {
	mu     sync.Mutex
	reader *pdf.Reader
	raw    rawSource
	pages  int
	closed bool
}

// Open parses an in-memory PDF.
func Open(data []byte) (doc *Document, err error) {
	defer func() {
		if r := recover(); r != nil {
			doc = nil
			err = fmt.Errorf("%w: %v", ErrMalformed, r)
		}
	}()
	// the parser reads a fixed-size trailer window from the end of the file
	if len(data) < 128 {
		return nil, fmt.Errorf("%w: %d bytes is too short", ErrMalformed, len(data))
	}
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	pages := reader.NumPage()
	if pages <= 0 {
		return nil, fmt.Errorf("%w: document has no pages", ErrMalformed)
	}
	raw := rawSource{data: data, encrypted: !reader.Trailer().Key("Encrypt").IsNull()}
	return &Document{reader: reader, raw: raw, pages: pages}, nil
}

// NumPages reports the page count from the document catalog.
func (d *Document) NumPages() int {
	return d.pages
}

// Close releases the parsed document. Further renders fail with ErrClosed.
func (d *Document) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.reader = nil
	return nil
}

// Render rasterizes page n (1-based) at scale times its native size.
func (d *Document) Render(ctx context.Context, n int, scale float64) (img *image.RGBA, err error) {
	if scale <= 0 {
		scale = DefaultScale
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	page, err := d.page(n)
	if err != nil {
		return nil, err
	}
	defer func() {
		if r := recover(); r != nil {
			img = nil
			if abort, ok := r.(abortRender); ok {
				err = abort.err
				return
			}
			err = fmt.Errorf("%w: page %d: %v", ErrMalformed, n, r)
		}
	}()

	width, height := mediaBox(page)
	pxW := int(math.Ceil(width * scale))
	pxH := int(math.Ceil(height * scale))
	if pxW <= 0 || pxH <= 0 || pxW*pxH > maxPixels {
		return nil, fmt.Errorf("%w: page %d renders to %dx%d", ErrMalformed, n, pxW, pxH)
	}

	canvas := image.NewRGBA(image.Rect(0, 0, pxW, pxH))
	draw.Draw(canvas, canvas.Bounds(), image.White, image.Point{}, draw.Src)

	newPainter(ctx, canvas, d.raw, height, scale).run(page.V.Key("Contents"), page.Resources())
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, text := range page.Content().Text {
		paintGlyph(canvas, text, height, scale)
	}
	return canvas, nil
}

// RenderPNG rasterizes page n and encodes it as PNG.
func (d *Document) RenderPNG(ctx context.Context, n int, scale float64) ([]byte, error) {
	img, err := d.Render(ctx, n, scale)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode page %d: %w", n, err)
	}
	return buf.Bytes(), nil
}

func (d *Document) page(n int) (page pdf.Page, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return pdf.Page{}, ErrClosed
	}
	if n < 1 || n > d.pages {
		return pdf.Page{}, fmt.Errorf("%w: %d not in 1..%d", ErrPageRange, n, d.pages)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: page %d: %v", ErrMalformed, n, r)
		}
	}()
	page = d.reader.Page(n)
	if page.V.IsNull() {
		return pdf.Page{}, fmt.Errorf("%w: page %d missing from page tree", ErrMalformed, n)
	}
	return page, nil
}

// mediaBox walks the page tree for an inherited MediaBox, defaulting to US Letter.
func mediaBox(page pdf.Page) (float64, float64) {
	for v := page.V; !v.IsNull(); v = v.Key("Parent") {
		box := v.Key("MediaBox")
		if box.Kind() != pdf.Array || box.Len() != 4 {
			continue
		}
		w := math.Abs(box.Index(2).Float64() - box.Index(0).Float64())
		h := math.Abs(box.Index(3).Float64() - box.Index(1).Float64())
		if w > 0 && h > 0 {
			return w, h
		}
	}
	return letterWidth, letterHeight
}

// paintGlyph draws one positioned character. The 7x13 bitmap face is rendered
// into a tile and scaled to the glyph's em box so output follows the page's
// font sizes.
func paintGlyph(dst *image.RGBA, text pdf.Text, pageHeight, scale float64) {
	if text.S == "" || text.S == "\n" || text.S == " " {
		return
	}
	size := text.FontSize
	if size <= 0 {
		size = 12
	}
	advance := text.W
	if advance <= 0 {
		advance = size * 0.5
	}
	face := basicfont.Face7x13
	tile := image.NewRGBA(image.Rect(0, 0, face.Advance, face.Height))
	drawer := font.Drawer{
		Dst:  tile,
		Src:  image.NewUniform(inkColor),
		Face: face,
		Dot:  fixed.P(0, face.Ascent),
	}
	drawer.DrawString(text.S)

	left := text.X * scale
	baseline := (pageHeight - text.Y) * scale
	emHeight := size * scale
	ascent := emHeight * float64(face.Ascent) / float64(face.Height)
	target := image.Rect(
		int(math.Round(left)),
		int(math.Round(baseline-ascent)),
		int(math.Round(left+advance*scale)),
		int(math.Round(baseline-ascent+emHeight)),
	)
	if target.Intersect(dst.Bounds()).Empty() {
		return
	}
	xdraw.ApproxBiLinear.Scale(dst, target, tile, tile.Bounds(), xdraw.Over, nil)
}
