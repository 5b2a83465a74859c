package pdfraster

import (
	"bytes"
	"compress/zlib"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/csheth/quill/internal/pdfraster/pdftest"
)

func TestOpenCountsPages(t *testing.T) {
	doc, err := Open(pdftest.Pages("one", "two", "three"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer doc.Close()
	if got := doc.NumPages(); got != 3 {
		t.Fatalf("NumPages() = %d, want 3", got)
	}
}

func TestOpenRejectsGarbage(t *testing.T) {
	cases := map[string][]byte{
		"empty":     nil,
		"short":     []byte("%PDF-1.4\n"),
		"notpdf":    bytes.Repeat([]byte("hello world "), 40),
		"truncated": pdftest.Pages("one")[:200],
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Open(data); !errors.Is(err, ErrMalformed) {
				t.Fatalf("expected ErrMalformed, got %v", err)
			}
		})
	}
}

func TestRenderScalesMediaBox(t *testing.T) {
	doc, err := Open(pdftest.Build(200, 100, pdftest.Page{Text: "Hi", Box: true}))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer doc.Close()

	img, err := doc.Render(context.Background(), 1, DefaultScale)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	bounds := img.Bounds()
	if bounds.Dx() != 600 || bounds.Dy() != 300 {
		t.Fatalf("expected 600x300 canvas, got %dx%d", bounds.Dx(), bounds.Dy())
	}
	if got := img.RGBAAt(0, 0); got != (color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}) {
		t.Fatalf("expected white background, got %v", got)
	}
	if !hasInk(img.Pix) {
		t.Fatal("expected rendered content on the page")
	}
}

func TestRenderBlankPageIsWhite(t *testing.T) {
	doc, err := Open(pdftest.Build(100, 100, pdftest.Page{}))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	img, err := doc.Render(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if hasInk(img.Pix) {
		t.Fatal("blank page should render white")
	}
}

func TestRenderPageRange(t *testing.T) {
	doc, err := Open(pdftest.Pages("only"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	for _, n := range []int{0, 2, -1} {
		if _, err := doc.Render(context.Background(), n, 1); !errors.Is(err, ErrPageRange) {
			t.Fatalf("page %d: expected ErrPageRange, got %v", n, err)
		}
	}
}

func TestRenderAfterClose(t *testing.T) {
	doc, err := Open(pdftest.Pages("only"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := doc.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := doc.Render(context.Background(), 1, 1); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestRenderHonorsCanceledContext(t *testing.T) {
	doc, err := Open(pdftest.Pages("only"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := doc.Render(ctx, 1, 1); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRenderPNGDecodes(t *testing.T) {
	doc, err := Open(pdftest.Build(50, 40, pdftest.Page{Text: "x"}))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	data, err := doc.RenderPNG(context.Background(), 1, 2)
	if err != nil {
		t.Fatalf("RenderPNG() error = %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("png.Decode() error = %v", err)
	}
	if img.Bounds().Dx() != 100 || img.Bounds().Dy() != 80 {
		t.Fatalf("unexpected size %v", img.Bounds())
	}
}

func renderPage(t *testing.T, page pdftest.Page, scale float64) *image.RGBA {
	t.Helper()
	doc, err := Open(pdftest.Build(200, 200, page))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer doc.Close()
	img, err := doc.Render(context.Background(), 1, scale)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	return img
}

func TestRenderImageOnlyPage(t *testing.T) {
	img := renderPage(t, pdftest.Page{
		Content: "q 200 0 0 200 0 0 cm /Im1 Do Q",
		Images:  []pdftest.Image{{Name: "Im1", Width: 2, Height: 2, Data: make([]byte, 2*2*3)}},
	}, DefaultScale)
	if got, total := inkCount(img.Pix), len(img.Pix)/4; got < total*9/10 {
		t.Fatalf("expected the image to cover the page, %d of %d pixels inked", got, total)
	}
	if got := img.RGBAAt(300, 300); got.R > 0x20 || got.G > 0x20 || got.B > 0x20 {
		t.Fatalf("expected black at page center, got %v", got)
	}
}

func TestRenderImageRowsRunTopDown(t *testing.T) {
	// 1x4 image: two red rows on top, two blue rows below.
	red, blue := []byte{0xff, 0, 0}, []byte{0, 0, 0xff}
	data := bytes.Join([][]byte{red, red, blue, blue}, nil)
	img := renderPage(t, pdftest.Page{
		Content: "q 200 0 0 200 0 0 cm /Im1 Do Q",
		Images:  []pdftest.Image{{Name: "Im1", Width: 1, Height: 4, Data: data}},
	}, DefaultScale)
	if got := img.RGBAAt(300, 75); got.R < 0xe0 || got.B > 0x20 {
		t.Fatalf("expected red in the top half, got %v", got)
	}
	if got := img.RGBAAt(300, 525); got.B < 0xe0 || got.R > 0x20 {
		t.Fatalf("expected blue in the bottom half, got %v", got)
	}
}

func TestRenderPlacesScaledImage(t *testing.T) {
	// 50x50pt image at (100,100) in user space is the top right quadrant.
	img := renderPage(t, pdftest.Page{
		Content: "q 50 0 0 50 100 100 cm /Im1 Do Q",
		Images:  []pdftest.Image{{Name: "Im1", Width: 2, Height: 2, Data: make([]byte, 2*2*3)}},
	}, 1)
	if got := img.RGBAAt(125, 75); got.R > 0x20 {
		t.Fatalf("expected ink inside the image, got %v", got)
	}
	for _, pt := range []image.Point{{75, 75}, {125, 125}, {25, 175}} {
		if got := img.RGBAAt(pt.X, pt.Y); got.R != 0xff {
			t.Fatalf("expected white outside the image at %v, got %v", pt, got)
		}
	}
}

func TestRenderFlateGrayImage(t *testing.T) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	zw.Write(make([]byte, 4*4))
	zw.Close()
	img := renderPage(t, pdftest.Page{
		Content: "q 100 0 0 100 50 50 cm /Im1 Do Q",
		Images: []pdftest.Image{{
			Name: "Im1", Width: 4, Height: 4, ColorSpace: "DeviceGray",
			Filter: "FlateDecode", Data: buf.Bytes(),
		}},
	}, 1)
	if got := img.RGBAAt(100, 100); got.R > 0x20 {
		t.Fatalf("expected black from the deflated samples, got %v", got)
	}
}

func TestRenderJPEGImage(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for i := 0; i < len(src.Pix); i += 4 {
		src.Pix[i], src.Pix[i+3] = 0xff, 0xff
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: 95}); err != nil {
		t.Fatalf("jpeg.Encode() error = %v", err)
	}
	img := renderPage(t, pdftest.Page{
		Content: "q 200 0 0 200 0 0 cm /Im1 Do Q",
		Images:  []pdftest.Image{{Name: "Im1", Width: 16, Height: 16, Filter: "DCTDecode", Data: buf.Bytes()}},
	}, 1)
	if got := img.RGBAAt(100, 100); got.R < 0xd0 || got.G > 0x40 || got.B > 0x40 {
		t.Fatalf("expected the red jpeg, got %v", got)
	}
}

func TestRenderUndecodableImageLeavesPlaceholder(t *testing.T) {
	img := renderPage(t, pdftest.Page{
		Content: "q 100 0 0 100 50 50 cm /Im1 Do Q",
		Images:  []pdftest.Image{{Name: "Im1", Width: 2, Height: 2, Filter: "JPXDecode", Data: []byte("not jpeg 2000")}},
	}, 1)
	if got := img.RGBAAt(100, 100); got != placeholderColor {
		t.Fatalf("expected placeholder at the image position, got %v", got)
	}
	if got := img.RGBAAt(10, 10); got.R != 0xff {
		t.Fatalf("expected white outside the placeholder, got %v", got)
	}
}

func TestRenderFilledPath(t *testing.T) {
	img := renderPage(t, pdftest.Page{Content: "0 0 1 rg 20 20 m 180 20 l 100 180 l h f"}, DefaultScale)
	// Centroid (100, 73.3) in user space.
	if got := img.RGBAAt(300, 380); got != (color.RGBA{B: 0xff, A: 0xff}) {
		t.Fatalf("expected blue inside the triangle, got %v", got)
	}
	if got := img.RGBAAt(30, 30); got.R != 0xff {
		t.Fatalf("expected white outside the triangle, got %v", got)
	}
}

func TestRenderFilledCurve(t *testing.T) {
	// A circle of radius 50 around (100,100) drawn with four Bezier arcs.
	circle := "0 g 150 100 m 150 127.6 127.6 150 100 150 c 72.4 150 50 127.6 50 100 c " +
		"50 72.4 72.4 50 100 50 c 127.6 50 150 72.4 150 100 c f"
	img := renderPage(t, pdftest.Page{Content: circle}, 1)
	if got := img.RGBAAt(100, 100); got.R != 0 {
		t.Fatalf("expected black at the circle center, got %v", got)
	}
	if got := img.RGBAAt(55, 55); got.R != 0xff {
		t.Fatalf("expected white outside the arc, got %v", got)
	}
}

func TestRenderStrokedLine(t *testing.T) {
	img := renderPage(t, pdftest.Page{Content: "1 0 0 RG 4 w 20 100 m 180 100 l S"}, DefaultScale)
	if got := img.RGBAAt(300, 300); got != (color.RGBA{R: 0xff, A: 0xff}) {
		t.Fatalf("expected red on the line, got %v", got)
	}
	if got := img.RGBAAt(300, 330); got.G != 0xff {
		t.Fatalf("expected white beside the line, got %v", got)
	}
}

func TestRenderGraphicsStateRestores(t *testing.T) {
	img := renderPage(t, pdftest.Page{Content: "q 1 0 0 rg 0.5 0 0 0.5 0 0 cm Q 10 10 40 40 re f"}, 1)
	// The restored state is the default black fill at identity scale.
	if got := img.RGBAAt(45, 155); got != (color.RGBA{A: 0xff}) {
		t.Fatalf("expected black after Q, got %v", got)
	}
}

func TestRenderClipPathIsNotPainted(t *testing.T) {
	img := renderPage(t, pdftest.Page{Content: "10 10 180 180 re W n"}, 1)
	if hasInk(img.Pix) {
		t.Fatal("clip path should not paint")
	}
}

func inkCount(pix []byte) int {
	n := 0
	for i := 0; i+3 < len(pix); i += 4 {
		if pix[i] != 0xff || pix[i+1] != 0xff || pix[i+2] != 0xff {
			n++
		}
	}
	return n
}

func hasInk(pix []byte) bool {
	for i := 0; i+3 < len(pix); i += 4 {
		if pix[i] != 0xff || pix[i+1] != 0xff || pix[i+2] != 0xff {
			return true
		}
	}
	return false
}
