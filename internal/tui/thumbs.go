package tui

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/charmbracelet/lipgloss"
	_ "golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

var errNotDataURL = errors.New("not a base64 data URL")

// thumbnail is a decoded gallery or bubble image.
type thumbnail struct {
	MediaType string
	Bytes     int
	Width     int
	Height    int
	Remote    bool
	img       image.Image
	err       error
}

func (t *thumbnail) label() string {
	switch {
	case t.Remote:
		return "remote"
	case t.err != nil:
		return "undecodable " + shortType(t.MediaType)
	}
	return fmt.Sprintf("%d×%d %s", t.Width, t.Height, humanBytes(t.Bytes))
}

// thumbnailCache decodes each image once; data URLs are immutable so a
// length and tail fingerprint is enough to key them.
type thumbnailCache map[string]*thumbnail

func (c thumbnailCache) get(url string) *thumbnail {
	key := thumbKey(url)
	if t, ok := c[key]; ok {
		return t
	}
	t := decodeThumbnail(url)
	c[key] = t
	return t
}

// retain drops entries for images no longer on screen.
func (c thumbnailCache) retain(urls ...[]string) {
	keep := map[string]struct{}{}
	for _, list := range urls {
		for _, url := range list {
			keep[thumbKey(url)] = struct{}{}
		}
	}
	for key := range c {
		if _, ok := keep[key]; !ok {
			delete(c, key)
		}
	}
}

func thumbKey(url string) string {
	tail := url
	if len(tail) > 48 {
		tail = tail[len(tail)-48:]
	}
	return fmt.Sprintf("%d:%s", len(url), tail)
}

func decodeThumbnail(url string) *thumbnail {
	mediaType, data, err := splitDataURL(url)
	if errors.Is(err, errNotDataURL) {
		return &thumbnail{Remote: true, err: err}
	}
	if err != nil {
		return &thumbnail{MediaType: mediaType, err: err}
	}
	t := &thumbnail{MediaType: mediaType, Bytes: len(data)}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		t.err = err
		return t
	}
	b := img.Bounds()
	t.img, t.Width, t.Height = img, b.Dx(), b.Dy()
	return t
}

func splitDataURL(url string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(url, "data:")
	if !ok {
		return "", nil, errNotDataURL
	}
	header, encoded, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, errNotDataURL
	}
	mediaType, isBase64 := strings.CutSuffix(header, ";base64")
	if !isBase64 {
		return "", nil, errNotDataURL
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return mediaType, nil, fmt.Errorf("decode data URL: %w", err)
	}
	return mediaType, data, nil
}

// renderBlocks draws img into a cols×rows cell grid with upper half blocks,
// two pixels per cell, preserving the aspect ratio.
func (t *thumbnail) renderBlocks(cols, rows int) string {
	if t.img == nil || cols <= 0 || rows <= 0 {
		return placeholderBlock(t.label(), cols, rows)
	}
	w, h := fitInside(t.Width, t.Height, cols, rows*2)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.Draw(dst, dst.Bounds(), image.White, image.Point{}, xdraw.Src)
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), t.img, t.img.Bounds(), xdraw.Over, nil)

	lines := make([]string, 0, (h+1)/2)
	for y := 0; y < h; y += 2 {
		var b strings.Builder
		for x := 0; x < w; x++ {
			top := dst.RGBAAt(x, y)
			bottom := top
			if y+1 < h {
				bottom = dst.RGBAAt(x, y+1)
			}
			b.WriteString(lipgloss.NewStyle().
				Foreground(hexColor(top)).
				Background(hexColor(bottom)).
				Render("▀"))
		}
		lines = append(lines, b.String())
	}
	return lipgloss.Place(cols, rows, lipgloss.Center, lipgloss.Center, strings.Join(lines, "\n"))
}

func placeholderBlock(label string, cols, rows int) string {
	if cols <= 0 || rows <= 0 {
		return label
	}
	return lipgloss.Place(cols, rows, lipgloss.Center, lipgloss.Center, helperStyle.Render(previewText(label, cols)))
}

func fitInside(w, h, maxW, maxH int) (int, int) {
	if w <= 0 || h <= 0 {
		return maxW, maxH
	}
	if w*maxH > h*maxW {
		return maxW, max(1, h*maxW/w)
	}
	return max(1, w*maxH/h), maxH
}

func hexColor(c color.RGBA) lipgloss.Color {
	return lipgloss.Color(fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B))
}

func shortType(mediaType string) string {
	if _, sub, ok := strings.Cut(mediaType, "/"); ok {
		return sub
	}
	if mediaType == "" {
		return "image"
	}
	return mediaType
}

func humanBytes(n int) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	}
	return fmt.Sprintf("%d B", n)
}
