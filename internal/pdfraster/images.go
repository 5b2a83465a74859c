package pdfraster

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// maxImagePixels caps one embedded image; a 600 dpi A4 scan is ~35M.
const maxImagePixels = 64_000_000

var (
	errImageEncoding = errors.New("unsupported image encoding")
	placeholderColor = color.RGBA{R: 0xe4, G: 0xe4, B: 0xe4, A: 0xff}
)

// rawSource hands out undecoded stream bytes for filters the parser cannot
// decode itself (DCTDecode).
type rawSource struct {
	data      []byte
	encrypted bool
}

// stream returns the bytes between "stream" and "endstream". The parser
// only exposes decoded data, but prints streams as "<<dict>>@offset" with
// the absolute file offset of the data.
func (r rawSource) stream(v pdf.Value) ([]byte, bool) {
	if r.encrypted {
		return nil, false
	}
	s := v.String()
	at := strings.LastIndexByte(s, '@')
	if at < 0 {
		return nil, false
	}
	off, err := strconv.ParseInt(s[at+1:], 10, 64)
	n := v.Key("Length").Int64()
	if err != nil || off < 0 || n <= 0 || off+n > int64(len(r.data)) {
		return nil, false
	}
	return r.data[off : off+n], true
}

// paintImage maps the image's unit square through the CTM. Images that
// cannot be decoded are drawn as a flat placeholder so the page still shows
// where they sit.
func (p *painter) paintImage(x pdf.Value) {
	img, err := p.decodeImage(x)
	if err != nil {
		p.paintPlaceholder()
		return
	}
	// Decoded images are anchored at the origin.
	b := img.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())
	m, s := p.gs.ctm, p.scale
	// Image row 0 is the top edge, which is v=1 in image space.
	s2d := f64.Aff3{
		s * m[0] / w, -s * m[2] / h, s * (m[2] + m[4]),
		-s * m[1] / w, s * m[3] / h, s * (p.pageHeight - m[3] - m[5]),
	}
	if det := s2d[0]*s2d[4] - s2d[1]*s2d[3]; det > -1e-12 && det < 1e-12 {
		return
	}
	xdraw.ApproxBiLinear.Transform(p.dst, s2d, img, b, xdraw.Over, nil)
}

func (p *painter) paintPlaceholder() {
	saved := p.path
	p.path = nil
	p.moveTo(p.device(0, 0))
	p.lineTo(p.device(1, 0))
	p.lineTo(p.device(1, 1))
	p.lineTo(p.device(0, 1))
	p.closePath()
	p.fillPath(placeholderColor)
	p.path = saved
}

func (p *painter) decodeImage(x pdf.Value) (img image.Image, err error) {
	// The stream reader panics on predictors and filters it does not know.
	defer func() {
		if r := recover(); r != nil {
			img, err = nil, fmt.Errorf("%w: %v", errImageEncoding, r)
		}
	}()
	w, h := int(x.Key("Width").Int64()), int(x.Key("Height").Int64())
	if w <= 0 || h <= 0 || w*h > maxImagePixels {
		return nil, fmt.Errorf("%w: %dx%d image", errImageEncoding, w, h)
	}
	filters := filterNames(x.Key("Filter"))
	if n := len(filters); n > 0 {
		switch filters[n-1] {
		case "DCTDecode", "DCT":
			if n > 1 {
				return nil, fmt.Errorf("%w: %v", errImageEncoding, filters)
			}
			raw, ok := p.raw.stream(x)
			if !ok {
				return nil, fmt.Errorf("%w: jpeg stream unavailable", errImageEncoding)
			}
			return jpeg.Decode(bytes.NewReader(raw))
		case "FlateDecode", "Fl", "ASCII85Decode", "A85":
		default:
			return nil, fmt.Errorf("%w: %v", errImageEncoding, filters)
		}
	}

	rd := x.Reader()
	defer rd.Close()
	samples, err := io.ReadAll(io.LimitReader(rd, int64(w*h)*4*2+1))
	if err != nil {
		return nil, fmt.Errorf("read image samples: %w", err)
	}
	if x.Key("ImageMask").Bool() {
		return stencil(samples, w, h, invertedDecode(x.Key("Decode")), p.gs.fill), nil
	}
	cs, err := parseColorSpace(x.Key("ColorSpace"))
	if err != nil {
		return nil, err
	}
	bpc := int(x.Key("BitsPerComponent").Int64())
	switch bpc {
	case 0:
		bpc = 8
	case 1, 2, 4, 8, 16:
	default:
		return nil, fmt.Errorf("%w: %d bits per component", errImageEncoding, bpc)
	}
	return cs.decode(samples, w, h, bpc), nil
}

func filterNames(v pdf.Value) []string {
	switch v.Kind() {
	case pdf.Name:
		return []string{v.Name()}
	case pdf.Array:
		names := make([]string, 0, v.Len())
		for i := 0; i < v.Len(); i++ {
			names = append(names, v.Index(i).Name())
		}
		return names
	}
	return nil
}

func invertedDecode(v pdf.Value) bool {
	return v.Kind() == pdf.Array && v.Len() == 2 && v.Index(0).Float64() == 1
}

// stencil paints fill wherever a mask bit is 0 (1 when inverted).
func stencil(samples []byte, w, h int, inverted bool, fill color.RGBA) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	rd := sampleReader{data: samples, bpc: 1, rowBits: w}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			bit := rd.at(y, x)
			if (bit == 0) != inverted {
				img.SetNRGBA(x, y, color.NRGBA{R: fill.R, G: fill.G, B: fill.B, A: 0xff})
			}
		}
	}
	return img
}

type colorModel int

const (
	modelGray colorModel = iota
	modelRGB
	modelCMYK
	modelIndexed
	modelTint
)

type colorSpace struct {
	model  colorModel
	base   *colorSpace
	hival  int
	lookup []byte
}

func (cs colorSpace) components() int {
	switch cs.model {
	case modelRGB:
		return 3
	case modelCMYK:
		return 4
	}
	return 1
}

func parseColorSpace(v pdf.Value) (colorSpace, error) {
	switch v.Kind() {
	case pdf.Name, pdf.Null:
		switch v.Name() {
		case "DeviceGray", "G", "CalGray", "":
			return colorSpace{model: modelGray}, nil
		case "DeviceRGB", "RGB", "CalRGB":
			return colorSpace{model: modelRGB}, nil
		case "DeviceCMYK", "CMYK":
			return colorSpace{model: modelCMYK}, nil
		}
	case pdf.Array:
		switch v.Index(0).Name() {
		case "CalGray":
			return colorSpace{model: modelGray}, nil
		case "CalRGB":
			return colorSpace{model: modelRGB}, nil
		case "ICCBased":
			switch v.Index(1).Key("N").Int64() {
			case 1:
				return colorSpace{model: modelGray}, nil
			case 3:
				return colorSpace{model: modelRGB}, nil
			case 4:
				return colorSpace{model: modelCMYK}, nil
			}
		case "Separation":
			return colorSpace{model: modelTint}, nil
		case "Indexed", "I":
			base, err := parseColorSpace(v.Index(1))
			if err != nil || base.model == modelIndexed {
				return colorSpace{}, fmt.Errorf("%w: indexed base %v", errImageEncoding, v.Index(1))
			}
			lookup, err := lookupTable(v.Index(3))
			if err != nil {
				return colorSpace{}, err
			}
			return colorSpace{model: modelIndexed, base: &base, hival: int(v.Index(2).Int64()), lookup: lookup}, nil
		}
	}
	return colorSpace{}, fmt.Errorf("%w: color space %v", errImageEncoding, v)
}

func lookupTable(v pdf.Value) ([]byte, error) {
	switch v.Kind() {
	case pdf.String:
		return []byte(v.RawString()), nil
	case pdf.Stream:
		rd := v.Reader()
		defer rd.Close()
		data, err := io.ReadAll(io.LimitReader(rd, 256*4))
		if err != nil {
			return nil, fmt.Errorf("read indexed lookup: %w", err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("%w: indexed lookup %v", errImageEncoding, v)
}

// decode expands packed samples into RGBA. Missing trailing samples read as
// zero so truncated streams still produce an image.
func (cs colorSpace) decode(samples []byte, w, h, bpc int) image.Image {
	comps := cs.components()
	rd := sampleReader{data: samples, bpc: bpc, rowBits: w * comps * bpc}
	maxVal := float64(int(1)<<bpc - 1)
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := x * comps
			var c color.RGBA
			switch cs.model {
			case modelGray:
				c = grayRGBA(float64(rd.at(y, i)) / maxVal)
			case modelTint:
				c = grayRGBA(1 - float64(rd.at(y, i))/maxVal)
			case modelRGB:
				c = rgbRGBA(float64(rd.at(y, i))/maxVal, float64(rd.at(y, i+1))/maxVal, float64(rd.at(y, i+2))/maxVal)
			case modelCMYK:
				c = cmykRGBA(float64(rd.at(y, i))/maxVal, float64(rd.at(y, i+1))/maxVal,
					float64(rd.at(y, i+2))/maxVal, float64(rd.at(y, i+3))/maxVal)
			case modelIndexed:
				c = cs.indexed(int(rd.at(y, i)))
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func (cs colorSpace) indexed(idx int) color.RGBA {
	if idx > cs.hival {
		idx = cs.hival
	}
	n := cs.base.components()
	at := idx * n
	if at < 0 || at+n > len(cs.lookup) {
		return color.RGBA{A: 0xff}
	}
	entry := cs.lookup[at : at+n]
	v := func(i int) float64 { return float64(entry[i]) / 255 }
	switch cs.base.model {
	case modelRGB:
		return rgbRGBA(v(0), v(1), v(2))
	case modelCMYK:
		return cmykRGBA(v(0), v(1), v(2), v(3))
	case modelTint:
		return grayRGBA(1 - v(0))
	}
	return grayRGBA(v(0))
}

// sampleReader reads the i-th sample of a row; rows start on byte
// boundaries.
type sampleReader struct {
	data    []byte
	bpc     int
	rowBits int
}

func (r sampleReader) at(row, i int) uint32 {
	rowBytes := (r.rowBits + 7) / 8
	base := row * rowBytes
	switch r.bpc {
	case 8:
		return r.byteAt(base + i)
	case 16:
		return r.word(base + 2*i)
	}
	bit := i * r.bpc
	b := r.byteAt(base + bit/8)
	shift := 8 - r.bpc - bit%8
	return b >> uint(shift) & (1<<uint(r.bpc) - 1)
}

func (r sampleReader) byteAt(i int) uint32 {
	if i < 0 || i >= len(r.data) {
		return 0
	}
	return uint32(r.data[i])
}

func (r sampleReader) word(i int) uint32 {
	return r.byteAt(i)<<8 | r.byteAt(i+1)
}
