package pdfraster

import (
	"context"
	"image"
	"image/color"
	"math"

	"github.com/ledongthuc/pdf"
	"golang.org/x/image/vector"
)

const (
	// curveSteps is how many line segments approximate one Bezier curve.
	curveSteps = 16
	// maxFormDepth bounds nested form XObjects, which may reference each other.
	maxFormDepth = 8
	// cancelCheckEvery is how many operators run between context checks.
	cancelCheckEvery = 256
)

// affine is a PDF transformation matrix [a b c d e f]; points transform as
// x' = a*x + c*y + e, y' = b*x + d*y + f.
type affine [6]float64

var identity = affine{1, 0, 0, 1, 0, 0}

// then returns the transform that applies m first and n second, matching
// the operand order of the cm operator (CTM' = M × CTM).
func (m affine) then(n affine) affine {
	return affine{
		m[0]*n[0] + m[1]*n[2],
		m[0]*n[1] + m[1]*n[3],
		m[2]*n[0] + m[3]*n[2],
		m[2]*n[1] + m[3]*n[3],
		m[4]*n[0] + m[5]*n[2] + n[4],
		m[4]*n[1] + m[5]*n[3] + n[5],
	}
}

func (m affine) apply(x, y float64) (float64, float64) {
	return m[0]*x + m[2]*y + m[4], m[1]*x + m[3]*y + m[5]
}

func (m affine) det() float64 { return m[0]*m[3] - m[1]*m[2] }

func affineFrom(args []pdf.Value) (affine, bool) {
	if len(args) != 6 {
		return identity, false
	}
	var m affine
	for i, a := range args {
		m[i] = a.Float64()
	}
	return m, true
}

type point struct{ x, y float64 }

type subpath struct {
	pts    []point
	closed bool
}

type graphicsState struct {
	ctm       affine
	fill      color.RGBA
	stroke    color.RGBA
	lineWidth float64
}

// abortRender unwinds the content interpreter when the context ends.
type abortRender struct{ err error }

// painter interprets page content streams and paints path fills, strokes
// and image XObjects onto dst. Paths are kept in device pixels.
type painter struct {
	ctx        context.Context
	dst        *image.RGBA
	raw        rawSource
	pageHeight float64
	scale      float64

	gs    graphicsState
	saved []graphicsState
	path  []subpath
	ops   int
	depth int
}

func newPainter(ctx context.Context, dst *image.RGBA, raw rawSource, pageHeight, scale float64) *painter {
	return &painter{
		ctx:        ctx,
		dst:        dst,
		raw:        raw,
		pageHeight: pageHeight,
		scale:      scale,
		gs: graphicsState{
			ctm:       identity,
			fill:      color.RGBA{A: 0xff},
			stroke:    color.RGBA{A: 0xff},
			lineWidth: 1,
		},
	}
}

// run interprets one content stream (or array of streams) against resources.
func (p *painter) run(content, resources pdf.Value) {
	if k := content.Kind(); k != pdf.Stream && k != pdf.Array {
		return
	}
	pdf.Interpret(content, func(stk *pdf.Stack, op string) {
		args := make([]pdf.Value, stk.Len())
		for i := len(args) - 1; i >= 0; i-- {
			args[i] = stk.Pop()
		}
		p.ops++
		if p.ops%cancelCheckEvery == 0 {
			if err := p.ctx.Err(); err != nil {
				panic(abortRender{err})
			}
		}
		p.exec(op, args, resources)
	})
}

func (p *painter) exec(op string, args []pdf.Value, resources pdf.Value) {
	switch op {
	case "q":
		p.saved = append(p.saved, p.gs)
	case "Q":
		if n := len(p.saved); n > 0 {
			p.gs = p.saved[n-1]
			p.saved = p.saved[:n-1]
		}
	case "cm":
		if m, ok := affineFrom(args); ok {
			p.gs.ctm = m.then(p.gs.ctm)
		}
	case "w":
		if len(args) == 1 {
			p.gs.lineWidth = args[0].Float64()
		}

	case "g", "rg", "k", "sc", "scn":
		if c, ok := colorFromOperands(args); ok {
			p.gs.fill = c
		}
	case "G", "RG", "K", "SC", "SCN":
		if c, ok := colorFromOperands(args); ok {
			p.gs.stroke = c
		}
	case "cs":
		p.gs.fill = color.RGBA{A: 0xff}
	case "CS":
		p.gs.stroke = color.RGBA{A: 0xff}

	case "m":
		if len(args) == 2 {
			p.moveTo(p.device(args[0].Float64(), args[1].Float64()))
		}
	case "l":
		if len(args) == 2 {
			p.lineTo(p.device(args[0].Float64(), args[1].Float64()))
		}
	case "c":
		if len(args) == 6 {
			p.curveTo(
				p.device(args[0].Float64(), args[1].Float64()),
				p.device(args[2].Float64(), args[3].Float64()),
				p.device(args[4].Float64(), args[5].Float64()),
			)
		}
	case "v":
		if len(args) == 4 {
			end := p.device(args[2].Float64(), args[3].Float64())
			p.curveTo(p.current(), p.device(args[0].Float64(), args[1].Float64()), end)
		}
	case "y":
		if len(args) == 4 {
			end := p.device(args[2].Float64(), args[3].Float64())
			p.curveTo(p.device(args[0].Float64(), args[1].Float64()), end, end)
		}
	case "h":
		p.closePath()
	case "re":
		if len(args) == 4 {
			x, y, w, h := args[0].Float64(), args[1].Float64(), args[2].Float64(), args[3].Float64()
			p.moveTo(p.device(x, y))
			p.lineTo(p.device(x+w, y))
			p.lineTo(p.device(x+w, y+h))
			p.lineTo(p.device(x, y+h))
			p.closePath()
		}

	case "f", "F", "f*":
		p.fillPath(p.gs.fill)
		p.path = nil
	case "S":
		p.strokePath()
		p.path = nil
	case "s":
		p.closePath()
		p.strokePath()
		p.path = nil
	case "B", "B*":
		p.fillPath(p.gs.fill)
		p.strokePath()
		p.path = nil
	case "b", "b*":
		p.closePath()
		p.fillPath(p.gs.fill)
		p.strokePath()
		p.path = nil
	case "n":
		// Clipping paths end with n; clipping itself is not applied.
		p.path = nil

	case "Do":
		if len(args) == 1 {
			p.paintXObject(resources.Key("XObject").Key(args[0].Name()), resources)
		}
	}
}

// device maps user space through the CTM onto canvas pixels, flipping y.
func (p *painter) device(x, y float64) point {
	ux, uy := p.gs.ctm.apply(x, y)
	return point{x: ux * p.scale, y: (p.pageHeight - uy) * p.scale}
}

func (p *painter) current() point {
	if n := len(p.path); n > 0 {
		if pts := p.path[n-1].pts; len(pts) > 0 {
			return pts[len(pts)-1]
		}
	}
	return point{}
}

func (p *painter) moveTo(pt point) {
	p.path = append(p.path, subpath{pts: []point{pt}})
}

func (p *painter) lineTo(pt point) {
	n := len(p.path)
	if n == 0 || p.path[n-1].closed {
		p.moveTo(pt)
		return
	}
	p.path[n-1].pts = append(p.path[n-1].pts, pt)
}

func (p *painter) curveTo(c1, c2, end point) {
	start := p.current()
	for i := 1; i <= curveSteps; i++ {
		t := float64(i) / curveSteps
		u := 1 - t
		p.lineTo(point{
			x: u*u*u*start.x + 3*u*u*t*c1.x + 3*u*t*t*c2.x + t*t*t*end.x,
			y: u*u*u*start.y + 3*u*u*t*c1.y + 3*u*t*t*c2.y + t*t*t*end.y,
		})
	}
}

func (p *painter) closePath() {
	n := len(p.path)
	if n == 0 || p.path[n-1].closed {
		return
	}
	p.path[n-1].closed = true
	// Drawing after h starts a new subpath at the same point.
	first := p.path[n-1].pts[0]
	p.path = append(p.path, subpath{pts: []point{first}})
}

// fillPath rasterizes the current path with the nonzero rule, using a mask
// no larger than the path's bounding box.
func (p *painter) fillPath(c color.RGBA) {
	fillPolygons(p.dst, p.path, c)
}

// strokePath paints each segment as a quad of the current line width. Zero
// width strokes get the thinnest visible line, one pixel.
func (p *painter) strokePath() {
	width := p.gs.lineWidth * p.scale * math.Sqrt(math.Abs(p.gs.ctm.det()))
	half := math.Max(width, 1) / 2
	var quads []subpath
	for _, sp := range p.path {
		pts := sp.pts
		if sp.closed && len(pts) > 1 {
			pts = append(pts[:len(pts):len(pts)], pts[0])
		}
		for i := 1; i < len(pts); i++ {
			if q, ok := segmentQuad(pts[i-1], pts[i], half); ok {
				quads = append(quads, q)
			}
		}
	}
	fillPolygons(p.dst, quads, p.gs.stroke)
}

func segmentQuad(a, b point, half float64) (subpath, bool) {
	dx, dy := b.x-a.x, b.y-a.y
	length := math.Hypot(dx, dy)
	if length == 0 {
		return subpath{}, false
	}
	nx, ny := -dy/length*half, dx/length*half
	return subpath{closed: true, pts: []point{
		{a.x + nx, a.y + ny},
		{b.x + nx, b.y + ny},
		{b.x - nx, b.y - ny},
		{a.x - nx, a.y - ny},
	}}, true
}

func fillPolygons(dst *image.RGBA, polys []subpath, c color.RGBA) {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, sp := range polys {
		if len(sp.pts) < 3 {
			continue
		}
		for _, pt := range sp.pts {
			minX, maxX = math.Min(minX, pt.x), math.Max(maxX, pt.x)
			minY, maxY = math.Min(minY, pt.y), math.Max(maxY, pt.y)
		}
	}
	if math.IsInf(minX, 1) {
		return
	}
	box := image.Rect(
		int(math.Floor(minX)), int(math.Floor(minY)),
		int(math.Ceil(maxX)), int(math.Ceil(maxY)),
	).Intersect(dst.Bounds())
	if box.Empty() {
		return
	}
	ox, oy := float64(box.Min.X), float64(box.Min.Y)
	z := vector.NewRasterizer(box.Dx(), box.Dy())
	for _, sp := range polys {
		if len(sp.pts) < 3 {
			continue
		}
		z.MoveTo(float32(sp.pts[0].x-ox), float32(sp.pts[0].y-oy))
		for _, pt := range sp.pts[1:] {
			z.LineTo(float32(pt.x-ox), float32(pt.y-oy))
		}
		z.ClosePath()
	}
	z.Draw(dst, box, image.NewUniform(c), image.Point{})
}

// paintXObject draws an image or recurses into a form.
func (p *painter) paintXObject(x, resources pdf.Value) {
	if x.Kind() != pdf.Stream {
		return
	}
	switch x.Key("Subtype").Name() {
	case "Image":
		p.paintImage(x)
	case "Form":
		if p.depth >= maxFormDepth {
			return
		}
		saved, depth, path := p.gs, len(p.saved), p.path
		if m, ok := affineFrom(arrayValues(x.Key("Matrix"))); ok {
			p.gs.ctm = m.then(p.gs.ctm)
		}
		formResources := x.Key("Resources")
		if formResources.IsNull() {
			formResources = resources
		}
		p.path = nil
		p.depth++
		p.run(x, formResources)
		p.depth--
		p.gs, p.saved, p.path = saved, p.saved[:depth], path
	}
}

func arrayValues(v pdf.Value) []pdf.Value {
	if v.Kind() != pdf.Array {
		return nil
	}
	out := make([]pdf.Value, v.Len())
	for i := range out {
		out[i] = v.Index(i)
	}
	return out
}

// colorFromOperands reads gray, RGB or CMYK operands. Pattern names and
// other component counts leave the color unchanged.
func colorFromOperands(args []pdf.Value) (color.RGBA, bool) {
	comps := make([]float64, 0, len(args))
	for _, a := range args {
		switch a.Kind() {
		case pdf.Integer, pdf.Real:
			comps = append(comps, clamp01(a.Float64()))
		default:
			return color.RGBA{}, false
		}
	}
	switch len(comps) {
	case 1:
		return grayRGBA(comps[0]), true
	case 3:
		return rgbRGBA(comps[0], comps[1], comps[2]), true
	case 4:
		return cmykRGBA(comps[0], comps[1], comps[2], comps[3]), true
	}
	return color.RGBA{}, false
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func channel(v float64) uint8 { return uint8(math.Round(clamp01(v) * 255)) }

func grayRGBA(g float64) color.RGBA {
	v := channel(g)
	return color.RGBA{R: v, G: v, B: v, A: 0xff}
}

func rgbRGBA(r, g, b float64) color.RGBA {
	return color.RGBA{R: channel(r), G: channel(g), B: channel(b), A: 0xff}
}

func cmykRGBA(c, m, y, k float64) color.RGBA {
	return rgbRGBA((1-c)*(1-k), (1-m)*(1-k), (1-y)*(1-k))
}
