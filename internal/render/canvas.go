package render

import (
	"image"
	"image/color"
	"math"
	"sync"

	"github.com/paulmach/orb"
	"github.com/pkg/errors"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/vector"
)

type HAlign int

const (
	Left HAlign = iota
	Center
	Right
)

type VAlign int

const (
	Bottom VAlign = iota
	Middle
	Top
	Baseline
)

type TextStyle struct {
	Size   float64 // points
	Bold   bool
	Color  color.Color
	HAlign HAlign
	VAlign VAlign
	Rotate bool // 90 degrees counter-clockwise
}

var (
	fontsOnce sync.Once
	fontErr   error
	regular   *opentype.Font
	bold      *opentype.Font
)

func loadFonts() error {
	fontsOnce.Do(func() {
		if regular, fontErr = opentype.Parse(goregular.TTF); fontErr != nil {
			return
		}
		bold, fontErr = opentype.Parse(gobold.TTF)
	})
	return errors.Wrap(fontErr, "parse font")
}

type faceKey struct {
	size float64
	bold bool
}

// Canvas draws map elements onto an RGBA image. Sizes given in points are
// converted with the canvas DPI. A Canvas is not safe for concurrent use.
type Canvas struct {
	img   *image.RGBA
	dpi   float64
	faces map[faceKey]font.Face
	z     *vector.Rasterizer
}

func NewCanvas(w, h int, dpi float64) (*Canvas, error) {
	if err := loadFonts(); err != nil {
		return nil, err
	}
	if dpi <= 0 {
		dpi = 72
	}
	return &Canvas{
		img:   image.NewRGBA(image.Rect(0, 0, w, h)),
		dpi:   dpi,
		faces: make(map[faceKey]font.Face),
		z:     vector.NewRasterizer(0, 0),
	}, nil
}

func (c *Canvas) Image() *image.RGBA {
	return c.img
}

func (c *Canvas) Bounds() image.Rectangle {
	return c.img.Rect
}

// Px converts points to pixels.
func (c *Canvas) Px(pt float64) float64 {
	return pt * c.dpi / 72
}

func (c *Canvas) Close() {
	for k, f := range c.faces {
		f.Close()
		delete(c.faces, k)
	}
}

func (c *Canvas) Fill(r image.Rectangle, col color.Color) {
	draw.Draw(c.img, r, image.NewUniform(col), image.Point{}, draw.Over)
}

// StrokeRect draws the outline of r, width pixels wide, inside r.
func (c *Canvas) StrokeRect(r image.Rectangle, col color.Color, width int) {
	if width < 1 {
		width = 1
	}
	src := image.NewUniform(col)
	for _, e := range []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+width),
		image.Rect(r.Min.X, r.Max.Y-width, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y+width, r.Min.X+width, r.Max.Y-width),
		image.Rect(r.Max.X-width, r.Min.Y+width, r.Max.X, r.Max.Y-width),
	} {
		draw.Draw(c.img, e.Intersect(r), src, image.Point{}, draw.Src)
	}
}

// Lines strokes polylines given in pixel coordinates, clipped to clip. dash
// holds alternating on and off lengths in pixels; nil draws solid lines.
func (c *Canvas) Lines(clip image.Rectangle, lines [][]orb.Point, col color.Color, width float64, dash []float64) {
	clip = clip.Intersect(c.img.Rect)
	if clip.Empty() || width <= 0 {
		return
	}
	c.z.Reset(clip.Dx(), clip.Dy())
	ox, oy := float64(clip.Min.X), float64(clip.Min.Y)
	box := [4]float64{ox, oy, float64(clip.Max.X), float64(clip.Max.Y)}
	local := [4]float64{0, 0, float64(clip.Dx()), float64(clip.Dy())}
	hw := width / 2
	ext := hw
	if len(dash) > 0 {
		ext = 0
	}
	n := 0
	for _, line := range lines {
		for _, s := range dashLine(line, dash) {
			a, b, ok := clipSegment(s[0], s[1], box)
			if !ok {
				continue
			}
			dx, dy := b[0]-a[0], b[1]-a[1]
			l := math.Hypot(dx, dy)
			if l == 0 {
				continue
			}
			ux, uy := dx/l, dy/l
			nx, ny := -uy*hw, ux*hw
			ax, ay := a[0]-ox-ux*ext, a[1]-oy-uy*ext
			bx, by := b[0]-ox+ux*ext, b[1]-oy+uy*ext
			quad := []orb.Point{
				{ax + nx, ay + ny},
				{bx + nx, by + ny},
				{bx - nx, by - ny},
				{ax - nx, ay - ny},
			}
			if c.path(clipPolygon(quad, local)) {
				n++
			}
		}
	}
	if n > 0 {
		c.z.Draw(c.img, clip, image.NewUniform(col), image.Point{})
	}
}

// Polygons fills rings given in pixel coordinates with the non-zero rule, so
// holes wound against their outer ring stay empty.
func (c *Canvas) Polygons(clip image.Rectangle, rings [][]orb.Point, col color.Color) {
	clip = clip.Intersect(c.img.Rect)
	if clip.Empty() {
		return
	}
	c.z.Reset(clip.Dx(), clip.Dy())
	local := [4]float64{0, 0, float64(clip.Dx()), float64(clip.Dy())}
	ox, oy := float64(clip.Min.X), float64(clip.Min.Y)
	n := 0
	for _, r := range rings {
		shifted := make([]orb.Point, len(r))
		for i, p := range r {
			shifted[i] = orb.Point{p[0] - ox, p[1] - oy}
		}
		if c.path(clipPolygon(shifted, local)) {
			n++
		}
	}
	if n > 0 {
		c.z.Draw(c.img, clip, image.NewUniform(col), image.Point{})
	}
}

func (c *Canvas) path(ps []orb.Point) bool {
	if len(ps) < 3 {
		return false
	}
	c.z.MoveTo(float32(ps[0][0]), float32(ps[0][1]))
	for _, p := range ps[1:] {
		c.z.LineTo(float32(p[0]), float32(p[1]))
	}
	c.z.ClosePath()
	return true
}

// DrawImage scales src into dst, clipped to clip. Strong magnification uses
// nearest neighbour so that single pixels stay visible.
func (c *Canvas) DrawImage(dst, clip image.Rectangle, src image.Image) {
	clip = clip.Intersect(c.img.Rect)
	sr := src.Bounds()
	if clip.Empty() || dst.Empty() || sr.Empty() {
		return
	}
	sub := c.img.SubImage(clip).(*image.RGBA)
	var scaler draw.Scaler = draw.ApproxBiLinear
	if float64(dst.Dx())/float64(sr.Dx()) > 3 {
		scaler = draw.NearestNeighbor
	}
	scaler.Scale(sub, dst, src, sr, draw.Over, nil)
}

func (c *Canvas) face(size float64, isBold bool) (font.Face, error) {
	k := faceKey{size, isBold}
	if f, ok := c.faces[k]; ok {
		return f, nil
	}
	fnt := regular
	if isBold {
		fnt = bold
	}
	f, err := opentype.NewFace(fnt, &opentype.FaceOptions{
		Size:    size,
		DPI:     c.dpi,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create font face")
	}
	c.faces[k] = f
	return f, nil
}

// TextSize is the unrotated width and height of s in pixels.
func (c *Canvas) TextSize(s string, st TextStyle) (int, int, error) {
	f, err := c.face(st.Size, st.Bold)
	if err != nil {
		return 0, 0, err
	}
	m := f.Metrics()
	return font.MeasureString(f, s).Ceil(), m.Ascent.Ceil() + m.Descent.Ceil(), nil
}

// Text draws s anchored at a pixel position according to the alignment.
func (c *Canvas) Text(s string, at orb.Point, st TextStyle) error {
	if s == "" {
		return nil
	}
	f, err := c.face(st.Size, st.Bold)
	if err != nil {
		return err
	}
	m := f.Metrics()
	w := font.MeasureString(f, s).Ceil()
	asc, desc := m.Ascent.Ceil(), m.Descent.Ceil()
	h := asc + desc
	col := st.Color
	if col == nil {
		col = color.Black
	}

	bw, bh := w, h
	if st.Rotate {
		bw, bh = h, w
	}
	x := int(math.Round(at[0]))
	switch st.HAlign {
	case Center:
		x -= bw / 2
	case Right:
		x -= bw
	}
	y := int(math.Round(at[1]))
	switch st.VAlign {
	case Bottom:
		y -= bh
	case Middle:
		y -= bh / 2
	case Baseline:
		if st.Rotate {
			y -= bh
		} else {
			y -= asc
		}
	}

	if !st.Rotate {
		d := font.Drawer{Dst: c.img, Src: image.NewUniform(col), Face: f, Dot: fixed.P(x, y+asc)}
		d.DrawString(s)
		return nil
	}

	tmp := image.NewRGBA(image.Rect(0, 0, w, h))
	d := font.Drawer{Dst: tmp, Src: image.NewUniform(col), Face: f, Dot: fixed.P(0, asc)}
	d.DrawString(s)
	rot := image.NewRGBA(image.Rect(0, 0, h, w))
	for ty := 0; ty < h; ty++ {
		for tx := 0; tx < w; tx++ {
			i := tmp.PixOffset(tx, ty)
			j := rot.PixOffset(ty, w-1-tx)
			copy(rot.Pix[j:j+4], tmp.Pix[i:i+4])
		}
	}
	draw.Draw(c.img, image.Rect(x, y, x+h, y+w), rot, image.Point{}, draw.Over)
	return nil
}

// dashLine splits a polyline into drawable segments following the dash
// pattern. The pattern phase carries over vertices.
func dashLine(line []orb.Point, dash []float64) [][2]orb.Point {
	var segs [][2]orb.Point
	if len(dash) == 0 {
		for i := 1; i < len(line); i++ {
			segs = append(segs, [2]orb.Point{line[i-1], line[i]})
		}
		return segs
	}
	for _, d := range dash {
		if d <= 0 {
			return dashLine(line, nil)
		}
	}
	k, left := 0, dash[0]
	for i := 1; i < len(line); i++ {
		a, b := line[i-1], line[i]
		l := math.Hypot(b[0]-a[0], b[1]-a[1])
		pos := 0.0
		for pos < l {
			step := math.Min(left, l-pos)
			if k%2 == 0 {
				t0, t1 := pos/l, (pos+step)/l
				segs = append(segs, [2]orb.Point{
					{a[0] + t0*(b[0]-a[0]), a[1] + t0*(b[1]-a[1])},
					{a[0] + t1*(b[0]-a[0]), a[1] + t1*(b[1]-a[1])},
				})
			}
			pos += step
			left -= step
			if left <= 0 {
				k = (k + 1) % len(dash)
				left = dash[k]
			}
		}
	}
	return segs
}

// clipSegment clips a segment to the box [x0, y0, x1, y1] (Liang-Barsky).
func clipSegment(a, b orb.Point, box [4]float64) (orb.Point, orb.Point, bool) {
	dx, dy := b[0]-a[0], b[1]-a[1]
	t0, t1 := 0.0, 1.0
	p := [4]float64{-dx, dx, -dy, dy}
	q := [4]float64{a[0] - box[0], box[2] - a[0], a[1] - box[1], box[3] - a[1]}
	for i := 0; i < 4; i++ {
		if p[i] == 0 {
			if q[i] < 0 {
				return a, b, false
			}
			continue
		}
		r := q[i] / p[i]
		if p[i] < 0 {
			if r > t1 {
				return a, b, false
			}
			if r > t0 {
				t0 = r
			}
		} else {
			if r < t0 {
				return a, b, false
			}
			if r < t1 {
				t1 = r
			}
		}
	}
	return orb.Point{a[0] + t0*dx, a[1] + t0*dy}, orb.Point{a[0] + t1*dx, a[1] + t1*dy}, true
}

// clipPolygon clips a polygon to the box [x0, y0, x1, y1]
// (Sutherland-Hodgman). A closing point equal to the first is not needed.
func clipPolygon(ps []orb.Point, box [4]float64) []orb.Point {
	inside := []func(orb.Point) bool{
		func(p orb.Point) bool { return p[0] >= box[0] },
		func(p orb.Point) bool { return p[0] <= box[2] },
		func(p orb.Point) bool { return p[1] >= box[1] },
		func(p orb.Point) bool { return p[1] <= box[3] },
	}
	cross := []func(a, b orb.Point) orb.Point{
		func(a, b orb.Point) orb.Point { return atX(a, b, box[0]) },
		func(a, b orb.Point) orb.Point { return atX(a, b, box[2]) },
		func(a, b orb.Point) orb.Point { return atY(a, b, box[1]) },
		func(a, b orb.Point) orb.Point { return atY(a, b, box[3]) },
	}
	out := ps
	for e := range inside {
		in := out
		out = nil
		if len(in) == 0 {
			break
		}
		prev := in[len(in)-1]
		for _, cur := range in {
			switch {
			case inside[e](cur):
				if !inside[e](prev) {
					out = append(out, cross[e](prev, cur))
				}
				out = append(out, cur)
			case inside[e](prev):
				out = append(out, cross[e](prev, cur))
			}
			prev = cur
		}
	}
	return out
}

func atX(a, b orb.Point, x float64) orb.Point {
	t := (x - a[0]) / (b[0] - a[0])
	return orb.Point{x, a[1] + t*(b[1]-a[1])}
}

func atY(a, b orb.Point, y float64) orb.Point {
	t := (y - a[1]) / (b[1] - a[1])
	return orb.Point{a[0] + t*(b[0]-a[0]), y}
}
