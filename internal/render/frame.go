package render

import (
	"image"
	"math"

	"github.com/paulmach/orb"
)

// AxesRect converts an axes rectangle [left, bottom, width,
// height] in figure fractions into pixels of a w x h figure.
func AxesRect(w, h int, r [4]float64) image.Rectangle {
	x0 := int(math.Round(r[0] * float64(w)))
	x1 := int(math.Round((r[0] + r[2]) * float64(w)))
	y0 := int(math.Round((1 - r[1] - r[3]) * float64(h)))
	y1 := int(math.Round((1 - r[1]) * float64(h)))
	return image.Rect(x0, y0, x1, y1)
}

// Frame binds a pixel rectangle to a map extent with equal scale on both
// axes. The extent is fitted into the area given to NewFrame and centred.
type Frame struct {
	Rect  image.Rectangle
	Bound orb.Bound
	scale float64 // pixels per map unit
}

func NewFrame(area image.Rectangle, b orb.Bound) Frame {
	bw, bh := b.Max[0]-b.Min[0], b.Max[1]-b.Min[1]
	if !(bw > 0) || !(bh > 0) || area.Empty() {
		return Frame{Rect: area, Bound: b}
	}
	s := math.Min(float64(area.Dx())/bw, float64(area.Dy())/bh)
	w := int(math.Round(bw * s))
	h := int(math.Round(bh * s))
	x0 := area.Min.X + (area.Dx()-w)/2
	y0 := area.Min.Y + (area.Dy()-h)/2
	return Frame{
		Rect:  image.Rect(x0, y0, x0+w, y0+h),
		Bound: b,
		scale: s,
	}
}

// Scale is the number of pixels per map unit.
func (f Frame) Scale() float64 {
	return f.scale
}

func (f Frame) ToPixel(p orb.Point) orb.Point {
	return orb.Point{
		float64(f.Rect.Min.X) + (p[0]-f.Bound.Min[0])*f.scale,
		float64(f.Rect.Min.Y) + (f.Bound.Max[1]-p[1])*f.scale,
	}
}

func (f Frame) ToMap(p orb.Point) orb.Point {
	if f.scale == 0 {
		return f.Bound.Min
	}
	return orb.Point{
		f.Bound.Min[0] + (p[0]-float64(f.Rect.Min.X))/f.scale,
		f.Bound.Max[1] - (p[1]-float64(f.Rect.Min.Y))/f.scale,
	}
}

// PixelRect is the pixel rectangle covering a map bound, not clipped.
func (f Frame) PixelRect(b orb.Bound) image.Rectangle {
	tl := f.ToPixel(orb.Point{b.Min[0], b.Max[1]})
	br := f.ToPixel(orb.Point{b.Max[0], b.Min[1]})
	return image.Rect(
		int(math.Round(tl[0])), int(math.Round(tl[1])),
		int(math.Round(br[0])), int(math.Round(br[1])),
	)
}

// Project converts a geometry to pixel coordinates as line strings and
// polygon rings. Points are ignored.
func (f Frame) Project(g orb.Geometry) (lines [][]orb.Point, rings [][]orb.Point) {
	conv := func(ps []orb.Point) []orb.Point {
		out := make([]orb.Point, len(ps))
		for i, p := range ps {
			out[i] = f.ToPixel(p)
		}
		return out
	}
	switch g := g.(type) {
	case orb.LineString:
		lines = append(lines, conv(g))
	case orb.MultiLineString:
		for _, ls := range g {
			lines = append(lines, conv(ls))
		}
	case orb.Ring:
		rings = append(rings, conv(g))
	case orb.Polygon:
		for _, r := range g {
			rings = append(rings, conv(r))
		}
	case orb.MultiPolygon:
		for _, p := range g {
			for _, r := range p {
				rings = append(rings, conv(r))
			}
		}
	case orb.Bound:
		rings = append(rings, conv(g.ToRing()))
	case orb.Collection:
		for _, c := range g {
			l, r := f.Project(c)
			lines = append(lines, l...)
			rings = append(rings, r...)
		}
	}
	return lines, rings
}
