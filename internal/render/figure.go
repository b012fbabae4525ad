package render

import (
	"image"
	"image/color"
	"math"
	"strconv"
	"time"

	"github.com/paulmach/orb"
	"github.com/pkg/errors"
)

// Axes rectangles in figure fractions [left, bottom, width, height].
var (
	MainAxes   = [4]float64{0.30, 0.01, 0.69, 0.87}
	InsetAxes  = [4]float64{0.03, 0.10, 0.17, 0.20}
	TitleAxes  = [4]float64{0.20, 0.95, 0.80, 0.04}
	ArrowAxes  = [4]float64{0.03, 0.35, 0.10, 0.10}
	LegendAxes = [4]float64{0.03, 0.49, 0.17, 0.40}
	FooterAt   = orb.Point{0.02, 0.02}
)

const (
	TitleSize  = 11.0
	LabelSize  = 10.0
	FooterSize = 9.0
	LegendSize = 12.0

	TimeLayout = "2006-01-02 15:04:05"
)

var (
	White     = color.RGBA{255, 255, 255, 255}
	Black     = color.RGBA{0, 0, 0, 255}
	Grey      = color.RGBA{128, 128, 128, 255}
	Yellow    = color.RGBA{255, 255, 0, 255}
	LightGrey = color.RGBA{204, 204, 204, 255}
)

// Layer is a styled set of geometries in the coordinates of the frame it is
// drawn on. A zero alpha disables the fill or the outline.
type Layer struct {
	Name  string
	Geoms []orb.Geometry
	Line  color.RGBA
	Fill  color.RGBA
	Width float64 // points
}

type LegendEntry struct {
	Label string
	Color color.RGBA
	Patch bool
}

// Inset is the locator map, drawn in longitude and latitude.
type Inset struct {
	Extent     orb.Bound
	Background color.RGBA
	Layers     []Layer
	Boundary   []orb.Geometry
	Footprint  orb.Ring
	Box        orb.Ring
}

// Figure holds everything drawn on one map. Extent, ImageBound, Layers and
// Boundary are in the image's projected coordinates.
type Figure struct {
	Width, Height int
	DPI           float64

	Title      string
	Image      image.Image
	ImageBound orb.Bound
	Extent     orb.Bound
	Layers     []Layer
	Boundary   []orb.Geometry
	Ticks      int
	Bars       int
	CompactBar bool

	Inset      *Inset
	Legend     []LegendEntry
	NorthArrow image.Image
	Copyright  string
	Generated  time.Time
}

// Draw renders the figure. Layers are painted in order: image, context
// layers, boundary, gridlines, bottom strip, scale bar.
func Draw(fig *Figure) (*image.RGBA, error) {
	if fig.Width <= 0 || fig.Height <= 0 {
		return nil, errors.Errorf("invalid figure size %dx%d", fig.Width, fig.Height)
	}
	c, err := NewCanvas(fig.Width, fig.Height, fig.DPI)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	c.Fill(c.Bounds(), White)

	if err := drawMain(c, fig); err != nil {
		return nil, errors.Wrap(err, "main map")
	}
	if fig.Inset != nil {
		drawInset(c, fig.Inset, fig.Width, fig.Height)
	}

	title := AxesRect(fig.Width, fig.Height, TitleAxes)
	err = c.Text(fig.Title, orb.Point{float64(title.Min.X+title.Max.X) / 2, float64(title.Max.Y)},
		TextStyle{Size: TitleSize, Bold: true, HAlign: Center, VAlign: Baseline})
	if err != nil {
		return nil, err
	}

	if err := drawNorthArrow(c, fig.NorthArrow, AxesRect(fig.Width, fig.Height, ArrowAxes)); err != nil {
		return nil, err
	}
	if err := drawLegend(c, fig.Legend, AxesRect(fig.Width, fig.Height, LegendAxes)); err != nil {
		return nil, err
	}

	generated := fig.Generated
	if generated.IsZero() {
		generated = time.Now()
	}
	footer := "Map generated at " + generated.Format(TimeLayout)
	if fig.Copyright != "" {
		footer = fig.Copyright + " " + footer
	}
	at := orb.Point{FooterAt[0] * float64(fig.Width), (1 - FooterAt[1]) * float64(fig.Height)}
	if err := c.Text(footer, at, TextStyle{Size: FooterSize, VAlign: Baseline}); err != nil {
		return nil, err
	}
	return c.Image(), nil
}

func drawMain(c *Canvas, fig *Figure) error {
	ext := ExtendBelow(fig.Extent, 0.1)
	fr := NewFrame(AxesRect(fig.Width, fig.Height, MainAxes), ext)
	if fr.Scale() == 0 {
		return errors.Wrapf(ErrBadExtent, "%v", fig.Extent)
	}

	if fig.Image != nil {
		c.DrawImage(fr.PixelRect(fig.ImageBound), fr.Rect, fig.Image)
	}
	for _, l := range fig.Layers {
		drawLayer(c, fr, l)
	}
	drawLayer(c, fr, Layer{Geoms: fig.Boundary, Line: Yellow, Width: 2})

	ticks := fig.Ticks
	if ticks <= 0 {
		ticks = 6
	}
	e := fig.Extent
	xt, yt, err := GetGridlines(e.Min[0], e.Max[0], e.Min[1], e.Max[1], ticks)
	if err != nil {
		return err
	}
	drawGrid(c, fr, xt, yt, Grey, c.Px(1), []float64{c.Px(3.7), c.Px(1.6)})

	strip := fr.PixelRect(orb.Bound{
		Min: ext.Min,
		Max: orb.Point{ext.Max[0], ext.Min[1] + 0.1*(ext.Max[1]-ext.Min[1])},
	})
	c.Fill(strip.Intersect(fr.Rect), White)

	bars := fig.Bars
	if bars <= 0 {
		bars = 4
	}
	var sb ScaleBar
	if fig.CompactBar {
		sb, err = CompactScaleBar(ext, bars, orb.Point{0.1, 0.03})
	} else {
		sb, err = PlanScaleBar(ext, bars)
	}
	if err != nil {
		return err
	}
	if err := drawScaleBar(c, fr, sb); err != nil {
		return err
	}
	return drawTickLabels(c, fr, xt, yt)
}

func drawLayer(c *Canvas, fr Frame, l Layer) {
	var lines, rings [][]orb.Point
	for _, g := range l.Geoms {
		ls, rs := fr.Project(g)
		lines = append(lines, ls...)
		rings = append(rings, rs...)
	}
	if l.Fill.A > 0 && len(rings) > 0 {
		c.Polygons(fr.Rect, rings, l.Fill)
	}
	if l.Line.A > 0 && l.Width > 0 {
		c.Lines(fr.Rect, append(lines, rings...), l.Line, c.Px(l.Width), nil)
	}
}

func drawGrid(c *Canvas, fr Frame, xt, yt []float64, col color.Color, width float64, dash []float64) {
	b := fr.Bound
	var lines [][]orb.Point
	for _, x := range xt {
		lines = append(lines, []orb.Point{
			fr.ToPixel(orb.Point{x, b.Max[1]}),
			fr.ToPixel(orb.Point{x, b.Min[1]}),
		})
	}
	for _, y := range yt {
		lines = append(lines, []orb.Point{
			fr.ToPixel(orb.Point{b.Min[0], y}),
			fr.ToPixel(orb.Point{b.Max[0], y}),
		})
	}
	c.Lines(fr.Rect, lines, col, width, dash)
}

// drawTickLabels labels the interior ticks, x on top rotated and y on the
// left, with short outward tick marks.
func drawTickLabels(c *Canvas, fr Frame, xt, yt []float64) error {
	tick := c.Px(3.5)
	pad := c.Px(3.5)
	all := c.Bounds()
	var marks [][]orb.Point
	if len(xt) > 2 {
		for _, x := range xt[1 : len(xt)-1] {
			if x < fr.Bound.Min[0] || x > fr.Bound.Max[0] {
				continue
			}
			p := fr.ToPixel(orb.Point{x, fr.Bound.Max[1]})
			marks = append(marks, []orb.Point{p, {p[0], p[1] - tick}})
			err := c.Text(formatTick(x), orb.Point{p[0], p[1] - tick - pad},
				TextStyle{Size: LabelSize, HAlign: Center, VAlign: Bottom, Rotate: true})
			if err != nil {
				return err
			}
		}
	}
	if len(yt) > 2 {
		for _, y := range yt[1 : len(yt)-1] {
			if y < fr.Bound.Min[1] || y > fr.Bound.Max[1] {
				continue
			}
			p := fr.ToPixel(orb.Point{fr.Bound.Min[0], y})
			marks = append(marks, []orb.Point{p, {p[0] - tick, p[1]}})
			err := c.Text(formatTick(y), orb.Point{p[0] - tick - pad, p[1]},
				TextStyle{Size: LabelSize, HAlign: Right, VAlign: Middle})
			if err != nil {
				return err
			}
		}
	}
	c.Lines(all, marks, Black, math.Max(1, c.Px(0.8)), nil)
	return nil
}

func formatTick(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func drawScaleBar(c *Canvas, fr Frame, sb ScaleBar) error {
	for _, s := range sb.Segments {
		r := fr.PixelRect(s.Bound)
		if s.Black {
			c.Fill(r, Black)
		} else {
			c.Fill(r, White)
		}
		c.StrokeRect(r, Black, 1)
	}
	labels := sb.Labels
	if sb.Unit != nil {
		labels = append(labels, *sb.Unit)
	}
	for _, l := range labels {
		err := c.Text(l.Text, fr.ToPixel(l.At), TextStyle{Size: LabelSize, HAlign: Center, VAlign: Bottom})
		if err != nil {
			return err
		}
	}
	return nil
}

func drawInset(c *Canvas, in *Inset, w, h int) {
	fr := NewFrame(AxesRect(w, h, InsetAxes), in.Extent)
	if fr.Scale() == 0 {
		return
	}
	c.Fill(fr.Rect, in.Background)
	for _, l := range in.Layers {
		drawLayer(c, fr, l)
	}
	e := in.Extent
	if xt, yt, err := GetGridlines(e.Min[0], e.Max[0], e.Min[1], e.Max[1], 4); err == nil {
		drawGrid(c, fr, xt, yt, LightGrey, math.Max(1, c.Px(0.5)), nil)
	}
	drawLayer(c, fr, Layer{Geoms: in.Boundary, Line: Yellow, Width: 1})
	if len(in.Footprint) > 0 {
		drawLayer(c, fr, Layer{Geoms: []orb.Geometry{in.Footprint}, Line: Grey, Width: 0.5})
	}
	if len(in.Box) > 0 {
		drawLayer(c, fr, Layer{Geoms: []orb.Geometry{in.Box}, Line: Black, Width: 1})
	}
	c.StrokeRect(fr.Rect, Black, 1)
}

// drawNorthArrow fits the arrow image into r keeping its aspect, or draws a
// plain arrow with an N when there is no image.
func drawNorthArrow(c *Canvas, arrow image.Image, r image.Rectangle) error {
	if arrow != nil {
		sb := arrow.Bounds()
		fr := NewFrame(r, orb.Bound{Max: orb.Point{float64(sb.Dx()), float64(sb.Dy())}})
		c.DrawImage(fr.Rect, fr.Rect, arrow)
		return nil
	}
	cx := float64(r.Min.X+r.Max.X) / 2
	top := float64(r.Min.Y)
	hgt := float64(r.Dy())
	half := hgt / 6
	c.Polygons(r, [][]orb.Point{{
		{cx, top + hgt*0.35},
		{cx + half, top + hgt},
		{cx, top + hgt*0.8},
		{cx - half, top + hgt},
	}}, Black)
	return c.Text("N", orb.Point{cx, top + hgt*0.3}, TextStyle{Size: 14, Bold: true, HAlign: Center, VAlign: Bottom})
}

func drawLegend(c *Canvas, entries []LegendEntry, r image.Rectangle) error {
	err := c.Text("Legend", orb.Point{float64(r.Min.X), float64(r.Min.Y) - c.Px(3)},
		TextStyle{Size: LegendSize, VAlign: Bottom})
	if err != nil || len(entries) == 0 {
		return err
	}

	em := c.Px(LabelSize)
	row := em * 1.4
	handle := em * 2
	pad := em * 0.5
	width := 0
	for _, e := range entries {
		tw, _, err := c.TextSize(e.Label, TextStyle{Size: LabelSize})
		if err != nil {
			return err
		}
		if tw > width {
			width = tw
		}
	}
	box := image.Rect(r.Min.X, r.Min.Y,
		r.Min.X+int(math.Ceil(2*pad+handle+pad+float64(width))),
		r.Min.Y+int(math.Ceil(2*pad+row*float64(len(entries)))))
	c.Fill(box, White)
	c.StrokeRect(box, LightGrey, 1)

	x := float64(box.Min.X) + pad
	for i, e := range entries {
		y := float64(box.Min.Y) + pad + row*(float64(i)+0.5)
		if e.Patch {
			c.Fill(image.Rect(int(x), int(y-em*0.35), int(x+handle), int(y+em*0.35)), e.Color)
		} else {
			c.Lines(box, [][]orb.Point{{{x, y}, {x + handle, y}}}, e.Color, math.Max(1, c.Px(1.5)), nil)
		}
		err := c.Text(e.Label, orb.Point{x + handle + pad, y}, TextStyle{Size: LabelSize, VAlign: Middle})
		if err != nil {
			return err
		}
	}
	return nil
}
