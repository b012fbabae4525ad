package render

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/pkg/errors"
)

var ErrBadExtent = errors.New("invalid map extent")

// decade returns floor(log10(x)) for x > 0, exact at powers of ten.
func decade(x float64) int {
	n := int(math.Floor(math.Log10(x)))
	if math.Pow10(n+1) <= x {
		n++
	} else if math.Pow10(n) > x {
		n--
	}
	return n
}

// truncDecade returns log10(x) truncated towards zero.
func truncDecade(x float64) int {
	n := decade(x)
	if n < 0 && math.Pow10(n) != x {
		n++
	}
	return n
}

// GetGridlines picks round gridline positions for a map extent. The step is
// one of 1, 2, 5 or 10 times a power of ten, close to the extent width
// divided by nticks, and is shared by both axes. Tick runs start at the
// extent minimum truncated to the step's decade and end one step past the
// maximum at most. An inverted y range gives no y ticks.
func GetGridlines(x0, x1, y0, y1 float64, nticks int) ([]float64, []float64, error) {
	for _, v := range []float64{x0, x1, y0, y1} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, nil, errors.Wrap(ErrBadExtent, "non-finite coordinate")
		}
	}
	lx := x1 - x0
	if lx <= 0 || nticks <= 0 {
		return nil, nil, errors.Wrapf(ErrBadExtent, "[%g %g %g %g] with %d ticks", x0, x1, y0, y1, nticks)
	}

	step := lx / float64(nticks)
	nd := truncDecade(step)
	dx := math.Trunc(step / math.Pow10(nd))
	best := 1.0
	for _, c := range []float64{1, 2, 5, 10} {
		if math.Abs(dx-c) < math.Abs(dx-best) {
			best = c
		}
	}
	dx = best * math.Pow10(nd)
	unit := math.Pow10(truncDecade(dx))

	return arange(math.Trunc(x0/unit)*unit, x1+dx-1, dx),
		arange(math.Trunc(y0/unit)*unit, y1+dx-1, dx), nil
}

// arange is numpy's arange for a positive step.
func arange(start, stop, step float64) []float64 {
	n := int(math.Ceil((stop - start) / step))
	if n <= 0 {
		return nil
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

// ScaleNumber rounds a length to one significant digit whose leading digit is
// 1, 2 or 5, never rounding up past the one digit rounding. Lengths below one
// keep their fraction.
func ScaleNumber(length float64) float64 {
	if !(length > 0) || math.IsInf(length, 0) {
		return 0
	}
	p := math.Pow10(decade(length))
	d := math.RoundToEven(length / p)
	if d >= 10 {
		d = 1
		p *= 10
	}
	switch {
	case d >= 6:
		d = 5
	case d == 3 || d == 4:
		d = 2
	}
	if p < 1 {
		// avoid 0.30000000000000004 style artefacts
		return d / math.Pow10(-decade(p))
	}
	return d * p
}

// ViewExtent scales an image extent by zoom about its centre moved by the
// offsets. Zoom below one shows a smaller area.
func ViewExtent(b orb.Bound, zoom, xoff, yoff float64) orb.Bound {
	c := b.Center()
	cx, cy := c[0]+xoff, c[1]+yoff
	w := (b.Max[0] - b.Min[0]) * zoom
	h := (b.Max[1] - b.Min[1]) * zoom
	return orb.Bound{
		Min: orb.Point{cx - w/2, cy - h/2},
		Max: orb.Point{cx + w/2, cy + h/2},
	}
}

// ExtendBelow moves the bottom of b down by frac of its height.
func ExtendBelow(b orb.Bound, frac float64) orb.Bound {
	b.Min[1] -= frac * (b.Max[1] - b.Min[1])
	return b
}

// Margin grows b by n times its width and height on every side.
func Margin(b orb.Bound, n float64) orb.Bound {
	w := b.Max[0] - b.Min[0]
	h := b.Max[1] - b.Min[1]
	return orb.Bound{
		Min: orb.Point{b.Min[0] - n*w, b.Min[1] - n*h},
		Max: orb.Point{b.Max[0] + n*w, b.Max[1] + n*h},
	}
}

// BoxRing is the outline of b with n points per edge, so that it stays
// smooth after reprojection.
func BoxRing(b orb.Bound, n int) orb.Ring {
	if n < 1 {
		n = 1
	}
	corners := []orb.Point{
		{b.Min[0], b.Min[1]},
		{b.Max[0], b.Min[1]},
		{b.Max[0], b.Max[1]},
		{b.Min[0], b.Max[1]},
	}
	ring := make(orb.Ring, 0, 4*n+1)
	for i, p := range corners {
		q := corners[(i+1)%4]
		for k := 0; k < n; k++ {
			t := float64(k) / float64(n)
			ring = append(ring, orb.Point{p[0] + t*(q[0]-p[0]), p[1] + t*(q[1]-p[1])})
		}
	}
	return append(ring, ring[0])
}
