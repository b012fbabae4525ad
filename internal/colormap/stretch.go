package colormap

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// LUT maps a 16 bit reflectance value to a display byte.
type LUT [65536]uint8

// Stretch builds a histogram equalisation table from sample values. The
// histogram has nbins equal bins between the sample minimum and maximum, its
// cumulative distribution is scaled to 0..255 and interpolated over the left
// bin edges, truncated to a byte. With noZero, zero is nodata: it is left out of the histogram and
// maps to 0.
func Stretch(values []uint16, nbins int, noZero bool) *LUT {
	lut := &LUT{}
	if nbins < 1 {
		nbins = 1
	}
	xs := make([]float64, 0, len(values))
	for _, v := range values {
		if noZero && v == 0 {
			continue
		}
		xs = append(xs, float64(v))
	}
	if len(xs) == 0 {
		return lut
	}
	sort.Float64s(xs)
	lo, hi := xs[0], xs[len(xs)-1]
	if lo == hi {
		for v := range lut {
			lut[v] = 255
		}
		if noZero {
			lut[0] = 0
		}
		return lut
	}

	dividers := make([]float64, nbins+1)
	floats.Span(dividers, lo, hi)
	// the last bin is closed like numpy's
	dividers[nbins] = math.Nextafter(hi, math.Inf(1))
	counts := stat.Histogram(nil, dividers, xs, nil)
	cdf := make([]float64, nbins)
	floats.CumSum(cdf, counts)
	floats.Scale(255/cdf[nbins-1], cdf)

	edges := dividers[:nbins]
	i := 0
	for v := range lut {
		x := float64(v)
		var y float64
		switch {
		case x <= edges[0]:
			y = cdf[0]
		case x >= edges[nbins-1]:
			y = cdf[nbins-1]
		default:
			for edges[i+1] <= x {
				i++
			}
			t := (x - edges[i]) / (edges[i+1] - edges[i])
			y = cdf[i] + t*(cdf[i+1]-cdf[i])
		}
		lut[v] = uint8(math.Min(255, y))
	}
	if noZero {
		lut[0] = 0
	}
	return lut
}

// Apply maps values through the table into dst, allocating when dst is short.
func (l *LUT) Apply(dst []uint8, values []uint16) []uint8 {
	if cap(dst) < len(values) {
		dst = make([]uint8, len(values))
	}
	dst = dst[:len(values)]
	for i, v := range values {
		dst[i] = l[v]
	}
	return dst
}
