package render

import (
	"math"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/pkg/errors"
)

type ScaleSegment struct {
	Bound orb.Bound
	Black bool
}

type ScaleLabel struct {
	At   orb.Point
	Text string
}

// ScaleBar is a scale bar laid out in map units (metres). Labels are anchored
// at their bottom centre.
type ScaleBar struct {
	Length    float64 // km per segment
	Origin    orb.Point
	Thickness float64
	Segments  []ScaleSegment
	Labels    []ScaleLabel
	Unit      *ScaleLabel
}

// PlanScaleBar lays out the main map scale bar: bars segments adding up to
// about a third of the map width, near the bottom left corner, with the
// distance written above every segment start and the unit below the bar.
func PlanScaleBar(b orb.Bound, bars int) (ScaleBar, error) {
	w, h := b.Max[0]-b.Min[0], b.Max[1]-b.Min[1]
	if bars < 1 || !(w > 0) || !(h > 0) {
		return ScaleBar{}, errors.Wrapf(ErrBadExtent, "scale bar for %v", b)
	}
	length := ScaleNumber(w / 1000 / 3 / float64(bars))
	if length == 0 {
		return ScaleBar{}, errors.Wrapf(ErrBadExtent, "scale bar for %v", b)
	}
	sb := ScaleBar{
		Length:    length,
		Origin:    orb.Point{b.Min[0] + 0.01*w, b.Min[1] + 0.04*h},
		Thickness: h / 80,
	}
	seg := length * 1000
	sb.layout(bars, seg, func(i int) string { return formatKm(float64(i) * length) })
	sb.Labels = append(sb.Labels, ScaleLabel{
		At:   orb.Point{sb.Origin[0] + float64(bars)*seg, sb.Origin[1] + sb.Thickness},
		Text: formatKm(float64(bars) * length),
	})
	sb.Unit = &ScaleLabel{
		At:   orb.Point{sb.Origin[0] + float64(bars)*seg/2, sb.Origin[1] - 3*sb.Thickness},
		Text: "km",
	}
	return sb, nil
}

// CompactScaleBar lays out a stand-alone scale bar whose total length is
// about the map width divided by bars, at loc given as fractions of the
// extent. The unit is appended to the last label.
func CompactScaleBar(b orb.Bound, bars int, loc orb.Point) (ScaleBar, error) {
	w, h := b.Max[0]-b.Min[0], b.Max[1]-b.Min[1]
	if bars < 1 || !(w > 0) || !(h > 0) {
		return ScaleBar{}, errors.Wrapf(ErrBadExtent, "scale bar for %v", b)
	}
	total := ScaleNumber(w / 1000 / float64(bars))
	if total == 0 {
		return ScaleBar{}, errors.Wrapf(ErrBadExtent, "scale bar for %v", b)
	}
	sb := ScaleBar{
		Length:    total / float64(bars),
		Origin:    orb.Point{b.Min[0] + loc[0]*w, b.Min[1] + loc[1]*h},
		Thickness: h / 20,
	}
	round := func(v float64) string {
		if total >= float64(bars) {
			return strconv.FormatFloat(math.RoundToEven(v), 'f', -1, 64)
		}
		return formatKm(v)
	}
	sb.layout(bars, sb.Length*1000, func(i int) string { return round(float64(i) * sb.Length) })
	sb.Labels = append(sb.Labels, ScaleLabel{
		At:   orb.Point{sb.Origin[0] + total*1000, sb.Origin[1] + sb.Thickness},
		Text: round(total) + " km",
	})
	return sb, nil
}

// layout adds alternating white and black segments of seg metres, starting
// with white, and a label at each segment start.
func (sb *ScaleBar) layout(bars int, seg float64, label func(int) string) {
	for i := 0; i < bars; i++ {
		x := sb.Origin[0] + float64(i)*seg
		sb.Segments = append(sb.Segments, ScaleSegment{
			Bound: orb.Bound{
				Min: orb.Point{x, sb.Origin[1]},
				Max: orb.Point{x + seg, sb.Origin[1] + sb.Thickness},
			},
			Black: i%2 == 1,
		})
		sb.Labels = append(sb.Labels, ScaleLabel{
			At:   orb.Point{x, sb.Origin[1] + sb.Thickness},
			Text: label(i),
		})
	}
}

func formatKm(v float64) string {
	return strconv.FormatFloat(math.Round(v*1e6)/1e6, 'f', -1, 64)
}
