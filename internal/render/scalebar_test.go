package render

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanScaleBar(t *testing.T) {
	b := orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{120000, 80000}}
	sb, err := PlanScaleBar(b, 4)
	require.NoError(t, err)

	assert.Equal(t, 10.0, sb.Length)
	assert.Equal(t, orb.Point{1200, 3200}, sb.Origin)
	assert.Equal(t, 1000.0, sb.Thickness)

	require.Len(t, sb.Segments, 4)
	assert.Equal(t, orb.Bound{Min: orb.Point{1200, 3200}, Max: orb.Point{11200, 4200}}, sb.Segments[0].Bound)
	for i, s := range sb.Segments {
		assert.Equal(t, i%2 == 1, s.Black, "segment %d", i)
	}

	var texts []string
	for _, l := range sb.Labels {
		texts = append(texts, l.Text)
		assert.Equal(t, 4200.0, l.At[1])
	}
	assert.Equal(t, []string{"0", "10", "20", "30", "40"}, texts)
	assert.Equal(t, 41200.0, sb.Labels[4].At[0])

	require.NotNil(t, sb.Unit)
	assert.Equal(t, "km", sb.Unit.Text)
	assert.Equal(t, orb.Point{21200, 200}, sb.Unit.At)
}

func TestPlanScaleBarSmallMap(t *testing.T) {
	// 2.4 km wide: 0.2 km segments
	b := orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{2400, 2400}}
	sb, err := PlanScaleBar(b, 4)
	require.NoError(t, err)
	assert.Equal(t, 0.2, sb.Length)
	assert.Equal(t, "0.6", sb.Labels[3].Text)
	assert.Equal(t, "0.8", sb.Labels[4].Text)
}

func TestPlanScaleBarFiveKm(t *testing.T) {
	b := orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{60000, 40000}}
	sb, err := PlanScaleBar(b, 4)
	require.NoError(t, err)
	assert.Equal(t, 5.0, sb.Length)
	assert.Equal(t, "20", sb.Labels[4].Text)
	assert.Equal(t, 20600.0, sb.Labels[4].At[0])
}

func TestCompactScaleBar(t *testing.T) {
	b := orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{100000, 50000}}
	sb, err := CompactScaleBar(b, 4, orb.Point{0.1, 0.8})
	require.NoError(t, err)

	assert.Equal(t, 5.0, sb.Length)
	assert.Equal(t, orb.Point{10000, 40000}, sb.Origin)
	assert.Equal(t, 2500.0, sb.Thickness)
	require.Len(t, sb.Segments, 4)
	assert.Equal(t, 30000.0, sb.Segments[3].Bound.Max[0])
	assert.Nil(t, sb.Unit)

	var texts []string
	for _, l := range sb.Labels {
		texts = append(texts, l.Text)
	}
	assert.Equal(t, []string{"0", "5", "10", "15", "20 km"}, texts)
}

func TestScaleBarBadExtent(t *testing.T) {
	empty := orb.Bound{Min: orb.Point{5, 5}, Max: orb.Point{5, 5}}
	_, err := PlanScaleBar(empty, 4)
	assert.True(t, errors.Is(err, ErrBadExtent))
	_, err = CompactScaleBar(empty, 4, orb.Point{})
	assert.True(t, errors.Is(err, ErrBadExtent))
	_, err = PlanScaleBar(orb.Bound{Max: orb.Point{1000, 1000}}, 0)
	assert.True(t, errors.Is(err, ErrBadExtent))
}
