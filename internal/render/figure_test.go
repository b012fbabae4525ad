package render

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chai2010/webp"
	"github.com/paulmach/orb"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func testFigure() *Figure {
	tile := orb.Bound{Min: orb.Point{500000, 4390200}, Max: orb.Point{609800, 4500000}}
	return &Figure{
		Width:      400,
		Height:     400,
		DPI:        50,
		Title:      "S2A_MSIL2A_20180101",
		Image:      solid(100, 100, color.RGBA{200, 0, 0, 255}),
		ImageBound: tile,
		Extent:     tile,
		Boundary: []orb.Geometry{orb.Polygon{{
			{505000, 4490000}, {515000, 4490000}, {515000, 4495000}, {505000, 4495000}, {505000, 4490000},
		}}},
		Inset: &Inset{
			Extent:     orb.Bound{Min: orb.Point{-10, 30}, Max: orb.Point{10, 50}},
			Background: color.RGBA{151, 183, 225, 255},
			Box:        BoxRing(orb.Bound{Min: orb.Point{-1, 39}, Max: orb.Point{1, 41}}, 4),
		},
		Legend: []LegendEntry{
			{Label: "river", Color: color.RGBA{0, 0, 255, 255}},
			{Label: "water", Color: color.RGBA{151, 183, 225, 255}, Patch: true},
		},
		Copyright: "(c) test",
		Generated: time.Date(2019, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestDraw(t *testing.T) {
	img, err := Draw(testFigure())
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 400, 400), img.Bounds())

	assert.Equal(t, White, img.RGBAAt(2, 2), "figure background")

	// main frame is x 120..396, y 70..374; the image fills its upper part
	c := img.RGBAAt(258, 208)
	assert.Greater(t, c.R, uint8(150))
	assert.Less(t, c.G, uint8(60))

	// the white strip over the bottom tenth of the map
	assert.Equal(t, White, img.RGBAAt(258, 350))

	// boundary outline in yellow near the top left corner of the tile
	yellow := 0
	for y := 70; y < 90; y++ {
		for x := 120; x < 160; x++ {
			p := img.RGBAAt(x, y)
			if p.R > 200 && p.G > 200 && p.B < 80 {
				yellow++
			}
		}
	}
	assert.Greater(t, yellow, 0)

	// inset ocean background at the centre of the inset axes
	inset := AxesRect(400, 400, InsetAxes)
	mid := img.RGBAAt((inset.Min.X+inset.Max.X)/2+5, (inset.Min.Y+inset.Max.Y)/2+12)
	assert.Equal(t, color.RGBA{151, 183, 225, 255}, mid)
}

func TestDrawDrawnArrowAndCompactBar(t *testing.T) {
	fig := testFigure()
	fig.CompactBar = true
	fig.Inset = nil
	fig.NorthArrow = nil
	img, err := Draw(fig)
	require.NoError(t, err)

	arrow := AxesRect(400, 400, ArrowAxes)
	dark := 0
	for y := arrow.Min.Y; y < arrow.Max.Y; y++ {
		for x := arrow.Min.X; x < arrow.Max.X; x++ {
			if img.RGBAAt(x, y).R < 50 {
				dark++
			}
		}
	}
	assert.Greater(t, dark, 0)
}

func TestDrawNorthArrowImage(t *testing.T) {
	fig := testFigure()
	fig.NorthArrow = solid(10, 20, color.RGBA{0, 128, 0, 255})
	img, err := Draw(fig)
	require.NoError(t, err)
	arrow := AxesRect(400, 400, ArrowAxes)
	assert.Equal(t, color.RGBA{0, 128, 0, 255},
		img.RGBAAt((arrow.Min.X+arrow.Max.X)/2, (arrow.Min.Y+arrow.Max.Y)/2))
}

func TestDrawBadFigure(t *testing.T) {
	fig := testFigure()
	fig.Extent = orb.Bound{}
	_, err := Draw(fig)
	assert.True(t, errors.Is(err, ErrBadExtent))

	_, err = Draw(&Figure{})
	assert.Error(t, err)
}

func TestEncode(t *testing.T) {
	img := solid(12, 8, color.RGBA{10, 20, 30, 255})
	for _, format := range []string{"jpg", "jpeg", "png", "webp"} {
		var buf bytes.Buffer
		require.NoError(t, Encode(&buf, img, format, 90), format)

		var got image.Image
		var err error
		switch format {
		case "png":
			got, err = png.Decode(&buf)
		case "webp":
			got, err = webp.Decode(&buf)
		default:
			got, err = jpeg.Decode(&buf)
		}
		require.NoError(t, err, format)
		assert.Equal(t, img.Bounds(), got.Bounds(), format)
	}

	err := Encode(&bytes.Buffer{}, img, "gif", 90)
	assert.True(t, errors.Is(err, ErrFormat))
	assert.Equal(t, "jpg", Ext("JPEG"))
	assert.Equal(t, "webp", Ext("webp"))
}

func TestWriteImage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scene_map.jpg")
	require.NoError(t, WriteImage(path, solid(4, 4, White), "jpg", 80))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "scene_map.jpg", entries[0].Name())

	err = WriteImage(filepath.Join(dir, "x.gif"), solid(4, 4, White), "gif", 80)
	assert.True(t, errors.Is(err, ErrFormat))
	entries, err = os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "failed writes leave no temp files")

	err = WriteImage(filepath.Join(dir, "missing", "x.jpg"), solid(4, 4, White), "jpg", 80)
	assert.Error(t, err)
}
