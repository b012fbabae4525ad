package gis

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/airbusgeo/godal"
	"github.com/paulmach/orb"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const utm33 = 32633

var tileGT = [6]float64{500000, 10, 0, 4500000, 0, -10}

// writeTif creates a 100x100 uint16 tile in UTM 33N whose pixel value is
// row*100+col+1.
func writeTif(t *testing.T, path string) {
	t.Helper()
	Init()
	ds, err := godal.Create(godal.GTiff, path, 1, godal.UInt16, 100, 100)
	require.NoError(t, err)
	require.NoError(t, ds.SetGeoTransform(tileGT))
	sr, err := godal.NewSpatialRefFromEPSG(utm33)
	require.NoError(t, err)
	defer sr.Close()
	require.NoError(t, ds.SetSpatialRef(sr))

	data := make([]uint16, 100*100)
	for i := range data {
		data[i] = uint16(i + 1)
	}
	require.NoError(t, ds.Bands()[0].Write(0, 0, data, 100, 100))
	require.NoError(t, ds.Close())
}

const square = `{"type":"FeatureCollection","features":[
{"type":"Feature","properties":{"name":"a"},"geometry":{"type":"Polygon","coordinates":[[[15.0,40.5],[15.1,40.5],[15.1,40.6],[15.0,40.6],[15.0,40.5]]]}}]}`

func writeGeoJSON(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "aoi.geojson")
	require.NoError(t, os.WriteFile(path, []byte(square), 0644))
	return path
}

func TestWorld2Pixel(t *testing.T) {
	c, r := World2Pixel(tileGT, 500250, 4499900)
	assert.Equal(t, 25.0, c)
	assert.Equal(t, 10.0, r)

	// rotated or unset row size falls back to a square pixel
	gt := [6]float64{0, 20, 0, 1000, 0, 0}
	c, r = World2Pixel(gt, 100, 900)
	assert.Equal(t, 5.0, c)
	assert.Equal(t, 5.0, r)
}

func TestOpenRaster(t *testing.T) {
	path := filepath.Join(t.TempDir(), "B04.tif")
	writeTif(t, path)
	tb := NewToolbox()
	defer tb.Close()

	info, err := tb.OpenRaster(path)
	require.NoError(t, err)
	assert.Equal(t, 100, info.Width)
	assert.Equal(t, 100, info.Height)
	assert.Equal(t, 1, info.Bands)
	assert.Equal(t, utm33, info.Srid)
	assert.Equal(t, orb.Bound{Min: orb.Point{500000, 4499000}, Max: orb.Point{501000, 4500000}}, info.Bound)

	_, err = tb.OpenRaster(filepath.Join(t.TempDir(), "missing.tif"))
	assert.True(t, errors.Is(err, ErrOpen))
}

func TestReadWindow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "B04.tif")
	writeTif(t, path)
	tb := NewToolbox()
	defer tb.Close()

	// native resolution: 20x10 pixels starting at col 10, row 5
	want := orb.Bound{Min: orb.Point{500100, 4499850}, Max: orb.Point{500300, 4499950}}
	w, err := tb.ReadWindow(path, want, 20, 10)
	require.NoError(t, err)
	assert.Equal(t, 20, w.Width)
	assert.Equal(t, 10, w.Height)
	assert.Equal(t, want, w.Bound)
	assert.Equal(t, uint16(5*100+10+1), w.Data[0])
	assert.Equal(t, uint16(14*100+29+1), w.Data[len(w.Data)-1])

	// a larger buffer never exceeds the native resolution
	w, err = tb.ReadWindow(path, want, 200, 100)
	require.NoError(t, err)
	assert.Equal(t, 20, w.Width)

	// decimated
	w, err = tb.ReadWindow(path, want, 10, 5)
	require.NoError(t, err)
	assert.Equal(t, 10, w.Width)
	assert.Equal(t, 5, w.Height)
	assert.Len(t, w.Data, 50)

	// clamped to the raster
	half := orb.Bound{Min: orb.Point{499000, 4499000}, Max: orb.Point{500500, 4500500}}
	w, err = tb.ReadWindow(path, half, 150, 150)
	require.NoError(t, err)
	assert.Equal(t, orb.Bound{Min: orb.Point{500000, 4499000}, Max: orb.Point{500500, 4500000}}, w.Bound)
	assert.Equal(t, 50, w.Width)
	assert.Equal(t, 100, w.Height)

	_, err = tb.ReadWindow(path, orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{10, 10}}, 10, 10)
	assert.True(t, errors.Is(err, ErrEmptyWindow))
	_, err = tb.ReadWindow(path, orb.Bound{Min: orb.Point{500100, 4499900}, Max: orb.Point{500100, 4499900}}, 10, 10)
	assert.True(t, errors.Is(err, ErrEmptyWindow))
}

func TestReadOverview(t *testing.T) {
	path := filepath.Join(t.TempDir(), "B04.tif")
	writeTif(t, path)
	tb := NewToolbox()
	defer tb.Close()

	data, err := tb.ReadOverview(path, 50)
	require.NoError(t, err)
	assert.Len(t, data, 50*50)

	data, err = tb.ReadOverview(path, 0)
	require.NoError(t, err)
	assert.Len(t, data, 100*100)
	assert.Equal(t, uint16(1), data[0])
}

func TestResample(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "B05.tif")
	writeTif(t, src)
	tb := NewToolbox()
	defer tb.Close()

	dst := filepath.Join(dir, "B05_5m.tif")
	require.NoError(t, tb.Resample(src, dst, 5))
	info, err := tb.OpenRaster(dst)
	require.NoError(t, err)
	assert.Equal(t, 200, info.Width)
	assert.Equal(t, 200, info.Height)
	assert.Equal(t, 5.0, info.GeoTransform[1])
	assert.Equal(t, utm33, info.Srid)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "no temp files left behind")
}

func TestToLonLat(t *testing.T) {
	tb := NewToolbox()
	defer tb.Close()
	sr, err := godal.NewSpatialRefFromEPSG(utm33)
	require.NoError(t, err)
	defer sr.Close()
	wkt, err := sr.WKT()
	require.NoError(t, err)

	ring, err := tb.ToLonLat(wkt, orb.Ring{{500000, 4500000}})
	require.NoError(t, err)
	require.Len(t, ring, 1)
	assert.InDelta(t, 15.0, ring[0][0], 1e-6)
	assert.InDelta(t, 40.65, ring[0][1], 0.01)

	assert.NoError(t, tb.TransformPoints(wkt, LonLatSrid, nil))
	_, err = tb.ToLonLat("not a wkt", orb.Ring{{0, 0}})
	assert.Error(t, err)
}

func TestSrid(t *testing.T) {
	_, err := Srid(nil)
	assert.True(t, errors.Is(err, ErrVoidSrid))

	sr, err := godal.NewSpatialRefFromEPSG(utm33)
	require.NoError(t, err)
	defer sr.Close()
	code, err := Srid(sr)
	require.NoError(t, err)
	assert.Equal(t, utm33, code)

	ll, err := godal.NewSpatialRefFromEPSG(LonLatSrid)
	require.NoError(t, err)
	defer ll.Close()
	code, err = Srid(ll)
	require.NoError(t, err)
	assert.Equal(t, LonLatSrid, code)
}

func TestShapes(t *testing.T) {
	dir := t.TempDir()
	src := writeGeoJSON(t, dir)
	tb := NewToolbox()
	defer tb.Close()

	srid, err := tb.ShapeSRS(src)
	require.NoError(t, err)
	assert.Equal(t, LonLatSrid, srid)

	geoms, err := tb.ReadShapesLonLat(src)
	require.NoError(t, err)
	require.Len(t, geoms, 1)
	b := geoms[0].Bound()
	assert.InDelta(t, 15.0, b.Min[0], 1e-9)
	assert.InDelta(t, 40.6, b.Max[1], 1e-9)

	sr, err := godal.NewSpatialRefFromEPSG(utm33)
	require.NoError(t, err)
	defer sr.Close()
	wkt, err := sr.WKT()
	require.NoError(t, err)
	geoms, err = tb.ReadShapes(src, wkt)
	require.NoError(t, err)
	require.Len(t, geoms, 1)
	b = geoms[0].Bound()
	assert.InDelta(t, 500000, b.Min[0], 1)
	assert.Greater(t, b.Max[1], 4490000.0)
}

func TestProjectShapefile(t *testing.T) {
	dir := t.TempDir()
	src := writeGeoJSON(t, dir)
	tb := NewToolbox()
	defer tb.Close()

	out := filepath.Join(dir, "aoi_32633.shp")
	require.NoError(t, tb.ProjectShapefile(src, out, utm33))
	for _, ext := range []string{".shp", ".shx", ".dbf", ".prj"} {
		assert.FileExists(t, filepath.Join(dir, "aoi_32633"+ext))
	}

	// run twice: the old output is replaced
	require.NoError(t, tb.ProjectShapefile(src, out, utm33))

	geoms, err := tb.ReadShapesLonLat(out)
	require.NoError(t, err)
	require.Len(t, geoms, 1)
	assert.InDelta(t, 15.05, geoms[0].Bound().Center()[0], 1e-6)

	_, err = tb.ReadShapesLonLat(filepath.Join(dir, "missing.shp"))
	assert.True(t, errors.Is(err, ErrOpen))
}

func TestShapefileWithoutPrj(t *testing.T) {
	dir := t.TempDir()
	src := writeGeoJSON(t, dir)
	tb := NewToolbox()
	defer tb.Close()

	out := filepath.Join(dir, "aoi.shp")
	require.NoError(t, tb.ProjectShapefile(src, out, LonLatSrid))
	require.NoError(t, os.Remove(filepath.Join(dir, "aoi.prj")))

	srid, err := tb.ShapeSRS(out)
	require.NoError(t, err)
	assert.Equal(t, LonLatSrid, srid)

	geoms, err := tb.ReadShapesLonLat(out)
	require.NoError(t, err)
	require.Len(t, geoms, 1)
	assert.InDelta(t, 40.5, geoms[0].Bound().Min[1], 1e-9)
}
