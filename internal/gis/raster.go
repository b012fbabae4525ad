package gis

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"hstin/sen2map/internal/log"

	"github.com/airbusgeo/godal"
	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type RasterInfo struct {
	Path         string
	Width        int
	Height       int
	Bands        int
	GeoTransform [6]float64
	WKT          string
	Srid         int
	Bound        orb.Bound
}

// Window is one band read over part of a raster.
type Window struct {
	Data   []uint16
	Width  int
	Height int
	Bound  orb.Bound
}

// World2Pixel returns the fractional column and row of a map coordinate.
func World2Pixel(gt [6]float64, x, y float64) (float64, float64) {
	ydist := gt[5]
	if ydist == 0 {
		ydist = -gt[1]
	}
	return (x - gt[0]) / gt[1], (y - gt[3]) / ydist
}

func rasterBound(gt [6]float64, nx, ny int) orb.Bound {
	return orb.Bound{
		Min: orb.Point{gt[0], gt[3] + float64(ny)*gt[5]},
		Max: orb.Point{gt[0] + float64(nx)*gt[1], gt[3]},
	}
}

func (t *Toolbox) OpenRaster(path string) (info *RasterInfo, err error) {
	ds, err := open(path, godal.RasterOnly())
	if err != nil {
		return
	}
	defer ds.Close()
	return describe(path, ds)
}

func describe(path string, ds *godal.Dataset) (*RasterInfo, error) {
	st := ds.Structure()
	if st.NBands == 0 {
		return nil, errors.Wrap(ErrNoBands, path)
	}
	gt, err := ds.GeoTransform()
	if err != nil || gt[1] == 0 {
		return nil, errors.Wrap(ErrNoGeoref, path)
	}
	info := &RasterInfo{
		Path:         path,
		Width:        st.SizeX,
		Height:       st.SizeY,
		Bands:        st.NBands,
		GeoTransform: gt,
		WKT:          ds.Projection(),
		Bound:        rasterBound(gt, st.SizeX, st.SizeY),
	}
	if sr := ds.SpatialRef(); sr != nil {
		info.Srid, _ = Srid(sr)
		sr.Close()
	}
	return info, nil
}

// Resample writes src as a GeoTIFF whose pixel size is res map units,
// e.g. a 20 m band to 10 m at 200%. The file appears at dst only when
// complete.
func (t *Toolbox) Resample(src, dst string, res float64) error {
	ds, err := open(src, godal.RasterOnly())
	if err != nil {
		return err
	}
	defer ds.Close()
	gt, err := ds.GeoTransform()
	if err != nil || gt[1] == 0 {
		return errors.Wrap(ErrNoGeoref, src)
	}
	pct := fmt.Sprintf("%g%%", math.Abs(gt[1])/res*100)
	tmp := filepath.Join(filepath.Dir(dst), "."+uuid.NewString()+".tif")
	log.Debug(logTag+"translate", zap.String("src", src), zap.String("dst", dst), zap.String("outsize", pct))

	out, err := ds.Translate(tmp, []string{"-outsize", pct, pct, "-of", "GTiff"})
	if err != nil {
		os.Remove(tmp)
		log.Error(logTag+"translate failed", zap.String("src", src), zap.Error(err))
		return errors.Wrapf(ErrTranslate, "%s: %v", src, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(ErrTranslate, "%s: %v", src, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "failed to move tif into place")
	}
	return nil
}

// ReadWindow reads band 1 over the part of want that lies in the raster. The
// buffer is sized so that want would fill bufW x bufH, but never exceeds the
// native resolution. The returned bound is the area actually read.
func (t *Toolbox) ReadWindow(path string, want orb.Bound, bufW, bufH int) (*Window, error) {
	ds, err := open(path, godal.RasterOnly())
	if err != nil {
		return nil, err
	}
	defer ds.Close()
	info, err := describe(path, ds)
	if err != nil {
		return nil, err
	}
	gt := info.GeoTransform
	ww, wh := want.Max[0]-want.Min[0], want.Max[1]-want.Min[1]
	if !(ww > 0) || !(wh > 0) {
		return nil, errors.Wrapf(ErrEmptyWindow, "%s: %v", path, want)
	}

	c0, r0 := World2Pixel(gt, want.Min[0], want.Max[1])
	c1, r1 := World2Pixel(gt, want.Max[0], want.Min[1])
	col0 := clampInt(int(math.Floor(c0)), 0, info.Width)
	row0 := clampInt(int(math.Floor(r0)), 0, info.Height)
	col1 := clampInt(int(math.Ceil(c1)), 0, info.Width)
	row1 := clampInt(int(math.Ceil(r1)), 0, info.Height)
	cols, rows := col1-col0, row1-row0
	if cols <= 0 || rows <= 0 {
		return nil, errors.Wrapf(ErrEmptyWindow, "%s: %v", path, want)
	}

	bw := clampInt(int(math.Round(float64(bufW)*float64(cols)*math.Abs(gt[1])/ww)), 1, cols)
	bh := clampInt(int(math.Round(float64(bufH)*float64(rows)*math.Abs(gt[5])/wh)), 1, rows)

	alg := godal.Average
	if bw == cols && bh == rows {
		alg = godal.Nearest
	}
	buf := make([]uint16, bw*bh)
	band := ds.Bands()[0]
	if err := band.Read(col0, row0, buf, bw, bh, godal.Window(cols, rows), godal.Resampling(alg)); err != nil {
		log.Error(logTag+"read window failed", zap.String("path", path), zap.Error(err))
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return &Window{
		Data:   buf,
		Width:  bw,
		Height: bh,
		Bound: orb.Bound{
			Min: orb.Point{gt[0] + float64(col0)*gt[1], gt[3] + float64(row1)*gt[5]},
			Max: orb.Point{gt[0] + float64(col1)*gt[1], gt[3] + float64(row0)*gt[5]},
		},
	}, nil
}

// ReadOverview reads band 1 decimated so that its longer side is at most
// maxSize pixels, for display statistics.
func (t *Toolbox) ReadOverview(path string, maxSize int) ([]uint16, error) {
	ds, err := open(path, godal.RasterOnly())
	if err != nil {
		return nil, err
	}
	defer ds.Close()
	st := ds.Structure()
	if st.NBands == 0 {
		return nil, errors.Wrap(ErrNoBands, path)
	}
	bw, bh := st.SizeX, st.SizeY
	if long := math.Max(float64(bw), float64(bh)); maxSize > 0 && long > float64(maxSize) {
		f := float64(maxSize) / long
		bw = clampInt(int(float64(bw)*f), 1, st.SizeX)
		bh = clampInt(int(float64(bh)*f), 1, st.SizeY)
	}
	buf := make([]uint16, bw*bh)
	err = ds.Bands()[0].Read(0, 0, buf, bw, bh, godal.Window(st.SizeX, st.SizeY), godal.Resampling(godal.Nearest))
	if err != nil {
		log.Error(logTag+"read overview failed", zap.String("path", path), zap.Error(err))
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return buf, nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
