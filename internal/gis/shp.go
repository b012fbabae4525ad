package gis

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"hstin/sen2map/internal/log"

	"github.com/airbusgeo/godal"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var shapeSidecars = []string{".shp", ".shx", ".dbf", ".prj", ".cpg", ".qix", ".sbn", ".sbx"}

// hasPrj reports whether a shapefile carries a projection file. Other vector
// formats are assumed to define their own srs.
func hasPrj(path string) bool {
	ext := filepath.Ext(path)
	if !strings.EqualFold(ext, ".shp") {
		return true
	}
	base := strings.TrimSuffix(path, ext)
	for _, prj := range []string{".prj", ".PRJ"} {
		if _, err := os.Stat(base + prj); err == nil {
			return true
		}
	}
	return false
}

func firstLayer(path string, ds *godal.Dataset) (godal.Layer, error) {
	layers := ds.Layers()
	if len(layers) == 0 {
		return godal.Layer{}, errors.Wrap(ErrNoLayer, path)
	}
	return layers[0], nil
}

// layerSrid returns the EPSG code of the layer, or LonLatSrid with a warning
// when none can be found. assumed is set when the layer has no srs at all.
func layerSrid(path string, layer godal.Layer) (srid int, assumed bool) {
	if hasPrj(path) {
		if code, err := Srid(layer.SpatialRef()); err == nil {
			return code, false
		}
	} else {
		assumed = true
	}
	log.Warn(logTag+"No EPSG code found in shapefile. Using EPSG 4326 instead...", zap.String("path", path))
	return LonLatSrid, assumed
}

// ShapeSRS returns the EPSG code of the first layer of a vector file.
func (t *Toolbox) ShapeSRS(path string) (int, error) {
	ds, err := open(path, godal.VectorOnly())
	if err != nil {
		return 0, err
	}
	defer ds.Close()
	layer, err := firstLayer(path, ds)
	if err != nil {
		return 0, err
	}
	srid, _ := layerSrid(path, layer)
	return srid, nil
}

// ReadShapes reads every feature geometry of the first layer of a vector
// file, reprojected to the srs given as WKT. Empty geometries and geometries
// that cannot be decoded are skipped.
func (t *Toolbox) ReadShapes(path, dstWKT string) ([]orb.Geometry, error) {
	dst, err := t.wktRef(dstWKT)
	if err != nil {
		return nil, err
	}
	return t.readShapes(path, dst)
}

// ReadShapesLonLat reads the first layer of a vector file in longitude and
// latitude.
func (t *Toolbox) ReadShapesLonLat(path string) ([]orb.Geometry, error) {
	dst, err := t.sridRef(LonLatSrid)
	if err != nil {
		return nil, err
	}
	return t.readShapes(path, dst)
}

func (t *Toolbox) readShapes(path string, dst *godal.SpatialRef) ([]orb.Geometry, error) {
	ds, err := open(path, godal.VectorOnly())
	if err != nil {
		return nil, err
	}
	defer ds.Close()
	layer, err := firstLayer(path, ds)
	if err != nil {
		return nil, err
	}

	var fallback *godal.SpatialRef
	if _, assumed := layerSrid(path, layer); assumed {
		if fallback, err = t.sridRef(LonLatSrid); err != nil {
			return nil, err
		}
	}

	// spatial references are shared between goroutines
	t.rLock.Lock()
	defer t.rLock.Unlock()

	var geoms []orb.Geometry
	skipped := 0
	layer.ResetReading()
	for f := layer.NextFeature(); f != nil; f = layer.NextFeature() {
		g, err := featureGeometry(f, fallback, dst)
		f.Close()
		if err != nil {
			log.Debug(logTag+"skip feature", zap.String("path", path), zap.Error(err))
			skipped++
			continue
		}
		if g != nil {
			geoms = append(geoms, g)
		}
	}
	if skipped > 0 {
		log.Warn(logTag+"features skipped", zap.String("path", path), zap.Int("count", skipped))
	}
	log.Debug(logTag+"read shapes", zap.String("path", path), zap.Int("count", len(geoms)))
	return geoms, nil
}

func featureGeometry(f *godal.Feature, fallback, dst *godal.SpatialRef) (orb.Geometry, error) {
	g := f.Geometry()
	if g == nil || g.Empty() {
		return nil, nil
	}
	if fallback != nil {
		g.SetSpatialRef(fallback)
	}
	if err := g.Reproject(dst); err != nil {
		return nil, errors.Wrap(err, "reproject")
	}
	b, err := g.WKB()
	if err != nil {
		return nil, errors.Wrap(err, "export wkb")
	}
	geom, err := wkb.Unmarshal(b)
	if err != nil {
		return nil, errors.Wrap(err, "decode wkb")
	}
	return geom, nil
}

func removeShapefile(path string) {
	base := strings.TrimSuffix(path, filepath.Ext(path))
	for _, ext := range shapeSidecars {
		os.Remove(base + ext)
	}
}

// ProjectShapefile writes the features of in to the shapefile out,
// reprojected to an EPSG code. An existing out is replaced. The result is
// reopened to check that it holds the reprojected layer.
func (t *Toolbox) ProjectShapefile(in, out string, srid int) error {
	ds, err := open(in, godal.VectorOnly())
	if err != nil {
		return err
	}
	defer ds.Close()
	src, err := firstLayer(in, ds)
	if err != nil {
		return err
	}
	want, err := src.FeatureCount()
	if err != nil {
		return errors.Wrapf(err, "count features of %s", in)
	}

	removeShapefile(out)
	name := fmt.Sprintf("basemap_%d", srid)
	switches := []string{"-t_srs", fmt.Sprintf("EPSG:%d", srid), "-nln", name, "-nlt", "PROMOTE_TO_MULTI"}
	if !hasPrj(in) {
		switches = append(switches, "-s_srs", fmt.Sprintf("EPSG:%d", LonLatSrid))
	}
	log.Info(logTag+"project shapefile", zap.String("in", in), zap.String("out", out), zap.Int("srid", srid))
	dst, err := ds.VectorTranslate(out, switches, godal.Shapefile)
	if err != nil {
		removeShapefile(out)
		log.Error(logTag+"vector translate failed", zap.String("in", in), zap.Error(err))
		return errors.Wrapf(ErrTranslate, "%s: %v", in, err)
	}
	if err := dst.Close(); err != nil {
		return errors.Wrapf(ErrTranslate, "%s: %v", in, err)
	}

	chk, err := open(out, godal.VectorOnly())
	if err != nil {
		return errors.Wrapf(ErrProjectCheck, "failed to create %s", out)
	}
	defer chk.Close()
	layer, err := firstLayer(out, chk)
	if err != nil {
		return errors.Wrapf(ErrProjectCheck, "%s: %v", out, err)
	}
	if got, err := layer.FeatureCount(); err != nil || got != want {
		return errors.Wrapf(ErrProjectCheck, "%s: %d of %d features written", out, got, want)
	}
	if got, err := Srid(layer.SpatialRef()); err == nil && got != srid {
		log.Warn(logTag+"projected shapefile srs differs", zap.String("out", out), zap.Int("want", srid), zap.Int("got", got))
	}
	log.Info(logTag+"Reprojection of shapefile seems to have worked.", zap.String("out", out))
	return nil
}
