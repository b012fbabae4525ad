package gis

import (
	"strconv"
	"sync"

	"hstin/sen2map/internal/log"

	"github.com/airbusgeo/godal"
	"github.com/paulmach/orb"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	LonLatSrid = 4326
	logTag     = "gis:"
)

var registerOnce sync.Once

// Init registers the GDAL drivers once.
func Init() {
	registerOnce.Do(godal.RegisterAll)
}

// gdalLogger routes GDAL messages to the logger. Only failures abort the
// calling operation.
func gdalLogger(ec godal.ErrorCategory, code int, msg string) error {
	switch ec {
	case godal.CE_None, godal.CE_Debug:
		log.Debug(logTag+"gdal", zap.Int("code", code), zap.String("msg", msg))
	case godal.CE_Warning:
		log.Warn(logTag+"gdal", zap.Int("code", code), zap.String("msg", msg))
	default:
		return errors.Errorf("gdal error %d: %s", code, msg)
	}
	return nil
}

func open(path string, opts ...godal.OpenOption) (*godal.Dataset, error) {
	ds, err := godal.Open(path, append(opts, godal.ErrLogger(gdalLogger))...)
	if err != nil {
		log.Error(logTag+"open failed", zap.String("path", path), zap.Error(err))
		return nil, errors.Wrapf(ErrOpen, "%s: %v", path, err)
	}
	return ds, nil
}

// Toolbox caches spatial references. It is safe for concurrent use; GDAL
// transformations are created per call.
type Toolbox struct {
	rLock  sync.Mutex
	refMap map[string]*godal.SpatialRef
}

func NewToolbox() *Toolbox {
	Init()
	return &Toolbox{refMap: map[string]*godal.SpatialRef{}}
}

func (t *Toolbox) Close() {
	t.rLock.Lock()
	defer t.rLock.Unlock()
	for k, sr := range t.refMap {
		sr.Close()
		delete(t.refMap, k)
	}
}

// sridRef returns the cached spatial reference for an EPSG code.
func (t *Toolbox) sridRef(srid int) (*godal.SpatialRef, error) {
	key := "EPSG:" + strconv.Itoa(srid)
	t.rLock.Lock()
	defer t.rLock.Unlock()
	if sr, ok := t.refMap[key]; ok {
		return sr, nil
	}
	sr, err := godal.NewSpatialRefFromEPSG(srid)
	if err != nil {
		log.Error(logTag+"create srs failed", zap.Int("srid", srid), zap.Error(err))
		return nil, errors.Wrapf(ErrVoidSrid, "EPSG:%d: %v", srid, err)
	}
	t.refMap[key] = sr
	return sr, nil
}

// wktRef returns the cached spatial reference for a WKT definition.
func (t *Toolbox) wktRef(wkt string) (*godal.SpatialRef, error) {
	t.rLock.Lock()
	defer t.rLock.Unlock()
	if sr, ok := t.refMap[wkt]; ok {
		return sr, nil
	}
	sr, err := godal.NewSpatialRefFromWKT(wkt)
	if err != nil {
		log.Error(logTag+"parse wkt srs failed", zap.Error(err))
		return nil, errors.Wrap(err, "parse srs")
	}
	t.refMap[wkt] = sr
	return sr, nil
}

// Srid finds the EPSG code of a spatial reference from its PROJCS authority,
// then its GEOGCS authority.
func Srid(sr *godal.SpatialRef) (int, error) {
	if sr == nil {
		return 0, ErrVoidSrid
	}
	for _, node := range []string{"PROJCS", "GEOGCS"} {
		if code := sr.AuthorityCode(node); code != "" {
			return strconv.Atoi(code)
		}
	}
	return 0, ErrVoidSrid
}

// TransformPoints converts points from the srs given as WKT to an EPSG code,
// in place.
func (t *Toolbox) TransformPoints(fromWKT string, toSrid int, pts []orb.Point) error {
	if len(pts) == 0 {
		return nil
	}
	src, err := t.wktRef(fromWKT)
	if err != nil {
		return err
	}
	dst, err := t.sridRef(toSrid)
	if err != nil {
		return err
	}
	t.rLock.Lock()
	trn, err := godal.NewTransform(src, dst)
	t.rLock.Unlock()
	if err != nil {
		return errors.Wrap(err, "create transform")
	}
	defer trn.Close()

	xs := make([]float64, len(pts))
	ys := make([]float64, len(pts))
	for i, p := range pts {
		xs[i], ys[i] = p[0], p[1]
	}
	if err := trn.TransformEx(xs, ys, nil, nil); err != nil {
		return errors.Wrap(err, "transform points")
	}
	for i := range pts {
		pts[i] = orb.Point{xs[i], ys[i]}
	}
	return nil
}

// ToLonLat returns a copy of ring in longitude and latitude.
func (t *Toolbox) ToLonLat(fromWKT string, ring orb.Ring) (orb.Ring, error) {
	out := append(orb.Ring(nil), ring...)
	if err := t.TransformPoints(fromWKT, LonLatSrid, out); err != nil {
		return nil, err
	}
	return out, nil
}
