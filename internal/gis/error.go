package gis

import "github.com/pkg/errors"

var (
	ErrOpen         = errors.New("gdal open err")
	ErrNoLayer      = errors.New("gdal dataset without layers")
	ErrNoBands      = errors.New("gdal dataset without bands")
	ErrNoGeoref     = errors.New("gdal dataset without geotransform")
	ErrEmptyWindow  = errors.New("window outside raster")
	ErrVoidSrid     = errors.New("gdal srs with void srid")
	ErrTranslate    = errors.New("gdal translate failed")
	ErrProjectCheck = errors.New("reprojected shapefile check failed")
)
