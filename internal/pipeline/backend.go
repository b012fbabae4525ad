package pipeline

import (
	"hstin/sen2map/internal/gis"

	"github.com/paulmach/orb"
)

// Backend is the raster and vector access the pipeline needs. *gis.Toolbox
// implements it.
type Backend interface {
	OpenRaster(path string) (*gis.RasterInfo, error)
	Resample(src, dst string, res float64) error
	ReadWindow(path string, want orb.Bound, bufW, bufH int) (*gis.Window, error)
	ReadOverview(path string, maxSize int) ([]uint16, error)
	ReadShapes(path, dstWKT string) ([]orb.Geometry, error)
	ReadShapesLonLat(path string) ([]orb.Geometry, error)
	ToLonLat(fromWKT string, ring orb.Ring) (orb.Ring, error)
}

var _ Backend = (*gis.Toolbox)(nil)
