package pipeline

import (
	"context"
	"image"
	"image/color"

	"hstin/sen2map/internal/colormap"
	"hstin/sen2map/internal/config"
	"hstin/sen2map/internal/db"
	"hstin/sen2map/internal/gis"
	"hstin/sen2map/internal/render"

	"github.com/paulmach/orb"
	"github.com/pkg/errors"
)

var ErrBandMismatch = errors.New("rgb bands differ in size")

type mapJob struct {
	Scene     string
	Key       string
	Title     string
	View      config.View
	Files     []string
	Footprint orb.Ring
	Out       string
}

func (g *Generator) drawMap(ctx context.Context, job mapJob) (db.MapRecord, error) {
	cfg := g.cfg
	if err := ctx.Err(); err != nil {
		return db.MapRecord{}, err
	}
	if len(job.Files) != 3 {
		return db.MapRecord{}, errors.Errorf("need three rgb files, got %d", len(job.Files))
	}
	info, err := g.gis.OpenRaster(job.Files[0])
	if err != nil {
		return db.MapRecord{}, err
	}
	v := job.View
	extent := render.ViewExtent(info.Bound, v.Zoom, v.XOffset, v.YOffset)

	w, h := cfg.FigurePixels()
	fr := render.NewFrame(render.AxesRect(w, h, render.MainAxes), render.ExtendBelow(extent, 0.1))
	px := fr.PixelRect(extent)
	rgb, bound, err := g.composite(job.Files, extent, px.Dx(), px.Dy())
	if err != nil {
		return db.MapRecord{}, err
	}

	boundary, err := g.readShapes(cfg.Shapefile, info.WKT)
	if err != nil {
		return db.MapRecord{}, err
	}
	layers, err := g.layers(info.WKT, false)
	if err != nil {
		return db.MapRecord{}, err
	}
	inset, err := g.inset(info.WKT, extent, job.Footprint)
	if err != nil {
		return db.MapRecord{}, err
	}

	fig := &render.Figure{
		Width:      w,
		Height:     h,
		DPI:        cfg.DPI,
		Title:      job.Title,
		Image:      rgb,
		ImageBound: bound,
		Extent:     extent,
		Layers:     layers,
		Boundary:   boundary,
		Ticks:      cfg.Ticks,
		Bars:       config.Bars,
		CompactBar: cfg.ScaleBar == config.ScaleBarCompact,
		Inset:      inset,
		Legend:     g.legend(),
		NorthArrow: g.arrow,
		Copyright:  cfg.Copyright,
		Generated:  g.now(),
	}
	img, err := render.Draw(fig)
	if err != nil {
		return db.MapRecord{}, errors.Wrap(err, job.Scene)
	}
	if err := render.WriteImage(job.Out, img, cfg.Format, cfg.Quality); err != nil {
		return db.MapRecord{}, err
	}
	return db.MapRecord{
		Scene:   job.Scene,
		View:    job.Key,
		Path:    job.Out,
		Zoom:    v.Zoom,
		XOffset: v.XOffset,
		YOffset: v.YOffset,
		Width:   w,
		Height:  h,
		Format:  cfg.Format,
		Created: fig.Generated,
	}, nil
}

// composite reads the part of the three bands inside want, stretches them
// and stacks them into an RGB image. Pixels that are zero in every band are
// left transparent.
func (g *Generator) composite(files []string, want orb.Bound, bufW, bufH int) (*image.RGBA, orb.Bound, error) {
	var windows [3]*gis.Window
	var bands [3][]uint8
	for i, f := range files {
		win, err := g.gis.ReadWindow(f, want, bufW, bufH)
		if err != nil {
			return nil, orb.Bound{}, err
		}
		if i > 0 && (win.Width != windows[0].Width || win.Height != windows[0].Height) {
			return nil, orb.Bound{}, errors.Wrapf(ErrBandMismatch, "%dx%d and %dx%d",
				windows[0].Width, windows[0].Height, win.Width, win.Height)
		}
		lut, err := g.lut(f)
		if err != nil {
			return nil, orb.Bound{}, err
		}
		windows[i] = win
		bands[i] = lut.Apply(nil, win.Data)
	}

	ww, wh := windows[0].Width, windows[0].Height
	img := image.NewRGBA(image.Rect(0, 0, ww, wh))
	for p := 0; p < ww*wh; p++ {
		if windows[0].Data[p] == 0 && windows[1].Data[p] == 0 && windows[2].Data[p] == 0 {
			continue
		}
		img.Pix[4*p] = bands[0][p]
		img.Pix[4*p+1] = bands[1][p]
		img.Pix[4*p+2] = bands[2][p]
		img.Pix[4*p+3] = 255
	}
	return img, windows[0].Bound, nil
}

// lut returns the display stretch of a band, computed once per file from a
// decimated read.
func (g *Generator) lut(path string) (*colormap.LUT, error) {
	g.mu.Lock()
	l, ok := g.luts[path]
	g.mu.Unlock()
	if ok {
		return l, nil
	}
	values, err := g.gis.ReadOverview(path, config.OverviewSize)
	if err != nil {
		return nil, err
	}
	l = colormap.Stretch(values, config.StretchBins, true)
	g.mu.Lock()
	g.luts[path] = l
	g.mu.Unlock()
	return l, nil
}

func (g *Generator) cachedShapes(key string, read func() ([]orb.Geometry, error)) ([]orb.Geometry, error) {
	g.mu.Lock()
	geoms, ok := g.shapes[key]
	g.mu.Unlock()
	if ok {
		return geoms, nil
	}
	geoms, err := read()
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	g.shapes[key] = geoms
	g.mu.Unlock()
	return geoms, nil
}

func (g *Generator) readShapes(path, wkt string) ([]orb.Geometry, error) {
	return g.cachedShapes(path+"\x00"+wkt, func() ([]orb.Geometry, error) {
		return g.gis.ReadShapes(path, wkt)
	})
}

func (g *Generator) lonLatShapes(path string) ([]orb.Geometry, error) {
	return g.cachedShapes(path+"\x00lonlat", func() ([]orb.Geometry, error) {
		return g.gis.ReadShapesLonLat(path)
	})
}

// layers returns the configured context layers of the main map, or of the
// inset in longitude and latitude.
func (g *Generator) layers(wkt string, inset bool) ([]render.Layer, error) {
	var out []render.Layer
	for _, l := range g.cfg.Layers {
		if (inset && !l.Inset) || (!inset && !l.Main) {
			continue
		}
		var geoms []orb.Geometry
		var err error
		if inset {
			geoms, err = g.lonLatShapes(l.Path)
		} else {
			geoms, err = g.readShapes(l.Path, wkt)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "layer %s", l.Name)
		}
		line, err := colormap.Parse(l.Color)
		if err != nil {
			return nil, errors.Wrapf(err, "layer %s", l.Name)
		}
		var fill color.RGBA
		if l.Fill != "" {
			if fill, err = colormap.Parse(l.Fill); err != nil {
				return nil, errors.Wrapf(err, "layer %s", l.Name)
			}
		}
		out = append(out, render.Layer{Name: l.Name, Geoms: geoms, Line: line, Fill: fill, Width: l.Width})
	}
	return out, nil
}

// inset locates the map extent on a lon/lat overview five times its size
// on every side. Filled inset layers are drawn over an ocean background.
func (g *Generator) inset(wkt string, extent orb.Bound, footprint orb.Ring) (*render.Inset, error) {
	box, err := g.gis.ToLonLat(wkt, render.BoxRing(render.ExtendBelow(extent, 0.1), 16))
	if err != nil {
		return nil, errors.Wrap(err, "inset box")
	}
	boundary, err := g.lonLatShapes(g.cfg.Shapefile)
	if err != nil {
		return nil, err
	}
	layers, err := g.layers(wkt, true)
	if err != nil {
		return nil, err
	}
	bg := render.White
	for _, l := range layers {
		if l.Fill.A > 0 {
			bg = colormap.MustParse("ocean")
			break
		}
	}
	return &render.Inset{
		Extent:     render.Margin(box.Bound(), config.InsetMargin),
		Background: bg,
		Layers:     layers,
		Boundary:   boundary,
		Footprint:  footprint,
		Box:        box,
	}, nil
}

func (g *Generator) legend() []render.LegendEntry {
	var out []render.LegendEntry
	for _, l := range g.cfg.Layers {
		if !l.Legend {
			continue
		}
		if l.Fill != "" {
			out = append(out, render.LegendEntry{Label: l.Name, Color: colormap.MustParse(l.Fill), Patch: true})
			continue
		}
		out = append(out, render.LegendEntry{Label: l.Name, Color: colormap.MustParse(l.Color)})
	}
	return out
}
