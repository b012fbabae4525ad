package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"hstin/sen2map/internal/colormap"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// View is one map per scene: a zoom factor about the scene centre plus an
// offset of the centre in map units. Zoom < 1 zooms in, > 1 zooms out.
type View struct {
	ID      string  `mapstructure:"id" yaml:"id"`
	Zoom    float64 `mapstructure:"zoom" yaml:"zoom"`
	XOffset float64 `mapstructure:"xoffset" yaml:"xoffset"`
	YOffset float64 `mapstructure:"yoffset" yaml:"yoffset"`
}

// Layer is an extra vector dataset drawn on the main map and/or the inset,
// e.g. Natural Earth rivers, coastlines or land polygons.
type Layer struct {
	Name   string  `mapstructure:"name" yaml:"name"`
	Path   string  `mapstructure:"path" yaml:"path"`
	Color  string  `mapstructure:"color" yaml:"color"`
	Fill   string  `mapstructure:"fill" yaml:"fill,omitempty"`
	Width  float64 `mapstructure:"width" yaml:"width"`
	Main   bool    `mapstructure:"main" yaml:"main"`
	Inset  bool    `mapstructure:"inset" yaml:"inset"`
	Legend bool    `mapstructure:"legend" yaml:"legend"`
}

type Config struct {
	DataDir    string   `mapstructure:"data_dir" yaml:"data_dir"`
	TifRoot    string   `mapstructure:"tif_root" yaml:"tif_root"`
	MapDir     string   `mapstructure:"map_dir" yaml:"map_dir"`
	Shapefile  string   `mapstructure:"shapefile" yaml:"shapefile"`
	Catalog    string   `mapstructure:"catalog" yaml:"catalog"`
	Bands      []string `mapstructure:"bands" yaml:"bands"`
	SafeBands  []string `mapstructure:"safe_bands" yaml:"safe_bands"`
	Views      []View   `mapstructure:"views" yaml:"views"`
	Layers     []Layer  `mapstructure:"layers" yaml:"layers"`
	Copyright  string   `mapstructure:"copyright" yaml:"copyright"`
	NorthArrow string   `mapstructure:"north_arrow" yaml:"north_arrow"`
	Resolution float64  `mapstructure:"resolution" yaml:"resolution"`
	FigWidth   float64  `mapstructure:"fig_width" yaml:"fig_width"`
	FigHeight  float64  `mapstructure:"fig_height" yaml:"fig_height"`
	DPI        float64  `mapstructure:"dpi" yaml:"dpi"`
	Format     string   `mapstructure:"format" yaml:"format"`
	Quality    int      `mapstructure:"quality" yaml:"quality"`
	Ticks      int      `mapstructure:"ticks" yaml:"ticks"`
	ScaleBar   string   `mapstructure:"scale_bar" yaml:"scale_bar"`
	Workers    int      `mapstructure:"workers" yaml:"workers"`
	Overwrite  bool     `mapstructure:"overwrite" yaml:"overwrite"`
	Verbose    bool     `mapstructure:"verbose" yaml:"verbose"`
}

const (
	TifRootName = "s2tif"
	MapDirName  = "maps"
	CatalogName = "sen2map.sqlite"

	ScaleBarMain    = "main"
	ScaleBarCompact = "compact"

	Bars         = 4
	StretchBins  = 256
	OverviewSize = 1024
	InsetMargin  = 5.0
)

var (
	ErrNoViews     = errors.New("no map views configured")
	ErrBadBands    = errors.New("exactly three RGB band selectors are required")
	ErrBadView     = errors.New("invalid view")
	ErrBadFormat   = errors.New("unsupported output format")
	ErrMissingPath = errors.New("required path not set")
)

func Default() *Config {
	return &Config{
		Bands:      []string{"5", "4", "3"},
		SafeBands:  []string{"B04_10m", "B03_10m", "B02_10m"},
		Views:      []View{{ID: "map", Zoom: 1}},
		Resolution: 10,
		FigWidth:   8,
		FigHeight:  8,
		DPI:        100,
		Format:     "jpg",
		Quality:    90,
		Ticks:      6,
		ScaleBar:   ScaleBarMain,
		Workers:    2,
	}
}

// Load builds a Config from defaults, the config file and bound flags.
// Compact flag strings ("views_spec", "bands_spec") override list values.
func Load(v *viper.Viper) (*Config, error) {
	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if s := v.GetString("views_spec"); s != "" {
		views, err := ParseViews(s)
		if err != nil {
			return nil, err
		}
		cfg.Views = views
	}
	if s := v.GetString("bands_spec"); s != "" {
		cfg.Bands = ParseBands(s)
	}
	if s := v.GetString("safe_bands_spec"); s != "" {
		cfg.SafeBands = ParseBands(s)
	}
	cfg.fillPaths()
	return cfg, nil
}

// fillPaths derives directory defaults from DataDir: the GeoTIFF root and the
// map directory are siblings of the data directory.
func (c *Config) fillPaths() {
	if c.DataDir != "" {
		parent := filepath.Dir(filepath.Clean(c.DataDir))
		if c.TifRoot == "" {
			c.TifRoot = filepath.Join(parent, TifRootName)
		}
		if c.MapDir == "" {
			c.MapDir = filepath.Join(parent, MapDirName)
		}
	}
	if c.Catalog == "" && c.MapDir != "" {
		c.Catalog = filepath.Join(c.MapDir, CatalogName)
	}
}

// ParseViews parses "id[:zoom[:xoffset[:yoffset]]]" items separated by commas,
// e.g. "map2:2,map4:0.25:-27450:-13725".
func ParseViews(s string) ([]View, error) {
	var views []View
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		parts := strings.Split(item, ":")
		if len(parts) > 4 || parts[0] == "" {
			return nil, errors.Wrapf(ErrBadView, "%q: use id[:zoom[:xoffset[:yoffset]]]", item)
		}
		v := View{ID: parts[0], Zoom: 1}
		nums := []*float64{&v.Zoom, &v.XOffset, &v.YOffset}
		for i, p := range parts[1:] {
			f, err := strconv.ParseFloat(p, 64)
			if err != nil {
				return nil, errors.Wrapf(ErrBadView, "%q: %v", item, err)
			}
			*nums[i] = f
		}
		views = append(views, v)
	}
	if len(views) == 0 {
		return nil, ErrNoViews
	}
	return views, nil
}

func ParseBands(s string) []string {
	var bands []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			bands = append(bands, b)
		}
	}
	return bands
}

func (c *Config) Validate() error {
	if len(c.Views) == 0 {
		return ErrNoViews
	}
	seen := map[string]bool{}
	for _, v := range c.Views {
		if v.ID == "" || v.Zoom <= 0 {
			return errors.Wrapf(ErrBadView, "%+v", v)
		}
		if seen[v.ID] {
			return errors.Wrapf(ErrBadView, "duplicate id %q", v.ID)
		}
		seen[v.ID] = true
	}
	if len(c.Bands) != 3 || len(c.SafeBands) != 3 {
		return ErrBadBands
	}
	switch strings.ToLower(c.Format) {
	case "jpg", "jpeg", "png", "webp":
	default:
		return errors.Wrap(ErrBadFormat, c.Format)
	}
	if c.Quality < 1 || c.Quality > 100 {
		return fmt.Errorf("quality must be within 1-100, got %d", c.Quality)
	}
	if c.DPI <= 0 || c.FigWidth <= 0 || c.FigHeight <= 0 {
		return fmt.Errorf("figure size must be positive, got %gx%g in at %g dpi", c.FigWidth, c.FigHeight, c.DPI)
	}
	if c.Resolution <= 0 {
		return fmt.Errorf("resolution must be positive, got %g", c.Resolution)
	}
	if c.Ticks < 1 {
		return fmt.Errorf("ticks must be positive, got %d", c.Ticks)
	}
	switch c.ScaleBar {
	case ScaleBarMain, ScaleBarCompact:
	case "":
		c.ScaleBar = ScaleBarMain
	default:
		return fmt.Errorf("scale_bar must be %q or %q, got %q", ScaleBarMain, ScaleBarCompact, c.ScaleBar)
	}
	if c.Workers < 1 {
		c.Workers = 1
	}
	for _, l := range c.Layers {
		if l.Path == "" {
			return errors.Wrapf(ErrMissingPath, "layer %q", l.Name)
		}
		if _, err := colormap.Parse(l.Color); err != nil {
			return errors.Wrapf(err, "layer %q", l.Name)
		}
		if l.Fill != "" {
			if _, err := colormap.Parse(l.Fill); err != nil {
				return errors.Wrapf(err, "layer %q", l.Name)
			}
		}
	}
	return nil
}

// Require reports the first empty path among the named ones.
func (c *Config) Require(names ...string) error {
	paths := map[string]string{
		"data_dir":  c.DataDir,
		"tif_root":  c.TifRoot,
		"map_dir":   c.MapDir,
		"shapefile": c.Shapefile,
	}
	for _, n := range names {
		if paths[n] == "" {
			return errors.Wrap(ErrMissingPath, n)
		}
	}
	return nil
}

// FigurePixels is the output image size.
func (c *Config) FigurePixels() (int, int) {
	return int(c.FigWidth*c.DPI + 0.5), int(c.FigHeight*c.DPI + 0.5)
}

// WriteDefault writes a sample configuration to path.
func WriteDefault(path string) error {
	cfg := Default()
	cfg.DataDir = "/data/project/L2"
	cfg.Shapefile = "/data/aois/aoi.shp"
	cfg.Views = []View{
		{ID: "map", Zoom: 1},
		{ID: "map2", Zoom: 2},
		{ID: "map3", Zoom: 0.25},
	}
	cfg.Layers = []Layer{
		{Name: "land", Path: "/data/ne/ne_110m_land.shp", Color: "grey", Fill: "dimgrey", Width: 0.5, Inset: true},
		{Name: "river", Path: "/data/ne/ne_10m_rivers_lake_centerlines.shp", Color: "blue", Width: 1, Main: true, Legend: true},
		{Name: "border", Path: "/data/ne/ne_10m_admin_1_states_provinces.shp", Color: "red", Width: 1, Main: true, Inset: true, Legend: true},
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0644)
}
