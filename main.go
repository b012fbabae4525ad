package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"

	"hstin/sen2map/internal/config"
	"hstin/sen2map/internal/db"
	"hstin/sen2map/internal/gis"
	"hstin/sen2map/internal/log"
	"hstin/sen2map/internal/pipeline"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var version = "dev"

var (
	v   = viper.New()
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "sen2map",
	Short: "Sentinel-2 RGB quicklook maps",
	Long: `Batch converts Sentinel-2 .SAFE products into 10 m GeoTIFF stacks and
draws RGB maps of them with a boundary, gridlines, a scale bar, a north arrow,
a legend and an inset locator map.

Examples:
  sen2map --data-dir /data/project/L2 --shapefile aoi.shp run
  sen2map --config sen2map.yaml --views map:1,map4:0.25:-27450:-13725 maps
  sen2map --config sen2map.yaml --safe-bands B08_10m,B04_10m,B03_10m quicklook`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if f := v.GetString("config"); f != "" {
			v.SetConfigFile(f)
			if err := v.ReadInConfig(); err != nil {
				return fmt.Errorf("failed to read config: %v", err)
			}
		}
		if err := log.Init(v.GetBool("verbose")); err != nil {
			return fmt.Errorf("failed to init logging: %v", err)
		}
		c, err := config.Load(v)
		if err != nil {
			return err
		}
		if err := c.Validate(); err != nil {
			return err
		}
		cfg = c
		return nil
	},
}

var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Resample SAFE band files to GeoTIFF stacks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGenerator(cmd.Context(), func(ctx context.Context, g *pipeline.Generator) error {
			tifRoot, stacks, err := g.Convert(ctx)
			log.Info("GeoTIFF stacks", zap.String("tifRoot", tifRoot), zap.Int("stacks", len(stacks)))
			return err
		})
	},
}

var mapsCmd = &cobra.Command{
	Use:   "maps",
	Short: "Draw every view of every GeoTIFF stack",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGenerator(cmd.Context(), func(ctx context.Context, g *pipeline.Generator) error {
			created, err := g.Maps(ctx)
			printCreated(created)
			return err
		})
	},
}

var quicklookCmd = &cobra.Command{
	Use:   "quicklook",
	Short: "Draw maps straight from the 10 m bands of L2A products",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGenerator(cmd.Context(), func(ctx context.Context, g *pipeline.Generator) error {
			created, err := g.Quicklook(ctx)
			printCreated(created)
			return err
		})
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Convert new scenes, then draw maps of all stacks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGenerator(cmd.Context(), func(ctx context.Context, g *pipeline.Generator) error {
			// a failed scene must not keep the others from being mapped
			_, _, convErr := g.Convert(ctx)
			if convErr != nil {
				log.Error("Conversion incomplete", zap.Error(convErr))
				if ctx.Err() != nil {
					return convErr
				}
			}
			created, err := g.Maps(ctx)
			printCreated(created)
			if err != nil {
				return err
			}
			return convErr
		})
	},
}

var projectCmd = &cobra.Command{
	Use:   "project <in.shp> <out.shp> <epsg>",
	Short: "Reproject a shapefile to an EPSG code",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		srid, err := strconv.Atoi(args[2])
		if err != nil || srid <= 0 {
			return fmt.Errorf("invalid EPSG code %q", args[2])
		}
		if _, err := os.Stat(args[0]); err != nil {
			return fmt.Errorf("input shapefile not found: %s", args[0])
		}
		gis.Init()
		tb := gis.NewToolbox()
		defer tb.Close()
		return tb.ProjectShapefile(args[0], args[1], srid)
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the maps recorded in the catalog",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if catalogDisabled() {
			return fmt.Errorf("no catalog configured")
		}
		catalog, err := db.Open(cfg.Catalog)
		if err != nil {
			return err
		}
		defer catalog.Close()
		maps, err := db.Maps(catalog)
		if err != nil {
			return err
		}
		for _, m := range maps {
			fmt.Printf("%s\t%s\t%s\t%s\n", m.Scene, m.View, m.Created.Format("2006-01-02 15:04:05"), m.Path)
		}
		return nil
	},
}

var initConfigCmd = &cobra.Command{
	Use:   "init-config <path>",
	Short: "Write a sample configuration file",
	Args:  cobra.ExactArgs(1),
	// no config is needed to write one
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.WriteDefault(args[0]); err != nil {
			return fmt.Errorf("failed to write config: %v", err)
		}
		fmt.Printf("Configuration written to %s\n", args[0])
		return nil
	},
}

// withGenerator sets up GDAL, the catalog and a generator for one command.
func withGenerator(ctx context.Context, fn func(context.Context, *pipeline.Generator) error) error {
	gis.Init()
	tb := gis.NewToolbox()
	defer tb.Close()

	c, err := openCatalog()
	if err != nil {
		return err
	}
	if c != nil {
		defer c.Close()
	}
	g, err := pipeline.New(cfg, tb, c, version)
	if err != nil {
		return err
	}
	return fn(ctx, g)
}

func printCreated(created []string) {
	if !cfg.Verbose {
		return
	}
	fmt.Println("Maps created:")
	for _, f := range created {
		fmt.Printf("  %s\n", f)
	}
}

func bindFlags(fs *pflag.FlagSet) {
	d := config.Default()
	fs.String("config", "", "YAML config file")
	fs.BoolP("verbose", "v", false, "Show debug output")
	fs.String("data-dir", "", "Directory of .SAFE products")
	fs.String("tif-root", "", "GeoTIFF stack root (default <parent of data-dir>/s2tif)")
	fs.String("map-dir", "", "Map output directory (default <parent of data-dir>/maps)")
	fs.String("shapefile", "", "Boundary shapefile drawn on every map")
	fs.String("catalog", "", "sqlite map catalog (default <map-dir>/sen2map.sqlite, \"off\" to disable)")
	fs.String("views", "", "Views as id[:zoom[:xoffset[:yoffset]]],... e.g. map:1,map4:0.25:-27450:-13725")
	fs.String("bands", "", "RGB stack bands as 1-based indices or name parts, e.g. 5,4,3")
	fs.String("safe-bands", "", "RGB SAFE bands for quicklook, e.g. B04_10m,B03_10m,B02_10m")
	fs.Float64("resolution", d.Resolution, "GeoTIFF resolution in metres")
	fs.Float64("fig-width", d.FigWidth, "Figure width in inches")
	fs.Float64("fig-height", d.FigHeight, "Figure height in inches")
	fs.Float64("dpi", d.DPI, "Figure resolution in dots per inch")
	fs.String("format", d.Format, "Map format: jpg, png or webp")
	fs.Int("quality", d.Quality, "jpg/webp quality (1-100)")
	fs.Int("ticks", d.Ticks, "Approximate number of gridlines per axis")
	fs.String("scale-bar", d.ScaleBar, "Scale bar style: main or compact")
	fs.String("copyright", "", "Footer copyright text")
	fs.String("north-arrow", "", "North arrow image (png or jpg)")
	fs.Int("workers", runtime.NumCPU(), "Number of parallel map workers")
	fs.Bool("overwrite", false, "Redraw maps already in the catalog")

	keys := map[string]string{
		"views":      "views_spec",
		"bands":      "bands_spec",
		"safe-bands": "safe_bands_spec",
	}
	fs.VisitAll(func(f *pflag.Flag) {
		key, ok := keys[f.Name]
		if !ok {
			key = flagKey(f.Name)
		}
		if err := v.BindPFlag(key, f); err != nil {
			panic(err)
		}
	})
}

// flagKey maps a flag name to its config key, "data-dir" to "data_dir".
func flagKey(name string) string {
	return strings.ReplaceAll(name, "-", "_")
}

func catalogDisabled() bool {
	return cfg.Catalog == "" || cfg.Catalog == "off"
}

// openCatalog returns nil when the catalog is disabled.
func openCatalog() (*sql.DB, error) {
	if catalogDisabled() {
		return nil, nil
	}
	return db.Open(cfg.Catalog)
}

func init() {
	bindFlags(rootCmd.PersistentFlags())
	v.SetEnvPrefix("SEN2MAP")
	v.AutomaticEnv()
	rootCmd.AddCommand(convertCmd, mapsCmd, quicklookCmd, runCmd, projectCmd, listCmd, initConfigCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	log.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
