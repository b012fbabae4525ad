package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"hstin/sen2map/internal/colormap"
	"hstin/sen2map/internal/config"
	"hstin/sen2map/internal/db"
	"hstin/sen2map/internal/log"
	"hstin/sen2map/internal/render"
	"hstin/sen2map/parser"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// QuicklookPrefix marks catalog views of maps drawn straight from SAFE
// products, apart from the views of GeoTIFF stack maps.
const QuicklookPrefix = "quicklook:"

var (
	ErrScenesFailed = errors.New("scene conversion failed")
	ErrMapsFailed   = errors.New("map generation failed")
	ErrNoBandFiles  = errors.New("no band files in scene")
)

// Generator runs the conversion and map jobs of one configuration. The
// catalog is optional.
type Generator struct {
	cfg     *config.Config
	gis     Backend
	catalog *sql.DB
	version string
	arrow   image.Image
	now     func() time.Time

	mu     sync.Mutex
	luts   map[string]*colormap.LUT
	shapes map[string][]orb.Geometry
}

func New(cfg *config.Config, backend Backend, catalog *sql.DB, version string) (*Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	g := &Generator{
		cfg:     cfg,
		gis:     backend,
		catalog: catalog,
		version: version,
		now:     time.Now,
		luts:    map[string]*colormap.LUT{},
		shapes:  map[string][]orb.Geometry{},
	}
	if cfg.NorthArrow != "" {
		img, err := loadImage(cfg.NorthArrow)
		if err != nil {
			return nil, fmt.Errorf("failed to load north arrow: %v", err)
		}
		g.arrow = img
	}
	return g, nil
}

func loadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	return img, err
}

// Convert resamples the bands of every new scene in the data directory to
// GeoTIFF stacks under the tif root. Scenes with an existing stack are
// skipped. It returns the tif root and all stacks found there.
func (g *Generator) Convert(ctx context.Context) (string, []parser.Stack, error) {
	cfg := g.cfg
	if err := cfg.Require("data_dir", "tif_root"); err != nil {
		return "", nil, err
	}
	if err := os.MkdirAll(cfg.TifRoot, 0755); err != nil {
		return "", nil, fmt.Errorf("failed to create tif root: %v", err)
	}
	scenes, err := parser.FindScenes(cfg.DataDir)
	if err != nil {
		return "", nil, err
	}

	var todo []parser.Scene
	for _, s := range scenes {
		if _, err := os.Stat(parser.StackDir(cfg.TifRoot, s.ID)); err == nil {
			log.Info("Skipping existing tif stack", zap.String("scene", s.Name))
			continue
		}
		todo = append(todo, s)
	}
	log.Info("Resampling scenes to GeoTIFF",
		zap.Int("scenes", len(todo)), zap.Int("skipped", len(scenes)-len(todo)),
		zap.Float64("resolution", cfg.Resolution), zap.String("tifRoot", cfg.TifRoot))

	failed := 0
	for i, s := range todo {
		if err := ctx.Err(); err != nil {
			return cfg.TifRoot, nil, err
		}
		log.Info("Reading scene", zap.Int("n", i+1), zap.Int("of", len(todo)), zap.String("scene", s.Name))
		if err := g.convertScene(ctx, s); err != nil {
			failed++
			log.Error("Scene conversion failed", zap.String("scene", s.Name), zap.Error(err))
		}
	}

	stacks, err := parser.FindStacks(cfg.TifRoot)
	if err != nil {
		return cfg.TifRoot, nil, err
	}
	if failed > 0 {
		return cfg.TifRoot, stacks, errors.Wrapf(ErrScenesFailed, "%d of %d scenes", failed, len(todo))
	}
	return cfg.TifRoot, stacks, nil
}

// convertScene writes the stack into a hidden directory and moves it into
// place when every band is done, so that a failed scene is retried next run.
func (g *Generator) convertScene(ctx context.Context, s parser.Scene) error {
	files, err := s.BandFiles()
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return errors.Wrap(ErrNoBandFiles, s.Name)
	}
	ring, err := s.Footprint()
	if err != nil {
		log.Warn("Scene without footprint", zap.String("scene", s.Name), zap.Error(err))
		ring = nil
	}

	dst := parser.StackDir(g.cfg.TifRoot, s.ID)
	tmp := filepath.Join(g.cfg.TifRoot, "."+filepath.Base(dst)+".partial")
	os.RemoveAll(tmp)
	if err := os.MkdirAll(tmp, 0755); err != nil {
		return fmt.Errorf("failed to create stack directory: %v", err)
	}

	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(g.cfg.Workers)
	for _, f := range files {
		eg.Go(func() error {
			if err := ectx.Err(); err != nil {
				return err
			}
			key, _ := parser.BandKey(f)
			out := filepath.Join(tmp, fmt.Sprintf("%s_%gm.tif", key, g.cfg.Resolution))
			log.Debug("Resampling band", zap.String("band", filepath.Base(f)), zap.String("out", filepath.Base(out)))
			return g.gis.Resample(f, out, g.cfg.Resolution)
		})
	}
	if err := eg.Wait(); err != nil {
		os.RemoveAll(tmp)
		return err
	}
	if ring != nil {
		if err := parser.WriteFootprint(tmp, s.ID, ring); err != nil {
			os.RemoveAll(tmp)
			return err
		}
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.RemoveAll(tmp)
		return fmt.Errorf("failed to move stack into place: %v", err)
	}
	log.Info("Scene converted", zap.String("scene", s.Name), zap.Int("bands", len(files)))
	g.recordScene(s, dst, ring)
	return nil
}

func (g *Generator) recordScene(s parser.Scene, dir string, ring orb.Ring) {
	if g.catalog == nil {
		return
	}
	var fp string
	if ring != nil {
		if b, err := geojson.NewGeometry(orb.Polygon{ring}).MarshalJSON(); err == nil {
			fp = string(b)
		}
	}
	err := db.RecordScene(g.catalog, db.SceneRecord{
		ID:        s.ID,
		Name:      s.Name,
		Level:     s.Level,
		Dir:       s.Dir,
		TifDir:    dir,
		Footprint: fp,
		Converted: g.now(),
	})
	if err != nil {
		log.Error("Error recording scene", zap.String("scene", s.Name), zap.Error(err))
	}
}

// Maps draws every configured view of every GeoTIFF stack.
func (g *Generator) Maps(ctx context.Context) ([]string, error) {
	cfg := g.cfg
	if err := cfg.Require("tif_root", "map_dir", "shapefile"); err != nil {
		return nil, err
	}
	stacks, err := parser.FindStacks(cfg.TifRoot)
	if err != nil {
		return nil, err
	}
	log.Info("Processing GeoTIFF stacks to maps", zap.Int("stacks", len(stacks)), zap.Int("views", len(cfg.Views)))

	var jobs []mapJob
	failed := 0
	for _, st := range stacks {
		files, err := st.Files()
		if err == nil {
			files, err = parser.SelectBands(files, cfg.Bands)
		}
		if err != nil {
			failed += len(cfg.Views)
			log.Error("Band selection failed", zap.String("stack", st.Name), zap.Error(err))
			continue
		}
		ring, err := st.Footprint()
		if err != nil {
			log.Warn("Stack footprint unreadable", zap.String("stack", st.Name), zap.Error(err))
		}
		for _, v := range cfg.Views {
			jobs = append(jobs, mapJob{
				Scene:     st.SceneID(),
				Key:       v.ID,
				Title:     st.SceneID(),
				View:      v,
				Files:     files,
				Footprint: ring,
				Out:       g.mapPath(st.Name + "_" + v.ID),
			})
		}
	}
	return g.run(ctx, jobs, failed)
}

// Quicklook draws maps straight from the 10 m bands of L2A scenes.
func (g *Generator) Quicklook(ctx context.Context) ([]string, error) {
	cfg := g.cfg
	if err := cfg.Require("data_dir", "map_dir", "shapefile"); err != nil {
		return nil, err
	}
	scenes, err := parser.FindScenes(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	var jobs []mapJob
	failed := 0
	for _, s := range scenes {
		if s.Level != parser.LevelL2A {
			log.Warn("Skipping scene without 10 m band directory", zap.String("scene", s.Name), zap.String("level", s.Level))
			continue
		}
		files, err := s.ResolutionFiles(10)
		if err == nil {
			files, err = parser.SelectBands(files, cfg.SafeBands)
		}
		if err != nil {
			failed += len(cfg.Views)
			log.Error("Band selection failed", zap.String("scene", s.Name), zap.Error(err))
			continue
		}
		ring, err := s.Footprint()
		if err != nil {
			log.Warn("Scene without footprint", zap.String("scene", s.Name), zap.Error(err))
		}
		for _, v := range cfg.Views {
			name := s.ID
			if len(cfg.Views) > 1 {
				name += "_" + v.ID
			}
			jobs = append(jobs, mapJob{
				Scene:     s.ID,
				Key:       QuicklookPrefix + v.ID,
				Title:     s.ID,
				View:      v,
				Files:     files,
				Footprint: ring,
				Out:       g.mapPath(name),
			})
		}
	}
	return g.run(ctx, jobs, failed)
}

func (g *Generator) mapPath(name string) string {
	return filepath.Join(g.cfg.MapDir, name+"."+render.Ext(g.cfg.Format))
}

// exists reports whether a job's map was made by an earlier run.
func (g *Generator) exists(job mapJob) bool {
	if g.catalog != nil {
		ok, err := db.HasMap(g.catalog, job.Scene, job.Key)
		if err != nil {
			log.Warn("Catalog lookup failed", zap.String("scene", job.Scene), zap.Error(err))
		}
		return ok
	}
	_, err := os.Stat(job.Out)
	return err == nil
}

// run draws the jobs on a bounded pool of workers while a single goroutine
// records finished maps. failed counts jobs that could not be set up.
func (g *Generator) run(ctx context.Context, jobs []mapJob, failed int) ([]string, error) {
	cfg := g.cfg
	if err := os.MkdirAll(cfg.MapDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create map directory: %v", err)
	}
	if !cfg.Overwrite {
		kept := jobs[:0]
		for _, job := range jobs {
			if g.exists(job) {
				log.Info("Skipping existing map", zap.String("map", filepath.Base(job.Out)))
				continue
			}
			kept = append(kept, job)
		}
		jobs = kept
	}

	var stmt *sql.Stmt
	if g.catalog != nil {
		var err error
		if stmt, err = db.PrepareMaps(g.catalog); err != nil {
			return nil, fmt.Errorf("failed to prepare catalog: %v", err)
		}
		defer stmt.Close()
	}

	total := int64(len(jobs))
	var completed, errored int64
	startTime := time.Now()
	log.Info("Generating maps", zap.Int64("maps", total), zap.Int("workers", cfg.Workers))

	done := make(chan struct{})
	go progress(done, &completed, total, startTime)

	resultQueue := make(chan db.MapRecord, cfg.Workers)
	var created []string
	var dbWg sync.WaitGroup
	dbWg.Add(1)
	go func() {
		defer dbWg.Done()
		for rec := range resultQueue {
			created = append(created, rec.Path)
			if stmt == nil {
				continue
			}
			if err := db.RecordMap(stmt, rec); err != nil {
				log.Error("Error recording map", zap.String("map", rec.Path), zap.Error(err))
			}
		}
	}()

	eg := new(errgroup.Group)
	eg.SetLimit(cfg.Workers)
	for _, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		eg.Go(func() error {
			rec, err := g.drawMap(ctx, job)
			atomic.AddInt64(&completed, 1)
			if err != nil {
				atomic.AddInt64(&errored, 1)
				log.Error("Map failed", zap.String("map", filepath.Base(job.Out)), zap.Error(err))
				return nil
			}
			log.Info("Map written", zap.String("map", rec.Path))
			resultQueue <- rec
			return nil
		})
	}
	_ = eg.Wait()
	close(resultQueue)
	dbWg.Wait()
	close(done)

	if g.catalog != nil {
		if err := db.UpdateMetadata(g.catalog, cfg, g.version, startTime); err != nil {
			log.Error("Error updating catalog metadata", zap.Error(err))
		}
	}

	elapsed := time.Since(startTime).Seconds()
	log.Info("Map generation completed", zap.Int("maps", len(created)), zap.String("elapsed", fmt.Sprintf("%.1fs", elapsed)))
	sort.Strings(created)

	if err := ctx.Err(); err != nil {
		return created, err
	}
	if n := failed + int(errored); n > 0 {
		return created, errors.Wrapf(ErrMapsFailed, "%d of %d maps", n, int(total)+failed)
	}
	return created, nil
}

func progress(done <-chan struct{}, completed *int64, total int64, startTime time.Time) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	lastCompleted := int64(0)

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			current := atomic.LoadInt64(completed)
			elapsed := time.Since(startTime).Seconds()
			if current == lastCompleted && current > 0 {
				continue
			}
			percent := 0
			if total > 0 {
				percent = int(float64(current) / float64(total) * 100)
			}
			log.Info("Progress",
				zap.Int64("done", current), zap.Int64("total", total), zap.Int("percent", percent),
				zap.String("elapsed", fmt.Sprintf("%.0fs", elapsed)), zap.String("eta", eta(current, total, elapsed)))
			lastCompleted = current
		}
	}
}

func eta(current, total int64, elapsed float64) string {
	if current <= 0 || elapsed <= 0 {
		return "calculating..."
	}
	remaining := float64(total-current) / (float64(current) / elapsed)
	switch {
	case remaining < 60:
		return fmt.Sprintf("%.0fs", remaining)
	case remaining < 3600:
		return fmt.Sprintf("%.1fm", remaining/60)
	default:
		return fmt.Sprintf("%.1fh", remaining/3600)
	}
}
