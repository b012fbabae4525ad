package parser

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/pkg/errors"
)

const (
	TifSuffix     = "_tif"
	FootprintFile = "footprint.geojson"
)

var (
	ErrBandIndex = errors.New("band index out of range")
	ErrNoBand    = errors.New("no band file matches")
	ErrAmbiguous = errors.New("band selector matches several files")
)

// Stack is a directory of GeoTIFF bands converted from one scene.
type Stack struct {
	Name string
	Dir  string
}

// StackDir is where the GeoTIFF stack of a scene lives.
func StackDir(tifRoot, sceneID string) string {
	return filepath.Join(tifRoot, sceneID+TifSuffix)
}

// FindStacks lists the _tif directories in tifRoot, sorted by name.
func FindStacks(tifRoot string) ([]Stack, error) {
	entries, err := os.ReadDir(tifRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to list tif root: %v", err)
	}
	var stacks []Stack
	for _, e := range entries {
		if e.IsDir() && strings.HasSuffix(e.Name(), TifSuffix) {
			stacks = append(stacks, Stack{Name: e.Name(), Dir: filepath.Join(tifRoot, e.Name())})
		}
	}
	sort.Slice(stacks, func(i, j int) bool { return stacks[i].Name < stacks[j].Name })
	return stacks, nil
}

func (s Stack) SceneID() string {
	return strings.TrimSuffix(s.Name, TifSuffix)
}

// Files lists the GeoTIFF files of the stack, sorted. Hidden files are
// unfinished writes and are skipped.
func (s Stack) Files() ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list stack: %v", err)
	}
	var files []string
	for _, e := range entries {
		n := e.Name()
		if !e.IsDir() && strings.HasSuffix(n, ".tif") && !strings.HasPrefix(n, ".") {
			files = append(files, filepath.Join(s.Dir, n))
		}
	}
	return files, nil
}

// Footprint reads footprint.geojson. A stack without one has a nil ring.
func (s Stack) Footprint() (orb.Ring, error) {
	b, err := os.ReadFile(filepath.Join(s.Dir, FootprintFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read footprint: %v", err)
	}
	f, err := geojson.UnmarshalFeature(b)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s footprint", s.Name)
	}
	if f.Geometry == nil {
		return nil, errors.Wrap(ErrNoFootprint, s.Name)
	}
	switch g := f.Geometry.(type) {
	case orb.Polygon:
		if len(g) > 0 {
			return g[0], nil
		}
	case orb.Ring:
		return g, nil
	}
	return nil, errors.Wrapf(ErrNoFootprint, "%s: %s", s.Name, f.Geometry.GeoJSONType())
}

// WriteFootprint stores the lon/lat footprint of a scene next to its bands.
func WriteFootprint(dir, sceneID string, ring orb.Ring) error {
	f := geojson.NewFeature(orb.Polygon{ring})
	f.Properties["scene"] = sceneID
	b, err := f.MarshalJSON()
	if err != nil {
		return errors.Wrap(err, "encode footprint")
	}
	return os.WriteFile(filepath.Join(dir, FootprintFile), b, 0644)
}

// SelectBands picks the RGB files. Integer selectors are 1-based indices into
// the sorted file list; otherwise each selector must be a substring of
// exactly one file name.
func SelectBands(files, selectors []string) ([]string, error) {
	if idx, ok := indices(selectors); ok {
		out := make([]string, 0, len(idx))
		for _, i := range idx {
			if i < 1 || i > len(files) {
				return nil, errors.Wrapf(ErrBandIndex, "%d of %d files", i, len(files))
			}
			out = append(out, files[i-1])
		}
		return out, nil
	}
	out := make([]string, 0, len(selectors))
	for _, sel := range selectors {
		var match []string
		for _, f := range files {
			if strings.Contains(filepath.Base(f), sel) {
				match = append(match, f)
			}
		}
		switch len(match) {
		case 0:
			return nil, errors.Wrap(ErrNoBand, sel)
		case 1:
			out = append(out, match[0])
		default:
			return nil, errors.Wrapf(ErrAmbiguous, "%s: %d files", sel, len(match))
		}
	}
	return out, nil
}

func indices(selectors []string) ([]int, bool) {
	idx := make([]int, 0, len(selectors))
	for _, s := range selectors {
		i, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return nil, false
		}
		idx = append(idx, i)
	}
	return idx, len(idx) > 0
}
