package parser

import (
	"encoding/xml"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/pkg/errors"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"
)

const (
	SafeSuffix = ".SAFE"
	LevelL1C   = "L1C"
	LevelL2A   = "L2A"

	granuleDir = "GRANULE"
	imgDir     = "IMG_DATA"
	posList    = "EXT_POS_LIST"
)

var (
	ErrNoMetadata  = errors.New("no metadata xml in scene")
	ErrNoFootprint = errors.New("no footprint in metadata")
	ErrNoGranule   = errors.New("no granule in scene")
	ErrBadPosList  = errors.New("malformed footprint position list")
)

// resSuffix matches the resolution suffix of L2A band files, e.g. "_10m".
var resSuffix = regexp.MustCompile(`_(\d+)m$`)

// Scene is one unpacked Sentinel-2 product directory.
type Scene struct {
	Name  string
	ID    string
	Dir   string
	Level string
}

func NewScene(dir string) Scene {
	name := filepath.Base(dir)
	s := Scene{
		Name: name,
		ID:   strings.TrimSuffix(name, SafeSuffix),
		Dir:  dir,
	}
	switch {
	case strings.Contains(name, "MSIL2A"):
		s.Level = LevelL2A
	case strings.Contains(name, "MSIL1C"):
		s.Level = LevelL1C
	}
	return s
}

// FindScenes lists the .SAFE directories in dataDir, sorted by name.
func FindScenes(dataDir string) ([]Scene, error) {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list data directory: %v", err)
	}
	var scenes []Scene
	for _, e := range entries {
		if e.IsDir() && strings.HasSuffix(e.Name(), SafeSuffix) {
			scenes = append(scenes, NewScene(filepath.Join(dataDir, e.Name())))
		}
	}
	sort.Slice(scenes, func(i, j int) bool { return scenes[i].Name < scenes[j].Name })
	return scenes, nil
}

// MetadataFile returns the product metadata file: the first xml file in the
// scene directory that is not the INSPIRE record.
func (s Scene) MetadataFile() (string, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return "", fmt.Errorf("failed to list scene directory: %v", err)
	}
	for _, e := range entries {
		n := e.Name()
		if !e.IsDir() && strings.HasSuffix(n, ".xml") && !strings.HasPrefix(n, "INSPIRE") {
			return filepath.Join(s.Dir, n), nil
		}
	}
	return "", errors.Wrap(ErrNoMetadata, s.Name)
}

// Footprint reads the scene footprint from its metadata file.
func (s Scene) Footprint() (orb.Ring, error) {
	xmlPath, err := s.MetadataFile()
	if err != nil {
		return nil, err
	}
	return ReadFootprint(xmlPath)
}

func charsetReader(label string, input io.Reader) (io.Reader, error) {
	enc, err := ianaindex.IANA.Encoding(label)
	if err != nil {
		return nil, err
	}
	if enc == nil {
		return nil, fmt.Errorf("unsupported charset %q", label)
	}
	return transform.NewReader(input, enc.NewDecoder()), nil
}

// ReadFootprint returns the first EXT_POS_LIST of a metadata file as a closed
// ring of lon/lat points. The list holds "lat lon" pairs.
func ReadFootprint(xmlPath string) (orb.Ring, error) {
	f, err := os.Open(xmlPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata: %v", err)
	}
	defer f.Close()

	dec := xml.NewDecoder(f)
	dec.CharsetReader = charsetReader
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil, errors.Wrap(ErrNoFootprint, xmlPath)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "parse %s", xmlPath)
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != posList {
			continue
		}
		var text string
		if err := dec.DecodeElement(&text, &se); err != nil {
			return nil, errors.Wrapf(err, "parse %s", xmlPath)
		}
		return ParsePosList(text)
	}
}

// ParsePosList converts whitespace separated "lat lon" pairs to a closed
// lon/lat ring.
func ParsePosList(text string) (orb.Ring, error) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil, ErrNoFootprint
	}
	if len(fields)%2 != 0 {
		return nil, errors.Wrapf(ErrBadPosList, "odd number of values (%d)", len(fields))
	}
	ring := make(orb.Ring, 0, len(fields)/2+1)
	for i := 0; i < len(fields); i += 2 {
		lat, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return nil, errors.Wrapf(ErrBadPosList, "%q", fields[i])
		}
		lon, err := strconv.ParseFloat(fields[i+1], 64)
		if err != nil {
			return nil, errors.Wrapf(ErrBadPosList, "%q", fields[i+1])
		}
		ring = append(ring, orb.Point{lon, lat})
	}
	if !ring.Closed() {
		ring = append(ring, ring[0])
	}
	return ring, nil
}

// ImageDir is IMG_DATA of the first granule.
func (s Scene) ImageDir() (string, error) {
	root := filepath.Join(s.Dir, granuleDir)
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", errors.Wrapf(ErrNoGranule, "%s: %v", s.Name, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			return filepath.Join(root, e.Name(), imgDir), nil
		}
	}
	return "", errors.Wrap(ErrNoGranule, s.Name)
}

// ResolutionDir is the L2A image directory for one resolution in metres.
func (s Scene) ResolutionDir(res int) (string, error) {
	dir, err := s.ImageDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, fmt.Sprintf("R%dm", res)), nil
}

// ResolutionFiles lists the jp2 band files of one L2A resolution, sorted.
func (s Scene) ResolutionFiles(res int) ([]string, error) {
	dir, err := s.ResolutionDir(res)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %v", dir, err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".jp2") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	return files, nil
}

// BandFiles lists every jp2 file below IMG_DATA, sorted by file name. For L2A
// products a band present at several resolutions is kept at the finest one.
func (s Scene) BandFiles() ([]string, error) {
	dir, err := s.ImageDir()
	if err != nil {
		return nil, err
	}
	var files []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".jp2") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list band files: %v", err)
	}
	if s.Level == LevelL2A {
		files = finest(files)
	}
	sort.Slice(files, func(i, j int) bool { return filepath.Base(files[i]) < filepath.Base(files[j]) })
	return files, nil
}

// BandKey strips the extension and any resolution suffix from a band file.
func BandKey(path string) (key string, res int) {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	m := resSuffix.FindStringSubmatch(name)
	if m == nil {
		return name, 0
	}
	res, _ = strconv.Atoi(m[1])
	return strings.TrimSuffix(name, m[0]), res
}

func finest(files []string) []string {
	best := map[string]int{}
	for i, f := range files {
		key, res := BandKey(f)
		j, ok := best[key]
		if !ok {
			best[key] = i
			continue
		}
		if _, r := BandKey(files[j]); res < r {
			best[key] = i
		}
	}
	out := make([]string, 0, len(best))
	for _, i := range best {
		out = append(out, files[i])
	}
	return out
}
