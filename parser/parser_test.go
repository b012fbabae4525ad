package parser

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const l2a = "S2A_MSIL2A_20180627T100031_N0206_R122_T33TVF_20180627T130107.SAFE"

const metadata = `<?xml version="1.0" encoding="UTF-8"?>
<n1:Level-2A_User_Product xmlns:n1="https://psd-14.sentinel2.eo.esa.int/PSD/User_Product_Level-2A.xsd">
  <n1:Geometric_Info>
    <Product_Footprint>
      <Product_Footprint>
        <Global_Footprint>
          <EXT_POS_LIST>41.5 14.0 41.5 15.3 40.5 15.3 40.5 14.0 41.5 14.0 </EXT_POS_LIST>
        </Global_Footprint>
      </Product_Footprint>
    </Product_Footprint>
  </n1:Geometric_Info>
</n1:Level-2A_User_Product>
`

func touch(t *testing.T, path string, data string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))
}

// fakeL2A lays out a minimal L2A product.
func fakeL2A(t *testing.T, dataDir string) string {
	t.Helper()
	dir := filepath.Join(dataDir, l2a)
	touch(t, filepath.Join(dir, "INSPIRE.xml"), "<x/>")
	touch(t, filepath.Join(dir, "MTD_MSIL2A.xml"), metadata)
	img := filepath.Join(dir, "GRANULE", "L2A_T33TVF_A015719_20180627T100458", "IMG_DATA")
	for _, f := range []string{
		"R10m/T33TVF_20180627T100031_B02_10m.jp2",
		"R10m/T33TVF_20180627T100031_B03_10m.jp2",
		"R10m/T33TVF_20180627T100031_B04_10m.jp2",
		"R10m/T33TVF_20180627T100031_TCI_10m.jp2",
		"R20m/T33TVF_20180627T100031_B02_20m.jp2",
		"R20m/T33TVF_20180627T100031_B05_20m.jp2",
		"R20m/T33TVF_20180627T100031_SCL_20m.jp2",
		"R60m/T33TVF_20180627T100031_B01_60m.jp2",
		"R60m/T33TVF_20180627T100031_B05_60m.jp2",
		"R60m/T33TVF_20180627T100031_SCL_60m.jp2",
	} {
		touch(t, filepath.Join(img, f), "")
	}
	return dir
}

func TestFindScenes(t *testing.T) {
	dataDir := t.TempDir()
	fakeL2A(t, dataDir)
	require.NoError(t, os.MkdirAll(filepath.Join(dataDir, "S2B_MSIL1C_20180101T100000_N0206_R122_T33TVF_20180101T120000.SAFE"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(dataDir, "notes"), 0755))
	touch(t, filepath.Join(dataDir, "x.SAFE.zip"), "")

	scenes, err := FindScenes(dataDir)
	require.NoError(t, err)
	require.Len(t, scenes, 2)
	assert.Equal(t, l2a, scenes[0].Name)
	assert.Equal(t, LevelL2A, scenes[0].Level)
	assert.Equal(t, "S2A_MSIL2A_20180627T100031_N0206_R122_T33TVF_20180627T130107", scenes[0].ID)
	assert.Equal(t, LevelL1C, scenes[1].Level)

	_, err = FindScenes(filepath.Join(dataDir, "missing"))
	assert.Error(t, err)
}

func TestMetadataAndFootprint(t *testing.T) {
	s := NewScene(fakeL2A(t, t.TempDir()))
	xmlPath, err := s.MetadataFile()
	require.NoError(t, err)
	assert.Equal(t, "MTD_MSIL2A.xml", filepath.Base(xmlPath))

	ring, err := s.Footprint()
	require.NoError(t, err)
	require.Len(t, ring, 5)
	assert.Equal(t, orb.Point{14.0, 41.5}, ring[0])
	assert.Equal(t, orb.Point{15.3, 40.5}, ring[2])
	assert.True(t, ring.Closed())

	empty := NewScene(t.TempDir())
	_, err = empty.MetadataFile()
	assert.True(t, errors.Is(err, ErrNoMetadata))
}

func TestReadFootprintCharset(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "MTD.xml")
	touch(t, path, `<?xml version="1.0" encoding="ISO-8859-1"?>
<root><name>caf`+"\xe9"+`</name><EXT_POS_LIST>1 2 3 4 5 6</EXT_POS_LIST></root>`)
	ring, err := ReadFootprint(path)
	require.NoError(t, err)
	assert.Equal(t, orb.Ring{{2, 1}, {4, 3}, {6, 5}, {2, 1}}, ring)

	touch(t, path, `<root><other/></root>`)
	_, err = ReadFootprint(path)
	assert.True(t, errors.Is(err, ErrNoFootprint))
}

func TestParsePosList(t *testing.T) {
	_, err := ParsePosList("1 2 3")
	assert.True(t, errors.Is(err, ErrBadPosList))
	_, err = ParsePosList("1 x")
	assert.True(t, errors.Is(err, ErrBadPosList))
	_, err = ParsePosList(" \n ")
	assert.True(t, errors.Is(err, ErrNoFootprint))
}

func TestBandFiles(t *testing.T) {
	s := NewScene(fakeL2A(t, t.TempDir()))
	files, err := s.BandFiles()
	require.NoError(t, err)

	var names []string
	for _, f := range files {
		names = append(names, filepath.Base(f))
	}
	assert.Equal(t, []string{
		"T33TVF_20180627T100031_B01_60m.jp2",
		"T33TVF_20180627T100031_B02_10m.jp2",
		"T33TVF_20180627T100031_B03_10m.jp2",
		"T33TVF_20180627T100031_B04_10m.jp2",
		"T33TVF_20180627T100031_B05_20m.jp2",
		"T33TVF_20180627T100031_SCL_20m.jp2",
		"T33TVF_20180627T100031_TCI_10m.jp2",
	}, names)

	r10, err := s.ResolutionFiles(10)
	require.NoError(t, err)
	assert.Len(t, r10, 4)

	_, err = NewScene(t.TempDir()).ImageDir()
	assert.True(t, errors.Is(err, ErrNoGranule))
}

func TestBandKey(t *testing.T) {
	key, res := BandKey("/x/T33TVF_20180627T100031_B8A_20m.jp2")
	assert.Equal(t, "T33TVF_20180627T100031_B8A", key)
	assert.Equal(t, 20, res)

	key, res = BandKey("T33TVF_20180627T100031_B04.jp2")
	assert.Equal(t, "T33TVF_20180627T100031_B04", key)
	assert.Equal(t, 0, res)
}

func TestStacks(t *testing.T) {
	root := t.TempDir()
	dir := StackDir(root, "S2A_MSIL2A_20180627")
	for _, f := range []string{"B03_10m.tif", "B02_10m.tif", "B04_10m.tif", ".tmp.tif", "footprint.geojson"} {
		touch(t, filepath.Join(dir, f), "")
	}
	require.NoError(t, os.MkdirAll(filepath.Join(root, "other"), 0755))

	stacks, err := FindStacks(root)
	require.NoError(t, err)
	require.Len(t, stacks, 1)
	assert.Equal(t, "S2A_MSIL2A_20180627", stacks[0].SceneID())

	files, err := stacks[0].Files()
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, "B02_10m.tif", filepath.Base(files[0]))
}

func TestFootprintRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := Stack{Name: "x_tif", Dir: dir}
	ring, err := s.Footprint()
	require.NoError(t, err)
	assert.Nil(t, ring)

	want := orb.Ring{{14, 41.5}, {15.3, 41.5}, {15.3, 40.5}, {14, 41.5}}
	require.NoError(t, WriteFootprint(dir, "x", want))
	ring, err = s.Footprint()
	require.NoError(t, err)
	assert.Equal(t, want, ring)
}

func TestSelectBands(t *testing.T) {
	files := []string{"/s/B02_10m.tif", "/s/B03_10m.tif", "/s/B04_10m.tif", "/s/B05_10m.tif", "/s/B8A_10m.tif"}

	got, err := SelectBands(files, []string{"4", "3", "2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"/s/B05_10m.tif", "/s/B04_10m.tif", "/s/B03_10m.tif"}, got)

	got, err = SelectBands(files, []string{"B04", "B03", "B02"})
	require.NoError(t, err)
	assert.Equal(t, []string{"/s/B04_10m.tif", "/s/B03_10m.tif", "/s/B02_10m.tif"}, got)

	_, err = SelectBands(files, []string{"6", "4", "3"})
	assert.True(t, errors.Is(err, ErrBandIndex))
	_, err = SelectBands(files, []string{"0", "1", "2"})
	assert.True(t, errors.Is(err, ErrBandIndex))
	_, err = SelectBands(files, []string{"B11", "B03", "B02"})
	assert.True(t, errors.Is(err, ErrNoBand))
	_, err = SelectBands(files, []string{"10m", "B03", "B02"})
	assert.True(t, errors.Is(err, ErrAmbiguous))
}
