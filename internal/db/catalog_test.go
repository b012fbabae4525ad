package db

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"hstin/sen2map/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalog(t *testing.T) {
	dir := t.TempDir()
	database, err := Open(filepath.Join(dir, "maps", "catalog.sqlite"))
	require.NoError(t, err)
	defer database.Close()

	now := time.Date(2019, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, RecordScene(database, SceneRecord{
		ID: "S2A_MSIL2A_20180627", Name: "S2A_MSIL2A_20180627.SAFE", Level: "L2A",
		Dir: "/data/S2A_MSIL2A_20180627.SAFE", TifDir: "/data/s2tif/S2A_MSIL2A_20180627_tif",
		Footprint: `{"type":"Feature"}`, Converted: now,
	}))
	scenes, err := Scenes(database)
	require.NoError(t, err)
	require.Len(t, scenes, 1)
	assert.Equal(t, "L2A", scenes[0].Level)
	assert.True(t, now.Equal(scenes[0].Converted))

	mapPath := filepath.Join(dir, "S2A_MSIL2A_20180627_map.jpg")
	require.NoError(t, os.WriteFile(mapPath, []byte("x"), 0644))

	stmt, err := PrepareMaps(database)
	require.NoError(t, err)
	defer stmt.Close()
	rec := MapRecord{Scene: "S2A_MSIL2A_20180627", View: "map", Path: mapPath, Zoom: 1,
		Width: 800, Height: 800, Format: "jpg", Created: now}
	require.NoError(t, RecordMap(stmt, rec))
	rec.View, rec.Zoom, rec.Path = "map2", 2, filepath.Join(dir, "gone.jpg")
	require.NoError(t, RecordMap(stmt, rec))

	ok, err := HasMap(database, "S2A_MSIL2A_20180627", "map")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = HasMap(database, "S2A_MSIL2A_20180627", "map2")
	require.NoError(t, err)
	assert.False(t, ok, "catalogued map whose file is gone")
	ok, err = HasMap(database, "other", "map")
	require.NoError(t, err)
	assert.False(t, ok)

	maps, err := Maps(database)
	require.NoError(t, err)
	require.Len(t, maps, 2)
	assert.Equal(t, "map", maps[0].View)
	assert.Equal(t, 2.0, maps[1].Zoom)
	assert.Equal(t, 800, maps[0].Width)

	// recording again replaces the entry
	require.NoError(t, RecordMap(stmt, rec))
	maps, err = Maps(database)
	require.NoError(t, err)
	assert.Len(t, maps, 2)
}

func TestUpdateMetadata(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.sqlite")
	database, err := Open(path)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Views = []config.View{{ID: "map", Zoom: 1}, {ID: "map4", Zoom: 0.25, XOffset: -27450, YOffset: -13725}}
	run := time.Date(2019, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, UpdateMetadata(database, cfg, "1.2.0", run))
	require.NoError(t, database.Close())

	// reopening keeps the values
	database, err = Open(path)
	require.NoError(t, err)
	defer database.Close()
	meta, err := Metadata(database)
	require.NoError(t, err)
	assert.Equal(t, "1.2.0", meta["version"])
	assert.Equal(t, "5,4,3", meta["bands"])
	assert.Equal(t, "B04_10m,B03_10m,B02_10m", meta["safe_bands"])
	assert.Equal(t, "map:1:0:0,map4:0.25:-27450:-13725", meta["views"])
	assert.Equal(t, "2019-03-01T12:00:00Z", meta["last_run"])
	assert.Equal(t, "sen2map catalog", meta["name"])
}
