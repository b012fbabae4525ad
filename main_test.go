package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlagKey(t *testing.T) {
	assert.Equal(t, "data_dir", flagKey("data-dir"))
	assert.Equal(t, "fig_width", flagKey("fig-width"))
	assert.Equal(t, "workers", flagKey("workers"))
}

func TestFlagsBoundToConfigKeys(t *testing.T) {
	require.NoError(t, rootCmd.PersistentFlags().Set("views", "map:1,map2:2"))
	require.NoError(t, rootCmd.PersistentFlags().Set("scale-bar", "compact"))
	defer func() {
		rootCmd.PersistentFlags().Set("views", "")
		rootCmd.PersistentFlags().Set("scale-bar", "main")
	}()
	assert.Equal(t, "map:1,map2:2", v.GetString("views_spec"))
	assert.Equal(t, "compact", v.GetString("scale_bar"))
	assert.Equal(t, 100.0, v.GetFloat64("dpi"))
}

func TestInitConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sen2map.yaml")
	rootCmd.SetArgs([]string{"init-config", path})
	require.NoError(t, rootCmd.Execute())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "data_dir: /data/project/L2")
	assert.Contains(t, string(b), "scale_bar: main")
}

func TestProjectArgs(t *testing.T) {
	rootCmd.SetArgs([]string{"project", "in.shp", "out.shp", "wgs84"})
	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid EPSG code")
}
