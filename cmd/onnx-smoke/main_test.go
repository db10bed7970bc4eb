package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "smoke.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigEmptyShapeWithImages(t *testing.T) {
	t.Setenv("ONNX_MODEL_PATH", "")
	path := writeConfig(t, `
model_path = "m.onnx"
shape = []
`)
	opts := &options{configPath: path, images: []string{"a.png"}}
	require.NotPanics(t, func() {
		cfg, err := loadConfig(&cobra.Command{}, opts)
		require.ErrorContains(t, err, "shape must have 4 dimensions")
		require.Nil(t, cfg)
	})
}

func TestLoadConfigImagesSetBatchSize(t *testing.T) {
	t.Setenv("ONNX_MODEL_PATH", "")
	t.Setenv("SMOKE_DEVICE", "")
	path := writeConfig(t, `model_path = "m.onnx"`)
	opts := &options{
		configPath: path,
		images:     []string{"a.png", "b.png"},
		device:     "cpu",
		gallery:    "features.csv",
		topK:       5,
		crop:       true,
	}
	cfg, err := loadConfig(&cobra.Command{}, opts)
	require.NoError(t, err)
	require.Equal(t, []int64{2, 3, 256, 128}, cfg.Shape)
	require.Equal(t, []string{"a.png", "b.png"}, cfg.ImagePaths)
	require.Equal(t, "cpu", cfg.Device)
	require.Equal(t, "features.csv", cfg.GalleryPath)
	require.Equal(t, 5, cfg.TopK)
	require.True(t, cfg.CropForeground)
}

func TestLoadConfigFlagOverridesSeed(t *testing.T) {
	t.Setenv("ONNX_MODEL_PATH", "m.onnx")
	t.Setenv("SMOKE_DEVICE", "")
	opts := &options{}
	cmd := &cobra.Command{}
	cmd.Flags().Int64Var(&opts.seed, "seed", 100, "")
	require.NoError(t, cmd.Flags().Set("seed", "7"))

	cfg, err := loadConfig(cmd, opts)
	require.NoError(t, err)
	require.Equal(t, int64(7), cfg.Seed)
}
