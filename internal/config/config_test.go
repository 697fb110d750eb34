package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 0.5, cfg.Measurement.DefaultScale)
	assert.Equal(t, int64(16*1024*1024), cfg.Server.MaxUploadBytes)
	assert.Equal(t, 1, cfg.Server.MaxConcurrent)
	assert.Equal(t, 80, cfg.Segmentation.CropBottom)
	assert.Equal(t, 0.2, cfg.Segmentation.ForegroundRatio)
	assert.Equal(t, 10, cfg.Segmentation.MarkerOffset)
}

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
server:
  addr: "127.0.0.1:8080"
segmentation:
  foregroundRatio: 0.3
  cropBottom: 0
measurement:
  defaultScale: 1.25
`)
	require.NoError(t, os.WriteFile(path, data, 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr)
	assert.Equal(t, 0.3, cfg.Segmentation.ForegroundRatio)
	assert.Equal(t, 0, cfg.Segmentation.CropBottom)
	assert.Equal(t, 1.25, cfg.Measurement.DefaultScale)
	// untouched keys keep their defaults
	assert.Equal(t, 3, cfg.Segmentation.KernelSize)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"zero scale", "measurement:\n  defaultScale: 0\n"},
		{"ratio above one", "segmentation:\n  foregroundRatio: 1.5\n"},
		{"no workers", "server:\n  maxConcurrent: 0\n"},
		{"bad yaml", "server: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0644))

			_, err := LoadConfig(path)
			assert.Error(t, err)
		})
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := DefaultConfig()
	cfg.Server.AllowedOrigins = []string{"http://localhost:3000"}

	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
