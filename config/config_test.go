package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-detect/inference/providers"
	"github.com/nvr-ai/go-detect/models/postprocess"
)

func TestDefault(t *testing.T) {
	c := Default()

	assert.Equal(t, 640, c.ImageSize)
	assert.Equal(t, float32(0.25), c.ConfThreshold)
	assert.Equal(t, float32(0.45), c.IoUThreshold)
	assert.Equal(t, "processed_images", c.Project)
	assert.Equal(t, providers.CPUProviderBackend, c.Runtime.Backend)
	assert.NoError(t, c.Validate())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "detect.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
source: scans/
weights: xray.onnx
confThreshold: 0.4
layout: channels
runtime:
  backend: cuda
  cuda:
    deviceID: 1
server:
  port: 8080
  downloadTimeout: 5s
`), 0o644))

	c := Default()
	require.NoError(t, c.LoadFile(path))

	assert.Equal(t, "scans/", c.Source)
	assert.Equal(t, "xray.onnx", c.Weights)
	assert.Equal(t, float32(0.4), c.ConfThreshold)
	assert.Equal(t, float32(0.45), c.IoUThreshold, "unset keys keep defaults")
	assert.Equal(t, providers.CUDAProviderBackend, c.Runtime.Backend)
	assert.Equal(t, 1, c.Runtime.CUDA.DeviceID)
	assert.Equal(t, 8080, c.Server.Port)
	assert.Equal(t, 5*time.Second, c.Server.DownloadTimeout)
	assert.Equal(t, "previously_scanned_images", c.Server.ImageDir)

	layout, err := c.OutputLayout()
	require.NoError(t, err)
	assert.Equal(t, postprocess.LayoutChannels, layout)
}

func TestLoadFile_Errors(t *testing.T) {
	c := Default()
	assert.ErrorIs(t, c.LoadFile(filepath.Join(t.TempDir(), "missing.yaml")), ErrConfiguration)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("imgSize: [1, 2"), 0o644))
	assert.ErrorIs(t, c.LoadFile(path), ErrConfiguration)
}

func TestFromEnv(t *testing.T) {
	t.Setenv("DETECT_SOURCE", "/data/in")
	t.Setenv("DETECT_CONF_THRES", "0.6")
	t.Setenv("DETECT_IMG_SIZE", "not-a-number")
	t.Setenv("DETECT_EXIST_OK", "true")
	t.Setenv("PORT", "9000")
	t.Setenv("SERVER_DOWNLOAD_TIMEOUT", "2m")

	c := Default()
	c.FromEnv()

	assert.Equal(t, "/data/in", c.Source)
	assert.Equal(t, float32(0.6), c.ConfThreshold)
	assert.Equal(t, 640, c.ImageSize, "unparsable values fall back")
	assert.True(t, c.ExistOK)
	assert.Equal(t, 9000, c.Server.Port)
	assert.Equal(t, 2*time.Minute, c.Server.DownloadTimeout)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("DETECT_TEST_DOTENV=from-file\nDETECT_TEST_PRESET=from-file\n"), 0o644))

	t.Setenv("DETECT_TEST_PRESET", "from-env")
	t.Cleanup(func() { os.Unsetenv("DETECT_TEST_DOTENV") })

	require.NoError(t, LoadDotEnv(path, filepath.Join(dir, "missing.env")))
	assert.Equal(t, "from-file", os.Getenv("DETECT_TEST_DOTENV"))
	assert.Equal(t, "from-env", os.Getenv("DETECT_TEST_PRESET"), "existing variables win")
}

func TestValidate(t *testing.T) {
	nan := float32(math.NaN())

	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{"confidence above one", func(c *Config) { c.ConfThreshold = 1.5 }},
		{"negative IoU", func(c *Config) { c.IoUThreshold = -0.1 }},
		{"NaN IoU", func(c *Config) { c.IoUThreshold = nan }},
		{"zero image size", func(c *Config) { c.ImageSize = 0 }},
		{"unknown layout", func(c *Config) { c.Layout = "columns" }},
		{"unknown backend", func(c *Config) { c.Runtime.Backend = "tpu" }},
		{"no project", func(c *Config) { c.Project = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.modify(&c)
			assert.ErrorIs(t, c.Validate(), ErrConfiguration)
		})
	}
}

func TestValidateRun(t *testing.T) {
	weights := filepath.Join(t.TempDir(), "model.onnx")
	require.NoError(t, os.WriteFile(weights, []byte("onnx"), 0o644))

	c := Default()
	assert.ErrorIs(t, c.ValidateRun(), ErrConfiguration, "missing source")

	c.Source = "images/"
	assert.ErrorIs(t, c.ValidateRun(), ErrConfiguration, "missing weights")

	c.Weights = weights + ".missing"
	assert.ErrorIs(t, c.ValidateRun(), ErrConfiguration, "weights not on disk")

	c.Weights = weights
	assert.NoError(t, c.ValidateRun())
}

func TestRunDirAndAlign(t *testing.T) {
	c := Default()
	assert.Equal(t, "processed_images", c.RunDir())

	c.Name = "xray"
	assert.Equal(t, filepath.Join("processed_images", "xray"), c.RunDir())

	c.ImageSize = 650
	assert.True(t, c.AlignImageSize())
	assert.Equal(t, 672, c.ImageSize)
	assert.False(t, c.AlignImageSize())
}

func TestAlignImageSize_NonPositiveRejected(t *testing.T) {
	for _, size := range []int{0, -5} {
		c := Default()
		c.ImageSize = size

		assert.False(t, c.AlignImageSize(), "size=%d", size)
		assert.Equal(t, size, c.ImageSize)

		err := c.Validate()
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrConfiguration)
		assert.Contains(t, err.Error(), "must be positive")
	}
}
