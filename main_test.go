package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-detect/config"
	"github.com/nvr-ai/go-detect/inference/providers"
)

func TestLoadConfig_Layers(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "detect.yaml")
	require.NoError(t, os.WriteFile(file, []byte("source: from-file\nimgSize: 416\nconfThreshold: 0.3\nname: fromfile\n"), 0o644))

	t.Setenv("DETECT_CONF_THRES", "0.4")
	t.Setenv("DETECT_NAME", "fromenv")

	cfg, err := loadConfig([]string{
		"-config", file,
		"-env-file", filepath.Join(dir, "missing.env"),
		"-name", "fromflag",
		"-iou-thres", "0.6",
		"-backend", "cuda",
	}, &bytes.Buffer{})
	require.NoError(t, err)

	assert.Equal(t, "from-file", cfg.Source, "file value kept")
	assert.Equal(t, 416, cfg.ImageSize)
	assert.InDelta(t, 0.4, cfg.ConfThreshold, 1e-6, "environment beats file")
	assert.Equal(t, "fromflag", cfg.Name, "flag beats environment")
	assert.InDelta(t, 0.6, cfg.IoUThreshold, 1e-6)
	assert.Equal(t, providers.CUDAProviderBackend, cfg.Runtime.Backend)
	assert.Equal(t, config.Default().Project, cfg.Project, "unset flags do not clobber")
}

func TestLoadConfig_BadFlag(t *testing.T) {
	_, err := loadConfig([]string{"-no-such-flag"}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestOutputDir(t *testing.T) {
	project := t.TempDir()

	dir, err := outputDir(config.Config{Project: project})
	require.NoError(t, err)
	assert.Equal(t, project, dir, "results go straight to the project without a run name")

	require.NoError(t, os.Mkdir(filepath.Join(project, "exp"), 0o755))
	dir, err = outputDir(config.Config{Project: project, Name: "exp"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(project, "exp2"), dir)

	dir, err = outputDir(config.Config{Project: project, Name: "exp", ExistOK: true})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(project, "exp"), dir)
}

func TestRun_ConfigurationErrors(t *testing.T) {
	dir := t.TempDir()
	weights := filepath.Join(dir, "model.onnx")
	require.NoError(t, os.WriteFile(weights, []byte("onnx"), 0o644))
	env := filepath.Join(dir, "none.env")

	tests := []struct {
		name string
		args []string
	}{
		{"missing source", []string{"-env-file", env, "-weights", weights}},
		{"missing weights file", []string{"-env-file", env, "-source", dir, "-weights", filepath.Join(dir, "nope.onnx")}},
		{"confidence out of range", []string{"-env-file", env, "-source", dir, "-weights", weights, "-conf-thres", "1.5"}},
		{"unknown layout", []string{"-env-file", env, "-source", dir, "-weights", weights, "-layout", "columns"}},
		{"missing source directory", []string{"-env-file", env, "-source", filepath.Join(dir, "nope"), "-weights", weights}},
		{"bad log level", []string{"-env-file", env, "-log-level", "loud"}},
		{"negative image size", []string{"-env-file", env, "-source", dir, "-weights", weights, "-img-size", "-5"}},
		{"zero image size", []string{"-env-file", env, "-source", dir, "-weights", weights, "-img-size", "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			err := run(tt.args, &stdout, &stderr)
			require.Error(t, err)
			assert.ErrorIs(t, err, config.ErrConfiguration)
			assert.Empty(t, stdout.String())
		})
	}
}
