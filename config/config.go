// Package config - Run and server configuration loaded from YAML, the environment and flags.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/nvr-ai/go-detect/images"
	"github.com/nvr-ai/go-detect/inference/providers"
	"github.com/nvr-ai/go-detect/models/postprocess"
)

// ErrConfiguration marks invalid or incomplete settings; it is fatal before any image is processed.
var ErrConfiguration = errors.New("configuration error")

// Config holds every setting of a detection run.
type Config struct {
	// Source is an image file, a directory or a glob.
	Source string `json:"source"        yaml:"source"`
	// Weights is the ONNX model file.
	Weights string `json:"weights"       yaml:"weights"`
	// Names is an optional YOLO dataset YAML with class names.
	Names string `json:"names"         yaml:"names"`
	// ImageSize is the square inference size.
	ImageSize int `json:"imgSize"       yaml:"imgSize"`
	// ConfThreshold drops candidates scoring below it.
	ConfThreshold float32 `json:"confThreshold" yaml:"confThreshold"`
	// IoUThreshold suppresses same-class boxes overlapping more than it.
	IoUThreshold float32 `json:"iouThreshold"  yaml:"iouThreshold"`
	// Project is the output root directory.
	Project string `json:"project"       yaml:"project"`
	// Name is an optional run subdirectory under Project.
	Name string `json:"name"          yaml:"name"`
	// ExistOK reuses an existing run directory instead of incrementing.
	ExistOK bool `json:"existOk"       yaml:"existOk"`
	// Layout is the detector output layout (rows or channels).
	Layout string `json:"layout"        yaml:"layout"`
	// NumClasses resolves a dynamic class dimension in the model output.
	NumClasses int `json:"numClasses"    yaml:"numClasses"`
	// NMSWorkers suppresses class groups in parallel when above one.
	NMSWorkers int `json:"nmsWorkers"    yaml:"nmsWorkers"`
	// LogLevel is a logrus level name.
	LogLevel string `json:"logLevel"      yaml:"logLevel"`
	// Runtime configures onnxruntime.
	Runtime providers.Config `json:"runtime"       yaml:"runtime"`
	// Server configures the scan history server.
	Server ServerConfig `json:"server"        yaml:"server"`
}

// ServerConfig holds the scan history server settings.
type ServerConfig struct {
	// Port is the HTTP listen port.
	Port int `json:"port"            yaml:"port"`
	// DatabasePath is the sqlite file storing scans.
	DatabasePath string `json:"databasePath"    yaml:"databasePath"`
	// ImageDir stores downloaded scan images, served under /images.
	ImageDir string `json:"imageDir"        yaml:"imageDir"`
	// ProcessedDir holds annotated output, served under /processed_images.
	ProcessedDir string `json:"processedDir"    yaml:"processedDir"`
	// PublicURL prefixes stored image URLs, e.g. http://localhost:3000.
	PublicURL string `json:"publicUrl"       yaml:"publicUrl"`
	// DownloadTimeout bounds fetching a scan image.
	DownloadTimeout time.Duration `json:"downloadTimeout" yaml:"downloadTimeout"`
	// MaxUploadBytes bounds multipart uploads to /detect.
	MaxUploadBytes int64 `json:"maxUploadBytes"  yaml:"maxUploadBytes"`
}

// Default returns the settings used when nothing else is configured.
func Default() Config {
	return Config{
		ImageSize:     640,
		ConfThreshold: 0.25,
		IoUThreshold:  0.45,
		Project:       "processed_images",
		Layout:        string(postprocess.LayoutRows),
		NMSWorkers:    1,
		LogLevel:      "info",
		Runtime:       providers.DefaultConfig(),
		Server: ServerConfig{
			Port:            3000,
			DatabasePath:    "scans.db",
			ImageDir:        "previously_scanned_images",
			ProcessedDir:    "processed_images",
			PublicURL:       "http://localhost:3000",
			DownloadTimeout: 30 * time.Second,
			MaxUploadBytes:  32 << 20,
		},
	}
}

// LoadFile overlays the YAML file at path onto c.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(ErrConfiguration, "read %s: %v", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Wrapf(ErrConfiguration, "parse %s: %v", path, err)
	}
	return nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	existing := make([]string, 0, len(files))
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return errors.Wrap(err, "failed to load .env")
	}
	return nil
}

// FromEnv overlays DETECT_* and SERVER_* environment variables onto c.
func (c *Config) FromEnv() {
	c.Source = getEnv("DETECT_SOURCE", c.Source)
	c.Weights = getEnv("DETECT_WEIGHTS", c.Weights)
	c.Names = getEnv("DETECT_NAMES", c.Names)
	c.ImageSize = getEnvAsInt("DETECT_IMG_SIZE", c.ImageSize)
	c.ConfThreshold = getEnvAsFloat32("DETECT_CONF_THRES", c.ConfThreshold)
	c.IoUThreshold = getEnvAsFloat32("DETECT_IOU_THRES", c.IoUThreshold)
	c.Project = getEnv("DETECT_PROJECT", c.Project)
	c.Name = getEnv("DETECT_NAME", c.Name)
	c.ExistOK = getEnvAsBool("DETECT_EXIST_OK", c.ExistOK)
	c.Layout = getEnv("DETECT_LAYOUT", c.Layout)
	c.NumClasses = getEnvAsInt("DETECT_NUM_CLASSES", c.NumClasses)
	c.NMSWorkers = getEnvAsInt("DETECT_NMS_WORKERS", c.NMSWorkers)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.Runtime.Backend = providers.ProviderBackend(getEnv("ORT_BACKEND", string(c.Runtime.Backend)))
	c.Runtime.SharedLibraryPath = getEnv(providers.SharedLibraryEnv, c.Runtime.SharedLibraryPath)

	c.Server.Port = getEnvAsInt("PORT", c.Server.Port)
	c.Server.DatabasePath = getEnv("SERVER_DB_PATH", c.Server.DatabasePath)
	c.Server.ImageDir = getEnv("SERVER_IMAGE_DIR", c.Server.ImageDir)
	c.Server.ProcessedDir = getEnv("SERVER_PROCESSED_DIR", c.Server.ProcessedDir)
	c.Server.PublicURL = getEnv("SERVER_PUBLIC_URL", c.Server.PublicURL)
	c.Server.DownloadTimeout = getEnvAsDuration("SERVER_DOWNLOAD_TIMEOUT", c.Server.DownloadTimeout)
}

// NMS returns the suppression settings.
func (c Config) NMS() postprocess.NMSConfig {
	return postprocess.NMSConfig{
		ConfThreshold: c.ConfThreshold,
		IoUThreshold:  c.IoUThreshold,
		NumWorkers:    c.NMSWorkers,
	}
}

// OutputLayout parses the configured layout.
func (c Config) OutputLayout() (postprocess.Layout, error) {
	layout, err := postprocess.ParseLayout(c.Layout)
	if err != nil {
		return "", errors.Wrapf(ErrConfiguration, "%v", err)
	}
	return layout, nil
}

// RunDir returns the directory detection output goes to: Project, or Project/Name when a name is
// set.
func (c Config) RunDir() string {
	if c.Name == "" {
		return c.Project
	}
	return filepath.Join(c.Project, c.Name)
}

// Validate checks the settings shared by every command. Paths are checked by ValidateRun.
func (c Config) Validate() error {
	if err := c.NMS().Validate(); err != nil {
		return errors.Wrapf(ErrConfiguration, "%v", err)
	}
	if c.ImageSize <= 0 {
		return errors.Wrapf(ErrConfiguration, "image size %d must be positive", c.ImageSize)
	}
	if _, err := c.OutputLayout(); err != nil {
		return err
	}
	if _, err := providers.ParseBackend(string(c.Runtime.Backend)); err != nil {
		return errors.Wrapf(ErrConfiguration, "%v", err)
	}
	if c.Project == "" {
		return errors.Wrap(ErrConfiguration, "project directory is required")
	}
	return nil
}

// ValidateRun checks the settings of a batch run, including that the source and weights exist.
func (c Config) ValidateRun() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Source == "" {
		return errors.Wrap(ErrConfiguration, "source is required")
	}
	if c.Weights == "" {
		return errors.Wrap(ErrConfiguration, "weights are required")
	}
	if _, err := os.Stat(c.Weights); err != nil {
		return errors.Wrapf(ErrConfiguration, "weights %s: %v", c.Weights, err)
	}
	return nil
}

// AlignImageSize rounds ImageSize up to a multiple of the detector stride. Non-positive sizes are
// left as is for Validate to reject.
//
// Returns:
//   - bool: True when the size changed.
func (c *Config) AlignImageSize() bool {
	if c.ImageSize <= 0 {
		return false
	}
	size, changed := images.CheckImageSize(c.ImageSize, images.DefaultStride)
	c.ImageSize = size
	return changed
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(f)
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
