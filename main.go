package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nvr-ai/go-detect/config"
	"github.com/nvr-ai/go-detect/images"
	"github.com/nvr-ai/go-detect/inference"
	"github.com/nvr-ai/go-detect/inference/providers"
	"github.com/nvr-ai/go-detect/models"
	"github.com/nvr-ai/go-detect/pipeline"
	"github.com/nvr-ai/go-detect/profiler"
	"github.com/nvr-ai/go-detect/util"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "detect: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig layers defaults, the optional config file, the environment and explicitly set flags,
// in that order.
func loadConfig(args []string, stderr io.Writer) (config.Config, error) {
	defaults := config.Default()
	flagged := defaults

	fs := flag.NewFlagSet("detect", flag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.String("config", "", "YAML configuration file")
	envFile := fs.String("env-file", ".env", "Optional .env file loaded before reading the environment")
	fs.StringVar(&flagged.Source, "source", "", "Image file, directory or glob to scan")
	fs.StringVar(&flagged.Weights, "weights", "", "YOLO ONNX model file")
	fs.StringVar(&flagged.Names, "names", "", "Dataset YAML with class names (defaults to COCO)")
	fs.IntVar(&flagged.ImageSize, "img-size", defaults.ImageSize, "Inference size in pixels")
	conf := fs.Float64("conf-thres", float64(defaults.ConfThreshold), "Object confidence threshold")
	iou := fs.Float64("iou-thres", float64(defaults.IoUThreshold), "IoU threshold for NMS")
	fs.StringVar(&flagged.Project, "project", defaults.Project, "Save results to project/name")
	fs.StringVar(&flagged.Name, "name", defaults.Name, "Run name under project")
	fs.BoolVar(&flagged.ExistOK, "exist-ok", defaults.ExistOK, "Reuse an existing project/name directory")
	fs.StringVar(&flagged.Layout, "layout", defaults.Layout, "Model output layout: rows (v5/v7) or channels (v8+)")
	fs.IntVar(&flagged.NumClasses, "num-classes", defaults.NumClasses, "Class count for models with a dynamic output shape")
	fs.IntVar(&flagged.NMSWorkers, "nms-workers", defaults.NMSWorkers, "Goroutines suppressing class groups")
	fs.StringVar(&flagged.LogLevel, "log-level", defaults.LogLevel, "Log level")
	backend := fs.String("backend", string(defaults.Runtime.Backend), "Execution provider: cpu, cuda, coreml or openvino")

	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}

	if err := config.LoadDotEnv(*envFile); err != nil {
		return config.Config{}, errors.Wrapf(config.ErrConfiguration, "%v", err)
	}

	cfg := defaults
	if *configPath != "" {
		if err := cfg.LoadFile(*configPath); err != nil {
			return config.Config{}, err
		}
	}
	cfg.FromEnv()

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "source":
			cfg.Source = flagged.Source
		case "weights":
			cfg.Weights = flagged.Weights
		case "names":
			cfg.Names = flagged.Names
		case "img-size":
			cfg.ImageSize = flagged.ImageSize
		case "conf-thres":
			cfg.ConfThreshold = float32(*conf)
		case "iou-thres":
			cfg.IoUThreshold = float32(*iou)
		case "project":
			cfg.Project = flagged.Project
		case "name":
			cfg.Name = flagged.Name
		case "exist-ok":
			cfg.ExistOK = flagged.ExistOK
		case "layout":
			cfg.Layout = flagged.Layout
		case "num-classes":
			cfg.NumClasses = flagged.NumClasses
		case "nms-workers":
			cfg.NMSWorkers = flagged.NMSWorkers
		case "log-level":
			cfg.LogLevel = flagged.LogLevel
		case "backend":
			cfg.Runtime.Backend = providers.ProviderBackend(*backend)
		}
	})

	return cfg, nil
}

// outputDir returns the directory results are written to. Without a run name results go straight
// to the project directory; a named run is never overwritten unless exist-ok is set.
func outputDir(cfg config.Config) (string, error) {
	if cfg.Name == "" {
		return cfg.Project, nil
	}
	return util.IncrementPath(cfg.RunDir(), cfg.ExistOK)
}

func run(args []string, stdout, stderr io.Writer) error {
	cfg, err := loadConfig(args, stderr)
	if err != nil {
		return err
	}

	log, err := util.NewLogger(cfg.LogLevel, stderr)
	if err != nil {
		return errors.Wrapf(config.ErrConfiguration, "%v", err)
	}

	if before := cfg.ImageSize; cfg.AlignImageSize() {
		log.WithFields(logrus.Fields{"requested": before, "using": cfg.ImageSize}).
			Warnf("Image size must be a multiple of the stride %d", images.DefaultStride)
	}
	if err := cfg.ValidateRun(); err != nil {
		return err
	}

	paths, err := util.ListImageFiles(cfg.Source)
	if err != nil {
		return errors.Wrapf(config.ErrConfiguration, "%v", err)
	}

	names, err := models.LoadClassNames(cfg.Names)
	if err != nil {
		return errors.Wrapf(config.ErrConfiguration, "%v", err)
	}
	layout, err := cfg.OutputLayout()
	if err != nil {
		return err
	}

	dir, err := outputDir(cfg)
	if err != nil {
		return errors.Wrapf(config.ErrConfiguration, "%v", err)
	}

	detector, err := inference.NewONNXDetector(inference.DetectorConfig{
		ModelPath:  cfg.Weights,
		ImageSize:  cfg.ImageSize,
		Layout:     layout,
		NumClasses: cfg.NumClasses,
		Provider:   cfg.Runtime,
	})
	if err != nil {
		return errors.Wrapf(config.ErrConfiguration, "%v", err)
	}
	defer func() {
		if err := detector.Close(); err != nil {
			log.WithError(err).Warn("Failed to close detector")
		}
		if err := providers.DestroyEnvironment(); err != nil {
			log.WithError(err).Warn("Failed to destroy onnxruntime environment")
		}
	}()

	prof := profiler.New()
	runner, err := pipeline.NewRunner(detector, pipeline.NewFileSource(paths, cfg.ImageSize), pipeline.Options{
		NMS:       cfg.NMS(),
		Names:     names,
		OutputDir: dir,
		Logger:    log,
		Profiler:  prof,
	})
	if err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"source":  cfg.Source,
		"images":  len(paths),
		"weights": cfg.Weights,
		"imgSize": cfg.ImageSize,
		"conf":    cfg.ConfThreshold,
		"iou":     cfg.IoUThreshold,
		"backend": cfg.Runtime.Backend,
		"output":  dir,
	}).Info("Starting detection")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := runner.Run(ctx)
	prof.LogSummary(log)
	fmt.Fprintf(stdout, "Processed %d of %d image(s), %d anomalies found. Results saved to %s\n",
		result.ImagesProcessed, len(paths), len(result.Anomalies), dir)
	return err
}
