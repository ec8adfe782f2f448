package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nvr-ai/go-detect/config"
	"github.com/nvr-ai/go-detect/history"
	"github.com/nvr-ai/go-detect/inference"
	"github.com/nvr-ai/go-detect/inference/providers"
	"github.com/nvr-ai/go-detect/models"
	"github.com/nvr-ai/go-detect/pipeline"
	"github.com/nvr-ai/go-detect/server"
	"github.com/nvr-ai/go-detect/util"
)

func main() {
	configPath := flag.String("config", "", "YAML configuration file")
	envFile := flag.String("env-file", ".env", "Optional .env file loaded before reading the environment")
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "scanserver: %v\n", err)
		os.Exit(1)
	}

	cfg := config.Default()
	if *configPath != "" {
		if err := cfg.LoadFile(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "scanserver: %v\n", err)
			os.Exit(1)
		}
	}
	cfg.FromEnv()

	log, err := util.NewLogger(cfg.LogLevel, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scanserver: %v\n", err)
		os.Exit(1)
	}

	if err := serve(cfg, log); err != nil {
		log.WithError(err).Fatal("Server stopped")
	}
}

// loadDetector opens the model when weights are configured; without weights POST /detect is
// disabled.
func loadDetector(cfg config.Config, log logrus.FieldLogger) (pipeline.Detector, func(), error) {
	if cfg.Weights == "" {
		log.Warn("No weights configured, detection endpoint disabled")
		return nil, func() {}, nil
	}

	layout, err := cfg.OutputLayout()
	if err != nil {
		return nil, nil, err
	}
	detector, err := inference.NewONNXDetector(inference.DetectorConfig{
		ModelPath:  cfg.Weights,
		ImageSize:  cfg.ImageSize,
		Layout:     layout,
		NumClasses: cfg.NumClasses,
		Provider:   cfg.Runtime,
	})
	if err != nil {
		return nil, nil, errors.Wrapf(config.ErrConfiguration, "%v", err)
	}

	release := func() {
		if err := detector.Close(); err != nil {
			log.WithError(err).Warn("Failed to close detector")
		}
		if err := providers.DestroyEnvironment(); err != nil {
			log.WithError(err).Warn("Failed to destroy onnxruntime environment")
		}
	}
	return detector, release, nil
}

func serve(cfg config.Config, log *logrus.Logger) error {
	if cfg.AlignImageSize() {
		log.WithField("imgSize", cfg.ImageSize).Warn("Image size rounded up to the detector stride")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	for _, dir := range []string{cfg.Server.ImageDir, cfg.Server.ProcessedDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "failed to create %s", dir)
		}
	}

	store, err := history.Open(cfg.Server.DatabasePath)
	if err != nil {
		return errors.Wrapf(err, "failed to open %s", cfg.Server.DatabasePath)
	}
	defer store.Close()

	names, err := models.LoadClassNames(cfg.Names)
	if err != nil {
		return errors.Wrapf(config.ErrConfiguration, "%v", err)
	}

	detector, release, err := loadDetector(cfg, log)
	if err != nil {
		return err
	}
	defer release()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := server.NewHub(log)
	go hub.Run(ctx)

	handler := server.NewHandler(server.Options{
		Config:   cfg,
		Store:    store,
		Hub:      hub,
		Detector: detector,
		Names:    names,
		Logger:   log,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.Server.PublicURL).Info("Server is running")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
