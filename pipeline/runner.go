package pipeline

import (
	"context"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nvr-ai/go-detect/annotate"
	"github.com/nvr-ai/go-detect/config"
	"github.com/nvr-ai/go-detect/images"
	"github.com/nvr-ai/go-detect/models/postprocess"
	"github.com/nvr-ai/go-detect/profiler"
	"github.com/nvr-ai/go-detect/report"
)

// Detector produces raw candidates, in tensor coordinates, for one letterboxed tensor.
type Detector interface {
	Infer(ctx context.Context, tensor *images.Tensor) ([]postprocess.Candidate, error)
}

// Options configures a Runner. Zero-valued collaborators are replaced with defaults.
type Options struct {
	NMS        postprocess.NMSConfig
	Names      report.Namer
	Colors     *annotate.ColorAssigner
	Annotator  *annotate.Annotator
	Aggregator *report.Aggregator
	// OutputDir receives the annotated images and anomalies.json.
	OutputDir string
	Logger    logrus.FieldLogger
	// Profiler, when set, receives per-stage timings.
	Profiler *profiler.Profiler
}

// Runner drives one detection run over a Source.
type Runner struct {
	detector   Detector
	source     Source
	nms        postprocess.NMSConfig
	names      report.Namer
	colors     *annotate.ColorAssigner
	annotator  *annotate.Annotator
	aggregator *report.Aggregator
	outputDir  string
	log        logrus.FieldLogger
	prof       *profiler.Profiler
}

// NewRunner validates opts and assembles a runner.
//
// Returns:
//   - *Runner: The runner.
//   - error: Wrapping config.ErrConfiguration when a required collaborator or threshold is invalid.
func NewRunner(detector Detector, source Source, opts Options) (*Runner, error) {
	if detector == nil {
		return nil, errors.Wrap(config.ErrConfiguration, "detector is required")
	}
	if source == nil {
		return nil, errors.Wrap(config.ErrConfiguration, "source is required")
	}
	if opts.Names == nil {
		return nil, errors.Wrap(config.ErrConfiguration, "class names are required")
	}
	if err := opts.NMS.Validate(); err != nil {
		return nil, errors.Wrapf(config.ErrConfiguration, "%v", err)
	}

	r := &Runner{
		detector:   detector,
		source:     source,
		nms:        opts.NMS,
		names:      opts.Names,
		colors:     opts.Colors,
		annotator:  opts.Annotator,
		aggregator: opts.Aggregator,
		outputDir:  opts.OutputDir,
		log:        opts.Logger,
		prof:       opts.Profiler,
	}
	if r.colors == nil {
		r.colors = annotate.NewColorAssigner(nil)
	}
	if r.annotator == nil {
		r.annotator = annotate.NewAnnotator()
	}
	if r.aggregator == nil {
		r.aggregator = report.NewAggregator()
	}
	if r.log == nil {
		logger := logrus.New()
		logger.SetOutput(io.Discard)
		r.log = logger
	}
	return r, nil
}

// Run processes every frame of the source and finalizes the report.
//
// Unreadable images and per-image inference failures are logged and skipped. Cancellation is
// checked between images; on cancellation the partial report is still finalized and the context
// error is returned alongside it.
//
// Returns:
//   - report.Report: The final report.
//   - error: The context error, or a failure to create the output directory or write the report.
func (r *Runner) Run(ctx context.Context) (report.Report, error) {
	r.colors.Reset()

	if r.outputDir != "" {
		if err := os.MkdirAll(r.outputDir, 0o755); err != nil {
			return report.Report{}, errors.Wrapf(ErrIO, "create %s: %v", r.outputDir, err)
		}
	}

	var runErr error
	for {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		decoded := r.prof.StartOperation(profiler.StageDecode)
		frame, err := r.source.Next(ctx)
		decoded()
		if err == io.EOF {
			break
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				runErr = ctxErr
				break
			}
			r.log.WithError(err).Warn("Skipping unreadable image")
			continue
		}

		if err := r.processFrame(ctx, frame); err != nil {
			r.log.WithError(err).WithField("image", frame.Path).Warn("Skipping image")
		}
		if err := frame.Close(); err != nil {
			r.log.WithError(err).WithField("image", frame.Path).Debug("Failed to release image")
		}
	}

	final, err := r.aggregator.Finalize(r.outputDir)
	if err != nil {
		return final, errors.Wrapf(ErrIO, "%v", err)
	}

	r.log.WithFields(logrus.Fields{
		"images":    final.ImagesProcessed,
		"anomalies": len(final.Anomalies),
	}).Info("Run complete")

	return final, runErr
}

// processFrame runs one frame end to end. Nothing is recorded unless the annotated image is written.
func (r *Runner) processFrame(ctx context.Context, frame *Frame) error {
	inferred := r.prof.StartOperation(profiler.StageInfer)
	candidates, err := r.detector.Infer(ctx, frame.Tensor)
	inferred()
	if err != nil {
		return errors.Wrapf(ErrInference, "%s: %v", frame.Path, err)
	}

	suppressed := r.prof.StartOperation(profiler.StageNMS)
	detections, err := postprocess.ApplyNMS(candidates, r.nms)
	suppressed()
	if err != nil {
		return err
	}

	annotated := r.prof.StartOperation(profiler.StageAnnotate)

	log := r.log.WithField("image", frame.Path)
	kept := make([]postprocess.Detection, 0, len(detections))
	for _, det := range detections {
		mapped := det.WithBox(frame.Letterbox.ToOriginal(det.Box))
		name := r.names.Name(mapped.ClassID)

		err := r.annotator.Annotate(&frame.Original, mapped, r.colors.ColorFor(mapped.ClassID), annotate.Label(name, mapped.Score))
		if errors.Is(err, annotate.ErrMalformedDetection) {
			log.WithError(err).Warn("Dropping malformed detection")
			continue
		}
		if err != nil {
			annotated()
			return err
		}

		log.WithFields(logrus.Fields{
			"class": name,
			"score": report.FormatPercentage(mapped.Score),
			"box":   mapped.Box.String(),
		}).Debug("Detected")
		kept = append(kept, mapped)
	}

	annotated()

	out := r.aggregator.OutputPath(r.outputDir, frame.Path)
	if _, err := os.Stat(out); err == nil {
		log.WithField("output", out).Warn("Overwriting existing output")
	}
	written := r.prof.StartOperation(profiler.StageWrite)
	err = WriteImage(out, frame.Original)
	written()
	if err != nil {
		return err
	}

	for _, det := range kept {
		if err := r.aggregator.Record(det, r.names); err != nil {
			return err
		}
	}
	if err := r.aggregator.SetProcessedImage(out); err != nil {
		return err
	}
	r.aggregator.ImageDone()

	log.WithFields(logrus.Fields{
		"detections": len(kept),
		"output":     out,
	}).Info("Processed image")

	return nil
}
