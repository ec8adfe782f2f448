package inference

import (
	"context"
	"os"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/nvr-ai/go-detect/images"
	"github.com/nvr-ai/go-detect/inference/providers"
	"github.com/nvr-ai/go-detect/models/postprocess"
)

// DetectorConfig describes the model an ONNXDetector loads.
type DetectorConfig struct {
	// ModelPath is the ONNX weights file.
	ModelPath string
	// ImageSize is the square input size, a multiple of the stride.
	ImageSize int
	// Layout is how the model arranges its output.
	Layout postprocess.Layout
	// NumClasses resolves a dynamic class dimension; 0 when the model's shape is static.
	NumClasses int
	// Provider configures the execution provider.
	Provider providers.Config
}

// ONNXDetector runs a YOLO model exported to ONNX and decodes its raw output.
type ONNXDetector struct {
	mu      sync.Mutex
	session *providers.Session
	config  DetectorConfig
}

// NewONNXDetector loads the model and allocates its session.
//
// Input and output node names are read from the model; dynamic dimensions are resolved from the
// configured image size and layout.
//
// Arguments:
//   - config: The model and runtime configuration.
//
// Returns:
//   - *ONNXDetector: A ready detector; release with Close.
//   - error: If the model is missing, incompatible or the runtime cannot be loaded.
func NewONNXDetector(config DetectorConfig) (*ONNXDetector, error) {
	if _, err := os.Stat(config.ModelPath); err != nil {
		return nil, errors.Wrapf(err, "weights %s", config.ModelPath)
	}
	if config.ImageSize <= 0 {
		return nil, errors.Errorf("invalid image size %d", config.ImageSize)
	}

	if err := providers.InitializeEnvironment(config.Provider.SharedLibraryPath); err != nil {
		return nil, err
	}

	inputs, outputs, err := ort.GetInputOutputInfo(config.ModelPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to inspect %s", config.ModelPath)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, errors.Errorf("model %s has no inputs or outputs", config.ModelPath)
	}

	inputShape := ort.NewShape(1, 3, int64(config.ImageSize), int64(config.ImageSize))
	if err := checkInputShape(inputs[0].Dimensions, inputShape); err != nil {
		return nil, err
	}

	outputShape, err := ResolveOutputShape(outputs[0].Dimensions, config.ImageSize, config.Layout, config.NumClasses)
	if err != nil {
		return nil, err
	}

	session, err := providers.NewSession(config.Provider, providers.NewSessionArgs{
		ModelPath:   config.ModelPath,
		InputName:   inputs[0].Name,
		OutputName:  outputs[0].Name,
		InputShape:  inputShape,
		OutputShape: ort.NewShape(outputShape...),
	})
	if err != nil {
		return nil, err
	}

	return &ONNXDetector{session: session, config: config}, nil
}

// checkInputShape rejects models whose static input dimensions differ from the requested shape.
func checkInputShape(model ort.Shape, want ort.Shape) error {
	if len(model) != len(want) {
		return errors.Errorf("model input rank %d, expected %d", len(model), len(want))
	}
	for i := range model {
		if model[i] > 0 && model[i] != want[i] {
			return errors.Errorf("model input shape %v incompatible with %v", model, want)
		}
	}
	return nil
}

// Infer runs the model on one letterboxed tensor and returns the decoded candidates.
func (d *ONNXDetector) Infer(ctx context.Context, tensor *images.Tensor) ([]postprocess.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if tensor.Width != d.config.ImageSize || tensor.Height != d.config.ImageSize {
		return nil, errors.Errorf("tensor is %dx%d, model expects %dx%d",
			tensor.Width, tensor.Height, d.config.ImageSize, d.config.ImageSize)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.session == nil {
		return nil, errors.New("detector is closed")
	}
	if err := d.session.Run(tensor.Data); err != nil {
		return nil, errors.Wrap(err, "inference failed")
	}

	return postprocess.DecodeOutput(d.session.Output.GetData(), d.session.Output.GetShape(), d.config.Layout)
}

// Close releases the session.
func (d *ONNXDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.session == nil {
		return nil
	}
	err := d.session.Close()
	d.session = nil
	return err
}
