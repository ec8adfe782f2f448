package providers

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"
)

// Session represents a model session from the onnxruntime with preallocated tensors.
type Session struct {
	Session *ort.AdvancedSession
	Input   *ort.Tensor[float32]
	Output  *ort.Tensor[float32]
}

// NewSessionArgs represents the arguments for creating a new session.
type NewSessionArgs struct {
	// The path to the ONNX model file.
	ModelPath string
	// InputName is the model's image input node.
	InputName string
	// OutputName is the model's detection output node.
	OutputName string
	// InputShape is the NCHW input shape.
	InputShape ort.Shape
	// OutputShape is the detection output shape.
	OutputShape ort.Shape
}

// NewSession creates a new ONNX Runtime session with preallocated input and output tensors.
//
// Order of operations:
//  1. Environment setup: loads the native library once per process.
//  2. Tensor allocation: fixed-shape buffers for input/output data.
//  3. Session options: threading, graph optimization and the execution provider.
//  4. Session creation: loads the model and binds the tensors.
//
// Arguments:
//   - config: Execution provider configuration.
//   - args: Model path, node names and shapes.
//
// Returns:
//   - *Session: Session that holds the native session and tensors; release with Close.
//   - error: An error if the session creation fails.
func NewSession(config Config, args NewSessionArgs) (*Session, error) {
	if err := InitializeEnvironment(config.SharedLibraryPath); err != nil {
		return nil, err
	}

	input, err := ort.NewEmptyTensor[float32](args.InputShape)
	if err != nil {
		return nil, fmt.Errorf("error creating input tensor: %w", err)
	}

	output, err := ort.NewEmptyTensor[float32](args.OutputShape)
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("error creating output tensor: %w", err)
	}

	options, err := config.NewSessionOptions()
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, err
	}
	defer options.Destroy()

	session, err := ort.NewAdvancedSession(
		args.ModelPath,
		[]string{args.InputName},
		[]string{args.OutputName},
		[]ort.ArbitraryTensor{input},
		[]ort.ArbitraryTensor{output},
		options,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("error creating ORT session: %w", err)
	}

	return &Session{
		Session: session,
		Input:   input,
		Output:  output,
	}, nil
}

// Run copies data into the input tensor and executes the model.
func (s *Session) Run(data []float32) error {
	if s.Session == nil {
		return fmt.Errorf("session is closed")
	}

	dst := s.Input.GetData()
	if len(data) != len(dst) {
		return fmt.Errorf("input has %d values, model expects %d", len(data), len(dst))
	}
	copy(dst, data)

	return s.Session.Run()
}

// Close releases the resources associated with the Session.
func (s *Session) Close() error {
	if s.Input != nil {
		s.Input.Destroy()
		s.Input = nil
	}
	if s.Output != nil {
		s.Output.Destroy()
		s.Output = nil
	}
	if s.Session != nil {
		err := s.Session.Destroy()
		s.Session = nil
		if err != nil {
			return fmt.Errorf("error destroying ORT session: %w", err)
		}
	}
	return nil
}
