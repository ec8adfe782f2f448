// Package providers - ONNX Runtime environment, execution providers and sessions.
package providers

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// ProviderBackend represents different ONNX Runtime execution providers
type ProviderBackend string

const (
	// CPUProviderBackend runs on the default CPU execution provider.
	CPUProviderBackend ProviderBackend = "cpu"
	// CUDAProviderBackend uses NVIDIA CUDA for inference optimization.
	CUDAProviderBackend ProviderBackend = "cuda"
	// CoreMLProviderBackend uses Apple CoreML for macOS/iOS acceleration.
	CoreMLProviderBackend ProviderBackend = "coreml"
	// OpenVINOProviderBackend uses Intel OpenVINO for inference optimization.
	OpenVINOProviderBackend ProviderBackend = "openvino"
)

// ParseBackend validates a backend name; empty selects CPU.
func ParseBackend(s string) (ProviderBackend, error) {
	switch b := ProviderBackend(strings.ToLower(strings.TrimSpace(s))); b {
	case "":
		return CPUProviderBackend, nil
	case CPUProviderBackend, CUDAProviderBackend, CoreMLProviderBackend, OpenVINOProviderBackend:
		return b, nil
	default:
		return "", errors.Errorf("unsupported execution provider %q", s)
	}
}

// Config selects and tunes the execution provider for a session.
type Config struct {
	// Backend specifies the backend to use
	Backend ProviderBackend `json:"backend"           yaml:"backend"`
	// SharedLibraryPath overrides the platform default onnxruntime library location.
	SharedLibraryPath string `json:"sharedLibraryPath" yaml:"sharedLibraryPath"`
	// IntraOpThreads parallelizes work inside a node; 0 lets the runtime decide.
	IntraOpThreads int `json:"intraOpThreads"    yaml:"intraOpThreads"`
	// InterOpThreads parallelizes independent nodes; 0 lets the runtime decide.
	InterOpThreads int `json:"interOpThreads"    yaml:"interOpThreads"`
	// CUDA holds options used when Backend is cuda.
	CUDA CUDAOptions `json:"cuda"              yaml:"cuda"`
	// OpenVINO holds options used when Backend is openvino.
	OpenVINO OpenVINOOptions `json:"openvino"          yaml:"openvino"`
	// CoreMLFlags is the CoreML provider flag bitmask.
	CoreMLFlags uint32 `json:"coremlFlags"       yaml:"coremlFlags"`
}

// DefaultConfig returns a CPU configuration with runtime-chosen threading.
func DefaultConfig() Config {
	return Config{
		Backend: CPUProviderBackend,
		OpenVINO: OpenVINOOptions{
			DeviceType: "CPU",
			Precision:  "FP32",
		},
	}
}

// NewSessionOptions builds session options with threading, graph optimization and the configured
// execution provider applied. The caller owns the returned options.
func (c Config) NewSessionOptions() (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("error creating ORT session options: %w", err)
	}

	if err := c.apply(options); err != nil {
		options.Destroy()
		return nil, err
	}
	return options, nil
}

func (c Config) apply(options *ort.SessionOptions) error {
	if err := options.SetIntraOpNumThreads(c.IntraOpThreads); err != nil {
		return fmt.Errorf("error setting intra-op threads: %w", err)
	}
	if err := options.SetInterOpNumThreads(c.InterOpThreads); err != nil {
		return fmt.Errorf("error setting inter-op threads: %w", err)
	}
	if err := options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableExtended); err != nil {
		return fmt.Errorf("error setting graph optimization level: %w", err)
	}

	switch c.Backend {
	case CPUProviderBackend, "":
		return nil
	case CoreMLProviderBackend:
		if err := options.AppendExecutionProviderCoreML(c.CoreMLFlags); err != nil {
			return fmt.Errorf("error enabling CoreML: %w", err)
		}
	case OpenVINOProviderBackend:
		if err := options.AppendExecutionProviderOpenVINO(c.OpenVINO.toMap()); err != nil {
			return fmt.Errorf("error enabling OpenVINO: %w", err)
		}
	case CUDAProviderBackend:
		cuda, err := c.CUDA.ToNativeProviderOptions()
		if err != nil {
			return fmt.Errorf("error converting CUDA options: %w", err)
		}
		defer cuda.Destroy()
		if err := options.AppendExecutionProviderCUDA(cuda); err != nil {
			return fmt.Errorf("error enabling CUDA: %w", err)
		}
	default:
		return fmt.Errorf("no matching provider backend registered: %s", c.Backend)
	}
	return nil
}
