package providers

import (
	"strconv"

	ort "github.com/yalue/onnxruntime_go"
)

// CUDAOptions contains arguments for the CUDA provider.
// See:
// https://onnxruntime.ai/docs/execution-providers/CUDA-ExecutionProvider.html#configuration-options
type CUDAOptions struct {
	// The device ID.
	DeviceID int `json:"deviceID"            yaml:"deviceID"`
	// The size limit of the device memory arena in bytes; 0 leaves the runtime default.
	GPUMemLimit int64 `json:"gpuMemLimit"         yaml:"gpuMemLimit"`
	// The type of search done for cuDNN convolution algorithms.
	// 0: EXHAUSTIVE, 1: HEURISTIC, 2: DEFAULT
	CudnnConvAlgoSearch int `json:"cudnnConvAlgoSearch" yaml:"cudnnConvAlgoSearch"`
	// Allow TF32 math on Ampere and later GPUs.
	UseTF32 bool `json:"useTF32"             yaml:"useTF32"`
}

// toMap renders the options as onnxruntime provider option strings.
func (o CUDAOptions) toMap() map[string]string {
	m := map[string]string{
		"device_id": strconv.Itoa(o.DeviceID),
		"use_tf32":  "0",
	}
	if o.UseTF32 {
		m["use_tf32"] = "1"
	}
	if o.GPUMemLimit > 0 {
		m["gpu_mem_limit"] = strconv.FormatInt(o.GPUMemLimit, 10)
	}
	switch o.CudnnConvAlgoSearch {
	case 1:
		m["cudnn_conv_algo_search"] = "HEURISTIC"
	case 2:
		m["cudnn_conv_algo_search"] = "DEFAULT"
	default:
		m["cudnn_conv_algo_search"] = "EXHAUSTIVE"
	}
	return m
}

// ToNativeProviderOptions converts the CUDA options to onnxruntime CUDA provider options.
// The caller must Destroy the result.
func (o CUDAOptions) ToNativeProviderOptions() (*ort.CUDAProviderOptions, error) {
	opts, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return nil, err
	}

	if err := opts.Update(o.toMap()); err != nil {
		opts.Destroy()
		return nil, err
	}

	return opts, nil
}
