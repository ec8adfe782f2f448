package providers

import "strconv"

// OpenVINOOptions contains arguments for the OpenVINO provider.
// See:
// https://onnxruntime.ai/docs/execution-providers/OpenVINO-ExecutionProvider.html#summary-of-options
type OpenVINOOptions struct {
	// Overrides the accelerator hardware type (CPU, GPU, NPU).
	DeviceType string `json:"deviceType"   yaml:"deviceType"`
	// Inference precision: FP32, FP16 or ACCURACY.
	Precision string `json:"precision"    yaml:"precision"`
	// Overrides the default number of inference threads; 0 keeps the default.
	NumOfThreads int `json:"numOfThreads" yaml:"numOfThreads"`
	// Overrides the default number of streams; 0 keeps the default.
	NumStreams int `json:"numStreams"   yaml:"numStreams"`
}

func (o OpenVINOOptions) toMap() map[string]string {
	m := map[string]string{}
	if o.DeviceType != "" {
		m["device_type"] = o.DeviceType
	}
	if o.Precision != "" {
		m["precision"] = o.Precision
	}
	if o.NumOfThreads > 0 {
		m["num_of_threads"] = strconv.Itoa(o.NumOfThreads)
	}
	if o.NumStreams > 0 {
		m["num_streams"] = strconv.Itoa(o.NumStreams)
	}
	return m
}
