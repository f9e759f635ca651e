package providers

import (
	"strconv"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

const (
	// OpenVINOProviderBackend uses Intel OpenVINO for inference optimization.
	OpenVINOProviderBackend ProviderBackend = "openvino"
)

// Precision is the inference precision requested from OpenVINO.
type Precision string

const (
	// PrecisionAccuracy runs with the model's own input precision.
	PrecisionAccuracy Precision = "ACCURACY"
	// PrecisionFP32 represents 32-bit floating point precision.
	PrecisionFP32 Precision = "FP32"
	// PrecisionFP16 represents 16-bit floating point precision.
	PrecisionFP16 Precision = "FP16"
)

// OpenVINOOptions contains arguments for the OpenVINO provider.
// See:
// https://onnxruntime.ai/docs/execution-providers/OpenVINO-ExecutionProvider.html#summary-of-options
type OpenVINOOptions struct {
	// Overrides the accelerator hardware type (CPU, GPU, NPU) at runtime.
	DeviceType string `json:"deviceType" yaml:"deviceType"`
	// Supported precisions for HW {CPU:FP32, GPU:[FP32, FP16, ACCURACY], NPU:FP16}.
	Precision Precision `json:"precision" yaml:"precision"`
	// Overrides the accelerator default number of threads. Zero keeps the default.
	NumOfThreads int `json:"numOfThreads" yaml:"numOfThreads"`
	// Overrides the accelerator default streams. Zero keeps the default.
	NumStreams int `json:"numStreams" yaml:"numStreams"`
	// Directory for compiled model blobs. Empty disables caching.
	CacheDir string `json:"cacheDir" yaml:"cacheDir"`
}

// DefaultOpenVINOOptions targets the CPU in FP32.
func DefaultOpenVINOOptions() OpenVINOOptions {
	return OpenVINOOptions{
		DeviceType: "CPU",
		Precision:  PrecisionFP32,
	}
}

func (OpenVINOOptions) isProviderOptions() {}

// Map returns the options as the key/value pairs the runtime accepts.
func (o OpenVINOOptions) Map() map[string]string {
	m := map[string]string{}
	if o.DeviceType != "" {
		m["device_type"] = o.DeviceType
	}
	if o.Precision != "" {
		m["precision"] = string(o.Precision)
	}
	if o.NumOfThreads > 0 {
		m["num_of_threads"] = strconv.Itoa(o.NumOfThreads)
	}
	if o.NumStreams > 0 {
		m["num_streams"] = strconv.Itoa(o.NumStreams)
	}
	if o.CacheDir != "" {
		m["cache_dir"] = o.CacheDir
	}
	return m
}

// OpenVINOProvider implements the ExecutionProvider interface.
type OpenVINOProvider struct {
	options OpenVINOOptions
}

// NewOpenVINOProvider creates a new OpenVINO provider.
func NewOpenVINOProvider(options OpenVINOOptions) *OpenVINOProvider {
	return &OpenVINOProvider{options: options}
}

// Backend returns OpenVINOProviderBackend.
func (p *OpenVINOProvider) Backend() ProviderBackend {
	return OpenVINOProviderBackend
}

// Options returns the OpenVINO options.
func (p *OpenVINOProvider) Options() ProviderOptions {
	return p.options
}

// Apply enables OpenVINO on the session options.
func (p *OpenVINOProvider) Apply(options *ort.SessionOptions) error {
	if err := options.AppendExecutionProviderOpenVINO(p.options.Map()); err != nil {
		return errors.Wrap(err, "error enabling OpenVINO")
	}
	return nil
}
