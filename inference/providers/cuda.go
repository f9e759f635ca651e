package providers

import (
	"strconv"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

const (
	// CUDAProviderBackend uses NVIDIA CUDA for inference optimization.
	CUDAProviderBackend ProviderBackend = "cuda"
)

// CUDAOptions contains arguments for the CUDA provider.
// See:
// https://onnxruntime.ai/docs/execution-providers/CUDA-ExecutionProvider.html#configuration-options
type CUDAOptions struct {
	// The device ID.
	DeviceID int `json:"deviceID" yaml:"deviceID"`
	// The size limit of the device memory arena in bytes. Zero leaves the
	// runtime default (no limit).
	GPUMemLimit int64 `json:"gpuMemLimit" yaml:"gpuMemLimit"`
	// The strategy for extending the device memory arena:
	// kNextPowerOfTwo or kSameAsRequested.
	ArenaExtendStrategy string `json:"arenaExtendStrategy" yaml:"arenaExtendStrategy"`
	// The type of search done for cuDNN convolution algorithms:
	// EXHAUSTIVE, HEURISTIC or DEFAULT.
	CudnnConvAlgoSearch string `json:"cudnnConvAlgoSearch" yaml:"cudnnConvAlgoSearch"`
	// Whether to do copies in the default stream or use separate streams. The recommended setting is
	// true. If false, there are race conditions and possibly better performance.
	DoCopyInDefaultStream bool `json:"doCopyInDefaultStream" yaml:"doCopyInDefaultStream"`
	// TF32 math on Ampere and later GPUs.
	UseTF32 bool `json:"useTF32" yaml:"useTF32"`
}

// DefaultCUDAOptions returns the settings recommended by the runtime.
func DefaultCUDAOptions() CUDAOptions {
	return CUDAOptions{
		ArenaExtendStrategy:   "kNextPowerOfTwo",
		CudnnConvAlgoSearch:   "EXHAUSTIVE",
		DoCopyInDefaultStream: true,
		UseTF32:               true,
	}
}

func (CUDAOptions) isProviderOptions() {}

// Map returns the options as the key/value pairs the runtime accepts.
// Unset values are omitted so the runtime defaults apply.
func (o CUDAOptions) Map() map[string]string {
	m := map[string]string{
		"device_id":                 strconv.Itoa(o.DeviceID),
		"do_copy_in_default_stream": boolFlag(o.DoCopyInDefaultStream),
		"use_tf32":                  boolFlag(o.UseTF32),
	}
	if o.GPUMemLimit > 0 {
		m["gpu_mem_limit"] = strconv.FormatInt(o.GPUMemLimit, 10)
	}
	if o.ArenaExtendStrategy != "" {
		m["arena_extend_strategy"] = o.ArenaExtendStrategy
	}
	if o.CudnnConvAlgoSearch != "" {
		m["cudnn_conv_algo_search"] = o.CudnnConvAlgoSearch
	}
	return m
}

// CUDAProvider implements the ExecutionProvider interface.
type CUDAProvider struct {
	options CUDAOptions
}

// NewCUDAProvider creates a new CUDA provider.
func NewCUDAProvider(options CUDAOptions) *CUDAProvider {
	return &CUDAProvider{options: options}
}

// Backend returns CUDAProviderBackend.
func (p *CUDAProvider) Backend() ProviderBackend {
	return CUDAProviderBackend
}

// Options returns the CUDA options.
func (p *CUDAProvider) Options() ProviderOptions {
	return p.options
}

// Apply enables CUDA on the session options.
func (p *CUDAProvider) Apply(options *ort.SessionOptions) error {
	cuda, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return errors.Wrap(err, "error creating CUDA options")
	}
	defer cuda.Destroy()

	if err := cuda.Update(p.options.Map()); err != nil {
		return errors.Wrap(err, "error converting CUDA options")
	}
	if err := options.AppendExecutionProviderCUDA(cuda); err != nil {
		return errors.Wrap(err, "error enabling CUDA")
	}
	return nil
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
