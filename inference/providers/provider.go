// Package providers - ONNX Runtime execution providers and sessions.
package providers

import (
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// ProviderBackend names an ONNX Runtime execution provider.
type ProviderBackend string

// ProviderOptions is a marker interface for provider-specific config.
type ProviderOptions interface {
	isProviderOptions()
}

// ExecutionProvider represents the contract that all execution providers must implement.
type ExecutionProvider interface {
	// Backend returns the provider's name.
	Backend() ProviderBackend
	// Options returns the provider-specific configuration.
	Options() ProviderOptions
	// Apply registers the provider on a set of session options.
	Apply(options *ort.SessionOptions) error
}

// Backends lists the providers that can be selected by name.
var Backends = []ProviderBackend{
	CPUProviderBackend,
	CUDAProviderBackend,
	CoreMLProviderBackend,
	OpenVINOProviderBackend,
}

// ParseBackend returns the backend named by s.
func ParseBackend(s string) (ProviderBackend, error) {
	for _, b := range Backends {
		if string(b) == s {
			return b, nil
		}
	}
	return "", errors.Errorf("unknown execution provider %q", s)
}

// NewProvider creates a new provider based on the required backend.
//
// Arguments:
//   - backend: The backend to use.
//   - options: The options for the provider. Nil selects the backend's defaults.
//
// Returns:
//   - ExecutionProvider: The new provider.
//   - error: If the backend is unknown or the options belong to another backend.
func NewProvider(backend ProviderBackend, options ProviderOptions) (ExecutionProvider, error) {
	switch backend {
	case CPUProviderBackend:
		return NewCPUProvider(), nil
	case CUDAProviderBackend:
		opts, err := optionsOrDefault(options, DefaultCUDAOptions())
		if err != nil {
			return nil, err
		}
		return NewCUDAProvider(opts), nil
	case CoreMLProviderBackend:
		opts, err := optionsOrDefault(options, CoreMLOptions{})
		if err != nil {
			return nil, err
		}
		return NewCoreMLProvider(opts), nil
	case OpenVINOProviderBackend:
		opts, err := optionsOrDefault(options, DefaultOpenVINOOptions())
		if err != nil {
			return nil, err
		}
		return NewOpenVINOProvider(opts), nil
	default:
		return nil, errors.Errorf("no matching provider backend registered: %s", backend)
	}
}

func optionsOrDefault[T ProviderOptions](options ProviderOptions, def T) (T, error) {
	if options == nil {
		return def, nil
	}
	opts, ok := options.(T)
	if !ok {
		return def, errors.Errorf("invalid options type %T, want %T", options, def)
	}
	return opts, nil
}
