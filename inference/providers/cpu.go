package providers

import ort "github.com/yalue/onnxruntime_go"

const (
	// CPUProviderBackend runs inference on the default CPU provider.
	CPUProviderBackend ProviderBackend = "cpu"
)

// CPUOptions carries no settings; threading is part of OptimizationConfig.
type CPUOptions struct{}

func (CPUOptions) isProviderOptions() {}

// CPUProvider is the provider ONNX Runtime always falls back to.
type CPUProvider struct{}

// NewCPUProvider creates a new CPU provider.
func NewCPUProvider() *CPUProvider {
	return &CPUProvider{}
}

// Backend returns CPUProviderBackend.
func (p *CPUProvider) Backend() ProviderBackend {
	return CPUProviderBackend
}

// Options returns CPUOptions.
func (p *CPUProvider) Options() ProviderOptions {
	return CPUOptions{}
}

// Apply is a no-op; the CPU provider is registered implicitly.
func (p *CPUProvider) Apply(*ort.SessionOptions) error {
	return nil
}
