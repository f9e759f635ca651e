package providers

import (
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

const (
	// CoreMLProviderBackend uses Apple CoreML for macOS/iOS acceleration.
	CoreMLProviderBackend ProviderBackend = "coreml"
)

// CoreML provider flags, see coreml_provider_factory.h.
const (
	CoreMLFlagUseCPUOnly                 uint32 = 0x001
	CoreMLFlagEnableOnSubgraph           uint32 = 0x002
	CoreMLFlagOnlyEnableDeviceWithANE    uint32 = 0x004
	CoreMLFlagOnlyAllowStaticInputShapes uint32 = 0x008
	CoreMLFlagCreateMLProgram            uint32 = 0x010
)

// CoreMLOptions contains arguments for the CoreML provider.
// See: https://onnxruntime.ai/docs/execution-providers/CoreML-ExecutionProvider.html
type CoreMLOptions struct {
	// Limit CoreML to running on CPU only.
	CPUOnly bool `json:"cpuOnly" yaml:"cpuOnly"`
	// Enable CoreML EP to run on a subgraph in the body of a control flow operator.
	EnableOnSubgraphs bool `json:"enableOnSubgraphs" yaml:"enableOnSubgraphs"`
	// Only allow the CoreML EP to take nodes with inputs that have static shapes.
	RequireStaticInputShapes bool `json:"requireStaticInputShapes" yaml:"requireStaticInputShapes"`
	// Create an MLProgram format model. Requires Core ML 5 or later.
	MLProgram bool `json:"mlProgram" yaml:"mlProgram"`
}

func (CoreMLOptions) isProviderOptions() {}

// Flags packs the options into the provider's bit flags.
func (o CoreMLOptions) Flags() uint32 {
	var flags uint32
	if o.CPUOnly {
		flags |= CoreMLFlagUseCPUOnly
	}
	if o.EnableOnSubgraphs {
		flags |= CoreMLFlagEnableOnSubgraph
	}
	if o.RequireStaticInputShapes {
		flags |= CoreMLFlagOnlyAllowStaticInputShapes
	}
	if o.MLProgram {
		flags |= CoreMLFlagCreateMLProgram
	}
	return flags
}

// CoreMLProvider implements the ExecutionProvider interface.
type CoreMLProvider struct {
	options CoreMLOptions
}

// NewCoreMLProvider creates a new CoreML provider.
func NewCoreMLProvider(options CoreMLOptions) *CoreMLProvider {
	return &CoreMLProvider{options: options}
}

// Backend returns CoreMLProviderBackend.
func (p *CoreMLProvider) Backend() ProviderBackend {
	return CoreMLProviderBackend
}

// Options returns the CoreML options.
func (p *CoreMLProvider) Options() ProviderOptions {
	return p.options
}

// Apply enables CoreML on the session options.
func (p *CoreMLProvider) Apply(options *ort.SessionOptions) error {
	if err := options.AppendExecutionProviderCoreML(p.options.Flags()); err != nil {
		return errors.Wrap(err, "error enabling CoreML")
	}
	return nil
}
