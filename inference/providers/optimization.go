package providers

import (
	"runtime"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// OptimizationConfig contains the ONNX Runtime session settings.
type OptimizationConfig struct {
	// GraphOptimizationLevel controls the level of graph optimization.
	GraphOptimizationLevel ort.GraphOptimizationLevel `json:"graph_optimization_level"`

	// ExecutionMode controls sequential vs parallel execution.
	ExecutionMode ort.ExecutionMode `json:"execution_mode"`

	// IntraOpNumThreads sets threads for parallelizing ops. Zero lets the runtime decide.
	IntraOpNumThreads int `json:"intra_op_num_threads"`

	// InterOpNumThreads sets threads for parallelizing independent ops.
	InterOpNumThreads int `json:"inter_op_num_threads"`
}

// DefaultOptimizationConfig splits the CPUs across the sessions of a pool.
//
// Arguments:
//   - poolSize: The number of sessions that will run concurrently.
//
// Returns:
//   - OptimizationConfig: Extended graph optimizations with sequential
//     execution and an even share of intra-op threads per session.
func DefaultOptimizationConfig(poolSize int) OptimizationConfig {
	return OptimizationConfig{
		GraphOptimizationLevel: ort.GraphOptimizationLevelEnableExtended,
		ExecutionMode:          ort.ExecutionModeSequential,
		IntraOpNumThreads:      max(1, runtime.NumCPU()/max(1, poolSize)),
		InterOpNumThreads:      1,
	}
}

// OptimizedSessionOptions creates session options from config and registers
// the execution provider.
//
// The caller must Destroy the returned options once the session is created.
//
// Arguments:
//   - config: The optimization settings.
//   - provider: The execution provider to enable.
//
// Returns:
//   - *ort.SessionOptions: Configured session options.
//   - error: If an option is rejected by the runtime.
func OptimizedSessionOptions(config OptimizationConfig, provider ExecutionProvider) (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "error creating ORT session options")
	}

	steps := []func() error{
		func() error { return options.SetGraphOptimizationLevel(config.GraphOptimizationLevel) },
		func() error { return options.SetExecutionMode(config.ExecutionMode) },
		func() error { return options.SetIntraOpNumThreads(config.IntraOpNumThreads) },
		func() error { return options.SetInterOpNumThreads(config.InterOpNumThreads) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			options.Destroy()
			return nil, errors.Wrap(err, "error configuring ORT session options")
		}
	}

	if provider != nil {
		if err := provider.Apply(options); err != nil {
			options.Destroy()
			return nil, err
		}
	}
	return options, nil
}
