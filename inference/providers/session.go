package providers

import (
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/nvr-ai/go-detect/models/model"
)

// Session is one ONNX Runtime session. A Session is not safe for concurrent
// use; pool sessions instead of sharing one.
type Session struct {
	session *ort.DynamicAdvancedSession
	inputs  []string
	outputs []string
}

// NewSessionArgs represents the arguments for creating a new ONNX session.
type NewSessionArgs struct {
	// The path to the ONNX model file.
	ModelPath string
	// The input tensor names. The first one receives the image.
	Inputs []string
	// The output tensor names, in the order the decoder expects them.
	Outputs []string
	// Session tuning.
	Optimization OptimizationConfig
}

// NewSession creates a new ONNX Runtime session.
//
// Order of operations:
//  1. Session options: threading and graph optimization level.
//  2. Execution provider: CUDA, CoreML or OpenVINO when configured.
//  3. Session creation: loads the model. Outputs are allocated by the runtime
//     on every Run, so one session serves every output layout.
//
// InitEnvironment must have been called.
//
// Arguments:
//   - provider: The execution provider for the session.
//   - args: The model path and tensor names.
//
// Returns:
//   - *Session: The runnable session. The caller must Close it.
//   - error: An error if the session creation fails.
func NewSession(provider ExecutionProvider, args NewSessionArgs) (*Session, error) {
	if len(args.Inputs) == 0 || len(args.Outputs) == 0 {
		return nil, errors.New("session requires input and output names")
	}

	options, err := OptimizedSessionOptions(args.Optimization, provider)
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	session, err := ort.NewDynamicAdvancedSession(args.ModelPath, args.Inputs[:1], args.Outputs, options)
	if err != nil {
		return nil, errors.Wrap(err, "error creating ORT session")
	}

	return &Session{
		session: session,
		inputs:  args.Inputs[:1],
		outputs: append([]string(nil), args.Outputs...),
	}, nil
}

// Run executes the model on one input tensor and copies every output out of
// native memory.
//
// Arguments:
//   - input: The NCHW image tensor.
//
// Returns:
//   - []model.Output: One entry per output name, in order.
//   - error: If the runtime rejects the input or an output has an
//     unsupported element type.
func (s *Session) Run(input model.Input) ([]model.Output, error) {
	tensor, err := ort.NewTensor(ort.NewShape(input.Shape...), input.Data)
	if err != nil {
		return nil, errors.Wrap(err, "error creating input tensor")
	}
	defer tensor.Destroy()

	values := make([]ort.Value, len(s.outputs))
	defer func() {
		for _, v := range values {
			if v != nil {
				v.Destroy()
			}
		}
	}()

	if err := s.session.Run([]ort.Value{tensor}, values); err != nil {
		return nil, errors.Wrap(err, "error running ORT session")
	}

	outputs := make([]model.Output, len(values))
	for i, v := range values {
		out, err := copyOutput(s.outputs[i], v)
		if err != nil {
			return nil, err
		}
		outputs[i] = out
	}
	return outputs, nil
}

func copyOutput(name string, v ort.Value) (model.Output, error) {
	out := model.Output{Name: name}
	switch t := v.(type) {
	case *ort.Tensor[float32]:
		out.Shape = t.GetShape().Clone()
		out.Float = append([]float32(nil), t.GetData()...)
	case *ort.Tensor[int64]:
		out.Shape = t.GetShape().Clone()
		out.Int = append([]int64(nil), t.GetData()...)
	case *ort.Tensor[int32]:
		out.Shape = t.GetShape().Clone()
		data := t.GetData()
		out.Int = make([]int64, len(data))
		for i, d := range data {
			out.Int[i] = int64(d)
		}
	default:
		return out, errors.Errorf("output %q has unsupported type %T", name, v)
	}
	return out, nil
}

// Close releases the native session.
func (s *Session) Close() error {
	if s.session == nil {
		return nil
	}
	err := s.session.Destroy()
	s.session = nil
	if err != nil {
		return errors.Wrap(err, "error destroying ORT session")
	}
	return nil
}
