package providers

import (
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// TensorInfo describes one model input or output.
type TensorInfo struct {
	Name string
	// Dimensions, with -1 for dynamic axes.
	Shape []int64
}

// ModelInfo is what can be read from an ONNX file without creating a session.
type ModelInfo struct {
	Inputs  []TensorInfo
	Outputs []TensorInfo
	// Custom metadata recorded by the exporter, e.g. names and num_classes.
	Metadata map[string]string
}

// InputNames returns the input tensor names in graph order.
func (m ModelInfo) InputNames() []string {
	return tensorNames(m.Inputs)
}

// OutputNames returns the output tensor names in graph order.
func (m ModelInfo) OutputNames() []string {
	return tensorNames(m.Outputs)
}

// OutputShapes returns the output shapes in graph order.
func (m ModelInfo) OutputShapes() [][]int64 {
	shapes := make([][]int64, len(m.Outputs))
	for i, o := range m.Outputs {
		shapes[i] = o.Shape
	}
	return shapes
}

func tensorNames(infos []TensorInfo) []string {
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name
	}
	return names
}

// ReadModelInfo reads the graph signature and custom metadata of an ONNX file.
// InitEnvironment must have been called.
//
// Arguments:
//   - path: The ONNX model file.
//
// Returns:
//   - ModelInfo: Inputs, outputs and metadata.
//   - error: If the file cannot be parsed.
func ReadModelInfo(path string) (ModelInfo, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return ModelInfo{}, errors.Wrap(err, "read model inputs and outputs")
	}

	info := ModelInfo{Metadata: map[string]string{}}
	for _, in := range inputs {
		info.Inputs = append(info.Inputs, TensorInfo{Name: in.Name, Shape: in.Dimensions.Clone()})
	}
	for _, out := range outputs {
		info.Outputs = append(info.Outputs, TensorInfo{Name: out.Name, Shape: out.Dimensions.Clone()})
	}

	meta, err := ort.GetModelMetadata(path)
	if err != nil {
		return ModelInfo{}, errors.Wrap(err, "read model metadata")
	}
	defer meta.Destroy()

	keys, err := meta.GetCustomMetadataMapKeys()
	if err != nil {
		return ModelInfo{}, errors.Wrap(err, "list model metadata")
	}
	for _, key := range keys {
		value, ok, err := meta.LookupCustomMetadataMap(key)
		if err != nil {
			return ModelInfo{}, errors.Wrapf(err, "read model metadata %q", key)
		}
		if ok {
			info.Metadata[key] = value
		}
	}
	return info, nil
}
