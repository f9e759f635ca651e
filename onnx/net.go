package onnx

import (
	"os"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-detect/models/model"
)

// NetSession is one loaded OpenCV DNN network. A NetSession is not safe for
// concurrent use.
type NetSession struct {
	net     gocv.Net
	outputs []string
}

// NewNetSession loads the graph and selects the backend for config.Device.
//
// Arguments:
//   - config: The model path, device and optional output layer names.
//
// Returns:
//   - *NetSession: The loaded network. The caller must Close it.
//   - error: If the file is missing or empty, or OpenCV cannot parse it.
func NewNetSession(config NetConfig) (*NetSession, error) {
	info, err := os.Stat(config.ModelPath)
	if err != nil {
		return nil, errors.Wrap(err, "model file not found")
	}
	if info.Size() == 0 {
		return nil, errors.Errorf("model file is empty: %s", config.ModelPath)
	}

	backend, target, err := Targets(config.Device)
	if err != nil {
		return nil, err
	}

	net, err := readNet(config.ModelPath)
	if err != nil {
		return nil, err
	}

	if err := net.SetPreferableBackend(backend); err != nil {
		net.Close()
		return nil, errors.Wrap(err, "set backend")
	}
	if err := net.SetPreferableTarget(target); err != nil {
		net.Close()
		return nil, errors.Wrap(err, "set target")
	}

	outputs := config.Outputs
	if len(outputs) == 0 {
		outputs = outputLayers(net)
	}
	if len(outputs) == 0 {
		net.Close()
		return nil, errors.Errorf("no output layers in %s", config.ModelPath)
	}

	return &NetSession{net: net, outputs: outputs}, nil
}

// readNet loads the graph, turning OpenCV exceptions surfaced as panics into
// errors.
func readNet(path string) (net gocv.Net, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic during model loading: %v", r)
		}
	}()

	net = gocv.ReadNet(path, "")
	if net.Empty() {
		net.Close()
		return net, errors.Errorf("opencv cannot load %s", path)
	}
	return net, nil
}

func outputLayers(net gocv.Net) []string {
	ids := net.GetUnconnectedOutLayers()
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		layer := net.GetLayer(id)
		names = append(names, layer.GetName())
		layer.Close()
	}
	return names
}

// Outputs returns the output layer names in the order Run returns them.
func (s *NetSession) Outputs() []string {
	return append([]string(nil), s.outputs...)
}

// Run feeds input to the network and copies every output layer out of
// OpenCV memory.
//
// Arguments:
//   - input: The NCHW image tensor.
//
// Returns:
//   - []model.Output: One float output per layer, in Outputs order.
//   - error: If the input or an output cannot be mapped to float32 memory.
func (s *NetSession) Run(input model.Input) ([]model.Output, error) {
	blob, err := toBlob(input)
	if err != nil {
		return nil, err
	}
	defer blob.Close()

	s.net.SetInput(blob, "")
	mats := s.net.ForwardLayers(s.outputs)
	defer func() {
		for _, m := range mats {
			m.Close()
		}
	}()

	if len(mats) != len(s.outputs) {
		return nil, errors.Errorf("network produced %d outputs, want %d", len(mats), len(s.outputs))
	}

	outputs := make([]model.Output, len(mats))
	for i, m := range mats {
		out, err := fromMat(s.outputs[i], m)
		if err != nil {
			return nil, err
		}
		outputs[i] = out
	}
	return outputs, nil
}

// Close releases the network.
func (s *NetSession) Close() error {
	return s.net.Close()
}

// toBlob copies an NCHW tensor into a 4-D float Mat.
func toBlob(input model.Input) (gocv.Mat, error) {
	if len(input.Shape) != 4 {
		return gocv.NewMat(), errors.Errorf("input shape %v is not NCHW", input.Shape)
	}

	sizes := make([]int, len(input.Shape))
	total := 1
	for i, d := range input.Shape {
		sizes[i] = int(d)
		total *= int(d)
	}
	if total != len(input.Data) {
		return gocv.NewMat(), errors.Errorf("input holds %d values for shape %v", len(input.Data), input.Shape)
	}

	blob := gocv.NewMatWithSizes(sizes, gocv.MatTypeCV32F)
	data, err := blob.DataPtrFloat32()
	if err != nil {
		blob.Close()
		return gocv.NewMat(), errors.Wrap(err, "map input blob")
	}
	copy(data, input.Data)
	return blob, nil
}

// fromMat copies a float Mat and its n-dimensional shape.
func fromMat(name string, m gocv.Mat) (model.Output, error) {
	data, err := m.DataPtrFloat32()
	if err != nil {
		return model.Output{}, errors.Wrapf(err, "read output %q", name)
	}

	sizes := m.Size()
	shape := make([]int64, len(sizes))
	for i, d := range sizes {
		shape[i] = int64(d)
	}

	return model.Output{
		Name:  name,
		Shape: shape,
		Float: append([]float32(nil), data...),
	}, nil
}
