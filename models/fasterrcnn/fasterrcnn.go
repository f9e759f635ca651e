// Package fasterrcnn - Faster R-CNN (two-stage) model outputs.
package fasterrcnn

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-detect/images"
	"github.com/nvr-ai/go-detect/models/model"
	"github.com/nvr-ai/go-detect/models/postprocess"
)

// rowSize is the width of a DetectionOutput row:
// image_id, label, confidence, x1, y1, x2, y2.
const rowSize = 7

// FasterRCNN decodes the outputs of a two-stage region-proposal detector.
//
// Two export layouts are accepted:
//   - torchvision: boxes[N,4], labels[N], scores[N] in input canvas pixels.
//   - DetectionOutput: a single [1,1,N,7] tensor with normalized coordinates.
type FasterRCNN struct {
	config model.Config
}

// NewModel creates a Faster R-CNN decoder.
//
// Arguments:
//   - config: The decoding configuration. NumClasses counts the background.
//
// Returns:
//   - *FasterRCNN: The decoder.
//   - error: If the configuration is unusable.
func NewModel(config model.Config) (*FasterRCNN, error) {
	if config.Width <= 0 || config.Height <= 0 {
		return nil, errors.Errorf("invalid input size %dx%d", config.Width, config.Height)
	}
	config.Family = model.FamilyFasterRCNN
	return &FasterRCNN{config: config}, nil
}

// Family returns model.FamilyFasterRCNN.
func (m *FasterRCNN) Family() model.Family {
	return model.FamilyFasterRCNN
}

// Config returns the decoding configuration.
func (m *FasterRCNN) Config() model.Config {
	return m.config
}

// ResizeMode returns images.ResizeStretch. torchvision resizes internally, so
// the canvas is filled without padding.
func (m *FasterRCNN) ResizeMode() images.ResizeMode {
	return images.ResizeStretch
}

// HeadClasses always returns false; the output shapes do not encode the
// class count.
func (m *FasterRCNN) HeadClasses([][]int64) (int, bool) {
	return 0, false
}

// PostProcess converts the model outputs into results in original pixels.
//
// Background (class 0), results under the score floor and boxes that clip to
// nothing are dropped. Order follows the model.
func (m *FasterRCNN) PostProcess(outputs []model.Output, tf images.Transform) ([]postprocess.Result, error) {
	switch len(outputs) {
	case 3:
		return m.fromTriples(outputs, tf)
	case 1:
		return m.fromRows(outputs[0], tf)
	default:
		return nil, errors.Errorf("faster r-cnn: expected 1 or 3 outputs, got %d", len(outputs))
	}
}

func (m *FasterRCNN) fromTriples(outputs []model.Output, tf images.Transform) ([]postprocess.Result, error) {
	triples, err := model.SplitTriples(outputs)
	if err != nil {
		return nil, errors.Wrap(err, "faster r-cnn")
	}

	results := make([]postprocess.Result, 0, triples.Len())
	for i := 0; i < triples.Len(); i++ {
		r := postprocess.Result{
			Box:   tf.ToOriginal(triples.Boxes[i]),
			Score: triples.Scores[i],
			Class: triples.Labels[i],
		}
		if m.keep(r) {
			results = append(results, r)
		}
	}
	return results, nil
}

func (m *FasterRCNN) fromRows(output model.Output, tf images.Transform) ([]postprocess.Result, error) {
	if output.Dim(len(output.Shape)-1) != rowSize || output.Len()%rowSize != 0 {
		return nil, errors.Errorf("faster r-cnn: unexpected detection output shape %v", output.Shape)
	}

	n := output.Len() / rowSize
	results := make([]postprocess.Result, 0, n)
	for i := 0; i < n; i++ {
		off := i * rowSize
		r := postprocess.Result{
			Class: int(output.At(off + 1)),
			Score: output.At(off + 2),
			Box: tf.FromNormalized(images.Rect{
				X1: output.At(off + 3),
				Y1: output.At(off + 4),
				X2: output.At(off + 5),
				Y2: output.At(off + 6),
			}),
		}
		if m.keep(r) {
			results = append(results, r)
		}
	}
	return results, nil
}

func (m *FasterRCNN) keep(r postprocess.Result) bool {
	return r.Class != 0 && r.Score >= m.config.MinScore && !r.Box.Empty()
}
