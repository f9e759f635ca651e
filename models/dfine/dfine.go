// Package dfine - D-FINE and RT-DETR model outputs.
package dfine

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-detect/images"
	"github.com/nvr-ai/go-detect/models/model"
	"github.com/nvr-ai/go-detect/models/postprocess"
)

// rowSize is the width of a decoded row: x1, y1, x2, y2, score, class.
const rowSize = 6

// DFINE decodes DETR style heads. Three export layouts are accepted:
//   - one [N,6] (or [1,N,6]) tensor of rows in input canvas pixels,
//   - boxes, scores and labels outputs in input canvas pixels,
//   - the raw head: logits [1,Q,C] and boxes [1,Q,4] as normalized cx, cy, w, h.
//
// DETR heads predict a fixed set of queries, so no NMS is applied.
type DFINE struct {
	config model.Config
}

// NewModel creates a D-FINE decoder.
func NewModel(config model.Config) (*DFINE, error) {
	if config.Width <= 0 || config.Height <= 0 {
		return nil, errors.Errorf("invalid input size %dx%d", config.Width, config.Height)
	}
	config.Family = model.FamilyDFINE
	return &DFINE{config: config}, nil
}

// Family returns model.FamilyDFINE.
func (m *DFINE) Family() model.Family {
	return model.FamilyDFINE
}

// Config returns the decoding configuration.
func (m *DFINE) Config() model.Config {
	return m.config
}

// ResizeMode returns images.ResizeStretch.
func (m *DFINE) ResizeMode() images.ResizeMode {
	return images.ResizeStretch
}

// HeadClasses reads the class count from a raw logits output, the only
// layout that carries one.
func (m *DFINE) HeadClasses(shapes [][]int64) (int, bool) {
	if len(shapes) != 2 {
		return 0, false
	}
	for _, shape := range shapes {
		if len(shape) == 3 && shape[2] != 4 {
			return int(shape[2]), true
		}
	}
	return 0, false
}

// PostProcess converts the outputs into results in original pixels, keeping
// model order.
func (m *DFINE) PostProcess(outputs []model.Output, tf images.Transform) ([]postprocess.Result, error) {
	var (
		results []postprocess.Result
		err     error
	)
	switch len(outputs) {
	case 1:
		results, err = m.fromRows(outputs[0])
	case 2:
		results, err = m.fromHead(outputs)
	case 3:
		results, err = m.fromTriples(outputs)
	default:
		err = errors.Errorf("expected 1, 2 or 3 outputs, got %d", len(outputs))
	}
	if err != nil {
		return nil, errors.Wrap(err, "d-fine")
	}

	kept := results[:0]
	for _, r := range results {
		if r.Score < m.config.MinScore {
			continue
		}
		r.Box = tf.ToOriginal(r.Box)
		if !r.Box.Empty() {
			kept = append(kept, r)
		}
	}
	return kept, nil
}

func (m *DFINE) fromRows(output model.Output) ([]postprocess.Result, error) {
	if output.Dim(len(output.Shape)-1) != rowSize || output.Len()%rowSize != 0 {
		return nil, errors.Errorf("unexpected output shape %v", output.Shape)
	}

	n := output.Len() / rowSize
	results := make([]postprocess.Result, 0, n)
	for i := 0; i < n; i++ {
		off := i * rowSize
		results = append(results, postprocess.Result{
			Box: images.Rect{
				X1: output.At(off),
				Y1: output.At(off + 1),
				X2: output.At(off + 2),
				Y2: output.At(off + 3),
			},
			Score: output.At(off + 4),
			Class: int(output.At(off + 5)),
		})
	}
	return results, nil
}

func (m *DFINE) fromTriples(outputs []model.Output) ([]postprocess.Result, error) {
	triples, err := model.SplitTriples(outputs)
	if err != nil {
		return nil, err
	}
	results := make([]postprocess.Result, triples.Len())
	for i := range results {
		results[i] = postprocess.Result{
			Box:   triples.Boxes[i],
			Score: triples.Scores[i],
			Class: triples.Labels[i],
		}
	}
	return results, nil
}

// fromHead decodes raw query predictions: a sigmoid over each class logit,
// the best class per query, and boxes scaled from [0,1] to the canvas.
func (m *DFINE) fromHead(outputs []model.Output) ([]postprocess.Result, error) {
	logits, boxes := outputs[0], outputs[1]
	if boxes.Dim(len(boxes.Shape)-1) != 4 {
		logits, boxes = boxes, logits
	}
	if len(logits.Shape) != 3 || len(boxes.Shape) != 3 || boxes.Dim(2) != 4 {
		return nil, errors.Errorf("unexpected head shapes %v and %v", outputs[0].Shape, outputs[1].Shape)
	}

	queries, classes := int(logits.Dim(1)), int(logits.Dim(2))
	if int(boxes.Dim(1)) != queries || logits.Len() != queries*classes || boxes.Len() != queries*4 {
		return nil, errors.Errorf("mismatched head shapes %v and %v", logits.Shape, boxes.Shape)
	}

	w, h := float32(m.config.Width), float32(m.config.Height)
	results := make([]postprocess.Result, 0, queries)
	for q := 0; q < queries; q++ {
		class, score := 0, float32(-1)
		for c := 0; c < classes; c++ {
			if s := sigmoid(logits.At(q*classes + c)); s > score {
				class, score = c, s
			}
		}
		b := q * 4
		results = append(results, postprocess.Result{
			Box:   images.FromCenter(boxes.At(b)*w, boxes.At(b+1)*h, boxes.At(b+2)*w, boxes.At(b+3)*h),
			Score: score,
			Class: class,
		})
	}
	return results, nil
}

func sigmoid(v float32) float32 {
	return 1 / (1 + math32.Exp(-v))
}
