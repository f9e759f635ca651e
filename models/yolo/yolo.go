// Package yolo - YOLOv8 and YOLOv5 model outputs.
package yolo

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-detect/images"
	"github.com/nvr-ai/go-detect/models/model"
	"github.com/nvr-ai/go-detect/models/postprocess"
)

// YOLO decodes single-stage YOLO heads.
//
// YOLOv8 emits [1, 4+C, A]: for each of A anchors the rows hold cx, cy, w, h
// followed by one score per class. YOLOv5 emits [1, A, 5+C]: each anchor row
// holds cx, cy, w, h, objectness and then the class scores.
type YOLO struct {
	config model.Config
	// Logits is set for heads exported without the final sigmoid.
	Logits bool
}

// NewModel creates a YOLO decoder for config.Family.
//
// Arguments:
//   - config: The decoding configuration. Family must be YOLOv8 or YOLOv5.
//
// Returns:
//   - *YOLO: The decoder.
//   - error: If the family or input size is unsupported.
func NewModel(config model.Config) (*YOLO, error) {
	if config.Family != model.FamilyYOLOv8 && config.Family != model.FamilyYOLOv5 {
		return nil, errors.Errorf("yolo: unsupported family %q", config.Family)
	}
	if config.Width <= 0 || config.Height <= 0 {
		return nil, errors.Errorf("invalid input size %dx%d", config.Width, config.Height)
	}
	return &YOLO{config: config}, nil
}

// Family returns the configured YOLO generation.
func (m *YOLO) Family() model.Family {
	return m.config.Family
}

// Config returns the decoding configuration.
func (m *YOLO) Config() model.Config {
	return m.config
}

// ResizeMode returns images.ResizeLetterbox, the preprocessing YOLO models
// are trained with.
func (m *YOLO) ResizeMode() images.ResizeMode {
	return images.ResizeLetterbox
}

// HeadClasses returns the number of classes encoded in the first output.
func (m *YOLO) HeadClasses(shapes [][]int64) (int, bool) {
	if len(shapes) == 0 || len(shapes[0]) != 3 {
		return 0, false
	}
	shape := shapes[0]
	if m.config.Family == model.FamilyYOLOv8 {
		if shape[1] <= 4 {
			return 0, false
		}
		return int(shape[1] - 4), true
	}
	if shape[2] <= 5 {
		return 0, false
	}
	return int(shape[2] - 5), true
}

// PostProcess decodes the head, applies the score floor and class-aware NMS,
// and maps the surviving boxes to original pixels.
//
// Results are ordered by descending score.
func (m *YOLO) PostProcess(outputs []model.Output, tf images.Transform) ([]postprocess.Result, error) {
	if len(outputs) == 0 {
		return nil, errors.New("yolo: no outputs")
	}
	out := outputs[0]
	if len(out.Shape) != 3 || out.Float == nil {
		return nil, errors.Errorf("yolo: unexpected output shape %v", out.Shape)
	}
	if int64(out.Len()) != out.Shape[0]*out.Shape[1]*out.Shape[2] {
		return nil, errors.Errorf("yolo: output holds %d values for shape %v", out.Len(), out.Shape)
	}

	var (
		results []postprocess.Result
		err     error
	)
	if m.config.Family == model.FamilyYOLOv8 {
		results, err = m.decodeV8(out)
	} else {
		results, err = m.decodeV5(out)
	}
	if err != nil {
		return nil, err
	}

	results = postprocess.ApplyGreedyNMS(results, m.config.NMS)

	kept := results[:0]
	for _, r := range results {
		r.Box = tf.ToOriginal(r.Box)
		if !r.Box.Empty() {
			kept = append(kept, r)
		}
	}
	return kept, nil
}

func (m *YOLO) decodeV8(out model.Output) ([]postprocess.Result, error) {
	attrs, anchors := int(out.Shape[1]), int(out.Shape[2])
	classes := attrs - 4
	if classes <= 0 {
		return nil, errors.Errorf("yolov8: no class scores in shape %v", out.Shape)
	}

	data := out.Float
	at := func(attr, anchor int) float32 {
		return data[attr*anchors+anchor]
	}

	var results []postprocess.Result
	for a := 0; a < anchors; a++ {
		class, score := 0, float32(-1)
		for c := 0; c < classes; c++ {
			if s := m.activate(at(4+c, a)); s > score {
				class, score = c, s
			}
		}
		if score < m.config.MinScore {
			continue
		}
		results = append(results, postprocess.Result{
			Box:   images.FromCenter(at(0, a), at(1, a), at(2, a), at(3, a)),
			Score: score,
			Class: class,
		})
	}
	return results, nil
}

func (m *YOLO) decodeV5(out model.Output) ([]postprocess.Result, error) {
	anchors, attrs := int(out.Shape[1]), int(out.Shape[2])
	classes := attrs - 5
	if classes <= 0 {
		return nil, errors.Errorf("yolov5: no class scores in shape %v", out.Shape)
	}

	var results []postprocess.Result
	for a := 0; a < anchors; a++ {
		row := out.Float[a*attrs : (a+1)*attrs]
		objectness := m.activate(row[4])
		if objectness < m.config.MinScore {
			continue
		}

		class, best := 0, float32(-1)
		for c := 0; c < classes; c++ {
			if s := m.activate(row[5+c]); s > best {
				class, best = c, s
			}
		}
		score := objectness * best
		if score < m.config.MinScore {
			continue
		}
		results = append(results, postprocess.Result{
			Box:   images.FromCenter(row[0], row[1], row[2], row[3]),
			Score: score,
			Class: class,
		})
	}
	return results, nil
}

func (m *YOLO) activate(v float32) float32 {
	if !m.Logits {
		return v
	}
	return sigmoid(v)
}

func sigmoid(v float32) float32 {
	return 1 / (1 + math32.Exp(-v))
}
