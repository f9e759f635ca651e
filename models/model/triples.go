package model

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-detect/images"
)

// Triples is the (boxes, scores, labels) layout exported by torchvision and
// by post-processed DETR graphs.
type Triples struct {
	Boxes  []images.Rect
	Scores []float32
	Labels []int
}

// Len returns the number of detections.
func (t Triples) Len() int {
	return len(t.Scores)
}

// SplitTriples picks the boxes, scores and labels outputs, by name when the
// graph names them and by shape otherwise, and checks they agree in length.
//
// Arguments:
//   - outputs: Exactly three network outputs.
//
// Returns:
//   - Triples: Boxes in input canvas coordinates, scores and class indices.
//   - error: When an output is missing or the lengths disagree.
func SplitTriples(outputs []Output) (Triples, error) {
	if len(outputs) != 3 {
		return Triples{}, errors.Errorf("expected 3 outputs, got %d", len(outputs))
	}

	boxes, scores, labels := -1, -1, -1
	for i, o := range outputs {
		name := strings.ToLower(o.Name)
		switch {
		case strings.Contains(name, "box"):
			boxes = i
		case strings.Contains(name, "score"):
			scores = i
		case strings.Contains(name, "label"), strings.Contains(name, "class"):
			labels = i
		}
	}

	if boxes < 0 || scores < 0 || labels < 0 {
		boxes, scores, labels = -1, -1, -1
		for i, o := range outputs {
			switch {
			case o.Dim(len(o.Shape)-1) == 4 && len(o.Shape) >= 2:
				boxes = i
			case o.Int != nil:
				labels = i
			default:
				scores = i
			}
		}
	}
	if boxes < 0 || scores < 0 || labels < 0 {
		return Triples{}, errors.New("cannot identify boxes, scores and labels outputs")
	}

	b, s, l := outputs[boxes], outputs[scores], outputs[labels]
	if b.Len()%4 != 0 {
		return Triples{}, errors.Errorf("boxes output has %d values, not a multiple of 4", b.Len())
	}
	n := b.Len() / 4
	if s.Len() != n || l.Len() != n {
		return Triples{}, errors.Errorf(
			"mismatched output lengths: %d boxes, %d scores, %d labels", n, s.Len(), l.Len())
	}

	t := Triples{
		Boxes:  make([]images.Rect, n),
		Scores: make([]float32, n),
		Labels: make([]int, n),
	}
	for i := 0; i < n; i++ {
		t.Boxes[i] = images.Rect{X1: b.At(4 * i), Y1: b.At(4*i + 1), X2: b.At(4*i + 2), Y2: b.At(4*i + 3)}
		t.Scores[i] = s.At(i)
		t.Labels[i] = int(l.At(i))
	}
	return t, nil
}
