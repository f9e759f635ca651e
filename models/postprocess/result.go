// Package postprocess - Postprocessing utilities for models.
package postprocess

import "github.com/nvr-ai/go-detect/images"

// Result is one raw (box, score, class) triple decoded from a model output.
type Result struct {
	// The bounding box of the result in original image pixels.
	Box images.Rect
	// The confidence score of the result.
	Score float32
	// The predicted class index of the result.
	Class int
}
