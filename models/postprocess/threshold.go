package postprocess

import (
	"github.com/chewxy/math32"

	"github.com/nvr-ai/go-detect/common"
)

// FilterByConfidence returns the detections whose confidence is at least
// threshold, keeping their relative order. The input is not modified.
//
// threshold is clamped to [0, 1]. NaN is treated as 0.
func FilterByConfidence(detections []common.Detection, threshold float32) []common.Detection {
	if math32.IsNaN(threshold) {
		threshold = 0
	}
	threshold = min(max(threshold, 0), 1)

	kept := make([]common.Detection, 0, len(detections))
	for _, det := range detections {
		if det.Confidence >= threshold {
			kept = append(kept, det)
		}
	}
	return kept
}

// FilterResults drops raw results scoring below floor.
func FilterResults(results []Result, floor float32) []Result {
	kept := results[:0:0]
	for _, r := range results {
		if r.Score >= floor {
			kept = append(kept, r)
		}
	}
	return kept
}
