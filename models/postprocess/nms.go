// Package postprocess - provides Non-Maximum Suppression for detection results.
package postprocess

import (
	"sort"

	"github.com/nvr-ai/go-detect/images"
)

// NMSConfig defines parameters for Non-Maximum Suppression.
type NMSConfig struct {
	IoUThreshold  float32 // Overlap threshold for suppression.
	ClassAware    bool    // If true, suppress only within same class.
	MaxDetections int     // Keep at most this many results. Zero keeps all.
}

// DefaultNMSConfig matches the defaults single-stage exporters are evaluated with.
func DefaultNMSConfig() NMSConfig {
	return NMSConfig{
		IoUThreshold:  0.45,
		ClassAware:    true,
		MaxDetections: 300,
	}
}

// SortByScore orders results by descending score. The sort is stable so
// equal scores keep their decode order.
func SortByScore(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
}

// ApplyGreedyNMS performs standard greedy Non-Maximum Suppression.
//
// Arguments:
//   - detections: Results in any order. The slice is reordered in place.
//   - config: IoU threshold, class awareness and the result cap.
//
// Returns:
//   - Filtered slice of results ordered by descending score, or nil if
//     detections is empty.
func ApplyGreedyNMS(detections []Result, config NMSConfig) []Result {
	n := len(detections)
	if n == 0 {
		return nil
	}
	SortByScore(detections)

	filtered := make([]Result, 0, n)
	used := make([]bool, n)

	for i := 0; i < n; i++ {
		if used[i] {
			continue
		}

		anchor := detections[i]
		filtered = append(filtered, anchor)
		used[i] = true
		if config.MaxDetections > 0 && len(filtered) == config.MaxDetections {
			break
		}

		for j := i + 1; j < n; j++ {
			if used[j] {
				continue
			}
			if config.ClassAware && anchor.Class != detections[j].Class {
				continue
			}
			if images.CalculateIoU(anchor.Box, detections[j].Box) > config.IoUThreshold {
				used[j] = true
			}
		}
	}

	return filtered
}
