// Package common - Detection records shared by every stage of the pipeline.
package common

import (
	"fmt"
	"image"

	"github.com/chewxy/math32"
)

// Detection represents one detected object with its label, confidence, and
// pixel coordinates in the original image.
type Detection struct {
	Label          string
	ClassID        int
	Confidence     float32
	X1, Y1, X2, Y2 float32
}

// String formats the detection for logs.
//
// @example
// det := Detection{Label: "leaf", Confidence: 0.8, X1: 10, Y1: 10, X2: 50, Y2: 50}
// fmt.Println(det.String()) // Output: Object leaf (confidence 0.800000): (10.00, 10.00), (50.00, 50.00)
func (d Detection) String() string {
	return fmt.Sprintf("Object %s (confidence %f): (%.2f, %.2f), (%.2f, %.2f)",
		d.Label, d.Confidence, d.X1, d.Y1, d.X2, d.Y2)
}

// BBox returns the box as [x1, y1, x2, y2].
func (d Detection) BBox() [4]float32 {
	return [4]float32{d.X1, d.Y1, d.X2, d.Y2}
}

// Width of the box in pixels, zero when the corners are inverted.
func (d Detection) Width() float32 {
	return math32.Max(0, d.X2-d.X1)
}

// Height of the box in pixels, zero when the corners are inverted.
func (d Detection) Height() float32 {
	return math32.Max(0, d.Y2-d.Y1)
}

// Area of the box in pixels.
func (d Detection) Area() float32 {
	return d.Width() * d.Height()
}

// Valid reports whether the box has positive area and a confidence in [0, 1].
func (d Detection) Valid() bool {
	return d.X1 < d.X2 && d.Y1 < d.Y2 && d.Confidence >= 0 && d.Confidence <= 1
}

// ToRect converts the detection box to an image.Rectangle.
//
// This method rounds the floating-point coordinates to the nearest integer
// pixel so drawing lines up with the reported box.
//
// Returns:
// - An image.Rectangle with canonicalized coordinates.
//
// @example
// det := Detection{X1: 100.4, Y1: 100.6, X2: 200.5, Y2: 300.2}
// rect := det.ToRect()
// fmt.Printf("Rectangle: %v\n", rect) // Rectangle: (100,101)-(201,300)
func (d Detection) ToRect() image.Rectangle {
	return image.Rect(
		round(d.X1),
		round(d.Y1),
		round(d.X2),
		round(d.Y2),
	).Canon()
}

// Intersection calculates the intersection area between two detection boxes.
//
// Arguments:
// - other: The other detection to intersect with.
//
// Returns:
// - The area of intersection in pixels as float32.
//
// @example
// a := Detection{X1: 0, Y1: 0, X2: 100, Y2: 100}
// b := Detection{X1: 50, Y1: 50, X2: 150, Y2: 150}
// area := a.Intersection(b) // Returns 2500.0 (50x50 overlap)
func (d Detection) Intersection(other Detection) float32 {
	w := math32.Min(d.X2, other.X2) - math32.Max(d.X1, other.X1)
	h := math32.Min(d.Y2, other.Y2) - math32.Max(d.Y1, other.Y1)
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Union calculates the union area between two detection boxes.
//
// Arguments:
// - other: The other detection.
//
// Returns:
// - The area of union in pixels as float32.
func (d Detection) Union(other Detection) float32 {
	return d.Area() + other.Area() - d.Intersection(other)
}

// IoU calculates the Intersection over Union between two detection boxes.
//
// Returns:
// - The IoU value between 0 and 1, or 0 when both boxes are empty.
//
// @example
// a := Detection{X1: 0, Y1: 0, X2: 100, Y2: 100}
// b := Detection{X1: 50, Y1: 50, X2: 150, Y2: 150}
// iou := a.IoU(b) // Returns ~0.143 (2500/17500)
func (d Detection) IoU(other Detection) float32 {
	union := d.Union(other)
	if union <= 0 {
		return 0
	}
	return d.Intersection(other) / union
}

// Clip returns a copy of the detection with its box clamped to a
// width x height image.
func (d Detection) Clip(width, height int) Detection {
	w, h := float32(width), float32(height)
	d.X1 = clamp(d.X1, 0, w)
	d.Y1 = clamp(d.Y1, 0, h)
	d.X2 = clamp(d.X2, 0, w)
	d.Y2 = clamp(d.Y2, 0, h)
	return d
}

func clamp(v, lo, hi float32) float32 {
	return math32.Min(math32.Max(v, lo), hi)
}

func round(v float32) int {
	return int(math32.Floor(v + 0.5))
}
