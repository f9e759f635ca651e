// Package images - Image processing utilities
package images

import "github.com/chewxy/math32"

// Rect is a lightweight bounding box in pixel coordinates.
type Rect struct {
	// X2,Y2 are exclusive (like image.Rectangle).
	X1, Y1, X2, Y2 float32
}

// Width of the rectangle, zero when inverted.
func (r Rect) Width() float32 {
	return math32.Max(0, r.X2-r.X1)
}

// Height of the rectangle, zero when inverted.
func (r Rect) Height() float32 {
	return math32.Max(0, r.Y2-r.Y1)
}

// Area of the rectangle.
func (r Rect) Area() float32 {
	return r.Width() * r.Height()
}

// Empty reports whether the rectangle has no area.
func (r Rect) Empty() bool {
	return r.X2 <= r.X1 || r.Y2 <= r.Y1
}

// Clip clamps the rectangle to a width x height canvas.
func (r Rect) Clip(width, height float32) Rect {
	return Rect{
		X1: math32.Min(math32.Max(r.X1, 0), width),
		Y1: math32.Min(math32.Max(r.Y1, 0), height),
		X2: math32.Min(math32.Max(r.X2, 0), width),
		Y2: math32.Min(math32.Max(r.Y2, 0), height),
	}
}

// FromCenter builds a corner rectangle from a center point and size, the
// layout single-stage detectors emit.
func FromCenter(cx, cy, w, h float32) Rect {
	return Rect{
		X1: cx - w/2,
		Y1: cy - h/2,
		X2: cx + w/2,
		Y2: cy + h/2,
	}
}

// CalculateIoU measures the overlap of two rectangles as
// area(intersection) / area(union).
//
// The intersection corners are the max of the top-left corners and the min of
// the bottom-right corners. Disjoint or touching rectangles have a
// non-positive intersection width or height and score 0.
//
// Arguments:
//   - r: The first rectangle.
//   - o: The other rectangle.
//
// Returns:
//   - float32: A value between 0.0 and 1.0.
//
// Example Usage:
// ```go
//
//	rect1 := Rect{X1: 0, Y1: 0, X2: 10, Y2: 10}
//	rect2 := Rect{X1: 5, Y1: 5, X2: 15, Y2: 15}
//	iou := CalculateIoU(rect1, rect2) // 25 / 175 = 0.142857
//
// ```
func CalculateIoU(r, o Rect) float32 {
	ix1 := math32.Max(r.X1, o.X1)
	iy1 := math32.Max(r.Y1, o.Y1)
	ix2 := math32.Min(r.X2, o.X2)
	iy2 := math32.Min(r.Y2, o.Y2)

	interW := ix2 - ix1
	interH := iy2 - iy1
	if interW <= 0 || interH <= 0 {
		return 0.0
	}
	interArea := interW * interH

	unionArea := r.Area() + o.Area() - interArea
	if unionArea <= 0 {
		return 0.0
	}
	return interArea / unionArea
}
