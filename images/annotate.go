package images

import (
	"fmt"
	"image"
	"image/color"

	"github.com/chewxy/math32"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-detect/common"
)

// AnnotateStyle controls how detections are drawn.
type AnnotateStyle struct {
	BoxColor      color.RGBA
	TextColor     color.RGBA
	BoxThickness  int
	TextScale     float64
	TextThickness int
	// Padding around the label text inside its background.
	Padding int
	// Gap between the box's top edge and the label baseline.
	Offset int
	Font   gocv.HersheyFont
}

// DefaultAnnotateStyle is sized for multi-megapixel phone photos.
func DefaultAnnotateStyle() AnnotateStyle {
	return AnnotateStyle{
		BoxColor:      color.RGBA{R: 0, G: 255, B: 0, A: 255},
		TextColor:     color.RGBA{R: 0, G: 0, B: 0, A: 255},
		BoxThickness:  5,
		TextScale:     2.5,
		TextThickness: 7,
		Padding:       8,
		Offset:        10,
		Font:          gocv.FontHersheySimplex,
	}
}

// referenceSide is the short image side DefaultAnnotateStyle is tuned for.
const referenceSide = 2000

// Scaled shrinks the style for images whose short side is below the
// reference so labels do not swallow small images. Larger images keep the
// style unchanged.
func (s AnnotateStyle) Scaled(width, height int) AnnotateStyle {
	side := min(width, height)
	if side <= 0 || side >= referenceSide {
		return s
	}
	f := float32(side) / referenceSide

	s.BoxThickness = max(1, int(math32.Floor(float32(s.BoxThickness)*f+0.5)))
	s.TextThickness = max(1, int(math32.Floor(float32(s.TextThickness)*f+0.5)))
	s.Padding = max(2, int(math32.Floor(float32(s.Padding)*f+0.5)))
	s.Offset = max(2, int(math32.Floor(float32(s.Offset)*f+0.5)))
	s.TextScale = float64(math32.Max(0.4, float32(s.TextScale)*f))
	return s
}

// Label formats the caption drawn for a detection, e.g. "leaf 80.0%".
func Label(det common.Detection) string {
	return fmt.Sprintf("%s %.1f%%", det.Label, det.Confidence*100)
}

// Annotate draws every detection onto a copy of img.
//
// Each detection gets a rectangle outline and a filled label background with
// the class name and confidence percentage. The label sits above the box
// unless that would cross the top edge of the image, in which case it moves
// inside the box below its top edge.
//
// Arguments:
//   - img: The source image. It is never modified.
//   - detections: The detections to draw. May be empty.
//   - style: Colors and sizes.
//
// Returns:
//   - gocv.Mat: A new image with the input's dimensions. The caller must Close it.
func Annotate(img gocv.Mat, detections []common.Detection, style AnnotateStyle) gocv.Mat {
	out := img.Clone()
	if len(detections) == 0 {
		return out
	}

	for _, det := range detections {
		box := det.ToRect()
		gocv.Rectangle(&out, box, style.BoxColor, style.BoxThickness)

		text := Label(det)
		size, baseline := gocv.GetTextSizeWithBaseline(text, style.Font, style.TextScale, style.TextThickness)
		bg, origin := labelLayout(box, size, baseline, style, out.Cols())

		gocv.Rectangle(&out, bg, style.BoxColor, -1)
		gocv.PutTextWithParams(&out, text, origin, style.Font, style.TextScale,
			style.TextColor, style.TextThickness, gocv.LineAA, false)
	}

	return out
}

// labelLayout positions the label background and the text origin for a box.
//
// Arguments:
//   - box: The detection box in pixels.
//   - text: The rendered text size.
//   - baseline: The text baseline below the origin.
//   - style: Padding and offset.
//   - width: The image width, used to keep the label on screen.
//
// Returns:
//   - image.Rectangle: The filled background.
//   - image.Point: The bottom-left origin for the text.
func labelLayout(box image.Rectangle, text image.Point, baseline int, style AnnotateStyle, width int) (image.Rectangle, image.Point) {
	pad := style.Padding

	textY := box.Min.Y - style.Offset
	if textY-text.Y-pad < 0 {
		textY = box.Min.Y + text.Y + pad + 5
	}

	bgW := text.X + 2*pad
	x := box.Min.X
	if x+bgW > width {
		x = max(0, width-bgW)
	}

	bg := image.Rect(x, textY-text.Y-pad, x+bgW, textY+baseline+pad)
	return bg, image.Pt(x+pad, textY)
}
