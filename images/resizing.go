package images

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/chewxy/math32"
	"github.com/nfnt/resize"
)

// LetterboxFill is the padding color single-stage detectors are trained with.
var LetterboxFill = color.RGBA{R: 114, G: 114, B: 114, A: 255}

// ResizeMode selects how an image is fitted to the model input canvas.
type ResizeMode string

const (
	// ResizeStretch scales each axis independently.
	ResizeStretch ResizeMode = "stretch"
	// ResizeLetterbox keeps the aspect ratio and pads the short side.
	ResizeLetterbox ResizeMode = "letterbox"
)

// Transform maps coordinates on the model input canvas back to the original
// image.
type Transform struct {
	ScaleX, ScaleY float32
	PadX, PadY     float32
	// Size of the original image.
	Width, Height int
}

// ToOriginal converts a rectangle from input canvas pixels to original image
// pixels and clips it to the original bounds.
func (t Transform) ToOriginal(r Rect) Rect {
	out := Rect{
		X1: (r.X1 - t.PadX) / t.ScaleX,
		Y1: (r.Y1 - t.PadY) / t.ScaleY,
		X2: (r.X2 - t.PadX) / t.ScaleX,
		Y2: (r.Y2 - t.PadY) / t.ScaleY,
	}
	return out.Clip(float32(t.Width), float32(t.Height))
}

// FromNormalized converts a rectangle with coordinates in [0, 1] relative to
// the original image into pixels.
func (t Transform) FromNormalized(r Rect) Rect {
	w, h := float32(t.Width), float32(t.Height)
	out := Rect{X1: r.X1 * w, Y1: r.Y1 * h, X2: r.X2 * w, Y2: r.Y2 * h}
	return out.Clip(w, h)
}

// Fit resizes img to width x height using mode.
//
// Arguments:
//   - img: The source image. It is not modified.
//   - width, height: The model input size.
//   - mode: Stretch or letterbox.
//
// Returns:
//   - image.Image: The resized image, exactly width x height.
//   - Transform: The mapping back to img coordinates.
func Fit(img image.Image, width, height int, mode ResizeMode) (image.Image, Transform) {
	if mode == ResizeLetterbox {
		return Letterbox(img, width, height)
	}
	return Stretch(img, width, height)
}

// Stretch resizes img to width x height ignoring its aspect ratio.
func Stretch(img image.Image, width, height int) (image.Image, Transform) {
	b := img.Bounds()
	t := Transform{
		ScaleX: float32(width) / float32(b.Dx()),
		ScaleY: float32(height) / float32(b.Dy()),
		Width:  b.Dx(),
		Height: b.Dy(),
	}
	if b.Dx() == width && b.Dy() == height {
		return img, t
	}
	return resize.Resize(uint(width), uint(height), img, resize.Bilinear), t
}

// Letterbox scales img to fit inside width x height keeping its aspect ratio
// and centers it on a LetterboxFill canvas.
func Letterbox(img image.Image, width, height int) (image.Image, Transform) {
	b := img.Bounds()
	scale := math32.Min(float32(width)/float32(b.Dx()), float32(height)/float32(b.Dy()))
	newW := max(1, int(math32.Floor(float32(b.Dx())*scale+0.5)))
	newH := max(1, int(math32.Floor(float32(b.Dy())*scale+0.5)))
	padX := (width - newW) / 2
	padY := (height - newH) / 2

	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(LetterboxFill), image.Point{}, draw.Src)

	resized := resize.Resize(uint(newW), uint(newH), img, resize.Bilinear)
	target := image.Rect(padX, padY, padX+newW, padY+newH)
	draw.Draw(canvas, target, resized, resized.Bounds().Min, draw.Src)

	return canvas, Transform{
		ScaleX: scale,
		ScaleY: scale,
		PadX:   float32(padX),
		PadY:   float32(padY),
		Width:  b.Dx(),
		Height: b.Dy(),
	}
}
