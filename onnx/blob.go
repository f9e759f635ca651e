package onnx

import (
	"image"
	"image/color"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-detect/images"
	"github.com/nvr-ai/go-detect/models/model"
)

// PrepareBlob builds the network input with OpenCV instead of the Go image
// path: resize (and pad for letterbox), then gocv.BlobFromImage swaps BGR to
// RGB and scales to [0, 1].
//
// Arguments:
//   - img: A BGR image. It is not modified.
//   - width, height: The model input size.
//   - mode: Stretch or letterbox.
//
// Returns:
//   - model.Input: A [1, 3, height, width] tensor.
//   - images.Transform: The mapping from the input canvas back to img.
//   - error: If the image is empty or the size is invalid.
func PrepareBlob(img gocv.Mat, width, height int, mode images.ResizeMode) (model.Input, images.Transform, error) {
	if img.Empty() {
		return model.Input{}, images.Transform{}, errors.New("empty image")
	}
	if width <= 0 || height <= 0 {
		return model.Input{}, images.Transform{}, errors.Errorf("invalid input size %dx%d", width, height)
	}

	fitted, tf := fit(img, width, height, mode)
	defer fitted.Close()

	blob := gocv.BlobFromImage(fitted, 1.0/255.0, image.Pt(width, height), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	data, err := blob.DataPtrFloat32()
	if err != nil {
		return model.Input{}, images.Transform{}, errors.Wrap(err, "map blob")
	}

	return model.Input{
		Shape: []int64{1, 3, int64(height), int64(width)},
		Data:  append([]float32(nil), data...),
	}, tf, nil
}

func fit(img gocv.Mat, width, height int, mode images.ResizeMode) (gocv.Mat, images.Transform) {
	cols, rows := img.Cols(), img.Rows()
	tf := images.Transform{Width: cols, Height: rows}

	if mode != images.ResizeLetterbox {
		tf.ScaleX = float32(width) / float32(cols)
		tf.ScaleY = float32(height) / float32(rows)
		out := gocv.NewMat()
		gocv.Resize(img, &out, image.Pt(width, height), 0, 0, gocv.InterpolationLinear)
		return out, tf
	}

	scale := math32.Min(float32(width)/float32(cols), float32(height)/float32(rows))
	newW := max(1, int(math32.Floor(float32(cols)*scale+0.5)))
	newH := max(1, int(math32.Floor(float32(rows)*scale+0.5)))
	left := (width - newW) / 2
	top := (height - newH) / 2

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(img, &resized, image.Pt(newW, newH), 0, 0, gocv.InterpolationLinear)

	fill := images.LetterboxFill
	out := gocv.NewMat()
	gocv.CopyMakeBorder(resized, &out, top, height-newH-top, left, width-newW-left,
		gocv.BorderConstant, color.RGBA{R: fill.B, G: fill.G, B: fill.R, A: 0})

	tf.ScaleX, tf.ScaleY = scale, scale
	tf.PadX, tf.PadY = float32(left), float32(top)
	return out, tf
}
