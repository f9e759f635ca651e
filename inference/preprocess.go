package inference

import (
	"image"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-detect/images"
	"github.com/nvr-ai/go-detect/models/model"
)

// Preprocessor turns a BGR image into the network input tensor.
type Preprocessor func(img gocv.Mat, width, height int, mode images.ResizeMode) (model.Input, images.Transform, error)

// PrepareInput converts a BGR image into an NCHW float32 tensor in RGB order
// with values scaled to [0, 1].
//
// Arguments:
//   - img: The source image. It is not modified.
//   - width, height: The model input size.
//   - mode: Stretch or letterbox.
//
// Returns:
//   - model.Input: A [1, 3, height, width] tensor.
//   - images.Transform: The mapping from the input canvas back to img.
//   - error: If the image is empty or the size is invalid.
func PrepareInput(img gocv.Mat, width, height int, mode images.ResizeMode) (model.Input, images.Transform, error) {
	if width <= 0 || height <= 0 {
		return model.Input{}, images.Transform{}, errors.Errorf("invalid input size %dx%d", width, height)
	}

	rgb, err := images.ToRGBImage(img)
	if err != nil {
		return model.Input{}, images.Transform{}, err
	}

	fitted, tf := images.Fit(rgb, width, height, mode)

	data := make([]float32, 3*width*height)
	fillCHW(data, fitted, width, height)

	return model.Input{
		Shape: []int64{1, 3, int64(height), int64(width)},
		Data:  data,
	}, tf, nil
}

// fillCHW writes img into dst as three planes: R, G then B.
func fillCHW(dst []float32, img image.Image, width, height int) {
	plane := width * height
	red := dst[0:plane]
	green := dst[plane : plane*2]
	blue := dst[plane*2 : plane*3]

	b := img.Bounds()
	if rgba, ok := img.(*image.RGBA); ok {
		i := 0
		for y := 0; y < height; y++ {
			off := rgba.PixOffset(b.Min.X, b.Min.Y+y)
			for x := 0; x < width; x++ {
				p := rgba.Pix[off+4*x : off+4*x+3 : off+4*x+3]
				red[i] = float32(p[0]) / 255.0
				green[i] = float32(p[1]) / 255.0
				blue[i] = float32(p[2]) / 255.0
				i++
			}
		}
		return
	}

	i := 0
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			red[i] = float32(r>>8) / 255.0
			green[i] = float32(g>>8) / 255.0
			blue[i] = float32(bl>>8) / 255.0
			i++
		}
	}
}
