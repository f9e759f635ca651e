package images

import (
	"bytes"
	"image"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-detect/common"
)

// DecodeOptions bounds what Decode accepts.
type DecodeOptions struct {
	// MaxPixels rejects images with more pixels than this. Zero disables the check.
	MaxPixels int
}

// Decode converts raw upload bytes into a 3-channel BGR Mat.
//
// OpenCV handles every format it was built with. WebP falls back to a pure
// Go decoder and the remaining formats (GIF, and anything OpenCV was built
// without) fall back to imaging, which also applies the EXIF orientation the
// way OpenCV does.
//
// The caller owns the returned Mat and must Close it.
//
// Arguments:
//   - data: The uploaded bytes.
//   - opts: Limits applied after decoding.
//
// Returns:
//   - gocv.Mat: The decoded BGR image.
//   - Image: The detected format and dimensions.
//   - error: An InvalidImageError if the bytes are not a supported raster image.
func Decode(data []byte, opts DecodeOptions) (gocv.Mat, Image, error) {
	info := Image{Format: DetectFormat(data), Size: len(data)}
	if len(data) == 0 {
		return gocv.NewMat(), info, common.NewInvalidImageError("empty upload", nil)
	}

	mat, err := decodeToMat(data, info.Format)
	if err != nil {
		return gocv.NewMat(), info, err
	}

	if err := toBGR(&mat); err != nil {
		mat.Close()
		return gocv.NewMat(), info, err
	}

	info.Width = mat.Cols()
	info.Height = mat.Rows()
	if opts.MaxPixels > 0 && info.Pixels() > opts.MaxPixels {
		mat.Close()
		return gocv.NewMat(), info, common.NewInvalidImageError(
			"too large",
			errors.Errorf("%dx%d exceeds %d pixels", info.Width, info.Height, opts.MaxPixels),
		)
	}

	return mat, info, nil
}

func decodeToMat(data []byte, format ImageFormat) (gocv.Mat, error) {
	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err == nil && !mat.Empty() {
		return mat, nil
	}
	mat.Close()

	var img image.Image
	switch format {
	case FormatUnknown:
		return gocv.NewMat(), common.NewInvalidImageError("unsupported format", err)
	case FormatWebP:
		img, err = webp.Decode(bytes.NewReader(data))
	default:
		img, err = imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	}
	if err != nil {
		return gocv.NewMat(), common.NewInvalidImageError("decode "+string(format), err)
	}

	mat, err = gocv.ImageToMatRGB(img)
	if err != nil || mat.Empty() {
		mat.Close()
		return gocv.NewMat(), common.NewInvalidImageError("convert "+string(format), err)
	}
	return mat, nil
}

// toBGR converts grayscale and 4-channel Mats to 3-channel BGR in place.
func toBGR(mat *gocv.Mat) error {
	var code gocv.ColorConversionCode
	switch mat.Channels() {
	case 3:
		return nil
	case 1:
		code = gocv.ColorGrayToBGR
	case 4:
		code = gocv.ColorBGRAToBGR
	default:
		return common.NewInvalidImageError(
			"unsupported channel layout",
			errors.Errorf("%d channels", mat.Channels()),
		)
	}

	converted := gocv.NewMat()
	gocv.CvtColor(*mat, &converted, code)
	mat.Close()
	*mat = converted
	return nil
}

// ToRGBImage returns an RGB copy of a BGR Mat as a Go image.
func ToRGBImage(mat gocv.Mat) (image.Image, error) {
	if mat.Empty() {
		return nil, errors.New("empty mat")
	}
	img, err := mat.ToImage()
	if err != nil {
		return nil, errors.Wrap(err, "mat to image")
	}
	return img, nil
}
