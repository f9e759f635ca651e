package images

import (
	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-detect/common"
)

// DefaultJPEGQuality is used when a caller passes a quality outside 1..100.
const DefaultJPEGQuality = 90

// EncodeJPEG compresses a BGR Mat to JPEG bytes.
//
// Arguments:
//   - mat: The image to encode.
//   - quality: JPEG quality in 1..100.
//
// Returns:
//   - []byte: The compressed image, owned by the caller.
//   - error: An EncodingError if compression fails.
func EncodeJPEG(mat gocv.Mat, quality int) ([]byte, error) {
	if quality < 1 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	return encode(gocv.JPEGFileExt, mat, []int{gocv.IMWriteJpegQuality, quality})
}

// EncodePNG compresses a BGR Mat to lossless PNG bytes.
func EncodePNG(mat gocv.Mat) ([]byte, error) {
	return encode(gocv.PNGFileExt, mat, []int{gocv.IMWritePngCompression, 3})
}

func encode(ext gocv.FileExt, mat gocv.Mat, params []int) ([]byte, error) {
	if mat.Empty() {
		return nil, common.NewEncodingError(string(ext), errors.New("empty image"))
	}

	buf, err := gocv.IMEncodeWithParams(ext, mat, params)
	if err != nil {
		return nil, common.NewEncodingError(string(ext), err)
	}
	defer buf.Close()

	data := buf.GetBytes()
	if len(data) == 0 {
		return nil, common.NewEncodingError(string(ext), errors.New("encoder produced no data"))
	}

	// The native buffer is freed on Close.
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}
