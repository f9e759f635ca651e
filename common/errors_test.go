package common

import (
	"io"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
		msg   string
	}{
		{
			name:  "model load",
			err:   NewModelLoadError("/models/leaf.onnx", io.ErrUnexpectedEOF),
			check: IsModelLoad,
			msg:   `load model "/models/leaf.onnx": unexpected EOF`,
		},
		{
			name:  "invalid image with cause",
			err:   NewInvalidImageError("decode", io.EOF),
			check: IsInvalidImage,
			msg:   "invalid image: decode: EOF",
		},
		{
			name:  "invalid image without cause",
			err:   NewInvalidImageError("empty upload", nil),
			check: IsInvalidImage,
			msg:   "invalid image: empty upload",
		},
		{
			name:  "inference",
			err:   NewInferenceErrorf("run", "input shape %v does not match model", []int64{1, 3, 640, 640}),
			check: IsInference,
			msg:   "inference run: input shape [1 3 640 640] does not match model",
		},
		{
			name:  "encoding",
			err:   NewEncodingError("jpeg", io.ErrShortWrite),
			check: IsEncoding,
			msg:   "encoding jpeg: short write",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.msg, tt.err.Error())
			assert.True(t, tt.check(tt.err))

			wrapped := errors.Wrap(tt.err, "handle request")
			assert.True(t, tt.check(wrapped), "classification must survive wrapping")
		})
	}
}

func TestErrorKindsAreDistinct(t *testing.T) {
	err := NewInvalidImageError("decode", nil)

	assert.False(t, IsInference(err))
	assert.False(t, IsEncoding(err))
	assert.False(t, IsModelLoad(err))
}

func TestErrorCause(t *testing.T) {
	err := errors.Wrap(NewEncodingError("write", io.ErrClosedPipe), "save")

	var encErr *EncodingError
	require.True(t, errors.As(err, &encErr))
	assert.Equal(t, "write", encErr.Op)
	assert.Equal(t, io.ErrClosedPipe, errors.Cause(err))
}
