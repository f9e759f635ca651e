package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-detect/images"
)

func TestSplitTriplesByName(t *testing.T) {
	outputs := []Output{
		{Name: "scores", Shape: []int64{2}, Float: []float32{0.9, 0.4}},
		{Name: "labels", Shape: []int64{2}, Int: []int64{1, 2}},
		{Name: "boxes", Shape: []int64{2, 4}, Float: []float32{0, 0, 10, 10, 5, 5, 20, 30}},
	}

	got, err := SplitTriples(outputs)
	require.NoError(t, err)

	assert.Equal(t, 2, got.Len())
	assert.Equal(t, []float32{0.9, 0.4}, got.Scores)
	assert.Equal(t, []int{1, 2}, got.Labels)
	assert.Equal(t, images.Rect{X1: 5, Y1: 5, X2: 20, Y2: 30}, got.Boxes[1])
}

func TestSplitTriplesByShape(t *testing.T) {
	outputs := []Output{
		{Name: "3012", Shape: []int64{1, 4}, Float: []float32{1, 2, 3, 4}},
		{Name: "3013", Shape: []int64{1}, Int: []int64{3}},
		{Name: "3014", Shape: []int64{1}, Float: []float32{0.7}},
	}

	got, err := SplitTriples(outputs)
	require.NoError(t, err)
	assert.Equal(t, []int{3}, got.Labels)
	assert.Equal(t, []float32{0.7}, got.Scores)
	assert.Equal(t, images.Rect{X1: 1, Y1: 2, X2: 3, Y2: 4}, got.Boxes[0])
}

func TestSplitTriplesErrors(t *testing.T) {
	tests := []struct {
		name    string
		outputs []Output
	}{
		{"wrong count", []Output{{Name: "boxes"}}},
		{"length mismatch", []Output{
			{Name: "boxes", Shape: []int64{2, 4}, Float: make([]float32, 8)},
			{Name: "scores", Shape: []int64{1}, Float: []float32{0.5}},
			{Name: "labels", Shape: []int64{2}, Int: []int64{1, 1}},
		}},
		{"ragged boxes", []Output{
			{Name: "boxes", Shape: []int64{1, 3}, Float: make([]float32, 3)},
			{Name: "scores", Shape: []int64{1}, Float: []float32{0.5}},
			{Name: "labels", Shape: []int64{1}, Int: []int64{1}},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := SplitTriples(tt.outputs)
			assert.Error(t, err)
		})
	}
}

func TestOutputAccessors(t *testing.T) {
	f := Output{Shape: []int64{1, 2}, Float: []float32{0.5, 1.5}}
	i := Output{Shape: []int64{2}, Int: []int64{3, 4}}

	assert.Equal(t, 2, f.Len())
	assert.Equal(t, float32(1.5), f.At(1))
	assert.Equal(t, float32(4), i.At(1))
	assert.Equal(t, int64(2), f.Dim(1))
	assert.Equal(t, int64(0), f.Dim(5))
}
