package dfine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-detect/images"
	"github.com/nvr-ai/go-detect/models/model"
)

func newModel(t *testing.T) *DFINE {
	t.Helper()
	m, err := NewModel(model.Config{Width: 640, Height: 640, MinScore: 0.05})
	require.NoError(t, err)
	return m
}

// Original 1280x320 stretched onto the 640x640 canvas.
var tf = images.Transform{ScaleX: 0.5, ScaleY: 2, Width: 1280, Height: 320}

func TestPostProcessRows(t *testing.T) {
	m := newModel(t)
	out := model.Output{
		Shape: []int64{1, 3, 6},
		Float: []float32{
			10, 20, 110, 220, 0.3, 4,
			0, 0, 640, 640, 0.95, 1,
			5, 5, 50, 50, 0.01, 2,
		},
	}

	got, err := m.PostProcess([]model.Output{out}, tf)
	require.NoError(t, err)
	require.Len(t, got, 2)

	// Model order, not score order.
	assert.Equal(t, 4, got[0].Class)
	assert.Equal(t, images.Rect{X1: 20, Y1: 10, X2: 220, Y2: 110}, got[0].Box)
	assert.Equal(t, images.Rect{X1: 0, Y1: 0, X2: 1280, Y2: 320}, got[1].Box)
}

func TestPostProcessTriples(t *testing.T) {
	m := newModel(t)
	outputs := []model.Output{
		{Name: "labels", Shape: []int64{1, 2}, Int: []int64{3, 0}},
		{Name: "boxes", Shape: []int64{1, 2, 4}, Float: []float32{0, 0, 64, 64, 100, 100, 200, 200}},
		{Name: "scores", Shape: []int64{1, 2}, Float: []float32{0.8, 0.02}},
	}

	got, err := m.PostProcess(outputs, tf)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 3, got[0].Class)
	assert.Equal(t, images.Rect{X1: 0, Y1: 0, X2: 128, Y2: 32}, got[0].Box)
}

func TestPostProcessRawHead(t *testing.T) {
	m := newModel(t)
	outputs := []model.Output{
		{Name: "pred_boxes", Shape: []int64{1, 2, 4}, Float: []float32{
			0.5, 0.5, 0.25, 0.25,
			0.1, 0.1, 0.1, 0.1,
		}},
		{Name: "pred_logits", Shape: []int64{1, 2, 3}, Float: []float32{
			-10, 0, -10,
			-10, -10, -10,
		}},
	}

	got, err := m.PostProcess(outputs, tf)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].Class)
	assert.InDelta(t, 0.5, got[0].Score, 1e-6)
	assert.Equal(t, images.Rect{X1: 480, Y1: 120, X2: 800, Y2: 200}, got[0].Box)
}

func TestHeadClasses(t *testing.T) {
	m := newModel(t)

	n, ok := m.HeadClasses([][]int64{{1, 300, 4}, {1, 300, 80}})
	assert.True(t, ok)
	assert.Equal(t, 80, n)

	_, ok = m.HeadClasses([][]int64{{1, 300, 6}})
	assert.False(t, ok)
}

func TestPostProcessErrors(t *testing.T) {
	m := newModel(t)

	tests := []struct {
		name    string
		outputs []model.Output
	}{
		{"no outputs", nil},
		{"bad row width", []model.Output{{Shape: []int64{1, 5}, Float: make([]float32, 5)}}},
		{"mismatched head", []model.Output{
			{Shape: []int64{1, 3, 4}, Float: make([]float32, 12)},
			{Shape: []int64{1, 2, 3}, Float: make([]float32, 6)},
		}},
		{"triples mismatch", []model.Output{
			{Name: "labels", Shape: []int64{2}, Int: []int64{1, 1}},
			{Name: "boxes", Shape: []int64{1, 4}, Float: make([]float32, 4)},
			{Name: "scores", Shape: []int64{2}, Float: make([]float32, 2)},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.PostProcess(tt.outputs, tf)
			assert.Error(t, err)
		})
	}
}
