package images

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalculateIoU(t *testing.T) {
	tests := []struct {
		name     string
		r1       Rect
		r2       Rect
		expected float32
	}{
		{"identical rectangles", Rect{0, 0, 100, 100}, Rect{0, 0, 100, 100}, 1.0},
		{"no overlap", Rect{0, 0, 100, 100}, Rect{200, 200, 300, 300}, 0.0},
		{"touching edges", Rect{0, 0, 100, 100}, Rect{100, 0, 200, 100}, 0.0},
		// intersection=2500, union=17500
		{"half overlap", Rect{0, 0, 100, 100}, Rect{50, 50, 150, 150}, 0.142857},
		// intersection=100, union=19900
		{"small overlap", Rect{0, 0, 100, 100}, Rect{90, 90, 190, 190}, 0.005025},
		{"one inside other", Rect{0, 0, 100, 100}, Rect{25, 25, 75, 75}, 0.25},
		{"sub-pixel boxes", Rect{0.5, 0.5, 10.5, 10.5}, Rect{0.5, 0.5, 10.5, 10.5}, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, CalculateIoU(tt.r1, tt.r2), 0.001)
			assert.InDelta(t, CalculateIoU(tt.r1, tt.r2), CalculateIoU(tt.r2, tt.r1), 0.0001)
		})
	}
}

func TestCalculateIoUMatchesImageRectangle(t *testing.T) {
	cases := []struct {
		name   string
		r1, r2 image.Rectangle
	}{
		{"partial overlap", image.Rect(0, 0, 100, 100), image.Rect(50, 50, 150, 150)},
		{"full overlap", image.Rect(50, 50, 150, 150), image.Rect(50, 50, 150, 150)},
		{"large boxes", image.Rect(0, 0, 1920, 1080), image.Rect(960, 540, 1920, 1080)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			inter := tc.r1.Intersect(tc.r2)
			interArea := inter.Dx() * inter.Dy()
			union := tc.r1.Dx()*tc.r1.Dy() + tc.r2.Dx()*tc.r2.Dy() - interArea
			want := float32(interArea) / float32(union)

			got := CalculateIoU(toRect(tc.r1), toRect(tc.r2))
			assert.InDelta(t, want, got, 0.0001)
		})
	}
}

func TestCalculateIoUEdgeCases(t *testing.T) {
	tests := []struct {
		name string
		r1   Rect
		r2   Rect
	}{
		{"zero area rectangle", Rect{0, 0, 0, 0}, Rect{0, 0, 100, 100}},
		{"both zero area", Rect{0, 0, 0, 0}, Rect{10, 10, 10, 10}},
		{"negative coordinates", Rect{-100, -100, 0, 0}, Rect{-50, -50, 50, 50}},
		{"single pixel", Rect{0, 0, 1, 1}, Rect{0, 0, 1, 1}},
		{"very large coordinates", Rect{0, 0, 999999, 999999}, Rect{500000, 500000, 999999, 999999}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CalculateIoU(tt.r1, tt.r2)
			assert.GreaterOrEqual(t, result, float32(0))
			assert.LessOrEqual(t, result, float32(1))
		})
	}
}

func TestRectHelpers(t *testing.T) {
	r := FromCenter(50, 40, 20, 10)
	assert.Equal(t, Rect{40, 35, 60, 45}, r)
	assert.Equal(t, float32(200), r.Area())
	assert.False(t, r.Empty())

	clipped := Rect{-10, 5, 120, 90}.Clip(100, 80)
	assert.Equal(t, Rect{0, 5, 100, 80}, clipped)

	assert.True(t, Rect{10, 10, 10, 20}.Empty())
	assert.Equal(t, float32(0), Rect{20, 20, 10, 10}.Area())
}

func toRect(r image.Rectangle) Rect {
	return Rect{float32(r.Min.X), float32(r.Min.Y), float32(r.Max.X), float32(r.Max.Y)}
}
