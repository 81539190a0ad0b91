package main

import (
	"errors"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const geometryTolerance = 1e-9

func TestManualCropStaysInBoundsAndKeepsRatio(t *testing.T) {
	sizes := [][2]int{{1, 1}, {1200, 800}, {800, 1200}, {4000, 3000}, {3000, 4000}, {1000, 1000}, {7, 1913}, {1913, 7}, {1001, 750}}
	ratios := []float64{RatioPortrait, RatioSquare, RatioLandscape, 0.1, 16.0 / 9.0, 10}
	offsets := []float64{0, 13, 50, 87.5, 100}

	for _, size := range sizes {
		w, h := size[0], size[1]
		for _, r := range ratios {
			for _, ox := range offsets {
				for _, oy := range offsets {
					rect, err := ManualCrop(w, h, r, ox, oy)
					require.NoError(t, err)

					assert.GreaterOrEqual(t, rect.X, 0.0)
					assert.GreaterOrEqual(t, rect.Y, 0.0)
					assert.LessOrEqual(t, rect.X+rect.Width, float64(w)+geometryTolerance, "w=%d h=%d r=%v", w, h, r)
					assert.LessOrEqual(t, rect.Y+rect.Height, float64(h)+geometryTolerance, "w=%d h=%d r=%v", w, h, r)
					assert.InEpsilon(t, r, rect.Width/rect.Height, 1e-9)
				}
			}
		}
	}
}

func TestManualCropOffsetsAreMonotonic(t *testing.T) {
	// 4:3 image cropped to 3:4 leaves horizontal slack only.
	const w, h = 4000, 3000
	prev := -1.0
	for ox := 0.0; ox <= 100; ox += 5 {
		rect, err := ManualCrop(w, h, RatioPortrait, ox, 50)
		require.NoError(t, err)
		assert.Greater(t, rect.X, prev)
		prev = rect.X
	}

	first, err := ManualCrop(w, h, RatioPortrait, 0, 50)
	require.NoError(t, err)
	last, err := ManualCrop(w, h, RatioPortrait, 100, 50)
	require.NoError(t, err)
	assert.Equal(t, 0.0, first.X)
	assert.InDelta(t, float64(w)-first.Width, last.X, geometryTolerance)

	// 3:4 image cropped to 4:3 leaves vertical slack only.
	prev = -1.0
	for oy := 0.0; oy <= 100; oy += 5 {
		rect, err := ManualCrop(h, w, RatioLandscape, 50, oy)
		require.NoError(t, err)
		assert.Greater(t, rect.Y, prev)
		prev = rect.Y
	}
	top, err := ManualCrop(h, w, RatioLandscape, 50, 0)
	require.NoError(t, err)
	bottom, err := ManualCrop(h, w, RatioLandscape, 50, 100)
	require.NoError(t, err)
	assert.Equal(t, 0.0, top.Y)
	assert.InDelta(t, float64(w)-top.Height, bottom.Y, geometryTolerance)
}

func TestManualCropMatchingRatioKeepsWholeImage(t *testing.T) {
	rect, err := ManualCrop(300, 400, RatioPortrait, 100, 100)
	require.NoError(t, err)
	assert.Equal(t, Rect{X: 0, Y: 0, Width: 300, Height: 400}, rect)
}

func TestManualCropCentered(t *testing.T) {
	rect, err := ManualCrop(1200, 800, RatioSquare, 50, 50)
	require.NoError(t, err)
	assert.Equal(t, Rect{X: 200, Y: 0, Width: 800, Height: 800}, rect)
}

func TestManualCropRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name          string
		w, h          int
		ratio, ox, oy float64
	}{
		{name: "zero width", w: 0, h: 10, ratio: 1, ox: 50, oy: 50},
		{name: "negative height", w: 10, h: -1, ratio: 1, ox: 50, oy: 50},
		{name: "zero ratio", w: 10, h: 10, ratio: 0, ox: 50, oy: 50},
		{name: "offset above range", w: 10, h: 10, ratio: 1, ox: 101, oy: 50},
		{name: "offset below range", w: 10, h: 10, ratio: 1, ox: 50, oy: -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ManualCrop(tt.w, tt.h, tt.ratio, tt.ox, tt.oy)
			var geomErr *GeometryError
			assert.True(t, errors.As(err, &geomErr), "got %v", err)
		})
	}
}

func TestTargetRatioByOrientation(t *testing.T) {
	assert.Equal(t, RatioLandscape, TargetRatio(4000, 3000))
	assert.Equal(t, RatioPortrait, TargetRatio(3000, 4000))
	assert.Equal(t, RatioPortrait, TargetRatio(2000, 2000))
}

func TestAutoCropLandscapeExample(t *testing.T) {
	rect, err := AutoCrop(1200, 800)
	require.NoError(t, err)
	assert.Equal(t, Rect{X: 67, Y: 0, Width: 1067, Height: 800}, rect)
}

func TestAutoCrop(t *testing.T) {
	tests := []struct {
		name string
		w, h int
		want Rect
	}{
		{name: "already 4:3", w: 4000, h: 3000, want: Rect{X: 0, Y: 0, Width: 4000, Height: 3000}},
		{name: "already 3:4", w: 3000, h: 4000, want: Rect{X: 0, Y: 0, Width: 3000, Height: 4000}},
		{name: "square goes portrait", w: 1200, h: 1200, want: Rect{X: 150, Y: 0, Width: 900, Height: 1200}},
		{name: "tall portrait", w: 900, h: 1600, want: Rect{X: 0, Y: 200, Width: 900, Height: 1200}},
		{name: "slightly wide landscape", w: 1600, h: 1000, want: Rect{X: 133, Y: 0, Width: 1333, Height: 1000}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rect, err := AutoCrop(tt.w, tt.h)
			require.NoError(t, err)
			assert.Equal(t, tt.want, rect)
			assert.LessOrEqual(t, rect.X+rect.Width, float64(tt.w))
			assert.LessOrEqual(t, rect.Y+rect.Height, float64(tt.h))
		})
	}
}

func TestAutoCropIsDeterministic(t *testing.T) {
	first, err := AutoCrop(3264, 2448)
	require.NoError(t, err)
	second, err := AutoCrop(3264, 2448)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestAutoCropStaysInBounds(t *testing.T) {
	for w := 1; w <= 60; w++ {
		for h := 1; h <= 60; h++ {
			rect, err := AutoCrop(w, h)
			require.NoError(t, err)
			px := rect.Pixels()
			assert.GreaterOrEqual(t, px.Min.X, 0)
			assert.GreaterOrEqual(t, px.Min.Y, 0)
			assert.LessOrEqual(t, px.Max.X, w, "w=%d h=%d", w, h)
			assert.LessOrEqual(t, px.Max.Y, h, "w=%d h=%d", w, h)
		}
	}
}

func TestParseRatio(t *testing.T) {
	tests := map[string]float64{
		"3:4":  RatioPortrait,
		"4/3":  RatioLandscape,
		"1:1":  RatioSquare,
		"0.75": RatioPortrait,
	}
	for in, want := range tests {
		got, err := ParseRatio(in)
		require.NoError(t, err, in)
		assert.InDelta(t, want, got, 1e-12, in)
	}

	for _, bad := range []string{"", "a:b", "0:4", "-1", "3:"} {
		_, err := ParseRatio(bad)
		assert.Error(t, err, bad)
	}
}

func TestLookupRatio(t *testing.T) {
	r, ok := LookupRatio(0.7501)
	require.True(t, ok)
	assert.Equal(t, "3:4", r.Label)

	_, ok = LookupRatio(16.0 / 9.0)
	assert.False(t, ok)
}

func TestPixelsKeepsSubPixelCropsNonEmpty(t *testing.T) {
	for _, offset := range []float64{0, 25, 50, 75, 100} {
		rect, err := ManualCrop(1000, 1, RatioPortrait, offset, 50)
		require.NoError(t, err)

		px := rect.Pixels()
		assert.Equal(t, 1, px.Dx(), "offset %v", offset)
		assert.Equal(t, 1, px.Dy(), "offset %v", offset)
		assert.True(t, px.In(image.Rect(0, 0, 1000, 1)), "offset %v: %v", offset, px)
	}

	assert.True(t, Rect{X: 3, Y: 3}.Pixels().Empty())
}
