package otsu

import (
	"context"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	verrors "vision-workbench/internal/errors"
	"vision-workbench/internal/imageops"
	"vision-workbench/internal/parameters"
)

// split returns a w×h image whose left half is a and right half is b.
func split(w, h int, a, b uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := a
			if x >= w/2 {
				v = b
			}
			img.Pix[y*img.Stride+x] = v
		}
	}
	return img
}

func TestThresholdMethods_Bimodal(t *testing.T) {
	var hist [256]int
	hist[40], hist[200] = 10, 10

	tests := []struct {
		method Method
		want   float64
	}{
		{MethodOtsu, 40},
		{MethodMean, 120},
		{MethodMedian, 40},
		{MethodTriangle, 41},
	}
	for _, tt := range tests {
		t.Run(string(tt.method), func(t *testing.T) {
			got, err := Threshold(tt.method, hist)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}

	_, err := Threshold("kmeans", hist)
	assert.Error(t, err)
}

func TestThresholdMethods_EmptyHistogram(t *testing.T) {
	for _, m := range Methods() {
		got, err := Threshold(Method(m.(string)), [256]int{})
		require.NoError(t, err)
		assert.Equal(t, 127.5, got, m)
	}
}

func TestOtsuThreshold_PropertyBased_SeparatesTwoLevels(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		lo := rapid.IntRange(0, 200).Draw(t, "lo")
		hi := rapid.IntRange(lo+1, 255).Draw(t, "hi")
		var hist [256]int
		hist[lo] = rapid.IntRange(1, 1000).Draw(t, "nlo")
		hist[hi] = rapid.IntRange(1, 1000).Draw(t, "nhi")

		th := OtsuThreshold(hist)
		if th < float64(lo) || th >= float64(hi) {
			t.Fatalf("threshold %v does not separate %d and %d", th, lo, hi)
		}
	})
}

func TestSegment2D_SeparatesFarPixels(t *testing.T) {
	for _, metric := range []string{MetricMean, MetricMedian, MetricGaussian} {
		t.Run(metric, func(t *testing.T) {
			o := DefaultOptions2D()
			o.Metric = metric
			out, th := Segment2D(split(32, 32, 30, 220), o)

			assert.EqualValues(t, 0, out.GrayAt(4, 16).Y)
			assert.EqualValues(t, 255, out.GrayAt(24, 16).Y)
			assert.GreaterOrEqual(t, th[0], 7)
			assert.Less(t, th[0], 54)
		})
	}
}

func TestSegment2D_OutputIsBinary(t *testing.T) {
	o := DefaultOptions2D()
	o.LogScale = true
	o.SmoothingSigma = 0
	img := image.NewGray(image.Rect(0, 0, 12, 12))
	for i := range img.Pix {
		img.Pix[i] = uint8(i * 7)
	}
	out, _ := Segment2D(img, o)
	for _, v := range out.Pix {
		assert.Contains(t, []uint8{0, 255}, v)
	}
}

func TestTriclass_ResolvesUndecidedBand(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 3, 1))
	copy(img.Pix, []uint8{20, 120, 230})

	out, err := Triclass(context.Background(), img, DefaultTriclassOptions())
	require.NoError(t, err)
	assert.Equal(t, []uint8{0, 0, 255}, out.Pix)
}

func TestTriclass_HonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Triclass(ctx, split(4, 4, 0, 255), DefaultTriclassOptions())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPlugins_Execute(t *testing.T) {
	img := split(32, 32, 30, 220)

	for _, p := range []interface {
		Start() error
		Execute(image.Image, parameters.Values) (image.Image, error)
	}{NewOtsu2D(), NewTriclass(), NewAutoThreshold()} {
		require.NoError(t, p.Start())
		out, err := p.Execute(img, parameters.Values{})
		require.NoError(t, err)
		assert.EqualValues(t, 0, imageops.GrayAt(out, 4, 16))
		assert.EqualValues(t, 255, imageops.GrayAt(out, 24, 16))
	}
}

func TestPlugins_RejectInvalidParameters(t *testing.T) {
	alg := NewOtsu2D()
	require.NoError(t, alg.Start())

	_, err := alg.Execute(split(4, 4, 0, 255), parameters.Values{"WindowSize": 41})
	assert.ErrorIs(t, err, verrors.ErrInvalidParameters)

	_, err = NewAutoThreshold().Execute(split(4, 4, 0, 255), nil)
	assert.ErrorIs(t, err, verrors.ErrInvalidState)

	auto := NewAutoThreshold()
	require.NoError(t, auto.Start())
	_, err = auto.Execute(split(4, 4, 0, 255), parameters.Values{"Method": "kmeans"})
	assert.ErrorIs(t, err, verrors.ErrInvalidParameters)
}
