package plugin

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	verrors "vision-workbench/internal/errors"
	"vision-workbench/internal/metrics"
	"vision-workbench/internal/parameters"
)

func countingAlgorithm(t *testing.T, calls *atomic.Int32, failFirst int32, failWith error) *FuncAlgorithm {
	t.Helper()
	alg := NewFuncAlgorithm(
		Descriptor{ID: "counting"},
		[]parameters.Metadata{{Name: "Level", Type: parameters.TypeInt, DefaultValue: 1, MinValue: 0, MaxValue: 9}},
		func(_ context.Context, img image.Image, _ parameters.Values) (image.Image, error) {
			if n := calls.Add(1); n <= failFirst {
				return nil, failWith
			}
			return img, nil
		},
	)
	require.NoError(t, alg.Start())
	return alg
}

func testImage(fill uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for i := range img.Pix {
		img.Pix[i] = fill
	}
	return img
}

func TestWithRetry_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	alg := WithRetry(countingAlgorithm(t, &calls, 2, errors.New("usb glitch")), 3, time.Millisecond)

	out, err := alg.Execute(testImage(1), parameters.Values{"Level": 1})
	require.NoError(t, err)
	assert.NotNil(t, out)
	assert.EqualValues(t, 3, calls.Load())
	assert.Equal(t, "counting", alg.Descriptor().ID)
}

func TestWithRetry_GivesUp(t *testing.T) {
	var calls atomic.Int32
	glitch := errors.New("usb glitch")
	alg := WithRetry(countingAlgorithm(t, &calls, 10, glitch), 3, time.Millisecond)

	_, err := alg.Execute(testImage(1), parameters.Values{"Level": 1})
	assert.ErrorIs(t, err, glitch)
	assert.EqualValues(t, 3, calls.Load())
}

func TestWithRetry_DoesNotRetryInvalidParameters(t *testing.T) {
	var calls atomic.Int32
	alg := WithRetry(countingAlgorithm(t, &calls, 0, nil), 5, time.Millisecond)

	_, err := alg.Execute(testImage(1), parameters.Values{"Level": 42})
	assert.ErrorIs(t, err, verrors.ErrInvalidParameters)
	assert.EqualValues(t, 0, calls.Load(), "validation happens before the transform runs")
}

func TestWithCache_MemoizesByPixelsAndParameters(t *testing.T) {
	var calls atomic.Int32
	mt := metrics.New()
	alg := WithCache(countingAlgorithm(t, &calls, 0, nil), 8, time.Minute, mt)

	_, err := alg.Execute(testImage(7), parameters.Values{"Level": 1})
	require.NoError(t, err)
	_, err = alg.Execute(testImage(7), parameters.Values{"Level": 1})
	require.NoError(t, err)
	assert.EqualValues(t, 1, calls.Load(), "identical pixels and parameters hit the cache")

	_, err = alg.Execute(testImage(8), parameters.Values{"Level": 1})
	require.NoError(t, err)
	_, err = alg.Execute(testImage(7), parameters.Values{"Level": 2})
	require.NoError(t, err)
	assert.EqualValues(t, 3, calls.Load())
	assert.Equal(t, 3, alg.Len())

	assert.Equal(t, 1.0, testutil.ToFloat64(mt.AlgorithmCacheHit.WithLabelValues("counting", "hit")))
	assert.Equal(t, 3.0, testutil.ToFloat64(mt.AlgorithmCacheHit.WithLabelValues("counting", "miss")))

	alg.Purge()
	assert.Equal(t, 0, alg.Len())
}

func TestWithCache_RefusesWhenNotRunning(t *testing.T) {
	var calls atomic.Int32
	inner := countingAlgorithm(t, &calls, 0, nil)
	alg := WithCache(inner, 8, time.Minute, metrics.New())

	_, err := alg.Execute(testImage(3), parameters.Values{"Level": 1})
	require.NoError(t, err)
	require.Equal(t, 1, alg.Len())

	require.NoError(t, inner.Stop())
	out, err := alg.Execute(testImage(3), parameters.Values{"Level": 1})
	assert.ErrorIs(t, err, verrors.ErrInvalidState)
	assert.Nil(t, out)
	assert.EqualValues(t, 1, calls.Load())
}

type hybridAlgorithm struct {
	*FuncAlgorithm
}

func (hybridAlgorithm) UIMode() UIMode { return UIModeHybrid }

func TestDecorators_KeepUIProviderVisible(t *testing.T) {
	var calls atomic.Int32
	inner := hybridAlgorithm{countingAlgorithm(t, &calls, 0, nil)}
	wrapped := WithRetry(WithCache(inner, 4, time.Minute, nil), 2, time.Millisecond)

	assert.True(t, HasCapability(wrapped, CapabilityUIProvider))
	assert.True(t, HasCapability(wrapped, CapabilityAlgorithm))
	assert.Equal(t, UIModeHybrid, ToolMetadata(wrapped).UIMode)
	assert.Equal(t, UIModeAuto, ToolMetadata(WithRetry(countingAlgorithm(t, &calls, 0, nil), 2, 0)).UIMode)
}

func TestCacheKey_GenericImagePath(t *testing.T) {
	a := image.NewPaletted(image.Rect(0, 0, 2, 2), color.Palette{color.Black, color.White})
	b := image.NewPaletted(image.Rect(0, 0, 2, 2), color.Palette{color.Black, color.White})
	b.SetColorIndex(1, 1, 1)

	ka, err := cacheKey(a, nil)
	require.NoError(t, err)
	kb, err := cacheKey(b, nil)
	require.NoError(t, err)
	assert.NotEqual(t, ka, kb)
}
