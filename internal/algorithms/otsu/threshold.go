// Package otsu implements histogram-based automatic thresholding: the
// classic global methods, two-dimensional Otsu over pixel and neighbourhood
// values, and iterative triclass segmentation.
package otsu

import (
	"fmt"
	"math"
)

// Method names a global threshold selection strategy.
type Method string

const (
	MethodOtsu     Method = "otsu"
	MethodMean     Method = "mean"
	MethodMedian   Method = "median"
	MethodTriangle Method = "triangle"
)

// Methods lists every supported method.
func Methods() []interface{} {
	return []interface{}{string(MethodOtsu), string(MethodMean), string(MethodMedian), string(MethodTriangle)}
}

// Threshold picks a threshold from hist with the given method. Pixels
// strictly above the returned value are foreground.
func Threshold(method Method, hist [256]int) (float64, error) {
	switch method {
	case MethodOtsu:
		return OtsuThreshold(hist), nil
	case MethodMean:
		return MeanThreshold(hist), nil
	case MethodMedian:
		return MedianThreshold(hist), nil
	case MethodTriangle:
		return TriangleThreshold(hist), nil
	default:
		return 0, fmt.Errorf("unknown threshold method %q", method)
	}
}

func total(hist [256]int) int {
	n := 0
	for _, c := range hist {
		n += c
	}
	return n
}

// OtsuThreshold maximises the between-class variance. An empty histogram
// yields 127.5.
func OtsuThreshold(hist [256]int) float64 {
	n := total(hist)
	if n == 0 {
		return 127.5
	}

	var sum float64
	for i, c := range hist {
		sum += float64(i) * float64(c)
	}

	var sumB, best float64
	wB := 0
	threshold := 127.5
	for t, c := range hist {
		wB += c
		if wB == 0 {
			continue
		}
		wF := n - wB
		if wF == 0 {
			break
		}
		sumB += float64(t) * float64(c)

		mB := sumB / float64(wB)
		mF := (sum - sumB) / float64(wF)
		between := float64(wB) * float64(wF) * (mB - mF) * (mB - mF)
		if between > best {
			best = between
			threshold = float64(t)
		}
	}
	return threshold
}

// MeanThreshold returns the mean value.
func MeanThreshold(hist [256]int) float64 {
	n := total(hist)
	if n == 0 {
		return 127.5
	}
	var sum float64
	for i, c := range hist {
		sum += float64(i) * float64(c)
	}
	return sum / float64(n)
}

// MedianThreshold returns the lowest value at which half the pixels have
// been counted.
func MedianThreshold(hist [256]int) float64 {
	n := total(hist)
	if n == 0 {
		return 127.5
	}
	half := (n + 1) / 2
	cum := 0
	for i, c := range hist {
		cum += c
		if cum >= half {
			return float64(i)
		}
	}
	return 127.5
}

// TriangleThreshold draws a line from the histogram peak to the far end of
// the occupied range and returns the value furthest below it.
func TriangleThreshold(hist [256]int) float64 {
	if total(hist) == 0 {
		return 127.5
	}

	peak, peakCount := 0, 0
	for i, c := range hist {
		if c > peakCount {
			peak, peakCount = i, c
		}
	}
	left, right := 0, 255
	for left < 255 && hist[left] == 0 {
		left++
	}
	for right > 0 && hist[right] == 0 {
		right--
	}

	far := right
	if peak-left > right-peak {
		far = left
	}
	if far == peak {
		return float64(peak)
	}

	x1, y1 := float64(peak), float64(peakCount)
	x2, y2 := float64(far), float64(hist[far])
	norm := math.Hypot(y2-y1, x2-x1)

	best, threshold := 0.0, float64(peak)
	for i := min(peak, far); i <= max(peak, far); i++ {
		d := math.Abs((y2-y1)*float64(i)-(x2-x1)*float64(hist[i])+x2*y1-y2*x1) / norm
		if d > best {
			best, threshold = d, float64(i)
		}
	}
	return threshold
}
