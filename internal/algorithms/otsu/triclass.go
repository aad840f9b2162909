package otsu

import (
	"context"
	"image"
	"math"

	"vision-workbench/internal/imageops"
)

// TriclassOptions configures iterative triclass segmentation.
type TriclassOptions struct {
	Method        Method
	MaxIterations int
	// Precision stops the loop once the threshold moves less than this.
	Precision float64
	// MinTBDFraction stops the loop once the undecided share of the image
	// falls below it.
	MinTBDFraction float64
	// Gap widens the undecided band around each threshold, as a fraction
	// of the threshold.
	Gap float64
}

// DefaultTriclassOptions mirrors the plugin's parameter defaults.
func DefaultTriclassOptions() TriclassOptions {
	return TriclassOptions{
		Method:         MethodOtsu,
		MaxIterations:  8,
		Precision:      1.0,
		MinTBDFraction: 0.01,
		Gap:            0.1,
	}
}

// Triclass splits the image into foreground, background and a
// to-be-determined band, then repeats on the band alone until it shrinks
// below MinTBDFraction or the threshold settles. Pixels still undecided at
// the end are classified against the last threshold.
func Triclass(ctx context.Context, img image.Image, o TriclassOptions) (*image.Gray, error) {
	gray := imageops.ToGray(img)
	w, h := gray.Rect.Dx(), gray.Rect.Dy()
	total := w * h

	region := make([]bool, total)
	for i := range region {
		region[i] = true
	}
	fg := make([]bool, total)

	prev := -1.0
	threshold := 127.5
	for iter := 0; iter < o.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		hist := imageops.Histogram(gray, region)
		if hist == ([256]int{}) {
			break
		}
		t, err := Threshold(o.Method, hist)
		if err != nil {
			return nil, err
		}
		if prev >= 0 && math.Abs(t-prev) < o.Precision {
			threshold = t
			break
		}
		prev, threshold = t, t

		lower, upper := t*(1-o.Gap), t*(1+o.Gap)
		tbd := 0
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				i := y*w + x
				if !region[i] {
					continue
				}
				v := float64(gray.Pix[y*gray.Stride+x])
				switch {
				case v > upper:
					fg[i] = true
					region[i] = false
				case v < lower:
					region[i] = false
				default:
					tbd++
				}
			}
		}
		if float64(tbd)/float64(total) < o.MinTBDFraction {
			break
		}
	}

	return imageops.Binarize(gray, func(x, y int, v uint8) bool {
		i := y*w + x
		return fg[i] || (region[i] && float64(v) > threshold)
	}), nil
}
