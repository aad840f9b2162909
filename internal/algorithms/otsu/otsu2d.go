package otsu

import (
	"image"
	"math"

	"github.com/anthonynsimon/bild/blur"
	"github.com/anthonynsimon/bild/effect"
	"github.com/disintegration/imaging"

	"vision-workbench/internal/imageops"
)

// Neighbourhood metrics for the second histogram axis.
const (
	MetricMean     = "mean"
	MetricMedian   = "median"
	MetricGaussian = "gaussian"
)

// Options2D configures two-dimensional Otsu.
type Options2D struct {
	WindowSize     int
	Bins           int
	Metric         string
	PixelWeight    float64
	SmoothingSigma float64
	LogScale       bool
	Normalize      bool
}

// DefaultOptions2D mirrors the plugin's parameter defaults.
func DefaultOptions2D() Options2D {
	return Options2D{
		WindowSize:     7,
		Bins:           64,
		Metric:         MetricMean,
		PixelWeight:    0.5,
		SmoothingSigma: 1.0,
		Normalize:      true,
	}
}

// Segment2D binarises img. A pixel is foreground when both its own bin and
// the bin of its weighted neighbourhood feature lie above the thresholds
// that maximise the between-class variance of the joint histogram.
func Segment2D(img image.Image, o Options2D) (*image.Gray, [2]int) {
	gray := imageops.ToGray(img)
	nb := neighbourhood(gray, o.WindowSize, o.Metric)

	bin := binner(o.Bins)
	feature := func(p, n uint8) float64 {
		return o.PixelWeight*float64(p) + (1-o.PixelWeight)*float64(n)
	}

	w, h := gray.Rect.Dx(), gray.Rect.Dy()
	hist := make([][]float64, o.Bins)
	for i := range hist {
		hist[i] = make([]float64, o.Bins)
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			p, n := gray.Pix[y*gray.Stride+x], nb.Pix[y*nb.Stride+x]
			hist[bin(float64(p))][bin(feature(p, n))]++
		}
	}

	if o.SmoothingSigma > 0 {
		smooth(hist, o.SmoothingSigma)
	}
	if o.LogScale {
		for _, row := range hist {
			for j, v := range row {
				if v > 0 {
					row[j] = math.Log1p(v)
				}
			}
		}
	}
	if o.Normalize {
		normalize(hist)
	}

	t := search2D(hist)
	out := imageops.Binarize(gray, func(x, y int, p uint8) bool {
		n := nb.Pix[y*nb.Stride+x]
		return bin(float64(p)) > t[0] && bin(feature(p, n)) > t[1]
	})
	return out, t
}

func binner(bins int) func(float64) int {
	scale := float64(bins-1) / 255.0
	return func(v float64) int {
		b := int(v * scale)
		return max(0, min(bins-1, b))
	}
}

func neighbourhood(g *image.Gray, window int, metric string) *image.Gray {
	radius := float64(window-1) / 2
	switch metric {
	case MetricMedian:
		return imageops.ToGray(effect.Median(g, radius))
	case MetricGaussian:
		return imageops.ToGray(imaging.Blur(g, float64(window)/3))
	default:
		return imageops.ToGray(blur.Box(g, radius))
	}
}

func smooth(hist [][]float64, sigma float64) {
	n := len(hist)
	radius := int(sigma * 3)
	size := radius*2 + 1

	kernel := make([]float64, size)
	var sum float64
	for i := range kernel {
		d := float64(i - radius)
		kernel[i] = math.Exp(-d * d / (2 * sigma * sigma))
		sum += kernel[i]
	}
	for i := range kernel {
		kernel[i] /= sum
	}

	// The gaussian is separable: rows, then columns.
	tmp := make([][]float64, n)
	for i := range tmp {
		tmp[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			var v float64
			for k, kv := range kernel {
				if jj := j + k - radius; jj >= 0 && jj < n {
					v += hist[i][jj] * kv
				}
			}
			tmp[i][j] = v
		}
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			var v float64
			for k, kv := range kernel {
				if ii := i + k - radius; ii >= 0 && ii < n {
					v += tmp[ii][j] * kv
				}
			}
			hist[i][j] = v
		}
	}
}

func normalize(hist [][]float64) {
	var total float64
	for _, row := range hist {
		for _, v := range row {
			total += v
		}
	}
	if total == 0 {
		return
	}
	for _, row := range hist {
		for j := range row {
			row[j] /= total
		}
	}
}

// search2D returns the (pixel, feature) thresholds maximising
// w0*w1*|m0-m1|² where class 0 is the block at or below both thresholds and
// class 1 the block above both. Summed-area tables keep it quadratic in the
// bin count.
func search2D(hist [][]float64) [2]int {
	n := len(hist)
	best := [2]int{n / 2, n / 2}
	if n < 2 {
		return best
	}

	table := func(weight func(i, j int) float64) [][]float64 {
		s := make([][]float64, n+1)
		for i := range s {
			s[i] = make([]float64, n+1)
		}
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				s[i+1][j+1] = weight(i, j) + s[i][j+1] + s[i+1][j] - s[i][j]
			}
		}
		return s
	}
	p := table(func(i, j int) float64 { return hist[i][j] })
	mi := table(func(i, j int) float64 { return float64(i) * hist[i][j] })
	mj := table(func(i, j int) float64 { return float64(j) * hist[i][j] })

	// block sums rows [i0,i1) and columns [j0,j1).
	block := func(s [][]float64, i0, i1, j0, j1 int) float64 {
		return s[i1][j1] - s[i0][j1] - s[i1][j0] + s[i0][j0]
	}

	var bestVar float64
	for t1 := 0; t1 < n-1; t1++ {
		for t2 := 0; t2 < n-1; t2++ {
			w0 := block(p, 0, t1+1, 0, t2+1)
			w1 := block(p, t1+1, n, t2+1, n)
			if w0 <= 0 || w1 <= 0 {
				continue
			}
			di := block(mi, 0, t1+1, 0, t2+1)/w0 - block(mi, t1+1, n, t2+1, n)/w1
			dj := block(mj, 0, t1+1, 0, t2+1)/w0 - block(mj, t1+1, n, t2+1, n)/w1
			if v := w0 * w1 * (di*di + dj*dj); v > bestVar {
				bestVar = v
				best = [2]int{t1, t2}
			}
		}
	}
	return best
}
