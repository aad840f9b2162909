package otsu

import (
	"context"
	"image"

	"vision-workbench/internal/imageops"
	"vision-workbench/internal/parameters"
	"vision-workbench/internal/plugin"
)

const version = "1.0.0"

// NewOtsu2D exposes Segment2D as the "Otsu2D" plugin.
func NewOtsu2D() *plugin.FuncAlgorithm {
	d := DefaultOptions2D()
	params := []parameters.Metadata{
		{Name: "WindowSize", DisplayName: "Window size", Type: parameters.TypeInt, DefaultValue: d.WindowSize, MinValue: 3, MaxValue: 21, Category: "Neighbourhood"},
		{Name: "Metric", Type: parameters.TypeEnum, DefaultValue: d.Metric, Options: []interface{}{MetricMean, MetricMedian, MetricGaussian}, Category: "Neighbourhood"},
		{Name: "PixelWeight", DisplayName: "Pixel weight", Type: parameters.TypeDouble, DefaultValue: d.PixelWeight, MinValue: 0.0, MaxValue: 1.0, Category: "Neighbourhood"},
		{Name: "Bins", DisplayName: "Histogram bins", Type: parameters.TypeInt, DefaultValue: d.Bins, MinValue: 16, MaxValue: 256, Category: "Histogram"},
		{Name: "Smoothing", DisplayName: "Smoothing sigma", Type: parameters.TypeDouble, DefaultValue: d.SmoothingSigma, MinValue: 0.0, MaxValue: 5.0, Category: "Histogram"},
		{Name: "LogScale", DisplayName: "Log histogram", Type: parameters.TypeBool, DefaultValue: d.LogScale, Category: "Histogram"},
		{Name: "Normalize", Type: parameters.TypeBool, DefaultValue: d.Normalize, Category: "Histogram"},
	}
	return plugin.NewFuncAlgorithm(
		plugin.Descriptor{
			ID:          "Otsu2D",
			Name:        "2D Otsu",
			Version:     version,
			Description: "Thresholds on the joint histogram of pixel and neighbourhood values",
		},
		params,
		func(_ context.Context, img image.Image, v parameters.Values) (image.Image, error) {
			window := v.Int("WindowSize")
			if window%2 == 0 {
				window++
			}
			out, _ := Segment2D(img, Options2D{
				WindowSize:     window,
				Bins:           v.Int("Bins"),
				Metric:         v.String("Metric"),
				PixelWeight:    v.Float("PixelWeight"),
				SmoothingSigma: v.Float("Smoothing"),
				LogScale:       v.Bool("LogScale"),
				Normalize:      v.Bool("Normalize"),
			})
			return out, nil
		})
}

// NewTriclass exposes Triclass as the "Triclass" plugin.
func NewTriclass() *plugin.FuncAlgorithm {
	d := DefaultTriclassOptions()
	params := []parameters.Metadata{
		{Name: "Method", DisplayName: "Initial method", Type: parameters.TypeEnum, DefaultValue: string(d.Method), Options: Methods()},
		{Name: "MaxIterations", DisplayName: "Max iterations", Type: parameters.TypeInt, DefaultValue: d.MaxIterations, MinValue: 1, MaxValue: 15},
		{Name: "Precision", Type: parameters.TypeDouble, DefaultValue: d.Precision, MinValue: 0.1, MaxValue: 5.0},
		{Name: "MinTBDFraction", DisplayName: "Minimum undecided fraction", Type: parameters.TypeDouble, DefaultValue: d.MinTBDFraction, MinValue: 0.0, MaxValue: 0.5},
		{Name: "Gap", DisplayName: "Band gap", Type: parameters.TypeDouble, DefaultValue: d.Gap, MinValue: 0.0, MaxValue: 0.5},
	}
	return plugin.NewFuncAlgorithm(
		plugin.Descriptor{
			ID:          "Triclass",
			Name:        "Iterative Triclass",
			Version:     version,
			Description: "Refines a global threshold on the undecided band until it settles",
		},
		params,
		func(ctx context.Context, img image.Image, v parameters.Values) (image.Image, error) {
			return Triclass(ctx, img, TriclassOptions{
				Method:         Method(v.String("Method")),
				MaxIterations:  v.Int("MaxIterations"),
				Precision:      v.Float("Precision"),
				MinTBDFraction: v.Float("MinTBDFraction"),
				Gap:            v.Float("Gap"),
			})
		})
}

// NewAutoThreshold binarises with a single global threshold chosen by
// Method.
func NewAutoThreshold() *plugin.FuncAlgorithm {
	return plugin.NewFuncAlgorithm(
		plugin.Descriptor{
			ID:          "AutoThreshold",
			Name:        "Automatic Threshold",
			Version:     version,
			Description: "Global threshold picked from the histogram",
		},
		[]parameters.Metadata{
			{Name: "Method", Type: parameters.TypeEnum, DefaultValue: string(MethodOtsu), Options: Methods()},
		},
		func(_ context.Context, img image.Image, v parameters.Values) (image.Image, error) {
			gray := imageops.ToGray(img)
			t, err := Threshold(Method(v.String("Method")), imageops.Histogram(gray, nil))
			if err != nil {
				return nil, err
			}
			return imageops.Binarize(gray, func(_, _ int, p uint8) bool { return float64(p) > t }), nil
		})
}
