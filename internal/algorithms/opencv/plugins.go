package opencv

import (
	"context"
	"image"

	"gocv.io/x/gocv"

	verrors "vision-workbench/internal/errors"
	cv "vision-workbench/internal/opencv"
	"vision-workbench/internal/parameters"
	"vision-workbench/internal/plugin"
)

const version = "1.0.0"

// matFunc writes the result of processing src into dst.
type matFunc func(ctx context.Context, src gocv.Mat, dst *gocv.Mat, values parameters.Values) error

// newMatAlgorithm wraps fn as an Algorithm. With gray set the input is
// converted to a single-channel Mat first.
func newMatAlgorithm(id, name, description string, gray bool, params []parameters.Metadata, fn matFunc) *plugin.FuncAlgorithm {
	return plugin.NewFuncAlgorithm(
		plugin.Descriptor{ID: id, Name: name, Version: version, Author: "vision-workbench", Description: description},
		params,
		func(ctx context.Context, img image.Image, values parameters.Values) (image.Image, error) {
			convert := cv.ImageToMat
			if gray {
				convert = cv.GrayMat
			}
			src, err := convert(img)
			if err != nil {
				src.Close()
				return nil, verrors.New(id, "Execute", verrors.ErrInvalidParameters, "input: %v", err)
			}
			defer src.Close()

			dst := gocv.NewMat()
			defer dst.Close()
			if err := fn(ctx, src, &dst, values); err != nil {
				return nil, err
			}
			return cv.MatToImage(dst)
		})
}

func odd(n int) int {
	if n%2 == 0 {
		return n + 1
	}
	return n
}

// Builtin returns fresh instances of the OpenCV plugins.
func Builtin() []plugin.Plugin {
	return []plugin.Plugin{
		NewCanny(),
		NewAdaptiveThreshold(),
		NewOtsu(),
		NewMorphology(),
		NewMedian(),
		NewCLAHE(),
		NewDenoise(),
		NewPreprocess(),
	}
}

func NewCanny() *plugin.FuncAlgorithm {
	return newMatAlgorithm("Canny", "Canny Edges", "Hysteresis edge detection", true,
		[]parameters.Metadata{
			{Name: "Low", DisplayName: "Low threshold", Type: parameters.TypeDouble, DefaultValue: 50.0, MinValue: 0.0, MaxValue: 1000.0},
			{Name: "High", DisplayName: "High threshold", Type: parameters.TypeDouble, DefaultValue: 150.0, MinValue: 0.0, MaxValue: 1000.0},
			{Name: "Smooth", Description: "Gaussian pre-blur", Type: parameters.TypeBool, DefaultValue: true},
		},
		func(_ context.Context, src gocv.Mat, dst *gocv.Mat, v parameters.Values) error {
			low, high := v.Float("Low"), v.Float("High")
			if low > high {
				return verrors.New("Canny", "Execute", verrors.ErrInvalidParameters, "Low %v exceeds High %v", low, high)
			}
			in := src
			if v.Bool("Smooth") {
				blurred := gocv.NewMat()
				defer blurred.Close()
				gocv.GaussianBlur(src, &blurred, image.Pt(5, 5), 0, 0, gocv.BorderDefault)
				in = blurred
			}
			gocv.Canny(in, dst, float32(low), float32(high))
			return nil
		})
}

func NewAdaptiveThreshold() *plugin.FuncAlgorithm {
	return newMatAlgorithm("AdaptiveThreshold", "Adaptive Threshold", "Local mean or gaussian threshold", true,
		[]parameters.Metadata{
			{Name: "Method", Type: parameters.TypeEnum, DefaultValue: "Gaussian", Options: []interface{}{"Mean", "Gaussian"}},
			{Name: "BlockSize", DisplayName: "Block size", Type: parameters.TypeInt, DefaultValue: 11, MinValue: 3, MaxValue: 99},
			{Name: "C", Description: "Constant subtracted from the local mean", Type: parameters.TypeDouble, DefaultValue: 2.0, MinValue: -50.0, MaxValue: 50.0},
			{Name: "Invert", Type: parameters.TypeBool, DefaultValue: false},
		},
		func(_ context.Context, src gocv.Mat, dst *gocv.Mat, v parameters.Values) error {
			method := gocv.AdaptiveThresholdGaussian
			if v.String("Method") == "Mean" {
				method = gocv.AdaptiveThresholdMean
			}
			typ := gocv.ThresholdBinary
			if v.Bool("Invert") {
				typ = gocv.ThresholdBinaryInv
			}
			gocv.AdaptiveThreshold(src, dst, 255, method, typ, odd(v.Int("BlockSize")), float32(v.Float("C")))
			return nil
		})
}

// NewOtsu is OpenCV's global Otsu threshold.
func NewOtsu() *plugin.FuncAlgorithm {
	return newMatAlgorithm("CVOtsu", "Otsu (OpenCV)", "Global Otsu threshold", true, nil,
		func(_ context.Context, src gocv.Mat, dst *gocv.Mat, _ parameters.Values) error {
			gocv.Threshold(src, dst, 0, 255, gocv.ThresholdBinary|gocv.ThresholdOtsu)
			return nil
		})
}

var (
	morphTypes = map[string]gocv.MorphType{
		"Erode":    gocv.MorphErode,
		"Dilate":   gocv.MorphDilate,
		"Open":     gocv.MorphOpen,
		"Close":    gocv.MorphClose,
		"Gradient": gocv.MorphGradient,
		"TopHat":   gocv.MorphTophat,
		"BlackHat": gocv.MorphBlackhat,
	}
	morphShapes = map[string]gocv.MorphShape{
		"Ellipse": gocv.MorphEllipse,
		"Rect":    gocv.MorphRect,
		"Cross":   gocv.MorphCross,
	}
)

func NewMorphology() *plugin.FuncAlgorithm {
	return newMatAlgorithm("CVMorphology", "Morphology (OpenCV)", "Morphological operation with a structuring element", false,
		[]parameters.Metadata{
			{Name: "Operation", Type: parameters.TypeEnum, DefaultValue: "Open",
				Options: []interface{}{"Erode", "Dilate", "Open", "Close", "Gradient", "TopHat", "BlackHat"}},
			{Name: "Shape", Type: parameters.TypeEnum, DefaultValue: "Ellipse", Options: []interface{}{"Ellipse", "Rect", "Cross"}},
			{Name: "KernelSize", DisplayName: "Kernel size", Type: parameters.TypeInt, DefaultValue: 3, MinValue: 1, MaxValue: 31},
		},
		func(_ context.Context, src gocv.Mat, dst *gocv.Mat, v parameters.Values) error {
			k := v.Int("KernelSize")
			kernel := gocv.GetStructuringElement(morphShapes[v.String("Shape")], image.Pt(k, k))
			defer kernel.Close()
			gocv.MorphologyEx(src, dst, morphTypes[v.String("Operation")], kernel)
			return nil
		})
}

func NewMedian() *plugin.FuncAlgorithm {
	return newMatAlgorithm("CVMedian", "Median (OpenCV)", "Median blur with an odd aperture", false,
		[]parameters.Metadata{
			{Name: "KernelSize", DisplayName: "Kernel size", Type: parameters.TypeInt, DefaultValue: 3, MinValue: 3, MaxValue: 31},
		},
		func(_ context.Context, src gocv.Mat, dst *gocv.Mat, v parameters.Values) error {
			gocv.MedianBlur(src, dst, odd(v.Int("KernelSize")))
			return nil
		})
}

var claheParams = []parameters.Metadata{
	{Name: "ClipLimit", DisplayName: "Clip limit", Type: parameters.TypeDouble, DefaultValue: 3.0, MinValue: 1.0, MaxValue: 8.0},
	{Name: "TileSize", DisplayName: "Tile size", Type: parameters.TypeInt, DefaultValue: 8, MinValue: 4, MaxValue: 16},
}

func applyCLAHE(src gocv.Mat, dst *gocv.Mat, v parameters.Values) {
	tile := v.Int("TileSize")
	clahe := gocv.NewCLAHEWithParams(v.Float("ClipLimit"), image.Pt(tile, tile))
	defer clahe.Close()
	clahe.Apply(src, dst)
}

// NewCLAHE applies contrast limited adaptive histogram equalisation.
func NewCLAHE() *plugin.FuncAlgorithm {
	return newMatAlgorithm("CLAHE", "CLAHE", "Contrast limited adaptive histogram equalisation", true,
		parameters.CloneAll(claheParams),
		func(_ context.Context, src gocv.Mat, dst *gocv.Mat, v parameters.Values) error {
			applyCLAHE(src, dst, v)
			return nil
		})
}

var denoiseParams = []parameters.Metadata{
	{Name: "Strength", Description: "Filter strength h", Type: parameters.TypeDouble, DefaultValue: 10.0, MinValue: 1.0, MaxValue: 50.0},
	{Name: "TemplateWindow", Type: parameters.TypeInt, DefaultValue: 7, MinValue: 3, MaxValue: 21},
	{Name: "SearchWindow", Type: parameters.TypeInt, DefaultValue: 21, MinValue: 7, MaxValue: 35},
}

func applyDenoise(src gocv.Mat, dst *gocv.Mat, v parameters.Values) {
	gocv.FastNlMeansDenoisingWithParams(src, dst, float32(v.Float("Strength")),
		odd(v.Int("TemplateWindow")), odd(v.Int("SearchWindow")))
}

// NewDenoise applies non-local means denoising.
func NewDenoise() *plugin.FuncAlgorithm {
	return newMatAlgorithm("Denoise", "Non-local Means", "Non-local means denoising", true,
		parameters.CloneAll(denoiseParams),
		func(_ context.Context, src gocv.Mat, dst *gocv.Mat, v parameters.Values) error {
			applyDenoise(src, dst, v)
			return nil
		})
}

// NewPreprocess chains the optional clean-up stages commonly run before
// thresholding: equalisation, denoising, gaussian and median smoothing.
func NewPreprocess() *plugin.FuncAlgorithm {
	chain := NewChain(
		toggle{name: "clahe", param: "UseCLAHE", apply: applyCLAHE},
		toggle{name: "denoise", param: "UseDenoise", apply: applyDenoise},
		toggle{name: "gaussian", param: "UseGaussian", apply: func(src gocv.Mat, dst *gocv.Mat, v parameters.Values) {
			s := v.Float("Sigma")
			gocv.GaussianBlur(src, dst, image.Point{}, s, s, gocv.BorderDefault)
		}},
		toggle{name: "median", param: "UseMedian", apply: func(src gocv.Mat, dst *gocv.Mat, v parameters.Values) {
			gocv.MedianBlur(src, dst, odd(v.Int("KernelSize")))
		}},
	)

	params := []parameters.Metadata{
		{Name: "UseCLAHE", DisplayName: "Equalise", Type: parameters.TypeBool, DefaultValue: false, Category: "CLAHE"},
		{Name: "UseDenoise", DisplayName: "Denoise", Type: parameters.TypeBool, DefaultValue: false, Category: "Denoise"},
		{Name: "UseGaussian", DisplayName: "Gaussian", Type: parameters.TypeBool, DefaultValue: true, Category: "Gaussian"},
		{Name: "Sigma", Type: parameters.TypeDouble, DefaultValue: 1.0, MinValue: 0.3, MaxValue: 10.0, Category: "Gaussian"},
		{Name: "UseMedian", DisplayName: "Median", Type: parameters.TypeBool, DefaultValue: false, Category: "Median"},
		{Name: "KernelSize", DisplayName: "Median size", Type: parameters.TypeInt, DefaultValue: 3, MinValue: 3, MaxValue: 15, Category: "Median"},
	}
	for _, m := range parameters.CloneAll(claheParams) {
		m.Category = "CLAHE"
		params = append(params, m)
	}
	for _, m := range parameters.CloneAll(denoiseParams) {
		m.Category = "Denoise"
		params = append(params, m)
	}

	return newMatAlgorithm("Preprocess", "Preprocess", "Configurable clean-up chain", true, params,
		func(ctx context.Context, src gocv.Mat, dst *gocv.Mat, v parameters.Values) error {
			out, err := chain.Execute(ctx, src, v)
			if err != nil {
				return err
			}
			defer out.Close()
			out.CopyTo(dst)
			return nil
		})
}
