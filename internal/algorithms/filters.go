package algorithms

import (
	"context"
	"image"

	"github.com/disintegration/imaging"

	verrors "vision-workbench/internal/errors"
	"vision-workbench/internal/imageops"
	"vision-workbench/internal/parameters"
	"vision-workbench/internal/plugin"
)

const version = "1.0.0"

func newAlgorithm(id, name, description string, params []parameters.Metadata, fn plugin.ExecuteFunc) *plugin.FuncAlgorithm {
	return plugin.NewFuncAlgorithm(
		plugin.Descriptor{ID: id, Name: name, Version: version, Author: "vision-workbench", Description: description},
		params,
		fn,
	)
}

// NewThreshold binarises the image: pixels at or above Threshold become
// white, everything else black.
func NewThreshold() *plugin.FuncAlgorithm {
	return newAlgorithm("Threshold", "Threshold", "Fixed-level binary threshold",
		[]parameters.Metadata{{
			Name:         "Threshold",
			Description:  "Lowest luma kept as foreground",
			Type:         parameters.TypeInt,
			DefaultValue: 128,
			MinValue:     0,
			MaxValue:     255,
		}},
		func(_ context.Context, img image.Image, v parameters.Values) (image.Image, error) {
			level := uint8(v.Int("Threshold"))
			return imageops.Binarize(imageops.ToGray(img), func(_, _ int, p uint8) bool { return p >= level }), nil
		})
}

func NewInvert() *plugin.FuncAlgorithm {
	return newAlgorithm("Invert", "Invert", "Photographic negative", nil,
		func(_ context.Context, img image.Image, _ parameters.Values) (image.Image, error) {
			return imaging.Invert(img), nil
		})
}

func NewGrayscale() *plugin.FuncAlgorithm {
	return newAlgorithm("Grayscale", "Grayscale", "Converts to 8-bit luma", nil,
		func(_ context.Context, img image.Image, _ parameters.Values) (image.Image, error) {
			return imageops.ToGray(img), nil
		})
}

func NewGaussianBlur() *plugin.FuncAlgorithm {
	return newAlgorithm("GaussianBlur", "Gaussian Blur", "Gaussian smoothing",
		[]parameters.Metadata{{Name: "Sigma", Type: parameters.TypeDouble, DefaultValue: 1.5, MinValue: 0.1, MaxValue: 50.0}},
		func(_ context.Context, img image.Image, v parameters.Values) (image.Image, error) {
			return imaging.Blur(img, v.Float("Sigma")), nil
		})
}

func NewSharpen() *plugin.FuncAlgorithm {
	return newAlgorithm("Sharpen", "Sharpen", "Unsharp mask",
		[]parameters.Metadata{{Name: "Sigma", Type: parameters.TypeDouble, DefaultValue: 1.0, MinValue: 0.1, MaxValue: 20.0}},
		func(_ context.Context, img image.Image, v parameters.Values) (image.Image, error) {
			return imaging.Sharpen(img, v.Float("Sigma")), nil
		})
}

var resampleFilters = map[string]imaging.ResampleFilter{
	"Lanczos":         imaging.Lanczos,
	"CatmullRom":      imaging.CatmullRom,
	"Linear":          imaging.Linear,
	"Box":             imaging.Box,
	"NearestNeighbor": imaging.NearestNeighbor,
}

// NewResize scales to Width×Height. A zero dimension preserves the aspect
// ratio; both zero is rejected.
func NewResize() *plugin.FuncAlgorithm {
	return newAlgorithm("Resize", "Resize", "Resamples to a new size",
		[]parameters.Metadata{
			{Name: "Width", Type: parameters.TypeInt, DefaultValue: 0, MinValue: 0, MaxValue: 16384},
			{Name: "Height", Type: parameters.TypeInt, DefaultValue: 0, MinValue: 0, MaxValue: 16384},
			{Name: "Filter", Type: parameters.TypeEnum, DefaultValue: "Lanczos",
				Options: []interface{}{"Lanczos", "CatmullRom", "Linear", "Box", "NearestNeighbor"}},
		},
		func(_ context.Context, img image.Image, v parameters.Values) (image.Image, error) {
			w, h := v.Int("Width"), v.Int("Height")
			if w == 0 && h == 0 {
				return nil, verrors.New("Resize", "Execute", verrors.ErrInvalidParameters, "Width and Height are both zero")
			}
			return imaging.Resize(img, w, h, resampleFilters[v.String("Filter")]), nil
		})
}

// NewCrop cuts Region out of the image. The region is clipped to the image
// and must not end up empty.
func NewCrop() *plugin.FuncAlgorithm {
	return newAlgorithm("Crop", "Crop", "Extracts a rectangular region",
		[]parameters.Metadata{{Name: "Region", Type: parameters.TypeRect, Required: true}},
		func(_ context.Context, img image.Image, v parameters.Values) (image.Image, error) {
			r := v.Rect("Region").Intersect(img.Bounds())
			if r.Empty() {
				return nil, verrors.New("Crop", "Execute", verrors.ErrInvalidParameters,
					"region %v does not overlap image %v", v.Rect("Region"), img.Bounds())
			}
			return imaging.Crop(img, r), nil
		})
}

func NewBrightnessContrast() *plugin.FuncAlgorithm {
	return newAlgorithm("BrightnessContrast", "Brightness / Contrast", "Linear and gamma tone adjustment",
		[]parameters.Metadata{
			{Name: "Brightness", Type: parameters.TypeDouble, DefaultValue: 0.0, MinValue: -100.0, MaxValue: 100.0},
			{Name: "Contrast", Type: parameters.TypeDouble, DefaultValue: 0.0, MinValue: -100.0, MaxValue: 100.0},
			{Name: "Gamma", Type: parameters.TypeDouble, DefaultValue: 1.0, MinValue: 0.1, MaxValue: 10.0},
		},
		func(_ context.Context, img image.Image, v parameters.Values) (image.Image, error) {
			out := imaging.AdjustBrightness(img, v.Float("Brightness"))
			out = imaging.AdjustContrast(out, v.Float("Contrast"))
			if g := v.Float("Gamma"); g != 1.0 {
				out = imaging.AdjustGamma(out, g)
			}
			return out, nil
		})
}

// NewTransform rotates or flips the image.
func NewTransform() *plugin.FuncAlgorithm {
	ops := map[string]func(image.Image) *image.NRGBA{
		"Rotate90":  imaging.Rotate90,
		"Rotate180": imaging.Rotate180,
		"Rotate270": imaging.Rotate270,
		"FlipH":     imaging.FlipH,
		"FlipV":     imaging.FlipV,
		"Transpose": imaging.Transpose,
	}
	return newAlgorithm("Transform", "Transform", "Rotation by quarter turns and mirroring",
		[]parameters.Metadata{{Name: "Operation", Type: parameters.TypeEnum, DefaultValue: "Rotate90",
			Options: []interface{}{"Rotate90", "Rotate180", "Rotate270", "FlipH", "FlipV", "Transpose"}}},
		func(_ context.Context, img image.Image, v parameters.Values) (image.Image, error) {
			return ops[v.String("Operation")](img), nil
		})
}
