package algorithms

import (
	"context"
	"image"
	"image/color"

	"github.com/anthonynsimon/bild/adjust"
	"github.com/anthonynsimon/bild/effect"
	colorful "github.com/lucasb-eyer/go-colorful"

	"vision-workbench/internal/parameters"
	"vision-workbench/internal/plugin"
)

// NewEdgeDetect highlights intensity changes with a Sobel operator or a
// Laplacian-style kernel of the given radius.
func NewEdgeDetect() *plugin.FuncAlgorithm {
	return newAlgorithm("EdgeDetect", "Edge Detection", "Sobel or kernel edge detection",
		[]parameters.Metadata{
			{Name: "Method", Type: parameters.TypeEnum, DefaultValue: "Sobel", Options: []interface{}{"Sobel", "Kernel"}},
			{Name: "Radius", Type: parameters.TypeDouble, DefaultValue: 1.0, MinValue: 0.5, MaxValue: 10.0},
		},
		func(_ context.Context, img image.Image, v parameters.Values) (image.Image, error) {
			if v.String("Method") == "Kernel" {
				return effect.EdgeDetection(img, v.Float("Radius")), nil
			}
			return effect.Sobel(img), nil
		})
}

// NewMorphology applies erosion, dilation or their opening and closing
// compositions.
func NewMorphology() *plugin.FuncAlgorithm {
	return newAlgorithm("Morphology", "Morphology", "Erode, dilate, open or close",
		[]parameters.Metadata{
			{Name: "Operation", Type: parameters.TypeEnum, DefaultValue: "Open",
				Options: []interface{}{"Erode", "Dilate", "Open", "Close"}},
			{Name: "Radius", Type: parameters.TypeDouble, DefaultValue: 1.0, MinValue: 0.5, MaxValue: 10.0},
		},
		func(_ context.Context, img image.Image, v parameters.Values) (image.Image, error) {
			r := v.Float("Radius")
			switch v.String("Operation") {
			case "Erode":
				return effect.Erode(img, r), nil
			case "Dilate":
				return effect.Dilate(img, r), nil
			case "Close":
				return effect.Erode(effect.Dilate(img, r), r), nil
			default:
				return effect.Dilate(effect.Erode(img, r), r), nil
			}
		})
}

func NewMedian() *plugin.FuncAlgorithm {
	return newAlgorithm("Median", "Median", "Median filter for salt-and-pepper noise",
		[]parameters.Metadata{{Name: "Radius", Type: parameters.TypeDouble, DefaultValue: 1.0, MinValue: 0.5, MaxValue: 10.0}},
		func(_ context.Context, img image.Image, v parameters.Values) (image.Image, error) {
			return effect.Median(img, v.Float("Radius")), nil
		})
}

// NewHueSaturation rotates hue by Hue degrees and scales saturation by
// Saturation (-1 removes all colour).
func NewHueSaturation() *plugin.FuncAlgorithm {
	return newAlgorithm("HueSaturation", "Hue / Saturation", "Hue rotation and saturation scaling",
		[]parameters.Metadata{
			{Name: "Hue", Type: parameters.TypeInt, DefaultValue: 0, MinValue: -360, MaxValue: 360},
			{Name: "Saturation", Type: parameters.TypeDouble, DefaultValue: 0.0, MinValue: -1.0, MaxValue: 5.0},
		},
		func(_ context.Context, img image.Image, v parameters.Values) (image.Image, error) {
			out := adjust.Hue(img, v.Int("Hue"))
			return adjust.Saturation(out, v.Float("Saturation")), nil
		})
}

// ColorMask marks pixels whose CIE L*a*b* distance to Target is at most
// Tolerance. Target is usually picked from a preview, so the UI mixes a
// picker with the generated controls.
type ColorMask struct {
	*plugin.FuncAlgorithm
}

func (*ColorMask) UIMode() plugin.UIMode { return plugin.UIModeHybrid }

func NewColorMask() *ColorMask {
	alg := newAlgorithm("ColorMask", "Color Mask", "Segments pixels close to a reference colour",
		[]parameters.Metadata{
			{Name: "Target", Type: parameters.TypeColor, DefaultValue: color.RGBA{R: 255, A: 255}},
			{Name: "Tolerance", Type: parameters.TypeDouble, DefaultValue: 0.2, MinValue: 0.0, MaxValue: 2.0},
		},
		func(ctx context.Context, img image.Image, v parameters.Values) (image.Image, error) {
			target, _ := colorful.MakeColor(v.Color("Target"))
			tol := v.Float("Tolerance")

			b := img.Bounds()
			mask := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
			for y := 0; y < b.Dy(); y++ {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				for x := 0; x < b.Dx(); x++ {
					c, ok := colorful.MakeColor(img.At(b.Min.X+x, b.Min.Y+y))
					if ok && c.DistanceLab(target) <= tol {
						mask.Pix[y*mask.Stride+x] = 255
					}
				}
			}
			return mask, nil
		})
	return &ColorMask{alg}
}
