package algorithms

import (
	"context"
	"fmt"
	"image"

	"github.com/anthonynsimon/bild/blend"
	"github.com/disintegration/imaging"

	verrors "vision-workbench/internal/errors"
	"vision-workbench/internal/imageops"
	"vision-workbench/internal/parameters"
	"vision-workbench/internal/plugin"
)

// Blend composites an overlay image onto a base image. The overlay is
// resampled to the base size when they differ.
type Blend struct {
	plugin.Base
}

var blendModes = map[string]func(bg, fg image.Image) *image.RGBA{
	"Normal":     blend.Normal,
	"Add":        blend.Add,
	"Subtract":   blend.Subtract,
	"Multiply":   blend.Multiply,
	"Screen":     blend.Screen,
	"Difference": blend.Difference,
	"Lighten":    blend.Lighten,
	"Darken":     blend.Darken,
}

func NewBlend() *Blend {
	return &Blend{Base: plugin.Base{
		Desc: plugin.Descriptor{ID: "Blend", Name: "Blend", Version: version, Author: "vision-workbench",
			Description: "Combines two images with a blend mode"},
		Params: []parameters.Metadata{
			{Name: "Mode", Type: parameters.TypeEnum, DefaultValue: "Difference",
				Options: []interface{}{"Normal", "Add", "Subtract", "Multiply", "Screen", "Difference", "Lighten", "Darken", "Opacity"}},
			{Name: "Opacity", Description: "Overlay weight for the Opacity mode", Type: parameters.TypeDouble,
				DefaultValue: 0.5, MinValue: 0.0, MaxValue: 1.0},
		},
	}}
}

func (b *Blend) InputPorts() []plugin.Port {
	return []plugin.Port{
		{ID: "base", Name: "Base", DataType: plugin.DataImage, Required: true},
		{ID: "overlay", Name: "Overlay", DataType: plugin.DataImage, Required: true},
	}
}

func (b *Blend) OutputPorts() []plugin.Port {
	return []plugin.Port{{ID: "output", Name: "Output", DataType: plugin.DataImage}}
}

func (b *Blend) ExecuteNode(_ context.Context, inputs []any, values parameters.Values) (any, error) {
	v, err := prepare(&b.Base, values)
	if err != nil {
		return nil, err
	}
	imgs, err := images(b.Desc.ID, inputs, 2)
	if err != nil {
		return nil, err
	}
	base, overlay := imgs[0], imgs[1]
	if base.Bounds().Size() != overlay.Bounds().Size() {
		overlay = imaging.Resize(overlay, base.Bounds().Dx(), base.Bounds().Dy(), imaging.Linear)
	}

	mode := v.String("Mode")
	if mode == "Opacity" {
		return blend.Opacity(base, overlay, v.Float("Opacity")), nil
	}
	return blendModes[mode](base, overlay), nil
}

// prepare checks the node is running and returns validated values with
// defaults filled in.
func prepare(b *plugin.Base, values parameters.Values) (parameters.Values, error) {
	if err := b.RequireRunning(b.Desc.ID, "ExecuteNode"); err != nil {
		return nil, err
	}
	v := parameters.Defaults(b.Params).Merge(values)
	if err := parameters.Validate(b.Params, v).Err(); err != nil {
		return nil, verrors.Wrap(err, b.Desc.ID, "ExecuteNode")
	}
	return v, nil
}

// Statistics reduces an image to one luma measurement, typically feeding
// a Condition or Switch expression.
type Statistics struct {
	plugin.Base
}

func NewStatistics() *Statistics {
	return &Statistics{Base: plugin.Base{
		Desc: plugin.Descriptor{ID: "Statistics", Name: "Image Statistics", Version: version, Author: "vision-workbench",
			Description: "Measures the luma of an image"},
		Params: []parameters.Metadata{
			{Name: "Measure", Type: parameters.TypeEnum, DefaultValue: "Mean",
				Options: []interface{}{"Mean", "Min", "Max", "Range"}},
		},
	}}
}

func (s *Statistics) InputPorts() []plugin.Port {
	return []plugin.Port{{ID: "input", Name: "Image", DataType: plugin.DataImage, Required: true}}
}

func (s *Statistics) OutputPorts() []plugin.Port {
	return []plugin.Port{{ID: "output", Name: "Value", DataType: plugin.DataNumber}}
}

func (s *Statistics) ExecuteNode(_ context.Context, inputs []any, values parameters.Values) (any, error) {
	v, err := prepare(&s.Base, values)
	if err != nil {
		return nil, err
	}
	imgs, err := images(s.Desc.ID, inputs, 1)
	if err != nil {
		return nil, err
	}

	st := imageops.LumaStats(imgs[0])
	switch v.String("Measure") {
	case "Min":
		return float64(st.Min), nil
	case "Max":
		return float64(st.Max), nil
	case "Range":
		return float64(st.Max) - float64(st.Min), nil
	default:
		return st.Mean, nil
	}
}

// images asserts that the first n inputs are images.
func images(id string, inputs []any, n int) ([]image.Image, error) {
	if len(inputs) < n {
		return nil, verrors.New(id, "ExecuteNode", verrors.ErrInvalidParameters, "expected %d inputs, got %d", n, len(inputs))
	}
	out := make([]image.Image, n)
	for i := 0; i < n; i++ {
		img, ok := inputs[i].(image.Image)
		if !ok {
			return nil, verrors.New(id, "ExecuteNode", verrors.ErrInvalidParameters, "input %d is %s, not an image", i, describe(inputs[i]))
		}
		out[i] = img
	}
	return out, nil
}

func describe(v any) string {
	if v == nil {
		return "missing"
	}
	return fmt.Sprintf("%T", v)
}

var (
	_ plugin.Node = (*Blend)(nil)
	_ plugin.Node = (*Statistics)(nil)
)
