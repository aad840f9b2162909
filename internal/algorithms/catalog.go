// Package algorithms provides the built-in image processing plugins: point
// and tone operations, filters, thresholding and the multi-input workflow
// nodes. Every plugin is pure Go; OpenCV-backed plugins live in
// algorithms/opencv.
package algorithms

import (
	"slices"

	"vision-workbench/internal/algorithms/otsu"
	"vision-workbench/internal/plugin"
)

// Builtin returns fresh instances of every built-in plugin in registration
// order.
func Builtin() []plugin.Plugin {
	return []plugin.Plugin{
		NewThreshold(),
		otsu.NewAutoThreshold(),
		otsu.NewOtsu2D(),
		otsu.NewTriclass(),
		NewInvert(),
		NewGrayscale(),
		NewGaussianBlur(),
		NewSharpen(),
		NewMedian(),
		NewEdgeDetect(),
		NewMorphology(),
		NewBrightnessContrast(),
		NewHueSaturation(),
		NewColorMask(),
		NewResize(),
		NewCrop(),
		NewTransform(),
		NewBlend(),
		NewStatistics(),
	}
}

// Register adds the given plugins to m, skipping any whose ID is listed in
// disabled. It stops at the first registration error.
func Register(m *plugin.Manager, plugins []plugin.Plugin, disabled ...string) error {
	for _, p := range plugins {
		if slices.Contains(disabled, p.Descriptor().ID) {
			continue
		}
		if err := m.RegisterPlugin(p); err != nil {
			return err
		}
	}
	return nil
}
