package workflow

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/require"

	"vision-workbench/internal/parameters"
	"vision-workbench/internal/plugin"
)

func uniform(w, h int, v uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

func grayOf(img image.Image, x, y int) uint8 {
	return color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y
}

func mapGray(img image.Image, fn func(uint8) uint8) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out.SetGray(x, y, color.Gray{Y: fn(grayOf(img, x, y))})
		}
	}
	return out
}

func thresholdPlugin() plugin.Plugin {
	return plugin.NewFuncAlgorithm(
		plugin.Descriptor{ID: "Threshold", Name: "Threshold", Version: "1.0.0"},
		[]parameters.Metadata{{Name: "Threshold", Type: parameters.TypeInt, DefaultValue: 128, MinValue: 0, MaxValue: 255}},
		func(_ context.Context, img image.Image, v parameters.Values) (image.Image, error) {
			t := uint8(v.Int("Threshold"))
			return mapGray(img, func(g uint8) uint8 {
				if g >= t {
					return 255
				}
				return 0
			}), nil
		})
}

func invertPlugin() plugin.Plugin {
	return plugin.NewFuncAlgorithm(
		plugin.Descriptor{ID: "Invert", Name: "Invert", Version: "1.0.0"},
		nil,
		func(_ context.Context, img image.Image, _ parameters.Values) (image.Image, error) {
			return mapGray(img, func(g uint8) uint8 { return 255 - g }), nil
		})
}

func failingPlugin() plugin.Plugin {
	return plugin.NewFuncAlgorithm(
		plugin.Descriptor{ID: "Broken", Name: "Broken", Version: "1.0.0"},
		nil,
		func(context.Context, image.Image, parameters.Values) (image.Image, error) {
			return nil, errors.New("sensor glitch")
		})
}

// sumNode adds two gray images pixel by pixel, saturating at 255.
type sumNode struct {
	plugin.Base
}

func newSumNode() *sumNode {
	return &sumNode{Base: plugin.Base{Desc: plugin.Descriptor{ID: "Sum", Name: "Sum", Version: "1.0.0"}}}
}

func (s *sumNode) InputPorts() []plugin.Port {
	return []plugin.Port{
		{ID: "left", DataType: plugin.DataImage, Required: true},
		{ID: "right", DataType: plugin.DataImage, Required: true},
	}
}

func (s *sumNode) OutputPorts() []plugin.Port {
	return []plugin.Port{{ID: PortOutput, DataType: plugin.DataImage}}
}

func (s *sumNode) ExecuteNode(_ context.Context, inputs []any, _ parameters.Values) (any, error) {
	left, right := inputs[0].(image.Image), inputs[1].(image.Image)
	b := left.Bounds()
	out := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			v := int(grayOf(left, x, y)) + int(grayOf(right, x, y))
			if v > 255 {
				v = 255
			}
			out.SetGray(x, y, color.Gray{Y: uint8(v)})
		}
	}
	return out, nil
}

// newTestEngine registers, loads and starts the given plugins.
func newTestEngine(t *testing.T, plugins ...plugin.Plugin) *Engine {
	t.Helper()
	m := plugin.NewManager(nil)
	for _, p := range plugins {
		require.NoError(t, m.RegisterPlugin(p))
	}
	_, err := m.LoadPlugins(context.Background())
	require.NoError(t, err)
	require.NoError(t, m.StartPlugins())
	t.Cleanup(func() { _ = m.UnloadPlugins(context.Background()) })
	return NewEngine(m)
}

func standardEngine(t *testing.T) *Engine {
	return newTestEngine(t, thresholdPlugin(), invertPlugin(), failingPlugin(), newSumNode())
}

func mustNodes(t *testing.T, w *Workflow, nodes ...Node) {
	t.Helper()
	for _, n := range nodes {
		require.NoError(t, w.AddNode(n))
	}
}

func mustConnect(t *testing.T, w *Workflow, pairs ...[2]string) {
	t.Helper()
	for _, p := range pairs {
		require.NoError(t, w.Connect(Connection{SourceNodeID: p[0], TargetNodeID: p[1]}))
	}
}

func start(id string) Node { return Node{ID: id, Type: NodeStart} }

func algo(id, algorithm string) Node {
	return Node{ID: id, Type: NodeAlgorithm, AlgorithmType: algorithm}
}
