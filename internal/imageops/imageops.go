// Package imageops holds the small pixel helpers shared by the pure-Go
// algorithm plugins.
package imageops

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// ToGray returns img as an 8-bit gray image whose bounds start at the
// origin. Gray input that already starts at the origin is returned as is.
func ToGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Rect.Min == (image.Point{}) {
		return g
	}
	nrgba := imaging.Grayscale(img)
	b := nrgba.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		src := nrgba.Pix[y*nrgba.Stride : y*nrgba.Stride+b.Dx()*4]
		dst := out.Pix[y*out.Stride : y*out.Stride+b.Dx()]
		for x := range dst {
			dst[x] = src[x*4]
		}
	}
	return out
}

// Histogram counts the pixel values of g. When mask is non-nil only pixels
// whose mask entry is true are counted; mask is indexed y*width+x.
func Histogram(g *image.Gray, mask []bool) [256]int {
	var hist [256]int
	w, h := g.Rect.Dx(), g.Rect.Dy()
	for y := 0; y < h; y++ {
		row := g.Pix[y*g.Stride : y*g.Stride+w]
		for x, v := range row {
			if mask != nil && !mask[y*w+x] {
				continue
			}
			hist[v]++
		}
	}
	return hist
}

// Stats summarises the luma of an image.
type Stats struct {
	Mean   float64
	Min    uint8
	Max    uint8
	Pixels int
}

// LumaStats computes Stats over every pixel of img.
func LumaStats(img image.Image) Stats {
	g := ToGray(img)
	hist := Histogram(g, nil)
	s := Stats{Min: 255}
	var sum float64
	for v, n := range hist {
		if n == 0 {
			continue
		}
		s.Pixels += n
		sum += float64(v) * float64(n)
		s.Min = min(s.Min, uint8(v))
		s.Max = max(s.Max, uint8(v))
	}
	if s.Pixels == 0 {
		return Stats{}
	}
	s.Mean = sum / float64(s.Pixels)
	return s
}

// Binarize maps every pixel of g to 255 when keep reports true and 0
// otherwise.
func Binarize(g *image.Gray, keep func(x, y int, v uint8) bool) *image.Gray {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if keep(x, y, g.Pix[y*g.Stride+x]) {
				out.Pix[y*out.Stride+x] = 255
			}
		}
	}
	return out
}

// Uniform returns a w×h gray image filled with v.
func Uniform(w, h int, v uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

// GrayAt reads the luma of img at (x, y).
func GrayAt(img image.Image, x, y int) uint8 {
	return color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y
}
