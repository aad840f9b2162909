// Package opencv converts between Go images and gocv matrices. Callers own
// every Mat returned here and must Close it.
package opencv

import (
	"fmt"
	"image"
	"image/draw"

	"gocv.io/x/gocv"
)

// ValidateMat rejects empty matrices before an operation runs.
func ValidateMat(mat gocv.Mat, operation string) error {
	if mat.Empty() {
		return fmt.Errorf("%s: Mat is empty", operation)
	}
	if mat.Rows() <= 0 || mat.Cols() <= 0 {
		return fmt.Errorf("%s: invalid Mat dimensions %dx%d", operation, mat.Cols(), mat.Rows())
	}
	return nil
}

// ImageToMat converts img to an 8-bit Mat. Gray images become single-channel
// Mats; everything else becomes BGR.
func ImageToMat(img image.Image) (gocv.Mat, error) {
	if img == nil {
		return gocv.NewMat(), fmt.Errorf("input image is nil")
	}

	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	if width <= 0 || height <= 0 {
		return gocv.NewMat(), fmt.Errorf("invalid image dimensions %dx%d", width, height)
	}

	if gray, ok := img.(*image.Gray); ok {
		data := make([]byte, 0, width*height)
		for y := b.Min.Y; y < b.Max.Y; y++ {
			start := gray.PixOffset(b.Min.X, y)
			data = append(data, gray.Pix[start:start+width]...)
		}
		return gocv.NewMatFromBytes(height, width, gocv.MatTypeCV8UC1, data)
	}

	rgba := toRGBA(img)
	data := make([]byte, width*height*3)
	i := 0
	for y := 0; y < height; y++ {
		row := rgba.Pix[y*rgba.Stride : y*rgba.Stride+width*4]
		for x := 0; x < width*4; x += 4 {
			data[i] = row[x+2]
			data[i+1] = row[x+1]
			data[i+2] = row[x]
			i += 3
		}
	}
	return gocv.NewMatFromBytes(height, width, gocv.MatTypeCV8UC3, data)
}

// MatToImage converts an 8-bit Mat with 1, 3 or 4 channels.
func MatToImage(mat gocv.Mat) (image.Image, error) {
	if err := ValidateMat(mat, "Mat to image conversion"); err != nil {
		return nil, err
	}
	switch mat.Channels() {
	case 1, 3, 4:
		return mat.ToImage()
	default:
		return nil, fmt.Errorf("unsupported channel count: %d", mat.Channels())
	}
}

// GrayMat converts img straight to a single-channel Mat.
func GrayMat(img image.Image) (gocv.Mat, error) {
	src, err := ImageToMat(img)
	if err != nil {
		return src, err
	}
	if src.Channels() == 1 {
		return src, nil
	}
	defer src.Close()

	dst := gocv.NewMat()
	gocv.CvtColor(src, &dst, gocv.ColorBGRToGray)
	return dst, nil
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}
