package opencv

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func TestImageToMat_GrayKeepsOneChannel(t *testing.T) {
	img := image.NewGray(image.Rect(2, 3, 6, 5))
	img.SetGray(5, 4, color.Gray{Y: 200})

	mat, err := ImageToMat(img)
	require.NoError(t, err)
	defer mat.Close()

	assert.Equal(t, 1, mat.Channels())
	assert.Equal(t, 4, mat.Cols())
	assert.Equal(t, 2, mat.Rows())
	assert.EqualValues(t, 200, mat.GetUCharAt(1, 3))
}

func TestImageToMat_ColorIsBGR(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.NRGBA{R: 10, G: 20, B: 30, A: 255})

	mat, err := ImageToMat(img)
	require.NoError(t, err)
	defer mat.Close()

	require.Equal(t, 3, mat.Channels())
	assert.EqualValues(t, 30, mat.GetVecbAt(0, 0)[0])
	assert.EqualValues(t, 10, mat.GetVecbAt(0, 0)[2])

	back, err := MatToImage(mat)
	require.NoError(t, err)
	r, g, b, _ := back.At(0, 0).RGBA()
	assert.Equal(t, []uint32{10, 20, 30}, []uint32{r >> 8, g >> 8, b >> 8})
}

func TestConversionRejections(t *testing.T) {
	_, err := ImageToMat(nil)
	assert.Error(t, err)

	_, err = ImageToMat(image.NewGray(image.Rect(0, 0, 0, 4)))
	assert.Error(t, err)

	empty := gocv.NewMat()
	defer empty.Close()
	_, err = MatToImage(empty)
	assert.ErrorContains(t, err, "empty")
}

func TestGrayMat(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 3, 3))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	mat, err := GrayMat(img)
	require.NoError(t, err)
	defer mat.Close()
	assert.Equal(t, 1, mat.Channels())
	assert.EqualValues(t, 255, mat.GetUCharAt(1, 1))
}
