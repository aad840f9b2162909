package file

import (
	"context"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	verrors "vision-workbench/internal/errors"
)

func writeImages(t *testing.T, widths ...int) string {
	t.Helper()
	dir := t.TempDir()
	for i, w := range widths {
		img := imaging.New(w, 4, color.NRGBA{R: uint8(i * 40), A: 0xff})
		require.NoError(t, imaging.Save(img, filepath.Join(dir, string(rune('a'+i))+".png")))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip me"), 0o644))
	return dir
}

func TestDriver_ReplaysFilesInNameOrder(t *testing.T) {
	d := New("folder", writeImages(t, 3, 5, 7), nil)
	ctx := context.Background()

	info, err := d.Probe(ctx)
	require.NoError(t, err)
	assert.Equal(t, DeviceType, info.Type)
	assert.Contains(t, info.Description, "3 images")

	_, err = d.Capture(ctx)
	assert.ErrorIs(t, err, verrors.ErrDeviceNotConnected)

	require.NoError(t, d.Connect(ctx))
	var widths []int
	for i := 0; i < 4; i++ {
		img, err := d.Capture(ctx)
		require.NoError(t, err)
		widths = append(widths, img.Bounds().Dx())
	}
	assert.Equal(t, []int{3, 5, 7, 3}, widths, "loops back to the first file")

	idx, err := d.Parameter(ParamIndex)
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
}

func TestDriver_StopsWhenNotLooping(t *testing.T) {
	d := New("folder", writeImages(t, 2), nil)
	ctx := context.Background()
	require.NoError(t, d.SetParameter(ParamLoop, false))
	require.NoError(t, d.Connect(ctx))

	_, err := d.Capture(ctx)
	require.NoError(t, err)
	_, err = d.Capture(ctx)
	assert.Error(t, err)
}

func TestDriver_EmptyFolderCannotConnect(t *testing.T) {
	d := New("folder", t.TempDir(), nil)
	err := d.Connect(context.Background())
	assert.ErrorIs(t, err, verrors.ErrDeviceNotFound)
	assert.False(t, d.IsConnected())
}

func TestDriver_IndexIsReadOnly(t *testing.T) {
	d := New("folder", t.TempDir(), nil)
	err := d.SetParameter(ParamIndex, 3)
	assert.ErrorIs(t, err, verrors.ErrInvalidParameters)
}

func TestDriver_ContinuousCapture(t *testing.T) {
	d := New("folder", writeImages(t, 3, 5), nil)
	ctx := context.Background()
	require.NoError(t, d.SetParameter(ParamFrameInterval, 0))
	require.NoError(t, d.Connect(ctx))

	frames, err := d.StartContinuousCapture(ctx)
	require.NoError(t, err)
	f := <-frames
	require.NoError(t, f.Err)
	assert.Equal(t, 3, f.Image.Bounds().Dx())

	require.NoError(t, d.Disconnect(ctx))
	for range frames {
	}
}
