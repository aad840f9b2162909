// Package file provides a device that replays image files from a directory,
// in name order, one file per capture.
package file

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"

	"vision-workbench/internal/device"
	verrors "vision-workbench/internal/errors"
	"vision-workbench/internal/logger"
	"vision-workbench/internal/parameters"
)

const (
	DeviceType = "ImageFolder"

	ParamLoop          = "Loop"
	ParamAutoOrient    = "AutoOrient"
	ParamFrameInterval = "FrameIntervalMs"
	ParamIndex         = "Index"
)

var extensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".bmp": true, ".tif": true, ".tiff": true,
}

var parameterMetadata = []parameters.Metadata{
	{Name: ParamLoop, DisplayName: "Loop", Type: parameters.TypeBool, DefaultValue: true},
	{Name: ParamAutoOrient, DisplayName: "Apply EXIF orientation", Type: parameters.TypeBool, DefaultValue: true},
	{Name: ParamFrameInterval, DisplayName: "Frame interval (ms)", Type: parameters.TypeInt, DefaultValue: 100, MinValue: 0, MaxValue: 60000},
	{Name: ParamIndex, DisplayName: "Next file", Type: parameters.TypeInt, DefaultValue: 0, MinValue: 0, ReadOnly: true},
}

// Driver replays the image files of one directory.
type Driver struct {
	device.Link

	id       string
	dir      string
	settings *device.Settings
	stream   device.Stream
	logger   logger.Logger

	mu    sync.Mutex
	files []string
	next  int
}

func New(id, dir string, log logger.Logger) *Driver {
	d := &Driver{
		id:       id,
		dir:      dir,
		settings: device.NewSettings(parameterMetadata),
		logger:   logger.OrNop(log),
	}
	d.Link.Acquire = d.acquire
	d.Link.Release = d.release
	return d
}

func (d *Driver) ID() string { return d.id }

func (d *Driver) Probe(ctx context.Context) (device.Info, error) {
	files, err := listImages(d.dir)
	if err != nil {
		return device.Info{}, err
	}
	return device.Info{
		ID:          d.id,
		Name:        filepath.Base(d.dir),
		Type:        DeviceType,
		IsConnected: d.IsConnected(),
		Model:       DeviceType,
		Description: fmt.Sprintf("%d images in %s", len(files), d.dir),
	}, nil
}

func (d *Driver) acquire(ctx context.Context) error {
	files, err := listImages(d.dir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("%w: no images in %s", verrors.ErrDeviceNotFound, d.dir)
	}

	d.mu.Lock()
	d.files = files
	d.next = 0
	d.mu.Unlock()

	d.logger.Info("ImageFolder", "opened image folder", map[string]interface{}{"device": d.id, "files": len(files)})
	return nil
}

func (d *Driver) release(context.Context) error {
	d.stream.Stop()
	d.mu.Lock()
	d.files = nil
	d.mu.Unlock()
	return nil
}

func (d *Driver) Capture(ctx context.Context) (image.Image, error) {
	if !d.IsConnected() {
		return nil, verrors.New("ImageFolder", "Capture", verrors.ErrDeviceNotConnected, "%q", d.id)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	values := d.settings.Values()

	d.mu.Lock()
	if d.next >= len(d.files) {
		if !values.Bool(ParamLoop) || len(d.files) == 0 {
			d.mu.Unlock()
			return nil, fmt.Errorf("image folder %s exhausted", d.dir)
		}
		d.next = 0
	}
	path := d.files[d.next]
	d.next++
	d.mu.Unlock()

	img, err := imaging.Open(path, imaging.AutoOrientation(values.Bool(ParamAutoOrient)))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return img, nil
}

func (d *Driver) StartContinuousCapture(ctx context.Context) (<-chan device.Frame, error) {
	if !d.IsConnected() {
		return nil, verrors.New("ImageFolder", "StartContinuousCapture", verrors.ErrDeviceNotConnected, "%q", d.id)
	}
	interval := time.Duration(d.settings.Values().Int(ParamFrameInterval)) * time.Millisecond
	return d.stream.Start(ctx, interval, d.Capture), nil
}

func (d *Driver) StopContinuousCapture() error {
	d.stream.Stop()
	return nil
}

func (d *Driver) SetParameter(key string, value any) error {
	return d.settings.Set(key, value)
}

func (d *Driver) Parameter(key string) (any, error) {
	if key == ParamIndex {
		d.mu.Lock()
		defer d.mu.Unlock()
		return d.next, nil
	}
	return d.settings.Get(key)
}

func (d *Driver) Parameters() []parameters.Metadata {
	return d.settings.Metadata()
}

func listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !extensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

var _ device.Driver = (*Driver)(nil)
