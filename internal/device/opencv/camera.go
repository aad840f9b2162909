// Package opencv drives cameras and video sources through OpenCV's
// VideoCapture.
package opencv

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"vision-workbench/internal/device"
	verrors "vision-workbench/internal/errors"
	"vision-workbench/internal/logger"
	cv "vision-workbench/internal/opencv"
	"vision-workbench/internal/parameters"
)

const (
	DeviceType = "OpenCVCamera"

	ParamWidth      = "Width"
	ParamHeight     = "Height"
	ParamFPS        = "FPS"
	ParamExposure   = "Exposure"
	ParamGain       = "Gain"
	ParamBrightness = "Brightness"
)

var parameterMetadata = []parameters.Metadata{
	{Name: ParamWidth, Type: parameters.TypeInt, DefaultValue: 640, MinValue: 1, MaxValue: 8192},
	{Name: ParamHeight, Type: parameters.TypeInt, DefaultValue: 480, MinValue: 1, MaxValue: 8192},
	{Name: ParamFPS, Type: parameters.TypeDouble, DefaultValue: 30.0, MinValue: 0.1, MaxValue: 240.0},
	{Name: ParamExposure, Type: parameters.TypeDouble},
	{Name: ParamGain, Type: parameters.TypeDouble},
	{Name: ParamBrightness, Type: parameters.TypeDouble},
}

var properties = map[string]gocv.VideoCaptureProperties{
	ParamWidth:      gocv.VideoCaptureFrameWidth,
	ParamHeight:     gocv.VideoCaptureFrameHeight,
	ParamFPS:        gocv.VideoCaptureFPS,
	ParamExposure:   gocv.VideoCaptureExposure,
	ParamGain:       gocv.VideoCaptureGain,
	ParamBrightness: gocv.VideoCaptureBrightness,
}

// Camera wraps a gocv VideoCapture. Source is a device index or a file/URL
// understood by OpenCV.
type Camera struct {
	device.Link

	id       string
	name     string
	source   any
	settings *device.Settings
	stream   device.Stream
	logger   logger.Logger

	mu      sync.Mutex
	capture *gocv.VideoCapture
	frame   gocv.Mat
}

func New(id, name string, source any, log logger.Logger) *Camera {
	c := &Camera{
		id:       id,
		name:     name,
		source:   source,
		settings: device.NewSettings(parameterMetadata),
		logger:   logger.OrNop(log),
	}
	c.Link.Acquire = c.acquire
	c.Link.Release = c.release
	return c
}

func (c *Camera) ID() string { return c.id }

// Probe opens the source briefly when the camera is not connected.
func (c *Camera) Probe(ctx context.Context) (device.Info, error) {
	info := device.Info{
		ID:           c.id,
		Name:         c.name,
		Type:         DeviceType,
		Manufacturer: "OpenCV",
		Model:        fmt.Sprint(c.source),
		Description:  "VideoCapture source " + fmt.Sprint(c.source),
	}
	if c.IsConnected() {
		info.IsConnected = true
		return info, nil
	}

	vc, err := gocv.OpenVideoCapture(c.source)
	if err != nil {
		return device.Info{}, fmt.Errorf("probe %v: %w", c.source, err)
	}
	defer vc.Close()
	if !vc.IsOpened() {
		return device.Info{}, fmt.Errorf("probe %v: source not available", c.source)
	}
	return info, nil
}

func (c *Camera) acquire(ctx context.Context) error {
	vc, err := gocv.OpenVideoCapture(c.source)
	if err != nil {
		return fmt.Errorf("open %v: %w", c.source, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return fmt.Errorf("open %v: source not available", c.source)
	}

	values := c.settings.Values()
	for key, prop := range properties {
		if v, ok := values[key]; ok && v != nil {
			vc.Set(prop, values.Float(key))
		}
	}

	c.mu.Lock()
	c.capture = vc
	c.frame = gocv.NewMat()
	c.mu.Unlock()

	c.logger.Info("OpenCVCamera", "camera opened", map[string]interface{}{"device": c.id, "source": fmt.Sprint(c.source)})
	return nil
}

func (c *Camera) release(context.Context) error {
	c.stream.Stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.capture == nil {
		return nil
	}
	err := c.capture.Close()
	c.frame.Close()
	c.capture = nil
	c.logger.Info("OpenCVCamera", "camera closed", map[string]interface{}{"device": c.id})
	return err
}

func (c *Camera) Capture(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capture == nil {
		return nil, verrors.New("OpenCVCamera", "Capture", verrors.ErrDeviceNotConnected, "%q", c.id)
	}
	if ok := c.capture.Read(&c.frame); !ok || c.frame.Empty() {
		return nil, fmt.Errorf("camera %s returned no frame", c.id)
	}
	return cv.MatToImage(c.frame)
}

func (c *Camera) StartContinuousCapture(ctx context.Context) (<-chan device.Frame, error) {
	if !c.IsConnected() {
		return nil, verrors.New("OpenCVCamera", "StartContinuousCapture", verrors.ErrDeviceNotConnected, "%q", c.id)
	}
	// VideoCapture.Read blocks until the next frame, which paces the loop.
	return c.stream.Start(ctx, 0, c.Capture), nil
}

func (c *Camera) StopContinuousCapture() error {
	c.stream.Stop()
	return nil
}

func (c *Camera) SetParameter(key string, value any) error {
	if err := c.settings.Set(key, value); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.capture != nil {
		c.capture.Set(properties[key], c.settings.Values().Float(key))
	}
	return nil
}

func (c *Camera) Parameters() []parameters.Metadata {
	return c.settings.Metadata()
}

// Parameter reads the live property from an open camera, falling back to
// the configured value.
func (c *Camera) Parameter(key string) (any, error) {
	v, err := c.settings.Get(key)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.capture == nil {
		return v, nil
	}
	live := c.capture.Get(properties[key])
	if key == ParamWidth || key == ParamHeight {
		return int(live), nil
	}
	return live, nil
}

// FrameTimeout is how long WarmUp waits for a first frame.
const FrameTimeout = 5 * time.Second

// WarmUp captures until the camera delivers a frame, which some devices
// need after opening.
func (c *Camera) WarmUp(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, FrameTimeout)
	defer cancel()
	for {
		_, err := c.Capture(ctx)
		if err == nil {
			return nil
		}
		if verrors.Is(err, verrors.ErrDeviceNotConnected) {
			return err
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("camera %s: %w", c.id, ctx.Err())
		case <-time.After(50 * time.Millisecond):
		}
	}
}

var _ device.Warmable = (*Camera)(nil)
