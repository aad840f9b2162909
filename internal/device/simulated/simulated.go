// Package simulated provides a software camera that renders a moving test
// pattern. It needs no hardware and is used for tests and demos.
package simulated

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/lucasb-eyer/go-colorful"

	"vision-workbench/internal/device"
	verrors "vision-workbench/internal/errors"
	"vision-workbench/internal/logger"
	"vision-workbench/internal/parameters"
)

const (
	DeviceType = "SimulatedCamera"

	ParamWidth         = "Width"
	ParamHeight        = "Height"
	ParamFrameInterval = "FrameIntervalMs"
	ParamTriggerMode   = "TriggerMode"
	ParamGain          = "Gain"

	TriggerNone     = "None"
	TriggerSoftware = "Software"
	TriggerTimer    = "Timer"
)

var parameterMetadata = []parameters.Metadata{
	{Name: ParamWidth, DisplayName: "Width", Type: parameters.TypeInt, DefaultValue: 640, MinValue: 8, MaxValue: 4096, Category: "Image"},
	{Name: ParamHeight, DisplayName: "Height", Type: parameters.TypeInt, DefaultValue: 480, MinValue: 8, MaxValue: 4096, Category: "Image"},
	{Name: ParamFrameInterval, DisplayName: "Frame interval (ms)", Type: parameters.TypeInt, DefaultValue: 33, MinValue: 0, MaxValue: 10000, Category: "Acquisition"},
	{Name: ParamTriggerMode, DisplayName: "Trigger mode", Type: parameters.TypeEnum, DefaultValue: TriggerNone,
		Options: []interface{}{TriggerNone, TriggerSoftware, TriggerTimer}, Category: "Acquisition"},
	{Name: ParamGain, DisplayName: "Gain", Type: parameters.TypeDouble, DefaultValue: 1.0, MinValue: 0.0, MaxValue: 4.0, Category: "Image"},
}

// Driver is a simulated camera. Frame n is filled with a hue that advances
// 15 degrees per frame and carries a square that moves across the image, so
// consecutive frames always differ.
type Driver struct {
	device.Link

	id       string
	name     string
	settings *device.Settings
	stream   device.Stream
	logger   logger.Logger

	probeErr     error
	connectDelay time.Duration

	mu       sync.Mutex
	frame    uint64
	triggers chan struct{}
}

type Option func(*Driver)

func WithName(name string) Option {
	return func(d *Driver) { d.name = name }
}

// WithProbeError makes Probe fail, standing in for an unplugged device.
func WithProbeError(err error) Option {
	return func(d *Driver) { d.probeErr = err }
}

func WithConnectDelay(delay time.Duration) Option {
	return func(d *Driver) { d.connectDelay = delay }
}

func WithLogger(log logger.Logger) Option {
	return func(d *Driver) { d.logger = log }
}

func New(id string, opts ...Option) *Driver {
	d := &Driver{
		id:       id,
		name:     "Simulated Camera",
		settings: device.NewSettings(parameterMetadata),
		triggers: make(chan struct{}, 16),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = logger.OrNop(d.logger)
	d.Link.Acquire = d.acquire
	d.Link.Release = d.release
	return d
}

func (d *Driver) ID() string { return d.id }

func (d *Driver) Probe(ctx context.Context) (device.Info, error) {
	if d.probeErr != nil {
		return device.Info{}, d.probeErr
	}
	if err := ctx.Err(); err != nil {
		return device.Info{}, err
	}
	return device.Info{
		ID:           d.id,
		Name:         d.name,
		Type:         DeviceType,
		IsConnected:  d.IsConnected(),
		Manufacturer: "Simulated",
		Model:        DeviceType,
		Description:  "Software pattern generator",
	}, nil
}

func (d *Driver) acquire(ctx context.Context) error {
	if d.connectDelay > 0 {
		select {
		case <-time.After(d.connectDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	d.logger.Info("SimulatedCamera", "connected", map[string]interface{}{"device": d.id})
	return nil
}

func (d *Driver) release(context.Context) error {
	d.stream.Stop()
	d.logger.Info("SimulatedCamera", "disconnected", map[string]interface{}{"device": d.id})
	return nil
}

func (d *Driver) Capture(ctx context.Context) (image.Image, error) {
	if !d.IsConnected() {
		return nil, verrors.New("SimulatedCamera", "Capture", verrors.ErrDeviceNotConnected, "%q", d.id)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	n := d.frame
	d.frame++
	d.mu.Unlock()

	values := d.settings.Values()
	return Render(n, values.Int(ParamWidth), values.Int(ParamHeight), values.Float(ParamGain)), nil
}

// Render draws frame n of the test pattern.
func Render(n uint64, width, height int, gain float64) *image.NRGBA {
	hue := float64((n * 15) % 360)
	bg := colorful.Hsv(hue, 0.6, clamp01(0.8*gain)).Clamped()
	fg := colorful.Hsv(float64((n*15+180)%360), 0.9, clamp01(0.9*gain)).Clamped()

	frame := imaging.New(width, height, toNRGBA(bg))

	side := height / 4
	if side < 1 {
		side = 1
	}
	square := imaging.New(side, side, toNRGBA(fg))
	span := width - side
	x := 0
	if span > 0 {
		x = int((n * 8) % uint64(span))
	}
	return imaging.Paste(frame, square, image.Pt(x, (height-side)/2))
}

func toNRGBA(c colorful.Color) color.NRGBA {
	r, g, b := c.RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: 0xff}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func (d *Driver) StartContinuousCapture(ctx context.Context) (<-chan device.Frame, error) {
	if !d.IsConnected() {
		return nil, verrors.New("SimulatedCamera", "StartContinuousCapture", verrors.ErrDeviceNotConnected, "%q", d.id)
	}

	values := d.settings.Values()
	interval := time.Duration(values.Int(ParamFrameInterval)) * time.Millisecond
	software := values.String(ParamTriggerMode) == TriggerSoftware

	return d.stream.Start(ctx, interval, func(ctx context.Context) (image.Image, error) {
		if software {
			select {
			case <-d.triggers:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return d.Capture(ctx)
	}), nil
}

func (d *Driver) StopContinuousCapture() error {
	d.stream.Stop()
	return nil
}

// Trigger releases one frame when TriggerMode is Software.
func (d *Driver) Trigger() error {
	mode, err := device.GetParameter[string](d, ParamTriggerMode)
	if err != nil {
		return err
	}
	if mode != TriggerSoftware {
		return verrors.New("SimulatedCamera", "Trigger", verrors.ErrInvalidState, "trigger mode is %s", mode)
	}
	select {
	case d.triggers <- struct{}{}:
		return nil
	default:
		return errors.New("trigger queue full")
	}
}

func (d *Driver) SetParameter(key string, value any) error {
	if err := d.settings.Set(key, value); err != nil {
		return verrors.Wrap(err, "SimulatedCamera", "SetParameter")
	}
	d.logger.Debug("SimulatedCamera", "parameter set", map[string]interface{}{"device": d.id, "key": key, "value": value})
	return nil
}

func (d *Driver) Parameter(key string) (any, error) {
	return d.settings.Get(key)
}

func (d *Driver) Parameters() []parameters.Metadata {
	return d.settings.Metadata()
}

var _ device.Triggerable = (*Driver)(nil)
