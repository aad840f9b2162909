// Package device abstracts image-acquisition hardware behind the Driver
// contract and manages registered drivers through Manager.
//
// Drivers compose Link for idempotent resource acquisition and Stream for
// their continuous-capture loop. The Manager guarantees that a driver it
// removes, or a Manager it closes, leaves no device connected.
package device

import (
	"context"
	"fmt"
	"image"
	"time"

	verrors "vision-workbench/internal/errors"
)

// Info describes a device as reported by its driver.
type Info struct {
	ID           string
	Name         string
	Type         string
	IsConnected  bool
	Manufacturer string
	Model        string
	Description  string
}

// Frame is one image produced by continuous capture. Err is set when a
// capture attempt failed; the stream keeps running.
type Frame struct {
	Seq       uint64
	Image     image.Image
	Timestamp time.Time
	Err       error
}

// Driver is the per-device abstraction. Connect and Disconnect are
// idempotent. Capture and StartContinuousCapture require a connection.
type Driver interface {
	ID() string
	// Probe reports device information without changing connection state.
	Probe(ctx context.Context) (Info, error)
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool
	Capture(ctx context.Context) (image.Image, error)
	// StartContinuousCapture starts the producer loop. Calling it while the
	// loop runs returns the existing channel.
	StartContinuousCapture(ctx context.Context) (<-chan Frame, error)
	// StopContinuousCapture stops the loop and closes the frame channel.
	// Stopping a stream that is not running succeeds.
	StopContinuousCapture() error
	SetParameter(key string, value any) error
	Parameter(key string) (any, error)
}

// Triggerable drivers support a software trigger mode where each Trigger
// call releases one frame of continuous capture.
type Triggerable interface {
	Driver
	Trigger() error
}

// Warmable drivers need frames to settle after connecting. The manager
// calls WarmUp once per connect and disconnects again when it fails.
type Warmable interface {
	Driver
	WarmUp(ctx context.Context) error
}

// GetParameter reads a driver parameter as type T.
func GetParameter[T any](d Driver, key string) (T, error) {
	var zero T
	v, err := d.Parameter(key)
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: device %s parameter %q is %T, not %T",
			verrors.ErrInvalidParameters, d.ID(), key, v, zero)
	}
	return typed, nil
}
