package device

import (
	"context"
	"fmt"
	"image"
	"sync"

	"golang.org/x/sync/errgroup"

	verrors "vision-workbench/internal/errors"
	"vision-workbench/internal/logger"
	"vision-workbench/internal/metrics"
)

const component = "DeviceManager"

// maxConcurrentProbes bounds DetectDevices fan-out.
const maxConcurrentProbes = 8

type managed struct {
	driver Driver
	// mu serializes connect, disconnect and capture on one device.
	mu sync.Mutex
}

// Manager is the concurrent-safe facade over registered drivers. The driver
// map is guarded by an RWMutex; operations on one device are serialized by
// that device's own mutex so slow hardware never blocks other devices.
type Manager struct {
	mu      sync.RWMutex
	devices map[string]*managed
	order   []string

	logger  logger.Logger
	metrics *metrics.Metrics
}

func NewManager(log logger.Logger, mt *metrics.Metrics) *Manager {
	return &Manager{
		devices: make(map[string]*managed),
		logger:  logger.OrNop(log),
		metrics: mt,
	}
}

// Register adds a driver under its ID.
func (m *Manager) Register(d Driver) error {
	id := d.ID()
	if id == "" {
		return verrors.New(component, "Register", verrors.ErrInvalidConfig, "driver has no id")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.devices[id]; exists {
		return verrors.New(component, "Register", verrors.ErrDuplicate, "device %q already registered", id)
	}
	m.devices[id] = &managed{driver: d}
	m.order = append(m.order, id)

	m.logger.Info(component, "device driver registered", map[string]interface{}{"device": id})
	return nil
}

// Unregister removes a driver, stopping its stream and disconnecting it
// first.
func (m *Manager) Unregister(ctx context.Context, id string) error {
	m.mu.Lock()
	dev, ok := m.devices[id]
	if ok {
		delete(m.devices, id)
		m.order = removeID(m.order, id)
	}
	m.mu.Unlock()

	if !ok {
		return verrors.New(component, "Unregister", verrors.ErrDeviceNotFound, "%q", id)
	}

	err := m.release(ctx, dev)
	m.metrics.SetDevicesConnected(len(m.ConnectedDevices()))
	m.logger.Info(component, "device driver unregistered", map[string]interface{}{"device": id})
	return err
}

func (m *Manager) release(ctx context.Context, dev *managed) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	var errs []error
	if err := dev.driver.StopContinuousCapture(); err != nil {
		errs = append(errs, err)
	}
	if dev.driver.IsConnected() {
		if err := dev.driver.Disconnect(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		err := verrors.Join(errs...)
		m.logger.Error(component, "device release failed", err, map[string]interface{}{"device": dev.driver.ID()})
		return fmt.Errorf("release %s: %w", dev.driver.ID(), err)
	}
	return nil
}

func (m *Manager) lookup(op, id string) (*managed, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	dev, ok := m.devices[id]
	if !ok {
		return nil, verrors.New(component, op, verrors.ErrDeviceNotFound, "%q", id)
	}
	return dev, nil
}

// Driver returns the registered driver for id.
func (m *Manager) Driver(id string) (Driver, bool) {
	dev, err := m.lookup("Driver", id)
	if err != nil {
		return nil, false
	}
	return dev.driver, true
}

// DetectDevices probes every registered driver concurrently. A driver whose
// probe fails is logged and left out of the result. Results follow
// registration order.
func (m *Manager) DetectDevices(ctx context.Context) []Info {
	m.mu.RLock()
	drivers := make([]Driver, 0, len(m.order))
	for _, id := range m.order {
		drivers = append(drivers, m.devices[id].driver)
	}
	m.mu.RUnlock()

	m.logger.Info(component, "starting device detection", map[string]interface{}{"drivers": len(drivers)})

	found := make([]*Info, len(drivers))
	var g errgroup.Group
	g.SetLimit(maxConcurrentProbes)
	for i, d := range drivers {
		g.Go(func() error {
			info, err := probe(ctx, d)
			if err != nil {
				m.logger.Error(component, "device probe failed", err, map[string]interface{}{"device": d.ID()})
				return nil
			}
			info.IsConnected = d.IsConnected()
			found[i] = &info
			return nil
		})
	}
	_ = g.Wait()

	infos := make([]Info, 0, len(found))
	for _, info := range found {
		if info != nil {
			infos = append(infos, *info)
		}
	}

	m.logger.Info(component, "device detection completed", map[string]interface{}{"found": len(infos)})
	return infos
}

// probe converts a panicking driver into a probe error.
func probe(ctx context.Context, d Driver) (info Info, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("probe panic: %v", r)
		}
	}()
	return d.Probe(ctx)
}

// ConnectDevice connects a device. Connecting a connected device succeeds
// without reconnecting.
func (m *Manager) ConnectDevice(ctx context.Context, id string) error {
	dev, err := m.lookup("ConnectDevice", id)
	if err != nil {
		return err
	}

	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.driver.IsConnected() {
		return nil
	}
	if err := dev.driver.Connect(ctx); err != nil {
		m.logger.Error(component, "device connect failed", err, map[string]interface{}{"device": id})
		return verrors.Wrap(err, component, "ConnectDevice")
	}
	if w, ok := dev.driver.(Warmable); ok {
		if err := w.WarmUp(ctx); err != nil {
			m.logger.Error(component, "device warm-up failed", err, map[string]interface{}{"device": id})
			_ = dev.driver.Disconnect(ctx)
			return verrors.Wrap(err, component, "ConnectDevice")
		}
	}

	m.metrics.SetDevicesConnected(len(m.ConnectedDevices()))
	m.logger.Info(component, "device connected", map[string]interface{}{"device": id})
	return nil
}

// DisconnectDevice stops any stream and disconnects a device. Disconnecting
// a disconnected device succeeds.
func (m *Manager) DisconnectDevice(ctx context.Context, id string) error {
	dev, err := m.lookup("DisconnectDevice", id)
	if err != nil {
		return err
	}

	if err := m.release(ctx, dev); err != nil {
		return verrors.Wrap(err, component, "DisconnectDevice")
	}

	m.metrics.SetDevicesConnected(len(m.ConnectedDevices()))
	m.logger.Info(component, "device disconnected", map[string]interface{}{"device": id})
	return nil
}

// CaptureImage grabs one image from a connected device.
func (m *Manager) CaptureImage(ctx context.Context, id string) (image.Image, error) {
	dev, err := m.lookup("CaptureImage", id)
	if err != nil {
		return nil, err
	}

	dev.mu.Lock()
	defer dev.mu.Unlock()

	if !dev.driver.IsConnected() {
		return nil, verrors.New(component, "CaptureImage", verrors.ErrDeviceNotConnected, "%q", id)
	}

	img, err := dev.driver.Capture(ctx)
	m.metrics.RecordCapture(id, err)
	if err != nil {
		m.logger.Error(component, "capture failed", err, map[string]interface{}{"device": id})
		return nil, verrors.Wrap(err, component, "CaptureImage")
	}

	m.logger.Debug(component, "image captured", map[string]interface{}{
		"device": id,
		"bounds": img.Bounds().String(),
	})
	return img, nil
}

// StartContinuousCapture starts the device's producer loop. Starting a
// running stream returns the existing channel.
func (m *Manager) StartContinuousCapture(ctx context.Context, id string) (<-chan Frame, error) {
	dev, err := m.lookup("StartContinuousCapture", id)
	if err != nil {
		return nil, err
	}

	dev.mu.Lock()
	defer dev.mu.Unlock()

	if !dev.driver.IsConnected() {
		return nil, verrors.New(component, "StartContinuousCapture", verrors.ErrDeviceNotConnected, "%q", id)
	}

	frames, err := dev.driver.StartContinuousCapture(ctx)
	if err != nil {
		return nil, verrors.Wrap(err, component, "StartContinuousCapture")
	}
	m.logger.Info(component, "continuous capture started", map[string]interface{}{"device": id})
	return frames, nil
}

// StopContinuousCapture stops the device's producer loop. Stopping an idle
// device succeeds.
func (m *Manager) StopContinuousCapture(id string) error {
	dev, err := m.lookup("StopContinuousCapture", id)
	if err != nil {
		return err
	}
	if err := dev.driver.StopContinuousCapture(); err != nil {
		return verrors.Wrap(err, component, "StopContinuousCapture")
	}
	return nil
}

// ConnectedDevices returns the ids of connected devices in registration
// order.
func (m *Manager) ConnectedDevices() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.order))
	for _, id := range m.order {
		if m.devices[id].driver.IsConnected() {
			ids = append(ids, id)
		}
	}
	return ids
}

// Devices returns every registered device id in registration order.
func (m *Manager) Devices() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...)
}

// Close stops every stream and disconnects every device, most recently
// registered first. Drivers stay registered.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.RLock()
	devs := make([]*managed, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0; i-- {
		devs = append(devs, m.devices[m.order[i]])
	}
	m.mu.RUnlock()

	var errs []error
	for _, dev := range devs {
		if err := m.release(ctx, dev); err != nil {
			errs = append(errs, err)
		}
	}
	m.metrics.SetDevicesConnected(len(m.ConnectedDevices()))
	return verrors.Join(errs...)
}

// Shutdown satisfies the shutdown manager's component contract.
func (m *Manager) Shutdown(ctx context.Context) error {
	return m.Close(ctx)
}

func removeID(ids []string, id string) []string {
	out := ids[:0:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
