package device_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vision-workbench/internal/device"
	"vision-workbench/internal/device/simulated"
	verrors "vision-workbench/internal/errors"
	"vision-workbench/internal/metrics"
)

func newManager(t *testing.T) (*device.Manager, *metrics.Metrics) {
	t.Helper()
	mt := metrics.New()
	m := device.NewManager(nil, mt)
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	return m, mt
}

func TestDetectDevices_OmitsFailingProbe(t *testing.T) {
	m, _ := newManager(t)

	require.NoError(t, m.Register(simulated.New("cam-ok", simulated.WithName("Good"))))
	require.NoError(t, m.Register(simulated.New("cam-bad", simulated.WithProbeError(errors.New("unplugged")))))

	infos := m.DetectDevices(context.Background())
	require.Len(t, infos, 1)
	assert.Equal(t, "cam-ok", infos[0].ID)
	assert.Equal(t, "Good", infos[0].Name)
	assert.Equal(t, simulated.DeviceType, infos[0].Type)
	assert.False(t, infos[0].IsConnected)
}

func TestDetectDevices_KeepsRegistrationOrder(t *testing.T) {
	m, _ := newManager(t)
	ids := []string{"c", "a", "e", "b", "d"}
	for _, id := range ids {
		require.NoError(t, m.Register(simulated.New(id)))
	}

	infos := m.DetectDevices(context.Background())
	got := make([]string, 0, len(infos))
	for _, info := range infos {
		got = append(got, info.ID)
	}
	assert.Equal(t, ids, got)
}

func TestRegister_RejectsDuplicateAndEmptyID(t *testing.T) {
	m, _ := newManager(t)
	require.NoError(t, m.Register(simulated.New("cam")))

	err := m.Register(simulated.New("cam"))
	assert.ErrorIs(t, err, verrors.ErrDuplicate)

	err = m.Register(simulated.New(""))
	assert.ErrorIs(t, err, verrors.ErrInvalidConfig)
}

func TestConnectDevice_IsIdempotent(t *testing.T) {
	m, mt := newManager(t)
	cam := simulated.New("cam")
	require.NoError(t, m.Register(cam))

	ctx := context.Background()
	require.NoError(t, m.ConnectDevice(ctx, "cam"))
	require.NoError(t, m.ConnectDevice(ctx, "cam"))

	assert.True(t, cam.IsConnected())
	assert.EqualValues(t, 1, cam.Acquisitions())
	assert.Equal(t, []string{"cam"}, m.ConnectedDevices())
	assert.Equal(t, 1.0, testutil.ToFloat64(mt.DevicesConnected))
}

type settlingCamera struct {
	*simulated.Driver
	warmErr error
	warmups int
}

func (s *settlingCamera) WarmUp(ctx context.Context) error {
	s.warmups++
	if s.warmErr != nil {
		return s.warmErr
	}
	_, err := s.Capture(ctx)
	return err
}

func TestConnectDevice_WarmsUpSettlingDrivers(t *testing.T) {
	m, _ := newManager(t)
	ok := &settlingCamera{Driver: simulated.New("ok")}
	dark := &settlingCamera{Driver: simulated.New("dark"), warmErr: errors.New("no frame")}
	require.NoError(t, m.Register(ok))
	require.NoError(t, m.Register(dark))
	ctx := context.Background()

	require.NoError(t, m.ConnectDevice(ctx, "ok"))
	require.NoError(t, m.ConnectDevice(ctx, "ok"))
	assert.Equal(t, 1, ok.warmups)

	err := m.ConnectDevice(ctx, "dark")
	assert.ErrorIs(t, err, dark.warmErr)
	assert.False(t, dark.IsConnected())
	assert.Equal(t, []string{"ok"}, m.ConnectedDevices())
}

func TestConnectDevice_UnknownID(t *testing.T) {
	m, _ := newManager(t)
	err := m.ConnectDevice(context.Background(), "nope")
	assert.ErrorIs(t, err, verrors.ErrDeviceNotFound)
	assert.Equal(t, verrors.ClassResolution, verrors.ClassOf(err))
}

func TestConnectDevice_HonoursContext(t *testing.T) {
	m, _ := newManager(t)
	require.NoError(t, m.Register(simulated.New("slow", simulated.WithConnectDelay(time.Second))))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := m.ConnectDevice(ctx, "slow")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, m.ConnectedDevices())
}

func TestCaptureImage(t *testing.T) {
	m, mt := newManager(t)
	require.NoError(t, m.Register(simulated.New("cam")))
	ctx := context.Background()

	_, err := m.CaptureImage(ctx, "cam")
	assert.ErrorIs(t, err, verrors.ErrDeviceNotConnected)

	_, err = m.CaptureImage(ctx, "ghost")
	assert.ErrorIs(t, err, verrors.ErrDeviceNotFound)

	require.NoError(t, m.ConnectDevice(ctx, "cam"))
	first, err := m.CaptureImage(ctx, "cam")
	require.NoError(t, err)
	second, err := m.CaptureImage(ctx, "cam")
	require.NoError(t, err)

	assert.Equal(t, 640, first.Bounds().Dx())
	assert.Equal(t, 480, first.Bounds().Dy())
	assert.NotEqual(t, first.At(0, 0), second.At(0, 0), "consecutive frames differ")
	assert.Equal(t, 2.0, testutil.ToFloat64(mt.DeviceCaptures.WithLabelValues("cam", "ok")))
}

func TestDisconnectDevice_StopsStream(t *testing.T) {
	m, _ := newManager(t)
	cam := simulated.New("cam")
	require.NoError(t, m.Register(cam))
	ctx := context.Background()

	require.NoError(t, m.ConnectDevice(ctx, "cam"))
	frames, err := m.StartContinuousCapture(ctx, "cam")
	require.NoError(t, err)

	require.NoError(t, m.DisconnectDevice(ctx, "cam"))
	assert.False(t, cam.IsConnected())
	assertClosed(t, frames)

	// Disconnecting twice is fine.
	require.NoError(t, m.DisconnectDevice(ctx, "cam"))
}

func TestContinuousCapture_StartTwiceReturnsSameChannel(t *testing.T) {
	m, _ := newManager(t)
	cam := simulated.New("cam")
	require.NoError(t, cam.SetParameter(simulated.ParamWidth, 32))
	require.NoError(t, cam.SetParameter(simulated.ParamHeight, 24))
	require.NoError(t, cam.SetParameter(simulated.ParamFrameInterval, 1))
	require.NoError(t, m.Register(cam))
	ctx := context.Background()

	_, err := m.StartContinuousCapture(ctx, "cam")
	assert.ErrorIs(t, err, verrors.ErrDeviceNotConnected)

	require.NoError(t, m.ConnectDevice(ctx, "cam"))
	first, err := m.StartContinuousCapture(ctx, "cam")
	require.NoError(t, err)
	second, err := m.StartContinuousCapture(ctx, "cam")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	var last uint64
	for i := 0; i < 3; i++ {
		select {
		case f := <-first:
			require.NoError(t, f.Err)
			assert.Greater(t, f.Seq, last)
			last = f.Seq
			assert.Equal(t, 32, f.Image.Bounds().Dx())
		case <-time.After(2 * time.Second):
			t.Fatal("no frame")
		}
	}

	require.NoError(t, m.StopContinuousCapture("cam"))
	assertClosed(t, first)

	// Stopping an idle stream succeeds.
	require.NoError(t, m.StopContinuousCapture("cam"))
	assert.True(t, cam.IsConnected())
}

func TestSoftwareTrigger_ReleasesOneFrame(t *testing.T) {
	m, _ := newManager(t)
	cam := simulated.New("cam")
	require.NoError(t, cam.SetParameter(simulated.ParamWidth, 16))
	require.NoError(t, cam.SetParameter(simulated.ParamHeight, 16))
	require.NoError(t, cam.SetParameter(simulated.ParamFrameInterval, 0))
	require.NoError(t, m.Register(cam))
	ctx := context.Background()

	err := cam.Trigger()
	assert.ErrorIs(t, err, verrors.ErrInvalidState)

	require.NoError(t, cam.SetParameter(simulated.ParamTriggerMode, simulated.TriggerSoftware))
	require.NoError(t, m.ConnectDevice(ctx, "cam"))
	frames, err := m.StartContinuousCapture(ctx, "cam")
	require.NoError(t, err)

	select {
	case <-frames:
		t.Fatal("frame produced without a trigger")
	case <-time.After(50 * time.Millisecond):
	}

	var trig device.Triggerable = cam
	require.NoError(t, trig.Trigger())
	select {
	case f := <-frames:
		assert.EqualValues(t, 1, f.Seq)
	case <-time.After(2 * time.Second):
		t.Fatal("trigger did not release a frame")
	}
}

func TestUnregister_DisconnectsDevice(t *testing.T) {
	m, _ := newManager(t)
	cam := simulated.New("cam")
	require.NoError(t, m.Register(cam))
	ctx := context.Background()
	require.NoError(t, m.ConnectDevice(ctx, "cam"))

	require.NoError(t, m.Unregister(ctx, "cam"))
	assert.False(t, cam.IsConnected())
	assert.Empty(t, m.Devices())

	_, ok := m.Driver("cam")
	assert.False(t, ok)

	err := m.Unregister(ctx, "cam")
	assert.ErrorIs(t, err, verrors.ErrDeviceNotFound)
}

func TestClose_DisconnectsEverything(t *testing.T) {
	m, mt := newManager(t)
	ctx := context.Background()
	cams := []*simulated.Driver{simulated.New("a"), simulated.New("b"), simulated.New("c")}
	for _, c := range cams {
		require.NoError(t, m.Register(c))
		require.NoError(t, m.ConnectDevice(ctx, c.ID()))
	}
	_, err := m.StartContinuousCapture(ctx, "b")
	require.NoError(t, err)

	require.NoError(t, m.Shutdown(ctx))
	for _, c := range cams {
		assert.False(t, c.IsConnected(), c.ID())
	}
	assert.Empty(t, m.ConnectedDevices())
	assert.Equal(t, []string{"a", "b", "c"}, m.Devices(), "drivers stay registered")
	assert.Equal(t, 0.0, testutil.ToFloat64(mt.DevicesConnected))
}

func TestGetParameter(t *testing.T) {
	cam := simulated.New("cam")

	w, err := device.GetParameter[int](cam, simulated.ParamWidth)
	require.NoError(t, err)
	assert.Equal(t, 640, w)

	_, err = device.GetParameter[string](cam, simulated.ParamWidth)
	assert.ErrorIs(t, err, verrors.ErrInvalidParameters)

	_, err = device.GetParameter[int](cam, "Nope")
	assert.ErrorIs(t, err, verrors.ErrInvalidParameters)
}

func TestSetParameter_Validates(t *testing.T) {
	cam := simulated.New("cam")

	tests := []struct {
		name  string
		key   string
		value any
		ok    bool
	}{
		{"in range", simulated.ParamWidth, 128, true},
		{"below min", simulated.ParamWidth, 2, false},
		{"wrong type", simulated.ParamGain, "loud", false},
		{"enum option", simulated.ParamTriggerMode, simulated.TriggerTimer, true},
		{"enum outside options", simulated.ParamTriggerMode, "Hardware", false},
		{"unknown key", "Exposure", 10, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := cam.SetParameter(tt.key, tt.value)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, verrors.ErrInvalidParameters)
			}
		})
	}
}

func assertClosed(t *testing.T, frames <-chan device.Frame) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-frames:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("frame channel not closed")
		}
	}
}
