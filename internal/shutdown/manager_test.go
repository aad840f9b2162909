package shutdown

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vision-workbench/internal/logger"
)

func TestShutdown_ReverseOrder(t *testing.T) {
	m := NewManager(logger.NewNop(), time.Second)

	var mu sync.Mutex
	var order []string
	for _, name := range []string{"plugins", "devices", "engine"} {
		m.Register(name, Func(func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return nil
		}))
	}

	require.NoError(t, m.Shutdown())
	assert.Equal(t, []string{"engine", "devices", "plugins"}, order)
	assert.ErrorIs(t, m.Context().Err(), context.Canceled)

	select {
	case <-m.Done():
	default:
		t.Fatal("Done not closed")
	}
}

func TestShutdown_ContinuesAfterFailure(t *testing.T) {
	m := NewManager(nil, time.Second)
	boom := errors.New("boom")
	ran := false

	m.Register("first", Func(func(context.Context) error { ran = true; return nil }))
	m.Register("second", Func(func(context.Context) error { return boom }))

	err := m.Shutdown()
	assert.ErrorIs(t, err, boom)
	assert.ErrorContains(t, err, "second")
	assert.True(t, ran)

	assert.Equal(t, err, m.Shutdown(), "second call reports the first result")
}

func TestShutdown_AbandonsSlowComponent(t *testing.T) {
	m := NewManager(nil, 20*time.Millisecond)
	release := make(chan struct{})
	defer close(release)

	m.Register("stuck", Func(func(context.Context) error {
		<-release
		return nil
	}))

	err := m.Shutdown()
	assert.ErrorContains(t, err, "timed out")
}
