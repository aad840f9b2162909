package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_MatchesSentinel(t *testing.T) {
	err := New("PluginManager", "RegisterPlugin", ErrDuplicate, "plugin %q already registered", "threshold")

	assert.True(t, Is(err, ErrDuplicate))
	assert.False(t, Is(err, ErrPluginNotFound))
	assert.Equal(t, ClassDependency, ClassOf(err))
	assert.Contains(t, err.Error(), "PluginManager.RegisterPlugin")
	assert.Contains(t, err.Error(), "threshold")
}

func TestWrap_PreservesClass(t *testing.T) {
	inner := New("DeviceManager", "CaptureImage", ErrDeviceNotConnected, "cam-1")
	outer := Wrap(fmt.Errorf("capture failed: %w", inner), "Workflow", "Execute")

	assert.True(t, Is(outer, ErrDeviceNotConnected))
	assert.Equal(t, ClassState, ClassOf(outer))
	assert.Nil(t, Wrap(nil, "x", "y"))
}

func TestClassOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"nil", nil, ClassUnknown},
		{"foreign", stderrors.New("boom"), ClassUnknown},
		{"bare sentinel", ErrInvalidParameters, ClassConfiguration},
		{"wrapped sentinel", fmt.Errorf("ctx: %w", ErrWorkflowNotFound), ClassResolution},
		{"workflow", ErrUpstreamFailed, ClassWorkflow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassOf(tt.err))
		})
	}
}

func TestClass_String(t *testing.T) {
	assert.Equal(t, "configuration", ClassConfiguration.String())
	assert.Equal(t, "state", ClassState.String())
	assert.Equal(t, "unknown", Class(99).String())
}
