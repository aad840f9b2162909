package plugin

import (
	"context"
	"image"
	"sync"

	verrors "vision-workbench/internal/errors"
	"vision-workbench/internal/parameters"
)

// Lifecycle implements the Plugin state machine. Embed it in a plugin type
// and set the hooks the plugin needs; nil hooks are skipped.
//
//	Uninitialized --Initialize--> Initialized --Start--> Running
//	Running --Stop--> Initialized
//	any --Cleanup--> Uninitialized
type Lifecycle struct {
	OnInitialize func() error
	OnStart      func() error
	OnStop       func() error
	OnCleanup    func() error

	mu    sync.Mutex
	state State
}

func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Initialize runs OnInitialize once. Calling it again is a no-op.
func (l *Lifecycle) Initialize() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.initializeLocked()
}

func (l *Lifecycle) initializeLocked() error {
	if l.state != StateUninitialized {
		return nil
	}
	if l.OnInitialize != nil {
		if err := l.OnInitialize(); err != nil {
			return err
		}
	}
	l.state = StateInitialized
	return nil
}

// Start initializes the plugin if needed, then moves it to Running.
func (l *Lifecycle) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == StateRunning {
		return nil
	}
	if err := l.initializeLocked(); err != nil {
		return err
	}
	if l.OnStart != nil {
		if err := l.OnStart(); err != nil {
			return err
		}
	}
	l.state = StateRunning
	return nil
}

// Stop moves a running plugin back to Initialized. Stopping a plugin that is
// not running does nothing.
func (l *Lifecycle) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopLocked()
}

func (l *Lifecycle) stopLocked() error {
	if l.state != StateRunning {
		return nil
	}
	if l.OnStop != nil {
		if err := l.OnStop(); err != nil {
			return err
		}
	}
	l.state = StateInitialized
	return nil
}

// Cleanup stops the plugin if it is running and releases its resources.
func (l *Lifecycle) Cleanup() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == StateUninitialized {
		return nil
	}
	if err := l.stopLocked(); err != nil {
		return err
	}
	if l.OnCleanup != nil {
		if err := l.OnCleanup(); err != nil {
			return err
		}
	}
	l.state = StateUninitialized
	return nil
}

// RequireRunning returns ErrInvalidState unless the plugin is running.
func (l *Lifecycle) RequireRunning(component, op string) error {
	if s := l.State(); s != StateRunning {
		return verrors.New(component, op, verrors.ErrInvalidState, "plugin is %s", s)
	}
	return nil
}

// Base bundles the pieces most plugins share: a descriptor, parameter
// metadata and the lifecycle.
type Base struct {
	Lifecycle
	Desc   Descriptor
	Params []parameters.Metadata
}

func (b *Base) Descriptor() Descriptor {
	d := b.Desc
	d.Dependencies = append([]string(nil), b.Desc.Dependencies...)
	return d
}

func (b *Base) Parameters() []parameters.Metadata {
	return parameters.CloneAll(b.Params)
}

// ValidateParameters checks required presence, type, numeric bounds and enum
// options.
func (b *Base) ValidateParameters(values parameters.Values) bool {
	return parameters.Validate(b.Params, values).Valid()
}

// ExecuteFunc is the image transform of a FuncAlgorithm.
type ExecuteFunc func(ctx context.Context, img image.Image, values parameters.Values) (image.Image, error)

// FuncAlgorithm adapts a function into an Algorithm.
type FuncAlgorithm struct {
	Base
	fn ExecuteFunc
}

// NewFuncAlgorithm builds an Algorithm whose Execute calls fn. fn receives
// the metadata defaults overridden by the caller's values.
func NewFuncAlgorithm(desc Descriptor, params []parameters.Metadata, fn ExecuteFunc) *FuncAlgorithm {
	return &FuncAlgorithm{
		Base: Base{Desc: desc, Params: params},
		fn:   fn,
	}
}

func (f *FuncAlgorithm) Execute(img image.Image, values parameters.Values) (image.Image, error) {
	return f.ExecuteContext(context.Background(), img, values)
}

func (f *FuncAlgorithm) ExecuteContext(ctx context.Context, img image.Image, values parameters.Values) (image.Image, error) {
	if err := f.RequireRunning(f.Desc.ID, "Execute"); err != nil {
		return nil, err
	}
	merged := parameters.Defaults(f.Params).Merge(values)
	if res := parameters.Validate(f.Params, merged); !res.Valid() {
		return nil, verrors.Wrap(res.Err(), f.Desc.ID, "Execute")
	}
	return f.fn(ctx, img, merged)
}

var _ ContextualAlgorithm = (*FuncAlgorithm)(nil)
