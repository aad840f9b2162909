package plugin

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	verrors "vision-workbench/internal/errors"
	"vision-workbench/internal/parameters"
)

// initLog records the order Initialize was called across plugins.
type initLog struct {
	mu  sync.Mutex
	ids []string
}

func (l *initLog) add(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ids = append(l.ids, id)
}

func (l *initLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.ids...)
}

type fakePlugin struct {
	Base
	descMu sync.Mutex
	inits  atomic.Int32
}

func (f *fakePlugin) Descriptor() Descriptor {
	f.descMu.Lock()
	defer f.descMu.Unlock()
	return f.Base.Descriptor()
}

func (f *fakePlugin) setDependencies(deps ...string) {
	f.descMu.Lock()
	defer f.descMu.Unlock()
	f.Desc.Dependencies = deps
}

type fakeOpt func(*fakePlugin, *initLog)

func failing(err error) fakeOpt {
	return func(f *fakePlugin, log *initLog) {
		f.OnInitialize = func() error {
			f.inits.Add(1)
			log.add(f.Desc.ID)
			return err
		}
	}
}

func slow(d time.Duration) fakeOpt {
	return func(f *fakePlugin, log *initLog) {
		f.OnInitialize = func() error {
			f.inits.Add(1)
			time.Sleep(d)
			log.add(f.Desc.ID)
			return nil
		}
	}
}

func panicking() fakeOpt {
	return func(f *fakePlugin, _ *initLog) {
		f.OnInitialize = func() error { panic("driver crashed") }
	}
}

func newFake(log *initLog, id string, deps []string, opts ...fakeOpt) *fakePlugin {
	f := &fakePlugin{Base: Base{Desc: Descriptor{ID: id, Name: id, Version: "1.0.0", Dependencies: deps}}}
	f.OnInitialize = func() error {
		f.inits.Add(1)
		log.add(id)
		return nil
	}
	for _, opt := range opts {
		opt(f, log)
	}
	return f
}

func TestManager_RegisterPlugin_Errors(t *testing.T) {
	m := NewManager(nil)
	log := &initLog{}

	require.NoError(t, m.RegisterPlugin(newFake(log, "a", nil)))

	err := m.RegisterPlugin(newFake(log, "a", nil))
	assert.ErrorIs(t, err, verrors.ErrDuplicate)

	err = m.RegisterPlugin(newFake(log, "b", []string{"missing"}))
	assert.ErrorIs(t, err, verrors.ErrMissingDependency)

	bad := newFake(log, "c", nil)
	bad.Params = []parameters.Metadata{{Name: "Gain", Type: parameters.TypeInt, DefaultValue: 20, MinValue: 0, MaxValue: 10}}
	err = m.RegisterPlugin(bad)
	assert.ErrorIs(t, err, verrors.ErrInvalidMetadata)

	err = m.RegisterPlugin(newFake(log, "", nil))
	assert.ErrorIs(t, err, verrors.ErrInvalidMetadata)

	assert.Len(t, m.Plugins(), 1)
}

func TestManager_LoadPlugins_DependencyOrderWithInsertionTieBreak(t *testing.T) {
	m := NewManager(nil)
	log := &initLog{}

	for _, p := range []*fakePlugin{
		newFake(log, "d", nil),
		newFake(log, "a", nil),
		newFake(log, "b", []string{"a"}),
		newFake(log, "c", []string{"a", "b"}),
		newFake(log, "e", nil),
	} {
		require.NoError(t, m.RegisterPlugin(p))
	}

	report, err := m.LoadPlugins(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"d", "a", "b", "c", "e"}, log.list())
	assert.Equal(t, []string{"d", "a", "b", "c", "e"}, report.Loaded)
	assert.Empty(t, report.Failed)
	assert.True(t, m.IsPluginLoaded("c"))

	_, err = m.LoadPlugins(context.Background())
	require.NoError(t, err)
	assert.Len(t, log.list(), 5, "loaded plugins are not initialized twice")
}

func TestManager_LoadPlugins_CascadingSkip(t *testing.T) {
	m := NewManager(nil)
	log := &initLog{}
	boom := errors.New("camera sdk missing")

	a := newFake(log, "a", nil, failing(boom))
	b := newFake(log, "b", []string{"a"})
	c := newFake(log, "c", []string{"b"})
	d := newFake(log, "d", nil)
	for _, p := range []*fakePlugin{a, b, c, d} {
		require.NoError(t, m.RegisterPlugin(p))
	}

	report, err := m.LoadPlugins(context.Background())
	require.NoError(t, err, "a failing plugin does not abort the load")

	assert.Equal(t, []string{"d"}, report.Loaded)
	assert.Equal(t, []string{"a", "b", "c"}, report.FailedIDs())
	assert.ErrorIs(t, report.Failed[0].Err, boom)
	assert.ErrorIs(t, report.Failed[1].Err, verrors.ErrDependencyFailed)
	assert.ErrorIs(t, report.Failed[2].Err, verrors.ErrDependencyFailed)

	assert.EqualValues(t, 1, a.inits.Load())
	assert.EqualValues(t, 0, b.inits.Load(), "dependent of a failed plugin must not be initialized")
	assert.EqualValues(t, 0, c.inits.Load())

	for _, info := range m.Plugins() {
		if info.Descriptor.ID == "b" {
			assert.False(t, info.Loaded)
			assert.Contains(t, info.Failure, "dependency")
		}
	}
}

func TestManager_LoadPlugins_CycleDetected(t *testing.T) {
	m := NewManager(nil)
	log := &initLog{}

	a := newFake(log, "a", nil)
	b := newFake(log, "b", []string{"a"})
	c := newFake(log, "c", []string{"b"})
	free := newFake(log, "free", nil)
	for _, p := range []*fakePlugin{a, b, c, free} {
		require.NoError(t, m.RegisterPlugin(p))
	}
	a.setDependencies("b")

	report, err := m.LoadPlugins(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, verrors.ErrCycleDetected)

	assert.Equal(t, []string{"free"}, report.Loaded)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, report.FailedIDs())
	assert.Equal(t, []string{"free"}, log.list())
}

func TestManager_LoadPlugins_Timeout(t *testing.T) {
	m := NewManager(nil, WithLoadTimeout(20*time.Millisecond))
	log := &initLog{}

	require.NoError(t, m.RegisterPlugin(newFake(log, "slow", nil, slow(500*time.Millisecond))))
	require.NoError(t, m.RegisterPlugin(newFake(log, "after-slow", []string{"slow"})))
	require.NoError(t, m.RegisterPlugin(newFake(log, "fast", nil)))

	start := time.Now()
	report, err := m.LoadPlugins(context.Background())
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 400*time.Millisecond)
	assert.Equal(t, []string{"fast"}, report.Loaded)
	require.Equal(t, []string{"slow", "after-slow"}, report.FailedIDs())
	assert.ErrorIs(t, report.Failed[0].Err, verrors.ErrLoadTimeout)
}

func TestManager_LoadPlugins_RecoversPanic(t *testing.T) {
	m := NewManager(nil)
	log := &initLog{}

	require.NoError(t, m.RegisterPlugin(newFake(log, "crashy", nil, panicking())))
	require.NoError(t, m.RegisterPlugin(newFake(log, "ok", nil)))

	var report LoadReport
	var err error
	require.NotPanics(t, func() {
		report, err = m.LoadPlugins(context.Background())
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, report.Loaded)
	require.Len(t, report.Failed, 1)
	assert.Contains(t, report.Failed[0].Err.Error(), "driver crashed")
}

func TestManager_UnloadPlugins_ReverseOrder(t *testing.T) {
	m := NewManager(nil)
	var cleaned []string

	for _, tc := range []struct {
		id   string
		deps []string
	}{{"a", nil}, {"b", []string{"a"}}, {"c", []string{"b"}}} {
		id := tc.id
		p := &fakePlugin{Base: Base{Desc: Descriptor{ID: id, Dependencies: tc.deps}}}
		p.OnCleanup = func() error { cleaned = append(cleaned, id); return nil }
		require.NoError(t, m.RegisterPlugin(p))
	}

	_, err := m.LoadPlugins(context.Background())
	require.NoError(t, err)
	require.NoError(t, m.StartPlugins())

	require.NoError(t, m.UnloadPlugins(context.Background()))
	assert.Equal(t, []string{"c", "b", "a"}, cleaned)
	assert.False(t, m.IsPluginLoaded("a"))
	assert.Empty(t, m.LoadedIDs())
}

func TestManager_UnregisterPlugin(t *testing.T) {
	m := NewManager(nil)
	log := &initLog{}
	a := newFake(log, "a", nil)
	b := newFake(log, "b", []string{"a"})
	require.NoError(t, m.RegisterPlugin(a))
	require.NoError(t, m.RegisterPlugin(b))
	_, err := m.LoadPlugins(context.Background())
	require.NoError(t, err)

	assert.ErrorIs(t, m.UnregisterPlugin(a), verrors.ErrInvalidState)

	require.NoError(t, m.UnregisterPlugin(b))
	assert.Equal(t, StateUninitialized, b.State(), "loaded plugin is cleaned up on unregister")
	assert.False(t, m.IsPluginLoaded("b"))

	require.NoError(t, m.UnregisterPlugin(a))
	assert.ErrorIs(t, m.UnregisterPlugin(a), verrors.ErrPluginNotFound)

	_, err = m.Resolve("a")
	assert.ErrorIs(t, err, verrors.ErrPluginNotFound)
}

func TestGetPlugins_FiltersByCapability(t *testing.T) {
	m := NewManager(nil)
	log := &initLog{}

	identity := func(_ context.Context, img image.Image, _ parameters.Values) (image.Image, error) { return img, nil }
	require.NoError(t, m.RegisterPlugin(newFake(log, "plain", nil)))
	require.NoError(t, m.RegisterPlugin(NewFuncAlgorithm(Descriptor{ID: "alg-1"}, nil, identity)))
	require.NoError(t, m.RegisterPlugin(&uiPlugin{Base: Base{Desc: Descriptor{ID: "ui"}}}))
	require.NoError(t, m.RegisterPlugin(NewFuncAlgorithm(Descriptor{ID: "alg-2"}, nil, identity)))

	algs := GetPlugins[Algorithm](m)
	require.Len(t, algs, 2)
	assert.Equal(t, "alg-1", algs[0].Descriptor().ID)
	assert.Equal(t, "alg-2", algs[1].Descriptor().ID)

	assert.Len(t, GetPlugins[UIProvider](m), 1)
	assert.Len(t, GetPlugins[Plugin](m), 4)
	assert.Empty(t, GetPlugins[Node](m))
}

// Dependencies are drawn only from plugins registered earlier, so every
// generated registry is acyclic; loading must respect every edge.
func TestManager_PropertyBased_DependenciesLoadFirst(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 12).Draw(t, "plugins")
		m := NewManager(nil)
		log := &initLog{}

		ids := make([]string, n)
		deps := make(map[string][]string, n)
		broken := make(map[string]bool, n)
		for i := 0; i < n; i++ {
			ids[i] = string(rune('a' + i))
			var d []string
			for j := 0; j < i; j++ {
				if rapid.Bool().Draw(t, "edge") {
					d = append(d, ids[j])
				}
			}
			deps[ids[i]] = d

			var opts []fakeOpt
			if rapid.IntRange(0, 4).Draw(t, "fail") == 0 {
				broken[ids[i]] = true
				opts = append(opts, failing(errors.New("init failed")))
			}
			require.NoError(t, m.RegisterPlugin(newFake(log, ids[i], d, opts...)))
		}

		_, err := m.LoadPlugins(context.Background())
		require.NoError(t, err)

		position := make(map[string]int)
		for i, id := range log.list() {
			position[id] = i
		}

		// A plugin is healthy when it and all its dependencies are healthy.
		healthy := make(map[string]bool, n)
		for _, id := range ids {
			ok := !broken[id]
			for _, d := range deps[id] {
				ok = ok && healthy[d]
			}
			healthy[id] = ok
		}

		for _, id := range ids {
			_, initialized := position[id]
			depsHealthy := true
			for _, d := range deps[id] {
				depsHealthy = depsHealthy && healthy[d]
				if initialized {
					dp, ok := position[d]
					assert.True(t, ok, "%s initialized but dependency %s was not", id, d)
					assert.Less(t, dp, position[id], "%s before %s", d, id)
				}
			}
			assert.Equal(t, depsHealthy, initialized, "plugin %s initialized iff its dependencies loaded", id)
			assert.Equal(t, healthy[id], m.IsPluginLoaded(id))
		}
	})
}
