package plugin

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	verrors "vision-workbench/internal/errors"
	"vision-workbench/internal/logger"
	"vision-workbench/internal/metrics"
	"vision-workbench/internal/parameters"
)

const component = "PluginManager"

type entry struct {
	plugin  Plugin
	seq     int
	loaded  bool
	failure error
}

// Failure records why a plugin did not load.
type Failure struct {
	ID  string
	Err error
}

// LoadReport lists the outcome of one LoadPlugins call. Loaded is in load
// order and Failed in the order failures were detected.
type LoadReport struct {
	Loaded []string
	Failed []Failure
}

// FailedIDs returns the ids of failed plugins.
func (r LoadReport) FailedIDs() []string {
	ids := make([]string, len(r.Failed))
	for i, f := range r.Failed {
		ids[i] = f.ID
	}
	return ids
}

// Info is a point-in-time view of one registered plugin.
type Info struct {
	Descriptor   Descriptor
	State        State
	Loaded       bool
	Failure      string
	Capabilities []Capability
}

// Option configures a Manager.
type Option func(*Manager)

// WithLoadTimeout bounds each plugin's Initialize during LoadPlugins. A
// plugin that exceeds it is marked failed and loading continues; its
// Initialize goroutine is abandoned. Zero disables the bound.
func WithLoadTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.loadTimeout = d
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// Manager is the registry of plugin instances keyed by plugin id. Writes are
// serialized; lookups share a read lock.
type Manager struct {
	mu        sync.RWMutex
	loadMu    sync.Mutex
	entries   map[string]*entry
	order     []string
	loadOrder []string
	nextSeq   int

	loadTimeout time.Duration
	logger      logger.Logger
	metrics     *metrics.Metrics
}

func NewManager(log logger.Logger, opts ...Option) *Manager {
	m := &Manager{
		entries: make(map[string]*entry),
		logger:  logger.OrNop(log),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RegisterPlugin adds p to the registry. Every dependency must already be
// registered; callers register in dependency order.
func (m *Manager) RegisterPlugin(p Plugin) error {
	if p == nil {
		return verrors.New(component, "RegisterPlugin", verrors.ErrInvalidMetadata, "nil plugin")
	}
	desc := p.Descriptor()
	if desc.ID == "" {
		return verrors.New(component, "RegisterPlugin", verrors.ErrInvalidMetadata, "plugin %q has no id", desc.Name)
	}
	if pp, ok := p.(ParameterProvider); ok {
		if err := parameters.CheckAll(pp.Parameters()); err != nil {
			return verrors.Wrap(fmt.Errorf("plugin %q: %w", desc.ID, err), component, "RegisterPlugin")
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[desc.ID]; exists {
		return verrors.New(component, "RegisterPlugin", verrors.ErrDuplicate, "plugin %q already registered", desc.ID)
	}
	for _, dep := range desc.Dependencies {
		if _, ok := m.entries[dep]; !ok {
			return verrors.New(component, "RegisterPlugin", verrors.ErrMissingDependency,
				"plugin %q requires %q", desc.ID, dep)
		}
	}

	m.entries[desc.ID] = &entry{plugin: p, seq: m.nextSeq}
	m.nextSeq++
	m.order = append(m.order, desc.ID)

	m.logger.Debug(component, "plugin registered", map[string]interface{}{
		"plugin":       desc.ID,
		"version":      desc.Version,
		"dependencies": desc.Dependencies,
		"capabilities": Capabilities(p),
	})
	return nil
}

// UnregisterPlugin removes p from the registry, cleaning it up first when it
// is loaded. A plugin other registered plugins depend on cannot be removed.
func (m *Manager) UnregisterPlugin(p Plugin) error {
	id := p.Descriptor().ID

	m.loadMu.Lock()
	defer m.loadMu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return verrors.New(component, "UnregisterPlugin", verrors.ErrPluginNotFound, "%q", id)
	}
	for _, other := range m.order {
		if other == id {
			continue
		}
		for _, dep := range m.entries[other].plugin.Descriptor().Dependencies {
			if dep == id {
				return verrors.New(component, "UnregisterPlugin", verrors.ErrInvalidState,
					"plugin %q is required by %q", id, other)
			}
		}
	}

	if e.loaded {
		if err := safeCall(e.plugin.Cleanup); err != nil {
			m.logger.Error(component, "cleanup failed during unregister", err, map[string]interface{}{"plugin": id})
		}
		m.loadOrder = remove(m.loadOrder, id)
		m.metrics.SetPluginsLoaded(len(m.loadOrder))
	}
	delete(m.entries, id)
	m.order = remove(m.order, id)
	return nil
}

// LoadPlugins initializes every registered plugin that is not loaded yet,
// dependencies first and otherwise in registration order. A plugin whose
// Initialize fails (or panics, or exceeds the load timeout) is marked failed
// and every plugin depending on it is skipped without being initialized.
// Plugins on or behind a dependency cycle are marked failed and the returned
// error wraps ErrCycleDetected; the rest still load.
func (m *Manager) LoadPlugins(ctx context.Context) (LoadReport, error) {
	m.loadMu.Lock()
	defer m.loadMu.Unlock()

	var report LoadReport

	m.mu.RLock()
	pending := make([]*entry, 0, len(m.order))
	for _, id := range m.order {
		if e := m.entries[id]; !e.loaded {
			pending = append(pending, e)
		}
	}
	m.mu.RUnlock()

	ordered, cyclic := m.loadOrderOf(pending)

	failed := make(map[string]bool)
	fail := func(e *entry, err error) {
		id := e.plugin.Descriptor().ID
		failed[id] = true
		report.Failed = append(report.Failed, Failure{ID: id, Err: err})
		m.mu.Lock()
		e.failure = err
		m.mu.Unlock()
		m.metrics.RecordPluginLoad(id, "failed")
	}

	for _, e := range ordered {
		if err := ctx.Err(); err != nil {
			return report, verrors.Wrap(err, component, "LoadPlugins")
		}

		desc := e.plugin.Descriptor()
		if dep, ok := m.unmetDependency(desc, failed); !ok {
			err := verrors.New(component, "LoadPlugins", verrors.ErrDependencyFailed,
				"plugin %q skipped: dependency %q not loaded", desc.ID, dep)
			m.logger.Warning(component, "plugin skipped", map[string]interface{}{
				"plugin":     desc.ID,
				"dependency": dep,
			})
			fail(e, err)
			continue
		}

		start := time.Now()
		if err := m.initialize(ctx, e.plugin); err != nil {
			m.logger.Error(component, "plugin initialization failed", err, map[string]interface{}{
				"plugin": desc.ID,
			})
			fail(e, err)
			continue
		}

		m.mu.Lock()
		e.loaded = true
		e.failure = nil
		m.loadOrder = append(m.loadOrder, desc.ID)
		loadedCount := len(m.loadOrder)
		m.mu.Unlock()

		report.Loaded = append(report.Loaded, desc.ID)
		m.metrics.RecordPluginLoad(desc.ID, "loaded")
		m.metrics.SetPluginsLoaded(loadedCount)
		m.logger.Info(component, "plugin loaded", map[string]interface{}{
			"plugin":   desc.ID,
			"duration": time.Since(start).String(),
		})
	}

	if len(cyclic) > 0 {
		ids := make([]string, len(cyclic))
		for i, e := range cyclic {
			ids[i] = e.plugin.Descriptor().ID
			fail(e, verrors.New(component, "LoadPlugins", verrors.ErrCycleDetected,
				"plugin %q is on or behind a dependency cycle", ids[i]))
		}
		return report, verrors.New(component, "LoadPlugins", verrors.ErrCycleDetected, "plugins %v", ids)
	}

	return report, nil
}

// loadOrderOf sorts pending entries with Kahn's algorithm, always taking the
// ready entry registered first. Entries that never become ready sit on or
// behind a cycle and are returned separately in registration order.
func (m *Manager) loadOrderOf(pending []*entry) (ordered, cyclic []*entry) {
	byID := make(map[string]*entry, len(pending))
	for _, e := range pending {
		byID[e.plugin.Descriptor().ID] = e
	}

	indegree := make(map[*entry]int, len(pending))
	dependents := make(map[*entry][]*entry, len(pending))
	for _, e := range pending {
		indegree[e] = 0
	}
	for _, e := range pending {
		for _, dep := range e.plugin.Descriptor().Dependencies {
			if d, ok := byID[dep]; ok {
				indegree[e]++
				dependents[d] = append(dependents[d], e)
			}
		}
	}

	var ready []*entry
	for _, e := range pending {
		if indegree[e] == 0 {
			ready = append(ready, e)
		}
	}

	for len(ready) > 0 {
		sort.SliceStable(ready, func(i, j int) bool { return ready[i].seq < ready[j].seq })
		next := ready[0]
		ready = ready[1:]
		ordered = append(ordered, next)

		for _, d := range dependents[next] {
			indegree[d]--
			if indegree[d] == 0 {
				ready = append(ready, d)
			}
		}
	}

	if len(ordered) == len(pending) {
		return ordered, nil
	}
	done := make(map[*entry]bool, len(ordered))
	for _, e := range ordered {
		done[e] = true
	}
	for _, e := range pending {
		if !done[e] {
			cyclic = append(cyclic, e)
		}
	}
	return ordered, cyclic
}

// unmetDependency returns the first dependency of desc that is not loaded.
func (m *Manager) unmetDependency(desc Descriptor, failed map[string]bool) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, dep := range desc.Dependencies {
		if failed[dep] {
			return dep, false
		}
		e, ok := m.entries[dep]
		if !ok || !e.loaded {
			return dep, false
		}
	}
	return "", true
}

func (m *Manager) initialize(ctx context.Context, p Plugin) error {
	if m.loadTimeout <= 0 {
		return safeCall(p.Initialize)
	}

	done := make(chan error, 1)
	go func() {
		done <- safeCall(p.Initialize)
	}()

	timer := time.NewTimer(m.loadTimeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return verrors.New(component, "LoadPlugins", verrors.ErrLoadTimeout,
			"plugin %q did not initialize within %s", p.Descriptor().ID, m.loadTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UnloadPlugins cleans up loaded plugins in reverse load order. Every plugin
// is attempted; the errors are joined.
func (m *Manager) UnloadPlugins(ctx context.Context) error {
	m.loadMu.Lock()
	defer m.loadMu.Unlock()

	m.mu.RLock()
	order := append([]string(nil), m.loadOrder...)
	m.mu.RUnlock()

	var errs []error
	for i := len(order) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		id := order[i]

		m.mu.RLock()
		e, ok := m.entries[id]
		m.mu.RUnlock()
		if !ok {
			continue
		}

		if err := safeCall(e.plugin.Cleanup); err != nil {
			m.logger.Error(component, "plugin cleanup failed", err, map[string]interface{}{"plugin": id})
			errs = append(errs, fmt.Errorf("cleanup %q: %w", id, err))
		}

		m.mu.Lock()
		e.loaded = false
		m.loadOrder = remove(m.loadOrder, id)
		m.mu.Unlock()
		m.logger.Debug(component, "plugin unloaded", map[string]interface{}{"plugin": id})
	}

	m.metrics.SetPluginsLoaded(len(m.LoadedIDs()))
	return verrors.Join(errs...)
}

// StartPlugins starts every loaded plugin in load order.
func (m *Manager) StartPlugins() error {
	var errs []error
	for _, id := range m.LoadedIDs() {
		p, ok := m.Lookup(id)
		if !ok {
			continue
		}
		if err := safeCall(p.Start); err != nil {
			m.logger.Error(component, "plugin start failed", err, map[string]interface{}{"plugin": id})
			errs = append(errs, fmt.Errorf("start %q: %w", id, err))
		}
	}
	return verrors.Join(errs...)
}

// StopPlugins stops every loaded plugin in reverse load order.
func (m *Manager) StopPlugins() error {
	ids := m.LoadedIDs()
	var errs []error
	for i := len(ids) - 1; i >= 0; i-- {
		p, ok := m.Lookup(ids[i])
		if !ok {
			continue
		}
		if err := safeCall(p.Stop); err != nil {
			m.logger.Error(component, "plugin stop failed", err, map[string]interface{}{"plugin": ids[i]})
			errs = append(errs, fmt.Errorf("stop %q: %w", ids[i], err))
		}
	}
	return verrors.Join(errs...)
}

// Shutdown stops and unloads every plugin.
func (m *Manager) Shutdown(ctx context.Context) error {
	return verrors.Join(m.StopPlugins(), m.UnloadPlugins(ctx))
}

func (m *Manager) IsPluginLoaded(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	return ok && e.loaded
}

func (m *Manager) Lookup(id string) (Plugin, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, false
	}
	return e.plugin, true
}

// Resolve returns the plugin bound to an algorithm type (a plugin id).
func (m *Manager) Resolve(algorithmType string) (Plugin, error) {
	p, ok := m.Lookup(algorithmType)
	if !ok {
		return nil, verrors.New(component, "Resolve", verrors.ErrPluginNotFound, "%q", algorithmType)
	}
	return p, nil
}

// LoadedIDs returns loaded plugin ids in load order.
func (m *Manager) LoadedIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.loadOrder...)
}

// Plugins returns a snapshot of every registered plugin in registration
// order.
func (m *Manager) Plugins() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]Info, 0, len(m.order))
	for _, id := range m.order {
		e := m.entries[id]
		info := Info{
			Descriptor:   e.plugin.Descriptor(),
			State:        e.plugin.State(),
			Loaded:       e.loaded,
			Capabilities: Capabilities(e.plugin),
		}
		if e.failure != nil {
			info.Failure = e.failure.Error()
		}
		infos = append(infos, info)
	}
	return infos
}

// Tools returns the UI view of every registered plugin.
func (m *Manager) Tools() []Tool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tools := make([]Tool, 0, len(m.order))
	for _, id := range m.order {
		tools = append(tools, ToolMetadata(m.entries[id].plugin))
	}
	return tools
}

// GetPlugins returns the registered plugins that implement T, in
// registration order.
func GetPlugins[T any](m *Manager) []T {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []T
	for _, id := range m.order {
		if v, ok := m.entries[id].plugin.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

// safeCall runs a lifecycle call and converts a panic into an error.
func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("plugin panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn()
}

func remove(ids []string, id string) []string {
	out := ids[:0:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
