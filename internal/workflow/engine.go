package workflow

import (
	"context"
	"image"
	"sort"
	"sync"

	verrors "vision-workbench/internal/errors"
	"vision-workbench/internal/logger"
	"vision-workbench/internal/metrics"
	"vision-workbench/internal/plugin"
)

const engineComponent = "WorkflowEngine"

// PluginResolver finds the plugin bound to an algorithm node.
// *plugin.Manager satisfies it.
type PluginResolver interface {
	Resolve(algorithmType string) (plugin.Plugin, error)
}

// ImageSource captures the seed image for a Start node bound to a device.
// *device.Manager satisfies it.
type ImageSource interface {
	CaptureImage(ctx context.Context, deviceID string) (image.Image, error)
}

// NodeHook observes node execution. Hooks run synchronously on the
// executing goroutine.
type (
	NodeStartHook  func(workflowID string, node Node)
	NodeFinishHook func(workflowID string, result NodeResult)
)

// Engine owns a set of workflows and the collaborators their nodes need.
type Engine struct {
	plugins PluginResolver
	images  ImageSource
	params  ParameterStore
	logger  logger.Logger
	metrics *metrics.Metrics

	mu        sync.RWMutex
	workflows map[string]*Workflow
	current   string

	hookMu   sync.RWMutex
	onStart  []NodeStartHook
	onFinish []NodeFinishHook
}

type Option func(*Engine)

func WithImageSource(src ImageSource) Option {
	return func(e *Engine) { e.images = src }
}

func WithLogger(log logger.Logger) Option {
	return func(e *Engine) { e.logger = log }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = mt }
}

// NewEngine builds an engine resolving algorithm nodes through plugins.
func NewEngine(plugins PluginResolver, opts ...Option) *Engine {
	e := &Engine{
		plugins:   plugins,
		workflows: make(map[string]*Workflow),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logger.OrNop(e.logger)
	return e
}

// CreateWorkflow adds an empty workflow. The first workflow created becomes
// the current one.
func (e *Engine) CreateWorkflow(id, name, description string) (*Workflow, error) {
	if id == "" {
		return nil, verrors.New(engineComponent, "CreateWorkflow", verrors.ErrInvalidWorkflow, "workflow id is empty")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.workflows[id]; exists {
		return nil, verrors.New(engineComponent, "CreateWorkflow", verrors.ErrDuplicate, "workflow %q already exists", id)
	}
	w := newWorkflow(e, id, name, description)
	e.workflows[id] = w
	if e.current == "" {
		e.current = id
	}

	e.logger.Info(engineComponent, "workflow created", map[string]interface{}{"workflow": id, "name": name})
	return w, nil
}

// DeleteWorkflow removes a workflow that is not executing.
func (e *Engine) DeleteWorkflow(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	w, ok := e.workflows[id]
	if !ok {
		return verrors.New(engineComponent, "DeleteWorkflow", verrors.ErrWorkflowNotFound, "%q", id)
	}
	if w.Executing() {
		return verrors.New(engineComponent, "DeleteWorkflow", verrors.ErrExecutionActive, "workflow %q is executing", id)
	}
	delete(e.workflows, id)
	if e.current == id {
		e.current = ""
	}

	e.logger.Info(engineComponent, "workflow deleted", map[string]interface{}{"workflow": id})
	return nil
}

func (e *Engine) Workflow(id string) (*Workflow, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	w, ok := e.workflows[id]
	if !ok {
		return nil, verrors.New(engineComponent, "Workflow", verrors.ErrWorkflowNotFound, "%q", id)
	}
	return w, nil
}

// Workflows returns every workflow sorted by id.
func (e *Engine) Workflows() []*Workflow {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Workflow, 0, len(e.workflows))
	for _, w := range e.workflows {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (e *Engine) SetCurrentWorkflow(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.workflows[id]; !ok {
		return verrors.New(engineComponent, "SetCurrentWorkflow", verrors.ErrWorkflowNotFound, "%q", id)
	}
	e.current = id
	return nil
}

// CurrentWorkflow returns the current workflow, or nil when none is set.
func (e *Engine) CurrentWorkflow() *Workflow {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.workflows[e.current]
}

// ExecuteWorkflow runs the workflow with the given id.
func (e *Engine) ExecuteWorkflow(ctx context.Context, id string, seed image.Image) (*ExecutionResult, error) {
	w, err := e.Workflow(id)
	if err != nil {
		return nil, err
	}
	return w.Execute(ctx, seed)
}

// ExecuteCurrent runs the current workflow.
func (e *Engine) ExecuteCurrent(ctx context.Context, seed image.Image) (*ExecutionResult, error) {
	w := e.CurrentWorkflow()
	if w == nil {
		return nil, verrors.New(engineComponent, "ExecuteCurrent", verrors.ErrWorkflowNotFound, "no current workflow")
	}
	return w.Execute(ctx, seed)
}

// OnNodeStart registers a hook called before each node executes.
func (e *Engine) OnNodeStart(h NodeStartHook) {
	e.hookMu.Lock()
	defer e.hookMu.Unlock()
	e.onStart = append(e.onStart, h)
}

// OnNodeFinish registers a hook called after each reached node, including
// failed ones.
func (e *Engine) OnNodeFinish(h NodeFinishHook) {
	e.hookMu.Lock()
	defer e.hookMu.Unlock()
	e.onFinish = append(e.onFinish, h)
}

func (e *Engine) nodeStarted(workflowID string, n *Node) {
	e.hookMu.RLock()
	hooks := e.onStart
	e.hookMu.RUnlock()
	for _, h := range hooks {
		h(workflowID, *n.clone())
	}
}

func (e *Engine) nodeFinished(workflowID string, res *NodeResult) {
	e.hookMu.RLock()
	hooks := e.onFinish
	e.hookMu.RUnlock()
	for _, h := range hooks {
		h(workflowID, *res)
	}
}
