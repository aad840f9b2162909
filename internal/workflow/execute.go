package workflow

import (
	"context"
	"fmt"
	"image"
	"strings"
	"time"

	"github.com/google/uuid"

	verrors "vision-workbench/internal/errors"
	"vision-workbench/internal/plugin"
)

// Execute runs the workflow once. seed is emitted by the Start node; when it
// is nil the Start node captures from its device instead. A workflow without
// a Start node needs a seed: every node with no incoming connection then
// receives it as its primary input.
//
// Every node reachable from Start through active connections runs exactly
// once. Node failures are recorded in the result and do not fail the call.
// A cancelled context stops the run between nodes and returns the partial
// result with Cancelled set and a nil error.
func (w *Workflow) Execute(ctx context.Context, seed image.Image) (*ExecutionResult, error) {
	return w.execute(ctx, seed, nil)
}

// run carries the state of one execution.
type run struct {
	w     *Workflow
	g     *graph
	res   *ExecutionResult
	seed  image.Image
	stack []string
	// roots is set when there is no Start node and unconnected nodes take
	// the seed directly.
	roots bool
}

// binding is a value arriving at an input port over an active connection.
type binding struct {
	conn   Connection
	value  any
	failed bool
}

func (w *Workflow) execute(ctx context.Context, seed image.Image, stack []string) (*ExecutionResult, error) {
	g := w.begin()
	defer w.end()

	roots := g.start() == nil
	if roots && seed == nil {
		return nil, verrors.New(component, "Execute", verrors.ErrInvalidWorkflow, "workflow %q has no start node and no seed image", w.ID)
	}
	order, err := g.order()
	if err != nil {
		return nil, err
	}

	r := &run{
		w:     w,
		g:     g,
		seed:  seed,
		stack: stack,
		roots: roots,
		res: &ExecutionResult{
			ID:         uuid.NewString(),
			WorkflowID: w.ID,
			StartedAt:  time.Now(),
			Results:    make(map[string]*NodeResult, len(order)),
		},
	}

	w.logger.Info(component, "workflow execution started", map[string]interface{}{
		"workflow":  w.ID,
		"execution": r.res.ID,
		"nodes":     len(order),
	})

	for _, id := range order {
		if ctx.Err() != nil {
			r.res.Cancelled = true
			w.logger.Warning(component, "workflow execution cancelled", map[string]interface{}{
				"workflow":  w.ID,
				"execution": r.res.ID,
				"completed": len(r.res.Order),
			})
			break
		}
		r.visit(ctx, g.node(id))
	}

	r.res.Duration = time.Since(r.res.StartedAt)
	if t := g.terminal(r.res); t != nil {
		r.res.TerminalID = t.NodeID
	}
	w.engine.metrics.RecordWorkflow(r.res.Outcome(), r.res.Duration)
	w.logger.Info(component, "workflow execution finished", map[string]interface{}{
		"workflow":  w.ID,
		"execution": r.res.ID,
		"outcome":   r.res.Outcome(),
		"reached":   len(r.res.Order),
		"failed":    len(r.res.Failed()),
		"duration":  r.res.Duration.String(),
	})
	return r.res, nil
}

// visit executes one node, or skips it when no active connection reaches it.
func (r *run) visit(ctx context.Context, n *Node) {
	var active []binding
	if n.Type != NodeStart {
		active = r.activeInputs(n)
		if len(active) == 0 && r.roots && len(r.g.incoming(n.ID)) == 0 {
			active = []binding{{
				conn:  Connection{TargetNodeID: n.ID, TargetPortID: n.InputPorts[0].ID},
				value: r.seed,
			}}
		}
		if len(active) == 0 {
			r.w.logger.Debug(component, "node pruned", map[string]interface{}{"workflow": r.w.ID, "node": n.ID})
			return
		}
	}

	r.w.engine.nodeStarted(r.w.ID, n)
	started := time.Now()

	res := &NodeResult{NodeID: n.ID, Type: n.Type}
	out, branch, status, err := r.step(ctx, n, active)
	res.Duration = time.Since(started)
	res.Status = status
	if err != nil {
		res.Status = StatusFailed
		res.Err = err
	} else {
		res.Output = out
		res.Branch = branch
	}
	r.res.add(res)

	r.w.engine.metrics.RecordNode(string(n.Type), strings.ToLower(string(res.Status)), res.Duration)
	r.w.engine.nodeFinished(r.w.ID, res)

	fields := map[string]interface{}{
		"workflow": r.w.ID,
		"node":     n.ID,
		"type":     string(n.Type),
		"duration": res.Duration.String(),
	}
	if res.Failed() {
		r.w.logger.Error(component, "node failed", err, fields)
		return
	}
	if branch != "" {
		fields["branch"] = branch
	}
	r.w.logger.Debug(component, "node completed", fields)
}

// activeInputs lists the incoming connections whose source ran and, for a
// branching source, whose port was selected.
func (r *run) activeInputs(n *Node) []binding {
	var active []binding
	for _, c := range r.g.incoming(n.ID) {
		src, reached := r.res.Results[c.SourceNodeID]
		if !reached {
			continue
		}
		if !src.Failed() && src.Branch != "" && src.Branch != c.SourcePortID {
			continue
		}
		active = append(active, binding{conn: c, value: src.Output, failed: src.Failed()})
	}
	return active
}

func (r *run) step(ctx context.Context, n *Node, active []binding) (out any, branch string, status Status, err error) {
	status = StatusSucceeded
	if n.Type == NodeStart {
		out, err = r.startImage(ctx, n)
		return out, "", status, err
	}

	inputs, primary, err := bindInputs(n, active)
	if err != nil {
		return nil, "", status, err
	}

	if !n.Enabled() {
		return primary, "", StatusBypassed, nil
	}

	switch n.Type {
	case NodeAlgorithm:
		out, err = r.runAlgorithm(ctx, n, inputs, primary)
	case NodeSubroutine:
		out, err = r.runSubroutine(ctx, n, primary)
	case NodeCondition, NodeSwitch:
		branch, err = r.selectBranch(n, inputs, primary)
		out = primary
	}
	return out, branch, status, err
}

// bindInputs maps live values onto input ports. The first live connection
// into a port wins. A node whose active inputs all failed, or whose required
// port received nothing, fails by propagation.
func bindInputs(n *Node, active []binding) (map[string]any, any, error) {
	inputs := make(map[string]any, len(n.InputPorts))
	var failedFrom []string
	var first any
	haveFirst := false

	for _, b := range active {
		if b.failed {
			failedFrom = append(failedFrom, b.conn.SourceNodeID)
			continue
		}
		if _, bound := inputs[b.conn.TargetPortID]; !bound {
			inputs[b.conn.TargetPortID] = b.value
		}
		if !haveFirst {
			first, haveFirst = b.value, true
		}
	}

	if !haveFirst {
		return nil, nil, verrors.New(component, "Execute", verrors.ErrUpstreamFailed,
			"node %q: every input failed (%s)", n.ID, strings.Join(failedFrom, ", "))
	}

	for _, p := range n.InputPorts {
		if _, bound := inputs[p.ID]; p.Required && !bound {
			return nil, nil, verrors.New(component, "Execute", verrors.ErrUpstreamFailed,
				"node %q: required input %q has no value", n.ID, p.ID)
		}
	}

	primary := first
	if v, ok := inputs[n.InputPorts[0].ID]; ok {
		primary = v
	}
	return inputs, primary, nil
}

func (r *run) startImage(ctx context.Context, n *Node) (image.Image, error) {
	if r.seed != nil {
		return r.seed, nil
	}
	if n.DeviceID == "" {
		return nil, verrors.New(component, "Execute", verrors.ErrNoOutput, "start node %q has no seed image and no device", n.ID)
	}
	if r.w.engine.images == nil {
		return nil, verrors.New(component, "Execute", verrors.ErrDeviceNotFound, "no image source for device %q", n.DeviceID)
	}
	return r.w.engine.images.CaptureImage(ctx, n.DeviceID)
}

func (r *run) runAlgorithm(ctx context.Context, n *Node, inputs map[string]any, primary any) (any, error) {
	if r.w.engine.plugins == nil {
		return nil, verrors.New(component, "Execute", verrors.ErrPluginNotFound, "%q: no plugin registry", n.AlgorithmType)
	}
	p, err := r.w.engine.plugins.Resolve(n.AlgorithmType)
	if err != nil {
		return nil, err
	}

	values, err := r.w.engine.nodeValues(r.w.ID, p, n)
	if err != nil {
		return nil, err
	}

	switch alg := p.(type) {
	case plugin.Node:
		ports := alg.InputPorts()
		args := make([]any, len(ports))
		for i, port := range ports {
			v, ok := inputs[port.ID]
			if !ok && port.Required {
				return nil, verrors.New(component, "Execute", verrors.ErrPortNotFound,
					"node %q: plugin %q requires input %q", n.ID, n.AlgorithmType, port.ID)
			}
			args[i] = v
		}
		return recoverRun(func() (any, error) { return alg.ExecuteNode(ctx, args, values) })

	case plugin.Algorithm:
		img, ok := primary.(image.Image)
		if !ok || img == nil {
			return nil, verrors.New(component, "Execute", verrors.ErrInvalidParameters,
				"node %q: input is %T, not an image", n.ID, primary)
		}
		return recoverRun(func() (any, error) {
			if c, ok := alg.(plugin.ContextualAlgorithm); ok {
				return c.ExecuteContext(ctx, img, values)
			}
			return alg.Execute(img, values)
		})
	}

	return nil, verrors.New(component, "Execute", verrors.ErrInvalidState,
		"plugin %q offers neither the algorithm nor the node capability", n.AlgorithmType)
}

func (r *run) runSubroutine(ctx context.Context, n *Node, primary any) (any, error) {
	if n.SubworkflowID == r.w.ID {
		return nil, verrors.New(component, "Execute", verrors.ErrRecursiveSubroutine, "%q calls itself", r.w.ID)
	}
	for _, id := range r.stack {
		if id == n.SubworkflowID {
			return nil, verrors.New(component, "Execute", verrors.ErrRecursiveSubroutine,
				"%s -> %s", strings.Join(append(r.stack, r.w.ID), " -> "), n.SubworkflowID)
		}
	}

	sub, err := r.w.engine.Workflow(n.SubworkflowID)
	if err != nil {
		return nil, err
	}
	seed, ok := primary.(image.Image)
	if !ok {
		return nil, verrors.New(component, "Execute", verrors.ErrInvalidParameters,
			"node %q: subroutine input is %T, not an image", n.ID, primary)
	}

	stack := append(append([]string(nil), r.stack...), r.w.ID)
	res, err := sub.execute(ctx, seed, stack)
	if err != nil {
		return nil, err
	}
	if res.Cancelled {
		return nil, fmt.Errorf("subworkflow %q: %w", sub.ID, ctx.Err())
	}

	terminal, ok := res.Terminal()
	if !ok {
		return nil, verrors.New(component, "Execute", verrors.ErrNoOutput, "subworkflow %q produced no output", sub.ID)
	}
	if terminal.Failed() {
		return nil, fmt.Errorf("subworkflow %q node %q: %w", sub.ID, terminal.NodeID, terminal.Err)
	}
	return terminal.Output, nil
}

// terminal returns the result of the last reached node without outgoing
// connections.
func (g *graph) terminal(res *ExecutionResult) *NodeResult {
	for i := len(res.Order) - 1; i >= 0; i-- {
		if id := res.Order[i]; !g.hasOutgoing(id) {
			return res.Results[id]
		}
	}
	return nil
}

func (r *run) selectBranch(n *Node, inputs map[string]any, primary any) (string, error) {
	outputs := make(map[string]any, len(r.res.Results))
	for id, res := range r.res.Results {
		if !res.Failed() {
			outputs[id] = res.Output
		}
	}
	params := map[string]any(n.Parameters)
	if params == nil {
		params = map[string]any{}
	}

	branch, err := branchOf(n, r.g.programs[n.ID], expressionEnv(primary, inputs, outputs, params))
	if err != nil {
		return "", verrors.New(component, "Execute", verrors.ErrInvalidWorkflow, "node %q expression: %v", n.ID, err)
	}
	return branch, nil
}

// recoverRun turns a panicking plugin into a node failure.
func recoverRun(fn func() (any, error)) (out any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("plugin panic: %v", p)
		}
	}()
	return fn()
}
