package workflow

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/expr-lang/expr/vm"

	verrors "vision-workbench/internal/errors"
	"vision-workbench/internal/logger"
)

const component = "Workflow"

// Workflow is a directed acyclic graph of nodes. Structural edits are
// rejected with ErrExecutionActive while a run is in progress.
type Workflow struct {
	ID          string
	Name        string
	Description string

	engine *Engine
	logger logger.Logger

	mu          sync.RWMutex
	nodes       []*Node
	index       map[string]int
	connections []Connection
	programs    map[string]*vm.Program

	running atomic.Int32
}

func newWorkflow(e *Engine, id, name, description string) *Workflow {
	return &Workflow{
		ID:          id,
		Name:        name,
		Description: description,
		engine:      e,
		logger:      e.logger,
		index:       make(map[string]int),
		programs:    make(map[string]*vm.Program),
	}
}

// mutable must be called with mu held for writing.
func (w *Workflow) mutable(op string) error {
	if w.running.Load() > 0 {
		return verrors.New(component, op, verrors.ErrExecutionActive, "workflow %q is executing", w.ID)
	}
	return nil
}

// AddNode appends a copy of n. Node ids are unique and a workflow holds at
// most one Start node.
func (w *Workflow) AddNode(n Node) error {
	node := n.clone()
	if err := node.prepare(w.ID); err != nil {
		return err
	}

	var program *vm.Program
	if node.branches() {
		p, err := compileExpression(node.Type, node.Expression)
		if err != nil {
			return verrors.New(component, "AddNode", verrors.ErrInvalidWorkflow, "node %q expression: %v", node.ID, err)
		}
		program = p
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.mutable("AddNode"); err != nil {
		return err
	}
	if _, exists := w.index[node.ID]; exists {
		return verrors.New(component, "AddNode", verrors.ErrDuplicate, "node %q already in workflow %q", node.ID, w.ID)
	}
	if node.Type == NodeStart {
		for _, existing := range w.nodes {
			if existing.Type == NodeStart {
				return verrors.New(component, "AddNode", verrors.ErrInvalidWorkflow,
					"workflow %q already has start node %q", w.ID, existing.ID)
			}
		}
	}

	w.index[node.ID] = len(w.nodes)
	w.nodes = append(w.nodes, node)
	if program != nil {
		w.programs[node.ID] = program
	}

	w.logger.Debug(component, "node added", map[string]interface{}{
		"workflow": w.ID,
		"node":     node.ID,
		"type":     string(node.Type),
	})
	return nil
}

// RemoveNode deletes a node together with every connection touching it.
func (w *Workflow) RemoveNode(id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.mutable("RemoveNode"); err != nil {
		return err
	}
	pos, ok := w.index[id]
	if !ok {
		return verrors.New(component, "RemoveNode", verrors.ErrNodeNotFound, "%q in workflow %q", id, w.ID)
	}

	w.nodes = append(w.nodes[:pos], w.nodes[pos+1:]...)
	delete(w.programs, id)
	w.reindex()

	kept := w.connections[:0]
	for _, c := range w.connections {
		if c.SourceNodeID != id && c.TargetNodeID != id {
			kept = append(kept, c)
		}
	}
	w.connections = kept

	w.logger.Debug(component, "node removed", map[string]interface{}{"workflow": w.ID, "node": id})
	return nil
}

func (w *Workflow) reindex() {
	w.index = make(map[string]int, len(w.nodes))
	for i, n := range w.nodes {
		w.index[n.ID] = i
	}
}

// Connect adds an edge. Empty port ids default to "output" and "input".
// Both endpoints and ports must exist, the edge must be new and it must not
// close a cycle.
func (w *Workflow) Connect(c Connection) error {
	c = c.withDefaultPorts()

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.mutable("Connect"); err != nil {
		return err
	}

	src, err := w.nodeLocked("Connect", c.SourceNodeID)
	if err != nil {
		return err
	}
	dst, err := w.nodeLocked("Connect", c.TargetNodeID)
	if err != nil {
		return err
	}
	if !hasPort(src.OutputPorts, c.SourcePortID) {
		return verrors.New(component, "Connect", verrors.ErrPortNotFound, "node %q has no output port %q", src.ID, c.SourcePortID)
	}
	if !hasPort(dst.InputPorts, c.TargetPortID) {
		return verrors.New(component, "Connect", verrors.ErrPortNotFound, "node %q has no input port %q", dst.ID, c.TargetPortID)
	}
	for _, existing := range w.connections {
		if existing == c {
			return verrors.New(component, "Connect", verrors.ErrDuplicate, "connection %s already exists", c)
		}
	}
	if c.SourceNodeID == c.TargetNodeID || w.reachableLocked(c.TargetNodeID, c.SourceNodeID) {
		return verrors.New(component, "Connect", verrors.ErrCycleDetected, "connection %s closes a cycle", c)
	}

	w.connections = append(w.connections, c)
	w.logger.Debug(component, "nodes connected", map[string]interface{}{"workflow": w.ID, "connection": c.String()})
	return nil
}

// Disconnect removes an edge. Empty port ids default as in Connect.
func (w *Workflow) Disconnect(c Connection) error {
	c = c.withDefaultPorts()

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.mutable("Disconnect"); err != nil {
		return err
	}
	for i, existing := range w.connections {
		if existing == c {
			w.connections = append(w.connections[:i], w.connections[i+1:]...)
			return nil
		}
	}
	return verrors.New(component, "Disconnect", verrors.ErrNodeNotFound, "no connection %s", c)
}

// reachableLocked reports whether to can be reached from from.
func (w *Workflow) reachableLocked(from, to string) bool {
	seen := map[string]bool{from: true}
	stack := []string{from}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == to {
			return true
		}
		for _, c := range w.connections {
			if c.SourceNodeID == id && !seen[c.TargetNodeID] {
				seen[c.TargetNodeID] = true
				stack = append(stack, c.TargetNodeID)
			}
		}
	}
	return false
}

func (w *Workflow) nodeLocked(op, id string) (*Node, error) {
	pos, ok := w.index[id]
	if !ok {
		return nil, verrors.New(component, op, verrors.ErrNodeNotFound, "%q in workflow %q", id, w.ID)
	}
	return w.nodes[pos], nil
}

// Node returns a copy of the node with the given id.
func (w *Workflow) Node(id string) (Node, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	n, err := w.nodeLocked("Node", id)
	if err != nil {
		return Node{}, err
	}
	return *n.clone(), nil
}

// Nodes returns copies of every node in insertion order.
func (w *Workflow) Nodes() []Node {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]Node, len(w.nodes))
	for i, n := range w.nodes {
		out[i] = *n.clone()
	}
	return out
}

func (w *Workflow) Connections() []Connection {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]Connection(nil), w.connections...)
}

// Executing reports whether a run is in progress.
func (w *Workflow) Executing() bool {
	return w.running.Load() > 0
}

// Info summarizes the workflow on one line.
func (w *Workflow) Info() string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	counts := make(map[NodeType]int)
	for _, n := range w.nodes {
		counts[n.Type]++
	}
	parts := make([]string, 0, len(counts))
	for _, t := range []NodeType{NodeStart, NodeAlgorithm, NodeSubroutine, NodeCondition, NodeSwitch} {
		if counts[t] > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", t, counts[t]))
		}
	}
	return fmt.Sprintf("workflow %s (%s): %d nodes [%s], %d connections",
		w.ID, w.Name, len(w.nodes), strings.Join(parts, " "), len(w.connections))
}

// graph is an immutable copy of the workflow taken at the start of a run.
type graph struct {
	nodes       []*Node
	connections []Connection
	programs    map[string]*vm.Program
}

// begin marks a run as active and snapshots the graph.
func (w *Workflow) begin() *graph {
	w.mu.RLock()
	defer w.mu.RUnlock()

	w.running.Add(1)
	g := &graph{
		nodes:       make([]*Node, len(w.nodes)),
		connections: append([]Connection(nil), w.connections...),
		programs:    make(map[string]*vm.Program, len(w.programs)),
	}
	for i, n := range w.nodes {
		g.nodes[i] = n.clone()
	}
	for id, p := range w.programs {
		g.programs[id] = p
	}
	return g
}

func (w *Workflow) end() {
	w.running.Add(-1)
}

// order returns node ids in topological order. Among ready nodes the one
// added first runs first.
func (g *graph) order() ([]string, error) {
	position := make(map[string]int, len(g.nodes))
	indegree := make(map[string]int, len(g.nodes))
	for i, n := range g.nodes {
		position[n.ID] = i
		indegree[n.ID] = 0
	}
	for _, c := range g.connections {
		indegree[c.TargetNodeID]++
	}

	ready := make([]bool, len(g.nodes))
	for i, n := range g.nodes {
		ready[i] = indegree[n.ID] == 0
	}

	order := make([]string, 0, len(g.nodes))
	for len(order) < len(g.nodes) {
		next := -1
		for i := range g.nodes {
			if ready[i] {
				next = i
				break
			}
		}
		if next < 0 {
			return order, verrors.New(component, "Execute", verrors.ErrCycleDetected, "graph is not acyclic")
		}
		ready[next] = false
		id := g.nodes[next].ID
		order = append(order, id)
		indegree[id] = -1

		for _, c := range g.connections {
			if c.SourceNodeID != id {
				continue
			}
			indegree[c.TargetNodeID]--
			if indegree[c.TargetNodeID] == 0 {
				ready[position[c.TargetNodeID]] = true
			}
		}
	}
	return order, nil
}

func (g *graph) node(id string) *Node {
	for _, n := range g.nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

func (g *graph) start() *Node {
	for _, n := range g.nodes {
		if n.Type == NodeStart {
			return n
		}
	}
	return nil
}

func (g *graph) incoming(id string) []Connection {
	var in []Connection
	for _, c := range g.connections {
		if c.TargetNodeID == id {
			in = append(in, c)
		}
	}
	return in
}

func (g *graph) hasOutgoing(id string) bool {
	for _, c := range g.connections {
		if c.SourceNodeID == id {
			return true
		}
	}
	return false
}
