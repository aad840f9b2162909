package workflow

import (
	"image"
	"time"
)

// Status is the outcome of one node in one run.
type Status string

const (
	StatusSucceeded Status = "Succeeded"
	StatusFailed    Status = "Failed"
	StatusBypassed  Status = "Bypassed"
)

// NodeResult records what a reached node produced. Err is set only for
// StatusFailed. Branch is the output port a Condition or Switch activated.
type NodeResult struct {
	NodeID   string
	Type     NodeType
	Status   Status
	Output   any
	Err      error
	Branch   string
	Duration time.Duration
}

func (r *NodeResult) Failed() bool { return r.Status == StatusFailed }

// Image returns the node output when it is an image.
func (r *NodeResult) Image() (image.Image, bool) {
	img, ok := r.Output.(image.Image)
	return img, ok
}

// ExecutionResult is the outcome of one run. Results holds an entry for every
// node that was reached; pruned nodes have none. Order lists the reached
// nodes in execution order.
type ExecutionResult struct {
	ID         string
	WorkflowID string
	StartedAt  time.Time
	Duration   time.Duration
	Order      []string
	Results    map[string]*NodeResult
	// TerminalID is the last reached node without outgoing connections.
	TerminalID string
	// Cancelled is set when the context ended the run early. Results then
	// holds the nodes that completed before cancellation.
	Cancelled bool
}

func (r *ExecutionResult) Result(nodeID string) (*NodeResult, bool) {
	res, ok := r.Results[nodeID]
	return res, ok
}

// Terminal returns the result of the run's final sink node.
func (r *ExecutionResult) Terminal() (*NodeResult, bool) {
	res, ok := r.Results[r.TerminalID]
	return res, ok
}

// Output returns the output of a node that ran successfully.
func (r *ExecutionResult) Output(nodeID string) (any, bool) {
	res, ok := r.Results[nodeID]
	if !ok || res.Failed() {
		return nil, false
	}
	return res.Output, true
}

// Failed lists the failed nodes in execution order.
func (r *ExecutionResult) Failed() []string {
	var ids []string
	for _, id := range r.Order {
		if r.Results[id].Failed() {
			ids = append(ids, id)
		}
	}
	return ids
}

// Outcome summarizes the run for logs and metrics.
func (r *ExecutionResult) Outcome() string {
	switch {
	case r.Cancelled:
		return "cancelled"
	case len(r.Failed()) > 0:
		return "partial"
	default:
		return "succeeded"
	}
}

func (r *ExecutionResult) add(res *NodeResult) {
	r.Order = append(r.Order, res.NodeID)
	r.Results[res.NodeID] = res
}
