// Package workflow composes plugin-backed nodes into directed acyclic graphs
// and runs them over images.
//
// A Workflow owns its nodes and connections. Nodes execute in topological
// order, ties broken by insertion order. Condition and Switch nodes activate
// a single outgoing port; nodes left without an active incoming connection
// are pruned from the run and omitted from its result. A failed node fails
// the nodes that depend only on it, while independent branches keep running.
package workflow

import (
	"fmt"

	verrors "vision-workbench/internal/errors"
	"vision-workbench/internal/parameters"
	"vision-workbench/internal/plugin"
)

// NodeType selects how the engine executes a node.
type NodeType string

const (
	NodeStart      NodeType = "Start"
	NodeAlgorithm  NodeType = "Algorithm"
	NodeSubroutine NodeType = "Subroutine"
	NodeCondition  NodeType = "Condition"
	NodeSwitch     NodeType = "Switch"
)

func (t NodeType) Valid() bool {
	switch t {
	case NodeStart, NodeAlgorithm, NodeSubroutine, NodeCondition, NodeSwitch:
		return true
	}
	return false
}

// Well-known port ids. Nodes that declare no ports get defaults built from
// these.
const (
	PortInput   = "input"
	PortOutput  = "output"
	PortTrue    = "true"
	PortFalse   = "false"
	PortDefault = "default"
)

// Node is one unit of work in a workflow.
type Node struct {
	ID            string            `yaml:"id" json:"id"`
	Name          string            `yaml:"name,omitempty" json:"name,omitempty"`
	Type          NodeType          `yaml:"type" json:"type"`
	AlgorithmType string            `yaml:"algorithm,omitempty" json:"algorithm,omitempty"`
	InputPorts    []plugin.Port     `yaml:"inputs,omitempty" json:"inputs,omitempty"`
	OutputPorts   []plugin.Port     `yaml:"outputs,omitempty" json:"outputs,omitempty"`
	Parameters    parameters.Values `yaml:"parameters,omitempty" json:"parameters,omitempty"`
	// Disabled nodes pass their primary input through unchanged.
	Disabled bool `yaml:"disabled,omitempty" json:"disabled,omitempty"`
	// Expression is evaluated by Condition (boolean) and Switch (discriminant)
	// nodes.
	Expression    string `yaml:"expression,omitempty" json:"expression,omitempty"`
	SubworkflowID string `yaml:"subworkflow,omitempty" json:"subworkflow,omitempty"`
	// DeviceID names the device a Start node captures from when the run has
	// no seed image.
	DeviceID string `yaml:"device,omitempty" json:"device,omitempty"`
}

// Enabled reports whether the node executes rather than passing through.
func (n *Node) Enabled() bool { return !n.Disabled }

// Connection links an output port of one node to an input port of another.
type Connection struct {
	SourceNodeID string `yaml:"from" json:"from"`
	SourcePortID string `yaml:"fromPort,omitempty" json:"fromPort,omitempty"`
	TargetNodeID string `yaml:"to" json:"to"`
	TargetPortID string `yaml:"toPort,omitempty" json:"toPort,omitempty"`
}

func (c Connection) String() string {
	return fmt.Sprintf("%s.%s->%s.%s", c.SourceNodeID, c.SourcePortID, c.TargetNodeID, c.TargetPortID)
}

// withDefaultPorts fills in the port ids a connection may omit.
func (c Connection) withDefaultPorts() Connection {
	if c.SourcePortID == "" {
		c.SourcePortID = PortOutput
	}
	if c.TargetPortID == "" {
		c.TargetPortID = PortInput
	}
	return c
}

func (n *Node) clone() *Node {
	c := *n
	c.InputPorts = append([]plugin.Port(nil), n.InputPorts...)
	c.OutputPorts = append([]plugin.Port(nil), n.OutputPorts...)
	if n.Parameters != nil {
		c.Parameters = n.Parameters.Clone()
	}
	return &c
}

// prepare checks the node's fields and assigns default ports.
func (n *Node) prepare(workflowID string) error {
	if n.ID == "" {
		return verrors.New(component, "AddNode", verrors.ErrInvalidWorkflow, "node id is empty")
	}
	if !n.Type.Valid() {
		return verrors.New(component, "AddNode", verrors.ErrInvalidWorkflow, "node %q has unknown type %q", n.ID, n.Type)
	}
	if n.Name == "" {
		n.Name = n.ID
	}

	switch n.Type {
	case NodeAlgorithm:
		if n.AlgorithmType == "" {
			return verrors.New(component, "AddNode", verrors.ErrInvalidWorkflow, "algorithm node %q has no algorithm type", n.ID)
		}
	case NodeSubroutine:
		if n.SubworkflowID == "" {
			return verrors.New(component, "AddNode", verrors.ErrInvalidWorkflow, "subroutine node %q references no workflow", n.ID)
		}
		if n.SubworkflowID == workflowID {
			return verrors.New(component, "AddNode", verrors.ErrInvalidWorkflow, "subroutine node %q references its own workflow", n.ID)
		}
	case NodeCondition, NodeSwitch:
		if n.Expression == "" {
			return verrors.New(component, "AddNode", verrors.ErrInvalidWorkflow, "%s node %q has no expression", n.Type, n.ID)
		}
	}

	if n.Type == NodeStart {
		if len(n.InputPorts) > 0 {
			return verrors.New(component, "AddNode", verrors.ErrInvalidWorkflow, "start node %q cannot declare inputs", n.ID)
		}
	} else if len(n.InputPorts) == 0 {
		n.InputPorts = []plugin.Port{{ID: PortInput, Name: "Input", DataType: plugin.DataAny, Required: true}}
	}

	if len(n.OutputPorts) == 0 {
		switch n.Type {
		case NodeCondition:
			n.OutputPorts = []plugin.Port{
				{ID: PortTrue, Name: "True", DataType: plugin.DataAny},
				{ID: PortFalse, Name: "False", DataType: plugin.DataAny},
			}
		case NodeSwitch:
			n.OutputPorts = []plugin.Port{{ID: PortDefault, Name: "Default", DataType: plugin.DataAny}}
		default:
			n.OutputPorts = []plugin.Port{{ID: PortOutput, Name: "Output", DataType: plugin.DataAny}}
		}
	}

	return checkPortIDs(n)
}

func checkPortIDs(n *Node) error {
	for _, ports := range [][]plugin.Port{n.InputPorts, n.OutputPorts} {
		seen := make(map[string]bool, len(ports))
		for _, p := range ports {
			if p.ID == "" {
				return verrors.New(component, "AddNode", verrors.ErrInvalidWorkflow, "node %q has a port without id", n.ID)
			}
			if seen[p.ID] {
				return verrors.New(component, "AddNode", verrors.ErrInvalidWorkflow, "node %q declares port %q twice", n.ID, p.ID)
			}
			seen[p.ID] = true
		}
	}
	return nil
}

func hasPort(ports []plugin.Port, id string) bool {
	for _, p := range ports {
		if p.ID == id {
			return true
		}
	}
	return false
}

// branches reports whether the node activates a single output port.
func (n *Node) branches() bool {
	return n.Type == NodeCondition || n.Type == NodeSwitch
}
