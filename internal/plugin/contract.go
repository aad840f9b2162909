// Package plugin defines the contract every unit of vision functionality
// implements and the Manager that registers, loads and resolves plugins.
//
// A plugin always implements Plugin. What else it can do is discovered with
// interface checks: an Algorithm transforms one image, a Node consumes and
// produces arbitrary port values inside a workflow, and a UIProvider tells a
// UI layer how to render its parameters. Capabilities reports the tags.
package plugin

import (
	"context"
	"image"

	"vision-workbench/internal/parameters"
)

// Descriptor identifies a plugin. ID is unique within a Manager and
// Dependencies lists the ids that must be loaded before this plugin.
type Descriptor struct {
	ID           string
	Name         string
	Version      string
	Author       string
	Description  string
	Dependencies []string
}

// State is the lifecycle position of a plugin instance.
type State int

const (
	StateUninitialized State = iota
	StateInitialized
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateRunning:
		return "running"
	default:
		return "unknown"
	}
}

// Plugin is the base lifecycle every plugin implements.
//
// Initialize is idempotent. Start initializes first when needed and returns
// the initialization error if that fails. Stop moves a running plugin back to
// Initialized and Cleanup returns it to Uninitialized.
type Plugin interface {
	Descriptor() Descriptor
	Initialize() error
	Start() error
	Stop() error
	Cleanup() error
	State() State
}

// ParameterProvider publishes parameter metadata and validates values
// against it.
type ParameterProvider interface {
	Parameters() []parameters.Metadata
	ValidateParameters(values parameters.Values) bool
}

// Algorithm transforms one image. Execute fails with ErrInvalidState unless
// the plugin is running.
type Algorithm interface {
	Plugin
	ParameterProvider
	Execute(img image.Image, values parameters.Values) (image.Image, error)
}

// ContextualAlgorithm extends Algorithm with context support for cancellation
type ContextualAlgorithm interface {
	Algorithm
	ExecuteContext(ctx context.Context, img image.Image, values parameters.Values) (image.Image, error)
}

// Port describes one input or output of a workflow node.
type Port struct {
	ID       string `yaml:"id" json:"id"`
	Name     string `yaml:"name,omitempty" json:"name,omitempty"`
	DataType string `yaml:"dataType,omitempty" json:"dataType,omitempty"`
	Required bool   `yaml:"required,omitempty" json:"required,omitempty"`
}

// Data types carried by ports.
const (
	DataImage  = "image"
	DataNumber = "number"
	DataText   = "text"
	DataAny    = "any"
)

// Node is a plugin usable as a workflow node with explicit ports. Inputs are
// passed in InputPorts order; a missing optional input is nil.
type Node interface {
	Plugin
	ParameterProvider
	InputPorts() []Port
	OutputPorts() []Port
	ExecuteNode(ctx context.Context, inputs []any, values parameters.Values) (any, error)
}

// UIMode tells a UI layer how a plugin's parameters are rendered.
type UIMode int

const (
	// UIModeAuto generates controls from parameter metadata.
	UIModeAuto UIMode = iota
	UIModeHybrid
	UIModeCustom
)

func (m UIMode) String() string {
	switch m {
	case UIModeHybrid:
		return "hybrid"
	case UIModeCustom:
		return "custom"
	default:
		return "auto"
	}
}

// UIProvider is implemented by plugins that need more than generated
// controls. The core only forwards the mode.
type UIProvider interface {
	Plugin
	UIMode() UIMode
}

// Capability tags a role a plugin fulfils.
type Capability string

const (
	CapabilityAlgorithm  Capability = "algorithm"
	CapabilityNode       Capability = "node"
	CapabilityUIProvider Capability = "ui-provider"
)

// Capabilities reports the roles p implements.
func Capabilities(p Plugin) []Capability {
	var caps []Capability
	if _, ok := p.(Algorithm); ok {
		caps = append(caps, CapabilityAlgorithm)
	}
	if _, ok := p.(Node); ok {
		caps = append(caps, CapabilityNode)
	}
	if _, ok := uiProvider(p); ok {
		caps = append(caps, CapabilityUIProvider)
	}
	return caps
}

// uiProvider finds the UIProvider behind p, looking through decorators.
func uiProvider(p Plugin) (UIProvider, bool) {
	for p != nil {
		if ui, ok := p.(UIProvider); ok {
			return ui, true
		}
		w, ok := p.(interface{ Unwrap() Algorithm })
		if !ok {
			return nil, false
		}
		p = w.Unwrap()
	}
	return nil, false
}

// HasCapability reports whether p implements c.
func HasCapability(p Plugin, c Capability) bool {
	for _, have := range Capabilities(p) {
		if have == c {
			return true
		}
	}
	return false
}

// Tool is the read-only view of a plugin handed to a UI layer.
type Tool struct {
	Descriptor   Descriptor
	Parameters   []parameters.Metadata
	UIMode       UIMode
	Capabilities []Capability
	InputPorts   []Port
	OutputPorts  []Port
}

// ToolMetadata builds the UI view of p. Slices are copies.
func ToolMetadata(p Plugin) Tool {
	desc := p.Descriptor()
	desc.Dependencies = append([]string(nil), desc.Dependencies...)

	tool := Tool{
		Descriptor:   desc,
		UIMode:       UIModeAuto,
		Capabilities: Capabilities(p),
	}
	if pp, ok := p.(ParameterProvider); ok {
		tool.Parameters = parameters.CloneAll(pp.Parameters())
	}
	if ui, ok := uiProvider(p); ok {
		tool.UIMode = ui.UIMode()
	}
	if n, ok := p.(Node); ok {
		tool.InputPorts = append([]Port(nil), n.InputPorts()...)
		tool.OutputPorts = append([]Port(nil), n.OutputPorts()...)
	}
	return tool
}
