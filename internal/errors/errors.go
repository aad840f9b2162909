// Package errors provides the error taxonomy shared by the plugin system, the
// device layer and the workflow engine.
//
// Every failure surfaced by the core wraps one of the sentinel errors below, so
// callers can branch with errors.Is regardless of how much context was added on
// the way up. Errors created with New or Wrap additionally carry a Class that
// tells the caller how to react (fix configuration, re-enter a state, etc.).
package errors

import (
	stderrors "errors"
	"fmt"
)

// Class groups errors by how a caller is expected to recover from them.
type Class int

const (
	// ClassUnknown is reported for errors that were not produced by this package.
	ClassUnknown Class = iota
	// ClassConfiguration covers missing or out-of-range parameters and bad metadata.
	ClassConfiguration
	// ClassState covers operations invoked while a plugin or device is in the wrong state.
	ClassState
	// ClassResolution covers unknown plugin, device, workflow or node references.
	ClassResolution
	// ClassDependency covers missing, failed or cyclic plugin dependencies.
	ClassDependency
	// ClassWorkflow covers structural workflow violations and node failures.
	ClassWorkflow
)

// String returns the string representation of Class
func (c Class) String() string {
	switch c {
	case ClassConfiguration:
		return "configuration"
	case ClassState:
		return "state"
	case ClassResolution:
		return "resolution"
	case ClassDependency:
		return "dependency"
	case ClassWorkflow:
		return "workflow"
	default:
		return "unknown"
	}
}

var (
	// Configuration errors
	ErrInvalidParameters = stderrors.New("invalid parameters")
	ErrInvalidMetadata   = stderrors.New("invalid parameter metadata")
	ErrInvalidConfig     = stderrors.New("invalid configuration")

	// State errors
	ErrInvalidState       = stderrors.New("invalid state")
	ErrDeviceNotConnected = stderrors.New("device not connected")
	ErrExecutionActive    = stderrors.New("workflow execution in progress")

	// Resolution errors
	ErrPluginNotFound   = stderrors.New("plugin not found")
	ErrDeviceNotFound   = stderrors.New("device not found")
	ErrWorkflowNotFound = stderrors.New("workflow not found")
	ErrNodeNotFound     = stderrors.New("node not found")
	ErrPortNotFound     = stderrors.New("port not found")

	// Dependency errors
	ErrDuplicate         = stderrors.New("duplicate id")
	ErrMissingDependency = stderrors.New("missing dependency")
	ErrCycleDetected     = stderrors.New("cycle detected")
	ErrDependencyFailed  = stderrors.New("dependency failed")
	ErrLoadTimeout       = stderrors.New("plugin load timeout")

	// Workflow errors
	ErrInvalidWorkflow     = stderrors.New("invalid workflow")
	ErrUpstreamFailed      = stderrors.New("upstream node failed")
	ErrRecursiveSubroutine = stderrors.New("recursive subroutine")
	ErrNoOutput            = stderrors.New("no output produced")
)

var sentinelClasses = map[error]Class{
	ErrInvalidParameters:   ClassConfiguration,
	ErrInvalidMetadata:     ClassConfiguration,
	ErrInvalidConfig:       ClassConfiguration,
	ErrInvalidState:        ClassState,
	ErrDeviceNotConnected:  ClassState,
	ErrExecutionActive:     ClassState,
	ErrPluginNotFound:      ClassResolution,
	ErrDeviceNotFound:      ClassResolution,
	ErrWorkflowNotFound:    ClassResolution,
	ErrNodeNotFound:        ClassResolution,
	ErrPortNotFound:        ClassResolution,
	ErrDuplicate:           ClassDependency,
	ErrMissingDependency:   ClassDependency,
	ErrCycleDetected:       ClassDependency,
	ErrDependencyFailed:    ClassDependency,
	ErrLoadTimeout:         ClassDependency,
	ErrInvalidWorkflow:     ClassWorkflow,
	ErrUpstreamFailed:      ClassWorkflow,
	ErrRecursiveSubroutine: ClassWorkflow,
	ErrNoOutput:            ClassWorkflow,
}

// Error wraps an underlying error with the component and operation that
// produced it.
type Error struct {
	Class     Class
	Component string
	Op        string
	Err       error
}

// Error implements the error interface
func (e *Error) Error() string {
	switch {
	case e.Component != "" && e.Op != "":
		return fmt.Sprintf("%s.%s: %v", e.Component, e.Op, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return e.Err.Error()
	}
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// New returns an error for the given sentinel with a formatted detail message.
// The result matches the sentinel under errors.Is.
func New(component, op string, sentinel error, format string, args ...interface{}) error {
	detail := fmt.Sprintf(format, args...)
	return &Error{
		Class:     classOfSentinel(sentinel),
		Component: component,
		Op:        op,
		Err:       fmt.Errorf("%w: %s", sentinel, detail),
	}
}

// Wrap attaches component and operation context to err. A nil err yields nil.
func Wrap(err error, component, op string) error {
	if err == nil {
		return nil
	}
	return &Error{
		Class:     ClassOf(err),
		Component: component,
		Op:        op,
		Err:       err,
	}
}

// ClassOf reports the class of err, looking through wrapped errors.
func ClassOf(err error) Class {
	if err == nil {
		return ClassUnknown
	}

	var e *Error
	if stderrors.As(err, &e) && e.Class != ClassUnknown {
		return e.Class
	}

	for sentinel, class := range sentinelClasses {
		if stderrors.Is(err, sentinel) {
			return class
		}
	}
	return ClassUnknown
}

func classOfSentinel(sentinel error) Class {
	if class, ok := sentinelClasses[sentinel]; ok {
		return class
	}
	return ClassUnknown
}

// Is forwards to the standard library so callers need a single errors import.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As forwards to the standard library.
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}

// Join forwards to the standard library.
func Join(errs ...error) error {
	return stderrors.Join(errs...)
}
