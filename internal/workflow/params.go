package workflow

import (
	verrors "vision-workbench/internal/errors"
	"vision-workbench/internal/parameters"
	"vision-workbench/internal/plugin"
)

// ParameterStore keeps node parameters across sessions. Load and Save work
// on the in-memory copy, Restore and SaveSnapshot on the persisted one.
// *parameters.Repository satisfies it.
type ParameterStore interface {
	Load(key string) (parameters.Values, bool)
	Save(key string, values parameters.Values)
	Restore(name string, metadata []parameters.Metadata) (parameters.Values, error)
	SaveSnapshot(name string, values parameters.Values) error
}

// WithParameterStore layers stored values between plugin defaults and the
// parameters written on each node.
func WithParameterStore(store ParameterStore) Option {
	return func(e *Engine) { e.params = store }
}

// ParameterKey names the stored parameters of one node.
func ParameterKey(workflowID, nodeID string) string {
	return workflowID + "." + nodeID
}

// nodeValues builds the plugin's defaults, overridden by stored values and
// then by the node's parameters, and validates the result.
func (e *Engine) nodeValues(workflowID string, p plugin.Plugin, n *Node) (parameters.Values, error) {
	provider, ok := p.(plugin.ParameterProvider)
	var meta []parameters.Metadata
	if ok {
		meta = provider.Parameters()
	}

	stored, err := e.storedValues(workflowID, n.ID, meta)
	if err != nil {
		return nil, verrors.Wrap(err, component, "Execute")
	}
	if !ok {
		return stored.Merge(n.Parameters), nil
	}

	overrides, err := parameters.Coerce(meta, n.Parameters)
	if err != nil {
		return nil, verrors.Wrap(err, component, "Execute")
	}
	values := parameters.Defaults(meta).Merge(stored).Merge(overrides)

	if !provider.ValidateParameters(values) {
		if res := parameters.Validate(meta, values); !res.Valid() {
			return nil, verrors.Wrap(res.Err(), component, "Execute")
		}
		return nil, verrors.New(component, "Execute", verrors.ErrInvalidParameters,
			"plugin %q rejected the parameters of node %q", n.AlgorithmType, n.ID)
	}
	return values, nil
}

func (e *Engine) storedValues(workflowID, nodeID string, meta []parameters.Metadata) (parameters.Values, error) {
	if e.params == nil {
		return nil, nil
	}
	key := ParameterKey(workflowID, nodeID)
	if v, ok := e.params.Load(key); ok {
		return v, nil
	}
	v, err := e.params.Restore(key, meta)
	if err != nil {
		return nil, err
	}
	e.params.Save(key, v)
	return v, nil
}

// SaveParameters persists the effective parameters of every algorithm node
// in a workflow and returns how many nodes were saved. Nodes whose plugin
// cannot be resolved are reported and skipped.
func (e *Engine) SaveParameters(workflowID string) (int, error) {
	if e.params == nil {
		return 0, verrors.New(engineComponent, "SaveParameters", verrors.ErrInvalidState, "no parameter store configured")
	}
	w, err := e.Workflow(workflowID)
	if err != nil {
		return 0, err
	}
	if e.plugins == nil {
		return 0, verrors.New(engineComponent, "SaveParameters", verrors.ErrPluginNotFound, "no plugin registry")
	}

	var errs []error
	saved := 0
	for _, n := range w.Nodes() {
		if n.Type != NodeAlgorithm {
			continue
		}
		p, err := e.plugins.Resolve(n.AlgorithmType)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		values, err := e.nodeValues(w.ID, p, &n)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		key := ParameterKey(w.ID, n.ID)
		if err := e.params.SaveSnapshot(key, values); err != nil {
			errs = append(errs, verrors.Wrap(err, engineComponent, "SaveParameters"))
			continue
		}
		e.params.Save(key, values)
		saved++
	}

	e.logger.Info(engineComponent, "workflow parameters saved", map[string]interface{}{
		"workflow": w.ID,
		"nodes":    saved,
		"failed":   len(errs),
	})
	return saved, verrors.Join(errs...)
}
