package parameters

import (
	"fmt"
	"math"
	"strings"

	verrors "vision-workbench/internal/errors"
)

// ValidationResult collects every problem found while validating Values.
// Warnings never make the result invalid.
type ValidationResult struct {
	Errors   []string
	Warnings []string
}

func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

func (r *ValidationResult) addError(format string, args ...interface{}) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *ValidationResult) addWarning(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Err returns nil for a valid result, otherwise an ErrInvalidParameters error
// listing every problem.
func (r *ValidationResult) Err() error {
	if r.Valid() {
		return nil
	}
	return fmt.Errorf("%w: %s", verrors.ErrInvalidParameters, strings.Join(r.Errors, "; "))
}

// Validate checks values against metadata: every required parameter must be
// present, values must have the declared type, numeric values must lie in
// [MinValue, MaxValue] and enum values must be one of Options. Names not
// described by metadata produce warnings.
func Validate(metadata []Metadata, values Values) *ValidationResult {
	result := &ValidationResult{}
	known := make(map[string]struct{}, len(metadata))

	for _, m := range metadata {
		known[m.Name] = struct{}{}

		v, present := values[m.Name]
		if !present || v == nil {
			if m.Required {
				result.addError("missing required parameter %q", m.Name)
			}
			continue
		}

		if err := checkType(m.Type, v); err != nil {
			result.addError("parameter %q: %v", m.Name, err)
			continue
		}

		if m.Type.IsNumeric() {
			f, _ := toFloat(v)
			if math.IsNaN(f) {
				result.addError("parameter %q is not a number", m.Name)
				continue
			}
			if minV, ok, _ := boundOf(m.MinValue); ok && f < minV {
				result.addError("parameter %q value %v below minimum %v", m.Name, v, m.MinValue)
			}
			if maxV, ok, _ := boundOf(m.MaxValue); ok && f > maxV {
				result.addError("parameter %q value %v above maximum %v", m.Name, v, m.MaxValue)
			}
		}

		if m.Type == TypeEnum && !containsOption(m.Options, v) {
			result.addError("parameter %q value %v is not one of %v", m.Name, v, m.Options)
		}
	}

	for _, name := range values.Keys() {
		if _, ok := known[name]; !ok {
			result.addWarning("unknown parameter %q", name)
		}
	}

	return result
}
