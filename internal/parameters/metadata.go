// Package parameters describes the tunable values exposed by plugins and
// workflow nodes, validates supplied values against that description, and
// persists them across sessions.
//
// A plugin publishes a slice of Metadata. Values are built from the metadata
// defaults (Defaults), overridden by user or persisted input (Merge), and
// checked with Validate before a plugin executes. The Repository keeps values
// in memory and writes named snapshots as flat JSON documents; Coerce turns a
// loaded snapshot back into typed Go values using the same metadata.
package parameters

import (
	"fmt"
	"image"
	"image/color"
	"math"

	verrors "vision-workbench/internal/errors"
)

// Type enumerates the value kinds a parameter can hold.
type Type int

const (
	TypeInt Type = iota
	TypeDouble
	TypeString
	TypeBool
	TypeEnum
	TypeColor
	TypePoint
	TypeSize
	TypeRect
	TypeImage
	TypeFilePath
	TypeList
	TypeCustom
)

var typeNames = map[Type]string{
	TypeInt:      "Int",
	TypeDouble:   "Double",
	TypeString:   "String",
	TypeBool:     "Bool",
	TypeEnum:     "Enum",
	TypeColor:    "Color",
	TypePoint:    "Point",
	TypeSize:     "Size",
	TypeRect:     "Rect",
	TypeImage:    "Image",
	TypeFilePath: "FilePath",
	TypeList:     "List",
	TypeCustom:   "Custom",
}

// AllTypes lists every parameter type in declaration order.
func AllTypes() []Type {
	types := make([]Type, 0, len(typeNames))
	for t := TypeInt; t <= TypeCustom; t++ {
		types = append(types, t)
	}
	return types
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// ParseType resolves a type by its name as produced by String.
func ParseType(name string) (Type, error) {
	for t, n := range typeNames {
		if n == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown parameter type %q", verrors.ErrInvalidMetadata, name)
}

// MarshalText lets Type appear by name in YAML and JSON documents.
func (t Type) MarshalText() ([]byte, error) {
	if _, ok := typeNames[t]; !ok {
		return nil, fmt.Errorf("%w: unknown parameter type %d", verrors.ErrInvalidMetadata, int(t))
	}
	return []byte(t.String()), nil
}

func (t *Type) UnmarshalText(text []byte) error {
	parsed, err := ParseType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// IsNumeric reports whether MinValue/MaxValue bounds apply to the type.
func (t Type) IsNumeric() bool {
	return t == TypeInt || t == TypeDouble
}

// Size is the value type of TypeSize parameters.
type Size struct {
	Width  int
	Height int
}

// Metadata declares one configurable value. It is created by a plugin's
// metadata provider and treated as immutable afterwards.
type Metadata struct {
	Name         string
	DisplayName  string
	Description  string
	Type         Type
	DefaultValue interface{}
	MinValue     interface{}
	MaxValue     interface{}
	Options      []interface{}
	Required     bool
	ReadOnly     bool
	Category     string
}

// Check verifies the metadata is self-consistent: bounds only on numeric
// types, Min <= Default <= Max, and enum defaults drawn from Options.
func (m Metadata) Check() error {
	if m.Name == "" {
		return fmt.Errorf("%w: parameter name is empty", verrors.ErrInvalidMetadata)
	}
	if _, ok := typeNames[m.Type]; !ok {
		return fmt.Errorf("%w: parameter %q has unknown type %d", verrors.ErrInvalidMetadata, m.Name, int(m.Type))
	}

	if !m.Type.IsNumeric() && (m.MinValue != nil || m.MaxValue != nil) {
		return fmt.Errorf("%w: parameter %q of type %s cannot declare bounds", verrors.ErrInvalidMetadata, m.Name, m.Type)
	}

	if m.DefaultValue != nil {
		if err := checkType(m.Type, m.DefaultValue); err != nil {
			return fmt.Errorf("%w: parameter %q default: %v", verrors.ErrInvalidMetadata, m.Name, err)
		}
	}

	if m.Type.IsNumeric() {
		minV, hasMin, err := boundOf(m.MinValue)
		if err != nil {
			return fmt.Errorf("%w: parameter %q min: %v", verrors.ErrInvalidMetadata, m.Name, err)
		}
		maxV, hasMax, err := boundOf(m.MaxValue)
		if err != nil {
			return fmt.Errorf("%w: parameter %q max: %v", verrors.ErrInvalidMetadata, m.Name, err)
		}
		if hasMin && hasMax && minV > maxV {
			return fmt.Errorf("%w: parameter %q min %v exceeds max %v", verrors.ErrInvalidMetadata, m.Name, minV, maxV)
		}
		if m.DefaultValue != nil {
			def, _ := toFloat(m.DefaultValue)
			if math.IsNaN(def) {
				return fmt.Errorf("%w: parameter %q default is NaN", verrors.ErrInvalidMetadata, m.Name)
			}
			if hasMin && def < minV {
				return fmt.Errorf("%w: parameter %q default %v below min %v", verrors.ErrInvalidMetadata, m.Name, def, minV)
			}
			if hasMax && def > maxV {
				return fmt.Errorf("%w: parameter %q default %v above max %v", verrors.ErrInvalidMetadata, m.Name, def, maxV)
			}
		}
	}

	if m.Type == TypeEnum {
		if len(m.Options) == 0 {
			return fmt.Errorf("%w: enum parameter %q has no options", verrors.ErrInvalidMetadata, m.Name)
		}
		if m.DefaultValue != nil && !containsOption(m.Options, m.DefaultValue) {
			return fmt.Errorf("%w: enum parameter %q default %v not in options", verrors.ErrInvalidMetadata, m.Name, m.DefaultValue)
		}
	}

	return nil
}

// CheckAll runs Check on every entry and rejects duplicate names.
func CheckAll(metadata []Metadata) error {
	seen := make(map[string]struct{}, len(metadata))
	for _, m := range metadata {
		if err := m.Check(); err != nil {
			return err
		}
		if _, dup := seen[m.Name]; dup {
			return fmt.Errorf("%w: duplicate parameter name %q", verrors.ErrInvalidMetadata, m.Name)
		}
		seen[m.Name] = struct{}{}
	}
	return nil
}

// Clone returns a copy that shares no slices with m.
func (m Metadata) Clone() Metadata {
	c := m
	if m.Options != nil {
		c.Options = append([]interface{}(nil), m.Options...)
	}
	return c
}

// CloneAll copies a metadata slice.
func CloneAll(metadata []Metadata) []Metadata {
	out := make([]Metadata, len(metadata))
	for i, m := range metadata {
		out[i] = m.Clone()
	}
	return out
}

func boundOf(v interface{}) (float64, bool, error) {
	if v == nil {
		return 0, false, nil
	}
	f, ok := toFloat(v)
	if !ok || math.IsNaN(f) {
		return 0, false, fmt.Errorf("bound %v is not numeric", v)
	}
	return f, true, nil
}

func containsOption(options []interface{}, v interface{}) bool {
	for _, o := range options {
		if fmt.Sprint(o) == fmt.Sprint(v) {
			return true
		}
	}
	return false
}

// checkType reports whether v is an acceptable Go value for t.
func checkType(t Type, v interface{}) error {
	switch t {
	case TypeInt:
		if _, ok := toInt(v); !ok {
			return fmt.Errorf("expected integer, got %T", v)
		}
	case TypeDouble:
		if _, ok := toFloat(v); !ok {
			return fmt.Errorf("expected number, got %T", v)
		}
	case TypeString, TypeFilePath, TypeEnum:
		if _, ok := v.(string); !ok {
			return fmt.Errorf("expected string, got %T", v)
		}
	case TypeBool:
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("expected bool, got %T", v)
		}
	case TypeColor:
		if _, ok := v.(color.Color); !ok {
			return fmt.Errorf("expected color, got %T", v)
		}
	case TypePoint:
		if _, ok := v.(image.Point); !ok {
			return fmt.Errorf("expected point, got %T", v)
		}
	case TypeSize:
		if _, ok := v.(Size); !ok {
			return fmt.Errorf("expected size, got %T", v)
		}
	case TypeRect:
		if _, ok := v.(image.Rectangle); !ok {
			return fmt.Errorf("expected rectangle, got %T", v)
		}
	case TypeImage:
		if _, ok := v.(image.Image); !ok {
			return fmt.Errorf("expected image, got %T", v)
		}
	case TypeList:
		switch v.(type) {
		case []interface{}, []string, []float64, []int:
		default:
			return fmt.Errorf("expected list, got %T", v)
		}
	case TypeCustom:
	}
	return nil
}
