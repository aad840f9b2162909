package parameters

import (
	"encoding/json"
	"image"
	"image/color"
	"math"
	"sort"
)

// Values maps parameter names to typed values (the algorithm parameters of a
// single plugin or node invocation).
type Values map[string]interface{}

// Defaults builds Values from the DefaultValue of every metadata entry that
// declares one.
func Defaults(metadata []Metadata) Values {
	values := make(Values, len(metadata))
	for _, m := range metadata {
		if m.DefaultValue != nil {
			values[m.Name] = m.DefaultValue
		}
	}
	return values
}

// Clone returns a shallow copy of v.
func (v Values) Clone() Values {
	out := make(Values, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// Merge returns a copy of v with every entry of overrides applied on top.
func (v Values) Merge(overrides Values) Values {
	out := v.Clone()
	for k, val := range overrides {
		out[k] = val
	}
	return out
}

// Keys returns the parameter names in sorted order.
func (v Values) Keys() []string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (v Values) Int(name string) int {
	n, _ := toInt(v[name])
	return n
}

func (v Values) Float(name string) float64 {
	f, _ := toFloat(v[name])
	return f
}

func (v Values) String(name string) string {
	s, _ := v[name].(string)
	return s
}

func (v Values) Bool(name string) bool {
	b, _ := v[name].(bool)
	return b
}

func (v Values) Color(name string) color.Color {
	c, _ := v[name].(color.Color)
	return c
}

func (v Values) Point(name string) image.Point {
	p, _ := v[name].(image.Point)
	return p
}

func (v Values) Size(name string) Size {
	s, _ := v[name].(Size)
	return s
}

func (v Values) Rect(name string) image.Rectangle {
	r, _ := v[name].(image.Rectangle)
	return r
}

func (v Values) Image(name string) image.Image {
	img, _ := v[name].(image.Image)
	return img
}

// Get returns the value stored under name when it has type T.
func Get[T any](v Values, name string) (T, bool) {
	val, ok := v[name].(T)
	return val, ok
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint:
		return int(n), true
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		return int(n), true
	case float32:
		if float32(math.Trunc(float64(n))) == n {
			return int(n), true
		}
	case float64:
		if math.Trunc(n) == n && !math.IsInf(n, 0) {
			return int(n), true
		}
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), true
		}
		if f, err := n.Float64(); err == nil && math.Trunc(f) == f {
			return int(f), true
		}
	}
	return 0, false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	if i, ok := toInt(v); ok {
		return float64(i), true
	}
	return 0, false
}
