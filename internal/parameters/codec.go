package parameters

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"github.com/lucasb-eyer/go-colorful"

	verrors "vision-workbench/internal/errors"
)

// EncodeAny converts a typed parameter value into a JSON-compatible form.
//
//	color.Color      "#rrggbb"
//	image.Point      {"x", "y"}
//	Size             {"width", "height"}
//	image.Rectangle  {"x", "y", "width", "height"}
//	image.Image      base64 encoded PNG
//
// Anything else is returned unchanged and left to encoding/json.
func EncodeAny(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case image.Rectangle:
		return map[string]interface{}{
			"x":      val.Min.X,
			"y":      val.Min.Y,
			"width":  val.Dx(),
			"height": val.Dy(),
		}, nil
	case Size:
		return map[string]interface{}{"width": val.Width, "height": val.Height}, nil
	case image.Point:
		return map[string]interface{}{"x": val.X, "y": val.Y}, nil
	case image.Image:
		// Checked before color.Color: *image.Uniform satisfies both.
		return encodeImage(val)
	case color.Color:
		return encodeColor(val), nil
	default:
		return v, nil
	}
}

// EncodeValues applies EncodeAny to every entry.
func EncodeValues(values Values) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(values))
	for k, v := range values {
		enc, err := EncodeAny(v)
		if err != nil {
			return nil, fmt.Errorf("encode %q: %w", k, err)
		}
		out[k] = enc
	}
	return out, nil
}

// Coerce restores typed values from a decoded snapshot. Entries described by
// metadata are converted to the Go type of their parameter type; other entries
// are kept with JSON numbers normalized to float64.
func Coerce(metadata []Metadata, raw map[string]interface{}) (Values, error) {
	byName := make(map[string]Metadata, len(metadata))
	for _, m := range metadata {
		byName[m.Name] = m
	}

	out := make(Values, len(raw))
	for name, v := range raw {
		m, known := byName[name]
		if !known {
			out[name] = normalize(v)
			continue
		}
		typed, err := decodeAs(m.Type, v)
		if err != nil {
			return nil, fmt.Errorf("%w: parameter %q: %v", verrors.ErrInvalidParameters, name, err)
		}
		out[name] = typed
	}
	return out, nil
}

func decodeAs(t Type, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}

	switch t {
	case TypeInt:
		n, ok := toInt(v)
		if !ok {
			return nil, fmt.Errorf("expected integer, got %v", v)
		}
		return n, nil
	case TypeDouble:
		f, ok := toFloat(v)
		if !ok {
			return nil, fmt.Errorf("expected number, got %v", v)
		}
		return f, nil
	case TypeString, TypeEnum, TypeFilePath:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", v)
		}
		return s, nil
	case TypeBool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("expected bool, got %T", v)
		}
		return b, nil
	case TypeColor:
		return decodeColor(v)
	case TypePoint:
		if p, ok := v.(image.Point); ok {
			return p, nil
		}
		fields, err := intFields(v, "x", "y")
		if err != nil {
			return nil, err
		}
		return image.Pt(fields[0], fields[1]), nil
	case TypeSize:
		if s, ok := v.(Size); ok {
			return s, nil
		}
		fields, err := intFields(v, "width", "height")
		if err != nil {
			return nil, err
		}
		return Size{Width: fields[0], Height: fields[1]}, nil
	case TypeRect:
		if r, ok := v.(image.Rectangle); ok {
			return r, nil
		}
		fields, err := intFields(v, "x", "y", "width", "height")
		if err != nil {
			return nil, err
		}
		return image.Rect(fields[0], fields[1], fields[0]+fields[2], fields[1]+fields[3]), nil
	case TypeImage:
		return decodeImage(v)
	case TypeList:
		switch list := v.(type) {
		case []interface{}:
			return normalize(list), nil
		case []string, []float64, []int:
			return list, nil
		}
		return nil, fmt.Errorf("expected list, got %T", v)
	default:
		return normalize(v), nil
	}
}

// normalize replaces json.Number with float64 throughout a decoded value.
func normalize(v interface{}) interface{} {
	switch val := v.(type) {
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return val.String()
		}
		return f
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, e := range val {
			out[i] = normalize(e)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, e := range val {
			out[k] = normalize(e)
		}
		return out
	default:
		return v
	}
}

func intFields(v interface{}, names ...string) ([]int, error) {
	obj, ok := v.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("expected object with %v, got %T", names, v)
	}
	out := make([]int, len(names))
	for i, name := range names {
		n, ok := toInt(obj[name])
		if !ok {
			return nil, fmt.Errorf("field %q: expected integer, got %v", name, obj[name])
		}
		out[i] = n
	}
	return out, nil
}

func encodeColor(c color.Color) string {
	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	cf := colorful.Color{
		R: float64(n.R) / 255.0,
		G: float64(n.G) / 255.0,
		B: float64(n.B) / 255.0,
	}
	return cf.Hex()
}

func decodeColor(v interface{}) (color.Color, error) {
	switch val := v.(type) {
	case color.Color:
		return val, nil
	case string:
		cf, err := colorful.Hex(val)
		if err != nil {
			return nil, err
		}
		r, g, b := cf.RGB255()
		return color.RGBA{R: r, G: g, B: b, A: 0xff}, nil
	}
	return nil, fmt.Errorf("expected color hex string, got %T", v)
}

func encodeImage(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func decodeImage(v interface{}) (image.Image, error) {
	switch val := v.(type) {
	case image.Image:
		return val, nil
	case string:
		data, err := base64.StdEncoding.DecodeString(val)
		if err != nil {
			return nil, fmt.Errorf("image payload: %w", err)
		}
		img, err := png.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("image payload: %w", err)
		}
		return img, nil
	}
	return nil, fmt.Errorf("expected base64 PNG string, got %T", v)
}
