package parameters

import (
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	verrors "vision-workbench/internal/errors"
)

func thresholdMeta() Metadata {
	return Metadata{
		Name:         "Threshold",
		DisplayName:  "Threshold",
		Type:         TypeInt,
		DefaultValue: 50,
		MinValue:     0,
		MaxValue:     100,
		Required:     true,
	}
}

func TestMetadata_Check(t *testing.T) {
	tests := []struct {
		name    string
		meta    Metadata
		wantErr bool
	}{
		{"valid int", thresholdMeta(), false},
		{"empty name", Metadata{Type: TypeInt}, true},
		{"min above max", Metadata{Name: "a", Type: TypeInt, MinValue: 10, MaxValue: 1}, true},
		{"default below min", Metadata{Name: "a", Type: TypeDouble, DefaultValue: -0.5, MinValue: 0.0}, true},
		{"default above max", Metadata{Name: "a", Type: TypeInt, DefaultValue: 11, MaxValue: 10}, true},
		{"bounds on string", Metadata{Name: "a", Type: TypeString, MinValue: 1}, true},
		{"default wrong type", Metadata{Name: "a", Type: TypeBool, DefaultValue: "yes"}, true},
		{"enum without options", Metadata{Name: "a", Type: TypeEnum}, true},
		{"enum default outside options", Metadata{Name: "a", Type: TypeEnum, Options: []interface{}{"x"}, DefaultValue: "y"}, true},
		{"enum ok", Metadata{Name: "a", Type: TypeEnum, Options: []interface{}{"x", "y"}, DefaultValue: "y"}, false},
		{"unknown type", Metadata{Name: "a", Type: Type(42)}, true},
		{"NaN default", Metadata{Name: "a", Type: TypeDouble, DefaultValue: math.NaN(), MinValue: 0.0, MaxValue: 1.0}, true},
		{"NaN bound", Metadata{Name: "a", Type: TypeDouble, MaxValue: math.NaN()}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.meta.Check()
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, verrors.ErrInvalidMetadata)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCheckAll_RejectsDuplicateNames(t *testing.T) {
	err := CheckAll([]Metadata{thresholdMeta(), thresholdMeta()})
	assert.ErrorIs(t, err, verrors.ErrInvalidMetadata)
}

func TestType_TextRoundTrip(t *testing.T) {
	for _, typ := range AllTypes() {
		text, err := typ.MarshalText()
		require.NoError(t, err)

		var parsed Type
		require.NoError(t, parsed.UnmarshalText(text))
		assert.Equal(t, typ, parsed)
	}

	_, err := ParseType("Matrix")
	assert.ErrorIs(t, err, verrors.ErrInvalidMetadata)
}

func TestValidate_Boundaries(t *testing.T) {
	meta := []Metadata{thresholdMeta()}

	for _, v := range []int{0, 100, 50} {
		res := Validate(meta, Values{"Threshold": v})
		assert.True(t, res.Valid(), "value %d should be accepted: %v", v, res.Errors)
	}
	for _, v := range []int{-1, 101} {
		res := Validate(meta, Values{"Threshold": v})
		assert.False(t, res.Valid(), "value %d should be rejected", v)
		assert.ErrorIs(t, res.Err(), verrors.ErrInvalidParameters)
	}

	sigma := []Metadata{{Name: "Sigma", Type: TypeDouble, DefaultValue: 1.0, MinValue: 0.0, MaxValue: 100.0}}
	res := Validate(sigma, Values{"Sigma": math.NaN()})
	assert.False(t, res.Valid())
	assert.ErrorIs(t, res.Err(), verrors.ErrInvalidParameters)
	assert.True(t, Validate(sigma, Values{"Sigma": 100.0}).Valid())
}

func TestValidate_RequiredTypeAndOptions(t *testing.T) {
	meta := []Metadata{
		thresholdMeta(),
		{Name: "Mode", Type: TypeEnum, Options: []interface{}{"fast", "accurate"}, DefaultValue: "fast"},
		{Name: "Label", Type: TypeString},
	}

	res := Validate(meta, Values{"Mode": "slow", "Label": 3, "Extra": true})
	assert.False(t, res.Valid())
	assert.Len(t, res.Errors, 3, "missing Threshold, bad enum, bad type: %v", res.Errors)
	assert.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "Extra")

	res = Validate(meta, Values{"Threshold": 10})
	assert.True(t, res.Valid())
	assert.NoError(t, res.Err())
}

func TestValues_DefaultsAndMerge(t *testing.T) {
	meta := []Metadata{thresholdMeta(), {Name: "Invert", Type: TypeBool}}

	defaults := Defaults(meta)
	assert.Equal(t, Values{"Threshold": 50}, defaults)

	merged := defaults.Merge(Values{"Threshold": 70, "Invert": true})
	assert.Equal(t, 70, merged.Int("Threshold"))
	assert.True(t, merged.Bool("Invert"))
	assert.Equal(t, 50, defaults.Int("Threshold"), "merge must not mutate the receiver")
	assert.Equal(t, []string{"Invert", "Threshold"}, merged.Keys())

	v, ok := Get[bool](merged, "Invert")
	assert.True(t, ok)
	assert.True(t, v)
}

func TestRepository_InMemory(t *testing.T) {
	repo := NewRepository(t.TempDir(), nil)

	original := Values{"Threshold": 10}
	repo.Save("node-1", original)
	original["Threshold"] = 99

	got, ok := repo.Load("node-1")
	require.True(t, ok)
	assert.Equal(t, 10, got.Int("Threshold"))

	repo.Save("node-0", Values{})
	assert.Equal(t, []string{"node-0", "node-1"}, repo.Keys())

	repo.Delete("node-0")
	_, ok = repo.Load("node-0")
	assert.False(t, ok)

	repo.Clear()
	assert.Empty(t, repo.Keys())
}

func TestRepository_MissingSnapshotIsEmpty(t *testing.T) {
	repo := NewRepository(t.TempDir(), nil)

	raw, err := repo.LoadSnapshot("never-saved")
	require.NoError(t, err)
	assert.Empty(t, raw)
	assert.NotNil(t, raw)
}

func TestRepository_RejectsPathNames(t *testing.T) {
	repo := NewRepository(t.TempDir(), nil)

	for _, name := range []string{"", "..", "a/b", `a\b`} {
		assert.ErrorIs(t, repo.SaveSnapshot(name, Values{}), verrors.ErrInvalidParameters, name)
	}
}

func TestRepository_SnapshotLifecycle(t *testing.T) {
	repo := NewRepository(t.TempDir(), nil)
	meta := []Metadata{thresholdMeta()}

	require.NoError(t, repo.SaveSnapshot("b", Values{"Threshold": 7}))
	require.NoError(t, repo.SaveSnapshot("a", Values{"Threshold": 8}))

	names, err := repo.Snapshots()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)

	restored, err := repo.Restore("b", meta)
	require.NoError(t, err)
	assert.Equal(t, Values{"Threshold": 7}, restored)

	require.NoError(t, repo.DeleteSnapshot("b"))
	require.NoError(t, repo.DeleteSnapshot("b"))
	names, err = repo.Snapshots()
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, names)
}

func TestCoerce_RejectsWrongShape(t *testing.T) {
	meta := []Metadata{{Name: "Origin", Type: TypePoint}}

	_, err := Coerce(meta, map[string]interface{}{"Origin": "3,4"})
	assert.ErrorIs(t, err, verrors.ErrInvalidParameters)
}

func TestEncodeAny_RectangleIsNotAnImage(t *testing.T) {
	enc, err := EncodeAny(image.Rect(1, 2, 11, 22))
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"x": 1, "y": 2, "width": 10, "height": 20}, enc)

	enc, err = EncodeAny(color.RGBA{R: 0x12, G: 0xab, B: 0x00, A: 0xff})
	require.NoError(t, err)
	assert.Equal(t, "#12ab00", enc)
}

// drawValue produces a value of the Go type a parameter of type typ holds.
func drawValue(t *rapid.T, typ Type) interface{} {
	switch typ {
	case TypeInt:
		return rapid.IntRange(-1_000_000, 1_000_000).Draw(t, "int")
	case TypeDouble:
		return rapid.Float64Range(-1e6, 1e6).Draw(t, "double")
	case TypeString, TypeFilePath:
		return rapid.StringMatching(`[a-zA-Z0-9 _./-]{0,24}`).Draw(t, "string")
	case TypeEnum:
		return rapid.SampledFrom([]string{"nearest", "linear", "lanczos"}).Draw(t, "enum")
	case TypeBool:
		return rapid.Bool().Draw(t, "bool")
	case TypeColor:
		return color.RGBA{
			R: rapid.Uint8().Draw(t, "r"),
			G: rapid.Uint8().Draw(t, "g"),
			B: rapid.Uint8().Draw(t, "b"),
			A: 0xff,
		}
	case TypePoint:
		return image.Pt(rapid.IntRange(-5000, 5000).Draw(t, "x"), rapid.IntRange(-5000, 5000).Draw(t, "y"))
	case TypeSize:
		return Size{Width: rapid.IntRange(0, 8192).Draw(t, "w"), Height: rapid.IntRange(0, 8192).Draw(t, "h")}
	case TypeRect:
		x := rapid.IntRange(-500, 500).Draw(t, "rx")
		y := rapid.IntRange(-500, 500).Draw(t, "ry")
		w := rapid.IntRange(0, 500).Draw(t, "rw")
		h := rapid.IntRange(0, 500).Draw(t, "rh")
		return image.Rect(x, y, x+w, y+h)
	case TypeImage:
		w := rapid.IntRange(1, 4).Draw(t, "iw")
		h := rapid.IntRange(1, 4).Draw(t, "ih")
		img := image.NewRGBA(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				img.SetRGBA(x, y, color.RGBA{
					R: rapid.Uint8().Draw(t, "pr"),
					G: rapid.Uint8().Draw(t, "pg"),
					B: rapid.Uint8().Draw(t, "pb"),
					A: 0xff,
				})
			}
		}
		return img
	case TypeList:
		n := rapid.IntRange(0, 5).Draw(t, "len")
		list := make([]interface{}, n)
		for i := range list {
			if rapid.Bool().Draw(t, "numeric") {
				list[i] = rapid.Float64Range(-100, 100).Draw(t, "elem")
			} else {
				list[i] = rapid.StringMatching(`[a-z]{1,8}`).Draw(t, "elem")
			}
		}
		return list
	default:
		return map[string]interface{}{
			"gain":  rapid.Float64Range(0, 10).Draw(t, "gain"),
			"label": rapid.StringMatching(`[a-z]{0,8}`).Draw(t, "label"),
		}
	}
}

func assertSameImage(t assert.TestingT, want, got image.Image) {
	if !assert.Equal(t, want.Bounds(), got.Bounds()) {
		return
	}
	b := want.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			assert.Equal(t,
				color.NRGBAModel.Convert(want.At(x, y)),
				color.NRGBAModel.Convert(got.At(x, y)),
				"pixel (%d,%d)", x, y)
		}
	}
}

func TestSnapshot_PropertyBased_RoundTripEveryType(t *testing.T) {
	repo := NewRepository(t.TempDir(), nil)

	rapid.Check(t, func(t *rapid.T) {
		typ := rapid.SampledFrom(AllTypes()).Draw(t, "type")
		meta := []Metadata{{Name: "P", Type: typ}}
		value := drawValue(t, typ)

		require.NoError(t, repo.SaveSnapshot("roundtrip", Values{"P": value}))
		restored, err := repo.Restore("roundtrip", meta)
		require.NoError(t, err)

		if typ == TypeImage {
			assertSameImage(t, value.(image.Image), restored.Image("P"))
			return
		}
		assert.Equal(t, value, restored["P"], "type %s", typ)
	})
}
