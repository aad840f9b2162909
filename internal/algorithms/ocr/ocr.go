// Package ocr provides a text recognition workflow node backed by Tesseract.
//
// With cgo enabled the node uses the gosseract bindings; otherwise the
// engine reports itself unavailable and the plugin fails to initialize,
// which the plugin manager records as an isolated load failure.
package ocr

import (
	"context"
	"fmt"
	"image"
	"strings"

	verrors "vision-workbench/internal/errors"
	"vision-workbench/internal/imageops"
	"vision-workbench/internal/parameters"
	"vision-workbench/internal/plugin"
)

// Options controls a single recognition run.
type Options struct {
	Language    string
	PageSegMode string
	Whitelist   string
	// MinConfidence in [0, 100]. Above zero, only words at or above it are
	// kept and joined with single spaces.
	MinConfidence float64
}

// Word is a recognized word with its Tesseract confidence.
type Word struct {
	Text       string
	Confidence float64
	Bounds     image.Rectangle
}

// Engine recognizes text in an image.
type Engine interface {
	Version() (string, error)
	Text(ctx context.Context, img image.Image, o Options) (string, error)
	Words(ctx context.Context, img image.Image, o Options) ([]Word, error)
}

// Page segmentation modes exposed as the PageSegMode parameter.
var pageSegModes = []interface{}{"Auto", "SingleBlock", "SingleLine", "SingleWord", "SparseText"}

// OCR is a workflow node with one image input and one text output.
type OCR struct {
	plugin.Base
	engine Engine
}

// New returns the node using the default engine for this build.
func New() *OCR {
	return NewWithEngine(defaultEngine())
}

func NewWithEngine(e Engine) *OCR {
	o := &OCR{engine: e, Base: plugin.Base{
		Desc: plugin.Descriptor{ID: "OCR", Name: "Text Recognition", Version: "1.0.0", Author: "vision-workbench",
			Description: "Extracts text from an image with Tesseract"},
		Params: []parameters.Metadata{
			{Name: "Language", Description: "Tesseract language code, '+' separated", Type: parameters.TypeString, DefaultValue: "eng"},
			{Name: "PageSegMode", DisplayName: "Page segmentation", Type: parameters.TypeEnum, DefaultValue: "Auto", Options: pageSegModes},
			{Name: "Whitelist", Description: "Restrict output to these characters", Type: parameters.TypeString, DefaultValue: ""},
			{Name: "MinConfidence", DisplayName: "Minimum confidence", Type: parameters.TypeDouble, DefaultValue: 0.0, MinValue: 0.0, MaxValue: 100.0},
			{Name: "Binarize", Description: "Convert to grayscale before recognition", Type: parameters.TypeBool, DefaultValue: true, Category: "Preprocessing"},
		},
	}}
	o.OnInitialize = func() error {
		if _, err := o.engine.Version(); err != nil {
			return verrors.New(o.Desc.ID, "Initialize", verrors.ErrMissingDependency, "tesseract: %v", err)
		}
		return nil
	}
	return o
}

func (o *OCR) InputPorts() []plugin.Port {
	return []plugin.Port{{ID: "input", Name: "Image", DataType: plugin.DataImage, Required: true}}
}

func (o *OCR) OutputPorts() []plugin.Port {
	return []plugin.Port{{ID: "output", Name: "Text", DataType: plugin.DataText}}
}

func (o *OCR) ExecuteNode(ctx context.Context, inputs []any, values parameters.Values) (any, error) {
	if err := o.RequireRunning(o.Desc.ID, "ExecuteNode"); err != nil {
		return nil, err
	}
	v := parameters.Defaults(o.Params).Merge(values)
	if err := parameters.Validate(o.Params, v).Err(); err != nil {
		return nil, verrors.Wrap(err, o.Desc.ID, "ExecuteNode")
	}
	if strings.TrimSpace(v.String("Language")) == "" {
		return nil, verrors.New(o.Desc.ID, "ExecuteNode", verrors.ErrInvalidParameters, "Language must not be empty")
	}

	var img image.Image
	if len(inputs) > 0 {
		img, _ = inputs[0].(image.Image)
	}
	if img == nil {
		return nil, verrors.New(o.Desc.ID, "ExecuteNode", verrors.ErrInvalidParameters, "input must be an image")
	}
	if v.Bool("Binarize") {
		img = imageops.ToGray(img)
	}

	opts := Options{
		Language:      v.String("Language"),
		PageSegMode:   v.String("PageSegMode"),
		Whitelist:     v.String("Whitelist"),
		MinConfidence: v.Float("MinConfidence"),
	}
	if opts.MinConfidence <= 0 {
		text, err := o.engine.Text(ctx, img, opts)
		if err != nil {
			return nil, fmt.Errorf("%s: recognition failed: %w", o.Desc.ID, err)
		}
		return strings.TrimSpace(text), nil
	}

	words, err := o.engine.Words(ctx, img, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: recognition failed: %w", o.Desc.ID, err)
	}
	return JoinWords(words, opts.MinConfidence), nil
}

// JoinWords joins the non-empty words whose confidence is at least threshold.
func JoinWords(words []Word, threshold float64) string {
	kept := make([]string, 0, len(words))
	for _, w := range words {
		if t := strings.TrimSpace(w.Text); t != "" && w.Confidence >= threshold {
			kept = append(kept, t)
		}
	}
	return strings.Join(kept, " ")
}
