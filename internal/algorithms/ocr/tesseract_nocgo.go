//go:build !cgo

package ocr

import (
	"context"
	"errors"
	"image"
)

var errNoCgo = errors.New("built without cgo")

type unavailable struct{}

func defaultEngine() Engine { return unavailable{} }

// NewTesseract returns an engine that always fails: the Tesseract bindings
// need cgo.
func NewTesseract(string) Engine { return unavailable{} }

func (unavailable) Version() (string, error) { return "", errNoCgo }

func (unavailable) Text(context.Context, image.Image, Options) (string, error) {
	return "", errNoCgo
}

func (unavailable) Words(context.Context, image.Image, Options) ([]Word, error) {
	return nil, errNoCgo
}
