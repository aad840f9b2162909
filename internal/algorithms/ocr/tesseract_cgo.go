//go:build cgo

package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"
)

var psm = map[string]gosseract.PageSegMode{
	"Auto":        gosseract.PSM_AUTO,
	"SingleBlock": gosseract.PSM_SINGLE_BLOCK,
	"SingleLine":  gosseract.PSM_SINGLE_LINE,
	"SingleWord":  gosseract.PSM_SINGLE_WORD,
	"SparseText":  gosseract.PSM_SPARSE_TEXT,
}

// tesseract opens a new gosseract client per call; clients are not safe for
// concurrent use.
type tesseract struct {
	tessdata string
}

func defaultEngine() Engine { return tesseract{} }

// NewTesseract returns an engine reading training data from dir, or from
// the Tesseract default location when dir is empty.
func NewTesseract(dir string) Engine { return tesseract{tessdata: dir} }

func (t tesseract) Version() (string, error) {
	client := gosseract.NewClient()
	defer client.Close()
	v := client.Version()
	if v == "" {
		return "", fmt.Errorf("no tesseract version reported")
	}
	return v, nil
}

func (t tesseract) client(img image.Image, o Options) (*gosseract.Client, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	client := gosseract.NewClient()
	if t.tessdata != "" {
		if err := client.SetTessdataPrefix(t.tessdata); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to set tessdata path: %w", err)
		}
	}
	if err := client.SetLanguage(strings.Split(o.Language, "+")...); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set language: %w", err)
	}
	if mode, ok := psm[o.PageSegMode]; ok {
		if err := client.SetPageSegMode(mode); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to set page segmentation mode: %w", err)
		}
	}
	if o.Whitelist != "" {
		if err := client.SetWhitelist(o.Whitelist); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to set whitelist: %w", err)
		}
	}
	if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set image: %w", err)
	}
	return client, nil
}

func (t tesseract) Text(ctx context.Context, img image.Image, o Options) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	client, err := t.client(img, o)
	if err != nil {
		return "", err
	}
	defer client.Close()
	return client.Text()
}

func (t tesseract) Words(ctx context.Context, img image.Image, o Options) ([]Word, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	client, err := t.client(img, o)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("failed to get bounding boxes: %w", err)
	}
	words := make([]Word, 0, len(boxes))
	for _, b := range boxes {
		words = append(words, Word{Text: b.Word, Confidence: b.Confidence, Bounds: b.Box})
	}
	return words, nil
}
