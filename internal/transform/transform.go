// Package transform resizes uploaded images and stamps them with a watermark.
package transform

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"
	_ "golang.org/x/image/webp"

	"mediaflow/internal/models"
)

// watermarkOpacity is applied when the mark is blended onto the resized image.
const watermarkOpacity = 0.6

// margin between the watermark and the bottom-right edges, in pixels.
const margin = 8

var ErrInvalidWidth = errors.New("width must be positive")

// Transformer turns raw image bytes into a resized, watermarked JPEG.
type Transformer struct {
	watermark image.Image
	quality   int
	log       zerolog.Logger
}

// New loads the watermark described by cfg. A file path takes precedence over
// text; with neither the output is left unmarked.
func New(cfg models.WatermarkConfig, log zerolog.Logger) (*Transformer, error) {
	const op = "transform.New"

	t := &Transformer{
		quality: cfg.JPEGQuality,
		log:     log.With().Str("component", "transform").Logger(),
	}

	switch {
	case cfg.Path != "":
		mark, err := imaging.Open(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		t.watermark = mark
	case cfg.Text != "":
		mark, err := renderText(cfg.Text, cfg.FontSize)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		t.watermark = mark
	default:
		t.log.Warn().Msg("no watermark configured")
	}

	if t.quality == 0 {
		t.quality = 85
	}
	return t, nil
}

// Transform decodes data, resizes it to width preserving the aspect ratio,
// overlays the watermark at the bottom-right corner and encodes JPEG.
func (t *Transformer) Transform(data []byte, width int) ([]byte, error) {
	const op = "transform.Transform"

	if width <= 0 {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidWidth)
	}

	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%s: decode: %w", op, err)
	}

	dst := imaging.Resize(src, width, 0, imaging.Lanczos)
	if t.watermark != nil {
		dst = t.stamp(dst)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, dst, imaging.JPEG, imaging.JPEGQuality(t.quality)); err != nil {
		return nil, fmt.Errorf("%s: encode: %w", op, err)
	}
	return buf.Bytes(), nil
}

func (t *Transformer) stamp(dst *image.NRGBA) *image.NRGBA {
	bounds := dst.Bounds()
	mark := t.watermark

	// Shrink the mark when it would not fit inside the image with its margin.
	maxW, maxH := bounds.Dx()-2*margin, bounds.Dy()-2*margin
	if maxW <= 0 || maxH <= 0 {
		return dst
	}
	mb := mark.Bounds()
	if mb.Dx() > maxW || mb.Dy() > maxH {
		mark = imaging.Fit(mark, maxW, maxH, imaging.Lanczos)
		mb = mark.Bounds()
	}

	pos := image.Pt(bounds.Max.X-mb.Dx()-margin, bounds.Max.Y-mb.Dy()-margin)
	return imaging.Overlay(dst, mark, pos, watermarkOpacity)
}
