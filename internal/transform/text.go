package transform

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

const textPadding = 4

// renderText draws text in white on a translucent dark plate.
func renderText(text string, size float64) (image.Image, error) {
	f, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		size = 24
	}

	face := truetype.NewFace(f, &truetype.Options{Size: size, DPI: 72})
	defer face.Close()

	metrics := face.Metrics()
	w := font.MeasureString(face, text).Ceil() + 2*textPadding
	h := (metrics.Ascent + metrics.Descent).Ceil() + 2*textPadding

	rgba := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(rgba, rgba.Bounds(), image.NewUniform(color.RGBA{A: 96}), image.Point{}, draw.Src)

	c := freetype.NewContext()
	c.SetDPI(72)
	c.SetFont(f)
	c.SetFontSize(size)
	c.SetClip(rgba.Bounds())
	c.SetDst(rgba)
	c.SetSrc(image.White)
	c.SetHinting(font.HintingFull)

	pt := freetype.Pt(textPadding, textPadding+metrics.Ascent.Ceil())
	if _, err := c.DrawString(text, pt); err != nil {
		return nil, err
	}
	return rgba, nil
}
