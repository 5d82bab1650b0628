package pipeline

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	boxThickness = 3
	labelOffset  = 20
	jpegQuality  = 85
)

// ToRGBA copies img into a new RGBA image with the same bounds.
func ToRGBA(img image.Image) *image.RGBA {
	bounds := img.Bounds()
	rgba := image.NewRGBA(bounds)
	draw.Draw(rgba, bounds, img, bounds.Min, draw.Src)
	return rgba
}

// EncodeJPEG encodes an annotated frame.
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// drawBox outlines r with the given thickness, growing inward.
func drawBox(img *image.RGBA, r image.Rectangle, c color.RGBA, thickness int) {
	bounds := img.Bounds()
	for t := 0; t < thickness; t++ {
		inner := image.Rect(r.Min.X+t, r.Min.Y+t, r.Max.X-t, r.Max.Y-t)
		if inner.Empty() {
			return
		}
		edges := []image.Rectangle{
			image.Rect(inner.Min.X, inner.Min.Y, inner.Max.X, inner.Min.Y+1),
			image.Rect(inner.Min.X, inner.Max.Y-1, inner.Max.X, inner.Max.Y),
			image.Rect(inner.Min.X, inner.Min.Y, inner.Min.X+1, inner.Max.Y),
			image.Rect(inner.Max.X-1, inner.Min.Y, inner.Max.X, inner.Max.Y),
		}
		for _, e := range edges {
			draw.Draw(img, e.Intersect(bounds), image.NewUniform(c), image.Point{}, draw.Src)
		}
	}
}

// drawLabel writes text at (x, y) over a dark background.
func drawLabel(img *image.RGBA, x, y int, label string, c color.RGBA) {
	if x < 0 {
		x = 0
	}
	if y < 0 {
		y = 0
	}

	bg := image.Rect(x, y, x+len(label)*7+4, y+14).Intersect(img.Bounds())
	draw.Draw(img, bg, image.NewUniform(color.RGBA{0, 0, 0, 180}), image.Point{}, draw.Over)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x + 2), Y: fixed.I(y + 11)},
	}
	d.DrawString(label)
}

func annotateFace(img *image.RGBA, box image.Rectangle, label string, c color.RGBA) {
	drawBox(img, box, ColorBox, boxThickness)
	y := box.Min.Y - labelOffset
	if y < 0 {
		y = 0
	}
	drawLabel(img, box.Min.X, y, label, c)
}
