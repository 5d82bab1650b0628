package detection

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math"

	xdraw "golang.org/x/image/draw"
)

// PixelSize is the side of the square the pixel embedder resizes crops to.
const PixelSize = 100

// PixelEmbedder is the deterministic fallback embedder: a bicubic resize to
// 100x100, 8-bit luma, flattened and scaled to unit length.
type PixelEmbedder struct{}

// Backend implements Embedder.
func (PixelEmbedder) Backend() Backend { return BackendPixel }

// Embed implements Embedder.
func (PixelEmbedder) Embed(_ context.Context, crop image.Image) ([]float32, error) {
	if crop == nil || crop.Bounds().Empty() {
		return nil, errors.New("empty crop")
	}

	dst := image.NewRGBA(image.Rect(0, 0, PixelSize, PixelSize))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), crop, crop.Bounds(), xdraw.Src, nil)

	vec := make([]float32, PixelSize*PixelSize)
	var sum float64
	for y := 0; y < PixelSize; y++ {
		for x := 0; x < PixelSize; x++ {
			c := dst.RGBAAt(x, y)
			l := luma(c)
			vec[y*PixelSize+x] = float32(l)
			sum += float64(l) * float64(l)
		}
	}

	norm := math.Sqrt(sum) + 1e-10
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, nil
}

// luma uses ITU-R 601-2 weights with integer rounding down.
func luma(c color.RGBA) uint8 {
	return uint8((uint32(c.R)*299 + uint32(c.G)*587 + uint32(c.B)*114) / 1000)
}
