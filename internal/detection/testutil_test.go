package detection

import (
	"context"
	"errors"
	"image"
	"image/color"
)

// solidImage returns a w x h RGBA image filled with c.
func solidImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

type fakeLocator struct {
	boxes []image.Rectangle
	err   error
	calls int
}

func (f *fakeLocator) Locate(context.Context, image.Image) ([]image.Rectangle, error) {
	f.calls++
	return f.boxes, f.err
}

type fakeEmbedder struct {
	vec     []float32
	err     error
	backend Backend
}

func (f *fakeEmbedder) Embed(context.Context, image.Image) ([]float32, error) {
	return f.vec, f.err
}

func (f *fakeEmbedder) Backend() Backend { return f.backend }

type fakeMask struct {
	p   float64
	err error
}

func (f fakeMask) MaskProbability(context.Context, image.Image) (float64, error) {
	return f.p, f.err
}

func readyLazy[T any](v T) *Lazy[T] {
	return NewLazy("fake", func() (T, error) { return v, nil })
}

func failedLazy[T any]() *Lazy[T] {
	return NewLazy("fake", func() (T, error) {
		var zero T
		return zero, errors.New("not installed")
	})
}
