package detection

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"log"
)

// Face is one accepted detection: a clamped box, the pixels under it and its mask flag.
type Face struct {
	Box     image.Rectangle
	Crop    *image.RGBA
	HasMask bool
	Backend Backend
}

// FaceDetector locates faces with a neural backend when one is available
// and falls back to a classical locator otherwise.
type FaceDetector struct {
	neural   *Lazy[Locator]
	fallback Locator
	mask     *MaskCheck
}

// NewFaceDetector builds a detector. Either locator may be nil.
func NewFaceDetector(neural *Lazy[Locator], fallback Locator, mask *MaskCheck) *FaceDetector {
	return &FaceDetector{neural: neural, fallback: fallback, mask: mask}
}

// Detect returns the faces in img. An error means no locator could run.
func (d *FaceDetector) Detect(ctx context.Context, img image.Image) ([]Face, error) {
	if img == nil {
		return nil, errors.New("nil image")
	}

	boxes, backend, err := d.locate(ctx, img)
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	faces := make([]Face, 0, len(boxes))
	for _, b := range boxes {
		box, ok := ClampBox(b, bounds)
		if !ok {
			continue
		}
		crop := CropImage(img, box)
		faces = append(faces, Face{
			Box:     box,
			Crop:    crop,
			HasMask: d.mask.HasMask(ctx, crop),
			Backend: backend,
		})
	}
	return faces, nil
}

func (d *FaceDetector) locate(ctx context.Context, img image.Image) ([]image.Rectangle, Backend, error) {
	var neuralErr error
	if d.neural != nil {
		loc, err := d.neural.Get()
		if err == nil {
			boxes, lerr := loc.Locate(ctx, img)
			if lerr == nil {
				return boxes, backendOf(loc), nil
			}
			log.Printf("[FaceDetector] %s locate failed, using fallback: %v", d.neural.Name(), lerr)
			err = lerr
		}
		neuralErr = err
	}

	if d.fallback == nil {
		if neuralErr == nil {
			neuralErr = ErrBackendUnavailable
		}
		return nil, "", fmt.Errorf("no face locator available: %w", neuralErr)
	}
	boxes, err := d.fallback.Locate(ctx, img)
	if err != nil {
		return nil, "", fmt.Errorf("fallback locate failed: %w", err)
	}
	return boxes, BackendCascade, nil
}

// State reports the neural locator load state.
func (d *FaceDetector) State() State {
	if d.neural == nil {
		return Failed
	}
	return d.neural.State()
}

// ClampBox intersects b with bounds and reports whether any area remains.
func ClampBox(b, bounds image.Rectangle) (image.Rectangle, bool) {
	c := b.Canon().Intersect(bounds)
	if c.Dx() <= 0 || c.Dy() <= 0 {
		return image.Rectangle{}, false
	}
	return c, true
}

// CropImage copies the pixels of img under box into a new RGBA anchored at the origin.
func CropImage(img image.Image, box image.Rectangle) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, box.Dx(), box.Dy()))
	draw.Draw(dst, dst.Bounds(), img, box.Min, draw.Src)
	return dst
}

func backendOf(v any) Backend {
	if e, ok := v.(Embedder); ok {
		return e.Backend()
	}
	return BackendNone
}
