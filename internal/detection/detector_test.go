package detection

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"
)

func TestClampBox(t *testing.T) {
	bounds := image.Rect(0, 0, 100, 80)
	tests := []struct {
		name string
		in   image.Rectangle
		want image.Rectangle
		ok   bool
	}{
		{"inside", image.Rect(10, 10, 50, 50), image.Rect(10, 10, 50, 50), true},
		{"overflow right bottom", image.Rect(90, 70, 120, 100), image.Rect(90, 70, 100, 80), true},
		{"negative origin", image.Rect(-10, -5, 20, 20), image.Rect(0, 0, 20, 20), true},
		{"zero width", image.Rect(30, 10, 30, 40), image.Rectangle{}, false},
		{"outside", image.Rect(200, 200, 250, 250), image.Rectangle{}, false},
		{"inverted is canonicalized", image.Rect(50, 50, 10, 10), image.Rect(10, 10, 50, 50), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ClampBox(tt.in, bounds)
			if ok != tt.ok || got != tt.want {
				t.Errorf("ClampBox(%v) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestDetectDropsEmptyBoxesAndCropsOriginal(t *testing.T) {
	img := solidImage(100, 80, color.RGBA{R: 200, G: 10, B: 10, A: 255})
	neural := &fakeLocator{boxes: []image.Rectangle{
		image.Rect(90, 70, 130, 110),
		image.Rect(40, 40, 40, 60),
		image.Rect(10, 10, 30, 40),
	}}
	d := NewFaceDetector(readyLazy[Locator](neural), nil, nil)

	faces, err := d.Detect(context.Background(), img)
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if len(faces) != 2 {
		t.Fatalf("len(faces) = %d, want 2", len(faces))
	}
	if faces[0].Box != image.Rect(90, 70, 100, 80) {
		t.Errorf("first box = %v, want clamped 90,70-100,80", faces[0].Box)
	}
	if got := faces[1].Crop.Bounds(); got.Dx() != 20 || got.Dy() != 30 {
		t.Errorf("crop size = %v, want 20x30", got)
	}
	if c := faces[1].Crop.RGBAAt(0, 0); c.R != 200 {
		t.Errorf("crop pixel = %v, want source colour", c)
	}
	for _, f := range faces {
		if f.HasMask {
			t.Error("HasMask = true without classifier")
		}
	}
}

func TestDetectFallback(t *testing.T) {
	img := solidImage(50, 50, color.RGBA{A: 255})
	cascade := &fakeLocator{boxes: []image.Rectangle{image.Rect(5, 5, 25, 25)}}

	tests := []struct {
		name   string
		neural *Lazy[Locator]
		want   Backend
	}{
		{"neural failed to load", failedLazy[Locator](), BackendCascade},
		{"neural errors at runtime", readyLazy[Locator](&fakeLocator{err: errors.New("timeout")}), BackendCascade},
		{"no neural configured", nil, BackendCascade},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewFaceDetector(tt.neural, cascade, nil)
			faces, err := d.Detect(context.Background(), img)
			if err != nil {
				t.Fatalf("Detect() error = %v", err)
			}
			if len(faces) != 1 || faces[0].Backend != tt.want {
				t.Errorf("faces = %+v, want one %s face", faces, tt.want)
			}
		})
	}
}

func TestDetectTotalFailure(t *testing.T) {
	img := solidImage(10, 10, color.RGBA{A: 255})
	d := NewFaceDetector(failedLazy[Locator](), &fakeLocator{err: errors.New("cascade missing")}, nil)
	if _, err := d.Detect(context.Background(), img); err == nil {
		t.Error("Detect() error = nil, want failure when every locator fails")
	}

	d = NewFaceDetector(failedLazy[Locator](), nil, nil)
	if _, err := d.Detect(context.Background(), img); !errors.Is(err, ErrBackendUnavailable) {
		t.Errorf("Detect() error = %v, want ErrBackendUnavailable", err)
	}
}

func TestMaskCheck(t *testing.T) {
	crop := solidImage(10, 10, color.RGBA{A: 255})
	tests := []struct {
		name string
		m    *MaskCheck
		want bool
	}{
		{"masked", NewMaskCheck(readyLazy[MaskClassifier](fakeMask{p: 0.9})), true},
		{"boundary is not masked", NewMaskCheck(readyLazy[MaskClassifier](fakeMask{p: 0.5})), false},
		{"inference error", NewMaskCheck(readyLazy[MaskClassifier](fakeMask{err: errors.New("bad")})), false},
		{"load failure", NewMaskCheck(failedLazy[MaskClassifier]()), false},
		{"nil classifier", NewMaskCheck(nil), false},
		{"nil check", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.m.HasMask(context.Background(), crop); got != tt.want {
				t.Errorf("HasMask() = %v, want %v", got, tt.want)
			}
		})
	}
}
