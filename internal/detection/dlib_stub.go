//go:build !dlib

package detection

import (
	"context"
	"fmt"
	"image"
)

// DlibRecognizer is unavailable in builds without the dlib tag.
type DlibRecognizer struct{}

// NewDlibRecognizer always fails; rebuild with -tags=dlib and the dlib
// libraries installed to use the in-process backend.
func NewDlibRecognizer(modelsDir string) (*DlibRecognizer, error) {
	return nil, fmt.Errorf("%w: dlib support not compiled in (build with -tags=dlib)", ErrBackendUnavailable)
}

func (d *DlibRecognizer) Backend() Backend { return BackendDlib }

func (d *DlibRecognizer) Locate(context.Context, image.Image) ([]image.Rectangle, error) {
	return nil, ErrBackendUnavailable
}

func (d *DlibRecognizer) Embed(context.Context, image.Image) ([]float32, error) {
	return nil, ErrBackendUnavailable
}

func (d *DlibRecognizer) Close() error { return nil }
