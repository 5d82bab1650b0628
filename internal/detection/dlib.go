//go:build dlib

package detection

import (
	"context"
	"fmt"
	"image"
	"sync"

	face "github.com/Kagami/go-face"
)

// DlibRecognizer runs dlib face detection and 128-d descriptors in process.
// The models directory must contain shape_predictor_5_face_landmarks.dat,
// dlib_face_recognition_resnet_model_v1.dat and mmod_human_face_detector.dat.
type DlibRecognizer struct {
	mu  sync.Mutex
	rec *face.Recognizer
}

// NewDlibRecognizer loads the dlib models from modelsDir.
func NewDlibRecognizer(modelsDir string) (*DlibRecognizer, error) {
	rec, err := face.NewRecognizer(modelsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load dlib models from %s: %w", modelsDir, err)
	}
	return &DlibRecognizer{rec: rec}, nil
}

// Backend implements Embedder.
func (d *DlibRecognizer) Backend() Backend { return BackendDlib }

// Locate implements Locator.
func (d *DlibRecognizer) Locate(_ context.Context, img image.Image) ([]image.Rectangle, error) {
	data, err := encodeJPEG(img)
	if err != nil {
		return nil, err
	}

	// go-face recognizers are not safe for concurrent use.
	d.mu.Lock()
	faces, err := d.rec.Recognize(data)
	d.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("dlib detection failed: %w", err)
	}

	boxes := make([]image.Rectangle, len(faces))
	for i, f := range faces {
		boxes[i] = f.Rectangle
	}
	return boxes, nil
}

// Embed implements Embedder. The crop must contain a face dlib can find.
func (d *DlibRecognizer) Embed(_ context.Context, crop image.Image) ([]float32, error) {
	data, err := encodeJPEG(crop)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	f, err := d.rec.RecognizeSingle(data)
	d.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("dlib embedding failed: %w", err)
	}
	if f == nil {
		return nil, fmt.Errorf("dlib found no face in crop")
	}

	vec := make([]float32, len(f.Descriptor))
	copy(vec, f.Descriptor[:])
	return vec, nil
}

// Close releases the dlib models.
func (d *DlibRecognizer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.rec != nil {
		d.rec.Close()
		d.rec = nil
	}
	return nil
}
