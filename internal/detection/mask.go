package detection

import (
	"context"
	"image"
	"log"
)

// MaskThreshold is the probability above which a face counts as masked.
const MaskThreshold = 0.5

// MaskCheck wraps an optional lazily loaded mask classifier.
// Every failure path answers false.
type MaskCheck struct {
	classifier *Lazy[MaskClassifier]
}

// NewMaskCheck returns a MaskCheck. A nil classifier always reports no mask.
func NewMaskCheck(classifier *Lazy[MaskClassifier]) *MaskCheck {
	return &MaskCheck{classifier: classifier}
}

// HasMask reports whether crop shows a masked face.
func (m *MaskCheck) HasMask(ctx context.Context, crop image.Image) bool {
	if m == nil || m.classifier == nil || crop == nil || crop.Bounds().Empty() {
		return false
	}
	c, err := m.classifier.Get()
	if err != nil {
		return false
	}
	p, err := c.MaskProbability(ctx, crop)
	if err != nil {
		log.Printf("[Mask] classification failed: %v", err)
		return false
	}
	return p > MaskThreshold
}

// State reports the classifier load state.
func (m *MaskCheck) State() State {
	if m == nil || m.classifier == nil {
		return Failed
	}
	return m.classifier.State()
}
