package pipeline

import (
	"context"
	"image"

	"facewatch/internal/detection"
)

// FaceDetector finds faces in a full image.
type FaceDetector interface {
	Detect(ctx context.Context, img image.Image) ([]detection.Face, error)
}

// EmbeddingExtractor turns a crop into a backend-tagged vector.
type EmbeddingExtractor interface {
	Extract(ctx context.Context, crop image.Image) (detection.Embedding, error)
}

// EventHandler receives published events.
type EventHandler interface {
	OnEvent(ev *Event)
}

// EventHandlerFunc adapts a function to EventHandler.
type EventHandlerFunc func(ev *Event)

// OnEvent implements EventHandler.
func (f EventHandlerFunc) OnEvent(ev *Event) { f(ev) }
