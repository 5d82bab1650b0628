package detection

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
)

// Backend tags the implementation that produced a box or an embedding.
// Embeddings from different backends are never compared with each other.
type Backend string

const (
	BackendRemote  Backend = "remote"
	BackendGRPC    Backend = "grpc"
	BackendDlib    Backend = "dlib"
	BackendCascade Backend = "cascade"
	BackendPixel   Backend = "pixel"
	BackendNone    Backend = "none"
)

// ParseBackend validates a configured neural backend name.
func ParseBackend(s string) (Backend, error) {
	switch b := Backend(s); b {
	case BackendRemote, BackendGRPC, BackendDlib, BackendNone:
		return b, nil
	case "":
		return BackendNone, nil
	default:
		return "", fmt.Errorf("unknown detection backend %q", s)
	}
}

// Locator finds face rectangles in an image. Rectangles may extend past the image bounds.
type Locator interface {
	Locate(ctx context.Context, img image.Image) ([]image.Rectangle, error)
}

// Embedder turns a face crop into an identity vector.
type Embedder interface {
	Embed(ctx context.Context, crop image.Image) ([]float32, error)
	Backend() Backend
}

// MaskClassifier estimates the probability that a face crop is wearing a mask.
type MaskClassifier interface {
	MaskProbability(ctx context.Context, crop image.Image) (float64, error)
}

// Neural is a backend that can both locate faces and embed them.
type Neural interface {
	Locator
	Embedder
}

func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
