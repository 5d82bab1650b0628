package detection

import (
	"context"
	"errors"
	"image"
	"log"

	"facewatch/internal/matcher"
)

// Embedding is a face vector tagged with the backend that produced it.
type Embedding struct {
	Vector  []float32
	Backend Backend
}

// Extractor produces embeddings with the neural embedder when it is loaded
// and with the pixel embedder otherwise or when a neural call fails.
type Extractor struct {
	neural   *Lazy[Embedder]
	fallback Embedder
}

// NewExtractor builds an extractor. A nil fallback uses PixelEmbedder.
func NewExtractor(neural *Lazy[Embedder], fallback Embedder) *Extractor {
	if fallback == nil {
		fallback = PixelEmbedder{}
	}
	return &Extractor{neural: neural, fallback: fallback}
}

// Extract embeds crop. Vectors are returned unit length; a zero vector is
// returned unchanged and can never match.
func (e *Extractor) Extract(ctx context.Context, crop image.Image) (Embedding, error) {
	if crop == nil || crop.Bounds().Empty() {
		return Embedding{}, errors.New("empty crop")
	}

	if e.neural != nil {
		if emb, err := e.neural.Get(); err == nil {
			vec, err := emb.Embed(ctx, crop)
			if err == nil {
				return Embedding{Vector: normalizeOrKeep(vec), Backend: emb.Backend()}, nil
			}
			log.Printf("[Extractor] %s embed failed, using %s: %v", emb.Backend(), e.fallback.Backend(), err)
		}
	}

	vec, err := e.fallback.Embed(ctx, crop)
	if err != nil {
		return Embedding{}, err
	}
	return Embedding{Vector: vec, Backend: e.fallback.Backend()}, nil
}

// Backend reports the backend new gallery entries will be tagged with,
// loading the neural embedder if it has not been tried yet.
func (e *Extractor) Backend() Backend {
	if e.neural != nil {
		if emb, err := e.neural.Get(); err == nil {
			return emb.Backend()
		}
	}
	return e.fallback.Backend()
}

// State reports the neural embedder load state.
func (e *Extractor) State() State {
	if e.neural == nil {
		return Failed
	}
	return e.neural.State()
}

func normalizeOrKeep(v []float32) []float32 {
	if n := matcher.Normalize(v); n != nil {
		return n
	}
	return v
}
