// Package gallery registers and removes identities and serves the in-memory
// snapshot the pipeline matches against.
package gallery

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"facewatch/internal/database"
	"facewatch/internal/matcher"
	"facewatch/internal/pipeline"
)

var (
	ErrNoFace   = errors.New("no face detected in the image")
	ErrNotFound = errors.New("identity not found")
	ErrBadLabel = errors.New("identity name is required")
)

// Store is the persistence the gallery needs.
type Store interface {
	UpsertIdentity(ctx context.Context, rec *database.IdentityRecord) error
	GetIdentity(ctx context.Context, label string) (*database.IdentityRecord, error)
	ListIdentities(ctx context.Context) ([]*database.IdentityRecord, error)
	LoadEmbeddings(ctx context.Context) ([]*database.IdentityRecord, error)
	DeleteIdentity(ctx context.Context, label string) (bool, error)
}

// Attributes are the optional descriptive fields of an identity.
type Attributes struct {
	Age    string `json:"age,omitempty"`
	Gender string `json:"gender,omitempty"`
	Crime  string `json:"crime,omitempty"`
}

// Identity is the public view of a registered identity.
type Identity struct {
	Name    string    `json:"name"`
	Age     string    `json:"age,omitempty"`
	Gender  string    `json:"gender,omitempty"`
	Crime   string    `json:"crime,omitempty"`
	Image   string    `json:"image,omitempty"`
	Backend string    `json:"backend"`
	Created time.Time `json:"created_at"`
}

// Service owns gallery mutations and the cached match snapshot.
type Service struct {
	store     Store
	detector  pipeline.FaceDetector
	extractor pipeline.EmbeddingExtractor
	imagesDir string

	mu       sync.Mutex
	snapshot *matcher.Gallery
}

// NewService creates a gallery service storing images under imagesDir.
func NewService(store Store, detector pipeline.FaceDetector, extractor pipeline.EmbeddingExtractor, imagesDir string) *Service {
	return &Service{store: store, detector: detector, extractor: extractor, imagesDir: imagesDir}
}

// Register detects the first face in img, embeds it and stores it under label,
// replacing any identity with the same label.
func (s *Service) Register(ctx context.Context, label string, attrs Attributes, img image.Image) (*Identity, error) {
	label = CanonicalLabel(label)
	if label == "" {
		return nil, ErrBadLabel
	}

	faces, err := s.detector.Detect(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("face detection failed: %w", err)
	}
	if len(faces) == 0 {
		return nil, ErrNoFace
	}

	emb, err := s.extractor.Extract(ctx, faces[0].Crop)
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}

	// Re-registering a label keeps its id, so the new image replaces the old file.
	prev, err := s.store.GetIdentity(ctx, label)
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	if prev != nil {
		id = prev.ID
	}

	path, err := s.saveImage(id, img)
	if err != nil {
		return nil, err
	}
	if prev != nil && prev.ImagePath != "" && prev.ImagePath != path {
		if err := os.Remove(prev.ImagePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Printf("[Gallery] Failed to remove replaced image %s: %v", prev.ImagePath, err)
		}
	}

	rec := &database.IdentityRecord{
		ID:        id,
		Label:     label,
		Age:       attrs.Age,
		Gender:    attrs.Gender,
		Crime:     attrs.Crime,
		ImagePath: path,
		Embedding: emb.Vector,
		Backend:   string(emb.Backend),
		CreatedAt: time.Now(),
	}
	if err := s.store.UpsertIdentity(ctx, rec); err != nil {
		return nil, err
	}
	s.Invalidate()

	log.Printf("[Gallery] Registered %s (%s, %d-d)", label, emb.Backend, len(emb.Vector))
	return toIdentity(rec), nil
}

// Delete removes the identity and its stored image.
func (s *Service) Delete(ctx context.Context, label string) error {
	label = CanonicalLabel(label)
	rec, err := s.store.GetIdentity(ctx, label)
	if err != nil {
		return err
	}
	if rec == nil {
		return ErrNotFound
	}
	if _, err := s.store.DeleteIdentity(ctx, label); err != nil {
		return err
	}
	if rec.ImagePath != "" {
		if err := os.Remove(rec.ImagePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Printf("[Gallery] Failed to remove image %s: %v", rec.ImagePath, err)
		}
	}
	s.Invalidate()

	log.Printf("[Gallery] Deleted %s", label)
	return nil
}

// List returns all identities without embeddings.
func (s *Service) List(ctx context.Context) ([]*Identity, error) {
	recs, err := s.store.ListIdentities(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Identity, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toIdentity(rec))
	}
	return out, nil
}

// Snapshot returns the current match gallery, loading it from the store
// after an invalidation. The returned value is immutable.
func (s *Service) Snapshot(ctx context.Context) (*matcher.Gallery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot != nil {
		return s.snapshot, nil
	}

	recs, err := s.store.LoadEmbeddings(ctx)
	if err != nil {
		return nil, err
	}
	byBackend := make(map[string][]matcher.Entry)
	for _, rec := range recs {
		byBackend[rec.Backend] = append(byBackend[rec.Backend], matcher.Entry{Label: rec.Label, Vector: rec.Embedding})
	}
	s.snapshot = matcher.NewGallery(byBackend)
	log.Printf("[Gallery] Loaded snapshot with %d identities", s.snapshot.Len())
	return s.snapshot, nil
}

// Invalidate drops the cached snapshot.
func (s *Service) Invalidate() {
	s.mu.Lock()
	s.snapshot = nil
	s.mu.Unlock()
}

// ImagePath resolves a stored image file name, rejecting anything that is
// not a plain base name.
func (s *Service) ImagePath(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", ErrNotFound
	}
	path := filepath.Join(s.imagesDir, name)
	if _, err := os.Stat(path); err != nil {
		return "", ErrNotFound
	}
	return path, nil
}

// CanonicalLabel trims label and composes it to NFC so the same name typed
// with combining marks and with precomposed letters is one identity.
func CanonicalLabel(label string) string {
	return norm.NFC.String(strings.TrimSpace(label))
}

// ImageFileName is the stored file name for the identity with record id.
// Labels are free text, so they never appear in paths.
func ImageFileName(id string) string {
	return id + ".jpg"
}

func (s *Service) saveImage(id string, img image.Image) (string, error) {
	if err := os.MkdirAll(s.imagesDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create images dir: %w", err)
	}
	data, err := pipeline.EncodeJPEG(img)
	if err != nil {
		return "", fmt.Errorf("failed to encode image: %w", err)
	}
	path := filepath.Join(s.imagesDir, ImageFileName(id))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to save image: %w", err)
	}
	return path, nil
}

func toIdentity(rec *database.IdentityRecord) *Identity {
	id := &Identity{
		Name:    rec.Label,
		Age:     rec.Age,
		Gender:  rec.Gender,
		Crime:   rec.Crime,
		Backend: rec.Backend,
		Created: rec.CreatedAt,
	}
	if rec.ImagePath != "" {
		id.Image = filepath.Base(rec.ImagePath)
	}
	return id
}
