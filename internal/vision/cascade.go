// Package vision holds the classical OpenCV routines: Haar cascade face
// location and sketch enhancement.
package vision

import (
	"context"
	"fmt"
	"image"
	"log"
	"os"
	"path/filepath"
	"sync"

	"gocv.io/x/gocv"
)

// DefaultCascadeFile is the frontal face model shipped with OpenCV.
const DefaultCascadeFile = "haarcascade_frontalface_default.xml"

var cascadeSearchPaths = []string{
	"/usr/local/share/opencv4/haarcascades",
	"/usr/share/opencv4/haarcascades",
	"/opt/homebrew/share/opencv4/haarcascades",
}

// Cascade locates faces with an OpenCV Haar cascade.
type Cascade struct {
	mu         sync.Mutex
	classifier gocv.CascadeClassifier

	ScaleFactor  float64
	MinNeighbors int
	MinSize      image.Point
}

// FindCascade resolves a cascade file, trying path first and then the usual
// OpenCV install locations.
func FindCascade(path string) (string, error) {
	candidates := []string{}
	if path != "" {
		candidates = append(candidates, path)
	}
	for _, dir := range cascadeSearchPaths {
		candidates = append(candidates, filepath.Join(dir, DefaultCascadeFile))
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	return "", fmt.Errorf("cascade file not found (tried %v)", candidates)
}

// NewCascade loads the cascade at path.
func NewCascade(path string) (*Cascade, error) {
	resolved, err := FindCascade(path)
	if err != nil {
		return nil, err
	}
	classifier := gocv.NewCascadeClassifier()
	if !classifier.Load(resolved) {
		classifier.Close()
		return nil, fmt.Errorf("failed to load cascade classifier from %s", resolved)
	}
	log.Printf("[Vision] Loaded face cascade from %s", resolved)
	return &Cascade{
		classifier:   classifier,
		ScaleFactor:  1.1,
		MinNeighbors: 5,
		MinSize:      image.Pt(30, 30),
	}, nil
}

// Locate implements detection.Locator.
func (c *Cascade) Locate(_ context.Context, img image.Image) ([]image.Rectangle, error) {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("failed to convert image: %w", err)
	}
	defer mat.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(mat, &gray, gocv.ColorBGRToGray)

	c.mu.Lock()
	defer c.mu.Unlock()
	rects := c.classifier.DetectMultiScaleWithParams(gray, c.ScaleFactor, c.MinNeighbors, 0, c.MinSize, image.Point{})
	return rects, nil
}

// Close releases the classifier.
func (c *Cascade) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.classifier.Close()
}
