package pipeline

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"log"
	"strings"
	"sync"
	"time"

	"facewatch/internal/matcher"
)

// DetectionPipeline labels every face in a still image against a gallery
// snapshot and draws the result.
type DetectionPipeline struct {
	detector  FaceDetector
	extractor EmbeddingExtractor
	threshold float64

	stats   PipelineStats
	statsMu sync.RWMutex
}

// PipelineStats are cumulative counters since start.
type PipelineStats struct {
	ImagesProcessed  int64         `json:"images_processed"`
	FacesDetected    int64         `json:"faces_detected"`
	MatchesFound     int64         `json:"matches_found"`
	DetectorFailures int64         `json:"detector_failures"`
	LastLatency      time.Duration `json:"last_latency_ns"`
}

// NewDetectionPipeline creates a pipeline. A non-positive threshold uses DefaultThreshold.
func NewDetectionPipeline(detector FaceDetector, extractor EmbeddingExtractor, threshold float64) *DetectionPipeline {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &DetectionPipeline{detector: detector, extractor: extractor, threshold: threshold}
}

// Threshold returns the match threshold this pipeline applies.
func (p *DetectionPipeline) Threshold() float64 { return p.threshold }

// Run detects, labels and annotates faces in img. It never fails: a detector
// error yields the unmodified image with no detections, and a per-face
// embedding error labels only that face as unknown.
func (p *DetectionPipeline) Run(ctx context.Context, img image.Image, gallery *matcher.Gallery) *Result {
	start := time.Now()
	annotated := ToRGBA(img)
	result := &Result{Annotated: annotated, Matches: []Match{}, Detections: []Detection{}}

	faces, err := p.detector.Detect(ctx, img)
	if err != nil {
		log.Printf("[Pipeline] Face detection failed: %v", err)
		p.record(start, 0, 0, true)
		return result
	}

	var matches []Match
	for _, face := range faces {
		det, match, c := p.labelFace(ctx, face.Crop, face.HasMask, gallery)
		det.Box = BoxFromRect(face.Box)
		annotateFace(annotated, face.Box, det.Label, c)
		result.Detections = append(result.Detections, det)
		if match != nil {
			matches = append(matches, *match)
		}
	}

	result.Matches = DedupeMatches(matches)
	p.record(start, len(faces), len(result.Matches), false)
	return result
}

// labelFace applies the label precedence: mask, then match, then unknown with
// score, then plain unknown.
func (p *DetectionPipeline) labelFace(ctx context.Context, crop image.Image, hasMask bool, gallery *matcher.Gallery) (Detection, *Match, color.RGBA) {
	det := Detection{Label: LabelUnknown, Name: LabelUnknown, HasMask: hasMask}
	c := ColorUnknown
	var match *Match

	if hasMask {
		det.Label = LabelMasked
		det.Name = NameMasked
		c = ColorMask
	} else if emb, err := p.extractor.Extract(ctx, crop); err != nil {
		log.Printf("[Pipeline] Embedding failed, labelling face unknown: %v", err)
	} else if entries := gallery.For(string(emb.Backend)); len(entries) > 0 {
		r := matcher.Match(emb.Vector, entries, p.threshold)
		score := r.Score
		det.Score = &score
		if r.Matched {
			det.Label = fmt.Sprintf("%s (%.2f)", r.Label, r.Score)
			det.Name = r.Label
			c = ColorMatch
			match = &Match{Label: r.Label, Score: r.Score}
		} else {
			det.Label = fmt.Sprintf("%s (%.2f)", LabelUnknown, r.Score)
		}
	}

	if hasMask && !strings.Contains(det.Label, "Mask detected") {
		det.Label += MaskSuffix
	}
	return det, match, c
}

func (p *DetectionPipeline) record(start time.Time, faces, matches int, failed bool) {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	p.stats.ImagesProcessed++
	p.stats.FacesDetected += int64(faces)
	p.stats.MatchesFound += int64(matches)
	if failed {
		p.stats.DetectorFailures++
	}
	p.stats.LastLatency = time.Since(start)
}

// Stats returns a copy of the pipeline counters.
func (p *DetectionPipeline) Stats() PipelineStats {
	p.statsMu.RLock()
	defer p.statsMu.RUnlock()
	return p.stats
}
