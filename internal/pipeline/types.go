package pipeline

import (
	"image"
	"image/color"
	"math"
	"time"
)

// Labels rendered on annotated images.
const (
	LabelUnknown     = "Unknown"
	LabelMasked      = "Mask detected - remove mask"
	MaskSuffix       = " [Mask detected]"
	NameMasked       = "Masked"
	DefaultThreshold = 0.55
)

// Annotation colours.
var (
	ColorBox     = color.RGBA{0, 255, 0, 255}
	ColorUnknown = color.RGBA{255, 0, 0, 255}
	ColorMask    = color.RGBA{255, 165, 0, 255}
	ColorMatch   = color.RGBA{255, 255, 0, 255}
)

// Box is a face rectangle in source pixels, serialised as [x1, y1, x2, y2].
type Box [4]int

// BoxFromRect converts an image rectangle.
func BoxFromRect(r image.Rectangle) Box {
	return Box{r.Min.X, r.Min.Y, r.Max.X, r.Max.Y}
}

// Rect converts back to an image rectangle.
func (b Box) Rect() image.Rectangle {
	return image.Rect(b[0], b[1], b[2], b[3])
}

// Detection describes one accepted face and how it was labelled.
type Detection struct {
	Box     Box      `json:"box"`
	Label   string   `json:"label"`
	Name    string   `json:"name"`
	Score   *float64 `json:"score"`
	HasMask bool     `json:"has_mask"`
}

// Match is a face that matched a gallery identity.
type Match struct {
	Label string  `json:"name"`
	Score float64 `json:"score"`
}

// Result is always returned by Run, even when nothing was detected.
type Result struct {
	Annotated  *image.RGBA
	Matches    []Match
	Detections []Detection
}

// DedupeMatches drops repeated (label, score rounded to 4 places) pairs,
// keeping the first occurrence and the original order.
func DedupeMatches(matches []Match) []Match {
	type key struct {
		label string
		score float64
	}
	seen := make(map[key]bool, len(matches))
	out := make([]Match, 0, len(matches))
	for _, m := range matches {
		k := key{m.Label, round4(m.Score)}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, m)
	}
	return out
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

// Event is published on the EventBus for every processed image or video frame.
type Event struct {
	ScanID     string      `json:"scan_id"`
	Source     string      `json:"source"`
	FrameIndex int         `json:"frame_index"`
	Matches    []Match     `json:"matches"`
	Detections []Detection `json:"detections"`
	Timestamp  time.Time   `json:"timestamp"`
	// JPEG of the annotated image; omitted from JSON
	Frame []byte `json:"-"`
}
