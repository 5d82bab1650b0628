package ws

import (
	"encoding/base64"
	"time"

	"facewatch/internal/pipeline"
)

// ScanMessage is the websocket view of one processed image or video frame.
type ScanMessage struct {
	Type       string               `json:"type"` // "scan"
	ScanID     string               `json:"scan_id"`
	Source     string               `json:"source"`
	FrameIndex int                  `json:"frame_index"`
	Timestamp  time.Time            `json:"timestamp"`
	Matches    []pipeline.Match     `json:"matches"`
	Detections []pipeline.Detection `json:"detections"`
	Frame      string               `json:"frame,omitempty"` // Base64 encoded annotated JPEG
}

// NewScanMessage converts a pipeline event. The frame is only attached when withFrame is set.
func NewScanMessage(ev *pipeline.Event, withFrame bool) *ScanMessage {
	msg := &ScanMessage{
		Type:       "scan",
		ScanID:     ev.ScanID,
		Source:     ev.Source,
		FrameIndex: ev.FrameIndex,
		Timestamp:  ev.Timestamp,
		Matches:    ev.Matches,
		Detections: ev.Detections,
	}
	if msg.Matches == nil {
		msg.Matches = []pipeline.Match{}
	}
	if msg.Detections == nil {
		msg.Detections = []pipeline.Detection{}
	}
	if withFrame && len(ev.Frame) > 0 {
		msg.Frame = base64.StdEncoding.EncodeToString(ev.Frame)
	}
	return msg
}
