// Package scan runs uploaded images, sketches and videos through the
// detection pipeline, publishes the results and hands matches to alerting.
package scan

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log"
	"time"

	"github.com/google/uuid"

	"facewatch/internal/matcher"
	"facewatch/internal/notify"
	"facewatch/internal/pipeline"
	"facewatch/internal/stream"
)

// Sources used on events and alert history.
const (
	SourceImage  = "image"
	SourceSketch = "sketch"
	SourceVideo  = "video"
)

const (
	DefaultTargetFPS  = 30
	DefaultFrameLimit = 600
)

// ErrInvalidVideo is returned when an upload cannot be opened as a video or
// yields no frames. Nothing has been emitted when it is returned.
var ErrInvalidVideo = errors.New("unable to read video")

// GallerySource supplies the current match snapshot.
type GallerySource interface {
	Snapshot(ctx context.Context) (*matcher.Gallery, error)
}

// Alerter decides and sends alerts for a batch of matches.
type Alerter interface {
	Dispatch(ctx context.Context, req notify.Request) []pipeline.Match
}

// FrameSource yields encoded video frames until io.EOF.
type FrameSource interface {
	Next() ([]byte, error)
	Close() error
}

// VideoOpener starts decoding path and reports its frame rate (0 if unknown).
type VideoOpener func(ctx context.Context, path string) (FrameSource, float64, error)

// Enhancer preprocesses a sketch before detection.
type Enhancer func(image.Image) (image.Image, error)

type Config struct {
	TargetFPS  float64
	FrameLimit int
}

// Options are per-request settings.
type Options struct {
	User *notify.Contact
	Live bool
}

// Outcome is the result of scanning one still image.
type Outcome struct {
	ScanID  string
	Result  *pipeline.Result
	JPEG    []byte
	Alerted []pipeline.Match
}

// FrameMessage is emitted for every processed video frame.
type FrameMessage struct {
	Type       string               `json:"type"`
	Index      int                  `json:"index"`
	Matches    []pipeline.Match     `json:"matches"`
	Detections []pipeline.Detection `json:"detections"`
	Frame      string               `json:"frame"`
}

// DoneMessage terminates a video stream.
type DoneMessage struct {
	Type    string           `json:"type"`
	Matches []pipeline.Match `json:"matches"`
}

// Service is the shared scan context used by the HTTP handlers and the CLI.
type Service struct {
	pipeline  *pipeline.DetectionPipeline
	gallery   GallerySource
	alerter   Alerter
	bus       *pipeline.EventBus
	enhance   Enhancer
	openVideo VideoOpener
	cfg       Config
}

// NewService creates a scan service. alerter, bus and enhance may be nil.
func NewService(p *pipeline.DetectionPipeline, gallery GallerySource, alerter Alerter, bus *pipeline.EventBus, enhance Enhancer, cfg Config) *Service {
	if cfg.TargetFPS <= 0 {
		cfg.TargetFPS = DefaultTargetFPS
	}
	if cfg.FrameLimit <= 0 {
		cfg.FrameLimit = DefaultFrameLimit
	}
	return &Service{
		pipeline:  p,
		gallery:   gallery,
		alerter:   alerter,
		bus:       bus,
		enhance:   enhance,
		openVideo: openFFmpeg,
		cfg:       cfg,
	}
}

// WithVideoOpener replaces the ffmpeg decoder.
func (s *Service) WithVideoOpener(open VideoOpener) *Service {
	s.openVideo = open
	return s
}

// DecodeImage decodes a JPEG or PNG upload.
func DecodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("invalid image: %w", err)
	}
	return img, nil
}

// DetectImage scans a still image and alerts on its matches.
func (s *Service) DetectImage(ctx context.Context, img image.Image, opts Options) (*Outcome, error) {
	return s.detect(ctx, img, SourceImage, notify.TitleImage, opts)
}

// DetectSketch enhances a sketch and scans it. If enhancement fails the
// original image is used.
func (s *Service) DetectSketch(ctx context.Context, img image.Image, opts Options) (*Outcome, error) {
	if s.enhance != nil {
		enhanced, err := s.enhance(img)
		if err != nil {
			log.Printf("[Scan] Sketch preprocessing failed, using original: %v", err)
		} else {
			img = enhanced
		}
	}
	return s.detect(ctx, img, SourceSketch, notify.TitleSketch, opts)
}

func (s *Service) detect(ctx context.Context, img image.Image, source, title string, opts Options) (*Outcome, error) {
	gallery, err := s.gallery.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load gallery: %w", err)
	}

	result := s.pipeline.Run(ctx, img, gallery)
	data, err := pipeline.EncodeJPEG(result.Annotated)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}

	out := &Outcome{ScanID: uuid.NewString(), Result: result, JPEG: data}
	s.publish(out.ScanID, source, 0, result, data)
	out.Alerted = s.alert(ctx, title, source, result.Matches, data, opts)
	return out, nil
}

// DetectVideo samples the video at path and calls emit with a *FrameMessage
// per processed frame and a final *DoneMessage. At most one alert is raised,
// for the first frame with matches. An emit error aborts the scan.
// Errors returned before the first frame is read leave emit uncalled.
func (s *Service) DetectVideo(ctx context.Context, path string, opts Options, emit func(msg any) error) ([]pipeline.Match, error) {
	gallery, err := s.gallery.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load gallery: %w", err)
	}

	src, fps, err := s.openVideo(ctx, path)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	if fps <= 0 {
		fps = DefaultTargetFPS
	}
	step := stream.FrameStep(fps, s.cfg.TargetFPS)
	scanID := uuid.NewString()
	log.Printf("[Scan] Video %s: %.2f fps, processing every %d frame(s)", scanID, fps, step)

	var all []pipeline.Match
	alerted := false
	processed := 0
	for i := 0; i < s.cfg.FrameLimit; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := src.Next()
		if i == 0 && err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return nil, cerr
			}
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("%w: no frames", ErrInvalidVideo)
			}
			return nil, fmt.Errorf("%w: %v", ErrInvalidVideo, err)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return nil, cerr
			}
			return nil, fmt.Errorf("failed to read frame %d: %w", i, err)
		}
		if i%step != 0 {
			continue
		}

		img, err := DecodeImage(data)
		if err != nil {
			log.Printf("[Scan] Skipping undecodable frame %d: %v", i, err)
			continue
		}
		result := s.pipeline.Run(ctx, img, gallery)
		annotated, err := pipeline.EncodeJPEG(result.Annotated)
		if err != nil {
			return nil, fmt.Errorf("failed to encode frame %d: %w", i, err)
		}
		processed++

		if err := emit(&FrameMessage{
			Type:       "frame",
			Index:      i,
			Matches:    result.Matches,
			Detections: result.Detections,
			Frame:      base64.StdEncoding.EncodeToString(annotated),
		}); err != nil {
			return nil, err
		}
		s.publish(scanID, SourceVideo, i, result, annotated)

		all = append(all, result.Matches...)
		if !alerted && len(result.Matches) > 0 {
			alerted = true
			s.alert(ctx, notify.TitleVideo, SourceVideo, result.Matches, annotated, opts)
		}
	}

	matches := pipeline.DedupeMatches(all)
	log.Printf("[Scan] Video %s done: %d frame(s) processed, %d match(es)", scanID, processed, len(matches))
	if err := emit(&DoneMessage{Type: "done", Matches: matches}); err != nil {
		return nil, err
	}
	return matches, nil
}

func (s *Service) publish(scanID, source string, index int, result *pipeline.Result, frame []byte) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(&pipeline.Event{
		ScanID:     scanID,
		Source:     source,
		FrameIndex: index,
		Matches:    result.Matches,
		Detections: result.Detections,
		Timestamp:  time.Now(),
		Frame:      frame,
	})
}

func (s *Service) alert(ctx context.Context, title, source string, matches []pipeline.Match, image []byte, opts Options) []pipeline.Match {
	if s.alerter == nil || len(matches) == 0 {
		return nil
	}
	return s.alerter.Dispatch(ctx, notify.Request{
		Title:   title,
		Source:  source,
		Matches: matches,
		Image:   image,
		User:    opts.User,
		Live:    opts.Live,
	})
}

func openFFmpeg(ctx context.Context, path string) (FrameSource, float64, error) {
	info, err := stream.Probe(ctx, path)
	switch {
	case errors.Is(err, stream.ErrToolMissing):
		log.Printf("[Scan] ffprobe unavailable, assuming %d fps: %v", DefaultTargetFPS, err)
	case err != nil:
		return nil, 0, fmt.Errorf("%w: %v", ErrInvalidVideo, err)
	}
	dec, err := stream.OpenVideo(ctx, path)
	if err != nil {
		return nil, 0, err
	}
	return dec, info.FPS, nil
}
