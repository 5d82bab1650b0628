package scan

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	"facewatch/internal/detection"
	"facewatch/internal/matcher"
	"facewatch/internal/notify"
	"facewatch/internal/pipeline"
)

type fakeDetector struct{ faces []detection.Face }

func (f *fakeDetector) Detect(context.Context, image.Image) ([]detection.Face, error) {
	return f.faces, nil
}

type fakeExtractor struct{ vec []float32 }

func (f *fakeExtractor) Extract(context.Context, image.Image) (detection.Embedding, error) {
	return detection.Embedding{Vector: f.vec, Backend: detection.BackendRemote}, nil
}

type staticGallery struct{ g *matcher.Gallery }

func (s staticGallery) Snapshot(context.Context) (*matcher.Gallery, error) { return s.g, nil }

type recordingAlerter struct {
	mu       sync.Mutex
	requests []notify.Request
}

func (r *recordingAlerter) Dispatch(_ context.Context, req notify.Request) []pipeline.Match {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	return req.Matches
}

type fakeFrames struct {
	frames [][]byte
	err    error
	pos    int
	closed bool
}

func (f *fakeFrames) Next() ([]byte, error) {
	if f.pos >= len(f.frames) {
		if f.err != nil {
			return nil, f.err
		}
		return nil, io.EOF
	}
	f.pos++
	return f.frames[f.pos-1], nil
}

func (f *fakeFrames) Close() error {
	f.closed = true
	return nil
}

func jpegFrame(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for i := range img.Pix {
		img.Pix[i] = 90
	}
	data, err := pipeline.EncodeJPEG(img)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func newTestService(vec []float32, alerter Alerter, bus *pipeline.EventBus) *Service {
	crop := image.NewRGBA(image.Rect(0, 0, 20, 20))
	det := &fakeDetector{faces: []detection.Face{{Box: image.Rect(10, 10, 30, 30), Crop: crop}}}
	p := pipeline.NewDetectionPipeline(det, &fakeExtractor{vec: vec}, 0.55)
	g := matcher.NewGallery(map[string][]matcher.Entry{
		string(detection.BackendRemote): {{Label: "Alice", Vector: []float32{1, 0}}},
	})
	return NewService(p, staticGallery{g}, alerter, bus, nil, Config{})
}

func TestDetectImage(t *testing.T) {
	alerter := &recordingAlerter{}
	bus := pipeline.NewEventBus()
	var events []*pipeline.Event
	bus.Subscribe(pipeline.EventHandlerFunc(func(ev *pipeline.Event) { events = append(events, ev) }))

	svc := newTestService([]float32{1, 0}, alerter, bus)
	out, err := svc.DetectImage(context.Background(), image.NewRGBA(image.Rect(0, 0, 64, 64)), Options{Live: true})
	if err != nil {
		t.Fatalf("DetectImage() error = %v", err)
	}

	if len(out.Result.Matches) != 1 || out.Result.Matches[0].Label != "Alice" {
		t.Errorf("Matches = %+v", out.Result.Matches)
	}
	if len(out.JPEG) == 0 || len(out.Alerted) != 1 {
		t.Errorf("JPEG = %d bytes, Alerted = %+v", len(out.JPEG), out.Alerted)
	}
	if len(alerter.requests) != 1 || alerter.requests[0].Title != notify.TitleImage || !alerter.requests[0].Live {
		t.Errorf("alert requests = %+v", alerter.requests)
	}
	if len(events) != 1 || events[0].Source != SourceImage || events[0].ScanID != out.ScanID {
		t.Errorf("events = %+v", events)
	}
}

func TestDetectImageNoMatchNoAlert(t *testing.T) {
	alerter := &recordingAlerter{}
	svc := newTestService([]float32{0, 1}, alerter, nil)

	out, err := svc.DetectImage(context.Background(), image.NewRGBA(image.Rect(0, 0, 64, 64)), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Result.Matches) != 0 || len(alerter.requests) != 0 {
		t.Errorf("matches = %+v, requests = %d", out.Result.Matches, len(alerter.requests))
	}
	if d := out.Result.Detections; len(d) != 1 || d[0].Label != "Unknown (0.00)" {
		t.Errorf("detections = %+v", d)
	}
}

func TestDetectSketch(t *testing.T) {
	alerter := &recordingAlerter{}
	svc := newTestService([]float32{1, 0}, alerter, nil)

	var enhanced bool
	svc.enhance = func(img image.Image) (image.Image, error) {
		enhanced = true
		return nil, errors.New("opencv missing")
	}
	out, err := svc.DetectSketch(context.Background(), image.NewRGBA(image.Rect(0, 0, 64, 64)), Options{})
	if err != nil {
		t.Fatalf("DetectSketch() error = %v", err)
	}
	if !enhanced || len(out.Result.Matches) != 1 {
		t.Errorf("enhanced = %v, matches = %+v", enhanced, out.Result.Matches)
	}
	if len(alerter.requests) != 1 || alerter.requests[0].Title != notify.TitleSketch {
		t.Errorf("alert requests = %+v", alerter.requests)
	}
}

func TestDetectVideoSampling(t *testing.T) {
	frame := jpegFrame(t)
	frames := make([][]byte, 10)
	for i := range frames {
		frames[i] = frame
	}

	tests := []struct {
		name       string
		fps        float64
		limit      int
		wantIndexes []int
	}{
		{"60fps every other frame", 60, 0, []int{0, 2, 4, 6, 8}},
		{"unknown fps every frame", 0, 4, []int{0, 1, 2, 3}},
		{"90fps every third frame", 90, 0, []int{0, 3, 6, 9}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alerter := &recordingAlerter{}
			svc := newTestService([]float32{1, 0}, alerter, nil)
			if tt.limit > 0 {
				svc.cfg.FrameLimit = tt.limit
			}
			src := &fakeFrames{frames: frames}
			svc.WithVideoOpener(func(context.Context, string) (FrameSource, float64, error) {
				return src, tt.fps, nil
			})

			var indexes []int
			var done *DoneMessage
			matches, err := svc.DetectVideo(context.Background(), "clip.mp4", Options{}, func(msg any) error {
				switch m := msg.(type) {
				case *FrameMessage:
					if m.Type != "frame" || m.Frame == "" {
						t.Errorf("frame message = %+v", m)
					}
					indexes = append(indexes, m.Index)
				case *DoneMessage:
					done = m
				}
				return nil
			})
			if err != nil {
				t.Fatalf("DetectVideo() error = %v", err)
			}

			if len(indexes) != len(tt.wantIndexes) {
				t.Fatalf("indexes = %v, want %v", indexes, tt.wantIndexes)
			}
			for i := range indexes {
				if indexes[i] != tt.wantIndexes[i] {
					t.Errorf("indexes = %v, want %v", indexes, tt.wantIndexes)
					break
				}
			}
			if done == nil || done.Type != "done" || len(done.Matches) != 1 || len(matches) != 1 {
				t.Errorf("done = %+v, matches = %+v", done, matches)
			}
			if len(alerter.requests) != 1 || alerter.requests[0].Title != notify.TitleVideo {
				t.Errorf("got %d alert requests, want exactly one video alert", len(alerter.requests))
			}
			if !src.closed {
				t.Error("frame source not closed")
			}
		})
	}
}

func TestDetectVideoEmitError(t *testing.T) {
	svc := newTestService([]float32{1, 0}, nil, nil)
	src := &fakeFrames{frames: [][]byte{jpegFrame(t), jpegFrame(t)}}
	svc.WithVideoOpener(func(context.Context, string) (FrameSource, float64, error) { return src, 30, nil })

	stop := errors.New("client gone")
	_, err := svc.DetectVideo(context.Background(), "clip.mp4", Options{}, func(any) error { return stop })
	if !errors.Is(err, stop) {
		t.Errorf("DetectVideo() error = %v, want %v", err, stop)
	}
	if src.pos != 1 {
		t.Errorf("read %d frames after emit error, want 1", src.pos)
	}
}

func TestDetectVideoUnreadable(t *testing.T) {
	openErr := fmt.Errorf("%w: moov atom not found", ErrInvalidVideo)

	tests := []struct {
		name string
		src  *fakeFrames
		err  error
	}{
		{"open fails", nil, openErr},
		{"no frames", &fakeFrames{}, nil},
		{"decoder exits", &fakeFrames{err: errors.New("ffmpeg failed: exit status 1")}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService([]float32{1, 0}, nil, nil)
			svc.WithVideoOpener(func(context.Context, string) (FrameSource, float64, error) {
				if tt.err != nil {
					return nil, 0, tt.err
				}
				return tt.src, 30, nil
			})

			emitted := 0
			_, err := svc.DetectVideo(context.Background(), "clip.mp4", Options{}, func(any) error {
				emitted++
				return nil
			})
			if !errors.Is(err, ErrInvalidVideo) {
				t.Errorf("DetectVideo() error = %v, want ErrInvalidVideo", err)
			}
			if emitted != 0 {
				t.Errorf("emitted %d messages before failing, want 0", emitted)
			}
			if tt.src != nil && !tt.src.closed {
				t.Error("frame source not closed")
			}
		})
	}
}

func TestOpenFFmpegRejectsUnreadableFile(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell stub")
	}
	dir := t.TempDir()
	stub := "#!/bin/sh\necho 'Invalid data found when processing input' >&2\nexit 1\n"
	if err := os.WriteFile(filepath.Join(dir, "ffprobe"), []byte(stub), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", dir)

	_, _, err := openFFmpeg(context.Background(), filepath.Join(dir, "clip.mp4"))
	if !errors.Is(err, ErrInvalidVideo) {
		t.Errorf("openFFmpeg() error = %v, want ErrInvalidVideo", err)
	}
}

func TestDecodeImage(t *testing.T) {
	if _, err := DecodeImage([]byte("not an image")); err == nil {
		t.Error("DecodeImage(garbage) returned nil error")
	}
	img, err := DecodeImage(jpegFrame(t))
	if err != nil || img.Bounds().Dx() != 64 {
		t.Errorf("DecodeImage() = %v, %v", img, err)
	}
}
