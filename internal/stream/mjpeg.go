package stream

import (
	"fmt"
	"log"
	"net/http"
	"sync"

	"facewatch/internal/pipeline"
)

// MJPEGFeed rebroadcasts the annotated frames of every scan as a
// multipart/x-mixed-replace stream. Slow clients drop frames.
type MJPEGFeed struct {
	clients   map[chan []byte]bool
	clientsMu sync.RWMutex

	current  []byte
	frameSeq uint64
	frameMu  sync.RWMutex
}

// NewMJPEGFeed creates an empty feed.
func NewMJPEGFeed() *MJPEGFeed {
	return &MJPEGFeed{clients: make(map[chan []byte]bool)}
}

// Attach subscribes the feed to bus and returns the unsubscribe function.
func (f *MJPEGFeed) Attach(bus *pipeline.EventBus) func() {
	return bus.Subscribe(pipeline.EventHandlerFunc(f.OnEvent))
}

// OnEvent stores and broadcasts the event's annotated frame. Events without
// a frame are ignored.
func (f *MJPEGFeed) OnEvent(ev *pipeline.Event) {
	if ev == nil || len(ev.Frame) == 0 {
		return
	}

	f.frameMu.Lock()
	f.current = ev.Frame
	f.frameSeq++
	seq := f.frameSeq
	f.frameMu.Unlock()

	f.clientsMu.RLock()
	for ch := range f.clients {
		select {
		case ch <- ev.Frame:
		default:
		}
	}
	f.clientsMu.RUnlock()

	if seq%100 == 0 {
		log.Printf("[MJPEG] frame seq: %d", seq)
	}
}

// CurrentFrame returns the most recent frame and its sequence number.
func (f *MJPEGFeed) CurrentFrame() ([]byte, uint64) {
	f.frameMu.RLock()
	defer f.frameMu.RUnlock()
	return f.current, f.frameSeq
}

// ClientCount returns the number of connected stream clients.
func (f *MJPEGFeed) ClientCount() int {
	f.clientsMu.RLock()
	defer f.clientsMu.RUnlock()
	return len(f.clients)
}

// ServeHTTP streams frames until the client disconnects.
func (f *MJPEGFeed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	clientCh := make(chan []byte, 5)
	f.clientsMu.Lock()
	f.clients[clientCh] = true
	f.clientsMu.Unlock()
	defer func() {
		f.clientsMu.Lock()
		delete(f.clients, clientCh)
		f.clientsMu.Unlock()
	}()

	log.Printf("[MJPEG] Client connected")
	for {
		select {
		case <-r.Context().Done():
			log.Printf("[MJPEG] Client disconnected")
			return
		case frame := <-clientCh:
			if err := writePart(w, frame); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writePart(w http.ResponseWriter, frame []byte) error {
	if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(frame)); err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return err
	}
	_, err := fmt.Fprint(w, "\r\n")
	return err
}

// ServeSnapshot writes the most recent frame as a single JPEG.
func (f *MJPEGFeed) ServeSnapshot(w http.ResponseWriter, r *http.Request) {
	frame, _ := f.CurrentFrame()
	if frame == nil {
		http.Error(w, "No frame available", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(frame)))
	w.Write(frame)
}
