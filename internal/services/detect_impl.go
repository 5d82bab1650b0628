package services

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"facewatch/internal/scan"
)

func (s *Server) detectImage(w http.ResponseWriter, r *http.Request) {
	s.detectStill(w, r, s.Scan.DetectImage)
}

func (s *Server) detectSketch(w http.ResponseWriter, r *http.Request) {
	s.detectStill(w, r, s.Scan.DetectSketch)
}

type stillScanner func(ctx context.Context, img image.Image, opts scan.Options) (*scan.Outcome, error)

// detectStill answers with the annotated JPEG; matches and detections travel
// as JSON in the X-Matches and X-Detections headers.
func (s *Server) detectStill(w http.ResponseWriter, r *http.Request, run stillScanner) {
	data, err := readUpload(w, r, maxImageUpload)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	img, err := scan.DecodeImage(data)
	if err != nil {
		s.fail(w, r, badRequest(err.Error()))
		return
	}

	out, err := run(r.Context(), img, s.scanOptions(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	matches, _ := json.Marshal(out.Result.Matches)
	detections, _ := json.Marshal(out.Result.Detections)
	h := w.Header()
	h.Set("Content-Type", "image/jpeg")
	h.Set("X-Scan-ID", out.ScanID)
	h.Set("X-Matches", string(matches))
	h.Set("X-Detections", string(detections))
	h.Set("Access-Control-Expose-Headers", "X-Scan-ID, X-Matches, X-Detections")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out.JPEG)
}

// detectVideo stores the upload in a temp file and streams NDJSON results.
func (s *Server) detectVideo(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxVideoUpload)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.fail(w, r, badRequest("invalid multipart form: "+err.Error()))
		return
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		s.fail(w, r, badRequest("file is required"))
		return
	}
	defer f.Close()

	ext := strings.ToLower(filepath.Ext(hdr.Filename))
	if ext == "" {
		ext = ".mp4"
	}
	tmp, err := os.CreateTemp("", "facewatch-*"+ext)
	if err != nil {
		s.fail(w, r, fmt.Errorf("failed to create temp file: %w", err))
		return
	}
	defer os.Remove(tmp.Name())
	n, err := io.Copy(tmp, f)
	if err != nil {
		tmp.Close()
		s.fail(w, r, badRequest("failed to read upload: "+err.Error()))
		return
	}
	if err := tmp.Close(); err != nil {
		s.fail(w, r, fmt.Errorf("failed to write temp file: %w", err))
		return
	}
	if n == 0 {
		s.fail(w, r, badRequest("Empty video"))
		return
	}

	// The status line is held back until the first message so failures to
	// open the video still get a proper error status.
	rc := http.NewResponseController(w)
	enc := json.NewEncoder(w)
	started := false
	emit := func(msg any) error {
		if !started {
			started = true
			w.Header().Set("Content-Type", "application/x-ndjson")
			w.Header().Set("Cache-Control", "no-cache")
			w.WriteHeader(http.StatusOK)
		}
		if err := enc.Encode(msg); err != nil {
			return err
		}
		return rc.Flush()
	}

	if _, err := s.Scan.DetectVideo(r.Context(), tmp.Name(), s.scanOptions(r), emit); err != nil {
		log.Printf("[API] Video scan failed: %v", err)
		if !started {
			s.fail(w, r, err)
			return
		}
		_ = emit(map[string]string{"type": "error", "detail": err.Error()})
	}
}

func (s *Server) scanOptions(r *http.Request) scan.Options {
	live, _ := strconv.ParseBool(r.FormValue("is_live"))
	return scan.Options{User: s.contact(r.Context()), Live: live}
}
