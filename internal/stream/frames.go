// Package stream decodes video containers into JPEG frames through ffmpeg.
package stream

import (
	"bytes"
	"errors"
	"io"
)

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// FrameReader splits a concatenated MJPEG byte stream into individual JPEG frames.
type FrameReader struct {
	r     io.Reader
	buf   []byte
	chunk []byte
	eof   bool
}

// NewFrameReader reads frames from r, typically ffmpeg's image2pipe stdout.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{
		r:     r,
		buf:   make([]byte, 0, 1024*1024),
		chunk: make([]byte, 32*1024),
	}
}

// Next returns the next complete JPEG frame, or io.EOF once the stream is drained.
func (fr *FrameReader) Next() ([]byte, error) {
	for {
		if frame := extractJPEGFrame(&fr.buf); frame != nil {
			return frame, nil
		}
		if fr.eof {
			return nil, io.EOF
		}

		n, err := fr.r.Read(fr.chunk)
		fr.buf = append(fr.buf, fr.chunk[:n]...)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return nil, err
			}
			fr.eof = true
		}
	}
}

// extractJPEGFrame removes and returns the first complete SOI..EOI frame in buffer.
// Bytes before the first SOI are discarded.
func extractJPEGFrame(buffer *[]byte) []byte {
	start := bytes.Index(*buffer, jpegSOI)
	if start == -1 {
		// keep a trailing 0xFF that may begin a marker split across reads
		if n := len(*buffer); n > 0 && (*buffer)[n-1] == 0xFF {
			*buffer = (*buffer)[n-1:]
		} else {
			*buffer = (*buffer)[:0]
		}
		return nil
	}

	end := bytes.Index((*buffer)[start+2:], jpegEOI)
	if end == -1 {
		if start > 0 {
			*buffer = (*buffer)[start:]
		}
		return nil
	}
	end += start + 2 + 2

	frame := make([]byte, end-start)
	copy(frame, (*buffer)[start:end])
	*buffer = (*buffer)[end:]
	return frame
}
