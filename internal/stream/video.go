package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

// ErrToolMissing is returned when ffmpeg or ffprobe is not on PATH.
var ErrToolMissing = errors.New("ffmpeg tools not installed")

// VideoInfo is the subset of ffprobe stream metadata used for sampling.
type VideoInfo struct {
	FPS    float64
	Frames int
}

// Probe reads the frame rate and frame count of the first video stream.
// Unknown values are left at zero.
func Probe(ctx context.Context, path string) (VideoInfo, error) {
	if _, err := exec.LookPath("ffprobe"); err != nil {
		return VideoInfo{}, fmt.Errorf("%w: ffprobe: %v", ErrToolMissing, err)
	}

	cmd := exec.CommandContext(ctx, "ffprobe", "-v", "error", "-select_streams", "v:0",
		"-show_entries", "stream=avg_frame_rate,r_frame_rate,nb_frames", "-of", "json", path)
	out, err := cmd.Output()
	if err != nil {
		return VideoInfo{}, fmt.Errorf("ffprobe failed: %w", err)
	}
	return parseProbe(out)
}

func parseProbe(out []byte) (VideoInfo, error) {
	var res struct {
		Streams []struct {
			AvgFrameRate string `json:"avg_frame_rate"`
			RFrameRate   string `json:"r_frame_rate"`
			NbFrames     string `json:"nb_frames"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(out, &res); err != nil {
		return VideoInfo{}, fmt.Errorf("ffprobe JSON parse error: %w", err)
	}
	if len(res.Streams) == 0 {
		return VideoInfo{}, fmt.Errorf("no video stream")
	}

	s := res.Streams[0]
	info := VideoInfo{FPS: parseRate(s.AvgFrameRate)}
	if info.FPS <= 0 {
		info.FPS = parseRate(s.RFrameRate)
	}
	if n, err := strconv.Atoi(s.NbFrames); err == nil && n > 0 {
		info.Frames = n
	}
	return info, nil
}

// parseRate parses ffprobe rationals such as "30000/1001".
func parseRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !ok {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

// FrameStep returns how many source frames to advance per processed frame
// so that roughly targetFPS frames per second are analysed.
func FrameStep(sourceFPS, targetFPS float64) int {
	if sourceFPS <= 0 || targetFPS <= 0 {
		return 1
	}
	step := int(math.Round(sourceFPS / targetFPS))
	if step < 1 {
		return 1
	}
	return step
}

// Decoder runs ffmpeg on a video file and yields JPEG frames.
type Decoder struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	frames *FrameReader

	stderrDone chan struct{}
	mu         sync.Mutex
	lastErr    string

	waitOnce  sync.Once
	waitErr   error
	closeOnce sync.Once
}

// OpenVideo starts decoding path. The process is killed when ctx is cancelled
// or Close is called.
func OpenVideo(ctx context.Context, path string) (*Decoder, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, fmt.Errorf("%w: ffmpeg: %v", ErrToolMissing, err)
	}

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-hide_banner", "-loglevel", "error",
		"-i", path,
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "3",
		"-",
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("error creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("error creating stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("error starting ffmpeg: %w", err)
	}

	d := &Decoder{cmd: cmd, stdout: stdout, frames: NewFrameReader(stdout), stderrDone: make(chan struct{})}
	go func() {
		defer close(d.stderrDone)
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			line := scanner.Text()
			log.Printf("[Video] ffmpeg: %s", line)
			d.mu.Lock()
			d.lastErr = line
			d.mu.Unlock()
		}
	}()
	return d, nil
}

// Next returns the next frame or io.EOF. When the output ends because ffmpeg
// failed, the exit error is returned instead of io.EOF.
func (d *Decoder) Next() ([]byte, error) {
	frame, err := d.frames.Next()
	if errors.Is(err, io.EOF) {
		if werr := d.wait(); werr != nil {
			return nil, werr
		}
	}
	return frame, err
}

func (d *Decoder) wait() error {
	d.waitOnce.Do(func() {
		<-d.stderrDone
		if err := d.cmd.Wait(); err != nil {
			d.mu.Lock()
			last := d.lastErr
			d.mu.Unlock()
			if last != "" {
				d.waitErr = fmt.Errorf("ffmpeg failed: %w: %s", err, last)
			} else {
				d.waitErr = fmt.Errorf("ffmpeg failed: %w", err)
			}
		}
	})
	return d.waitErr
}

// Close stops ffmpeg and reaps the process.
func (d *Decoder) Close() error {
	d.closeOnce.Do(func() {
		if d.cmd.Process != nil {
			_ = d.cmd.Process.Kill()
		}
		_ = d.stdout.Close()
		_ = d.wait()
	})
	return nil
}
