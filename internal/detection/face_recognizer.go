package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

// FaceRecognizer talks to the face inference service over HTTP.
// It implements Locator, Embedder and MaskClassifier.
type FaceRecognizer struct {
	endpoint string
	client   *http.Client
}

// FaceRecognizerConfig holds configuration for the face inference service
type FaceRecognizerConfig struct {
	ServiceEndpoint string
	Timeout         time.Duration
}

// FaceDetection is a single face box returned by /detect
type FaceDetection struct {
	BBox       []float32 `json:"bbox"`
	Confidence float32   `json:"confidence"`
}

// FaceDetectResult represents the result of face detection
type FaceDetectResult struct {
	Faces           []FaceDetection `json:"faces"`
	Count           int             `json:"count"`
	InferenceTimeMs float32         `json:"inference_time_ms"`
	Device          string          `json:"device"`
}

// EmbedResult is the response of /embed
type EmbedResult struct {
	Embedding []float32 `json:"embedding"`
	Dimension int       `json:"dimension"`
}

// MaskResult is the response of /mask
type MaskResult struct {
	MaskProbability float64 `json:"mask_probability"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status      string `json:"status"`
	Device      string `json:"device"`
	ModelLoaded bool   `json:"model_loaded"`
}

// NewFaceRecognizer creates a new face inference client
func NewFaceRecognizer(config FaceRecognizerConfig) *FaceRecognizer {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &FaceRecognizer{
		endpoint: strings.TrimRight(config.ServiceEndpoint, "/"),
		client:   &http.Client{Timeout: timeout},
	}
}

// Backend implements Embedder.
func (fr *FaceRecognizer) Backend() Backend { return BackendRemote }

// CheckHealth checks if the inference service is available and its models are loaded
func (fr *FaceRecognizer) CheckHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fr.endpoint+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health request: %w", err)
	}
	resp, err := fr.client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("failed to decode health response: %w", err)
	}

	if health.Status != "healthy" || !health.ModelLoaded {
		return fmt.Errorf("service unhealthy: status=%s, model_loaded=%v", health.Status, health.ModelLoaded)
	}
	return nil
}

// Locate implements Locator using the /detect endpoint.
func (fr *FaceRecognizer) Locate(ctx context.Context, img image.Image) ([]image.Rectangle, error) {
	var result FaceDetectResult
	if err := fr.postImage(ctx, "/detect", img, &result); err != nil {
		return nil, err
	}

	boxes := make([]image.Rectangle, 0, len(result.Faces))
	for _, f := range result.Faces {
		if len(f.BBox) < 4 {
			continue
		}
		boxes = append(boxes, image.Rect(int(f.BBox[0]), int(f.BBox[1]), int(f.BBox[2]), int(f.BBox[3])))
	}
	return boxes, nil
}

// Embed implements Embedder using the /embed endpoint.
func (fr *FaceRecognizer) Embed(ctx context.Context, crop image.Image) ([]float32, error) {
	var result EmbedResult
	if err := fr.postImage(ctx, "/embed", crop, &result); err != nil {
		return nil, err
	}
	if len(result.Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding in response")
	}
	return result.Embedding, nil
}

// MaskProbability implements MaskClassifier using the /mask endpoint.
func (fr *FaceRecognizer) MaskProbability(ctx context.Context, crop image.Image) (float64, error) {
	var result MaskResult
	if err := fr.postImage(ctx, "/mask", crop, &result); err != nil {
		return 0, err
	}
	return result.MaskProbability, nil
}

func (fr *FaceRecognizer) postImage(ctx context.Context, path string, img image.Image, out any) error {
	data, err := encodeJPEG(img)
	if err != nil {
		return err
	}
	body, err := fr.sendImageRequest(ctx, fr.endpoint+path, data)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// sendImageRequest sends an image to an inference endpoint as multipart form data
func (fr *FaceRecognizer) sendImageRequest(ctx context.Context, url string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="face.jpg"`)
	h.Set("Content-Type", "image/jpeg")
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := fr.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
