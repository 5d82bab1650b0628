package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	goahttp "goa.design/goa/v3/http"

	"facewatch/internal/alert"
	"facewatch/internal/auth"
	"facewatch/internal/database"
	"facewatch/internal/detection"
	"facewatch/internal/gallery"
	"facewatch/internal/middleware"
	"facewatch/internal/notify"
	"facewatch/internal/pipeline"
	"facewatch/internal/scan"
)

type fakeDetector struct{}

func (fakeDetector) Detect(_ context.Context, img image.Image) ([]detection.Face, error) {
	box := image.Rect(8, 8, 40, 40)
	return []detection.Face{{Box: box, Crop: detection.CropImage(img, box)}}, nil
}

type fakeExtractor struct{}

func (fakeExtractor) Extract(context.Context, image.Image) (detection.Embedding, error) {
	return detection.Embedding{Vector: []float32{0.6, 0.8}, Backend: detection.BackendRemote}, nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notify.Alert
}

func (f *fakeNotifier) Channel() string  { return notify.ChannelPushover }
func (f *fakeNotifier) Configured() bool { return true }
func (f *fakeNotifier) Notify(_ context.Context, a notify.Alert) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, a)
	return true
}

type testEnv struct {
	srv        *httptest.Server
	dispatcher *notify.Dispatcher
	notifier   *fakeNotifier
	jwt        *auth.JWTManager
	scan       *scan.Service
}

func newTestEnv(t *testing.T, authEnabled bool) *testEnv {
	t.Helper()
	dir := t.TempDir()
	db, err := database.New(filepath.Join(dir, "api.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatal(err)
	}

	jwtManager := auth.NewJWTManager("secret", time.Hour)
	authenticator := auth.NewAuthenticator(authEnabled, db, jwtManager)
	gal := gallery.NewService(db, fakeDetector{}, fakeExtractor{}, filepath.Join(dir, "images"))
	n := &fakeNotifier{}
	dispatcher := notify.NewDispatcher(alert.NewGate(time.Minute, time.Minute), notify.DispatcherConfig{}, db, n)
	p := pipeline.NewDetectionPipeline(fakeDetector{}, fakeExtractor{}, 0.55)
	scanner := scan.NewService(p, gal, dispatcher, pipeline.NewEventBus(), nil, scan.Config{})

	s := New(Deps{
		Auth:       authenticator,
		Gallery:    gal,
		Scan:       scanner,
		Dispatcher: dispatcher,
		History:    db,
		Pipeline:   p,
		AuthRate:   100,
	})
	mux := goahttp.NewMuxer()
	s.Mount(mux)
	handler := middleware.AuthMiddleware(authenticator, "/api/health", "/api/auth/", "/api/images/")(mux)

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, dispatcher: dispatcher, notifier: n, jwt: jwtManager, scan: scanner}
}

func multipartBody(t *testing.T, fields map[string]string, file []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	if file != nil {
		fw, err := mw.CreateFormFile("file", "face.jpg")
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(file)
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func testJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for i := range img.Pix {
		img.Pix[i] = 120
	}
	data, err := pipeline.EncodeJPEG(img)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func post(t *testing.T, url, contentType string, body *bytes.Buffer, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, body)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", contentType)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestRegisterUploadAndDetect(t *testing.T) {
	env := newTestEnv(t, false)
	jpeg := testJPEG(t)

	body, ct := multipartBody(t, map[string]string{"name": "Alice Smith", "crime": "fraud"}, jpeg)
	resp := post(t, env.srv.URL+"/api/criminals/upload-image", ct, body, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload status = %d", resp.StatusCode)
	}

	list, err := http.Get(env.srv.URL + "/api/criminals")
	if err != nil {
		t.Fatal(err)
	}
	defer list.Body.Close()
	var ids []gallery.Identity
	if err := json.NewDecoder(list.Body).Decode(&ids); err != nil || len(ids) != 1 || ids[0].Image == "" {
		t.Fatalf("list = %+v, %v", ids, err)
	}

	img, err := http.Get(env.srv.URL + "/api/images/" + ids[0].Image)
	if err != nil {
		t.Fatal(err)
	}
	img.Body.Close()
	if img.StatusCode != http.StatusOK {
		t.Errorf("image status = %d", img.StatusCode)
	}

	body, ct = multipartBody(t, map[string]string{"is_live": "true"}, jpeg)
	resp = post(t, env.srv.URL+"/api/detect/image", ct, body, "")
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "image/jpeg" {
		t.Fatalf("detect status = %d, type = %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	var matches []pipeline.Match
	if err := json.Unmarshal([]byte(resp.Header.Get("X-Matches")), &matches); err != nil {
		t.Fatalf("X-Matches: %v", err)
	}
	if len(matches) != 1 || matches[0].Label != "Alice Smith" {
		t.Errorf("matches = %+v", matches)
	}
	if !strings.Contains(resp.Header.Get("X-Detections"), `"has_mask":false`) {
		t.Errorf("X-Detections = %s", resp.Header.Get("X-Detections"))
	}

	env.dispatcher.Wait()
	if len(env.notifier.sent) != 1 {
		t.Errorf("alerts sent = %d, want 1", len(env.notifier.sent))
	}
	hist, err := http.Get(env.srv.URL + "/api/alerts")
	if err != nil {
		t.Fatal(err)
	}
	defer hist.Body.Close()
	var records []database.AlertRecord
	if err := json.NewDecoder(hist.Body).Decode(&records); err != nil || len(records) != 1 || records[0].Label != "Alice Smith" {
		t.Errorf("history = %+v, %v", records, err)
	}

	h, err := http.Get(env.srv.URL + "/api/health")
	if err != nil {
		t.Fatal(err)
	}
	defer h.Body.Close()
	var health struct {
		Pipeline pipeline.PipelineStats `json:"pipeline"`
	}
	if err := json.NewDecoder(h.Body).Decode(&health); err != nil {
		t.Fatalf("health: %v", err)
	}
	if health.Pipeline.ImagesProcessed != 1 || health.Pipeline.MatchesFound != 1 {
		t.Errorf("pipeline stats = %+v, want one scan with one match", health.Pipeline)
	}
}

func TestUploadValidation(t *testing.T) {
	env := newTestEnv(t, false)

	tests := []struct {
		name   string
		fields map[string]string
		file   []byte
		want   int
	}{
		{"missing name", map[string]string{}, testJPEG(t), http.StatusBadRequest},
		{"missing file", map[string]string{"name": "Bob"}, nil, http.StatusBadRequest},
		{"not an image", map[string]string{"name": "Bob"}, []byte("hello"), http.StatusBadRequest},
		{"bad age", map[string]string{"name": "Bob", "age": "old"}, testJPEG(t), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, ct := multipartBody(t, tt.fields, tt.file)
			resp := post(t, env.srv.URL+"/api/criminals/upload-image", ct, body, "")
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}

	resp := post(t, env.srv.URL+"/api/criminals/delete", "application/json", bytes.NewBufferString(`{"name":"Nobody"}`), "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("delete missing status = %d, want 404", resp.StatusCode)
	}
}

type videoFrames struct {
	frames [][]byte
	pos    int
}

func (v *videoFrames) Next() ([]byte, error) {
	if v.pos >= len(v.frames) {
		return nil, io.EOF
	}
	v.pos++
	return v.frames[v.pos-1], nil
}

func (v *videoFrames) Close() error { return nil }

func TestDetectVideo(t *testing.T) {
	frame := testJPEG(t)

	tests := []struct {
		name       string
		file       []byte
		open       scan.VideoOpener
		want       int
		wantDetail string
	}{
		{
			name:       "empty upload",
			file:       []byte{},
			want:       http.StatusBadRequest,
			wantDetail: "Empty video",
		},
		{
			name: "open fails",
			file: []byte("not a video"),
			open: func(context.Context, string) (scan.FrameSource, float64, error) {
				return nil, 0, fmt.Errorf("%w: ffprobe failed: exit status 1", scan.ErrInvalidVideo)
			},
			want:       http.StatusBadRequest,
			wantDetail: "unable to read video",
		},
		{
			name: "no frames decoded",
			file: []byte("not a video"),
			open: func(context.Context, string) (scan.FrameSource, float64, error) {
				return &videoFrames{}, 30, nil
			},
			want:       http.StatusBadRequest,
			wantDetail: "unable to read video",
		},
		{
			name: "streams frames",
			file: []byte("clip"),
			open: func(context.Context, string) (scan.FrameSource, float64, error) {
				return &videoFrames{frames: [][]byte{frame, frame}}, 30, nil
			},
			want: http.StatusOK,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, false)
			var opened atomic.Bool
			env.scan.WithVideoOpener(func(ctx context.Context, path string) (scan.FrameSource, float64, error) {
				opened.Store(true)
				if tt.open == nil {
					t.Error("video opened for an empty upload")
					return nil, 0, errors.New("unexpected open")
				}
				return tt.open(ctx, path)
			})

			body, ct := multipartBody(t, nil, tt.file)
			resp := post(t, env.srv.URL+"/api/detect/video", ct, body, "")
			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.want)
			}
			if tt.want != http.StatusOK {
				var out map[string]string
				if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || !strings.Contains(out["detail"], tt.wantDetail) {
					t.Errorf("body = %v, %v; want detail containing %q", out, err, tt.wantDetail)
				}
				return
			}

			if !opened.Load() {
				t.Error("video was not opened")
			}
			if ct := resp.Header.Get("Content-Type"); ct != "application/x-ndjson" {
				t.Errorf("Content-Type = %q", ct)
			}
			dec := json.NewDecoder(resp.Body)
			var types []string
			for {
				var msg map[string]any
				if err := dec.Decode(&msg); err != nil {
					break
				}
				types = append(types, fmt.Sprint(msg["type"]))
			}
			if strings.Join(types, ",") != "frame,frame,done" {
				t.Errorf("message types = %v", types)
			}
		})
	}
}

func TestContactFromClaims(t *testing.T) {
	s := New(Deps{})
	if c := s.contact(context.Background()); c != nil {
		t.Errorf("anonymous contact = %+v, want nil", c)
	}

	claims := &auth.Claims{Profile: auth.Profile{Username: "officer", Email: "dana@precinct.example", Phone: "+15551234567"}}
	ctx := context.WithValue(context.Background(), middleware.UserContextKey, claims)
	got := s.contact(ctx)
	want := notify.Contact{Username: "officer", Phone: "+15551234567", Email: "dana@precinct.example"}
	if got == nil || *got != want {
		t.Errorf("contact = %+v, want %+v", got, want)
	}
}

func TestFailStatus(t *testing.T) {
	s := New(Deps{})
	tests := []struct {
		err  error
		want int
	}{
		{badRequest("file is required"), http.StatusBadRequest},
		{fmt.Errorf("register: %w", gallery.ErrNoFace), http.StatusUnprocessableEntity},
		{gallery.ErrNotFound, http.StatusNotFound},
		{auth.ErrUserExists, http.StatusBadRequest},
		{auth.ErrInvalidCredentials, http.StatusUnauthorized},
		{fmt.Errorf("%w: no frames", scan.ErrInvalidVideo), http.StatusBadRequest},
		{detection.ErrBackendUnavailable, http.StatusServiceUnavailable},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			rec := httptest.NewRecorder()
			s.fail(rec, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)
			if rec.Code != tt.want {
				t.Errorf("fail(%v) status = %d, want %d", tt.err, rec.Code, tt.want)
			}
		})
	}
}

func TestAuthFlow(t *testing.T) {
	env := newTestEnv(t, true)

	resp, err := http.Get(env.srv.URL + "/api/criminals")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", resp.StatusCode)
	}

	form := "username=officer&password=secret1&phone=5551234567"
	resp = post(t, env.srv.URL+"/api/auth/register", "application/x-www-form-urlencoded", bytes.NewBufferString(form), "")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d", resp.StatusCode)
	}
	resp = post(t, env.srv.URL+"/api/auth/register", "application/x-www-form-urlencoded", bytes.NewBufferString(form), "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("duplicate register status = %d, want 400", resp.StatusCode)
	}

	resp = post(t, env.srv.URL+"/api/auth/login", "application/x-www-form-urlencoded", bytes.NewBufferString("username=officer&password=wrong"), "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("bad login status = %d, want 401", resp.StatusCode)
	}

	resp = post(t, env.srv.URL+"/api/auth/login", "application/x-www-form-urlencoded", bytes.NewBufferString("username=officer&password=secret1"), "")
	var session auth.Session
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil || session.Token == "" {
		t.Fatalf("login = %+v, %v", session, err)
	}
	if session.User.Phone != "+5551234567" {
		t.Errorf("profile phone = %q", session.User.Phone)
	}

	req, _ := http.NewRequest(http.MethodGet, env.srv.URL+"/api/criminals", nil)
	req.Header.Set("Authorization", "Bearer "+session.Token)
	authed, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	authed.Body.Close()
	if authed.StatusCode != http.StatusOK {
		t.Errorf("authenticated status = %d, want 200", authed.StatusCode)
	}
}

func TestManualAlertAndHealth(t *testing.T) {
	env := newTestEnv(t, false)

	resp := post(t, env.srv.URL+"/api/alerts/pushover", "application/json",
		bytes.NewBufferString(`{"title":"Drill","message":"Test alert"}`), "")
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out["success"] != true {
		t.Errorf("manual pushover = %d %v, %v", resp.StatusCode, out, err)
	}

	resp = post(t, env.srv.URL+"/api/alerts/sms", "application/json",
		bytes.NewBufferString(`{"recipient":"123","title":"Drill","message":"x"}`), "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("sms with bad phone status = %d, want 400", resp.StatusCode)
	}

	resp = post(t, env.srv.URL+"/api/alerts/pushover", "application/json", bytes.NewBufferString(`{"title":"Drill"}`), "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing message status = %d, want 400", resp.StatusCode)
	}

	h, err := http.Get(env.srv.URL + "/api/health")
	if err != nil {
		t.Fatal(err)
	}
	defer h.Body.Close()
	var health map[string]any
	if err := json.NewDecoder(h.Body).Decode(&health); err != nil || health["status"] != "ok" {
		t.Errorf("health = %v, %v", health, err)
	}
}
