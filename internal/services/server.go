// Package services implements the facewatch HTTP API on a goa muxer.
package services

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/go-playground/validator/v10"
	goahttp "goa.design/goa/v3/http"
	goamiddleware "goa.design/goa/v3/middleware"

	"facewatch/internal/auth"
	"facewatch/internal/database"
	"facewatch/internal/detection"
	"facewatch/internal/gallery"
	"facewatch/internal/middleware"
	"facewatch/internal/notify"
	"facewatch/internal/pipeline"
	"facewatch/internal/scan"
)

const (
	maxImageUpload = 20 << 20
	maxVideoUpload = 512 << 20
)

// StateReporter is a lazily loaded backend.
type StateReporter interface {
	State() detection.State
}

// StatsReporter exposes the pipeline counters.
type StatsReporter interface {
	Stats() pipeline.PipelineStats
}

// AlertHistory lists dispatched alerts.
type AlertHistory interface {
	ListAlerts(ctx context.Context, limit int) ([]*database.AlertRecord, error)
}

// Deps are the components the handlers use.
type Deps struct {
	Auth       *auth.Authenticator
	Gallery    *gallery.Service
	Scan       *scan.Service
	Dispatcher *notify.Dispatcher
	History    AlertHistory
	Backends   map[string]StateReporter
	Pipeline   StatsReporter
	Logger     *log.Logger
	// Login and register requests per second per client IP.
	AuthRate float64
}

// Server holds the HTTP handlers.
type Server struct {
	Deps
	validate *validator.Validate
	mux      goahttp.Muxer
}

// Mount describes one mounted route.
type Mount struct {
	Method  string
	Verb    string
	Pattern string
}

// New creates the handler set.
func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = log.Default()
	}
	if deps.AuthRate <= 0 {
		deps.AuthRate = 1
	}
	return &Server{Deps: deps, validate: validator.New()}
}

// Mount registers every route on mux and returns the mounts for logging.
func (s *Server) Mount(mux goahttp.Muxer) []Mount {
	s.mux = mux
	limited := middleware.RateLimit(s.AuthRate)
	routes := []struct {
		name, verb, pattern string
		h                   http.Handler
	}{
		{"health", "GET", "/api/health", http.HandlerFunc(s.health)},
		{"login", "POST", "/api/auth/login", limited(http.HandlerFunc(s.login))},
		{"register", "POST", "/api/auth/register", limited(http.HandlerFunc(s.register))},
		{"list criminals", "GET", "/api/criminals", http.HandlerFunc(s.listCriminals)},
		{"upload image", "POST", "/api/criminals/upload-image", http.HandlerFunc(s.uploadCriminal)},
		{"upload webcam", "POST", "/api/criminals/upload-webcam", http.HandlerFunc(s.uploadCriminal)},
		{"delete criminal", "POST", "/api/criminals/delete", http.HandlerFunc(s.deleteCriminal)},
		{"image", "GET", "/api/images/{file}", http.HandlerFunc(s.serveImage)},
		{"detect image", "POST", "/api/detect/image", http.HandlerFunc(s.detectImage)},
		{"detect sketch", "POST", "/api/detect/sketch", http.HandlerFunc(s.detectSketch)},
		{"detect video", "POST", "/api/detect/video", http.HandlerFunc(s.detectVideo)},
		{"alert history", "GET", "/api/alerts", http.HandlerFunc(s.listAlerts)},
		{"manual alert", "POST", "/api/alerts/{channel}", http.HandlerFunc(s.sendAlert)},
	}

	mounts := make([]Mount, 0, len(routes))
	for _, rt := range routes {
		mux.Handle(rt.verb, rt.pattern, rt.h.ServeHTTP)
		mounts = append(mounts, Mount{Method: rt.name, Verb: rt.verb, Pattern: rt.pattern})
	}
	return mounts
}

// requestError is a client error reported as 400.
type requestError struct{ msg string }

func (e *requestError) Error() string { return e.msg }

func badRequest(msg string) error { return &requestError{msg: msg} }

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := goahttp.ResponseEncoder(r.Context(), w).Encode(v); err != nil {
		s.Logger.Printf("[%s] ERROR: encoding: %v", requestID(r.Context()), err)
	}
}

// fail maps err to a status code and writes {"detail": ...}.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	var reqErr *requestError
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &reqErr), errors.As(err, &verrs),
		errors.Is(err, gallery.ErrBadLabel), errors.Is(err, scan.ErrInvalidVideo),
		errors.Is(err, auth.ErrMissingFields), errors.Is(err, auth.ErrInvalidPhone),
		errors.Is(err, auth.ErrUserExists):
		status = http.StatusBadRequest
	case errors.Is(err, gallery.ErrNoFace):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, auth.ErrInvalidCredentials):
		status = http.StatusUnauthorized
	case errors.Is(err, gallery.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, detection.ErrBackendUnavailable):
		status = http.StatusServiceUnavailable
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		id := requestID(r.Context())
		s.Logger.Printf("[%s] ERROR: %s", id, msg)
		msg = "[" + id + "] internal error"
	}
	s.writeJSON(w, r, status, map[string]string{"detail": msg})
}

func requestID(ctx context.Context) string {
	if id, ok := ctx.Value(goamiddleware.RequestIDKey).(string); ok {
		return id
	}
	return "-"
}

// contact resolves the authenticated user's alert contact, or nil.
func (s *Server) contact(ctx context.Context) *notify.Contact {
	claims := middleware.GetUserFromContext(ctx)
	if claims == nil {
		return nil
	}
	return &notify.Contact{Username: claims.Username, Phone: claims.Phone, Email: claims.Email}
}

func decodeBody(r *http.Request, v any) error {
	return goahttp.RequestDecoder(r).Decode(v)
}
