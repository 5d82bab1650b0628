// Package app constructs the facewatch components from configuration. The
// server and the CLI share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"facewatch/internal/alert"
	"facewatch/internal/auth"
	"facewatch/internal/config"
	"facewatch/internal/database"
	"facewatch/internal/detection"
	"facewatch/internal/gallery"
	"facewatch/internal/notify"
	"facewatch/internal/pipeline"
	"facewatch/internal/scan"
	"facewatch/internal/services"
	"facewatch/internal/vision"
)

// Options select optional parts of the build.
type Options struct {
	// Alerts wires the notification dispatcher into scanning.
	Alerts bool
}

// App holds the constructed components.
type App struct {
	Config     *config.Config
	DB         *database.Database
	Detector   *detection.FaceDetector
	Extractor  *detection.Extractor
	Mask       *detection.MaskCheck
	Pipeline   *pipeline.DetectionPipeline
	Gallery    *gallery.Service
	Gate       *alert.Gate
	Dispatcher *notify.Dispatcher
	Telegram   *notify.TelegramNotifier
	Bus        *pipeline.EventBus
	Scan       *scan.Service
	Auth       *auth.Authenticator

	mu      sync.Mutex
	closed  bool
	closers []io.Closer
}

// addCloser registers c for Close. Lazy backends load on request goroutines,
// so a closer added after Close is released immediately.
func (a *App) addCloser(c io.Closer) {
	a.mu.Lock()
	if !a.closed {
		a.closers = append(a.closers, c)
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()
	if err := c.Close(); err != nil {
		log.Printf("[App] Close after shutdown: %v", err)
	}
}

// Build opens the database and wires every component. Neural backends load
// lazily on first use.
func Build(cfg *config.Config, opts Options) (*App, error) {
	for _, w := range cfg.Validate() {
		log.Printf("[Config] %s", w)
	}

	db, err := database.New(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	a := &App{Config: cfg, DB: db, Bus: pipeline.NewEventBus()}
	a.addCloser(db)

	neural, err := a.neuralBackend(cfg.Detection)
	if err != nil {
		a.Close()
		return nil, err
	}

	var fallback detection.Locator
	if cascade, err := vision.NewCascade(cfg.Detection.CascadePath); err != nil {
		log.Printf("[App] Cascade fallback unavailable: %v", err)
	} else {
		fallback = cascade
		a.addCloser(cascade)
	}

	var (
		locator  *detection.Lazy[detection.Locator]
		embedder *detection.Lazy[detection.Embedder]
		mask     *detection.Lazy[detection.MaskClassifier]
	)
	if neural != nil {
		locator = detection.Derive(neural, func(n detection.Neural) detection.Locator { return n })
		embedder = detection.Derive(neural, func(n detection.Neural) detection.Embedder { return n })
		if cfg.Detection.Backend != string(detection.BackendDlib) {
			mask = detection.NewLazy(neural.Name()+"-mask", func() (detection.MaskClassifier, error) {
				n, err := neural.Get()
				if err != nil {
					return nil, err
				}
				mc, ok := n.(detection.MaskClassifier)
				if !ok {
					return nil, fmt.Errorf("%s backend has no mask classifier", neural.Name())
				}
				return mc, nil
			})
		}
	}

	a.Mask = detection.NewMaskCheck(mask)
	a.Detector = detection.NewFaceDetector(locator, fallback, a.Mask)
	a.Extractor = detection.NewExtractor(embedder, nil)
	a.Pipeline = pipeline.NewDetectionPipeline(a.Detector, a.Extractor, cfg.Detection.MatchThreshold)
	a.Gallery = gallery.NewService(db, a.Detector, a.Extractor, cfg.Storage.ImagesDir)

	a.Telegram = notify.NewTelegramNotifier(notify.TelegramConfig{BotToken: cfg.Telegram.BotToken, ChatID: cfg.Telegram.ChatID})
	a.Gate = alert.NewGate(cfg.Alerts.IdentityCooldown, cfg.Alerts.GlobalCooldown)
	a.Dispatcher = notify.NewDispatcher(a.Gate, notify.DispatcherConfig{
		DefaultSMSRecipient:   cfg.Alerts.DefaultSMSRecipient,
		DefaultEmailRecipient: cfg.Alerts.DefaultEmailRecipient,
		Location:              cfg.Alerts.Location,
	}, db,
		notify.NewSMSNotifier(notify.TwilioConfig{AccountSID: cfg.Twilio.AccountSID, AuthToken: cfg.Twilio.AuthToken, From: cfg.Twilio.From}),
		notify.NewPushoverNotifier(notify.PushoverConfig{AppToken: cfg.Pushover.AppToken, UserKey: cfg.Pushover.UserKey}),
		notify.NewEmailNotifier(notify.EmailConfig{APIKey: cfg.Email.ResendAPIKey, From: cfg.Email.From, MaxRetries: cfg.Email.MaxRetries}),
		a.Telegram,
	)

	var alerter scan.Alerter
	if opts.Alerts {
		alerter = a.Dispatcher
	}
	a.Scan = scan.NewService(a.Pipeline, a.Gallery, alerter, a.Bus, vision.EnhanceSketch, scan.Config{
		TargetFPS:  cfg.Video.TargetFPS,
		FrameLimit: cfg.Video.FrameLimit,
	})

	a.Auth = auth.NewAuthenticator(cfg.Auth.Enabled, db, auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.JWTExpiry))
	return a, nil
}

// neuralBackend returns the lazily loaded neural backend, or nil when
// detection runs on the fallbacks only. Clients that need no I/O to
// construct are created eagerly; the health check runs on first use.
func (a *App) neuralBackend(cfg config.DetectionConfig) (*detection.Lazy[detection.Neural], error) {
	backend, err := detection.ParseBackend(cfg.Backend)
	if err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	switch backend {
	case detection.BackendRemote:
		fr := detection.NewFaceRecognizer(detection.FaceRecognizerConfig{ServiceEndpoint: cfg.Endpoint, Timeout: timeout})
		return detection.NewLazy("remote", func() (detection.Neural, error) {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			if err := fr.CheckHealth(ctx); err != nil {
				return nil, err
			}
			return fr, nil
		}), nil

	case detection.BackendGRPC:
		fr, err := detection.NewGRPCFaceRecognizer(detection.GRPCFaceRecognizerConfig{Endpoint: cfg.GRPCEndpoint, Timeout: timeout})
		if err != nil {
			return nil, err
		}
		a.addCloser(fr)
		return detection.NewLazy("grpc", func() (detection.Neural, error) {
			if err := fr.CheckHealth(context.Background()); err != nil {
				return nil, err
			}
			return fr, nil
		}), nil

	case detection.BackendDlib:
		return detection.NewLazy("dlib", func() (detection.Neural, error) {
			if cfg.DlibModelsDir == "" {
				return nil, errors.New("DLIB_MODELS_DIR is not set")
			}
			rec, err := detection.NewDlibRecognizer(cfg.DlibModelsDir)
			if err != nil {
				return nil, err
			}
			a.addCloser(rec)
			return rec, nil
		}), nil

	case detection.BackendNone:
		return nil, nil
	}
	return nil, fmt.Errorf("unsupported detection backend %q", backend)
}

// Backends reports the lazily loaded components for health checks.
func (a *App) Backends() map[string]services.StateReporter {
	return map[string]services.StateReporter{
		"detector": a.Detector,
		"embedder": a.Extractor,
		"mask":     a.Mask,
	}
}

// Close waits for in-flight alerts and releases resources in reverse order.
func (a *App) Close() error {
	if a.Dispatcher != nil {
		a.Dispatcher.Wait()
	}
	if a.Bus != nil {
		a.Bus.Close()
	}
	a.mu.Lock()
	closers := a.closers
	a.closers = nil
	a.closed = true
	a.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
