package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	goahttp "goa.design/goa/v3/http"
	httpmdlwr "goa.design/goa/v3/http/middleware"
	"goa.design/goa/v3/middleware"

	"facewatch/internal/app"
	authmw "facewatch/internal/middleware"
	"facewatch/internal/services"
	"facewatch/internal/stream"
	"facewatch/internal/ws"
)

// Paths reachable without a token when authentication is enabled.
var publicPrefixes = []string{"/api/health", "/api/auth/", "/api/images/"}

// handleHTTPServer configures and starts the HTTP server on addr. It shuts
// the server down when ctx is cancelled.
func handleHTTPServer(ctx context.Context, addr string, a *app.App, feed *stream.MJPEGFeed, wg *sync.WaitGroup, errc chan error, logger *log.Logger, debug bool) {
	adapter := middleware.NewLogger(logger)

	mux := goahttp.NewMuxer()

	svc := services.New(services.Deps{
		Auth:       a.Auth,
		Gallery:    a.Gallery,
		Scan:       a.Scan,
		Dispatcher: a.Dispatcher,
		History:    a.DB,
		Backends:   a.Backends(),
		Pipeline:   a.Pipeline,
		Logger:     logger,
		AuthRate:   a.Config.Auth.LoginPerSecond,
	})
	mounts := svc.Mount(mux)

	hub := ws.NewDetectionHub()
	detach := hub.Attach(a.Bus)
	mux.Handle("GET", "/ws/detections", ws.NewHandler(hub).ServeHTTP)
	mounts = append(mounts, services.Mount{Method: "detections", Verb: "GET", Pattern: "/ws/detections"})

	mux.Handle("GET", "/api/live/mjpeg", feed.ServeHTTP)
	mux.Handle("GET", "/api/live/snapshot", feed.ServeSnapshot)
	mounts = append(mounts,
		services.Mount{Method: "live mjpeg", Verb: "GET", Pattern: "/api/live/mjpeg"},
		services.Mount{Method: "live snapshot", Verb: "GET", Pattern: "/api/live/snapshot"},
	)

	// Middlewares mounted here apply to every route. Auth runs inside the
	// request ID so rejected requests are still logged with an ID.
	var handler http.Handler = mux
	{
		if debug {
			handler = httpmdlwr.Debug(mux, os.Stdout)(handler)
		}
		handler = authmw.AuthMiddleware(a.Auth, publicPrefixes...)(handler)
		handler = httpmdlwr.Log(adapter)(handler)
		handler = httpmdlwr.RequestID()(handler)
	}

	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: time.Second * 60}
	for _, m := range mounts {
		logger.Printf("HTTP %q mounted on %s %s", m.Method, m.Verb, m.Pattern)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()

		go func() {
			logger.Printf("HTTP server listening on %q", addr)
			errc <- srv.ListenAndServe()
		}()

		<-ctx.Done()
		logger.Printf("shutting down HTTP server at %q", addr)
		detach()

		// Shutdown gracefully with a 30s timeout.
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Printf("failed to shutdown: %v", err)
		}
	}()
}
