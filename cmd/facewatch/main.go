package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"facewatch/internal/app"
	"facewatch/internal/config"
	"facewatch/internal/stream"
	"facewatch/internal/telegram"
)

func main() {
	var (
		configF   = flag.String("config", "", "Path to a YAML config file")
		hostF     = flag.String("host", "", "Listen host (overrides FACEWATCH_HOST)")
		httpPortF = flag.String("http-port", "", "HTTP port (overrides FACEWATCH_PORT)")
		dbgF      = flag.Bool("debug", false, "Log request and response bodies")
	)
	flag.Parse()

	logger := log.New(os.Stderr, "[facewatch] ", log.Ltime)

	cfg, err := config.Load(*configF)
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	if *hostF != "" {
		cfg.Server.Host = *hostF
	}
	if *httpPortF != "" {
		port, err := strconv.Atoi(*httpPortF)
		if err != nil {
			logger.Fatalf("invalid port %q: %v", *httpPortF, err)
		}
		cfg.Server.Port = port
	}
	if *dbgF {
		cfg.Server.Debug = true
	}
	if _, _, err := net.SplitHostPort(cfg.Addr()); err != nil {
		logger.Fatalf("invalid listen address %q: %v", cfg.Addr(), err)
	}

	a, err := app.Build(cfg, app.Options{Alerts: true})
	if err != nil {
		logger.Fatalf("failed to initialize: %v", err)
	}
	logger.Printf("detection backend %q, match threshold %.2f", cfg.Detection.Backend, a.Pipeline.Threshold())
	if a.Auth.IsEnabled() {
		logger.Println("authentication enabled")
	}

	// Create channel used by both the signal handler and server goroutines
	// to notify the main goroutine when to stop the server.
	errc := make(chan error)

	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())

	feed := stream.NewMJPEGFeed()
	detachFeed := feed.Attach(a.Bus)
	defer detachFeed()

	handleHTTPServer(ctx, cfg.Addr(), a, feed, &wg, errc, logger, cfg.Server.Debug)

	if cfg.Telegram.Commands {
		bot := telegram.NewCommandBot(telegram.Config{BotToken: cfg.Telegram.BotToken, ChatID: cfg.Telegram.ChatID}, a.Telegram, telegram.Deps{
			Backends: map[string]telegram.StateReporter{"detector": a.Detector, "embedder": a.Extractor, "mask": a.Mask},
			Gallery:  a.Gallery,
			History:  a.DB,
			Frames:   feed,
			Stats:    a.Pipeline,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := bot.Run(ctx); err != nil {
				logger.Printf("telegram commands disabled: %v", err)
			}
		}()
	}

	logger.Printf("exiting (%v)", <-errc)

	cancel()

	wg.Wait()
	if err := a.Close(); err != nil {
		logger.Printf("failed to release resources: %v", err)
	}
	logger.Println("exited")
}
