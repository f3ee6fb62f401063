package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aquamarinepk/aqm"
	"github.com/aquamarinepk/aqm/middleware"

	"github.com/boothclub/booth/internal/backend"
	"github.com/boothclub/booth/internal/kiosk"
	"github.com/boothclub/booth/internal/ordering"
	"github.com/boothclub/booth/internal/session"
	"github.com/boothclub/booth/internal/stream"
)

const (
	appNamespace = "KIOSK"
	appName      = "kiosk"
	appVersion   = "0.1.0"
)

func main() {
	config, err := aqm.LoadConfig(appNamespace, os.Args[1:])
	if err != nil {
		log.Fatalf("Cannot setup %s(%s): %v", appName, appVersion, err)
	}

	logLevel, _ := config.GetString("log.level")
	logger := aqm.NewLogger(logLevel)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT,
	)
	defer stop()

	backendURL, _ := config.GetString("backend.url")
	if backendURL == "" {
		log.Fatalf("backend.url is required")
	}
	client := backend.NewClient(backendURL, logger)

	sessionFile, _ := config.GetString("session.file")
	var store *session.Store
	if sessionFile != "" {
		store = session.NewFileStore(sessionFile, logger)
	} else {
		store = session.NewStore(logger)
	}

	gate := session.NewGate(store, client, logger)
	submitter := ordering.NewSubmitter(gate, client, logger)

	handler := kiosk.NewHandler(gate, submitter, client, logger)

	streamURL, _ := config.GetString("backend.stream_url")
	if streamURL == "" {
		streamURL = backendURL + "/orders/stream"
	}
	handler.SetStream(stream.NewClient(streamURL, logger))

	prep, _ := config.GetString("queue.prep_time")
	if prep != "" {
		if d, err := time.ParseDuration(prep); err == nil {
			handler.SetPrepTime(d)
		} else {
			logger.Error("invalid queue.prep_time, using default", "value", prep)
		}
	}

	stack := middleware.DefaultStack(middleware.StackOptions{
		Logger: logger,
	})

	options := []aqm.Option{
		aqm.WithConfig(config),
		aqm.WithLogger(logger),
		aqm.WithHTTPMiddleware(stack...),
		aqm.WithHTTPServerModules("web.port", handler),
		aqm.WithHealthChecks(appName),
	}

	ms := aqm.NewMicro(options...)
	logger.Infof("Starting %s(%s)", appName, appVersion)

	if err := ms.Run(ctx); err != nil {
		log.Fatalf("%s(%s) stopped with error: %v", appName, appVersion, err)
	}

	logger.Infof("%s(%s) stopped", appName, appVersion)
}
