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

	"github.com/boothclub/booth/internal/admin"
	"github.com/boothclub/booth/internal/backend"
	"github.com/boothclub/booth/internal/console"
	"github.com/boothclub/booth/internal/relay"
	"github.com/boothclub/booth/internal/stream"
)

const (
	appNamespace = "STAFF"
	appName      = "staff"
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

	adminToken, _ := config.GetString("admin.token")
	if adminToken == "" {
		logger.Info("no admin.token configured, transitions will require sign-in")
	}

	data := console.NewOrderDataAccess(client, adminToken)
	cache := console.NewCache(data, logger)
	adminChannel := admin.NewChannel(client, adminToken, logger)
	broadcaster := console.NewBroadcaster(logger)

	handler := console.NewHandler(cache, adminChannel, broadcaster, logger)
	prep, _ := config.GetString("queue.prep_time")
	if prep != "" {
		if d, err := time.ParseDuration(prep); err == nil {
			handler.SetPrepTime(d)
		} else {
			logger.Error("invalid queue.prep_time, using default", "value", prep)
		}
	}

	relayURL, _ := config.GetString("relay.url")
	if relayURL != "" {
		publisher, err := relay.NewPublisher(relayURL)
		if err != nil {
			log.Fatalf("Cannot connect to booth relay: %v", err)
		}
		defer publisher.Close()
		handler.SetPublisher(publisher)
	}

	streamURL, _ := config.GetString("backend.stream_url")
	if streamURL == "" {
		streamURL = backendURL + "/orders/stream"
	}
	channel := stream.NewChannel(stream.NewClient(streamURL, logger), logger)
	watcher := stream.NewWatcher(channel, handler.Apply, handler.Refresh, logger)

	stack := middleware.DefaultStack(middleware.StackOptions{
		Logger: logger,
	})

	options := []aqm.Option{
		aqm.WithConfig(config),
		aqm.WithLogger(logger),
		aqm.WithHTTPMiddleware(stack...),
		aqm.WithHTTPServerModules("web.port", handler),
		aqm.WithLifecycle(watcher),
		aqm.WithHealthChecks(appName),
	}

	ms := aqm.NewMicro(options...)
	logger.Infof("Starting %s(%s)", appName, appVersion)

	if err := ms.Run(ctx); err != nil {
		log.Fatalf("%s(%s) stopped with error: %v", appName, appVersion, err)
	}

	logger.Infof("%s(%s) stopped", appName, appVersion)
}
