package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jkporter/noond/internal/config"
	"github.com/jkporter/noond/internal/core/auth"
	"github.com/jkporter/noond/internal/core/client"
	"github.com/jkporter/noond/internal/core/transport"
	"github.com/jkporter/noond/internal/httpapi"
	"github.com/jkporter/noond/internal/mqtt"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := setupLogger(cfg.Log)
	slog.SetDefault(log)

	if cfg.Noon.Username == "" || cfg.Noon.Password == "" {
		log.Error("noon credentials are required (noon.username / noon.password or NOON_USERNAME / NOON_PASSWORD)")
		os.Exit(1)
	}

	if err := run(cfg, log); err != nil {
		log.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpClient := transport.NewClient(log)
	session := auth.NewSession(auth.Config{
		LoginURL: cfg.Noon.LoginURL,
		RenewURL: cfg.Noon.RenewURL,
		DexURL:   cfg.Noon.DexURL,
		Username: cfg.Noon.Username,
		Password: cfg.Noon.Password,
	}, httpClient, nil, log)

	noon := client.New(client.Config{
		Session:            session,
		HTTP:               httpClient,
		Dialer:             transport.NewWSDialer(time.Duration(cfg.Stream.KeepaliveSeconds)*time.Second, log),
		ReconnectThreshold: time.Duration(cfg.Stream.ReconnectThresholdSeconds) * time.Second,
		Logger:             log,
	})

	log.Info("authenticating with Noon cloud")
	if err := noon.Authenticate(ctx); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}

	log.Info("discovering topology")
	if err := noon.DiscoverDevices(ctx); err != nil {
		return fmt.Errorf("discover: %w", err)
	}
	log.Info("discovery complete",
		"spaces", len(noon.Spaces()),
		"lines", len(noon.Lines()),
		"devices", len(noon.Devices()))

	if err := noon.Connect(ctx); err != nil {
		return fmt.Errorf("connect stream: %w", err)
	}
	defer noon.Disconnect()

	var publisher mqtt.Publisher
	if cfg.MQTT.Enabled {
		publisher = mqtt.NewHAPublisher(mqtt.Config{
			Broker:      cfg.MQTT.Broker,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			DeviceID:    cfg.MQTT.DeviceID,
		}, noon, log)
	} else {
		publisher = mqtt.NewStubPublisher(log)
	}
	if err := publisher.Start(ctx); err != nil {
		return fmt.Errorf("start mqtt: %w", err)
	}

	var api *httpapi.Server
	if cfg.HTTP.Enabled {
		api = httpapi.New(httpapi.Config{
			Addr:    cfg.HTTP.Addr,
			CORSAll: cfg.HTTP.CORSAll,
		}, noon, log)
		if err := api.Start(); err != nil {
			return fmt.Errorf("start http api: %w", err)
		}
	}

	log.Info("noond running")

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-noon.StreamErrors():
		runErr = fmt.Errorf("notification stream: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if api != nil {
		if err := api.Stop(shutdownCtx); err != nil {
			log.Warn("http shutdown error", "error", err)
		}
	}
	if err := publisher.Stop(shutdownCtx); err != nil {
		log.Warn("mqtt shutdown error", "error", err)
	}

	return runErr
}

func setupLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
