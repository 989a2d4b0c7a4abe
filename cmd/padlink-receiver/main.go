package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/life-stream-dev/life-stream-go-padlink/internal/actuation"
	"github.com/life-stream-dev/life-stream-go-padlink/internal/config"
	"github.com/life-stream-dev/life-stream-go-padlink/internal/debounce"
	"github.com/life-stream-dev/life-stream-go-padlink/internal/event"
	"github.com/life-stream-dev/life-stream-go-padlink/internal/gamepad"
	"github.com/life-stream-dev/life-stream-go-padlink/internal/logger"
	"github.com/life-stream-dev/life-stream-go-padlink/internal/peer"
	"github.com/life-stream-dev/life-stream-go-padlink/internal/signaling"
	"github.com/life-stream-dev/life-stream-go-padlink/internal/utils"
)

func main() {
	configPath := pflag.StringP("config", "c", config.DefaultPath, "path to the configuration file")
	signalingURL := pflag.StringP("signaling", "s", "", "relay url, overrides peer.signaling_url")
	sessionFlag := pflag.String("session", "", "session id printed by the sender (required)")
	pflag.Parse()

	cfg, err := config.ReadConfigFrom(*configPath)
	if err != nil {
		logger.FatalF("Error occured while reading config %v", err)
		os.Exit(1)
	}
	if *signalingURL != "" {
		cfg.Peer.SignalingURL = *signalingURL
	}
	sessionID, err := uuid.Parse(*sessionFlag)
	if err != nil {
		logger.FatalF("--session must be the id printed by the sender: %v", err)
		os.Exit(2)
	}

	loggerCallback := logger.Init(cfg)
	cleaner := event.NewCleaner()
	cleaner.Init(loggerCallback)
	defer cleaner.Clean()

	fallback, err := gamepad.ParseProfile(cfg.Actuation.Profile)
	if err != nil {
		logger.FatalF("Invalid actuation profile: %v", err)
		return
	}
	client, err := signaling.NewClient(cfg.Peer.SignalingURL, utils.DurationOr(cfg.Peer.RequestTimeout, 45*time.Second))
	if err != nil {
		logger.FatalF("Invalid signaling configuration: %v", err)
		return
	}

	adapter := actuation.NewAdapter(&actuation.LogDevice{Name: cfg.AppName}, actuation.Options{
		Window:         utils.DurationOr(cfg.Actuation.DebounceWindow, debounce.DefaultWindow),
		PressThreshold: cfg.Actuation.PressThreshold,
		Fallback:       fallback,
	})
	cleaner.Add(adapter)

	ctx, cancel := context.WithCancel(context.Background())
	cleaner.Add(event.CallableFunc(func(context.Context) error {
		cancel()
		return nil
	}))

	answerer := peer.NewAnswerer(peer.FromConfig(cfg.Peer), client, adapter)
	go func() {
		err := answerer.Run(ctx, sessionID)
		switch {
		case err == nil:
			stats := adapter.Stats()
			logger.Info("Receiver finished", "accepted", stats.Accepted, "rejected", stats.Rejected, "signals", stats.Signals)
		case errors.Is(err, context.Canceled):
		default:
			logger.Error("Receiver stopped", "error", err)
		}
		_ = cleaner.Clean()
	}()
	<-cleaner.Done()
}
