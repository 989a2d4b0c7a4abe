package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/life-stream-dev/life-stream-go-padlink/internal/config"
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
	replayPath := pflag.StringP("replay", "r", "", "JSON-lines snapshot file to stream instead of the demo sequence")
	loop := pflag.Bool("loop", false, "restart the replay file when it ends")
	profile := pflag.String("profile", string(gamepad.ProfileDInput), "profile tag of the demo sequence")
	pflag.Parse()

	cfg, err := config.ReadConfigFrom(*configPath)
	if err != nil {
		logger.FatalF("Error occured while reading config %v", err)
		os.Exit(1)
	}
	if *signalingURL != "" {
		cfg.Peer.SignalingURL = *signalingURL
	}

	loggerCallback := logger.Init(cfg)
	cleaner := event.NewCleaner()
	cleaner.Init(loggerCallback)
	defer cleaner.Clean()

	source, err := openSource(*replayPath, *loop, *profile)
	if err != nil {
		logger.FatalF("Error occured while opening input source: %v", err)
		return
	}
	client, err := signaling.NewClient(cfg.Peer.SignalingURL, utils.DurationOr(cfg.Peer.RequestTimeout, 45*time.Second))
	if err != nil {
		logger.FatalF("Invalid signaling configuration: %v", err)
		return
	}

	offerer := peer.NewOfferer(peer.FromConfig(cfg.Peer), client, source)
	offerer.OnSession = func(id uuid.UUID) {
		logger.Info("Session ready, start the receiver with this id", "session", id)
		fmt.Println(id.String())
	}

	ctx, cancel := context.WithCancel(context.Background())
	cleaner.Add(event.CallableFunc(func(context.Context) error {
		cancel()
		return nil
	}))

	go func() {
		err := offerer.Run(ctx)
		switch {
		case err == nil:
			logger.Info("Sender finished")
		case errors.Is(err, context.Canceled):
		default:
			logger.Error("Sender stopped", "error", err)
		}
		_ = cleaner.Clean()
	}()
	<-cleaner.Done()
}

func openSource(path string, loop bool, profile string) (gamepad.Source, error) {
	if path == "" {
		p, err := gamepad.ParseProfile(profile)
		if err != nil {
			return nil, err
		}
		logger.Info("No replay file given, streaming the demo sequence", "profile", p)
		return gamepad.NewReplaySource(gamepad.DemoStates(p, 10), true), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return gamepad.ReadReplay(f, loop)
}
