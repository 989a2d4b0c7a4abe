package main

import (
	"context"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/life-stream-dev/life-stream-go-padlink/internal/config"
	"github.com/life-stream-dev/life-stream-go-padlink/internal/database"
	"github.com/life-stream-dev/life-stream-go-padlink/internal/event"
	"github.com/life-stream-dev/life-stream-go-padlink/internal/logger"
	"github.com/life-stream-dev/life-stream-go-padlink/internal/mailbox"
	"github.com/life-stream-dev/life-stream-go-padlink/internal/server"
	"github.com/life-stream-dev/life-stream-go-padlink/internal/utils"
)

const memoryHistoryLimit = 64

func main() {
	configPath := pflag.StringP("config", "c", config.DefaultPath, "path to the configuration file")
	listen := pflag.StringP("listen", "l", "", "listen address, overrides relay.listen")
	pflag.Parse()

	cfg, err := config.ReadConfigFrom(*configPath)
	if err != nil {
		logger.FatalF("Error occured while reading config %v", err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.Relay.Listen = *listen
	}

	loggerCallback := logger.Init(cfg)
	logger.Debug("Application initializing...")
	cleaner := event.NewCleaner()
	cleaner.Init(loggerCallback)
	defer cleaner.Clean()

	var recorder database.Recorder
	if cfg.Database.Enabled {
		dbStore, dbCallback, err := database.ConnectDatabase(cfg)
		if err != nil {
			logger.FatalF("Error occured while initializing database, details: %v", err)
			return
		}
		cleaner.Add(dbCallback)
		recorder = dbStore
	} else {
		logger.Info("Database disabled, keeping session history in memory")
		recorder = database.NewMemoryStore(memoryHistoryLimit)
	}
	auditor := database.NewAuditor(recorder, cfg.AppName, utils.DurationOr(cfg.Database.OperationTimeout, 5*time.Second))
	cleaner.Add(auditor)

	store, err := mailbox.NewStore(mailbox.Options{
		FetchTimeout:    utils.DurationOr(cfg.Relay.FetchTimeout, mailbox.DefaultFetchTimeout),
		SessionTTL:      utils.DurationOr(cfg.Relay.SessionTTL, mailbox.DefaultSessionTTL),
		SweepInterval:   utils.DurationOr(cfg.Relay.SweepInterval, mailbox.DefaultSweepInterval),
		RetiredCapacity: cfg.Relay.RetiredCapacity,
		Observer:        auditor,
	})
	if err != nil {
		logger.FatalF("Error occured while creating mailbox store, details: %v", err)
		return
	}
	cleaner.Add(store)

	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	go store.RunSweeper(sweepCtx)
	cleaner.Add(event.CallableFunc(func(context.Context) error {
		stopSweeper()
		return nil
	}))

	srv := server.New(store, server.Options{
		MaxBodyBytes: cfg.Relay.MaxBodyBytes,
		History:      auditor,
	})
	cleaner.Add(srv)

	go func() {
		if err := srv.ListenAndServe(cfg.Relay.Listen); err != nil {
			logger.FatalF("Rendezvous server stopped: %v", err)
			_ = cleaner.Clean()
		}
	}()
	<-cleaner.Done()
}
