package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/yago-123/wormhole/pkg/relay/server"
)

const RelayShutdownTimeout = 5 * time.Second

func runRelay(args []string, logger *logrus.Logger) error {
	fs, verbose := newFlagSet("relay")
	configPath := fs.StringP("config", "c", "", "TOML configuration file")
	listen := fs.StringP("listen", "l", DefaultListenAddr, "address to listen on")
	slotTimeout := fs.Duration("slot-timeout", DefaultSlotTimeout, "how long a slot waits for the second peer")
	maxSlots := fs.Int("max-slots", DefaultMaxSlots, "number of slots the relay hands out")
	metrics := fs.Bool("metrics", false, "serve prometheus metrics on /metrics")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := LoadRelayConfig(*configPath)
	if err != nil {
		return err
	}

	// Flags given explicitly win over the file
	if fs.Changed("listen") {
		cfg.Listen = *listen
	}
	if fs.Changed("slot-timeout") {
		cfg.SlotTimeout = slotTimeout.String()
	}
	if fs.Changed("max-slots") {
		cfg.MaxSlots = *maxSlots
	}
	if fs.Changed("metrics") {
		cfg.Metrics = *metrics
	}
	if errValidate := cfg.validate(); errValidate != nil {
		return errValidate
	}

	if !*verbose {
		gin.SetMode(gin.ReleaseMode)
	}
	log := newLogger(logger, *verbose).WithName("relay")

	srv := server.NewRelay(
		server.WithSlotTimeout(cfg.slotTimeout),
		server.WithMaxSlots(cfg.MaxSlots),
		server.WithICEServers(cfg.WebRTCICEServers()),
		server.WithMetrics(cfg.Metrics),
		server.WithLogger(log),
	)

	if errStart := srv.Start(cfg.Listen); errStart != nil {
		return fmt.Errorf("start relay: %w", errStart)
	}

	// Graceful shutdown on SIGINT or SIGTERM
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	log.Info("Shutting down relay")

	ctx, cancel := context.WithTimeout(context.Background(), RelayShutdownTimeout)
	defer cancel()

	if errStop := srv.Stop(ctx); errStop != nil {
		return fmt.Errorf("relay shutdown failed: %w", errStop)
	}

	log.Info("Relay stopped")

	return nil
}
