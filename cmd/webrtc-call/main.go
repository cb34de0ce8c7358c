package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/call"
	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/media"
	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/signaling"
	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/webrtcpeer"
)

func main() {
	cfg, err := config.LoadClient(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	// Construct the WebRTC API early so bad network settings fail before we
	// connect to the relay.
	api, err := webrtcpeer.NewAPI(cfg.WebRTC, logger)
	if err != nil {
		logger.Error("failed to configure webrtc", "err", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	client, err := signaling.Dial(dialCtx, signaling.ClientConfig{
		URL:             cfg.RelayURL,
		Username:        cfg.Username,
		Password:        cfg.Password,
		Token:           cfg.Token,
		Origin:          cfg.Origin,
		MaxMessageBytes: cfg.MaxMessageBytes,
		PingInterval:    cfg.PingInterval,
		Logger:          logger,
	})
	cancel()
	if err != nil {
		logger.Error("failed to connect to relay", "relay_url", cfg.RelayURL, "err", err)
		os.Exit(1)
	}
	logger.Info("connected to relay", "relay_url", cfg.RelayURL, "username", cfg.Username)

	ui := newConsole(os.Stdout)
	feeder := newSilenceFeeder(logger)
	m := metrics.New()
	mgr := call.New(call.Config{
		Self:   cfg.Username,
		Sender: client,
		Conns: webrtcpeer.Factory{
			API:        api,
			ICEServers: cfg.WebRTC.ICEServers,
		},
		Media:              feeder.wrap(media.SampleSource{StreamID: uuid.NewString()}),
		Constraints:        media.Constraints{Audio: cfg.Audio, Video: cfg.Video},
		Observer:           ui,
		NegotiationTimeout: cfg.NegotiationTimeout,
		Logger:             logger,
		Metrics:            m,
	})

	ctx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	mgrDone := make(chan struct{})
	go func() {
		defer close(mgrDone)
		_ = mgr.Run(ctx)
	}()
	go feeder.run(ctx)
	go func() {
		err := client.Run(ctx, mgr.HandleInbound)
		mgr.ChannelClosed(err)
		if ctx.Err() == nil {
			ui.StatusChanged("disconnected from relay")
			cancelRun()
		}
	}()

	if cfg.CallTarget != "" {
		if err := mgr.StartCall(ctx, cfg.CallTarget); err != nil {
			logger.Error("failed to start call", "target", cfg.CallTarget, "err", err)
		}
	}

	ui.printHelp()
	runConsole(ctx, os.Stdin, ui, mgr)
	cancelRun()
	<-mgrDone
	_ = client.Close()

	logger.Info("client stopped", "metrics", m.Snapshot())
}
