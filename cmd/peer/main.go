// Command peer is a headless duocall client: it joins the relay and places or
// answers one call at a time, driven by commands on stdin.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/duocall/internal/adapters/cli"
	"github.com/dkeye/duocall/internal/adapters/rtc"
	sig "github.com/dkeye/duocall/internal/adapters/signal"
	"github.com/dkeye/duocall/internal/app/call"
	"github.com/dkeye/duocall/internal/config"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	zerolog.SetGlobalLevel(cfg.Level())

	api, err := rtc.NewAPI(log.With().Str("module", "pion").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("webrtc api")
	}
	factory := rtc.NewEngineFactory(api, rtc.ConfigFor(cfg.Peer.ICEServers))

	client, err := sig.Dial(ctx, cfg.Peer.SignalURL, sig.Options{
		ReadLimit:  cfg.ReadLimit,
		SendBuffer: cfg.SendBuffer,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("connect to relay")
	}
	defer client.Close()

	view := cli.NewConsoleView()
	session := call.NewSession(factory, client,
		call.WithView(view),
		call.WithAudioConfig(cfg.Peer.Audio),
	)
	if cfg.Peer.AutoAccept {
		view.AutoAccept(session.Accept)
	}

	ctx, stop := context.WithCancel(ctx)
	defer stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = session.Run(ctx)
	}()
	go func() {
		defer stop()
		if err := client.Run(ctx, session.HandleMessage); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("relay connection lost")
		}
	}()
	go func() {
		defer stop()
		if err := cli.Run(ctx, os.Stdin, session); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("console")
		}
	}()

	log.Info().Str("relay", cfg.Peer.SignalURL).Bool("auto_accept", cfg.Peer.AutoAccept).
		Msg("peer ready: call | accept | decline | end | mute | audio rate=.. channels=.. ec=on|off ns=on|off | status | quit")
	<-ctx.Done()
	<-done
	log.Info().Msg("peer exited")
}
