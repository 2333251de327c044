// Package cli is the terminal front end of the headless peer.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/duocall/internal/app/call"
	"github.com/dkeye/duocall/internal/domain"
)

var (
	ErrQuit           = errors.New("quit")
	ErrUnknownCommand = errors.New("unknown command")
)

// Controller is the part of call.Session the console drives.
type Controller interface {
	Call() error
	Accept() error
	Decline() error
	End() error
	ToggleMute() error
	ApplyAudioConfig(domain.AudioConfig) error
	State() call.State
}

// ConsoleView logs every render and optionally answers incoming calls on its own.
type ConsoleView struct {
	logger     zerolog.Logger
	autoAccept func()
	last       domain.Phase
	switching  bool
}

func NewConsoleView() *ConsoleView {
	return &ConsoleView{logger: log.With().Str("module", "cli").Logger(), last: -1}
}

// AutoAccept makes the view accept as soon as an offer is pending.
// accept runs on its own goroutine since Render is called from the session loop.
func (v *ConsoleView) AutoAccept(accept func() error) {
	v.autoAccept = func() {
		go func() {
			if err := accept(); err != nil {
				v.logger.Warn().Err(err).Msg("auto accept")
			}
		}()
	}
}

func (v *ConsoleView) Render(c call.Controls) {
	if c.Phase == v.last && c.Switching == v.switching {
		return
	}
	v.last, v.switching = c.Phase, c.Switching
	ev := v.logger.Info().
		Str("phase", c.Phase.String()).
		Str("role", c.Role.String()).
		Strs("actions", actions(c))
	if c.CanMute {
		ev = ev.Str("mute", c.MuteLabel)
	}
	if c.Switching {
		ev = ev.Bool("switching_audio", true)
	}
	ev.Msg("call state")

	if c.CanAccept && v.autoAccept != nil {
		v.autoAccept()
	}
}

func (v *ConsoleView) ReportError(err error) {
	v.logger.Error().Err(err).Msg("call failed")
}

func actions(c call.Controls) []string {
	var out []string
	for _, a := range []struct {
		ok   bool
		name string
	}{
		{c.CanCall, "call"},
		{c.CanAccept, "accept"},
		{c.CanDecline, "decline"},
		{c.CanEnd, "end"},
		{c.CanMute, "mute"},
		{c.CanApply, "audio"},
	} {
		if a.ok {
			out = append(out, a.name)
		}
	}
	return out
}

// Run reads commands from r until EOF, ctx ends or "quit".
func Run(ctx context.Context, r io.Reader, ctl Controller) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			err := Execute(line, ctl)
			switch {
			case errors.Is(err, ErrQuit):
				return nil
			case err != nil:
				log.Warn().Str("module", "cli").Err(err).Str("line", line).Msg("command rejected")
			}
		}
	}
}

// Execute runs one command line against ctl.
func Execute(line string, ctl Controller) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	switch strings.ToLower(fields[0]) {
	case "call":
		return ctl.Call()
	case "accept":
		return ctl.Accept()
	case "decline":
		return ctl.Decline()
	case "end", "hangup":
		return ctl.End()
	case "mute", "unmute":
		return ctl.ToggleMute()
	case "audio":
		cfg, err := ParseAudio(ctl.State().Audio, fields[1:])
		if err != nil {
			return err
		}
		return ctl.ApplyAudioConfig(cfg)
	case "status":
		st := ctl.State()
		log.Info().Str("module", "cli").
			Str("phase", st.Phase.String()).
			Str("role", st.Role.String()).
			Bool("muted", st.Muted).
			Interface("audio", st.Audio).
			Msg("status")
		return nil
	case "quit", "exit":
		return ErrQuit
	}
	return fmt.Errorf("%w: %q", ErrUnknownCommand, fields[0])
}

// ParseAudio applies key=value pairs (rate, channels, ec, ns) over base.
func ParseAudio(base domain.AudioConfig, args []string) (domain.AudioConfig, error) {
	cfg := base
	for _, arg := range args {
		key, val, ok := strings.Cut(arg, "=")
		if !ok {
			return base, fmt.Errorf("audio: expected key=value, got %q", arg)
		}
		var err error
		switch key {
		case "rate":
			cfg.SampleRate, err = strconv.Atoi(val)
		case "channels":
			cfg.ChannelCount, err = strconv.Atoi(val)
		case "ec":
			cfg.EchoCancellation, err = parseSwitch(val)
		case "ns":
			cfg.NoiseSuppression, err = parseSwitch(val)
		default:
			err = fmt.Errorf("unknown key %q", key)
		}
		if err != nil {
			return base, fmt.Errorf("audio %s: %w", key, err)
		}
	}
	return cfg, nil
}

func parseSwitch(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "on", "yes":
		return true, nil
	case "off", "no":
		return false, nil
	}
	return strconv.ParseBool(v)
}
