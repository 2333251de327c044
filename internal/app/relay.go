package app

import (
	"errors"

	"github.com/dkeye/duocall/internal/core"
	"github.com/dkeye/duocall/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Relay fans every inbound frame out to all other live connections.
// It has no notion of calls or sessions: every connected client shares one flat room.
type Relay struct {
	Registry *Registry
	Policy   Policy
	Limiter  *RateLimiter

	logger zerolog.Logger
}

func NewRelay(policy Policy, limiter *RateLimiter) *Relay {
	return &Relay{
		Registry: NewRegistry(),
		Policy:   policy,
		Limiter:  limiter,
		logger:   log.With().Str("module", "relay").Logger(),
	}
}

func (r *Relay) OnConnect(id core.ConnID, conn core.SignalConnection) int {
	n := r.Registry.Add(id, conn)
	r.logger.Info().Str("conn", string(id)).Int("total", n).Msg("client connected")
	return n
}

func (r *Relay) OnDisconnect(id core.ConnID) int {
	n, ok := r.Registry.Remove(id)
	r.Limiter.Forget(id)
	if ok {
		r.logger.Info().Str("conn", string(id)).Int("total", n).Msg("client disconnected")
	}
	return n
}

func (r *Relay) Count() int { return r.Registry.Count() }

// OnMessage forwards data unmodified to every open connection except from.
// A failed send to one recipient never affects the others.
func (r *Relay) OnMessage(from core.ConnID, data core.Frame) core.PublishResult {
	res := core.PublishResult{}
	if !r.Limiter.Allow(from) {
		r.logger.Warn().Str("conn", string(from)).Msg("rate limit exceeded, message dropped")
		res.Limited = true
		return res
	}

	if r.logger.GetLevel() <= zerolog.DebugLevel {
		r.logger.Debug().Str("conn", string(from)).Str("head", preview(data)).Msg("relaying message")
	}

	var kicked []core.ConnID
	for id, conn := range r.Registry.Snapshot() {
		if id == from {
			continue
		}
		if conn.State() != domain.ConnOpen {
			res.Skipped++
			continue
		}
		err := conn.TrySend(data)
		switch {
		case err == nil:
			res.SendTo++
		case errors.Is(err, core.ErrBackpressure):
			res.Dropped = append(res.Dropped, id)
			if r.Policy != nil && r.Policy.OnBackPressure(id, conn) == KickMember {
				kicked = append(kicked, id)
			}
		default:
			r.logger.Warn().Err(err).Str("conn", string(id)).Msg("send failed")
			res.Skipped++
		}
	}

	for _, id := range kicked {
		r.kick(id)
	}

	r.logger.Debug().
		Str("from", string(from)).
		Int("sent_to", res.SendTo).
		Int("dropped", len(res.Dropped)).
		Int("skipped", res.Skipped).
		Msg("broadcast result")
	return res
}

func (r *Relay) kick(id core.ConnID) {
	conn, ok := r.Registry.Get(id)
	if !ok {
		return
	}
	r.logger.Warn().Str("conn", string(id)).Msg("kicking slow client")
	conn.Close()
	r.OnDisconnect(id)
}

func preview(data []byte) string {
	const n = 50
	if len(data) > n {
		return string(data[:n]) + "…"
	}
	return string(data)
}
