package signal

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// writePump is the only writer of c.conn apart from Close's control frame.
func (c *WsSignalConn) writePump(ctx context.Context, pingPeriod time.Duration, logger zerolog.Logger) {
	var tick <-chan time.Time
	if pingPeriod > 0 {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		tick = ticker.C
	}
	defer c.Close()

	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				logger.Debug().Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logger.Error().Err(err).Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Error().Err(err).Msg("writePump write error")
				return
			}
		case <-tick:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logger.Warn().Err(err).Msg("writePump ping failed")
				return
			}
		}
	}
}

// readPump hands every inbound data frame to onFrame until the socket fails or ctx ends.
func (c *WsSignalConn) readPump(ctx context.Context, opts Options, logger zerolog.Logger, onFrame func([]byte)) error {
	if opts.ReadLimit > 0 {
		c.conn.SetReadLimit(opts.ReadLimit)
	}
	if opts.PongWait > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(opts.PongWait))
		c.conn.SetPongHandler(func(string) error {
			return c.conn.SetReadDeadline(time.Now().Add(opts.PongWait))
		})
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if opts.PongWait > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(opts.PongWait))
		}
		logger.Trace().Int("bytes", len(data)).Msg("frame in")
		onFrame(data)
	}
}
