package signal

import (
	"context"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/duocall/internal/core"
	"github.com/dkeye/duocall/internal/domain"
)

// Client is the peer's end of the relay. It satisfies call.Signaler.
type Client struct {
	conn   *WsSignalConn
	opts   Options
	logger zerolog.Logger
}

func Dial(ctx context.Context, url string, opts Options) (*Client, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", core.ErrTransport, url, err)
	}
	c := &Client{
		conn:   NewWsSignalConn(ws, opts.SendBuffer),
		opts:   opts,
		logger: log.With().Str("module", "signal").Str("url", url).Logger(),
	}
	c.logger.Info().Msg("connected to relay")
	return c, nil
}

func (c *Client) Send(env domain.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}
	if err := c.conn.TrySend(data); err != nil {
		return fmt.Errorf("%w: %w", core.ErrTransport, err)
	}
	return nil
}

// Run pumps frames until the connection drops or ctx ends. Inbound frames go to onMessage.
// The relay pings; the client only answers, so no read deadline is applied here.
func (c *Client) Run(ctx context.Context, onMessage func([]byte)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.conn.writePump(ctx, 0, c.logger)
	readOpts := c.opts
	readOpts.PongWait = 0
	err := c.conn.readPump(ctx, readOpts, c.logger, onMessage)
	c.conn.Close()
	if err != nil {
		logReadEnd(c.logger, err)
		return fmt.Errorf("%w: %w", core.ErrTransport, err)
	}
	return ctx.Err()
}

func (c *Client) State() domain.ConnState { return c.conn.State() }

func (c *Client) Close() { c.conn.Close() }
