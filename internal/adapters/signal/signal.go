// Package signal carries relay frames over websockets, on both ends: the relay's
// upgrade handler and the peer's dialing client.
package signal

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/duocall/internal/app"
	"github.com/dkeye/duocall/internal/core"
	"github.com/dkeye/duocall/internal/domain"
)

const writeWait = 5 * time.Second

// Options tune one websocket connection.
type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	// PongWait is the read deadline, refreshed by every pong. Zero disables it.
	PongWait   time.Duration
	SendBuffer int
}

func DefaultOptions() Options {
	return Options{
		ReadLimit:  32768,
		PingPeriod: 54 * time.Second,
		PongWait:   60 * time.Second,
		SendBuffer: 64,
	}
}

// WsSignalConn is a websocket with a bounded outbound queue drained by writePump.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu    sync.RWMutex
	state atomic.Int32
}

func NewWsSignalConn(ws *websocket.Conn, buffer int) *WsSignalConn {
	if buffer <= 0 {
		buffer = 1
	}
	return &WsSignalConn{conn: ws, send: make(chan core.Frame, buffer)}
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.State() != domain.ConnOpen {
		return core.ErrConnectionClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) State() domain.ConnState { return domain.ConnState(c.state.Load()) }

// Close is idempotent. A close frame is attempted before the socket is dropped.
func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.State() != domain.ConnOpen {
		c.mu.Unlock()
		return
	}
	c.state.Store(int32(domain.ConnClosing))
	close(c.send)
	c.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = c.conn.Close()
	c.state.Store(int32(domain.ConnClosed))
}

// SignalWSController accepts relay clients.
type SignalWSController struct {
	Relay *app.Relay
	opts  Options
}

func NewSignalWSController(relay *app.Relay, opts Options) *SignalWSController {
	return &SignalWSController{Relay: relay, opts: opts}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// IsUpgrade reports whether the request asks for a websocket.
func IsUpgrade(c *gin.Context) bool { return websocket.IsWebSocketUpgrade(c.Request) }

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	id := core.ConnID(uuid.NewString())
	logger := log.With().
		Str("module", "signal").
		Str("conn", string(id)).
		Str("client", c.GetString("client_token")).
		Logger()

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error().Err(err).Msg("ws upgrade")
		return
	}

	conn := NewWsSignalConn(ws, ctl.opts.SendBuffer)
	ctl.Relay.OnConnect(id, conn)

	ctx, cancel := context.WithCancel(ctx)
	go conn.writePump(ctx, ctl.opts.PingPeriod, logger)
	go func() {
		defer func() {
			cancel()
			ctl.Relay.OnDisconnect(id)
			conn.Close()
		}()
		err := conn.readPump(ctx, ctl.opts, logger, func(data []byte) {
			ctl.Relay.OnMessage(id, data)
		})
		logReadEnd(logger, err)
	}()
}

func logReadEnd(logger zerolog.Logger, err error) {
	if err == nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		logger.Info().Msg("readPump closing")
		return
	}
	logger.Warn().Err(err).Msg("readPump read error")
}
