package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Stream/internal/app/orch"
	"github.com/dkeye/Stream/internal/core"
)

var (
	ErrBackpressure = errors.New("backpressure")
	errConnClosed   = errors.New("connection closed")
)

// Options tunes every signal connection.
type Options struct {
	ReadLimit    int64
	WriteTimeout time.Duration
	// PingPeriod enables websocket keepalive pings when positive.
	PingPeriod time.Duration
	SendBuffer int
}

type SignalWSController struct {
	Orch    *orch.Orchestrator
	Limiter *RoomRateLimiter

	opts     Options
	handlers map[orch.Event]handlerFunc
}

func NewSignalWSController(o *orch.Orchestrator, limiter *RoomRateLimiter, opts Options) *SignalWSController {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 32
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	ctl := &SignalWSController{
		Orch:    o,
		Limiter: limiter,
		opts:    opts,
	}
	ctl.handlers = map[orch.Event]handlerFunc{}
	ctl.registerRoomHandlers()
	ctl.registerMediaHandlers()
	return ctl
}

// WsSignalConn is one participant's signal channel. Pushes never block:
// when the buffer is full the push fails and the caller applies its policy.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newWsSignalConn(ws *websocket.Conn, buffer int) *WsSignalConn {
	return &WsSignalConn{
		conn: ws,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

func (c *WsSignalConn) TrySend(b []byte) error {
	select {
	case <-c.done:
		return errConnClosed
	default:
	}
	select {
	case c.send <- b:
		return nil
	default:
		return ErrBackpressure
	}
}

// sendWait queues b even when the buffer is full. Responses go through here
// so every request gets its answer.
func (c *WsSignalConn) sendWait(ctx context.Context, b []byte) error {
	select {
	case c.send <- b:
		return nil
	case <-c.done:
		return errConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Push implements core.SignalConnection.
func (c *WsSignalConn) Push(event string, payload any) error {
	b, err := json.Marshal(eventFrame{Type: "event", Event: event, Data: payload})
	if err != nil {
		return err
	}
	return c.TrySend(b)
}

func (c *WsSignalConn) Close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and serves the connection until either
// side closes it. Each connection is its own session.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	sid := core.SessionID(uuid.NewString())
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("client", c.GetString("client_token")).Msg("new WS connection")

	conn := newWsSignalConn(ws, ctl.opts.SendBuffer)
	ctx, cancel := context.WithCancel(ctx)
	ctl.Orch.Attach(sid, conn, cancel)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, sid, conn)
}
