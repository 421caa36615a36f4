package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Stream/internal/app/orch"
	"github.com/dkeye/Stream/internal/core"
	"github.com/dkeye/Stream/internal/domain"
)

type inboundFrame struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type responseFrame struct {
	Type  string `json:"type"`
	ID    int64  `json:"id"`
	OK    bool   `json:"ok"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`
}

type eventFrame struct {
	Type  string `json:"type"`
	Event string `json:"event"`
	Data  any    `json:"data"`
}

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	defer c.Close()

	var ping <-chan time.Time
	if ctl.opts.PingPeriod > 0 {
		ticker := time.NewTicker(ctl.opts.PingPeriod)
		defer ticker.Stop()
		ping = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			return
		case <-c.done:
			return
		case <-ping:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctl.opts.WriteTimeout)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		case data := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.opts.WriteTimeout)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

// readPump handles requests one at a time, so events from one participant
// are processed in order. Its exit is the disconnect of the session.
func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, sid core.SessionID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		cancel()
		c.Close()
		ctl.Orch.Disconnect(sid)
		if ctl.Limiter != nil {
			ctl.Limiter.Forget(sid)
		}
	}()

	if ctl.opts.ReadLimit > 0 {
		c.conn.SetReadLimit(ctl.opts.ReadLimit)
	}
	if ctl.opts.PingPeriod > 0 {
		wait := 2 * ctl.opts.PingPeriod
		_ = c.conn.SetReadDeadline(time.Now().Add(wait))
		c.conn.SetPongHandler(func(string) error {
			return c.conn.SetReadDeadline(time.Now().Add(wait))
		})
	}

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
			}
			return
		}
		ctl.handleSignal(ctx, sid, c, data)
		if ctx.Err() != nil {
			return
		}
	}
}

func (ctl *SignalWSController) handleSignal(ctx context.Context, sid core.SessionID, c *WsSignalConn, data []byte) {
	var in inboundFrame
	if err := json.Unmarshal(data, &in); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad json")
		ctl.respond(ctx, c, 0, nil, fmt.Errorf("%w: %v", domain.ErrBadRequest, err))
		return
	}
	if in.Type == "ping" {
		ctl.handlePing(c)
		return
	}

	h, ok := ctl.handlers[orch.Event(in.Type)]
	if !ok {
		log.Warn().Str("module", "signal").Str("type", in.Type).Msg("unknown signal")
		ctl.respond(ctx, c, in.ID, nil, fmt.Errorf("%w: unknown event %q", domain.ErrBadRequest, in.Type))
		return
	}
	resp, err := ctl.call(ctx, h, sid, in.Data)
	if err != nil {
		log.Info().Err(err).Str("module", "signal").Str("sid", string(sid)).Str("type", in.Type).Msg("request failed")
	}
	ctl.respond(ctx, c, in.ID, resp, err)
}

// call runs one handler. A panic is confined to its request.
func (ctl *SignalWSController) call(ctx context.Context, h handlerFunc, sid core.SessionID, data json.RawMessage) (resp any, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("module", "signal").Str("sid", string(sid)).Interface("panic", r).Bytes("stack", debug.Stack()).Msg("handler panic")
			resp, err = nil, fmt.Errorf("%w: internal error", domain.ErrEngineFailure)
		}
	}()
	return h(ctx, sid, data)
}

func (ctl *SignalWSController) respond(ctx context.Context, c *WsSignalConn, id int64, data any, err error) {
	frame := responseFrame{Type: "response", ID: id, OK: err == nil, Data: data}
	if err != nil {
		frame.Data = nil
		frame.Error = err.Error()
		frame.Code = domain.Code(err)
	}
	b, mErr := json.Marshal(frame)
	if mErr != nil {
		log.Error().Err(mErr).Str("module", "signal").Msg("respond marshal")
		b, _ = json.Marshal(responseFrame{Type: "response", ID: id, Error: "internal error", Code: domain.Code(domain.ErrEngineFailure)})
	}
	if err := c.sendWait(ctx, b); err != nil {
		log.Debug().Err(err).Str("module", "signal").Int64("id", id).Msg("response not delivered")
	}
}

func (ctl *SignalWSController) sendJSON(c *WsSignalConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}
