// Package orch drives the signaling protocol: it admits each client event
// against the session state table and turns it into registry and engine calls.
package orch

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Stream/internal/app"
	"github.com/dkeye/Stream/internal/core"
	"github.com/dkeye/Stream/internal/domain"
)

type Orchestrator struct {
	Pool       *app.WorkerPool
	Transports *app.TransportRegistry
	Rooms      *app.RoomRegistry
	Sessions   *app.Registry
	Policy     app.Policy
	// Timeout bounds every engine call. Zero means no bound beyond the caller's ctx.
	Timeout time.Duration
}

// Attach binds a freshly opened signal connection. cancel tears the
// connection down and is used to kick slow members.
func (o *Orchestrator) Attach(sid core.SessionID, sig core.SignalConnection, cancel context.CancelFunc) {
	o.Sessions.Bind(sid, sig, cancel)
}

func (o *Orchestrator) engineCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.Timeout)
}

func (o *Orchestrator) signalOf(sid core.SessionID) core.SignalConnection {
	sig, _ := o.Sessions.Signal(sid)
	return sig
}

// applyPolicy handles members whose push was dropped because their buffer was full.
func (o *Orchestrator) applyPolicy(room domain.RoomID, res core.PublishResult) {
	if o.Policy == nil {
		return
	}
	for _, slow := range res.Dropped {
		switch o.Policy.OnBackPressure(room, slow) {
		case app.KickMember:
			log.Warn().Str("module", "orch").Str("room", string(room)).Str("sid", string(slow)).Msg("kicking slow member")
			o.Kick(slow)
		case app.MarkSlow, app.DropFrame, app.NoAction:
		}
	}
}
