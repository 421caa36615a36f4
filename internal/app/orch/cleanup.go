package orch

import (
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Stream/internal/core"
)

// Disconnect releases everything sid holds and unbinds the session.
// Its consumer sessions in other rooms are removed. Rooms it owns are
// closed outright: a room's send transport belongs to its owner and every
// producer in the room rides on it, so the room cannot outlive the owner
// (see "Owner disconnect closes the room" in DESIGN.md). It is safe to call
// more than once.
func (o *Orchestrator) Disconnect(sid core.SessionID) {
	owned := o.Rooms.RoomsOwnedBy(sid)
	for _, id := range owned {
		o.Rooms.CloseRoom(id)
	}
	left := 0
	for _, id := range o.Rooms.RoomsWithMember(sid) {
		if o.Rooms.RemoveConsumerSession(id, sid) {
			left++
		}
	}
	if o.Sessions.Unbind(sid) || len(owned) > 0 || left > 0 {
		log.Info().
			Str("module", "orch").
			Str("sid", string(sid)).
			Int("rooms_closed", len(owned)).
			Int("rooms_left", left).
			Msg("session cleaned up")
	}
}

// Kick forcibly ends sid's connection and cleans up after it.
func (o *Orchestrator) Kick(sid core.SessionID) {
	sig := o.signalOf(sid)
	o.Sessions.Cancel(sid)
	if sig != nil {
		sig.Close()
	}
	o.Disconnect(sid)
}
