package orch

import (
	"fmt"

	"github.com/dkeye/Stream/internal/core"
	"github.com/dkeye/Stream/internal/domain"
)

// Event names a client request on the signal channel.
type Event string

const (
	EventCreateRoom         Event = "create-room"
	EventJoinRoom           Event = "join-room"
	EventConnectTransport   Event = "connect-transport"
	EventProduce            Event = "produce"
	EventConsume            Event = "consume"
	EventResumeConsumer     Event = "resume-consumer"
	EventCloseProducer      Event = "close-producer"
	EventGetRtpCapabilities Event = "get-rtp-capabilities"
	EventStopStream         Event = "stop-stream"
)

type transition struct {
	min  domain.SessionState
	next domain.SessionState
}

// transitions admits each event from its minimum state. Events that leave the
// state alone have next == min.
var transitions = map[Event]transition{
	EventCreateRoom:         {min: domain.StateDisconnected, next: domain.StateJoined},
	EventJoinRoom:           {min: domain.StateDisconnected, next: domain.StateJoined},
	EventConnectTransport:   {min: domain.StateJoined, next: domain.StateNegotiating},
	EventProduce:            {min: domain.StateNegotiating, next: domain.StateActive},
	EventConsume:            {min: domain.StateJoined, next: domain.StateNegotiating},
	EventResumeConsumer:     {min: domain.StateNegotiating, next: domain.StateActive},
	EventCloseProducer:      {min: domain.StateActive, next: domain.StateActive},
	EventGetRtpCapabilities: {min: domain.StateDisconnected, next: domain.StateDisconnected},
	EventStopStream:         {min: domain.StateDisconnected, next: domain.StateDisconnected},
}

func (o *Orchestrator) admit(sid core.SessionID, ev Event) error {
	tr, ok := transitions[ev]
	if !ok {
		return fmt.Errorf("%w: unknown event %q", domain.ErrBadRequest, ev)
	}
	st, ok := o.Sessions.State(sid)
	if !ok {
		return fmt.Errorf("%w: session %s is not bound", domain.ErrInvalidState, sid)
	}
	if st < tr.min {
		return fmt.Errorf("%w: %s needs %s, session is %s", domain.ErrInvalidState, ev, tr.min, st)
	}
	return nil
}

func (o *Orchestrator) complete(sid core.SessionID, ev Event) {
	o.Sessions.Advance(sid, transitions[ev].next)
}
