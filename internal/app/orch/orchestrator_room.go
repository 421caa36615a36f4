package orch

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Stream/internal/core"
	"github.com/dkeye/Stream/internal/domain"
	"github.com/dkeye/Stream/internal/engine"
)

func (o *Orchestrator) CreateRoom(ctx context.Context, sid core.SessionID, req CreateRoomRequest) (CreateRoomResponse, error) {
	if err := o.admit(sid, EventCreateRoom); err != nil {
		return CreateRoomResponse{}, err
	}
	ctx, cancel := o.engineCtx(ctx)
	defer cancel()

	room, entry, err := o.Rooms.CreateRoom(ctx, sid, o.signalOf(sid), engine.TransportOptions{
		ForceTCP:         req.ForceTCP,
		Producing:        req.Producing,
		Consuming:        req.Consuming,
		SctpCapabilities: req.SctpCapabilities,
	})
	if err != nil {
		return CreateRoomResponse{}, err
	}
	o.complete(sid, EventCreateRoom)
	return CreateRoomResponse{
		RoomID:          room.ID(),
		RtpCapabilities: room.Router().RtpCapabilities(),
		SendTransport:   entry.Transport.Params(),
	}, nil
}

func (o *Orchestrator) JoinRoom(ctx context.Context, sid core.SessionID, req JoinRoomRequest) (JoinRoomResponse, error) {
	if err := o.admit(sid, EventJoinRoom); err != nil {
		return JoinRoomResponse{}, err
	}
	if req.RoomID == "" {
		return JoinRoomResponse{}, fmt.Errorf("%w: roomId is required", domain.ErrBadRequest)
	}
	ctx, cancel := o.engineCtx(ctx)
	defer cancel()

	res, err := o.Rooms.JoinRoom(ctx, req.RoomID, sid, o.signalOf(sid), engine.TransportOptions{
		ForceTCP:         req.ForceTCP,
		Producing:        req.Producing,
		Consuming:        req.Consuming,
		SctpCapabilities: req.SctpCapabilities,
	})
	if err != nil {
		return JoinRoomResponse{}, err
	}
	o.complete(sid, EventJoinRoom)
	return JoinRoomResponse{
		RoomID:           res.Room.ID(),
		RtpCapabilities:  res.Room.Router().RtpCapabilities(),
		ReceiveTransport: res.Transport.Transport.Params(),
		Producers:        res.Producers,
	}, nil
}

// GetRtpCapabilities returns the router capabilities of the given room, or
// those shared by every worker when no room is named.
func (o *Orchestrator) GetRtpCapabilities(_ context.Context, sid core.SessionID, req GetRtpCapabilitiesRequest) (RtpCapabilitiesResponse, error) {
	if err := o.admit(sid, EventGetRtpCapabilities); err != nil {
		return RtpCapabilitiesResponse{}, err
	}
	if req.RoomID != "" {
		room, ok := o.Rooms.Get(req.RoomID)
		if !ok {
			return RtpCapabilitiesResponse{}, domain.RoomNotFound(req.RoomID)
		}
		return RtpCapabilitiesResponse{RtpCapabilities: room.Router().RtpCapabilities()}, nil
	}
	caps, err := o.Pool.Capabilities()
	if err != nil {
		return RtpCapabilitiesResponse{}, err
	}
	return RtpCapabilitiesResponse{RtpCapabilities: caps}, nil
}

func (o *Orchestrator) StopStream(_ context.Context, sid core.SessionID, req StopStreamRequest) (SuccessResponse, error) {
	if err := o.admit(sid, EventStopStream); err != nil {
		return SuccessResponse{}, err
	}
	if err := o.StopRoom(req.RoomID); err != nil {
		return SuccessResponse{}, err
	}
	log.Info().Str("module", "orch").Str("room", string(req.RoomID)).Str("sid", string(sid)).Msg("stream stopped")
	return SuccessResponse{Success: true}, nil
}

// StopRoom closes a room on behalf of an operator rather than a session.
func (o *Orchestrator) StopRoom(id domain.RoomID) error {
	if !o.Rooms.CloseRoom(id) {
		return domain.RoomNotFound(id)
	}
	return nil
}
