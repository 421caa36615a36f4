package signal

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Stream/internal/app/orch"
	"github.com/dkeye/Stream/internal/core"
	"github.com/dkeye/Stream/internal/domain"
)

func (ctl *SignalWSController) registerRoomHandlers() {
	ctl.handlers[orch.EventCreateRoom] = bind(ctl.createRoom)
	ctl.handlers[orch.EventJoinRoom] = bind(ctl.Orch.JoinRoom)
	ctl.handlers[orch.EventStopStream] = bind(ctl.Orch.StopStream)
	ctl.handlers[orch.EventGetRtpCapabilities] = bind(ctl.Orch.GetRtpCapabilities)
}

func (ctl *SignalWSController) createRoom(
	ctx context.Context,
	sid core.SessionID,
	req orch.CreateRoomRequest,
) (orch.CreateRoomResponse, error) {
	if ctl.Limiter != nil && !ctl.Limiter.Allow(sid) {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Msg("create-room rate limited")
		return orch.CreateRoomResponse{}, fmt.Errorf("%w: too many rooms created", domain.ErrRateLimited)
	}
	resp, err := ctl.Orch.CreateRoom(ctx, sid, req)
	if err != nil {
		return resp, err
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room_id", string(resp.RoomID)).Msg("room created")
	return resp, nil
}
