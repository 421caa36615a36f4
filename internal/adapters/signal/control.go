package signal

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dkeye/Stream/internal/core"
	"github.com/dkeye/Stream/internal/domain"
)

type handlerFunc func(ctx context.Context, sid core.SessionID, data json.RawMessage) (any, error)

// bind decodes the request payload into Req before calling fn.
func bind[Req, Resp any](fn func(context.Context, core.SessionID, Req) (Resp, error)) handlerFunc {
	return func(ctx context.Context, sid core.SessionID, data json.RawMessage) (any, error) {
		var req Req
		if len(data) > 0 {
			if err := json.Unmarshal(data, &req); err != nil {
				return nil, fmt.Errorf("%w: %v", domain.ErrBadRequest, err)
			}
		}
		return fn(ctx, sid, req)
	}
}

func (ctl *SignalWSController) handlePing(
	conn *WsSignalConn,
) {
	resp := struct {
		Type string `json:"type"`
	}{
		Type: "pong",
	}
	ctl.sendJSON(conn, resp)
}
