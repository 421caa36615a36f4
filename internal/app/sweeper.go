package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Stream/internal/core"
	"github.com/dkeye/Stream/internal/domain"
)

// Sweeper periodically closes inactive or expired rooms and forgets
// transport tombstones whose room and owner are gone.
type Sweeper struct {
	Rooms      *RoomRegistry
	Transports *TransportRegistry
	Sessions   *Registry
	MaxAge     time.Duration
	Interval   time.Duration
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

func (s *Sweeper) Sweep() {
	closed := s.Rooms.SweepInactive(s.MaxAge)
	pruned := s.Transports.PruneClosed(s.Interval, s.live)
	if len(closed) > 0 || pruned > 0 {
		log.Info().Str("module", "app.sweeper").Int("rooms_closed", len(closed)).Int("tombstones_pruned", pruned).Msg("sweep done")
	}
}

func (s *Sweeper) live(room domain.RoomID, owner core.SessionID) bool {
	if _, ok := s.Rooms.Get(room); ok {
		return true
	}
	if s.Sessions == nil {
		return false
	}
	_, ok := s.Sessions.State(owner)
	return ok
}
