package pionengine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Stream/internal/domain"
)

type relayTarget struct {
	id  domain.ConsumerID
	out *outTrack
}

// relay copies RTP from one producer to every live consumer of it.
type relay struct {
	producerID domain.ProducerID
	src        *webrtc.TrackRemote
	onPanic    func(error)

	mu      sync.Mutex
	outs    map[domain.ConsumerID]*outTrack
	targets atomic.Pointer[[]relayTarget]
}

func newRelay(id domain.ProducerID, src *webrtc.TrackRemote, onPanic func(error)) *relay {
	r := &relay{
		producerID: id,
		src:        src,
		onPanic:    onPanic,
		outs:       make(map[domain.ConsumerID]*outTrack),
	}
	r.targets.Store(&[]relayTarget{})
	return r
}

func (r *relay) loop(ctx context.Context) {
	logger := log.With().Str("module", "engine.pion").Str("producer", string(r.producerID)).Logger()
	defer func() {
		if rec := recover(); rec != nil {
			r.markAllDelete()
			r.onPanic(fmt.Errorf("relay for producer %s: %v", r.producerID, rec))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			r.markAllDelete()
			return
		default:
		}
		pkt, _, err := r.src.ReadRTP()
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn().Err(err).Msg("relay read RTP error, stopping")
			}
			r.markAllDelete()
			return
		}
		r.forward(pkt, &logger)
	}
}

func (r *relay) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	var dirty []domain.ConsumerID
	for _, t := range *r.targets.Load() {
		switch t.out.state() {
		case trackDeleted:
			dirty = append(dirty, t.id)
		case trackMuted:
		case trackLive:
			if err := t.out.track.WriteRTP(pkt); err != nil {
				logger.Warn().Err(err).Str("consumer", string(t.id)).Msg("relay write RTP error, dropping consumer")
				t.out.markDelete()
				dirty = append(dirty, t.id)
			}
		}
	}
	if len(dirty) > 0 {
		r.remove(dirty...)
	}
}

func (r *relay) addOutTrack(id domain.ConsumerID, out *outTrack) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outs[id] = out
	r.publishLocked()
}

func (r *relay) remove(ids ...domain.ConsumerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		delete(r.outs, id)
	}
	r.publishLocked()
}

func (r *relay) markAllDelete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, out := range r.outs {
		out.markDelete()
	}
}

// publishLocked swaps in a fresh target slice so forward never takes the lock.
func (r *relay) publishLocked() {
	targets := make([]relayTarget, 0, len(r.outs))
	for id, out := range r.outs {
		targets = append(targets, relayTarget{id: id, out: out})
	}
	r.targets.Store(&targets)
}
