package pionengine

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/Stream/internal/domain"
	"github.com/dkeye/Stream/internal/engine"
)

type producer struct {
	id        domain.ProducerID
	kind      domain.MediaKind
	params    engine.RtpParameters
	transport *transport
	receiver  *webrtc.RTPReceiver
	relay     *relay

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func newProducer(id domain.ProducerID, kind domain.MediaKind, params engine.RtpParameters, t *transport, receiver *webrtc.RTPReceiver) *producer {
	ctx, cancel := context.WithCancel(context.Background())
	return &producer{
		id:        id,
		kind:      kind,
		params:    params,
		transport: t,
		receiver:  receiver,
		relay:     newRelay(id, receiver.Track(), t.router.worker.fail),
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (p *producer) ID() domain.ProducerID               { return p.id }
func (p *producer) Kind() domain.MediaKind              { return p.kind }
func (p *producer) RtpParameters() engine.RtpParameters { return p.params }

func (p *producer) start() {
	go p.relay.loop(p.ctx)
}

// stop releases engine resources; the owning transport forgets it separately.
func (p *producer) stop() {
	p.closeOnce.Do(func() {
		p.cancel()
		p.relay.markAllDelete()
		if err := p.receiver.Stop(); err != nil {
			p.transport.logger.Debug().Err(err).Str("producer", string(p.id)).Msg("receiver stop")
		}
		p.transport.router.removeProducer(p.id)
	})
}

func (p *producer) Close() error {
	p.stop()
	p.transport.forgetProducer(p.id)
	return nil
}
