package pionengine

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Stream/internal/domain"
	"github.com/dkeye/Stream/internal/engine"
)

type router struct {
	id     string
	worker *worker
	caps   engine.RtpCapabilities
	api    *webrtc.API

	mu         sync.RWMutex
	producers  map[domain.ProducerID]*producer
	transports map[domain.TransportID]*transport
}

func (r *router) ID() string                              { return r.id }
func (r *router) RtpCapabilities() engine.RtpCapabilities { return r.caps }

func (r *router) CanConsume(producerID domain.ProducerID, caps engine.RtpCapabilities) bool {
	p, ok := r.producer(producerID)
	if !ok {
		return false
	}
	return engine.CanConsume(p.params, caps)
}

func (r *router) CreateWebRtcTransport(ctx context.Context, opts engine.TransportOptions) (engine.Transport, error) {
	logger := log.With().Str("module", "engine.pion").Str("router", r.id).Logger()
	if opts.ForceTCP {
		logger.Debug().Msg("forceTcp requested, transports gather udp candidates only")
	}

	gatherer, err := r.api.NewICEGatherer(webrtc.ICEGatherOptions{ICEServers: r.worker.iceServers})
	if err != nil {
		return nil, fmt.Errorf("new ice gatherer: %w", err)
	}
	ice := r.api.NewICETransport(gatherer)
	dtls, err := r.api.NewDTLSTransport(ice, nil)
	if err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("new dtls transport: %w", err)
	}

	gathered := make(chan struct{})
	gatherer.OnLocalCandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			close(gathered)
		}
	})
	if err := gatherer.Gather(); err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("gather candidates: %w", err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		_ = gatherer.Close()
		return nil, ctx.Err()
	}

	iceParams, err := gatherer.GetLocalParameters()
	if err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("local ice parameters: %w", err)
	}
	cands, err := gatherer.GetLocalCandidates()
	if err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("local ice candidates: %w", err)
	}
	dtlsParams, err := dtls.GetLocalParameters()
	if err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("local dtls parameters: %w", err)
	}

	id := domain.TransportID(uuid.NewString())
	t := newTransport(r, id, gatherer, ice, dtls)
	t.params = engine.TransportParams{
		ID: id,
		IceParameters: engine.IceParameters{
			UsernameFragment: iceParams.UsernameFragment,
			Password:         iceParams.Password,
			IceLite:          iceParams.ICELite,
		},
		IceCandidates:  localCandidates(cands),
		DtlsParameters: localDTLS(dtlsParams),
	}
	if opts.SctpCapabilities != nil {
		t.sctp = true
		t.params.SctpParameters = &engine.SctpParameters{
			Port:           5000,
			OS:             opts.SctpCapabilities.NumStreams.OS,
			MIS:            opts.SctpCapabilities.NumStreams.MIS,
			MaxMessageSize: maxSctpMessageSize,
		}
	}

	r.mu.Lock()
	r.transports[id] = t
	r.mu.Unlock()

	logger.Info().Str("transport", string(id)).Int("candidates", len(cands)).Msg("transport created")
	return t, nil
}

func (r *router) producer(id domain.ProducerID) (*producer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.producers[id]
	return p, ok
}

func (r *router) addProducer(p *producer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.producers[p.id] = p
}

func (r *router) removeProducer(id domain.ProducerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.producers, id)
}

func (r *router) removeTransport(id domain.TransportID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.transports, id)
}

func (r *router) close() {
	r.mu.RLock()
	ts := make([]*transport, 0, len(r.transports))
	for _, t := range r.transports {
		ts = append(ts, t)
	}
	r.mu.RUnlock()
	for _, t := range ts {
		_ = t.Close()
	}
}
