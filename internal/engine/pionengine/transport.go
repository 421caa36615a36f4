package pionengine

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Stream/internal/domain"
	"github.com/dkeye/Stream/internal/engine"
)

// transport is one ICE+DTLS endpoint. Connect only records the remote
// parameters and starts negotiation in the background: the remote peer begins
// its own ICE checks after the connect round trip completes.
type transport struct {
	id       domain.TransportID
	router   *router
	gatherer *webrtc.ICEGatherer
	ice      *webrtc.ICETransport
	dtls     *webrtc.DTLSTransport
	params   engine.TransportParams
	sctp     bool
	logger   zerolog.Logger

	ready     chan struct{}
	readyOnce sync.Once

	mu         sync.Mutex
	connecting bool
	closed     bool
	startErr   error
	producers  map[domain.ProducerID]*producer
	consumers  map[domain.ConsumerID]*consumer
	onClose    []func()
}

func newTransport(r *router, id domain.TransportID, g *webrtc.ICEGatherer, ice *webrtc.ICETransport, dtls *webrtc.DTLSTransport) *transport {
	t := &transport{
		id:        id,
		router:    r,
		gatherer:  g,
		ice:       ice,
		dtls:      dtls,
		logger:    log.With().Str("module", "engine.pion").Str("transport", string(id)).Logger(),
		ready:     make(chan struct{}),
		producers: make(map[domain.ProducerID]*producer),
		consumers: make(map[domain.ConsumerID]*consumer),
	}

	ice.OnConnectionStateChange(func(s webrtc.ICETransportState) {
		t.logger.Info().Str("ice_state", s.String()).Msg("ICE state")
		if s == webrtc.ICETransportStateFailed {
			go t.Close()
		}
	})
	dtls.OnStateChange(func(s webrtc.DTLSTransportState) {
		t.logger.Info().Str("dtls_state", s.String()).Msg("DTLS state")
		if s == webrtc.DTLSTransportStateFailed {
			go t.Close()
		}
	})
	return t
}

func (t *transport) ID() domain.TransportID         { return t.id }
func (t *transport) Params() engine.TransportParams { return t.params }

func (t *transport) Connect(_ context.Context, dtls engine.DtlsParameters, ice *engine.IceParameters) error {
	if ice == nil {
		return errRemoteICERequired
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errTransportClosed
	}
	if t.connecting {
		return errAlreadyConnecting
	}
	t.connecting = true

	remoteICE := webrtc.ICEParameters{
		UsernameFragment: ice.UsernameFragment,
		Password:         ice.Password,
		ICELite:          ice.IceLite,
	}
	go t.start(remoteICE, remoteDTLS(dtls))
	return nil
}

func (t *transport) start(remoteICE webrtc.ICEParameters, remoteDTLS webrtc.DTLSParameters) {
	role := webrtc.ICERoleControlled
	if remoteICE.ICELite {
		role = webrtc.ICERoleControlling
	}

	err := t.ice.Start(t.gatherer, remoteICE, &role)
	if err == nil {
		err = t.dtls.Start(remoteDTLS)
	}
	if err == nil && t.sctp {
		err = t.router.api.NewSCTPTransport(t.dtls).Start(webrtc.SCTPCapabilities{MaxMessageSize: maxSctpMessageSize})
	}

	t.mu.Lock()
	t.startErr = err
	t.mu.Unlock()
	t.readyOnce.Do(func() { close(t.ready) })

	if err != nil {
		t.logger.Warn().Err(err).Msg("negotiation failed")
		_ = t.Close()
		return
	}
	t.logger.Info().Msg("transport connected")
}

// waitReady blocks until DTLS is up, which RTP receivers require.
func (t *transport) waitReady(ctx context.Context) error {
	t.mu.Lock()
	connecting := t.connecting
	t.mu.Unlock()
	if !connecting {
		return errNotConnected
	}
	select {
	case <-t.ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.startErr != nil {
		return t.startErr
	}
	if t.closed {
		return errTransportClosed
	}
	return nil
}

func (t *transport) Produce(ctx context.Context, kind domain.MediaKind, params engine.RtpParameters) (engine.Producer, error) {
	codec, ok := engine.MediaCodec(params)
	if !ok {
		return nil, errNoMediaCodec
	}
	if len(params.Encodings) == 0 || params.Encodings[0].Ssrc == 0 {
		return nil, errSsrcRequired
	}
	if err := t.waitReady(ctx); err != nil {
		return nil, err
	}

	receiver, err := t.router.api.NewRTPReceiver(codecType(kind), t.dtls)
	if err != nil {
		return nil, err
	}
	err = receiver.Receive(webrtc.RTPReceiveParameters{
		Encodings: []webrtc.RTPDecodingParameters{{
			RTPCodingParameters: webrtc.RTPCodingParameters{
				SSRC:        webrtc.SSRC(params.Encodings[0].Ssrc),
				PayloadType: webrtc.PayloadType(codec.PayloadType),
			},
		}},
	})
	if err != nil {
		_ = receiver.Stop()
		return nil, err
	}

	p := newProducer(domain.ProducerID(uuid.NewString()), kind, params, t, receiver)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		p.stop()
		return nil, errTransportClosed
	}
	t.producers[p.id] = p
	t.mu.Unlock()

	t.router.addProducer(p)
	p.start()
	t.logger.Info().Str("producer", string(p.id)).Str("kind", string(kind)).Uint32("ssrc", params.Encodings[0].Ssrc).Msg("producer started")
	return p, nil
}

func (t *transport) Consume(_ context.Context, producerID domain.ProducerID, caps engine.RtpCapabilities, paused bool) (engine.Consumer, error) {
	p, ok := t.router.producer(producerID)
	if !ok {
		return nil, errUnknownProducer
	}
	codec, _ := engine.MediaCodec(p.params)
	remote, ok := engine.MatchCodec(codec, caps)
	if !ok {
		return nil, errCannotConsume
	}
	local, ok := engine.MatchCodec(codec, t.router.caps)
	if !ok {
		return nil, errCannotConsume
	}

	id := domain.ConsumerID(uuid.NewString())
	track, err := webrtc.NewTrackLocalStaticRTP(codecCapability(local), string(id), string(producerID))
	if err != nil {
		return nil, err
	}
	sender, err := t.router.api.NewRTPSender(track, t.dtls)
	if err != nil {
		return nil, err
	}
	sendParams := sender.GetParameters()
	if err := sender.Send(sendParams); err != nil {
		_ = sender.Stop()
		return nil, err
	}

	c := &consumer{
		id:         id,
		producerID: producerID,
		kind:       p.kind,
		transport:  t,
		sender:     sender,
		out:        newOutTrack(track),
		params: engine.RtpParameters{
			Codecs: []engine.RtpCodecParameters{{
				MimeType:     local.MimeType,
				PayloadType:  local.PreferredPayloadType,
				ClockRate:    local.ClockRate,
				Channels:     local.Channels,
				Parameters:   local.Parameters,
				RtcpFeedback: remote.RtcpFeedback,
			}},
			Encodings: []engine.RtpEncodingParameters{{Ssrc: uint32(sendParams.Encodings[0].SSRC)}},
			Rtcp:      engine.RtcpParameters{Cname: string(producerID), ReducedSize: true},
		},
	}
	if paused {
		c.out.markMuted()
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = sender.Stop()
		return nil, errTransportClosed
	}
	t.consumers[id] = c
	t.mu.Unlock()

	p.relay.addOutTrack(id, c.out)
	go c.drainRTCP()
	t.logger.Info().Str("consumer", string(id)).Str("producer", string(producerID)).Bool("paused", paused).Msg("consumer created")
	return c, nil
}

func (t *transport) OnClose(fn func()) {
	t.mu.Lock()
	if !t.closed {
		t.onClose = append(t.onClose, fn)
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()
	fn()
}

func (t *transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	producers := make([]*producer, 0, len(t.producers))
	for _, p := range t.producers {
		producers = append(producers, p)
	}
	consumers := make([]*consumer, 0, len(t.consumers))
	for _, c := range t.consumers {
		consumers = append(consumers, c)
	}
	hooks := t.onClose
	t.onClose = nil
	t.mu.Unlock()
	t.readyOnce.Do(func() { close(t.ready) })

	for _, p := range producers {
		p.stop()
	}
	for _, c := range consumers {
		c.stop()
	}
	if err := t.dtls.Stop(); err != nil {
		t.logger.Debug().Err(err).Msg("dtls stop")
	}
	if err := t.ice.Stop(); err != nil {
		t.logger.Debug().Err(err).Msg("ice stop")
	}
	if err := t.gatherer.Close(); err != nil {
		t.logger.Debug().Err(err).Msg("gatherer close")
	}
	t.router.removeTransport(t.id)

	for _, fn := range hooks {
		fn()
	}
	t.logger.Info().Int("producers", len(producers)).Int("consumers", len(consumers)).Msg("transport closed")
	return nil
}

func (t *transport) forgetProducer(id domain.ProducerID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.producers, id)
}

func (t *transport) forgetConsumer(id domain.ConsumerID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.consumers, id)
}
