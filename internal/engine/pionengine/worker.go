package pionengine

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Stream/internal/domain"
	"github.com/dkeye/Stream/internal/engine"
)

type worker struct {
	id         int
	se         webrtc.SettingEngine
	iceServers []webrtc.ICEServer
	died       chan error

	mu      sync.Mutex
	routers []*router
	closed  bool
}

func (w *worker) CreateRouter(_ context.Context, codecs []engine.RtpCodecCapability) (engine.Router, error) {
	caps := engine.RtpCapabilities{Codecs: withFeedback(codecs)}

	m := &webrtc.MediaEngine{}
	for _, c := range caps.Codecs {
		if err := m.RegisterCodec(codecParameters(c), codecType(c.Kind)); err != nil {
			return nil, fmt.Errorf("register codec %s: %w", c.MimeType, err)
		}
	}

	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, fmt.Errorf("register default interceptors: %w", err)
	}
	pli, err := intervalpli.NewReceiverInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create pli interceptor: %w", err)
	}
	ir.Add(pli)

	r := &router{
		id:         fmt.Sprintf("router-%d", w.id),
		worker:     w,
		caps:       caps,
		api:        webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(ir), webrtc.WithSettingEngine(w.se)),
		producers:  make(map[domain.ProducerID]*producer),
		transports: make(map[domain.TransportID]*transport),
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, errTransportClosed
	}
	w.routers = append(w.routers, r)
	return r, nil
}

func (w *worker) Died() <-chan error { return w.died }

// fail reports the worker as dead. Only the first cause is kept.
func (w *worker) fail(err error) {
	log.Error().Err(err).Str("module", "engine.pion").Int("worker", w.id).Msg("worker failed")
	select {
	case w.died <- err:
	default:
	}
}

func (w *worker) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	routers := w.routers
	w.mu.Unlock()

	for _, r := range routers {
		r.close()
	}
	log.Info().Str("module", "engine.pion").Int("worker", w.id).Msg("worker closed")
	return nil
}
