package app

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/dkeye/Stream/internal/config"
	"github.com/dkeye/Stream/internal/core"
	"github.com/dkeye/Stream/internal/domain"
	"github.com/dkeye/Stream/internal/engine"
	"github.com/dkeye/Stream/internal/engine/enginetest"
)

type recordingSignal struct {
	mu     sync.Mutex
	events map[string][]any
	full   bool
	closed bool
}

func newRecordingSignal() *recordingSignal {
	return &recordingSignal{events: make(map[string][]any)}
}

func (s *recordingSignal) Push(event string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.full || s.closed {
		return errors.New("cannot push")
	}
	s.events[event] = append(s.events[event], payload)
	return nil
}

func (s *recordingSignal) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *recordingSignal) count(event string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events[event])
}

func (s *recordingSignal) newProducers() []domain.ProducerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ProducerID
	for _, p := range s.events[core.EventNewProducer] {
		out = append(out, p.(core.NewProducerEvent).ProducerID)
	}
	return out
}

func newTestPool(t *testing.T, workers int) (*enginetest.Engine, *WorkerPool) {
	t.Helper()
	eng := enginetest.New()
	pool := NewWorkerPool(eng, engine.WorkerSettings{}, config.MediaCodecs, func(domain.WorkerID, error) {})
	if err := pool.Initialize(context.Background(), workers); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(pool.Close)
	return eng, pool
}

func vp8Params(ssrc uint32) engine.RtpParameters {
	return engine.RtpParameters{
		Codecs:    []engine.RtpCodecParameters{{MimeType: "video/VP8", PayloadType: 96, ClockRate: 90000}},
		Encodings: []engine.RtpEncodingParameters{{Ssrc: ssrc}},
	}
}

// produce creates a producer on the room's send transport.
func produce(t *testing.T, tr *TransportRegistry, room *core.Room, ssrc uint32) (engine.Producer, domain.ProducerInfo) {
	t.Helper()
	entry, ok := tr.Get(room.SendTransportID())
	if !ok {
		t.Fatalf("send transport %s missing", room.SendTransportID())
	}
	p, err := entry.Transport.Produce(context.Background(), domain.KindVideo, vp8Params(ssrc))
	if err != nil {
		t.Fatalf("Produce: %v", err)
	}
	return p, domain.ProducerInfo{ID: p.ID(), Kind: p.Kind(), WorkerID: room.WorkerID(), TransportID: entry.ID}
}
