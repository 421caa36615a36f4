package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/Stream/internal/domain"
	"github.com/dkeye/Stream/internal/engine"
)

// FatalHandler is called once per dead worker. The process cannot continue
// because rooms are pinned to their worker for life.
type FatalHandler func(id domain.WorkerID, err error)

type workerSlot struct {
	worker engine.Worker
	router engine.Router
}

// WorkerPool owns a fixed set of engine workers, one router each, and hands
// them out round-robin as rooms are created.
type WorkerPool struct {
	eng      engine.Engine
	settings engine.WorkerSettings
	codecs   []engine.RtpCodecCapability
	onFatal  FatalHandler

	mu    sync.RWMutex
	slots []workerSlot
	next  atomic.Uint64

	stop     chan struct{}
	stopOnce sync.Once
}

func NewWorkerPool(eng engine.Engine, settings engine.WorkerSettings, codecs []engine.RtpCodecCapability, onFatal FatalHandler) *WorkerPool {
	return &WorkerPool{
		eng:      eng,
		settings: settings,
		codecs:   codecs,
		onFatal:  onFatal,
		stop:     make(chan struct{}),
	}
}

// Initialize starts count workers concurrently. Any failure closes what was
// created and aborts.
func (p *WorkerPool) Initialize(ctx context.Context, count int) error {
	if count < 1 {
		return fmt.Errorf("%w: worker count %d", domain.ErrBadRequest, count)
	}
	slots := make([]workerSlot, count)

	g, gctx := errgroup.WithContext(ctx)
	for i := range count {
		g.Go(func() error {
			w, err := p.eng.CreateWorker(gctx, p.settings)
			if err != nil {
				return fmt.Errorf("worker %d: %w", i, err)
			}
			slots[i].worker = w
			r, err := w.CreateRouter(gctx, p.codecs)
			if err != nil {
				return fmt.Errorf("router %d: %w", i, err)
			}
			slots[i].router = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, s := range slots {
			if s.worker != nil {
				_ = s.worker.Close()
			}
		}
		return domain.EngineError("initialize pool", err)
	}

	p.mu.Lock()
	p.slots = slots
	p.mu.Unlock()

	for i, s := range slots {
		go p.watch(domain.WorkerID(i), s.worker)
	}
	log.Info().Str("module", "app.pool").Int("workers", count).Msg("worker pool ready")
	return nil
}

func (p *WorkerPool) watch(id domain.WorkerID, w engine.Worker) {
	select {
	case err := <-w.Died():
		select {
		case <-p.stop:
			return
		default:
		}
		if err == nil {
			err = errors.New("worker exited")
		}
		err = fmt.Errorf("%w: worker %d: %w", domain.ErrFatalWorkerDeath, id, err)
		log.Error().Err(err).Str("module", "app.pool").Int("worker", int(id)).Msg("worker died")
		if p.onFatal != nil {
			p.onFatal(id, err)
		}
	case <-p.stop:
	}
}

// NextWorker picks the worker for a new room.
func (p *WorkerPool) NextWorker() (domain.WorkerID, engine.Router, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.slots) == 0 {
		return 0, nil, fmt.Errorf("%w: worker pool not initialized", domain.ErrEngineFailure)
	}
	i := (p.next.Add(1) - 1) % uint64(len(p.slots))
	return domain.WorkerID(i), p.slots[i].router, nil
}

func (p *WorkerPool) RouterFor(id domain.WorkerID) (engine.Router, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if id < 0 || int(id) >= len(p.slots) {
		return nil, false
	}
	return p.slots[id].router, true
}

func (p *WorkerPool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.slots)
}

// Capabilities returns the RTP capabilities shared by every router.
func (p *WorkerPool) Capabilities() (engine.RtpCapabilities, error) {
	r, ok := p.RouterFor(0)
	if !ok {
		return engine.RtpCapabilities{}, fmt.Errorf("%w: worker pool not initialized", domain.ErrEngineFailure)
	}
	return r.RtpCapabilities(), nil
}

func (p *WorkerPool) Close() {
	p.stopOnce.Do(func() { close(p.stop) })

	p.mu.Lock()
	slots := p.slots
	p.slots = nil
	p.mu.Unlock()

	for i, s := range slots {
		if err := s.worker.Close(); err != nil {
			log.Warn().Err(err).Str("module", "app.pool").Int("worker", i).Msg("worker close")
		}
	}
}
