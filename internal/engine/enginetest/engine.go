// Package enginetest is an in-memory engine for tests. It keeps every object in
// maps, never touches the network, and lets tests inject failures per operation.
package enginetest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/dkeye/Stream/internal/domain"
	"github.com/dkeye/Stream/internal/engine"
)

// Operation names accepted by FailNext.
const (
	OpCreateWorker    = "create-worker"
	OpCreateRouter    = "create-router"
	OpCreateTransport = "create-transport"
	OpConnect         = "connect"
	OpProduce         = "produce"
	OpConsume         = "consume"
	OpResume          = "resume"
)

var ErrClosed = errors.New("enginetest: closed")

type Engine struct {
	mu        sync.Mutex
	workers   []*Worker
	failures  map[string]error
	consumers int
}

func New() *Engine {
	return &Engine{failures: make(map[string]error)}
}

// FailNext makes the next call of op return err.
func (e *Engine) FailNext(op string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures[op] = err
}

func (e *Engine) fail(op string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	err, ok := e.failures[op]
	if !ok {
		return nil
	}
	delete(e.failures, op)
	return err
}

func (e *Engine) CreateWorker(_ context.Context, _ engine.WorkerSettings) (engine.Worker, error) {
	if err := e.fail(OpCreateWorker); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	w := &Worker{e: e, index: len(e.workers), died: make(chan error, 1)}
	e.workers = append(e.workers, w)
	return w, nil
}

func (e *Engine) Workers() []*Worker {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Worker(nil), e.workers...)
}

// OpenTransports counts transports not yet closed across all routers.
func (e *Engine) OpenTransports() int {
	n := 0
	for _, w := range e.Workers() {
		for _, r := range w.Routers() {
			n += r.OpenTransports()
		}
	}
	return n
}

// ConsumersCreated counts every consumer the engine ever created.
func (e *Engine) ConsumersCreated() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.consumers
}

type Worker struct {
	e     *Engine
	index int
	died  chan error

	mu      sync.Mutex
	routers []*Router
	closed  bool
}

func (w *Worker) CreateRouter(_ context.Context, codecs []engine.RtpCodecCapability) (engine.Router, error) {
	if err := w.e.fail(OpCreateRouter); err != nil {
		return nil, err
	}
	r := &Router{
		e:          w.e,
		id:         uuid.NewString(),
		caps:       engine.RtpCapabilities{Codecs: append([]engine.RtpCodecCapability(nil), codecs...)},
		producers:  make(map[domain.ProducerID]*Producer),
		transports: make(map[domain.TransportID]*Transport),
	}
	w.mu.Lock()
	w.routers = append(w.routers, r)
	w.mu.Unlock()
	return r, nil
}

func (w *Worker) Died() <-chan error { return w.died }

// Kill reports the worker as dead.
func (w *Worker) Kill(err error) {
	select {
	case w.died <- err:
	default:
	}
}

func (w *Worker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *Worker) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

func (w *Worker) Routers() []*Router {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]*Router(nil), w.routers...)
}

type Router struct {
	e    *Engine
	id   string
	caps engine.RtpCapabilities

	mu         sync.Mutex
	producers  map[domain.ProducerID]*Producer
	transports map[domain.TransportID]*Transport
}

func (r *Router) ID() string                              { return r.id }
func (r *Router) RtpCapabilities() engine.RtpCapabilities { return r.caps }

func (r *Router) CanConsume(producerID domain.ProducerID, caps engine.RtpCapabilities) bool {
	r.mu.Lock()
	p, ok := r.producers[producerID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	return engine.CanConsume(p.params, caps)
}

func (r *Router) CreateWebRtcTransport(_ context.Context, _ engine.TransportOptions) (engine.Transport, error) {
	if err := r.e.fail(OpCreateTransport); err != nil {
		return nil, err
	}
	id := domain.TransportID(uuid.NewString())
	t := &Transport{
		router: r,
		params: engine.TransportParams{
			ID:             id,
			IceParameters:  engine.IceParameters{UsernameFragment: "ufrag-" + string(id[:8]), Password: "pwd", IceLite: true},
			IceCandidates:  []engine.IceCandidate{{Foundation: "udpcandidate", Priority: 1, IP: "127.0.0.1", Protocol: "udp", Port: 40000, Type: "host"}},
			DtlsParameters: engine.DtlsParameters{Role: "auto", Fingerprints: []engine.DtlsFingerprint{{Algorithm: "sha-256", Value: "00:11"}}},
		},
	}
	r.mu.Lock()
	r.transports[id] = t
	r.mu.Unlock()
	return t, nil
}

func (r *Router) Transport(id domain.TransportID) (*Transport, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.transports[id]
	return t, ok
}

func (r *Router) OpenTransports() int {
	r.mu.Lock()
	ts := make([]*Transport, 0, len(r.transports))
	for _, t := range r.transports {
		ts = append(ts, t)
	}
	r.mu.Unlock()
	n := 0
	for _, t := range ts {
		if !t.Closed() {
			n++
		}
	}
	return n
}

type Transport struct {
	router *Router
	params engine.TransportParams

	mu        sync.Mutex
	connected bool
	closed    bool
	producers []*Producer
	consumers []*Consumer
	onClose   []func()
}

func (t *Transport) ID() domain.TransportID         { return t.params.ID }
func (t *Transport) Params() engine.TransportParams { return t.params }

func (t *Transport) Connect(_ context.Context, _ engine.DtlsParameters, _ *engine.IceParameters) error {
	if err := t.router.e.fail(OpConnect); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	t.connected = true
	return nil
}

func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *Transport) Produce(_ context.Context, kind domain.MediaKind, params engine.RtpParameters) (engine.Producer, error) {
	if err := t.router.e.fail(OpProduce); err != nil {
		return nil, err
	}
	p := &Producer{router: t.router, id: domain.ProducerID(uuid.NewString()), kind: kind, params: params}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	t.producers = append(t.producers, p)
	t.mu.Unlock()

	t.router.mu.Lock()
	t.router.producers[p.id] = p
	t.router.mu.Unlock()
	return p, nil
}

func (t *Transport) Consume(_ context.Context, producerID domain.ProducerID, caps engine.RtpCapabilities, paused bool) (engine.Consumer, error) {
	if err := t.router.e.fail(OpConsume); err != nil {
		return nil, err
	}
	t.router.mu.Lock()
	p, ok := t.router.producers[producerID]
	t.router.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("enginetest: producer %s not on router", producerID)
	}
	codec, ok := engine.MediaCodec(p.params)
	if !ok || !engine.CanConsume(p.params, caps) {
		return nil, errors.New("enginetest: cannot consume")
	}
	c := &Consumer{
		e:          t.router.e,
		id:         domain.ConsumerID(uuid.NewString()),
		producerID: producerID,
		kind:       p.kind,
		params:     engine.RtpParameters{Codecs: []engine.RtpCodecParameters{codec}, Encodings: []engine.RtpEncodingParameters{{Ssrc: 1234}}},
		paused:     paused,
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	t.consumers = append(t.consumers, c)
	t.mu.Unlock()

	p.addConsumer(c)
	t.router.e.mu.Lock()
	t.router.e.consumers++
	t.router.e.mu.Unlock()
	return c, nil
}

func (t *Transport) OnClose(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onClose = append(t.onClose, fn)
}

func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	producers, consumers, hooks := t.producers, t.consumers, t.onClose
	t.onClose = nil
	t.mu.Unlock()

	for _, p := range producers {
		_ = p.Close()
	}
	for _, c := range consumers {
		_ = c.Close()
	}
	for _, fn := range hooks {
		fn()
	}
	return nil
}

func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

type Producer struct {
	router *Router
	id     domain.ProducerID
	kind   domain.MediaKind
	params engine.RtpParameters

	mu        sync.Mutex
	closed    bool
	consumers []*Consumer
}

func (p *Producer) ID() domain.ProducerID               { return p.id }
func (p *Producer) Kind() domain.MediaKind              { return p.kind }
func (p *Producer) RtpParameters() engine.RtpParameters { return p.params }

func (p *Producer) addConsumer(c *Consumer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consumers = append(p.consumers, c)
}

func (p *Producer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	consumers := p.consumers
	p.mu.Unlock()

	p.router.mu.Lock()
	delete(p.router.producers, p.id)
	p.router.mu.Unlock()
	for _, c := range consumers {
		_ = c.Close()
	}
	return nil
}

func (p *Producer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type Consumer struct {
	e          *Engine
	id         domain.ConsumerID
	producerID domain.ProducerID
	kind       domain.MediaKind
	params     engine.RtpParameters

	mu      sync.Mutex
	paused  bool
	closed  bool
	resumes int
}

func (c *Consumer) ID() domain.ConsumerID               { return c.id }
func (c *Consumer) ProducerID() domain.ProducerID       { return c.producerID }
func (c *Consumer) Kind() domain.MediaKind              { return c.kind }
func (c *Consumer) RtpParameters() engine.RtpParameters { return c.params }

func (c *Consumer) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

func (c *Consumer) Resume(_ context.Context) error {
	if err := c.e.fail(OpResume); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.paused = false
	c.resumes++
	return nil
}

// Resumes counts calls to Resume that reached the engine.
func (c *Consumer) Resumes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resumes
}

func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *Consumer) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
