package orch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/dkeye/Stream/internal/app"
	"github.com/dkeye/Stream/internal/config"
	"github.com/dkeye/Stream/internal/core"
	"github.com/dkeye/Stream/internal/domain"
	"github.com/dkeye/Stream/internal/engine"
	"github.com/dkeye/Stream/internal/engine/enginetest"
)

type fakeSignal struct {
	mu     sync.Mutex
	events []string
	full   bool
	closed bool
}

func (s *fakeSignal) Push(event string, _ any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.full || s.closed {
		return errors.New("buffer full")
	}
	s.events = append(s.events, event)
	return nil
}

func (s *fakeSignal) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *fakeSignal) count(event string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e == event {
			n++
		}
	}
	return n
}

func newTestOrchestrator(t *testing.T, workers int) (*Orchestrator, *enginetest.Engine) {
	t.Helper()
	eng := enginetest.New()
	return newOrchestrator(t, eng, workers), eng
}

func newOrchestrator(t *testing.T, eng engine.Engine, workers int) *Orchestrator {
	t.Helper()
	pool := app.NewWorkerPool(eng, engine.WorkerSettings{}, config.MediaCodecs, func(domain.WorkerID, error) {})
	if err := pool.Initialize(context.Background(), workers); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(pool.Close)
	transports := app.NewTransportRegistry()
	return &Orchestrator{
		Pool:       pool,
		Transports: transports,
		Rooms:      app.NewRoomRegistry(pool, transports),
		Sessions:   app.NewRegistry(),
		Policy:     app.SimplePolicy{},
	}
}

func attach(o *Orchestrator, sid core.SessionID) *fakeSignal {
	sig := &fakeSignal{}
	o.Attach(sid, sig, func() {})
	return sig
}

func vp8() engine.RtpParameters {
	return engine.RtpParameters{
		Codecs:    []engine.RtpCodecParameters{{MimeType: "video/VP8", PayloadType: 96, ClockRate: 90000}},
		Encodings: []engine.RtpEncodingParameters{{Ssrc: 4242}},
	}
}

// startStream creates a room for sid, connects its send transport and produces one video track.
func startStream(t *testing.T, o *Orchestrator, sid core.SessionID) (CreateRoomResponse, domain.ProducerID) {
	t.Helper()
	ctx := context.Background()
	room, err := o.CreateRoom(ctx, sid, CreateRoomRequest{Producing: true})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if _, err := o.ConnectTransport(ctx, sid, ConnectTransportRequest{TransportID: room.SendTransport.ID}); err != nil {
		t.Fatalf("ConnectTransport: %v", err)
	}
	p, err := o.Produce(ctx, sid, ProduceRequest{
		TransportID:   room.SendTransport.ID,
		Kind:          domain.KindVideo,
		RtpParameters: vp8(),
		RoomID:        room.RoomID,
	})
	if err != nil {
		t.Fatalf("Produce: %v", err)
	}
	return room, p.ID
}

func TestBroadcastAndViewerLifecycle(t *testing.T) {
	o, eng := newTestOrchestrator(t, 2)
	ctx := context.Background()
	attach(o, "A")
	b := attach(o, "B")

	room, producerID := startStream(t, o, "A")
	if st, _ := o.Sessions.State("A"); st != domain.StateActive {
		t.Fatalf("A state=%v, want active", st)
	}

	joined, err := o.JoinRoom(ctx, "B", JoinRoomRequest{RoomID: room.RoomID, Consuming: true})
	if err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	if len(joined.Producers) != 1 || joined.Producers[0].ID != producerID {
		t.Fatalf("snapshot=%v, want [%s]", joined.Producers, producerID)
	}
	if _, err := o.ConnectTransport(ctx, "B", ConnectTransportRequest{TransportID: joined.ReceiveTransport.ID}); err != nil {
		t.Fatalf("ConnectTransport B: %v", err)
	}

	consumed, err := o.Consume(ctx, "B", ConsumeRequest{RoomID: room.RoomID, ProducerID: producerID, RtpCapabilities: joined.RtpCapabilities})
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if consumed.ProducerID != producerID || consumed.Kind != domain.KindVideo {
		t.Fatalf("consume response=%+v", consumed)
	}
	r, _ := o.Rooms.Get(room.RoomID)
	c, ok := r.Consumer("B", consumed.ID)
	if !ok {
		t.Fatalf("consumer not recorded")
	}
	fc := c.(*enginetest.Consumer)
	if !fc.Paused() {
		t.Fatalf("consumer created unpaused")
	}

	for range 2 {
		if _, err := o.ResumeConsumer(ctx, "B", ResumeConsumerRequest{RoomID: room.RoomID, ConsumerID: consumed.ID}); err != nil {
			t.Fatalf("ResumeConsumer: %v", err)
		}
	}
	if fc.Paused() || fc.Resumes() != 1 {
		t.Fatalf("paused=%v resumes=%d, want live after exactly one engine resume", fc.Paused(), fc.Resumes())
	}
	if st, _ := o.Sessions.State("B"); st != domain.StateActive {
		t.Fatalf("B state=%v, want active", st)
	}

	o.Disconnect("B")
	if !fc.Closed() {
		t.Fatalf("B's consumer survived disconnect")
	}
	if _, ok := o.Transports.Get(joined.ReceiveTransport.ID); ok {
		t.Fatalf("B's receive transport survived disconnect")
	}
	if st, ok := o.Rooms.Stats(room.RoomID); !ok || st.NumMembers != 1 {
		t.Fatalf("room after B left: %+v ok=%v", st, ok)
	}
	if entry, ok := o.Transports.Get(room.SendTransport.ID); !ok || entry.Owner != "A" {
		t.Fatalf("A's send transport did not survive B's disconnect")
	}
	if _, ok := r.Producer(producerID); !ok {
		t.Fatalf("A's producer did not survive B's disconnect")
	}

	o.Disconnect("A")
	if _, ok := o.Rooms.Get(room.RoomID); ok {
		t.Fatalf("room survived owner disconnect")
	}
	if n := eng.OpenTransports(); n != 0 {
		t.Fatalf("%d engine transports left open", n)
	}
	if b.count(core.EventNewProducer) != 0 {
		t.Fatalf("B got new-producer for a producer already in the snapshot")
	}
	o.Disconnect("A")
}

func TestRoundRobinPlacement(t *testing.T) {
	o, _ := newTestOrchestrator(t, 2)
	var workers []domain.WorkerID
	for _, sid := range []core.SessionID{"r1", "r2", "r3"} {
		attach(o, sid)
		res, err := o.CreateRoom(context.Background(), sid, CreateRoomRequest{})
		if err != nil {
			t.Fatalf("CreateRoom: %v", err)
		}
		r, _ := o.Rooms.Get(res.RoomID)
		workers = append(workers, r.WorkerID())
	}
	if workers[0] == workers[1] || workers[0] != workers[2] {
		t.Fatalf("workers=%v, want R1 and R3 sharing a worker and R2 on the other", workers)
	}
}

func TestEventsBelowMinimumState(t *testing.T) {
	o, _ := newTestOrchestrator(t, 1)
	ctx := context.Background()
	attach(o, "A")

	if _, err := o.Consume(ctx, "A", ConsumeRequest{RoomID: "x"}); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("consume from disconnected err=%v, want ErrInvalidState", err)
	}
	room, err := o.CreateRoom(ctx, "A", CreateRoomRequest{})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	_, err = o.Produce(ctx, "A", ProduceRequest{TransportID: room.SendTransport.ID, Kind: domain.KindAudio, RoomID: room.RoomID})
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("produce before connect err=%v, want ErrInvalidState", err)
	}
	if _, err := o.CreateRoom(ctx, "nobody", CreateRoomRequest{}); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("unbound session err=%v, want ErrInvalidState", err)
	}
	if _, err := o.GetRtpCapabilities(ctx, "A", GetRtpCapabilitiesRequest{}); err != nil {
		t.Fatalf("GetRtpCapabilities: %v", err)
	}
}

func TestConnectTransportErrors(t *testing.T) {
	o, eng := newTestOrchestrator(t, 1)
	ctx := context.Background()
	attach(o, "A")
	attach(o, "B")
	room, err := o.CreateRoom(ctx, "A", CreateRoomRequest{})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if _, err := o.JoinRoom(ctx, "B", JoinRoomRequest{RoomID: room.RoomID}); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}

	if _, err := o.ConnectTransport(ctx, "A", ConnectTransportRequest{TransportID: "nope"}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown transport err=%v, want ErrNotFound", err)
	}
	if _, err := o.ConnectTransport(ctx, "B", ConnectTransportRequest{TransportID: room.SendTransport.ID}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("foreign transport err=%v, want ErrNotFound", err)
	}

	eng.FailNext(enginetest.OpConnect, errors.New("dtls down"))
	_, err = o.ConnectTransport(ctx, "A", ConnectTransportRequest{TransportID: room.SendTransport.ID})
	if domain.Code(err) != "engine_failure" {
		t.Fatalf("engine failure code=%q (err=%v)", domain.Code(err), err)
	}

	o.Transports.Close(room.SendTransport.ID)
	_, err = o.ConnectTransport(ctx, "A", ConnectTransportRequest{TransportID: room.SendTransport.ID})
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("closed transport err=%v, want ErrInvalidState", err)
	}
}

func TestConsumeCapabilityMismatch(t *testing.T) {
	o, eng := newTestOrchestrator(t, 1)
	ctx := context.Background()
	attach(o, "A")
	attach(o, "B")
	room, producerID := startStream(t, o, "A")
	if _, err := o.JoinRoom(ctx, "B", JoinRoomRequest{RoomID: room.RoomID}); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}

	before := eng.ConsumersCreated()
	audioOnly := engine.RtpCapabilities{Codecs: []engine.RtpCodecCapability{{Kind: domain.KindAudio, MimeType: "audio/opus", ClockRate: 48000, Channels: 2}}}
	_, err := o.Consume(ctx, "B", ConsumeRequest{RoomID: room.RoomID, ProducerID: producerID, RtpCapabilities: audioOnly})
	if !errors.Is(err, domain.ErrCapabilityMismatch) {
		t.Fatalf("err=%v, want ErrCapabilityMismatch", err)
	}
	if eng.ConsumersCreated() != before {
		t.Fatalf("a consumer was created despite the mismatch")
	}
	if _, err := o.Consume(ctx, "B", ConsumeRequest{RoomID: room.RoomID, ProducerID: "ghost", RtpCapabilities: room.RtpCapabilities}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown producer err=%v, want ErrNotFound", err)
	}
}

func TestCloseProducer(t *testing.T) {
	o, _ := newTestOrchestrator(t, 1)
	ctx := context.Background()
	attach(o, "A")
	b := attach(o, "B")
	room, producerID := startStream(t, o, "A")
	if _, err := o.JoinRoom(ctx, "B", JoinRoomRequest{RoomID: room.RoomID}); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}

	if _, err := o.CloseProducer(ctx, "B", CloseProducerRequest{RoomID: room.RoomID, ProducerID: producerID}); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("viewer close-producer err=%v, want ErrInvalidState", err)
	}
	if _, err := o.CloseProducer(ctx, "A", CloseProducerRequest{RoomID: room.RoomID, ProducerID: producerID}); err != nil {
		t.Fatalf("CloseProducer: %v", err)
	}
	if b.count(core.EventProducerClosed) != 1 {
		t.Fatalf("B did not get producer-closed")
	}
	if _, err := o.CloseProducer(ctx, "A", CloseProducerRequest{RoomID: room.RoomID, ProducerID: producerID}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("second close err=%v, want ErrNotFound", err)
	}
}

func TestStopStream(t *testing.T) {
	o, eng := newTestOrchestrator(t, 1)
	ctx := context.Background()
	a := attach(o, "A")
	b := attach(o, "B")
	room, _ := startStream(t, o, "A")
	if _, err := o.JoinRoom(ctx, "B", JoinRoomRequest{RoomID: room.RoomID}); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}

	if _, err := o.StopStream(ctx, "B", StopStreamRequest{RoomID: room.RoomID}); err != nil {
		t.Fatalf("StopStream: %v", err)
	}
	if a.count(core.EventStreamEnded) != 1 || b.count(core.EventStreamEnded) != 1 {
		t.Fatalf("stream-ended A=%d B=%d, want 1 each", a.count(core.EventStreamEnded), b.count(core.EventStreamEnded))
	}
	if eng.OpenTransports() != 0 {
		t.Fatalf("%d transports open after stop", eng.OpenTransports())
	}
	if _, err := o.StopStream(ctx, "B", StopStreamRequest{RoomID: room.RoomID}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("second stop err=%v, want ErrNotFound", err)
	}
	if err := o.StopRoom(room.RoomID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("StopRoom err=%v, want ErrNotFound", err)
	}
}

func TestSlowMemberIsKicked(t *testing.T) {
	o, _ := newTestOrchestrator(t, 1)
	ctx := context.Background()
	attach(o, "A")
	slow := attach(o, "B")
	room, err := o.CreateRoom(ctx, "A", CreateRoomRequest{})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if _, err := o.JoinRoom(ctx, "B", JoinRoomRequest{RoomID: room.RoomID}); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	if _, err := o.ConnectTransport(ctx, "A", ConnectTransportRequest{TransportID: room.SendTransport.ID}); err != nil {
		t.Fatalf("ConnectTransport: %v", err)
	}

	slow.mu.Lock()
	slow.full = true
	slow.mu.Unlock()
	if _, err := o.Produce(ctx, "A", ProduceRequest{TransportID: room.SendTransport.ID, Kind: domain.KindVideo, RtpParameters: vp8(), RoomID: room.RoomID}); err != nil {
		t.Fatalf("Produce: %v", err)
	}

	if _, ok := o.Sessions.State("B"); ok {
		t.Fatalf("slow member still bound")
	}
	if !slow.closed {
		t.Fatalf("slow member's signal not closed")
	}
	if st, _ := o.Rooms.Stats(room.RoomID); st.NumMembers != 1 {
		t.Fatalf("members=%d, want only the owner", st.NumMembers)
	}
}

// hookEngine wraps an engine so afterConsume runs between the engine creating
// a consumer and the orchestrator recording it.
type hookEngine struct {
	engine.Engine
	afterConsume *func(engine.Consumer)
}

func (e hookEngine) CreateWorker(ctx context.Context, settings engine.WorkerSettings) (engine.Worker, error) {
	w, err := e.Engine.CreateWorker(ctx, settings)
	if err != nil {
		return nil, err
	}
	return hookWorker{Worker: w, afterConsume: e.afterConsume}, nil
}

type hookWorker struct {
	engine.Worker
	afterConsume *func(engine.Consumer)
}

func (w hookWorker) CreateRouter(ctx context.Context, codecs []engine.RtpCodecCapability) (engine.Router, error) {
	r, err := w.Worker.CreateRouter(ctx, codecs)
	if err != nil {
		return nil, err
	}
	return hookRouter{Router: r, afterConsume: w.afterConsume}, nil
}

type hookRouter struct {
	engine.Router
	afterConsume *func(engine.Consumer)
}

func (r hookRouter) CreateWebRtcTransport(ctx context.Context, opts engine.TransportOptions) (engine.Transport, error) {
	t, err := r.Router.CreateWebRtcTransport(ctx, opts)
	if err != nil {
		return nil, err
	}
	return hookTransport{Transport: t, afterConsume: r.afterConsume}, nil
}

type hookTransport struct {
	engine.Transport
	afterConsume *func(engine.Consumer)
}

func (t hookTransport) Consume(ctx context.Context, producerID domain.ProducerID, caps engine.RtpCapabilities, paused bool) (engine.Consumer, error) {
	c, err := t.Transport.Consume(ctx, producerID, caps, paused)
	if err == nil && *t.afterConsume != nil {
		(*t.afterConsume)(c)
	}
	return c, err
}

func TestConsumeRacingCloseProducer(t *testing.T) {
	eng := enginetest.New()
	var afterConsume func(engine.Consumer)
	o := newOrchestrator(t, hookEngine{Engine: eng, afterConsume: &afterConsume}, 1)
	ctx := context.Background()
	attach(o, "A")
	attach(o, "B")
	room, producerID := startStream(t, o, "A")
	joined, err := o.JoinRoom(ctx, "B", JoinRoomRequest{RoomID: room.RoomID, Consuming: true})
	if err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}

	var created engine.Consumer
	afterConsume = func(c engine.Consumer) {
		created = c
		if _, err := o.CloseProducer(ctx, "A", CloseProducerRequest{RoomID: room.RoomID, ProducerID: producerID}); err != nil {
			t.Errorf("CloseProducer: %v", err)
		}
	}
	_, err = o.Consume(ctx, "B", ConsumeRequest{RoomID: room.RoomID, ProducerID: producerID, RtpCapabilities: joined.RtpCapabilities})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}
	if created == nil {
		t.Fatalf("the engine never created a consumer")
	}
	if !created.(*enginetest.Consumer).Closed() {
		t.Fatalf("orphaned engine consumer left open")
	}
	if st, _ := o.Rooms.Stats(room.RoomID); st.NumConsumers != 0 || len(st.ProducerIDs) != 0 {
		t.Fatalf("stats=%+v, want no producers and no consumers", st)
	}
	if st, _ := o.Sessions.State("B"); st != domain.StateJoined {
		t.Fatalf("B state=%v, want joined after the failed consume", st)
	}
}

func TestConsumeWithoutJoiningRoom(t *testing.T) {
	o, eng := newTestOrchestrator(t, 1)
	ctx := context.Background()
	attach(o, "A")
	attach(o, "C")
	room, producerID := startStream(t, o, "A")
	own, err := o.CreateRoom(ctx, "C", CreateRoomRequest{})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	before := eng.ConsumersCreated()
	_, err = o.Consume(ctx, "C", ConsumeRequest{RoomID: room.RoomID, ProducerID: producerID, RtpCapabilities: own.RtpCapabilities})
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("err=%v, want ErrInvalidState", err)
	}
	if eng.ConsumersCreated() != before {
		t.Fatalf("a consumer was created for a non-member")
	}
}

func TestConnectTransportBeforeJoining(t *testing.T) {
	o, _ := newTestOrchestrator(t, 1)
	ctx := context.Background()
	attach(o, "A")
	attach(o, "fresh")
	room, err := o.CreateRoom(ctx, "A", CreateRoomRequest{})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	if _, err := o.ConnectTransport(ctx, "fresh", ConnectTransportRequest{TransportID: "bogus"}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown transport err=%v, want ErrNotFound", err)
	}
	if _, err := o.ConnectTransport(ctx, "fresh", ConnectTransportRequest{TransportID: room.SendTransport.ID}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("foreign transport err=%v, want ErrNotFound", err)
	}
	o.Transports.Close(room.SendTransport.ID)
	if _, err := o.ConnectTransport(ctx, "fresh", ConnectTransportRequest{TransportID: room.SendTransport.ID}); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("closed transport err=%v, want ErrInvalidState", err)
	}
	if _, err := o.ConnectTransport(ctx, "nobody", ConnectTransportRequest{TransportID: "bogus"}); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("unbound session err=%v, want ErrInvalidState", err)
	}
	if st, _ := o.Sessions.State("fresh"); st != domain.StateDisconnected {
		t.Fatalf("fresh state=%v, want disconnected", st)
	}
}
