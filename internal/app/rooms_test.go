package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Stream/internal/core"
	"github.com/dkeye/Stream/internal/domain"
	"github.com/dkeye/Stream/internal/engine"
	"github.com/dkeye/Stream/internal/engine/enginetest"
)

type roomsFixture struct {
	eng        *enginetest.Engine
	pool       *WorkerPool
	transports *TransportRegistry
	rooms      *RoomRegistry
}

func newRoomsFixture(t *testing.T, workers int) *roomsFixture {
	t.Helper()
	eng, pool := newTestPool(t, workers)
	transports := NewTransportRegistry()
	return &roomsFixture{
		eng:        eng,
		pool:       pool,
		transports: transports,
		rooms:      NewRoomRegistry(pool, transports),
	}
}

func (f *roomsFixture) create(t *testing.T, owner core.SessionID, sig core.SignalConnection) *core.Room {
	t.Helper()
	room, entry, err := f.rooms.CreateRoom(context.Background(), owner, sig, engine.TransportOptions{Producing: true})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if entry.ID != room.SendTransportID() || entry.Direction != domain.DirectionSend {
		t.Fatalf("send transport entry=%+v", entry)
	}
	if err := f.transports.Connect(context.Background(), entry.ID, engine.DtlsParameters{}, nil); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return room
}

func TestRoomsJoinUsesRoomWorker(t *testing.T) {
	f := newRoomsFixture(t, 3)
	f.create(t, "a", nil)
	room := f.create(t, "b", nil)

	res, err := f.rooms.JoinRoom(context.Background(), room.ID(), "viewer", nil, engine.TransportOptions{Consuming: true})
	if err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	if res.Transport.WorkerID != room.WorkerID() {
		t.Fatalf("receive transport on worker %d, room on %d", res.Transport.WorkerID, room.WorkerID())
	}
	if res.Transport.Direction != domain.DirectionReceive {
		t.Fatalf("Direction=%s, want receive", res.Transport.Direction)
	}
	if _, err := f.rooms.JoinRoom(context.Background(), "missing", "viewer", nil, engine.TransportOptions{}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("JoinRoom unknown err=%v, want ErrNotFound", err)
	}
}

func TestRoomsRejoinClosesOldTransport(t *testing.T) {
	f := newRoomsFixture(t, 1)
	room := f.create(t, "owner", nil)

	first, err := f.rooms.JoinRoom(context.Background(), room.ID(), "viewer", nil, engine.TransportOptions{})
	if err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	if _, err := f.rooms.JoinRoom(context.Background(), room.ID(), "viewer", nil, engine.TransportOptions{}); err != nil {
		t.Fatalf("JoinRoom again: %v", err)
	}
	if _, ok := f.transports.Get(first.Transport.ID); ok {
		t.Fatalf("old receive transport still registered")
	}
	if f.transports.Count() != 2 {
		t.Fatalf("transports=%d, want send + one receive", f.transports.Count())
	}
}

func TestRoomsCloseRoomIdempotent(t *testing.T) {
	f := newRoomsFixture(t, 1)
	owner, viewer := newRecordingSignal(), newRecordingSignal()
	room := f.create(t, "owner", owner)
	if _, err := f.rooms.JoinRoom(context.Background(), room.ID(), "viewer", viewer, engine.TransportOptions{}); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}

	if !f.rooms.CloseRoom(room.ID()) {
		t.Fatalf("first CloseRoom returned false")
	}
	if f.rooms.CloseRoom(room.ID()) {
		t.Fatalf("second CloseRoom returned true")
	}
	if f.transports.Count() != 0 || f.eng.OpenTransports() != 0 {
		t.Fatalf("registry=%d engine=%d open transports, want 0", f.transports.Count(), f.eng.OpenTransports())
	}
	if owner.count(core.EventStreamEnded) != 1 || viewer.count(core.EventStreamEnded) != 1 {
		t.Fatalf("stream-ended owner=%d viewer=%d, want 1 each", owner.count(core.EventStreamEnded), viewer.count(core.EventStreamEnded))
	}
	if _, ok := f.rooms.Get(room.ID()); ok {
		t.Fatalf("closed room still listed")
	}
}

func TestRoomsCloseDuringJoin(t *testing.T) {
	f := newRoomsFixture(t, 1)
	room := f.create(t, "owner", nil)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.rooms.JoinRoom(context.Background(), room.ID(), core.SessionID(fmt.Sprintf("v%d", i)), nil, engine.TransportOptions{})
		}()
	}
	f.rooms.CloseRoom(room.ID())
	wg.Wait()

	if n := f.transports.Count(); n != 0 {
		t.Fatalf("%d transports leaked after close raced joins", n)
	}
	if n := f.eng.OpenTransports(); n != 0 {
		t.Fatalf("%d engine transports leaked", n)
	}
}

func TestRoomsRemoveProducerClosesConsumers(t *testing.T) {
	f := newRoomsFixture(t, 1)
	viewer := newRecordingSignal()
	room := f.create(t, "owner", nil)
	res, err := f.rooms.JoinRoom(context.Background(), room.ID(), "viewer", viewer, engine.TransportOptions{})
	if err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	p, info := produce(t, f.transports, room, 1111)
	if _, err := f.rooms.AddProducer(room.ID(), p, info, "owner"); err != nil {
		t.Fatalf("AddProducer: %v", err)
	}

	caps := room.Router().RtpCapabilities()
	c, err := res.Transport.Transport.Consume(context.Background(), p.ID(), caps, true)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if err := room.AddConsumer("viewer", res.Transport.ID, c); err != nil {
		t.Fatalf("AddConsumer: %v", err)
	}

	if _, err := f.rooms.RemoveProducer(room.ID(), p.ID()); err != nil {
		t.Fatalf("RemoveProducer: %v", err)
	}
	if !c.(*enginetest.Consumer).Closed() {
		t.Fatalf("consumer of removed producer still open")
	}
	if viewer.count(core.EventProducerClosed) != 1 {
		t.Fatalf("producer-closed not pushed")
	}
	if _, err := f.rooms.RemoveProducer(room.ID(), p.ID()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("second RemoveProducer err=%v, want ErrNotFound", err)
	}
}

func TestRoomsSendTransportLossMarksInactive(t *testing.T) {
	f := newRoomsFixture(t, 1)
	room := f.create(t, "owner", nil)
	p, info := produce(t, f.transports, room, 2222)
	if _, err := f.rooms.AddProducer(room.ID(), p, info, "owner"); err != nil {
		t.Fatalf("AddProducer: %v", err)
	}

	entry, _ := f.transports.Get(room.SendTransportID())
	_ = entry.Transport.Close()

	st, ok := f.rooms.Stats(room.ID())
	if !ok {
		t.Fatalf("room vanished")
	}
	if st.Active || len(st.ProducerIDs) != 0 {
		t.Fatalf("stats=%+v, want inactive with no producers", st)
	}
	if closed := f.rooms.SweepInactive(time.Hour); len(closed) != 1 || closed[0] != room.ID() {
		t.Fatalf("swept=%v, want [%s]", closed, room.ID())
	}
}

func TestRoomsSweepByAge(t *testing.T) {
	f := newRoomsFixture(t, 1)
	now := time.Unix(5000, 0)
	f.rooms.now = func() time.Time { return now }
	old := f.create(t, "a", nil)
	now = now.Add(time.Hour)
	fresh := f.create(t, "b", nil)

	closed := f.rooms.SweepInactive(30 * time.Minute)
	if len(closed) != 1 || closed[0] != old.ID() {
		t.Fatalf("swept=%v, want only %s", closed, old.ID())
	}
	if _, ok := f.rooms.Get(fresh.ID()); !ok {
		t.Fatalf("fresh room was swept")
	}
}

func TestRoomsMembershipQueries(t *testing.T) {
	f := newRoomsFixture(t, 2)
	r1 := f.create(t, "alice", nil)
	r2 := f.create(t, "bob", nil)
	if _, err := f.rooms.JoinRoom(context.Background(), r2.ID(), "alice", nil, engine.TransportOptions{}); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}

	if owned := f.rooms.RoomsOwnedBy("alice"); len(owned) != 1 || owned[0] != r1.ID() {
		t.Fatalf("RoomsOwnedBy=%v", owned)
	}
	if with := f.rooms.RoomsWithMember("alice"); len(with) != 1 || with[0] != r2.ID() {
		t.Fatalf("RoomsWithMember=%v, want [%s]", with, r2.ID())
	}
	if !f.rooms.RemoveConsumerSession(r2.ID(), "alice") {
		t.Fatalf("RemoveConsumerSession=false")
	}
	if f.rooms.RemoveConsumerSession(r2.ID(), "alice") {
		t.Fatalf("RemoveConsumerSession twice=true")
	}
	if len(f.rooms.List()) != 2 {
		t.Fatalf("List=%d rooms, want 2", len(f.rooms.List()))
	}
}

// Every joiner must learn about every producer exactly once, either from the
// join snapshot or from a new-producer event, no matter how joins and
// produces interleave.
func TestRoomsSnapshotBroadcastGapFree(t *testing.T) {
	f := newRoomsFixture(t, 1)
	room := f.create(t, "owner", nil)

	const joiners, producers = 16, 24
	type joined struct {
		sig  *recordingSignal
		snap []domain.ProducerInfo
	}
	results := make([]joined, joiners)

	var wg sync.WaitGroup
	for i := range joiners {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sig := newRecordingSignal()
			res, err := f.rooms.JoinRoom(context.Background(), room.ID(), core.SessionID(fmt.Sprintf("v%d", i)), sig, engine.TransportOptions{})
			if err != nil {
				t.Errorf("JoinRoom: %v", err)
				return
			}
			results[i] = joined{sig: sig, snap: res.Producers}
		}()
	}
	send, _ := f.transports.Get(room.SendTransportID())
	for i := range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := send.Transport.Produce(context.Background(), domain.KindVideo, vp8Params(uint32(1000+i)))
			if err != nil {
				t.Errorf("Produce: %v", err)
				return
			}
			info := domain.ProducerInfo{ID: p.ID(), Kind: p.Kind(), WorkerID: room.WorkerID(), TransportID: send.ID}
			if _, err := f.rooms.AddProducer(room.ID(), p, info, "owner"); err != nil {
				t.Errorf("AddProducer: %v", err)
			}
		}()
	}
	wg.Wait()

	for i, j := range results {
		if j.sig == nil {
			continue
		}
		seen := make(map[domain.ProducerID]int)
		for _, p := range j.snap {
			seen[p.ID]++
		}
		for _, id := range j.sig.newProducers() {
			seen[id]++
		}
		if len(seen) != producers {
			t.Fatalf("joiner %d saw %d producers, want %d", i, len(seen), producers)
		}
		for id, n := range seen {
			if n != 1 {
				t.Fatalf("joiner %d saw producer %s %d times", i, id, n)
			}
		}
	}
}
