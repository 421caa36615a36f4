package app

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	"github.com/dkeye/Stream/internal/core"
	"github.com/dkeye/Stream/internal/domain"
	"github.com/dkeye/Stream/internal/engine"
)

// JoinResult is what a participant needs after joining a room.
type JoinResult struct {
	Room      *core.Room
	Transport TransportEntry
	Producers []domain.ProducerInfo
}

type RoomRegistry struct {
	pool       *WorkerPool
	transports *TransportRegistry
	now        func() time.Time

	mu    sync.RWMutex
	rooms map[domain.RoomID]*core.Room
}

func NewRoomRegistry(pool *WorkerPool, transports *TransportRegistry) *RoomRegistry {
	r := &RoomRegistry{
		pool:       pool,
		transports: transports,
		now:        time.Now,
		rooms:      make(map[domain.RoomID]*core.Room),
	}
	transports.OnClosed(r.transportClosed)
	return r
}

// CreateRoom places a new room on the next worker and allocates its send transport.
func (r *RoomRegistry) CreateRoom(ctx context.Context, owner core.SessionID, sig core.SignalConnection, opts engine.TransportOptions) (*core.Room, TransportEntry, error) {
	workerID, router, err := r.pool.NextWorker()
	if err != nil {
		return nil, TransportEntry{}, err
	}
	id := domain.RoomID(uuid.NewString())
	entry, err := r.transports.Create(ctx, router, workerID, domain.DirectionSend, id, owner, opts)
	if err != nil {
		return nil, TransportEntry{}, err
	}

	room := core.NewRoom(id, workerID, router, owner, entry.ID, sig, r.now())
	r.mu.Lock()
	r.rooms[id] = room
	r.mu.Unlock()

	log.Info().
		Str("module", "app.rooms").
		Str("room", string(id)).
		Str("owner", string(owner)).
		Int("worker", int(workerID)).
		Msg("room created")
	return room, entry, nil
}

// JoinRoom allocates a receive transport on the room's router and registers
// the participant. If the room closes meanwhile the transport is released.
func (r *RoomRegistry) JoinRoom(ctx context.Context, roomID domain.RoomID, sid core.SessionID, sig core.SignalConnection, opts engine.TransportOptions) (JoinResult, error) {
	room, ok := r.Get(roomID)
	if !ok {
		return JoinResult{}, domain.RoomNotFound(roomID)
	}
	entry, err := r.transports.Create(ctx, room.Router(), room.WorkerID(), domain.DirectionReceive, roomID, sid, opts)
	if err != nil {
		return JoinResult{}, err
	}

	producers, replaced, err := room.Join(sid, sig, core.NewConsumerSession(entry.ID, room.WorkerID()))
	if err != nil {
		r.transports.Close(entry.ID)
		return JoinResult{}, domain.RoomNotFound(roomID)
	}
	if replaced != nil {
		r.transports.Close(replaced.TransportID)
	}
	return JoinResult{Room: room, Transport: entry, Producers: producers}, nil
}

// AddProducer records p in the room and announces it to the other members.
func (r *RoomRegistry) AddProducer(roomID domain.RoomID, p engine.Producer, info domain.ProducerInfo, from core.SessionID) (core.PublishResult, error) {
	room, ok := r.Get(roomID)
	if !ok {
		return core.PublishResult{}, domain.RoomNotFound(roomID)
	}
	return room.AddProducer(p, info, from)
}

// RemoveProducer closes a producer and every consumer fed by it.
func (r *RoomRegistry) RemoveProducer(roomID domain.RoomID, producerID domain.ProducerID) (core.PublishResult, error) {
	room, ok := r.Get(roomID)
	if !ok {
		return core.PublishResult{}, domain.RoomNotFound(roomID)
	}
	producers, consumers, res := room.RemoveProducers(func(info domain.ProducerInfo) bool { return info.ID == producerID })
	if len(producers) == 0 {
		return core.PublishResult{}, domain.ProducerNotFound(producerID)
	}
	closeAll(producers, consumers)
	return res, nil
}

// RemoveConsumerSession drops sid from the room and closes its receive
// transport, which takes its consumers with it.
func (r *RoomRegistry) RemoveConsumerSession(roomID domain.RoomID, sid core.SessionID) bool {
	room, ok := r.Get(roomID)
	if !ok {
		return false
	}
	sess, ok := room.Leave(sid)
	if !ok {
		return false
	}
	if sess != nil {
		r.transports.Close(sess.TransportID)
	}
	log.Info().Str("module", "app.rooms").Str("room", string(roomID)).Str("sid", string(sid)).Msg("member left")
	return true
}

// CloseRoom closes every transport of the room and tells its members the
// stream ended. Only the first call for a room reports true.
func (r *RoomRegistry) CloseRoom(roomID domain.RoomID) bool {
	r.mu.Lock()
	room, ok := r.rooms[roomID]
	delete(r.rooms, roomID)
	r.mu.Unlock()
	if !ok {
		return false
	}

	transports, members, ok := room.Close()
	if !ok {
		return false
	}

	var wg conc.WaitGroup
	for _, id := range transports {
		wg.Go(func() { r.transports.Close(id) })
	}
	wg.Wait()

	res := core.Push(members, "", core.EventStreamEnded, core.StreamEndedEvent{RoomID: roomID})
	log.Info().
		Str("module", "app.rooms").
		Str("room", string(roomID)).
		Int("transports", len(transports)).
		Int("notified", res.SendTo).
		Msg("room closed")
	return true
}

func (r *RoomRegistry) Get(id domain.RoomID) (*core.Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[id]
	return room, ok
}

func (r *RoomRegistry) snapshot() []*core.Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*core.Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		out = append(out, room)
	}
	return out
}

// List returns stats for every room, oldest first.
func (r *RoomRegistry) List() []domain.RoomStats {
	rooms := r.snapshot()
	out := make([]domain.RoomStats, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, room.Stats())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (r *RoomRegistry) Stats(id domain.RoomID) (domain.RoomStats, bool) {
	room, ok := r.Get(id)
	if !ok {
		return domain.RoomStats{}, false
	}
	return room.Stats(), true
}

func (r *RoomRegistry) RoomsWithMember(sid core.SessionID) []domain.RoomID {
	var out []domain.RoomID
	for _, room := range r.snapshot() {
		if room.HasMember(sid) {
			out = append(out, room.ID())
		}
	}
	return out
}

func (r *RoomRegistry) RoomsOwnedBy(sid core.SessionID) []domain.RoomID {
	var out []domain.RoomID
	for _, room := range r.snapshot() {
		if room.Owner() == sid {
			out = append(out, room.ID())
		}
	}
	return out
}

// SweepInactive closes rooms that lost their send transport or are older than maxAge.
func (r *RoomRegistry) SweepInactive(maxAge time.Duration) []domain.RoomID {
	now := r.now()
	var closed []domain.RoomID
	for _, room := range r.snapshot() {
		if room.Active() && now.Sub(room.CreatedAt()) <= maxAge {
			continue
		}
		if r.CloseRoom(room.ID()) {
			closed = append(closed, room.ID())
		}
	}
	return closed
}

// transportClosed reacts to the engine dropping a transport on its own.
func (r *RoomRegistry) transportClosed(entry TransportEntry) {
	room, ok := r.Get(entry.RoomID)
	if !ok {
		return
	}
	switch entry.Direction {
	case domain.DirectionSend:
		producers, consumers, _ := room.RemoveProducers(func(info domain.ProducerInfo) bool {
			return info.TransportID == entry.ID
		})
		closeAll(producers, consumers)
		room.MarkInactive()
		log.Warn().Str("module", "app.rooms").Str("room", string(entry.RoomID)).Int("producers", len(producers)).Msg("send transport lost, room inactive")
	case domain.DirectionReceive:
		if room.DropSession(entry.Owner, entry.ID) {
			log.Warn().Str("module", "app.rooms").Str("room", string(entry.RoomID)).Str("sid", string(entry.Owner)).Msg("receive transport lost")
		}
	}
}

func closeAll(producers []engine.Producer, consumers []engine.Consumer) {
	for _, c := range consumers {
		if err := c.Close(); err != nil {
			log.Debug().Err(err).Str("module", "app.rooms").Str("consumer", string(c.ID())).Msg("consumer close")
		}
	}
	for _, p := range producers {
		if err := p.Close(); err != nil {
			log.Debug().Err(err).Str("module", "app.rooms").Str("producer", string(p.ID())).Msg("producer close")
		}
	}
}
