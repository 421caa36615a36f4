package core

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Stream/internal/domain"
	"github.com/dkeye/Stream/internal/engine"
)

type producerEntry struct {
	info     domain.ProducerInfo
	producer engine.Producer
}

// Room is a threadsafe in-memory room bound to one worker's router.
// It never calls into the engine; engine handles it drops are handed back.
type Room struct {
	id            domain.RoomID
	workerID      domain.WorkerID
	router        engine.Router
	owner         SessionID
	sendTransport domain.TransportID
	createdAt     time.Time

	mu        sync.Mutex
	active    bool
	closed    bool
	producers []producerEntry
	sessions  map[SessionID]*ConsumerSession
	members   map[SessionID]SignalConnection
}

func NewRoom(id domain.RoomID, workerID domain.WorkerID, router engine.Router, owner SessionID, sendTransport domain.TransportID, ownerSig SignalConnection, now time.Time) *Room {
	r := &Room{
		id:            id,
		workerID:      workerID,
		router:        router,
		owner:         owner,
		sendTransport: sendTransport,
		createdAt:     now,
		active:        true,
		sessions:      make(map[SessionID]*ConsumerSession),
		members:       make(map[SessionID]SignalConnection),
	}
	if ownerSig != nil {
		r.members[owner] = ownerSig
	}
	return r
}

func (r *Room) ID() domain.RoomID                   { return r.id }
func (r *Room) WorkerID() domain.WorkerID           { return r.workerID }
func (r *Room) Router() engine.Router               { return r.router }
func (r *Room) Owner() SessionID                    { return r.owner }
func (r *Room) SendTransportID() domain.TransportID { return r.sendTransport }
func (r *Room) CreatedAt() time.Time                { return r.createdAt }

func (r *Room) errClosed() error {
	return fmt.Errorf("%w: room %s closed", domain.ErrNotFound, r.id)
}

// Join registers sess for sid and returns the producers present at that moment.
// Any session sid held before is returned so the caller can release it.
func (r *Room) Join(sid SessionID, sig SignalConnection, sess *ConsumerSession) ([]domain.ProducerInfo, *ConsumerSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, nil, r.errClosed()
	}
	replaced := r.sessions[sid]
	r.sessions[sid] = sess
	if sig != nil {
		r.members[sid] = sig
	}
	snapshot := make([]domain.ProducerInfo, 0, len(r.producers))
	for _, p := range r.producers {
		snapshot = append(snapshot, p.info)
	}
	log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("sid", string(sid)).Int("producers", len(snapshot)).Msg("member joined")
	return snapshot, replaced, nil
}

// AddProducer appends p and announces it to every other member under the same
// lock Join snapshots under, so a joiner sees each producer exactly once.
func (r *Room) AddProducer(p engine.Producer, info domain.ProducerInfo, from SessionID) (PublishResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return PublishResult{}, r.errClosed()
	}
	r.producers = append(r.producers, producerEntry{info: info, producer: p})
	return Push(r.members, from, EventNewProducer, NewProducerEvent{
		ProducerID: info.ID,
		Kind:       info.Kind,
		WorkerID:   info.WorkerID,
		RoomID:     r.id,
	}), nil
}

func (r *Room) Producer(id domain.ProducerID) (domain.ProducerInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.producers {
		if p.info.ID == id {
			return p.info, true
		}
	}
	return domain.ProducerInfo{}, false
}

// RemoveProducers drops every producer match selects, detaches the
// consumers fed by them and announces producer-closed. The returned
// producers and consumers must be closed by the caller.
func (r *Room) RemoveProducers(match func(domain.ProducerInfo) bool) ([]engine.Producer, []engine.Consumer, PublishResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		producers []engine.Producer
		consumers []engine.Consumer
		res       PublishResult
	)
	kept := r.producers[:0]
	for _, p := range r.producers {
		if !match(p.info) {
			kept = append(kept, p)
			continue
		}
		producers = append(producers, p.producer)
		for _, s := range r.sessions {
			consumers = append(consumers, s.dropProducer(p.info.ID)...)
		}
		res.Merge(Push(r.members, "", EventProducerClosed, ProducerClosedEvent{ProducerID: p.info.ID, RoomID: r.id}))
	}
	clear(r.producers[len(kept):])
	r.producers = kept
	return producers, consumers, res
}

// AddConsumer records c under sid's session. It fails if the session is gone,
// was replaced by one on another transport, or c's producer has left the room.
func (r *Room) AddConsumer(sid SessionID, transportID domain.TransportID, c engine.Consumer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return r.errClosed()
	}
	s, ok := r.sessions[sid]
	if !ok || s.TransportID != transportID {
		return fmt.Errorf("%w: session %s in room %s", domain.ErrNotFound, sid, r.id)
	}
	if !r.hasProducerLocked(c.ProducerID()) {
		return domain.ProducerNotFound(c.ProducerID())
	}
	s.add(c)
	return nil
}

func (r *Room) hasProducerLocked(id domain.ProducerID) bool {
	for _, p := range r.producers {
		if p.info.ID == id {
			return true
		}
	}
	return false
}

func (r *Room) Consumer(sid SessionID, id domain.ConsumerID) (engine.Consumer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sid]
	if !ok {
		return nil, false
	}
	e, ok := s.consumers[id]
	return e.consumer, ok
}

// Session returns the receive transport of sid's session.
func (r *Room) Session(sid SessionID) (domain.TransportID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sid]
	if !ok {
		return "", false
	}
	return s.TransportID, true
}

// Leave removes sid's session and membership.
func (r *Room) Leave(sid SessionID) (*ConsumerSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, hadSession := r.sessions[sid]
	_, wasMember := r.members[sid]
	delete(r.sessions, sid)
	delete(r.members, sid)
	return s, hadSession || wasMember
}

// DropSession removes sid's session only if it still uses transportID.
func (r *Room) DropSession(sid SessionID, transportID domain.TransportID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sid]
	if !ok || s.TransportID != transportID {
		return false
	}
	delete(r.sessions, sid)
	return true
}

func (r *Room) HasMember(sid SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, member := r.members[sid]
	_, session := r.sessions[sid]
	return member || session
}

func (r *Room) MarkInactive() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = false
}

func (r *Room) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active && !r.closed
}

// Close marks the room closed and hands back every transport it owns and the
// members to notify. Only the first call reports ok.
func (r *Room) Close() (transports []domain.TransportID, members map[SessionID]SignalConnection, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, nil, false
	}
	r.closed = true
	r.active = false
	transports = append(transports, r.sendTransport)
	for _, s := range r.sessions {
		transports = append(transports, s.TransportID)
	}
	members = r.members
	r.members = make(map[SessionID]SignalConnection)
	r.sessions = make(map[SessionID]*ConsumerSession)
	r.producers = nil
	return transports, members, true
}

func (r *Room) Stats() domain.RoomStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := domain.RoomStats{
		ID:              r.id,
		WorkerID:        r.workerID,
		SendTransportID: r.sendTransport,
		ProducerIDs:     make([]domain.ProducerID, 0, len(r.producers)),
		NumMembers:      len(r.members),
		CreatedAt:       r.createdAt,
		Active:          r.active && !r.closed,
	}
	for _, p := range r.producers {
		st.ProducerIDs = append(st.ProducerIDs, p.info.ID)
	}
	for _, s := range r.sessions {
		st.NumConsumers += len(s.consumers)
	}
	return st
}
