package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Stream/internal/core"
	"github.com/dkeye/Stream/internal/domain"
	"github.com/dkeye/Stream/internal/engine"
)

// TransportEntry is a snapshot of one registered transport.
type TransportEntry struct {
	Transport engine.Transport
	ID        domain.TransportID
	WorkerID  domain.WorkerID
	Direction domain.Direction
	RoomID    domain.RoomID
	Owner     core.SessionID
	State     domain.TransportState
}

type transportRecord struct {
	TransportEntry
	connecting bool
}

type tombstone struct {
	at    time.Time
	room  domain.RoomID
	owner core.SessionID
}

// TransportRegistry owns every live transport. Rooms and sessions refer to
// transports by id only. Closed ids are remembered while their room or owner
// is still around so late requests get InvalidState instead of NotFound.
type TransportRegistry struct {
	now func() time.Time

	mu         sync.RWMutex
	entries    map[domain.TransportID]*transportRecord
	tombstones map[domain.TransportID]tombstone
	onClosed   func(TransportEntry)
}

func NewTransportRegistry() *TransportRegistry {
	return &TransportRegistry{
		now:        time.Now,
		entries:    make(map[domain.TransportID]*transportRecord),
		tombstones: make(map[domain.TransportID]tombstone),
	}
}

// OnClosed sets the callback for transports the engine closed on its own
// (ICE or DTLS failure). It is not called for Close.
func (r *TransportRegistry) OnClosed(fn func(TransportEntry)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onClosed = fn
}

func (r *TransportRegistry) Create(
	ctx context.Context,
	router engine.Router,
	worker domain.WorkerID,
	dir domain.Direction,
	room domain.RoomID,
	owner core.SessionID,
	opts engine.TransportOptions,
) (TransportEntry, error) {
	t, err := router.CreateWebRtcTransport(ctx, opts)
	if err != nil {
		return TransportEntry{}, domain.EngineError("create transport", err)
	}
	rec := &transportRecord{TransportEntry: TransportEntry{
		Transport: t,
		ID:        t.ID(),
		WorkerID:  worker,
		Direction: dir,
		RoomID:    room,
		Owner:     owner,
		State:     domain.TransportCreated,
	}}

	r.mu.Lock()
	r.entries[rec.ID] = rec
	r.mu.Unlock()

	t.OnClose(func() { r.engineClosed(rec.ID) })

	log.Info().
		Str("module", "app.transports").
		Str("transport", string(rec.ID)).
		Str("room", string(room)).
		Str("direction", string(dir)).
		Int("worker", int(worker)).
		Msg("transport created")
	return rec.TransportEntry, nil
}

func (r *TransportRegistry) Get(id domain.TransportID) (TransportEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.entries[id]
	if !ok {
		return TransportEntry{}, false
	}
	return rec.TransportEntry, true
}

// Lookup is Get with the error a request for id should fail with:
// AlreadyClosed for a remembered closed id, NotFound otherwise.
func (r *TransportRegistry) Lookup(id domain.TransportID) (TransportEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, err := r.lookupLocked(id)
	if err != nil {
		return TransportEntry{}, err
	}
	return rec.TransportEntry, nil
}

func (r *TransportRegistry) lookupLocked(id domain.TransportID) (*transportRecord, error) {
	if rec, ok := r.entries[id]; ok {
		return rec, nil
	}
	if _, ok := r.tombstones[id]; ok {
		return nil, fmt.Errorf("%w: transport %s", domain.ErrAlreadyClosed, id)
	}
	return nil, domain.TransportNotFound(id)
}

// Connect hands the remote DTLS (and ICE) parameters to the engine.
// A transport connects at most once.
func (r *TransportRegistry) Connect(ctx context.Context, id domain.TransportID, dtls engine.DtlsParameters, ice *engine.IceParameters) error {
	r.mu.Lock()
	rec, err := r.lookupLocked(id)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	if rec.State != domain.TransportCreated || rec.connecting {
		r.mu.Unlock()
		return fmt.Errorf("%w: transport %s already %s", domain.ErrInvalidState, id, rec.State)
	}
	rec.connecting = true
	t := rec.Transport
	r.mu.Unlock()

	err = t.Connect(ctx, dtls, ice)

	r.mu.Lock()
	defer r.mu.Unlock()
	rec.connecting = false
	if _, ok := r.entries[id]; !ok {
		return fmt.Errorf("%w: transport %s", domain.ErrAlreadyClosed, id)
	}
	if err != nil {
		return domain.EngineError("connect transport", err)
	}
	rec.State = domain.TransportConnected
	log.Info().Str("module", "app.transports").Str("transport", string(id)).Msg("transport connected")
	return nil
}

// Close releases the engine transport. Unknown or closed ids are a no-op.
func (r *TransportRegistry) Close(id domain.TransportID) {
	r.mu.Lock()
	rec, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
		r.tombstones[id] = tombstone{at: r.now(), room: rec.RoomID, owner: rec.Owner}
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	if err := rec.Transport.Close(); err != nil {
		log.Warn().Err(err).Str("module", "app.transports").Str("transport", string(id)).Msg("engine close")
	}
	log.Info().Str("module", "app.transports").Str("transport", string(id)).Msg("transport closed")
}

func (r *TransportRegistry) engineClosed(id domain.TransportID) {
	r.mu.Lock()
	rec, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
		r.tombstones[id] = tombstone{at: r.now(), room: rec.RoomID, owner: rec.Owner}
	}
	fn := r.onClosed
	r.mu.Unlock()
	if !ok {
		return
	}
	log.Info().Str("module", "app.transports").Str("transport", string(id)).Msg("transport closed by engine")
	if fn != nil {
		entry := rec.TransportEntry
		entry.State = domain.TransportClosed
		fn(entry)
	}
}

// PruneClosed forgets tombstones older than olderThan whose room and owner
// are both gone. live reports whether either is still around; a nil live
// treats both as gone.
func (r *TransportRegistry) PruneClosed(olderThan time.Duration, live func(domain.RoomID, core.SessionID) bool) int {
	cutoff := r.now().Add(-olderThan)
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, ts := range r.tombstones {
		if !ts.at.Before(cutoff) {
			continue
		}
		if live != nil && live(ts.room, ts.owner) {
			continue
		}
		delete(r.tombstones, id)
		n++
	}
	return n
}

// Count returns the number of live transports.
func (r *TransportRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
