package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dkeye/Stream/internal/core"
	"github.com/dkeye/Stream/internal/domain"
	"github.com/dkeye/Stream/internal/engine"
)

func newTestTransport(t *testing.T) (*TransportRegistry, TransportEntry) {
	t.Helper()
	_, pool := newTestPool(t, 1)
	reg := NewTransportRegistry()
	_, router, err := pool.NextWorker()
	if err != nil {
		t.Fatalf("NextWorker: %v", err)
	}
	entry, err := reg.Create(context.Background(), router, 0, domain.DirectionSend, "room-1", "sid-1", engine.TransportOptions{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return reg, entry
}

func TestTransportConnect(t *testing.T) {
	reg, entry := newTestTransport(t)
	ctx := context.Background()

	if entry.State != domain.TransportCreated {
		t.Fatalf("State=%v, want created", entry.State)
	}
	if err := reg.Connect(ctx, entry.ID, engine.DtlsParameters{Role: "client"}, nil); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	got, _ := reg.Get(entry.ID)
	if got.State != domain.TransportConnected {
		t.Fatalf("State=%v, want connected", got.State)
	}
	if err := reg.Connect(ctx, entry.ID, engine.DtlsParameters{}, nil); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("second Connect err=%v, want ErrInvalidState", err)
	}
}

func TestTransportConnectUnknownAndClosed(t *testing.T) {
	reg, entry := newTestTransport(t)
	ctx := context.Background()

	if err := reg.Connect(ctx, "nope", engine.DtlsParameters{}, nil); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Connect unknown err=%v, want ErrNotFound", err)
	}

	reg.Close(entry.ID)
	reg.Close(entry.ID)
	err := reg.Connect(ctx, entry.ID, engine.DtlsParameters{}, nil)
	if !errors.Is(err, domain.ErrInvalidState) || !errors.Is(err, domain.ErrAlreadyClosed) {
		t.Fatalf("Connect closed err=%v, want ErrAlreadyClosed", err)
	}
	if reg.Count() != 0 {
		t.Fatalf("Count=%d, want 0", reg.Count())
	}
}

func TestTransportEngineCloseNotifies(t *testing.T) {
	reg, entry := newTestTransport(t)
	closed := make(chan TransportEntry, 1)
	reg.OnClosed(func(e TransportEntry) { closed <- e })

	_ = entry.Transport.Close()

	select {
	case e := <-closed:
		if e.ID != entry.ID || e.State != domain.TransportClosed {
			t.Fatalf("notified %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatalf("OnClosed not called")
	}
	if _, ok := reg.Get(entry.ID); ok {
		t.Fatalf("engine-closed transport still registered")
	}
}

func TestTransportRegistryCloseDoesNotNotify(t *testing.T) {
	reg, entry := newTestTransport(t)
	reg.OnClosed(func(TransportEntry) { t.Errorf("OnClosed called for an explicit close") })
	reg.Close(entry.ID)
}

func TestTransportPruneClosed(t *testing.T) {
	reg, entry := newTestTransport(t)
	now := time.Unix(1000, 0)
	reg.now = func() time.Time { return now }
	reg.Close(entry.ID)

	if n := reg.PruneClosed(time.Minute, nil); n != 0 {
		t.Fatalf("pruned=%d, want 0 for a fresh tombstone", n)
	}
	now = now.Add(2 * time.Minute)

	var asked []domain.RoomID
	roomAlive := func(room domain.RoomID, owner core.SessionID) bool {
		asked = append(asked, room)
		return owner == "sid-1"
	}
	if n := reg.PruneClosed(time.Minute, roomAlive); n != 0 {
		t.Fatalf("pruned=%d, want 0 while the owner is live", n)
	}
	if len(asked) != 1 || asked[0] != "room-1" {
		t.Fatalf("live asked about %v, want [room-1]", asked)
	}
	if err := reg.Connect(context.Background(), entry.ID, engine.DtlsParameters{}, nil); !errors.Is(err, domain.ErrAlreadyClosed) {
		t.Fatalf("Connect with live owner err=%v, want ErrAlreadyClosed", err)
	}

	if n := reg.PruneClosed(time.Minute, func(domain.RoomID, core.SessionID) bool { return false }); n != 1 {
		t.Fatalf("pruned=%d, want 1", n)
	}
	if err := reg.Connect(context.Background(), entry.ID, engine.DtlsParameters{}, nil); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Connect after prune err=%v, want ErrNotFound", err)
	}
}

func TestTransportLookup(t *testing.T) {
	reg, entry := newTestTransport(t)
	if got, err := reg.Lookup(entry.ID); err != nil || got.Owner != "sid-1" {
		t.Fatalf("Lookup=%+v err=%v", got, err)
	}
	if _, err := reg.Lookup("nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Lookup unknown err=%v, want ErrNotFound", err)
	}
	reg.Close(entry.ID)
	if _, err := reg.Lookup(entry.ID); !errors.Is(err, domain.ErrAlreadyClosed) {
		t.Fatalf("Lookup closed err=%v, want ErrAlreadyClosed", err)
	}
}
