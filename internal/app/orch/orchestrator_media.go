package orch

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Stream/internal/core"
	"github.com/dkeye/Stream/internal/domain"
)

// ConnectTransport resolves the id before the state gate, so an unknown id is
// NotFound and a closed one InvalidState whatever state the caller is in.
func (o *Orchestrator) ConnectTransport(ctx context.Context, sid core.SessionID, req ConnectTransportRequest) (ConnectTransportResponse, error) {
	if _, bound := o.Sessions.State(sid); !bound {
		return ConnectTransportResponse{}, fmt.Errorf("%w: session %s is not bound", domain.ErrInvalidState, sid)
	}
	entry, err := o.Transports.Lookup(req.TransportID)
	if err != nil {
		return ConnectTransportResponse{}, err
	}
	// Someone else's transport is reported exactly like a missing one.
	if entry.Owner != sid {
		return ConnectTransportResponse{}, domain.TransportNotFound(req.TransportID)
	}
	if err := o.admit(sid, EventConnectTransport); err != nil {
		return ConnectTransportResponse{}, err
	}
	ctx, cancel := o.engineCtx(ctx)
	defer cancel()

	if err := o.Transports.Connect(ctx, req.TransportID, req.DtlsParameters, req.IceParameters); err != nil {
		return ConnectTransportResponse{}, err
	}
	o.complete(sid, EventConnectTransport)
	return ConnectTransportResponse{Success: true, TransportID: req.TransportID}, nil
}

// Produce creates a producer on the room's send transport and announces it
// to every other member.
func (o *Orchestrator) Produce(ctx context.Context, sid core.SessionID, req ProduceRequest) (ProduceResponse, error) {
	if err := o.admit(sid, EventProduce); err != nil {
		return ProduceResponse{}, err
	}
	if !req.Kind.Valid() {
		return ProduceResponse{}, fmt.Errorf("%w: kind %q", domain.ErrBadRequest, req.Kind)
	}
	room, ok := o.Rooms.Get(req.RoomID)
	if !ok {
		return ProduceResponse{}, domain.RoomNotFound(req.RoomID)
	}
	entry, ok := o.Transports.Get(req.TransportID)
	if !ok || entry.Owner != sid {
		return ProduceResponse{}, domain.TransportNotFound(req.TransportID)
	}
	if entry.ID != room.SendTransportID() {
		return ProduceResponse{}, fmt.Errorf("%w: transport %s is not the send transport of room %s", domain.ErrInvalidState, entry.ID, room.ID())
	}
	if entry.State != domain.TransportConnected {
		return ProduceResponse{}, fmt.Errorf("%w: transport %s is %s", domain.ErrInvalidState, entry.ID, entry.State)
	}

	ctx, cancel := o.engineCtx(ctx)
	defer cancel()
	p, err := entry.Transport.Produce(ctx, req.Kind, req.RtpParameters)
	if err != nil {
		return ProduceResponse{}, domain.EngineError("produce", err)
	}
	res, err := o.Rooms.AddProducer(room.ID(), p, domain.ProducerInfo{
		ID:          p.ID(),
		Kind:        p.Kind(),
		WorkerID:    room.WorkerID(),
		TransportID: entry.ID,
	}, sid)
	if err != nil {
		_ = p.Close()
		return ProduceResponse{}, err
	}
	o.complete(sid, EventProduce)
	log.Info().
		Str("module", "orch").
		Str("room", string(room.ID())).
		Str("producer", string(p.ID())).
		Str("kind", string(p.Kind())).
		Int("notified", res.SendTo).
		Msg("producer added")
	o.applyPolicy(room.ID(), res)
	return ProduceResponse{ID: p.ID()}, nil
}

// Consume creates a paused consumer for producerID on the caller's receive
// transport. The client resumes it once its track is wired up.
func (o *Orchestrator) Consume(ctx context.Context, sid core.SessionID, req ConsumeRequest) (ConsumeResponse, error) {
	if err := o.admit(sid, EventConsume); err != nil {
		return ConsumeResponse{}, err
	}
	room, ok := o.Rooms.Get(req.RoomID)
	if !ok {
		return ConsumeResponse{}, domain.RoomNotFound(req.RoomID)
	}
	transportID, ok := room.Session(sid)
	if !ok {
		return ConsumeResponse{}, fmt.Errorf("%w: %s has not joined room %s", domain.ErrInvalidState, sid, room.ID())
	}
	if _, ok := room.Producer(req.ProducerID); !ok {
		return ConsumeResponse{}, domain.ProducerNotFound(req.ProducerID)
	}
	if !room.Router().CanConsume(req.ProducerID, req.RtpCapabilities) {
		return ConsumeResponse{}, fmt.Errorf("%w: cannot consume producer %s", domain.ErrCapabilityMismatch, req.ProducerID)
	}
	entry, ok := o.Transports.Get(transportID)
	if !ok {
		return ConsumeResponse{}, domain.TransportNotFound(transportID)
	}

	ctx, cancel := o.engineCtx(ctx)
	defer cancel()
	c, err := entry.Transport.Consume(ctx, req.ProducerID, req.RtpCapabilities, true)
	if err != nil {
		return ConsumeResponse{}, domain.EngineError("consume", err)
	}
	if err := room.AddConsumer(sid, transportID, c); err != nil {
		_ = c.Close()
		return ConsumeResponse{}, err
	}
	o.complete(sid, EventConsume)
	return ConsumeResponse{
		ID:            c.ID(),
		ProducerID:    c.ProducerID(),
		Kind:          c.Kind(),
		RtpParameters: c.RtpParameters(),
	}, nil
}

// ResumeConsumer starts media flowing to a consumer. Resuming a live consumer is a no-op.
func (o *Orchestrator) ResumeConsumer(ctx context.Context, sid core.SessionID, req ResumeConsumerRequest) (SuccessResponse, error) {
	if err := o.admit(sid, EventResumeConsumer); err != nil {
		return SuccessResponse{}, err
	}
	room, ok := o.Rooms.Get(req.RoomID)
	if !ok {
		return SuccessResponse{}, domain.RoomNotFound(req.RoomID)
	}
	c, ok := room.Consumer(sid, req.ConsumerID)
	if !ok {
		return SuccessResponse{}, domain.ConsumerNotFound(req.ConsumerID)
	}
	if c.Paused() {
		ctx, cancel := o.engineCtx(ctx)
		defer cancel()
		if err := c.Resume(ctx); err != nil {
			return SuccessResponse{}, domain.EngineError("resume consumer", err)
		}
	}
	o.complete(sid, EventResumeConsumer)
	return SuccessResponse{Success: true}, nil
}

func (o *Orchestrator) CloseProducer(_ context.Context, sid core.SessionID, req CloseProducerRequest) (SuccessResponse, error) {
	if err := o.admit(sid, EventCloseProducer); err != nil {
		return SuccessResponse{}, err
	}
	room, ok := o.Rooms.Get(req.RoomID)
	if !ok {
		return SuccessResponse{}, domain.RoomNotFound(req.RoomID)
	}
	info, ok := room.Producer(req.ProducerID)
	if !ok {
		return SuccessResponse{}, domain.ProducerNotFound(req.ProducerID)
	}
	if entry, ok := o.Transports.Get(info.TransportID); !ok || entry.Owner != sid {
		return SuccessResponse{}, fmt.Errorf("%w: producer %s belongs to another session", domain.ErrInvalidState, req.ProducerID)
	}
	res, err := o.Rooms.RemoveProducer(room.ID(), req.ProducerID)
	if err != nil {
		return SuccessResponse{}, err
	}
	log.Info().Str("module", "orch").Str("room", string(room.ID())).Str("producer", string(req.ProducerID)).Msg("producer closed")
	o.applyPolicy(room.ID(), res)
	return SuccessResponse{Success: true}, nil
}
