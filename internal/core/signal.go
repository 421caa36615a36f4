package core

import (
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Stream/internal/domain"
)

// SessionID identifies one signaling connection.
type SessionID string

// SignalConnection abstracts the outbound side of a participant's event channel.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	// Push queues an event without blocking. It fails when the peer is too slow.
	Push(event string, payload any) error
	Close()
}

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []SessionID
}

// Merge folds other into r.
func (r *PublishResult) Merge(other PublishResult) {
	r.SendTo += other.SendTo
	r.Dropped = append(r.Dropped, other.Dropped...)
}

const (
	EventNewProducer    = "new-producer"
	EventProducerClosed = "producer-closed"
	EventStreamEnded    = "stream-ended"
)

type NewProducerEvent struct {
	ProducerID domain.ProducerID `json:"producerId"`
	Kind       domain.MediaKind  `json:"kind"`
	WorkerID   domain.WorkerID   `json:"workerId"`
	RoomID     domain.RoomID     `json:"roomId"`
}

type ProducerClosedEvent struct {
	ProducerID domain.ProducerID `json:"producerId"`
	RoomID     domain.RoomID     `json:"roomId"`
}

type StreamEndedEvent struct {
	RoomID domain.RoomID `json:"roomId"`
}

// Push sends one event to every member except from.
func Push(members map[SessionID]SignalConnection, from SessionID, event string, payload any) PublishResult {
	res := PublishResult{}
	for sid, sig := range members {
		if sid == from {
			continue
		}
		if err := sig.Push(event, payload); err != nil {
			res.Dropped = append(res.Dropped, sid)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "core.room").Str("event", event).Str("from", string(from)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}
