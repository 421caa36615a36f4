package core

import (
	"github.com/dkeye/Stream/internal/domain"
	"github.com/dkeye/Stream/internal/engine"
)

type consumerEntry struct {
	consumer   engine.Consumer
	producerID domain.ProducerID
}

// ConsumerSession is one participant's receive side inside a room.
// It is only touched under the owning room's lock.
type ConsumerSession struct {
	TransportID domain.TransportID
	WorkerID    domain.WorkerID

	consumers map[domain.ConsumerID]consumerEntry
}

func NewConsumerSession(transportID domain.TransportID, workerID domain.WorkerID) *ConsumerSession {
	return &ConsumerSession{
		TransportID: transportID,
		WorkerID:    workerID,
		consumers:   make(map[domain.ConsumerID]consumerEntry),
	}
}

func (s *ConsumerSession) add(c engine.Consumer) {
	s.consumers[c.ID()] = consumerEntry{consumer: c, producerID: c.ProducerID()}
}

// dropProducer removes and returns the consumers fed by producerID.
func (s *ConsumerSession) dropProducer(producerID domain.ProducerID) []engine.Consumer {
	var out []engine.Consumer
	for id, e := range s.consumers {
		if e.producerID == producerID {
			out = append(out, e.consumer)
			delete(s.consumers, id)
		}
	}
	return out
}
