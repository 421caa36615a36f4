// Package domain contains entity without logic, just meta-data
package domain

import "time"

type (
	RoomID      string
	TransportID string
	ProducerID  string
	ConsumerID  string
	WorkerID    int
)

type MediaKind string

const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
)

func (k MediaKind) Valid() bool { return k == KindAudio || k == KindVideo }

// Direction is the role of a transport inside a room.
type Direction string

const (
	DirectionSend    Direction = "send"
	DirectionReceive Direction = "receive"
)

type TransportState int

const (
	TransportCreated TransportState = iota
	TransportConnected
	TransportClosed
)

func (s TransportState) String() string {
	switch s {
	case TransportCreated:
		return "created"
	case TransportConnected:
		return "connected"
	case TransportClosed:
		return "closed"
	}
	return "unknown"
}

// ProducerInfo is the per-room record of a media source.
type ProducerInfo struct {
	ID          ProducerID  `json:"id"`
	Kind        MediaKind   `json:"kind"`
	WorkerID    WorkerID    `json:"workerId"`
	TransportID TransportID `json:"-"`
}

// RoomStats is a read-only view for APIs.
type RoomStats struct {
	ID              RoomID       `json:"id"`
	WorkerID        WorkerID     `json:"workerId"`
	SendTransportID TransportID  `json:"producerTransportId"`
	ProducerIDs     []ProducerID `json:"producerIds"`
	NumConsumers    int          `json:"numConsumers"`
	NumMembers      int          `json:"numMembers"`
	CreatedAt       time.Time    `json:"createdAt"`
	Active          bool         `json:"active"`
}
