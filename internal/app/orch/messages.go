package orch

import (
	"github.com/dkeye/Stream/internal/domain"
	"github.com/dkeye/Stream/internal/engine"
)

type CreateRoomRequest struct {
	ForceTCP         bool                     `json:"forceTcp"`
	Producing        bool                     `json:"producing"`
	Consuming        bool                     `json:"consuming"`
	SctpCapabilities *engine.SctpCapabilities `json:"sctpCapabilities,omitempty"`
}

type CreateRoomResponse struct {
	RoomID          domain.RoomID          `json:"roomId"`
	RtpCapabilities engine.RtpCapabilities `json:"rtpCapabilities"`
	SendTransport   engine.TransportParams `json:"sendTransport"`
}

type JoinRoomRequest struct {
	RoomID           domain.RoomID            `json:"roomId"`
	ForceTCP         bool                     `json:"forceTcp"`
	Producing        bool                     `json:"producing"`
	Consuming        bool                     `json:"consuming"`
	SctpCapabilities *engine.SctpCapabilities `json:"sctpCapabilities,omitempty"`
}

type JoinRoomResponse struct {
	RoomID           domain.RoomID          `json:"roomId"`
	RtpCapabilities  engine.RtpCapabilities `json:"rtpCapabilities"`
	ReceiveTransport engine.TransportParams `json:"receiveTransport"`
	Producers        []domain.ProducerInfo  `json:"producers"`
}

type ConnectTransportRequest struct {
	TransportID    domain.TransportID    `json:"transportId"`
	DtlsParameters engine.DtlsParameters `json:"dtlsParameters"`
	IceParameters  *engine.IceParameters `json:"iceParameters,omitempty"`
}

type ConnectTransportResponse struct {
	Success     bool               `json:"success"`
	TransportID domain.TransportID `json:"transportId"`
}

type ProduceRequest struct {
	TransportID   domain.TransportID   `json:"transportId"`
	Kind          domain.MediaKind     `json:"kind"`
	RtpParameters engine.RtpParameters `json:"rtpParameters"`
	RoomID        domain.RoomID        `json:"roomId"`
}

type ProduceResponse struct {
	ID domain.ProducerID `json:"id"`
}

type ConsumeRequest struct {
	RoomID          domain.RoomID          `json:"roomId"`
	ProducerID      domain.ProducerID      `json:"producerId"`
	RtpCapabilities engine.RtpCapabilities `json:"rtpCapabilities"`
}

type ConsumeResponse struct {
	ID            domain.ConsumerID    `json:"id"`
	ProducerID    domain.ProducerID    `json:"producerId"`
	Kind          domain.MediaKind     `json:"kind"`
	RtpParameters engine.RtpParameters `json:"rtpParameters"`
}

type ResumeConsumerRequest struct {
	ConsumerID domain.ConsumerID `json:"consumerId"`
	RoomID     domain.RoomID     `json:"roomId"`
}

type CloseProducerRequest struct {
	ProducerID domain.ProducerID `json:"producerId"`
	RoomID     domain.RoomID     `json:"roomId"`
}

type GetRtpCapabilitiesRequest struct {
	RoomID domain.RoomID `json:"roomId,omitempty"`
}

type RtpCapabilitiesResponse struct {
	RtpCapabilities engine.RtpCapabilities `json:"rtpCapabilities"`
}

type StopStreamRequest struct {
	RoomID domain.RoomID `json:"roomId"`
}

type SuccessResponse struct {
	Success bool `json:"success"`
}
