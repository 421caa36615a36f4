// Package engine describes the media-forwarding engine the orchestrator drives.
// Implementations own the actual ICE/DTLS/RTP work; callers only hold handles.
package engine

//go:generate mockgen -source=engine.go -destination=mock/engine_mock.go -package=mock

import (
	"context"

	"github.com/dkeye/Stream/internal/domain"
)

// WorkerSettings configures one worker.
type WorkerSettings struct {
	RtcMinPort  uint16
	RtcMaxPort  uint16
	ListenIP    string
	AnnouncedIP string
	ICEServers  []string
}

type Engine interface {
	CreateWorker(ctx context.Context, settings WorkerSettings) (Worker, error)
}

type Worker interface {
	CreateRouter(ctx context.Context, codecs []RtpCodecCapability) (Router, error)
	// Died is closed (or receives the cause) when the worker can no longer be used.
	Died() <-chan error
	Close() error
}

type Router interface {
	ID() string
	RtpCapabilities() RtpCapabilities
	// CanConsume reports whether a consumer with caps can receive producerID.
	CanConsume(producerID domain.ProducerID, caps RtpCapabilities) bool
	CreateWebRtcTransport(ctx context.Context, opts TransportOptions) (Transport, error)
}

type Transport interface {
	ID() domain.TransportID
	Params() TransportParams
	Connect(ctx context.Context, dtls DtlsParameters, ice *IceParameters) error
	Produce(ctx context.Context, kind domain.MediaKind, params RtpParameters) (Producer, error)
	Consume(ctx context.Context, producerID domain.ProducerID, caps RtpCapabilities, paused bool) (Consumer, error)
	// OnClose registers fn to run once the transport closes, for any reason.
	OnClose(fn func())
	Close() error
}

type Producer interface {
	ID() domain.ProducerID
	Kind() domain.MediaKind
	RtpParameters() RtpParameters
	Close() error
}

type Consumer interface {
	ID() domain.ConsumerID
	ProducerID() domain.ProducerID
	Kind() domain.MediaKind
	RtpParameters() RtpParameters
	Paused() bool
	Resume(ctx context.Context) error
	Close() error
}
