// Package pionengine implements the media engine with pion/webrtc ORTC objects.
// A worker is a configured webrtc.API, every producer runs its own RTP relay and
// every consumer is a muted or live output track on that relay.
package pionengine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Stream/internal/engine"
)

var (
	errTransportClosed   = errors.New("pionengine: transport closed")
	errAlreadyConnecting = errors.New("pionengine: transport already connecting")
	errNotConnected      = errors.New("pionengine: transport not connected")
	errRemoteICERequired = errors.New("pionengine: remote ice parameters required")
	errNoMediaCodec      = errors.New("pionengine: rtp parameters carry no media codec")
	errSsrcRequired      = errors.New("pionengine: producer encodings need an ssrc")
	errUnknownProducer   = errors.New("pionengine: producer not on this router")
	errCannotConsume     = errors.New("pionengine: capabilities cannot receive producer")
)

// maxSctpMessageSize matches what transports advertise when SCTP is requested.
const maxSctpMessageSize = 262144

type Engine struct {
	nextID atomic.Int64
}

func New() *Engine {
	return &Engine{}
}

func (e *Engine) CreateWorker(_ context.Context, s engine.WorkerSettings) (engine.Worker, error) {
	se := webrtc.SettingEngine{LoggerFactory: loggerFactory{}}

	if s.RtcMinPort > 0 && s.RtcMaxPort > 0 {
		if err := se.SetEphemeralUDPPortRange(s.RtcMinPort, s.RtcMaxPort); err != nil {
			return nil, fmt.Errorf("set ephemeral udp port range: %w", err)
		}
	}
	if s.AnnouncedIP != "" {
		se.SetNAT1To1IPs([]string{s.AnnouncedIP}, webrtc.ICECandidateTypeHost)
	}
	if ip := net.ParseIP(s.ListenIP); ip != nil && !ip.IsUnspecified() {
		se.SetIPFilter(func(candidate net.IP) bool {
			return candidate.Equal(ip)
		})
	}

	var servers []webrtc.ICEServer
	if len(s.ICEServers) > 0 {
		servers = []webrtc.ICEServer{{URLs: s.ICEServers}}
	}

	w := &worker{
		id:         int(e.nextID.Add(1) - 1),
		se:         se,
		iceServers: servers,
		died:       make(chan error, 1),
	}
	log.Info().
		Str("module", "engine.pion").
		Int("worker", w.id).
		Uint16("rtc_min_port", s.RtcMinPort).
		Uint16("rtc_max_port", s.RtcMaxPort).
		Str("announced_ip", s.AnnouncedIP).
		Msg("worker created")
	return w, nil
}
