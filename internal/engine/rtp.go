package engine

import "github.com/dkeye/Stream/internal/domain"

type RtcpFeedback struct {
	Type      string `json:"type"`
	Parameter string `json:"parameter,omitempty"`
}

type RtpCodecCapability struct {
	Kind                 domain.MediaKind `json:"kind"`
	MimeType             string           `json:"mimeType"`
	PreferredPayloadType uint8            `json:"preferredPayloadType,omitempty"`
	ClockRate            uint32           `json:"clockRate"`
	Channels             uint16           `json:"channels,omitempty"`
	Parameters           map[string]any   `json:"parameters,omitempty"`
	RtcpFeedback         []RtcpFeedback   `json:"rtcpFeedback,omitempty"`
}

type RtpHeaderExtension struct {
	Kind        domain.MediaKind `json:"kind,omitempty"`
	URI         string           `json:"uri"`
	PreferredID int              `json:"preferredId"`
}

type RtpCapabilities struct {
	Codecs           []RtpCodecCapability `json:"codecs"`
	HeaderExtensions []RtpHeaderExtension `json:"headerExtensions,omitempty"`
}

type RtpCodecParameters struct {
	MimeType     string         `json:"mimeType"`
	PayloadType  uint8          `json:"payloadType"`
	ClockRate    uint32         `json:"clockRate"`
	Channels     uint16         `json:"channels,omitempty"`
	Parameters   map[string]any `json:"parameters,omitempty"`
	RtcpFeedback []RtcpFeedback `json:"rtcpFeedback,omitempty"`
}

type RtpEncodingParameters struct {
	Ssrc uint32 `json:"ssrc,omitempty"`
	Rid  string `json:"rid,omitempty"`
}

type RtcpParameters struct {
	Cname       string `json:"cname,omitempty"`
	ReducedSize bool   `json:"reducedSize,omitempty"`
}

type RtpParameters struct {
	Mid       string                  `json:"mid,omitempty"`
	Codecs    []RtpCodecParameters    `json:"codecs"`
	Encodings []RtpEncodingParameters `json:"encodings,omitempty"`
	Rtcp      RtcpParameters          `json:"rtcp"`
}

type IceParameters struct {
	UsernameFragment string `json:"usernameFragment"`
	Password         string `json:"password"`
	IceLite          bool   `json:"iceLite,omitempty"`
}

type IceCandidate struct {
	Foundation string `json:"foundation"`
	Priority   uint32 `json:"priority"`
	IP         string `json:"ip"`
	Protocol   string `json:"protocol"`
	Port       uint16 `json:"port"`
	Type       string `json:"type"`
	TCPType    string `json:"tcpType,omitempty"`
}

type DtlsFingerprint struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

type DtlsParameters struct {
	Role         string            `json:"role,omitempty"`
	Fingerprints []DtlsFingerprint `json:"fingerprints"`
}

type NumSctpStreams struct {
	OS  uint16 `json:"OS"`
	MIS uint16 `json:"MIS"`
}

type SctpCapabilities struct {
	NumStreams NumSctpStreams `json:"numStreams"`
}

type SctpParameters struct {
	Port           uint16 `json:"port"`
	OS             uint16 `json:"OS"`
	MIS            uint16 `json:"MIS"`
	MaxMessageSize uint32 `json:"maxMessageSize"`
}

// TransportOptions mirrors what a client asks for when a transport is allocated.
type TransportOptions struct {
	ForceTCP         bool
	Producing        bool
	Consuming        bool
	SctpCapabilities *SctpCapabilities
}

// TransportParams is what the remote peer needs to negotiate with a transport.
type TransportParams struct {
	ID             domain.TransportID `json:"id"`
	IceParameters  IceParameters      `json:"iceParameters"`
	IceCandidates  []IceCandidate     `json:"iceCandidates"`
	DtlsParameters DtlsParameters     `json:"dtlsParameters"`
	SctpParameters *SctpParameters    `json:"sctpParameters,omitempty"`
}
