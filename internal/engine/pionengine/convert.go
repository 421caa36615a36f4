package pionengine

import (
	"sort"
	"strings"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/Stream/internal/domain"
	"github.com/dkeye/Stream/internal/engine"
)

var (
	videoFeedback = []engine.RtcpFeedback{
		{Type: "nack"},
		{Type: "nack", Parameter: "pli"},
		{Type: "ccm", Parameter: "fir"},
		{Type: "transport-cc"},
	}
	audioFeedback = []engine.RtcpFeedback{{Type: "transport-cc"}}
)

func codecType(kind domain.MediaKind) webrtc.RTPCodecType {
	if kind == domain.KindAudio {
		return webrtc.RTPCodecTypeAudio
	}
	return webrtc.RTPCodecTypeVideo
}

// fmtpLine renders codec parameters as an SDP fmtp value with stable key order.
func fmtpLine(params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+engine.ParamString(params, k, ""))
	}
	return strings.Join(parts, ";")
}

func feedback(fb []engine.RtcpFeedback) []webrtc.RTCPFeedback {
	out := make([]webrtc.RTCPFeedback, 0, len(fb))
	for _, f := range fb {
		out = append(out, webrtc.RTCPFeedback{Type: f.Type, Parameter: f.Parameter})
	}
	return out
}

// withFeedback fills in the RTCP feedback the interceptor chain can honour.
func withFeedback(codecs []engine.RtpCodecCapability) []engine.RtpCodecCapability {
	out := make([]engine.RtpCodecCapability, len(codecs))
	for i, c := range codecs {
		if c.RtcpFeedback == nil {
			if c.Kind == domain.KindAudio {
				c.RtcpFeedback = audioFeedback
			} else {
				c.RtcpFeedback = videoFeedback
			}
		}
		out[i] = c
	}
	return out
}

func codecCapability(c engine.RtpCodecCapability) webrtc.RTPCodecCapability {
	return webrtc.RTPCodecCapability{
		MimeType:     c.MimeType,
		ClockRate:    c.ClockRate,
		Channels:     c.Channels,
		SDPFmtpLine:  fmtpLine(c.Parameters),
		RTCPFeedback: feedback(c.RtcpFeedback),
	}
}

func codecParameters(c engine.RtpCodecCapability) webrtc.RTPCodecParameters {
	return webrtc.RTPCodecParameters{
		RTPCodecCapability: codecCapability(c),
		PayloadType:        webrtc.PayloadType(c.PreferredPayloadType),
	}
}

func dtlsRole(role string) webrtc.DTLSRole {
	switch role {
	case "client":
		return webrtc.DTLSRoleClient
	case "server":
		return webrtc.DTLSRoleServer
	default:
		return webrtc.DTLSRoleAuto
	}
}

func remoteDTLS(p engine.DtlsParameters) webrtc.DTLSParameters {
	out := webrtc.DTLSParameters{Role: dtlsRole(p.Role)}
	for _, f := range p.Fingerprints {
		out.Fingerprints = append(out.Fingerprints, webrtc.DTLSFingerprint{Algorithm: f.Algorithm, Value: f.Value})
	}
	return out
}

func localDTLS(p webrtc.DTLSParameters) engine.DtlsParameters {
	out := engine.DtlsParameters{Role: "auto"}
	switch p.Role {
	case webrtc.DTLSRoleClient:
		out.Role = "client"
	case webrtc.DTLSRoleServer:
		out.Role = "server"
	}
	for _, f := range p.Fingerprints {
		out.Fingerprints = append(out.Fingerprints, engine.DtlsFingerprint{Algorithm: f.Algorithm, Value: f.Value})
	}
	return out
}

func localCandidates(cands []webrtc.ICECandidate) []engine.IceCandidate {
	out := make([]engine.IceCandidate, 0, len(cands))
	for _, c := range cands {
		out = append(out, engine.IceCandidate{
			Foundation: c.Foundation,
			Priority:   c.Priority,
			IP:         c.Address,
			Protocol:   c.Protocol.String(),
			Port:       c.Port,
			Type:       c.Typ.String(),
			TCPType:    c.TCPType,
		})
	}
	return out
}
