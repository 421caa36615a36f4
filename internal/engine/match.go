package engine

import (
	"fmt"
	"math"
	"strings"
)

// MatchCodec finds the capability in caps able to carry codec.
func MatchCodec(codec RtpCodecParameters, caps RtpCapabilities) (RtpCodecCapability, bool) {
	for _, c := range caps.Codecs {
		if !strings.EqualFold(c.MimeType, codec.MimeType) || c.ClockRate != codec.ClockRate {
			continue
		}
		if codec.Channels > 1 && c.Channels != codec.Channels {
			continue
		}
		switch strings.ToLower(codec.MimeType) {
		case "video/h264":
			if ParamString(c.Parameters, "packetization-mode", "0") != ParamString(codec.Parameters, "packetization-mode", "0") {
				continue
			}
		case "video/vp9":
			if ParamString(c.Parameters, "profile-id", "0") != ParamString(codec.Parameters, "profile-id", "0") {
				continue
			}
		}
		return c, true
	}
	return RtpCodecCapability{}, false
}

// MediaCodec returns the first codec of params that is not a retransmission codec.
func MediaCodec(params RtpParameters) (RtpCodecParameters, bool) {
	for _, c := range params.Codecs {
		if strings.HasSuffix(strings.ToLower(c.MimeType), "/rtx") {
			continue
		}
		return c, true
	}
	return RtpCodecParameters{}, false
}

// CanConsume reports whether caps can receive a stream sent with params.
func CanConsume(params RtpParameters, caps RtpCapabilities) bool {
	codec, ok := MediaCodec(params)
	if !ok {
		return false
	}
	_, ok = MatchCodec(codec, caps)
	return ok
}

// ParamString renders a codec parameter the way it appears in an fmtp line.
func ParamString(params map[string]any, key, def string) string {
	v, ok := params[key]
	if !ok || v == nil {
		return def
	}
	if f, ok := v.(float64); ok && f == math.Trunc(f) {
		return fmt.Sprint(int64(f))
	}
	return fmt.Sprint(v)
}
