package config

import (
	"github.com/dkeye/Stream/internal/domain"
	"github.com/dkeye/Stream/internal/engine"
)

// MediaCodecs is the codec set every router is created with.
var MediaCodecs = []engine.RtpCodecCapability{
	{
		Kind:                 domain.KindAudio,
		MimeType:             "audio/opus",
		PreferredPayloadType: 111,
		ClockRate:            48000,
		Channels:             2,
	},
	{
		Kind:                 domain.KindVideo,
		MimeType:             "video/VP8",
		PreferredPayloadType: 96,
		ClockRate:            90000,
		Parameters:           map[string]any{"x-google-start-bitrate": 1000},
	},
	{
		Kind:                 domain.KindVideo,
		MimeType:             "video/VP9",
		PreferredPayloadType: 98,
		ClockRate:            90000,
		Parameters:           map[string]any{"profile-id": 2, "x-google-start-bitrate": 1000},
	},
	{
		Kind:                 domain.KindVideo,
		MimeType:             "video/H264",
		PreferredPayloadType: 102,
		ClockRate:            90000,
		Parameters: map[string]any{
			"packetization-mode":      1,
			"profile-level-id":        "4d0032",
			"level-asymmetry-allowed": 1,
			"x-google-start-bitrate":  1000,
		},
	},
	{
		Kind:                 domain.KindVideo,
		MimeType:             "video/H264",
		PreferredPayloadType: 108,
		ClockRate:            90000,
		Parameters: map[string]any{
			"packetization-mode":      1,
			"profile-level-id":        "42e01f",
			"level-asymmetry-allowed": 1,
			"x-google-start-bitrate":  1000,
		},
	},
}
