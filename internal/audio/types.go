// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package audio

// Opus audio constants (WebRTC standard: 48kHz)
const (
	OpusSampleRate    = 48000
	OpusFrameDuration = 20   // milliseconds
	OpusMaxSamples    = 5760 // 120ms at 48kHz, the largest legal Opus frame
	OpusPayloadType   = 111  // Standard dynamic payload type for Opus
	OpusChannels      = 2    // Opus RTP always signals 2 encoding channels (opus/48000/2) per RFC 7587, even for mono voice
	OpusSDPFmtpLine   = "minptime=10;useinbandfec=1;stereo=0;sprop-stereo=0"
)

// Channel and buffer sizes
const (
	RTPBufferSize        = 1500 // Max RTP packet size (MTU)
	MaxConsecutiveErrors = 50   // Max track read errors before stopping
	QueueCapacity        = 64   // Bounded PCM chunk queue per session
	BytesPerSample       = 2    // S16LE
)
