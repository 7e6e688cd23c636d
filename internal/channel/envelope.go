// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package channel

import (
	"encoding/json"
	"fmt"
)

// Inbound control events.
const (
	EventSessionInit  = "session.init"
	EventSessionClose = "session.close"
	EventRTCOffer     = "rtc.offer"
	EventRTCCandidate = "rtc.candidate"
	EventRTCStart     = "rtc.start"
	EventRTCStop      = "rtc.stop"
)

// Outbound control events.
const (
	EventSessionReady     = "session.ready"
	EventRTCAnswer        = "rtc.answer"
	EventSTTPartial       = "stt.partial"
	EventSTTFinalSegments = "stt.final_segments"
	EventSTTQAPairs       = "stt.qa_pairs"
	EventSTTStats         = "stt.stats"
	EventSTTError         = "stt.error"
	EventSTTDone          = "stt.done"
	EventSTTRecordingURL  = "stt.recording_url"
)

// Wire error codes.
const (
	CodeInvalidPayload        = "INVALID_PAYLOAD"
	CodeUnknownEvent          = "UNKNOWN_EVENT"
	CodeSessionNotInitialized = "SESSION_NOT_INITIALIZED"
	CodeInvalidOffer          = "INVALID_OFFER"
	CodeInvalidCandidate      = "INVALID_CANDIDATE"
	CodeGoogleAuthMissing     = "GOOGLE_AUTH_MISSING"
	CodeUpstreamFail          = "UPSTREAM_FAIL"
	CodeNotImplemented        = "NOT_IMPLEMENTED"
)

// Envelope is one control-channel frame: a JSON object with a required
// event name and an optional data object.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Decode parses one inbound text frame. A frame that is not a JSON object,
// or carries no event name, is a protocol error.
func Decode(frame []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}
	if env.Event == "" {
		return nil, fmt.Errorf("invalid envelope: missing event")
	}
	return &env, nil
}

// Bind unmarshals the envelope data object into out. A missing data object
// binds as an empty object.
func (e *Envelope) Bind(out interface{}) error {
	if len(e.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Data, out); err != nil {
		return fmt.Errorf("invalid %s payload: %w", e.Event, err)
	}
	return nil
}
