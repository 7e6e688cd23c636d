// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package channel

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
)

// Sink delivers one outbound envelope to the client. Implementations must be
// safe for concurrent use; every worker in a session emits through the same
// sink.
type Sink interface {
	Emit(event string, data interface{}) error
}

// wsSink serializes all writes on one websocket connection. Interleaved
// frames corrupt the stream, so a single writer lock guards WriteMessage.
type wsSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWebsocketSink wraps a signaling connection as an outbound event sink.
func NewWebsocketSink(conn *websocket.Conn) Sink {
	return &wsSink{conn: conn}
}

func (s *wsSink) Emit(event string, data interface{}) error {
	if data == nil {
		data = map[string]interface{}{}
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: mustRaw(data)})
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, frame)
}

func mustRaw(data interface{}) json.RawMessage {
	raw, err := json.Marshal(data)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}

// ===== Typed outbound surface =====

// Emitter provides the typed outbound event set over a Sink. Payload shapes
// are wire contracts; field names must not change.
type Emitter struct {
	sink Sink
}

func NewEmitter(sink Sink) *Emitter {
	return &Emitter{sink: sink}
}

func (e *Emitter) SessionReady(sessionID string) error {
	return e.sink.Emit(EventSessionReady, map[string]interface{}{"session_id": sessionID})
}

func (e *Emitter) Answer(sdp, sdpType, reportID string) error {
	return e.sink.Emit(EventRTCAnswer, map[string]interface{}{
		"sdp":      sdp,
		"type":     sdpType,
		"reportid": reportID,
	})
}

// Candidate relays one locally gathered ICE candidate. A nil payload marks
// end-of-candidates and is sent as {candidate: null}.
func (e *Emitter) Candidate(candidate *string, sdpMid *string, sdpMLineIndex *uint16) error {
	if candidate == nil {
		return e.sink.Emit(EventRTCCandidate, map[string]interface{}{"candidate": nil})
	}
	return e.sink.Emit(EventRTCCandidate, map[string]interface{}{
		"candidate":     *candidate,
		"sdpMid":        sdpMid,
		"sdpMLineIndex": sdpMLineIndex,
	})
}

func (e *Emitter) Partial(text string) error {
	return e.sink.Emit(EventSTTPartial, map[string]interface{}{"text": text})
}

func (e *Emitter) FinalSegments(segments interface{}) error {
	return e.sink.Emit(EventSTTFinalSegments, map[string]interface{}{"segments": segments})
}

func (e *Emitter) QAPairs(pairs interface{}, final bool) error {
	return e.sink.Emit(EventSTTQAPairs, map[string]interface{}{"pairs": pairs, "final": final})
}

func (e *Emitter) Stats(partials, finals int, bytes, chunks int64) error {
	return e.sink.Emit(EventSTTStats, map[string]interface{}{
		"partials": partials,
		"finals":   finals,
		"bytes":    bytes,
		"chunks":   chunks,
	})
}

func (e *Emitter) Error(code, message string) error {
	return e.sink.Emit(EventSTTError, map[string]interface{}{"code": code, "message": message})
}

func (e *Emitter) Done(finalCount int, durationSec float64) error {
	return e.sink.Emit(EventSTTDone, map[string]interface{}{
		"final_count":  finalCount,
		"duration_sec": durationSec,
	})
}

func (e *Emitter) RecordingURL(url string) error {
	return e.sink.Emit(EventSTTRecordingURL, map[string]interface{}{"url": url})
}

func (e *Emitter) SessionClose(reason string) error {
	return e.sink.Emit(EventSessionClose, map[string]interface{}{"reason": reason})
}
