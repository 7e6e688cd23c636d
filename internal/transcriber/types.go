// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package transcriber

import "context"

// Word is one recognized word with timing and an optional speaker tag.
type Word struct {
	Text    string
	Start   float64
	End     float64
	Speaker int
}

// Event is a recognizer stream event: Interim, Final or Failure.
type Event interface {
	recognizerEvent()
}

// Interim carries a partial hypothesis that may still change.
type Interim struct {
	Text string
}

// Final carries a stabilized result with word timings.
type Final struct {
	Transcript string
	Words      []Word
	ResultEnd  float64 // end offset of the result within the stream, seconds
}

// Failure reports a terminal stream error with a wire error code.
type Failure struct {
	Code    string
	Message string
}

func (Interim) recognizerEvent() {}
func (Final) recognizerEvent()   {}
func (Failure) recognizerEvent() {}

// Config selects the recognition model and features for one stream.
type Config struct {
	SampleRate        int
	Language          string
	Model             string
	UseEnhanced       bool
	EnablePunctuation bool
	EnableDiarization bool
	MinSpeakers       int
	MaxSpeakers       int
	CredentialsFile   string
}

// StreamingRecognizer is a bidirectional speech stream. Open starts the
// stream, Send pushes S16LE audio, CloseSend signals end of audio. Events
// delivers results until the upstream closes; the channel is closed after
// the last event.
type StreamingRecognizer interface {
	Open(ctx context.Context, cfg Config) error
	Send(audio []byte) error
	CloseSend() error
	Events() <-chan Event
	Close() error
}
