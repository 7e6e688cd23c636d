// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package noise

// Reducer conditions PCM chunks before they reach the recognizer. Process
// must never block the audio path for long and must return usable PCM even
// when the underlying denoiser is unavailable (pass-through).
type Reducer interface {
	Process(chunk []byte) []byte
	Close() error
}

type noopReducer struct{}

// NewNoopReducer returns a pass-through reducer.
func NewNoopReducer() Reducer {
	return noopReducer{}
}

func (noopReducer) Process(chunk []byte) []byte { return chunk }

func (noopReducer) Close() error { return nil }
