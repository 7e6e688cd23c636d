// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package noise

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rapidaai/stt-gateway/pkg/commons"
)

func TestNoopReducerPassesThrough(t *testing.T) {
	r := NewNoopReducer()
	chunk := []byte{1, 2, 3, 4}
	assert.Equal(t, chunk, r.Process(chunk))
	assert.NoError(t, r.Close())
}

func TestFilterChain(t *testing.T) {
	assert.Equal(t, "afftdn=nf=-25,highpass=f=100,speechnorm=e=6:l=1", filterChain())
}

func TestFFmpegArgs(t *testing.T) {
	r := &ffmpegReducer{logger: commons.NewTestLogger(), sampleRate: 16000, available: true}
	args := r.args()
	assert.Contains(t, args, "s16le")
	assert.Contains(t, args, "16000")
	assert.Contains(t, args, "pipe:0")
	assert.Contains(t, args, "pipe:1")
	assert.Contains(t, args, filterChain())
}

func TestFFmpegReducerEmptyChunk(t *testing.T) {
	r := NewFFmpegReducer(commons.NewTestLogger(), 16000)
	assert.Empty(t, r.Process(nil))
	assert.NoError(t, r.Close())
	// Closed reducer passes chunks through untouched.
	chunk := []byte{1, 2}
	assert.Equal(t, chunk, r.Process(chunk))
}
