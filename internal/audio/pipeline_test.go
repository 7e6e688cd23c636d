// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/stt-gateway/internal/noise"
	"github.com/rapidaai/stt-gateway/pkg/commons"
)

func newTestPipeline(t *testing.T, queue chan []byte) *Pipeline {
	t.Helper()
	p, err := NewPipeline(
		commons.NewTestLogger(),
		"test-session",
		PipelineConfig{
			RTCSampleRate: 48000,
			STTSampleRate: 16000,
			StorageDir:    t.TempDir(),
			AnalysisDir:   t.TempDir(),
		},
		noise.NewNoopReducer(),
		queue,
	)
	require.NoError(t, err)
	return p
}

// pcmFrame builds a mono S16LE frame of n samples with a simple ramp.
func pcmFrame(n int) []byte {
	frame := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := int16(i % 512)
		frame[i*2] = byte(v)
		frame[i*2+1] = byte(v >> 8)
	}
	return frame
}

func TestPipelineResamplesAndQueues(t *testing.T) {
	queue := make(chan []byte, QueueCapacity)
	p := newTestPipeline(t, queue)
	defer p.Close()

	// 20ms at 48kHz = 960 samples; expect roughly 320 samples out at 16kHz.
	for i := 0; i < 10; i++ {
		p.HandlePCM(pcmFrame(960))
	}

	bytes, chunks := p.Stats()
	assert.Positive(t, chunks)
	assert.Positive(t, bytes)

	total := 0
	for len(queue) > 0 {
		total += len(<-queue)
	}
	// 10 frames * 960 samples downsampled 3:1 -> ~3200 samples = 6400 bytes.
	// The filter delays a few samples; allow a frame of slack.
	assert.InDelta(t, 6400, total, 700)
	assert.Equal(t, int64(total), bytes)
}

func TestPipelineDropsOnFullQueue(t *testing.T) {
	queue := make(chan []byte, 2)
	p := newTestPipeline(t, queue)
	defer p.Close()

	for i := 0; i < 20; i++ {
		p.HandlePCM(pcmFrame(960))
	}

	assert.LessOrEqual(t, len(queue), 2)
	assert.Positive(t, p.Dropped())
	_, chunks := p.Stats()
	assert.LessOrEqual(t, chunks, int64(2+1)) // queued before the queue filled
}

func TestPipelineTeesToRecording(t *testing.T) {
	queue := make(chan []byte, QueueCapacity)
	p := newTestPipeline(t, queue)

	for i := 0; i < 5; i++ {
		p.HandlePCM(pcmFrame(960))
	}
	require.NoError(t, p.Close())

	assert.Positive(t, p.RecordingSize())
	assert.FileExists(t, p.RecordingPath())
}

func TestPipelineCloseIsIdempotent(t *testing.T) {
	queue := make(chan []byte, QueueCapacity)
	p := newTestPipeline(t, queue)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
}

func TestResamplerDeterministic(t *testing.T) {
	frame := pcmFrame(960)

	r1, err := NewResampler(48000, 16000)
	require.NoError(t, err)
	r2, err := NewResampler(48000, 16000)
	require.NoError(t, err)

	var out1, out2 []byte
	for i := 0; i < 4; i++ {
		a, err := r1.Resample(frame)
		require.NoError(t, err)
		b, err := r2.Resample(frame)
		require.NoError(t, err)
		out1 = append(out1, a...)
		out2 = append(out2, b...)
	}
	assert.Equal(t, out1, out2, "resampling must be deterministic")
}

func TestResamplerPassthrough(t *testing.T) {
	r, err := NewResampler(16000, 16000)
	require.NoError(t, err)

	frame := pcmFrame(320)
	out, err := r.Resample(frame)
	require.NoError(t, err)
	assert.Equal(t, frame, out)
}

func TestStereoToMono(t *testing.T) {
	// L=100, R=200 -> mono 150
	b := []byte{100, 0, 200, 0, 100, 0, 200, 0}
	n := StereoToMono(b)
	assert.Equal(t, 4, n)
	assert.Equal(t, []byte{150, 0, 150, 0}, b[:n])
}
