// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package audio

import (
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	opus "gopkg.in/hraban/opus.v2"

	"github.com/rapidaai/stt-gateway/internal/audio/recorder"
	"github.com/rapidaai/stt-gateway/internal/noise"
	"github.com/rapidaai/stt-gateway/pkg/commons"
)

// PipelineConfig carries the per-session audio settings.
type PipelineConfig struct {
	RTCSampleRate int // inbound track rate, 48kHz for WebRTC Opus
	STTSampleRate int // recognizer rate, 16kHz default
	StorageDir    string
	AnalysisDir   string
}

// Pipeline conditions one session's inbound audio:
//
//	opus payload -> decode (48kHz mono) -> resample (16kHz S16LE) ->
//	denoise (optional) -> bounded queue -> recognizer worker
//
// Every chunk is also teed into a WAV capture under StorageDir and a
// best-effort analysis copy under AnalysisDir. Failures never propagate to
// the audio callback; they degrade to pass-through or chunk drop.
type Pipeline struct {
	logger    commons.Logger
	sessionID string

	decoder   *opus.Decoder
	resampler *Resampler
	reducer   noise.Reducer
	queue     chan<- []byte

	recording *recorder.Writer // nil when the writer failed to open
	analysis  *recorder.Writer // nil when disabled or failed

	recordingPath string

	pcmBuf []int16

	bytesSent  atomic.Int64
	chunksSent atomic.Int64
	dropped    atomic.Int64

	mu     sync.Mutex
	closed bool
}

// NewPipeline wires the decode/resample/denoise/capture chain for one
// session. The queue is owned by the session; the pipeline only pushes.
func NewPipeline(
	logger commons.Logger,
	sessionID string,
	cfg PipelineConfig,
	reducer noise.Reducer,
	queue chan<- []byte,
) (*Pipeline, error) {
	decoder, err := opus.NewDecoder(cfg.RTCSampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus decoder: %w", err)
	}
	resampler, err := NewResampler(cfg.RTCSampleRate, cfg.STTSampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to create resampler: %w", err)
	}

	p := &Pipeline{
		logger:        logger,
		sessionID:     sessionID,
		decoder:       decoder,
		resampler:     resampler,
		reducer:       reducer,
		queue:         queue,
		pcmBuf:        make([]int16, OpusMaxSamples),
		recordingPath: filepath.Join(cfg.StorageDir, sessionID+".wav"),
	}

	rec := recorder.NewWriter(p.recordingPath, cfg.STTSampleRate)
	if err := rec.Open(); err != nil {
		logger.Warnw("Failed to open recording writer", "session", sessionID, "error", err)
	} else {
		p.recording = rec
	}

	analysisPath := filepath.Join(cfg.AnalysisDir, sessionID+".wav")
	if analysisPath != p.recordingPath {
		analysis := recorder.NewWriter(analysisPath, cfg.STTSampleRate)
		if err := analysis.Open(); err != nil {
			logger.Warnw("Failed to open analysis writer", "session", sessionID, "error", err)
		} else {
			p.analysis = analysis
		}
	}

	return p, nil
}

// HandleOpusPayload decodes one RTP Opus payload and runs it through the
// chain. Decode failures drop the frame and keep the session alive.
func (p *Pipeline) HandleOpusPayload(payload []byte) {
	if len(payload) == 0 {
		return
	}
	n, err := p.decoder.Decode(payload, p.pcmBuf)
	if err != nil {
		p.logger.Debugw("Opus decode failed", "error", err, "payloadSize", len(payload))
		return
	}

	pcm := make([]byte, n*BytesPerSample)
	for i := 0; i < n; i++ {
		pcm[i*2] = byte(p.pcmBuf[i])
		pcm[i*2+1] = byte(p.pcmBuf[i] >> 8)
	}
	p.HandlePCM(pcm)
}

// HandlePCM accepts mono S16LE PCM at the RTC rate and pushes the converted
// chunk downstream.
func (p *Pipeline) HandlePCM(pcm []byte) {
	resampled, err := p.resampler.Resample(pcm)
	if err != nil {
		p.logger.Debugw("Audio resample failed", "error", err)
		return
	}
	if len(resampled) == 0 {
		return
	}

	chunk := resampled
	if p.reducer != nil {
		chunk = p.reducer.Process(resampled)
	}

	p.pushChunk(chunk)

	if p.recording != nil {
		if err := p.recording.Append(chunk); err != nil {
			p.logger.Debugw("Recording append failed", "error", err)
		}
	}
	if p.analysis != nil {
		if err := p.analysis.Append(chunk); err != nil {
			p.logger.Debugw("Analysis append failed", "error", err)
		}
	}
}

// pushChunk enqueues without ever blocking the audio callback; on a full
// queue the chunk is dropped and counted.
func (p *Pipeline) pushChunk(chunk []byte) {
	select {
	case p.queue <- chunk:
		p.bytesSent.Add(int64(len(chunk)))
		p.chunksSent.Add(1)
	default:
		p.dropped.Add(1)
		p.logger.Debugw("Audio queue full, dropping chunk", "session", p.sessionID)
	}
}

// Stats returns cumulative queued byte and chunk counts.
func (p *Pipeline) Stats() (bytes, chunks int64) {
	return p.bytesSent.Load(), p.chunksSent.Load()
}

// Dropped returns the number of chunks lost to backpressure.
func (p *Pipeline) Dropped() int64 {
	return p.dropped.Load()
}

// RecordingPath is the WAV capture location for this session.
func (p *Pipeline) RecordingPath() string {
	return p.recordingPath
}

// RecordingSize returns the captured PCM byte count, 0 when the capture
// writer never opened.
func (p *Pipeline) RecordingSize() uint32 {
	if p.recording == nil {
		return 0
	}
	return p.recording.Size()
}

// Close finalizes the capture files and the denoiser. Idempotent.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	if p.reducer != nil {
		if err := p.reducer.Close(); err != nil {
			p.logger.Warnw("Noise reducer close failed", "error", err)
		}
	}
	if p.recording != nil {
		if err := p.recording.Close(); err != nil {
			p.logger.Warnw("Recording writer close failed", "error", err)
		}
	}
	if p.analysis != nil {
		if err := p.analysis.Close(); err != nil {
			p.logger.Warnw("Analysis writer close failed", "error", err)
		}
	}
	return nil
}
