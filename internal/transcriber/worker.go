// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package transcriber

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rapidaai/stt-gateway/internal/channel"
	"github.com/rapidaai/stt-gateway/internal/diarization"
	"github.com/rapidaai/stt-gateway/internal/qa"
	"github.com/rapidaai/stt-gateway/pkg/commons"
	"github.com/rapidaai/stt-gateway/pkg/utils"
)

// StatsFunc reports cumulative queued audio bytes and chunks.
type StatsFunc func() (bytes, chunks int64)

// Worker drives one recognition stream: it pumps queued audio chunks into
// the recognizer and turns its events into the outbound sequence. For every
// final the order is fixed: stt.final_segments, then stt.qa_pairs (when new
// pairs exist), then stt.stats.
type Worker struct {
	logger     commons.Logger
	sessionID  string
	cfg        Config
	recognizer StreamingRecognizer
	emitter    *channel.Emitter
	diarizer   *diarization.Processor
	extractor  *qa.Extractor
	queue      <-chan []byte
	stats      StatsFunc

	partials    int
	finals      int
	lastPartial string

	mu       sync.Mutex
	segments []diarization.Segment
}

// NewWorker wires one session's recognition loop. The queue carries S16LE
// chunks from the audio pipeline; a nil chunk is the end-of-audio sentinel.
func NewWorker(
	logger commons.Logger,
	sessionID string,
	cfg Config,
	recognizer StreamingRecognizer,
	emitter *channel.Emitter,
	diarizer *diarization.Processor,
	extractor *qa.Extractor,
	queue <-chan []byte,
	stats StatsFunc,
) *Worker {
	return &Worker{
		logger:     logger,
		sessionID:  sessionID,
		cfg:        cfg,
		recognizer: recognizer,
		emitter:    emitter,
		diarizer:   diarizer,
		extractor:  extractor,
		queue:      queue,
		stats:      stats,
	}
}

// Run blocks until the recognizer stream drains. It never returns before
// the upstream acknowledged end of audio or failed; the caller sequences
// teardown after it.
func (w *Worker) Run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Errorw("Recognition worker panicked", "session", w.sessionID, "panic", r)
			w.emitter.Error(channel.CodeUpstreamFail, "internal recognition failure")
		}
	}()

	start := time.Now()
	if err := w.recognizer.Open(ctx, w.cfg); err != nil {
		code := channel.CodeUpstreamFail
		var openErr *OpenError
		if errors.As(err, &openErr) {
			code = openErr.Code
		}
		w.logger.Errorw("Failed to open recognition stream", "session", w.sessionID, "error", err)
		w.emitter.Error(code, err.Error())
		return
	}
	defer w.recognizer.Close()

	go w.pump(ctx)

	for event := range w.recognizer.Events() {
		switch ev := event.(type) {
		case Interim:
			w.handleInterim(ev)
		case Final:
			w.handleFinal(ev)
		case Failure:
			w.logger.Errorw("Recognition stream failed",
				"session", w.sessionID, "code", ev.Code, "error", ev.Message)
			w.emitter.Error(ev.Code, ev.Message)
		}
	}

	w.emitter.Done(w.finals, utils.Round2(time.Since(start).Seconds()))
}

// pump feeds queued audio until the sentinel, channel close or context
// cancellation, then half-closes the stream so the recognizer can flush.
func (w *Worker) pump(ctx context.Context) {
	defer func() {
		if err := w.recognizer.CloseSend(); err != nil {
			w.logger.Debugw("Recognition stream close-send failed", "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-w.queue:
			if !ok || chunk == nil {
				return
			}
			if err := w.recognizer.Send(chunk); err != nil {
				w.logger.Warnw("Failed to send audio chunk", "session", w.sessionID, "error", err)
				return
			}
		}
	}
}

func (w *Worker) handleInterim(ev Interim) {
	text := strings.TrimSpace(ev.Text)
	if text == "" || text == w.lastPartial {
		return
	}
	w.lastPartial = text
	w.partials++
	w.emitter.Partial(text)
}

func (w *Worker) handleFinal(ev Final) {
	w.lastPartial = ""

	transcript := strings.TrimSpace(ev.Transcript)
	if transcript == "" {
		return
	}
	w.finals++

	words := make([]diarization.Word, 0, len(ev.Words))
	for _, word := range ev.Words {
		words = append(words, diarization.Word(word))
	}

	segments := w.diarizer.BuildSegments(transcript, words)
	if len(segments) == 0 {
		segments = []diarization.Segment{{Speaker: nil, Text: transcript, Start: 0, End: 0}}
	}

	w.mu.Lock()
	w.segments = append(w.segments, segments...)
	w.mu.Unlock()

	w.emitter.FinalSegments(segments)
	if pairs := w.extractor.Append(segments); len(pairs) > 0 {
		w.emitter.QAPairs(pairs, false)
	}

	bytes, chunks := w.stats()
	w.emitter.Stats(w.partials, w.finals, bytes, chunks)
}

// Segments returns every segment emitted so far, for persistence.
func (w *Worker) Segments() []diarization.Segment {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]diarization.Segment(nil), w.segments...)
}

// Pairs returns every question/answer pair emitted so far.
func (w *Worker) Pairs() []qa.Pair {
	return w.extractor.All()
}
