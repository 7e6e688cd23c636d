// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package noise

import (
	"bufio"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/rapidaai/stt-gateway/pkg/commons"
)

const (
	// processTimeout bounds the wait for denoised bytes per chunk; past it
	// the raw chunk is passed through and the denoised bytes are consumed
	// on a later call.
	processTimeout = 20 * time.Millisecond

	// killTimeout bounds process teardown before an outright kill.
	killTimeout = 200 * time.Millisecond
)

// ffmpegReducer pipes S16LE PCM through one long-running ffmpeg subprocess
// per session. If the pipe breaks, one respawn is attempted; a second
// failure disables denoising for the remainder of the session and every
// chunk passes through raw.
type ffmpegReducer struct {
	logger     commons.Logger
	sampleRate int

	mu        sync.Mutex
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	buffer    []byte
	available bool
	respawned bool
	closed    bool
}

// NewFFmpegReducer builds the subprocess-backed spectral denoiser. The
// process is spawned lazily on the first chunk.
func NewFFmpegReducer(logger commons.Logger, sampleRate int) Reducer {
	return &ffmpegReducer{
		logger:     logger,
		sampleRate: sampleRate,
		available:  true,
	}
}

// filterChain is the fixed conditioning graph: adaptive spectral
// subtraction, high-pass, then speech peak normalization.
func filterChain() string {
	return "afftdn=nf=-25,highpass=f=100,speechnorm=e=6:l=1"
}

func (r *ffmpegReducer) args() []string {
	rate := strconv.Itoa(r.sampleRate)
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "s16le", "-ac", "1", "-ar", rate, "-i", "pipe:0",
		"-af", filterChain(),
		"-f", "s16le", "-ac", "1", "-ar", rate, "pipe:1",
	}
}

func (r *ffmpegReducer) spawnLocked() error {
	if r.cmd != nil {
		return nil
	}

	cmd := exec.Command("ffmpeg", r.args()...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to launch ffmpeg: %w", err)
	}

	r.cmd = cmd
	r.stdin = stdin

	go r.pumpStdout(stdout)
	go r.pumpStderr(stderr)
	return nil
}

func (r *ffmpegReducer) pumpStdout(stdout io.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			r.mu.Lock()
			r.buffer = append(r.buffer, buf[:n]...)
			r.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

func (r *ffmpegReducer) pumpStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		r.logger.Debugw("ffmpeg noise reducer", "line", scanner.Text())
	}
}

// Process feeds one chunk to the subprocess and returns the same amount of
// denoised audio when it is ready in time, the raw chunk otherwise.
func (r *ffmpegReducer) Process(chunk []byte) []byte {
	r.mu.Lock()
	if !r.available || r.closed || len(chunk) == 0 {
		r.mu.Unlock()
		return chunk
	}
	if err := r.spawnLocked(); err != nil {
		r.available = false
		r.mu.Unlock()
		r.logger.Warnw("Failed to launch ffmpeg noise reducer, disabling denoise", "error", err)
		return chunk
	}
	stdin := r.stdin
	r.mu.Unlock()

	if !r.feed(stdin, chunk) {
		return chunk
	}

	out := r.popBuffer(len(chunk), processTimeout)
	if len(out) >= len(chunk) {
		return out[:len(chunk)]
	}
	if len(out) > 0 {
		r.prependBuffer(out)
	}
	return chunk
}

func (r *ffmpegReducer) feed(stdin io.Writer, chunk []byte) bool {
	if stdin == nil {
		return false
	}
	if _, err := stdin.Write(chunk); err == nil {
		return true
	} else {
		r.logger.Warnw("ffmpeg noise reducer pipe broken", "error", err)
	}

	// One respawn, then permanent pass-through for this session.
	r.mu.Lock()
	if r.respawned || r.closed {
		r.available = false
		r.mu.Unlock()
		return false
	}
	r.respawned = true
	r.teardownLocked()
	if err := r.spawnLocked(); err != nil {
		r.available = false
		r.mu.Unlock()
		r.logger.Warnw("Failed to respawn ffmpeg noise reducer, disabling denoise", "error", err)
		return false
	}
	stdinRetry := r.stdin
	r.mu.Unlock()

	if _, err := stdinRetry.Write(chunk); err != nil {
		r.mu.Lock()
		r.available = false
		r.mu.Unlock()
		r.logger.Warnw("Failed to re-feed ffmpeg noise reducer after respawn", "error", err)
		return false
	}
	r.logger.Infow("ffmpeg noise reducer process respawned")
	return true
}

func (r *ffmpegReducer) popBuffer(expected int, timeout time.Duration) []byte {
	deadline := time.Now().Add(timeout)
	collected := make([]byte, 0, expected)
	for {
		r.mu.Lock()
		if len(r.buffer) > 0 {
			take := expected - len(collected)
			if take > len(r.buffer) {
				take = len(r.buffer)
			}
			collected = append(collected, r.buffer[:take]...)
			r.buffer = r.buffer[take:]
		}
		closed := r.closed
		r.mu.Unlock()

		if len(collected) >= expected || closed || time.Now().After(deadline) {
			return collected
		}
		time.Sleep(time.Millisecond)
	}
}

func (r *ffmpegReducer) prependBuffer(data []byte) {
	r.mu.Lock()
	r.buffer = append(append([]byte{}, data...), r.buffer...)
	r.mu.Unlock()
}

func (r *ffmpegReducer) teardownLocked() {
	if r.stdin != nil {
		r.stdin.Close()
		r.stdin = nil
	}
	if r.cmd != nil {
		cmd := r.cmd
		r.cmd = nil

		done := make(chan struct{})
		go func() {
			cmd.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(killTimeout):
			if cmd.Process != nil {
				cmd.Process.Kill()
			}
			<-done
		}
	}
	r.buffer = nil
}

// Close terminates the subprocess, killing it if it does not exit within
// 200ms. Safe to call twice.
func (r *ffmpegReducer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.teardownLocked()
	return nil
}
