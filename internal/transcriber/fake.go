// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package transcriber

import (
	"context"
	"sync"
)

// FakeRecognizer is an in-memory StreamingRecognizer for tests and local
// runs without Google credentials. Scripted events are replayed after
// CloseSend, mirroring a recognizer that answers once the audio ends.
type FakeRecognizer struct {
	mu       sync.Mutex
	opened   bool
	closed   bool
	scripted []Event
	sent     [][]byte
	events   chan Event

	// OpenErr, when set, is returned by Open to simulate startup failures.
	OpenErr error
}

// NewFakeRecognizer builds a fake that will replay the given events.
func NewFakeRecognizer(scripted ...Event) *FakeRecognizer {
	return &FakeRecognizer{
		scripted: scripted,
		events:   make(chan Event, len(scripted)+1),
	}
}

func (f *FakeRecognizer) Open(ctx context.Context, cfg Config) error {
	if f.OpenErr != nil {
		return f.OpenErr
	}
	f.mu.Lock()
	f.opened = true
	f.mu.Unlock()
	return nil
}

func (f *FakeRecognizer) Send(audio []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, audio)
	return nil
}

func (f *FakeRecognizer) CloseSend() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	for _, event := range f.scripted {
		f.events <- event
	}
	close(f.events)
	return nil
}

func (f *FakeRecognizer) Events() <-chan Event {
	return f.events
}

func (f *FakeRecognizer) Close() error {
	return nil
}

// SentBytes reports the total audio bytes pushed through Send.
func (f *FakeRecognizer) SentBytes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, chunk := range f.sent {
		total += len(chunk)
	}
	return total
}
