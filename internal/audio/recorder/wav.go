// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package recorder

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
)

const (
	wavHeaderSize = 44
	numChannels   = 1
	bitsPerSample = 16
)

// Writer streams mono S16LE PCM into a WAV file. The RIFF header is written
// with placeholder sizes on Open and patched on Close, so a crash mid-session
// leaves a file that players can still mostly recover.
type Writer struct {
	mu         sync.Mutex
	path       string
	sampleRate int
	file       *os.File
	dataBytes  uint32
	closed     bool
}

// NewWriter prepares a WAV writer for path at the given sample rate. Open
// must be called before Append.
func NewWriter(path string, sampleRate int) *Writer {
	return &Writer{path: path, sampleRate: sampleRate}
}

// Open creates the file and writes the RIFF/fmt/data header.
func (w *Writer) Open() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file != nil {
		return nil
	}
	file, err := os.Create(w.path)
	if err != nil {
		return fmt.Errorf("failed to create WAV file: %w", err)
	}
	w.file = file
	w.closed = false
	w.dataBytes = 0
	return w.writeHeaderLocked()
}

func (w *Writer) writeHeaderLocked() error {
	byteRate := uint32(w.sampleRate * numChannels * bitsPerSample / 8)
	blockAlign := uint16(numChannels * bitsPerSample / 8)

	if _, err := w.file.Seek(0, 0); err != nil {
		return err
	}
	if _, err := w.file.WriteString("RIFF"); err != nil {
		return err
	}
	if err := binary.Write(w.file, binary.LittleEndian, uint32(36+w.dataBytes)); err != nil {
		return err
	}
	if _, err := w.file.WriteString("WAVE"); err != nil {
		return err
	}
	if _, err := w.file.WriteString("fmt "); err != nil {
		return err
	}
	for _, v := range []interface{}{
		uint32(16),            // fmt chunk size
		uint16(1),             // PCM
		uint16(numChannels),   //
		uint32(w.sampleRate),  //
		byteRate,              //
		blockAlign,            //
		uint16(bitsPerSample), //
	} {
		if err := binary.Write(w.file, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	if _, err := w.file.WriteString("data"); err != nil {
		return err
	}
	return binary.Write(w.file, binary.LittleEndian, w.dataBytes)
}

// Append writes one PCM chunk to the data section.
func (w *Writer) Append(pcm []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil || w.closed {
		return fmt.Errorf("WAV writer is not open")
	}
	n, err := w.file.Write(pcm)
	w.dataBytes += uint32(n)
	return err
}

// Close patches the header sizes and closes the file. Safe to call twice.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil || w.closed {
		return nil
	}
	w.closed = true

	if err := w.writeHeaderLocked(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

// Path returns the file location on disk.
func (w *Writer) Path() string {
	return w.path
}

// Size returns the PCM byte count written so far.
func (w *Writer) Size() uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dataBytes
}
