// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package diarization

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rapidaai/stt-gateway/pkg/commons"
	"github.com/rapidaai/stt-gateway/pkg/utils"
)

// Word is one recognizer word timing. Speaker 0 means untagged.
type Word struct {
	Text    string
	Start   float64
	End     float64
	Speaker int
}

// Segment is a speaker-tagged span of transcribed text.
type Segment struct {
	Speaker *int    `json:"speaker"`
	Text    string  `json:"text"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

type segmentKey struct {
	speaker int // -1 for untagged
	start   float64
	end     float64
	text    string
}

// epsilon tolerates float jitter when filtering words already consumed by a
// previous final in the same session.
const epsilon = 1e-3

// Processor groups word timings into speaker segments, aligns their text
// against the corrected transcript, and suppresses duplicates across one
// session. Not safe for concurrent use; the recognizer worker is the single
// caller.
type Processor struct {
	logger  commons.Logger
	logPath string

	mu                    sync.Mutex
	seenKeys              map[segmentKey]struct{}
	lastWordEnd           float64
	lastTranscript        string
	lastEmittedTranscript string
}

// NewProcessor builds a session-scoped processor. logsDir receives a
// best-effort diarization_latest.json debug dump per emission.
func NewProcessor(logger commons.Logger, logsDir string) *Processor {
	p := &Processor{
		logger:  logger,
		logPath: filepath.Join(logsDir, "diarization_latest.json"),
	}
	p.Reset()
	return p
}

// Reset clears all session state.
func (p *Processor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seenKeys = make(map[segmentKey]struct{})
	p.lastWordEnd = 0
	p.lastTranscript = ""
	p.lastEmittedTranscript = ""
}

// BuildSegments consumes one final recognizer result and returns the novel
// segments to emit, in word order. An empty result yields nil.
func (p *Processor) BuildSegments(transcript string, words []Word) []Segment {
	p.mu.Lock()
	defer p.mu.Unlock()

	text := strings.TrimSpace(transcript)
	if text == "" {
		return nil
	}

	segments := p.segmentsFromWords(words, text)
	if len(segments) == 0 {
		diff := p.diffTranscript(text)
		if diff == "" {
			p.lastTranscript = text
			return nil
		}
		segments = []Segment{{Speaker: nil, Text: diff, Start: 0, End: 0}}
	}

	unique := p.deduplicate(segments)
	if len(unique) == 0 {
		diff := p.diffTranscript(text)
		if diff != "" && diff != p.lastEmittedTranscript {
			unique = []Segment{{Speaker: nil, Text: diff, Start: 0, End: 0}}
		}
	}

	if len(unique) > 0 {
		p.lastEmittedTranscript = text
	}

	p.writeLog(unique)
	p.lastTranscript = text
	return unique
}

type segmentMeta struct {
	speaker int
	words   []string
	start   float64
	end     float64
}

func (p *Processor) segmentsFromWords(words []Word, transcript string) []Segment {
	if len(words) == 0 {
		return nil
	}

	var metas []segmentMeta
	var currentWords []string
	currentSpeaker := 0
	currentStart := 0.0
	currentEnd := 0.0
	haveStart := false
	maxEnd := p.lastWordEnd

	for _, word := range words {
		if word.End <= p.lastWordEnd+epsilon {
			continue
		}

		if currentSpeaker != word.Speaker && len(currentWords) > 0 {
			metas = append(metas, segmentMeta{
				speaker: currentSpeaker,
				words:   append([]string(nil), currentWords...),
				start:   currentStart,
				end:     currentEnd,
			})
			currentWords = currentWords[:0]
			haveStart = false
		}

		currentWords = append(currentWords, word.Text)
		currentSpeaker = word.Speaker
		if !haveStart {
			currentStart = word.Start
			haveStart = true
		}
		currentEnd = word.End
		if word.End > maxEnd {
			maxEnd = word.End
		}
	}

	if len(currentWords) > 0 {
		metas = append(metas, segmentMeta{
			speaker: currentSpeaker,
			words:   append([]string(nil), currentWords...),
			start:   currentStart,
			end:     currentEnd,
		})
	}

	if len(metas) > 0 {
		p.lastWordEnd = maxEnd
	}

	return p.assembleSegments(metas, transcript)
}

func joinWords(words []string) string {
	text := strings.Join(words, " ")
	return strings.TrimSpace(strings.ReplaceAll(text, "  ", " "))
}

func (p *Processor) deduplicate(segments []Segment) []Segment {
	var deduped []Segment
	for _, segment := range segments {
		speaker := -1
		if segment.Speaker != nil {
			speaker = *segment.Speaker
		}
		key := segmentKey{
			speaker: speaker,
			start:   utils.Round2(segment.Start),
			end:     utils.Round2(segment.End),
			text:    segment.Text,
		}
		if _, seen := p.seenKeys[key]; seen {
			continue
		}
		p.seenKeys[key] = struct{}{}
		deduped = append(deduped, segment)
	}
	return deduped
}

func (p *Processor) writeLog(segments []Segment) {
	if len(segments) == 0 {
		return
	}
	payload, err := json.MarshalIndent(segments, "", "  ")
	if err == nil {
		err = os.WriteFile(p.logPath, payload, 0o644)
	}
	if err != nil {
		p.logger.Debugw("Failed to write diarization log", "error", err)
	}
}

// diffTranscript returns the novel suffix of text relative to the previous
// transcript, or the full text after a correction rewrote the prefix.
func (p *Processor) diffTranscript(text string) string {
	if text == "" {
		return ""
	}
	if p.lastTranscript == "" {
		return text
	}
	if strings.HasPrefix(text, p.lastTranscript) {
		return strings.TrimLeft(text[len(p.lastTranscript):], " \t\n")
	}
	return text
}

func isWordChar(ch rune) bool {
	if ch >= '0' && ch <= '9' {
		return true
	}
	if (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') {
		return true
	}
	return ch >= 0xAC00 && ch <= 0xD7A3 // Hangul syllables
}

func (p *Processor) assembleSegments(metas []segmentMeta, transcript string) []Segment {
	startIdx := 0
	if strings.HasPrefix(transcript, p.lastTranscript) {
		startIdx = len(p.lastTranscript)
	}
	newText := []rune(transcript[startIdx:])
	cursor := 0

	segments := make([]Segment, 0, len(metas))
	for _, meta := range metas {
		var extracted string
		extracted, cursor = extractTextForWords(newText, cursor, meta.words)
		text := extracted
		if text == "" {
			text = joinWords(meta.words)
		}

		var speaker *int
		if meta.speaker != 0 {
			tag := meta.speaker
			speaker = &tag
		}
		segments = append(segments, Segment{
			Speaker: speaker,
			Text:    strings.TrimSpace(text),
			Start:   meta.start,
			End:     meta.end,
		})
	}
	return segments
}

// extractTextForWords pulls the span of the corrected transcript suffix that
// covers the given raw words, by greedy character alignment. Intra-word
// punctuation and trailing separators stay attached to the segment.
func extractTextForWords(text []rune, cursor int, words []string) (string, int) {
	if len(text) == 0 || cursor >= len(text) {
		return "", cursor
	}

	var buffer []rune
	length := len(text)

	for _, word := range words {
		runes := []rune(word)
		if len(runes) == 0 {
			continue
		}

		// Consume any leading separators before the word.
		for cursor < length && text[cursor] != runes[0] {
			buffer = append(buffer, text[cursor])
			cursor++
		}

		for _, ch := range runes {
			for cursor < length && text[cursor] != ch {
				buffer = append(buffer, text[cursor])
				cursor++
			}
			if cursor < length {
				buffer = append(buffer, text[cursor])
				cursor++
			}
		}
	}

	// Include trailing punctuation or separators for this segment.
	for cursor < length && !isWordChar(text[cursor]) {
		buffer = append(buffer, text[cursor])
		cursor++
	}

	return string(buffer), cursor
}
