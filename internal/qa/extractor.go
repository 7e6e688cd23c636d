// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package qa

import (
	"regexp"
	"strings"
	"sync"
	"unicode"

	"github.com/rapidaai/stt-gateway/internal/diarization"
	"github.com/rapidaai/stt-gateway/pkg/utils"
)

// questionPattern matches Korean interrogative endings and a literal
// question mark at the end of a sentence.
var questionPattern = regexp.MustCompile(
	`(?:\?|요\??|까\??|나요\??|니|냐|나\??|죠\??|지요\??|습니까\??|습니까요\??|아니야)\s*$`)

// minSentenceDuration keeps prorated sentence spans strictly positive.
const minSentenceDuration = 0.001

// Pair is one extracted question/answer pair with a confidence score.
// Field names are wire and storage contracts.
type Pair struct {
	QText      string  `json:"q_text"`
	QSpeaker   *int    `json:"q_speaker"`
	QTime      float64 `json:"q_time"`
	AText      string  `json:"a_text"`
	ASpeaker   *int    `json:"a_speaker"`
	ATime      float64 `json:"a_time"`
	Confidence float64 `json:"confidence"`
}

type sentence struct {
	text    string
	speaker *int
	start   float64
	end     float64
}

type pairKey struct {
	qText string
	aText string
	aTime float64
}

// Extractor accumulates diarized segments, splits them into sentences and
// pairs questions with nearby answers. Extraction reruns over the full
// sentence history on every append; only pairs not yet emitted are returned.
type Extractor struct {
	timeWindowSec  float64
	sentenceWindow int

	mu        sync.Mutex
	sentences []sentence
	emitted   map[pairKey]struct{}
	pairs     []Pair
}

// NewExtractor builds an extractor. timeWindowSec bounds how far after a
// question an answer may start; sentenceWindow bounds how many sentences
// ahead are considered.
func NewExtractor(timeWindowSec float64, sentenceWindow int) *Extractor {
	return &Extractor{
		timeWindowSec:  timeWindowSec,
		sentenceWindow: sentenceWindow,
		emitted:        make(map[pairKey]struct{}),
	}
}

// Append ingests newly finalized segments and returns the pairs that became
// extractable because of them.
func (e *Extractor) Append(segments []diarization.Segment) []Pair {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, segment := range segments {
		e.ingest(segment)
	}

	var fresh []Pair
	for _, pair := range e.extract() {
		key := pairKey{qText: pair.QText, aText: pair.AText, aTime: pair.ATime}
		if _, seen := e.emitted[key]; seen {
			continue
		}
		e.emitted[key] = struct{}{}
		e.pairs = append(e.pairs, pair)
		fresh = append(fresh, pair)
	}
	return fresh
}

// All returns every pair emitted so far, in emission order.
func (e *Extractor) All() []Pair {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Pair(nil), e.pairs...)
}

// ingest splits one segment into sentences, prorating the segment's time
// span evenly across them.
func (e *Extractor) ingest(segment diarization.Segment) {
	parts := SplitSentences(segment.Text)
	if len(parts) == 0 {
		return
	}

	duration := segment.End - segment.Start
	per := duration / float64(len(parts))
	if per < minSentenceDuration {
		per = minSentenceDuration
	}

	for i, part := range parts {
		start := segment.Start + float64(i)*per
		e.sentences = append(e.sentences, sentence{
			text:    part,
			speaker: segment.Speaker,
			start:   start,
			end:     start + per,
		})
	}
}

func (e *Extractor) extract() []Pair {
	var pairs []Pair
	for idx, question := range e.sentences {
		if !IsQuestion(question.text) {
			continue
		}

		// A question stays unpaired until an answer lands inside both
		// windows; it may complete on a later extraction pass.
		answer := e.findAnswer(idx, question)
		if answer == nil {
			continue
		}
		pairs = append(pairs, e.buildPair(question, answer))
	}
	return pairs
}

// findAnswer scans forward for the reply to a question. The first in-window
// sentence is provisionally the answer; a later sentence by a different
// speaker replaces a same-speaker candidate.
func (e *Extractor) findAnswer(idx int, question sentence) *sentence {
	limit := idx + e.sentenceWindow + 1
	if limit > len(e.sentences) {
		limit = len(e.sentences)
	}

	var answer *sentence
	for j := idx + 1; j < limit; j++ {
		candidate := e.sentences[j]
		if candidate.start > question.end+e.timeWindowSec {
			break
		}
		if answer == nil {
			answer = &e.sentences[j]
			if speakersDiffer(question.speaker, candidate.speaker) {
				break
			}
			continue
		}
		if speakersDiffer(question.speaker, candidate.speaker) {
			answer = &e.sentences[j]
			break
		}
	}
	return answer
}

func (e *Extractor) buildPair(question sentence, answer *sentence) Pair {
	pair := Pair{
		QText:    question.text,
		QSpeaker: question.speaker,
		QTime:    question.end,
		AText:    answer.text,
		ASpeaker: answer.speaker,
		ATime:    answer.start,
	}

	confidence := 0.5
	if answer.speaker != nil && speakersDiffer(question.speaker, answer.speaker) {
		confidence += 0.25
	}
	gap := answer.start - question.end
	if gap < e.timeWindowSec {
		if gap < 0 {
			gap = 0
		}
		// Keep the immediacy bonus finite for degenerate window settings.
		window := e.timeWindowSec
		if window < 1 {
			window = 1
		}
		confidence += 0.2 * (1 - gap/window)
	}
	if strings.HasSuffix(answer.text, ".") {
		confidence += 0.05
	}

	confidence = utils.Round2(confidence)
	if confidence > 0.99 {
		confidence = 0.99
	}
	pair.Confidence = confidence
	return pair
}

func speakersDiffer(a, b *int) bool {
	if a == nil && b == nil {
		return false
	}
	if a == nil || b == nil {
		return true
	}
	return *a != *b
}

// IsQuestion reports whether a sentence ends in an interrogative form.
func IsQuestion(text string) bool {
	return questionPattern.MatchString(strings.TrimSpace(text))
}

// SplitSentences breaks text after terminal punctuation followed by
// whitespace. Trailing text without punctuation forms the last sentence.
func SplitSentences(text string) []string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}

	var parts []string
	start := 0
	for i := 0; i < len(runes); i++ {
		ch := runes[i]
		if ch != '.' && ch != '?' && ch != '!' {
			continue
		}
		if i+1 < len(runes) && unicode.IsSpace(runes[i+1]) {
			part := strings.TrimSpace(string(runes[start : i+1]))
			if part != "" {
				parts = append(parts, part)
			}
			start = i + 1
		}
	}
	if last := strings.TrimSpace(string(runes[start:])); last != "" {
		parts = append(parts, last)
	}
	return parts
}
