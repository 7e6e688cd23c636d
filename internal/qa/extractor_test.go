// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package qa

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/stt-gateway/internal/diarization"
)

func speaker(tag int) *int {
	return &tag
}

func TestIsQuestion(t *testing.T) {
	questions := []string{
		"이 아파트 얼마예요?",
		"전세로 가능할까요",
		"주차는 몇 대까지 되나요?",
		"이게 맞습니까",
		"Is this available?",
	}
	for _, text := range questions {
		assert.True(t, IsQuestion(text), text)
	}

	statements := []string{
		"이 아파트는 10억입니다.",
		"주차는 두 대 가능합니다.",
		"The price went up.",
	}
	for _, text := range statements {
		assert.False(t, IsQuestion(text), text)
	}
}

func TestSplitSentences(t *testing.T) {
	parts := SplitSentences("가격이 얼마예요? 10억입니다. 비싸네요!")
	require.Len(t, parts, 3)
	assert.Equal(t, "가격이 얼마예요?", parts[0])
	assert.Equal(t, "10억입니다.", parts[1])
	assert.Equal(t, "비싸네요!", parts[2])
}

func TestSplitSentencesNoTerminalPunctuation(t *testing.T) {
	parts := SplitSentences("마지막 문장은 마침표가 없어요")
	require.Len(t, parts, 1)
	assert.Equal(t, "마지막 문장은 마침표가 없어요", parts[0])

	assert.Empty(t, SplitSentences("   "))
}

func TestSplitSentencesKeepsDecimalNumbers(t *testing.T) {
	// A period not followed by whitespace does not end a sentence.
	parts := SplitSentences("면적은 84.5제곱미터입니다.")
	require.Len(t, parts, 1)
}

func TestExtractPairWithCrossSpeakerAnswer(t *testing.T) {
	e := NewExtractor(15, 3)

	pairs := e.Append([]diarization.Segment{
		{Speaker: speaker(1), Text: "이 아파트 얼마예요?", Start: 0.0, End: 2.0},
		{Speaker: speaker(2), Text: "10억입니다.", Start: 2.5, End: 4.0},
	})

	require.Len(t, pairs, 1)
	pair := pairs[0]
	assert.Equal(t, "이 아파트 얼마예요?", pair.QText)
	assert.Equal(t, 1, *pair.QSpeaker)
	assert.Equal(t, 2.0, pair.QTime, "question time is the end of the question sentence")
	assert.Equal(t, "10억입니다.", pair.AText)
	assert.Equal(t, 2, *pair.ASpeaker)
	assert.Equal(t, 2.5, pair.ATime)
	// 0.5 base + 0.25 cross-speaker + ~0.2 immediacy + 0.05 terminal period,
	// clamped to the score ceiling.
	assert.Equal(t, 0.99, pair.Confidence)
}

func TestExtractQuestionWithoutAnswer(t *testing.T) {
	e := NewExtractor(15, 3)

	pairs := e.Append([]diarization.Segment{
		{Speaker: speaker(1), Text: "관리비는 얼마나 나오나요?", Start: 0.0, End: 2.0},
	})

	assert.Empty(t, pairs, "an unanswered question produces no pair")
}

func TestExtractAnswerOutsideTimeWindow(t *testing.T) {
	e := NewExtractor(15, 3)

	pairs := e.Append([]diarization.Segment{
		{Speaker: speaker(1), Text: "입주는 언제 가능한가요?", Start: 0.0, End: 2.0},
		{Speaker: speaker(2), Text: "다음 달부터 가능합니다.", Start: 30.0, End: 32.0},
	})

	assert.Empty(t, pairs, "an answer starting past the window is not paired")
}

func TestExtractPrefersDifferingSpeaker(t *testing.T) {
	e := NewExtractor(15, 3)

	// The asker keeps talking before the advisor replies; the reply from the
	// other speaker displaces the same-speaker candidate.
	pairs := e.Append([]diarization.Segment{
		{Speaker: speaker(1), Text: "대출은 얼마나 나올까요?", Start: 0.0, End: 2.0},
		{Speaker: speaker(1), Text: "지금 금리가 높아서요.", Start: 2.2, End: 3.5},
		{Speaker: speaker(2), Text: "한도는 5억까지 됩니다.", Start: 4.0, End: 6.0},
	})

	require.Len(t, pairs, 1)
	assert.Equal(t, "한도는 5억까지 됩니다.", pairs[0].AText)
	assert.Equal(t, 2, *pairs[0].ASpeaker)
}

func TestZeroTimeWindowKeepsConfidenceFinite(t *testing.T) {
	e := NewExtractor(0, 3)

	// The answer overlaps the question, so it survives even a zero window.
	pairs := e.Append([]diarization.Segment{
		{Speaker: speaker(1), Text: "입주 날짜가 언제예요?", Start: 0.0, End: 2.0},
		{Speaker: speaker(2), Text: "다음 주에 가능합니다.", Start: 1.9, End: 3.0},
	})

	require.Len(t, pairs, 1)
	assert.False(t, math.IsNaN(pairs[0].Confidence))
	assert.Equal(t, 0.99, pairs[0].Confidence)
}

func TestAppendDeduplicatesAcrossCalls(t *testing.T) {
	e := NewExtractor(15, 3)

	first := e.Append([]diarization.Segment{
		{Speaker: speaker(1), Text: "얼마예요?", Start: 0.0, End: 1.0},
		{Speaker: speaker(2), Text: "10억입니다.", Start: 1.5, End: 2.5},
	})
	require.Len(t, first, 1)

	// A later append re-runs extraction over the whole history; the pair
	// above must not be returned again.
	second := e.Append([]diarization.Segment{
		{Speaker: speaker(1), Text: "알겠습니다.", Start: 3.0, End: 4.0},
	})
	assert.Empty(t, second)
	assert.Len(t, e.All(), 1)
}

func TestAnswerArrivingLaterCompletesPair(t *testing.T) {
	e := NewExtractor(15, 3)

	first := e.Append([]diarization.Segment{
		{Speaker: speaker(1), Text: "주차 가능한가요?", Start: 0.0, End: 1.5},
	})
	assert.Empty(t, first)

	second := e.Append([]diarization.Segment{
		{Speaker: speaker(2), Text: "세대당 한 대입니다.", Start: 2.0, End: 3.5},
	})
	require.Len(t, second, 1)
	assert.Equal(t, "세대당 한 대입니다.", second[0].AText)
	assert.Len(t, e.All(), 1)
}

func TestSentenceProration(t *testing.T) {
	e := NewExtractor(15, 3)

	e.Append([]diarization.Segment{
		{Speaker: speaker(1), Text: "첫 문장입니다. 둘째 문장인가요?", Start: 0.0, End: 4.0},
	})

	require.Len(t, e.sentences, 2)
	assert.Equal(t, 0.0, e.sentences[0].start)
	assert.Equal(t, 2.0, e.sentences[0].end)
	assert.Equal(t, 2.0, e.sentences[1].start)
	assert.Equal(t, 4.0, e.sentences[1].end)
}
