// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package diarization

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/stt-gateway/pkg/commons"
)

func newTestProcessor(t *testing.T) *Processor {
	t.Helper()
	return NewProcessor(commons.NewTestLogger(), t.TempDir())
}

func TestBuildSegmentsGroupsBySpeaker(t *testing.T) {
	p := newTestProcessor(t)

	segments := p.BuildSegments("hello there general kenobi", []Word{
		{Text: "hello", Start: 0.0, End: 0.5, Speaker: 1},
		{Text: "there", Start: 0.5, End: 1.0, Speaker: 1},
		{Text: "general", Start: 1.2, End: 1.7, Speaker: 2},
		{Text: "kenobi", Start: 1.7, End: 2.2, Speaker: 2},
	})

	require.Len(t, segments, 2)
	require.NotNil(t, segments[0].Speaker)
	assert.Equal(t, 1, *segments[0].Speaker)
	assert.Equal(t, "hello there", segments[0].Text)
	assert.Equal(t, 0.0, segments[0].Start)
	assert.Equal(t, 1.0, segments[0].End)

	require.NotNil(t, segments[1].Speaker)
	assert.Equal(t, 2, *segments[1].Speaker)
	assert.Equal(t, "general kenobi", segments[1].Text)
	assert.Equal(t, 1.2, segments[1].Start)
	assert.Equal(t, 2.2, segments[1].End)
}

func TestBuildSegmentsSkipsConsumedWords(t *testing.T) {
	p := newTestProcessor(t)

	first := p.BuildSegments("hello there", []Word{
		{Text: "hello", Start: 0.0, End: 0.5, Speaker: 1},
		{Text: "there", Start: 0.5, End: 1.0, Speaker: 1},
	})
	require.Len(t, first, 1)

	// The recognizer repeats earlier words on the next final; only the new
	// tail past the high-water mark may produce a segment.
	second := p.BuildSegments("hello there friend", []Word{
		{Text: "hello", Start: 0.0, End: 0.5, Speaker: 1},
		{Text: "there", Start: 0.5, End: 1.0, Speaker: 1},
		{Text: "friend", Start: 1.2, End: 1.8, Speaker: 1},
	})
	require.Len(t, second, 1)
	assert.Equal(t, "friend", second[0].Text)
	assert.Equal(t, 1.2, second[0].Start)
}

func TestBuildSegmentsEpsilonBoundary(t *testing.T) {
	p := newTestProcessor(t)

	p.BuildSegments("one", []Word{{Text: "one", Start: 0, End: 1.0, Speaker: 1}})

	// A word ending within epsilon of the high-water mark counts as consumed.
	segments := p.BuildSegments("one", []Word{
		{Text: "one", Start: 0, End: 1.0005, Speaker: 1},
	})
	assert.Empty(t, segments)
}

func TestBuildSegmentsAlignsCorrectedTranscript(t *testing.T) {
	p := newTestProcessor(t)

	// Recognizer words lack punctuation; the corrected transcript carries it.
	segments := p.BuildSegments("안녕하세요, 반갑습니다.", []Word{
		{Text: "안녕하세요", Start: 0.0, End: 0.8, Speaker: 1},
		{Text: "반갑습니다", Start: 0.9, End: 1.6, Speaker: 2},
	})

	require.Len(t, segments, 2)
	assert.Equal(t, "안녕하세요,", segments[0].Text)
	assert.Equal(t, "반갑습니다.", segments[1].Text)
}

func TestBuildSegmentsFallbackWithoutWords(t *testing.T) {
	p := newTestProcessor(t)

	segments := p.BuildSegments("no timings here", nil)
	require.Len(t, segments, 1)
	assert.Nil(t, segments[0].Speaker)
	assert.Equal(t, "no timings here", segments[0].Text)
	assert.Equal(t, 0.0, segments[0].Start)
	assert.Equal(t, 0.0, segments[0].End)
}

func TestBuildSegmentsFallbackEmitsOnlySuffix(t *testing.T) {
	p := newTestProcessor(t)

	p.BuildSegments("first part", nil)
	segments := p.BuildSegments("first part second part", nil)
	require.Len(t, segments, 1)
	assert.Equal(t, "second part", segments[0].Text)
}

func TestBuildSegmentsDeduplicates(t *testing.T) {
	p := newTestProcessor(t)

	words := []Word{{Text: "hello", Start: 0.0, End: 0.5, Speaker: 1}}
	first := p.BuildSegments("hello", words)
	require.Len(t, first, 1)

	// Force the same word through again by resetting the high-water mark
	// path: identical text and rounded times must not re-emit.
	p.lastWordEnd = 0
	second := p.BuildSegments("hello", words)
	assert.Empty(t, second)
}

func TestBuildSegmentsEmptyTranscript(t *testing.T) {
	p := newTestProcessor(t)
	assert.Empty(t, p.BuildSegments("   ", nil))
	assert.Empty(t, p.BuildSegments("", nil))
}

func TestBuildSegmentsUntaggedSpeakerIsNil(t *testing.T) {
	p := newTestProcessor(t)

	segments := p.BuildSegments("untagged words", []Word{
		{Text: "untagged", Start: 0.0, End: 0.4, Speaker: 0},
		{Text: "words", Start: 0.4, End: 0.8, Speaker: 0},
	})
	require.Len(t, segments, 1)
	assert.Nil(t, segments[0].Speaker)
}

func TestReset(t *testing.T) {
	p := newTestProcessor(t)

	p.BuildSegments("hello", []Word{{Text: "hello", Start: 0.0, End: 0.5, Speaker: 1}})
	p.Reset()

	segments := p.BuildSegments("hello", []Word{{Text: "hello", Start: 0.0, End: 0.5, Speaker: 1}})
	require.Len(t, segments, 1)
	assert.Equal(t, "hello", segments[0].Text)
}

func TestExtractTextForWords(t *testing.T) {
	text := []rune("hello, world! again")

	first, cursor := extractTextForWords(text, 0, []string{"hello", "world"})
	assert.Equal(t, "hello, world! ", first)

	rest, _ := extractTextForWords(text, cursor, []string{"again"})
	assert.Equal(t, "again", rest)
}
