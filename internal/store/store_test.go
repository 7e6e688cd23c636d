// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/stt-gateway/internal/diarization"
	"github.com/rapidaai/stt-gateway/internal/qa"
)

func newTestStore(t *testing.T) TranscriptStore {
	t.Helper()
	s, err := Open("sqlite", filepath.Join(t.TempDir(), "stt.db"))
	require.NoError(t, err)
	return s
}

func speaker(tag int) *int {
	return &tag
}

func TestUpsertCreatesRecord(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	segments := []diarization.Segment{
		{Speaker: speaker(1), Text: "얼마예요?", Start: 0.0, End: 1.0},
	}
	pairs := []qa.Pair{{QText: "얼마예요?", QSpeaker: speaker(1), Confidence: 0.5}}

	require.NoError(t, s.Upsert(ctx, "room-1", pairs, segments))

	record, err := s.Get(ctx, "room-1")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "room-1", record.RoomID)

	var storedPairs []qa.Pair
	require.NoError(t, json.Unmarshal([]byte(record.QA), &storedPairs))
	require.Len(t, storedPairs, 1)
	assert.Equal(t, "얼마예요?", storedPairs[0].QText)
}

func TestUpsertPreservesCreatedAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	segments := []diarization.Segment{
		{Speaker: speaker(1), Text: "첫 번째", Start: 0.0, End: 1.0},
	}
	require.NoError(t, s.Upsert(ctx, "room-1", nil, segments))

	first, err := s.Get(ctx, "room-1")
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	more := []diarization.Segment{
		{Speaker: speaker(2), Text: "두 번째", Start: 1.5, End: 2.5},
	}
	require.NoError(t, s.Upsert(ctx, "room-1", nil, more))

	second, err := s.Get(ctx, "room-1")
	require.NoError(t, err)
	assert.Equal(t, first.CreatedAt.Unix(), second.CreatedAt.Unix())
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt) || second.UpdatedAt.Equal(first.UpdatedAt))
}

func TestUpsertReplacesTranscript(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, "room-1", nil, []diarization.Segment{
		{Speaker: speaker(1), Text: "이전 세션", Start: 0.0, End: 1.0},
	}))

	// The next write carries the full history; the stored list is replaced,
	// not unioned with the previous row.
	segment := diarization.Segment{Speaker: speaker(1), Text: "같은 내용", Start: 0.0, End: 1.0}
	require.NoError(t, s.Upsert(ctx, "room-1", nil, []diarization.Segment{
		segment,
		segment,
		{Speaker: speaker(2), Text: "새 내용", Start: 2.0, End: 3.0},
	}))

	record, err := s.Get(ctx, "room-1")
	require.NoError(t, err)

	var stored []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(record.Transcript), &stored))
	require.Len(t, stored, 2)
	assert.Equal(t, "같은 내용", stored[0]["text"])
	assert.Equal(t, "새 내용", stored[1]["text"])
}

func TestUpsertRequiresRoomID(t *testing.T) {
	s := newTestStore(t)
	assert.Error(t, s.Upsert(context.Background(), "", nil, nil))
}

func TestGetMissingRoomReturnsNil(t *testing.T) {
	s := newTestStore(t)
	record, err := s.Get(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestSegmentKeyStability(t *testing.T) {
	a := diarization.Segment{Speaker: speaker(1), Text: "hello", Start: 1.0, End: 2.0}
	b := diarization.Segment{Speaker: speaker(1), Text: "hello", Start: 1.0, End: 2.0}
	assert.Equal(t, SegmentKey(a), SegmentKey(b))

	c := diarization.Segment{Speaker: nil, Text: "hello", Start: 1.0, End: 2.0}
	assert.NotEqual(t, SegmentKey(a), SegmentKey(c))

	d := diarization.Segment{Speaker: speaker(1), Text: "hello", Start: 1.0004, End: 2.0}
	assert.Equal(t, SegmentKey(a), SegmentKey(d), "keys round times to milliseconds")
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "dsn")
	assert.Error(t, err)
}
