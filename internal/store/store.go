// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package store

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/rapidaai/stt-gateway/internal/diarization"
	"github.com/rapidaai/stt-gateway/internal/qa"
)

// TranscriptRecord is one consultation room's accumulated conversation,
// stored as JSON documents keyed by the room.
type TranscriptRecord struct {
	RoomID     string    `gorm:"column:room_id;primaryKey"`
	QA         string    `gorm:"column:qa;type:text"`
	Transcript string    `gorm:"column:transcript;type:text"`
	CreatedAt  time.Time `gorm:"column:created_at"`
	UpdatedAt  time.Time `gorm:"column:updated_at"`
}

func (TranscriptRecord) TableName() string {
	return "stt_transcripts"
}

// TranscriptStore persists per-room transcripts and Q/A pairs.
type TranscriptStore interface {
	Upsert(ctx context.Context, roomID string, pairs []qa.Pair, segments []diarization.Segment) error
	Get(ctx context.Context, roomID string) (*TranscriptRecord, error)
}

type gormStore struct {
	db *gorm.DB
}

// Open connects the configured database and migrates the schema. Supported
// drivers are sqlite and postgres.
func Open(driver, dsn string) (TranscriptStore, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.AutoMigrate(&TranscriptRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate transcript schema: %w", err)
	}
	return &gormStore{db: db}, nil
}

// SegmentKey derives a stable identity for one transcript segment, so a
// segment replayed within a session does not duplicate rows in the stored
// JSON.
func SegmentKey(segment diarization.Segment) string {
	speaker := "null"
	if segment.Speaker != nil {
		speaker = fmt.Sprintf("%d", *segment.Speaker)
	}
	sum := sha1.Sum([]byte(fmt.Sprintf("%s|%.3f|%.3f|%s",
		speaker, segment.Start, segment.End, segment.Text)))
	return hex.EncodeToString(sum[:])
}

// storedSegment is the JSON document shape for one transcript entry.
type storedSegment struct {
	Key     string  `json:"segment_key"`
	Speaker *int    `json:"speaker"`
	Text    string  `json:"text"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

// Upsert writes the session's results over the room row. Both documents are
// replaced wholesale; the session carries the full result history, so the
// latest write is authoritative. Only created_at survives updates. Segment
// keys dedup repeats within the incoming list.
func (s *gormStore) Upsert(ctx context.Context, roomID string, pairs []qa.Pair, segments []diarization.Segment) error {
	if roomID == "" {
		return fmt.Errorf("room id is required")
	}

	stored := make([]storedSegment, 0, len(segments))
	seen := make(map[string]struct{}, len(segments))
	for _, segment := range segments {
		key := SegmentKey(segment)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		stored = append(stored, storedSegment{
			Key:     key,
			Speaker: segment.Speaker,
			Text:    segment.Text,
			Start:   segment.Start,
			End:     segment.End,
		})
	}

	transcriptJSON, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to encode transcript: %w", err)
	}
	if pairs == nil {
		pairs = []qa.Pair{}
	}
	qaJSON, err := json.Marshal(pairs)
	if err != nil {
		return fmt.Errorf("failed to encode qa pairs: %w", err)
	}

	now := time.Now().UTC()
	record := TranscriptRecord{
		RoomID:     roomID,
		QA:         string(qaJSON),
		Transcript: string(transcriptJSON),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "room_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"qa", "transcript", "updated_at"}),
	}).Create(&record).Error
}

// Get loads one room's record, nil when the room has no transcript yet.
func (s *gormStore) Get(ctx context.Context, roomID string) (*TranscriptRecord, error) {
	var record TranscriptRecord
	err := s.db.WithContext(ctx).First(&record, "room_id = ?", roomID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load transcript: %w", err)
	}
	return &record, nil
}
