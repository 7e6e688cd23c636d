// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package session

import (
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/rapidaai/stt-gateway/config"
	"github.com/rapidaai/stt-gateway/internal/channel"
	"github.com/rapidaai/stt-gateway/internal/storage"
	"github.com/rapidaai/stt-gateway/internal/store"
	"github.com/rapidaai/stt-gateway/pkg/commons"
)

// Registry tracks live sessions and owns their shared dependencies.
type Registry struct {
	logger        commons.Logger
	cfg           *config.AppConfig
	transcripts   store.TranscriptStore
	objects       storage.ObjectStore
	newRecognizer RecognizerFactory

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry builds an empty registry. objects may be nil when recording
// upload is disabled.
func NewRegistry(
	logger commons.Logger,
	cfg *config.AppConfig,
	transcripts store.TranscriptStore,
	objects storage.ObjectStore,
	newRecognizer RecognizerFactory,
) *Registry {
	return &Registry{
		logger:        logger,
		cfg:           cfg,
		transcripts:   transcripts,
		objects:       objects,
		newRecognizer: newRecognizer,
		sessions:      make(map[string]*Session),
	}
}

// Create registers a new session bound to the given emitter.
func (r *Registry) Create(emitter *channel.Emitter) *Session {
	s := New(r.logger, r.cfg, emitter, r.transcripts, r.objects, r.newRecognizer)

	r.mu.Lock()
	r.sessions[s.ID()] = s
	count := len(r.sessions)
	r.mu.Unlock()

	r.logger.Infow("Session created", "session", s.ID(), "active", count)
	return s
}

// Get looks a session up by id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Remove evicts the session and stops it. Safe to call for ids that are
// already gone.
func (r *Registry) Remove(id, reason string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	if err := s.Stop(reason); err != nil {
		r.logger.Warnw("Session stop failed", "session", id, "error", err)
	}
	r.logger.Infow("Session removed", "session", id, "reason", reason)
}

// StopAll tears every live session down concurrently, used on shutdown.
func (r *Registry) StopAll(reason string) error {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	var g errgroup.Group
	for _, s := range sessions {
		g.Go(func() error {
			return s.Stop(reason)
		})
	}
	return g.Wait()
}
