// Package store provides ArtifactStore, the executor's in-memory, process-
// local table of produced messages, keyed by artifact id.
package store

import (
	"sync"

	"github.com/Mindburn-Labs/helm-runbook/pkg/runbook"
)

// ArtifactStore holds one Message per artifact id for the lifetime of a
// single plan execution. It is not content-addressed and carries no
// persistence across restarts; Clear resets it between runs.
type ArtifactStore struct {
	mu        sync.RWMutex
	artifacts map[string]*runbook.Message
}

// New creates an empty ArtifactStore.
func New() *ArtifactStore {
	return &ArtifactStore{artifacts: make(map[string]*runbook.Message)}
}

// Save records msg under id. Saving the same id twice is an error: each
// artifact is produced exactly once per execution.
func (s *ArtifactStore) Save(id string, msg *runbook.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.artifacts[id]; exists {
		return &runbook.ComponentError{ArtifactID: id, Cause: errAlreadySaved}
	}
	s.artifacts[id] = msg
	return nil
}

// Get retrieves the message saved for id.
func (s *ArtifactStore) Get(id string) (*runbook.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.artifacts[id]
	if !ok {
		return nil, &runbook.ArtifactNotFoundError{ID: id}
	}
	return msg, nil
}

// Exists reports whether id has already been saved.
func (s *ArtifactStore) Exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.artifacts[id]
	return ok
}

// ListArtifacts returns every artifact id currently held.
func (s *ArtifactStore) ListArtifacts() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.artifacts))
	for id := range s.artifacts {
		ids = append(ids, id)
	}
	return ids
}

// Clear removes every saved artifact, readying the store for a new execution.
func (s *ArtifactStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts = make(map[string]*runbook.Message)
}

var errAlreadySaved = sentinelError("artifact already saved")

type sentinelError string

func (e sentinelError) Error() string { return string(e) }
