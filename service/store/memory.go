package store

import (
	"context"
	"sync"

	"NProject/tools/errs"
)

var errSaveFailed = errs.ErrStoreError.WithDetail("simulated save failure")

// MemoryStore is an in-process DocumentStore for tests and single-node
// development runs.
type MemoryStore struct {
	mu    sync.RWMutex
	notes map[string]memNote

	// FailSaves makes Save return ErrStoreError while > 0, decrementing per
	// call. Used to exercise the writer's retry path.
	FailSaves int
}

type memNote struct {
	content string
	version int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{notes: make(map[string]memNote)}
}

// Seed installs initial content for a note.
func (s *MemoryStore) Seed(noteID, content string, version int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes[noteID] = memNote{content: content, version: version}
}

func (s *MemoryStore) Load(_ context.Context, noteID string) (string, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := s.notes[noteID]
	return n.content, n.version, nil
}

func (s *MemoryStore) Save(_ context.Context, noteID string, content string, version int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailSaves > 0 {
		s.FailSaves--
		return &errSaveFailed
	}
	if cur, ok := s.notes[noteID]; ok && cur.version >= version {
		return nil
	}
	s.notes[noteID] = memNote{content: content, version: version}
	return nil
}
