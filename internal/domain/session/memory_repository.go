package session

import (
	"context"
	"sort"
	"sync"

	"github.com/danghamo/convoy/internal/domain/shared"
)

// MemoryRepository keeps sessions in process memory. Used when no Redis URL
// is configured and in tests.
type MemoryRepository struct {
	mu       sync.RWMutex
	sessions map[shared.ID]*Session
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{sessions: make(map[shared.ID]*Session)}
}

func (r *MemoryRepository) Insert(_ context.Context, s *Session) error {
	if s == nil || s.ID.IsEmpty() {
		return shared.ErrInvalidInput("session with id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[s.ID]; exists {
		return shared.ErrAlreadyExists("session")
	}
	r.sessions[s.ID] = s.Clone()
	return nil
}

func (r *MemoryRepository) FindOneAndUpdate(_ context.Context, id shared.ID, callback func(*Session) (*Session, error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.sessions[id]
	if !ok {
		return shared.ErrNotFound("session")
	}

	updated, err := callback(current.Clone())
	if err != nil {
		return err
	}
	if updated == nil {
		return nil
	}
	r.sessions[id] = updated.Clone()
	return nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id shared.ID) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, shared.ErrNotFound("session")
	}
	return s.Clone(), nil
}

func (r *MemoryRepository) GetAll(_ context.Context) ([]*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out, nil
}

func (r *MemoryRepository) Delete(_ context.Context, id shared.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; !ok {
		return shared.ErrNotFound("session")
	}
	delete(r.sessions, id)
	return nil
}
