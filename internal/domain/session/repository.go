package session

import (
	"context"

	"github.com/danghamo/convoy/internal/domain/shared"
)

// Repository persists session snapshots
type Repository interface {
	// Insert stores a new session, failing with ALREADY_EXISTS on a duplicate id
	Insert(ctx context.Context, s *Session) error

	// FindOneAndUpdate loads a session and stores what callback returns.
	// A nil result from callback leaves the stored session unchanged.
	FindOneAndUpdate(ctx context.Context, id shared.ID, callback func(*Session) (*Session, error)) error

	// GetByID returns NOT_FOUND when the session does not exist
	GetByID(ctx context.Context, id shared.ID) (*Session, error)

	// GetAll returns every stored session
	GetAll(ctx context.Context) ([]*Session, error)

	// Delete removes a session
	Delete(ctx context.Context, id shared.ID) error
}
