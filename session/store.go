package session

import (
	"context"
)

// Store persists session history.
// Implementations can use different backends (memory, file, database).
type Store interface {
	// Save replaces the stored state of a session.
	Save(ctx context.Context, s Session) error

	// Load returns the stored session. found is false when the id is unknown;
	// err is reserved for storage failures.
	Load(ctx context.Context, id string) (s Session, found bool, err error)

	// Delete removes a session. Deleting an unknown id is not an error.
	Delete(ctx context.Context, id string) error

	// List returns stored session ids, most recently updated first.
	List(ctx context.Context) ([]string, error)
}
