// Package memstore persists learner memory profiles.
//
// The tiered model is:
//
//	Hot (RAM) → Warm (BadgerDB) → Cold (Weaviate, optional)
//
// MemoryStore serves tests and throwaway deployments, BadgerStore is the
// embedded default, and SemanticArchive adds cross-session interaction
// recall when a Weaviate endpoint is configured.
package memstore

import (
	"context"
	"errors"

	"github.com/praxislearn/praxis/services/tutor/datatypes"
)

// ErrNotFound is returned by Get when no memory exists for a user.
var ErrNotFound = errors.New("memstore: user memory not found")

// Store persists UserMemory snapshots keyed by user ID.
//
// Implementations must be safe for concurrent use. Get returns ErrNotFound
// for unknown users; callers decide whether that means "create a default
// profile" or "fail".
type Store interface {
	// Get loads the memory snapshot for userID.
	Get(ctx context.Context, userID string) (*datatypes.UserMemory, error)

	// Put stores a snapshot, replacing any previous version for that user.
	Put(ctx context.Context, memory *datatypes.UserMemory) error

	// Delete removes a user's memory. Deleting an absent user is not an error.
	Delete(ctx context.Context, userID string) error

	// ListUsers returns the IDs of all users with stored memory.
	ListUsers(ctx context.Context) ([]string, error)

	// Close releases underlying resources.
	Close() error
}
