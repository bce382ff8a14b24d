// ABOUTME: Repository contract for thread persistence
// ABOUTME: Implementations apply snapshot migrations on load and persist upgraded records

package repo

import (
	"context"
	"errors"
	"time"

	"github.com/strandhq/strand/internal/thread"
)

// ErrNotFound is returned when a requested thread does not exist. Corrupted
// or unreadable records are reported the same way on point reads.
var ErrNotFound = errors.New("thread not found")

// Summary is the listing shape for a persisted thread.
type Summary struct {
	ID         string
	Name       string
	Username   string
	ModifiedAt time.Time
	Price      float64
	Starred    bool
}

// Repository persists threads. Loads run the migration engine over the
// stored snapshot and persist the upgraded form when it changed; listing
// degrades per-record, skipping entries that cannot be decoded.
type Repository interface {
	GetByID(ctx context.Context, projectID, threadID string) (*thread.Thread, error)

	Save(ctx context.Context, projectID string, t *thread.Thread) error

	// ListByProject returns summaries for a project, optionally filtered to
	// threads owned by username. Summary.Starred reflects that username.
	ListByProject(ctx context.Context, projectID, username string) ([]Summary, error)

	// Delete removes a thread record, reporting whether one existed.
	Delete(ctx context.Context, projectID, threadID string) (bool, error)

	Close() error
}
