// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/navcom/groupctl/internal/projection"
)

// CheckpointRepository persists one projection checkpoint per group.
type CheckpointRepository interface {
	// Save inserts or replaces the checkpoint of its group.
	Save(ctx context.Context, c projection.Checkpoint) error
	// Load returns the checkpoint of a group or errs.ErrNotFound.
	// Unreadable bodies return errs.ErrCheckpointUnreadable.
	Load(ctx context.Context, groupID string) (projection.Checkpoint, error)
	// List returns every readable checkpoint ordered by group id.
	List(ctx context.Context) ([]projection.Checkpoint, error)
}
