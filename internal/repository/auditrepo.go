package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/navcom/groupctl/internal/model"
)

// AuditRepository is the durable audit trail of system generated entries
// (tier overrides, revocations, stale recoveries).
type AuditRepository interface {
	// Append stores an entry and returns its row id.
	Append(ctx context.Context, e model.AuditEvent) (uuid.UUID, error)
	// ListByGroup returns up to limit entries of a group, newest first.
	ListByGroup(ctx context.Context, groupID string, limit int) ([]model.AuditEvent, error)
}
