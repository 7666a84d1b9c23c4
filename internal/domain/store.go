package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// FreightHistoryStore persists freight history records. Insert marks the new
// record current and supersedes any previous current record for the same
// (user, listing, destination) key atomically.
type FreightHistoryStore interface {
	Insert(ctx context.Context, rec FreightHistoryRecord) error
	GetCurrent(ctx context.Context, userID, listingID, destination string) (FreightHistoryRecord, error)
	InvalidateListing(ctx context.Context, listingID string, at time.Time) (int64, error)
	ListByListing(ctx context.Context, listingID string, opts ListOpts) ([]FreightHistoryRecord, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
