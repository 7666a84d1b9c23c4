// Package memory implements the persistence ports in process memory. It backs
// the "memory" store driver used in development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/freightquote/internal/domain"
)

// HistoryStore keeps freight history records in a slice, append-only.
type HistoryStore struct {
	mu   sync.RWMutex
	recs []domain.FreightHistoryRecord
}

var _ domain.FreightHistoryStore = (*HistoryStore)(nil)

// NewHistoryStore creates an empty HistoryStore.
func NewHistoryStore() *HistoryStore {
	return &HistoryStore{}
}

// Insert supersedes the current record of the same key and appends rec as
// the new current record.
func (s *HistoryStore) Insert(_ context.Context, rec domain.FreightHistoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.recs {
		r := &s.recs[i]
		if r.IsCurrent && r.UserID == rec.UserID && r.ListingID == rec.ListingID && r.Destination == rec.Destination {
			r.IsCurrent = false
		}
	}
	rec.IsCurrent = true
	rec.InvalidatedAt = nil
	s.recs = append(s.recs, rec)
	return nil
}

// GetCurrent returns the current record for the key or domain.ErrNotFound.
func (s *HistoryStore) GetCurrent(_ context.Context, userID, listingID, destination string) (domain.FreightHistoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.recs) - 1; i >= 0; i-- {
		r := s.recs[i]
		if r.IsCurrent && r.UserID == userID && r.ListingID == listingID && r.Destination == destination {
			return r, nil
		}
	}
	return domain.FreightHistoryRecord{}, domain.ErrNotFound
}

// InvalidateListing flips every current record of listingID.
func (s *HistoryStore) InvalidateListing(_ context.Context, listingID string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for i := range s.recs {
		r := &s.recs[i]
		if r.IsCurrent && r.ListingID == listingID {
			r.IsCurrent = false
			ts := at
			r.InvalidatedAt = &ts
			n++
		}
	}
	return n, nil
}

// ListByListing returns the records of listingID newest first.
func (s *HistoryStore) ListByListing(_ context.Context, listingID string, opts domain.ListOpts) ([]domain.FreightHistoryRecord, error) {
	s.mu.RLock()
	var out []domain.FreightHistoryRecord
	for _, r := range s.recs {
		if r.ListingID != listingID {
			continue
		}
		if opts.Since != nil && r.CalculatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && r.CalculatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, r)
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].CalculatedAt.After(out[j].CalculatedAt) })
	return paginate(out, opts), nil
}

func paginate[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}
