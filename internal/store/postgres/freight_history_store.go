package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/freightquote/internal/domain"
)

const historyColumns = `id, user_id, listing_id, destination, seller_cost, customer_cost,
	method, reliability_percent, successful_attempts, agreeing_attempts, attempts,
	calculated_at, is_current, invalidated_at`

// FreightHistoryStore implements domain.FreightHistoryStore on the
// freight_history table.
type FreightHistoryStore struct {
	db DB
}

var _ domain.FreightHistoryStore = (*FreightHistoryStore)(nil)

// NewFreightHistoryStore creates a FreightHistoryStore.
func NewFreightHistoryStore(db DB) *FreightHistoryStore {
	return &FreightHistoryStore{db: db}
}

// Insert supersedes the current record of the key and inserts rec as current,
// in one transaction so the partial unique index never sees two current rows.
// A transaction-scoped advisory lock on the key serialises concurrent writers;
// the later one supersedes the earlier.
func (s *FreightHistoryStore) Insert(ctx context.Context, rec domain.FreightHistoryRecord) error {
	attempts, err := json.Marshal(rec.Attempts)
	if err != nil {
		return fmt.Errorf("postgres: marshal attempts %s: %w", rec.ListingID, err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin insert history %s: %w", rec.ListingID, err)
	}

	const lock = `SELECT pg_advisory_xact_lock(hashtext($1))`
	if _, err := tx.Exec(ctx, lock, historyLockKey(rec)); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("postgres: lock history %s/%s: %w", rec.ListingID, rec.Destination, err)
	}

	const supersede = `UPDATE freight_history SET is_current = FALSE
		WHERE user_id = $1 AND listing_id = $2 AND destination = $3 AND is_current`
	if _, err := tx.Exec(ctx, supersede, rec.UserID, rec.ListingID, rec.Destination); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("postgres: supersede history %s/%s: %w", rec.ListingID, rec.Destination, err)
	}

	const insert = `INSERT INTO freight_history
		(id, user_id, listing_id, destination, seller_cost, customer_cost, method,
		 reliability_percent, successful_attempts, agreeing_attempts, attempts,
		 calculated_at, is_current)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, TRUE)`
	if _, err := tx.Exec(ctx, insert,
		rec.ID, rec.UserID, rec.ListingID, rec.Destination, rec.SellerCost, rec.CustomerCost,
		rec.Method, rec.ReliabilityPercent, rec.SuccessfulAttempts, rec.AgreeingAttempts, attempts,
		rec.CalculatedAt,
	); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("postgres: insert history %s/%s: %w", rec.ListingID, rec.Destination, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit history %s: %w", rec.ListingID, err)
	}
	return nil
}

// GetCurrent returns the current record of the key or domain.ErrNotFound.
func (s *FreightHistoryStore) GetCurrent(ctx context.Context, userID, listingID, destination string) (domain.FreightHistoryRecord, error) {
	query := `SELECT ` + historyColumns + ` FROM freight_history
		WHERE user_id = $1 AND listing_id = $2 AND destination = $3 AND is_current
		LIMIT 1`
	rec, err := scanHistory(s.db.QueryRow(ctx, query, userID, listingID, destination))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.FreightHistoryRecord{}, domain.ErrNotFound
		}
		return domain.FreightHistoryRecord{}, fmt.Errorf("postgres: get current history %s/%s: %w", listingID, destination, err)
	}
	return rec, nil
}

// InvalidateListing flips every current record of listingID and stamps at.
func (s *FreightHistoryStore) InvalidateListing(ctx context.Context, listingID string, at time.Time) (int64, error) {
	const query = `UPDATE freight_history SET is_current = FALSE, invalidated_at = $2
		WHERE listing_id = $1 AND is_current`
	tag, err := s.db.Exec(ctx, query, listingID, at)
	if err != nil {
		return 0, fmt.Errorf("postgres: invalidate history %s: %w", listingID, err)
	}
	return tag.RowsAffected(), nil
}

// ListByListing returns records of listingID newest first.
func (s *FreightHistoryStore) ListByListing(ctx context.Context, listingID string, opts domain.ListOpts) ([]domain.FreightHistoryRecord, error) {
	query := `SELECT ` + historyColumns + ` FROM freight_history WHERE listing_id = $1`
	args := []any{listingID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND calculated_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND calculated_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}
	query += " ORDER BY calculated_at DESC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list history %s: %w", listingID, err)
	}
	defer rows.Close()

	var out []domain.FreightHistoryRecord
	for rows.Next() {
		rec, err := scanHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan history: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list history rows: %w", err)
	}
	return out, nil
}

// historyLockKey identifies the (user, listing, destination) key.
func historyLockKey(rec domain.FreightHistoryRecord) string {
	return rec.UserID + "|" + rec.ListingID + "|" + rec.Destination
}

func scanHistory(row pgx.Row) (domain.FreightHistoryRecord, error) {
	var (
		r        domain.FreightHistoryRecord
		attempts []byte
	)
	err := row.Scan(
		&r.ID, &r.UserID, &r.ListingID, &r.Destination, &r.SellerCost, &r.CustomerCost,
		&r.Method, &r.ReliabilityPercent, &r.SuccessfulAttempts, &r.AgreeingAttempts, &attempts,
		&r.CalculatedAt, &r.IsCurrent, &r.InvalidatedAt,
	)
	if err != nil {
		return r, err
	}
	if len(attempts) > 0 {
		if err := json.Unmarshal(attempts, &r.Attempts); err != nil {
			return r, fmt.Errorf("decode attempts: %w", err)
		}
	}
	return r, nil
}
