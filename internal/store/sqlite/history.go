package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/freightquote/internal/domain"
)

const historyColumns = `id, user_id, listing_id, destination, seller_cost, customer_cost,
	method, reliability_percent, successful_attempts, agreeing_attempts, attempts,
	calculated_at, is_current, invalidated_at`

// HistoryStore implements domain.FreightHistoryStore.
type HistoryStore struct {
	db *sql.DB
}

var _ domain.FreightHistoryStore = (*HistoryStore)(nil)

// Insert supersedes the key's current record and inserts rec as current.
// Concurrent inserts for one key are serialised by the single pooled
// connection, so the later one supersedes the earlier.
func (s *HistoryStore) Insert(ctx context.Context, rec domain.FreightHistoryRecord) error {
	attempts, err := json.Marshal(rec.Attempts)
	if err != nil {
		return fmt.Errorf("sqlite: marshal attempts %s: %w", rec.ListingID, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin insert history %s: %w", rec.ListingID, err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE freight_history SET is_current = 0
		 WHERE user_id = ? AND listing_id = ? AND destination = ? AND is_current = 1`,
		rec.UserID, rec.ListingID, rec.Destination,
	); err != nil {
		return rollback(tx, fmt.Errorf("sqlite: supersede history %s/%s: %w", rec.ListingID, rec.Destination, err))
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO freight_history
		 (id, user_id, listing_id, destination, seller_cost, customer_cost, method,
		  reliability_percent, successful_attempts, agreeing_attempts, attempts,
		  calculated_at, is_current)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		rec.ID, rec.UserID, rec.ListingID, rec.Destination, rec.SellerCost, rec.CustomerCost,
		rec.Method, rec.ReliabilityPercent, rec.SuccessfulAttempts, rec.AgreeingAttempts, string(attempts),
		toNanos(rec.CalculatedAt),
	); err != nil {
		return rollback(tx, fmt.Errorf("sqlite: insert history %s/%s: %w", rec.ListingID, rec.Destination, err))
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit history %s: %w", rec.ListingID, err)
	}
	return nil
}

// GetCurrent returns the current record of the key or domain.ErrNotFound.
func (s *HistoryStore) GetCurrent(ctx context.Context, userID, listingID, destination string) (domain.FreightHistoryRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+historyColumns+` FROM freight_history
		 WHERE user_id = ? AND listing_id = ? AND destination = ? AND is_current = 1
		 LIMIT 1`,
		userID, listingID, destination,
	)
	rec, err := scanHistory(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.FreightHistoryRecord{}, domain.ErrNotFound
		}
		return domain.FreightHistoryRecord{}, fmt.Errorf("sqlite: get current history %s/%s: %w", listingID, destination, err)
	}
	return rec, nil
}

// InvalidateListing flips every current record of listingID.
func (s *HistoryStore) InvalidateListing(ctx context.Context, listingID string, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE freight_history SET is_current = 0, invalidated_at = ?
		 WHERE listing_id = ? AND is_current = 1`,
		toNanos(at), listingID,
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: invalidate history %s: %w", listingID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: invalidate history %s rows: %w", listingID, err)
	}
	return n, nil
}

// ListByListing returns records of listingID newest first.
func (s *HistoryStore) ListByListing(ctx context.Context, listingID string, opts domain.ListOpts) ([]domain.FreightHistoryRecord, error) {
	query := `SELECT ` + historyColumns + ` FROM freight_history WHERE listing_id = ?`
	args := []any{listingID}
	if opts.Since != nil {
		query += " AND calculated_at >= ?"
		args = append(args, toNanos(*opts.Since))
	}
	if opts.Until != nil {
		query += " AND calculated_at <= ?"
		args = append(args, toNanos(*opts.Until))
	}
	query += " ORDER BY calculated_at DESC, rowid DESC"
	query, args = appendPaging(query, args, opts)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list history %s: %w", listingID, err)
	}
	defer rows.Close()

	var out []domain.FreightHistoryRecord
	for rows.Next() {
		rec, err := scanHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan history: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list history rows: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanHistory(row scanner) (domain.FreightHistoryRecord, error) {
	var (
		r           domain.FreightHistoryRecord
		calculated  int64
		current     int64
		invalidated sql.NullInt64
		attempts    sql.NullString
	)
	if err := row.Scan(
		&r.ID, &r.UserID, &r.ListingID, &r.Destination, &r.SellerCost, &r.CustomerCost,
		&r.Method, &r.ReliabilityPercent, &r.SuccessfulAttempts, &r.AgreeingAttempts, &attempts,
		&calculated, &current, &invalidated,
	); err != nil {
		return domain.FreightHistoryRecord{}, err
	}
	if attempts.Valid && attempts.String != "" {
		if err := json.Unmarshal([]byte(attempts.String), &r.Attempts); err != nil {
			return domain.FreightHistoryRecord{}, fmt.Errorf("decode attempts %s: %w", r.ID, err)
		}
	}
	r.CalculatedAt = fromNanos(calculated)
	r.IsCurrent = current == 1
	if invalidated.Valid {
		t := fromNanos(invalidated.Int64)
		r.InvalidatedAt = &t
	}
	return r, nil
}

func appendPaging(query string, args []any, opts domain.ListOpts) (string, []any) {
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	} else if opts.Offset > 0 {
		query += " LIMIT -1"
	}
	if opts.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, opts.Offset)
	}
	return query, args
}
