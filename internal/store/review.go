package store

import (
	"context"
	"database/sql"
	"fmt"

	"contactsignal-engine/internal/domain"
)

// ReplaceReviewQueue swaps the stored review queue for items from runID.
func ReplaceReviewQueue(ctx context.Context, db *sql.DB, runID int64, items []domain.ReviewItem) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM review_items;`); err != nil {
		return fmt.Errorf("clear review queue: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
INSERT OR REPLACE INTO review_items (email, reason, evidence, run_id)
VALUES (?, ?, ?, ?);`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, it := range items {
		if _, err := stmt.ExecContext(ctx, it.Email, it.Reason, it.Evidence, runID); err != nil {
			return fmt.Errorf("insert review item %s: %w", it.Email, err)
		}
	}
	return tx.Commit()
}

// ListReviewItems returns the queue ordered by email, optionally filtered by reason.
func ListReviewItems(ctx context.Context, db *sql.DB, reason string) ([]domain.ReviewItem, error) {
	q := `SELECT email, reason, evidence FROM review_items`
	var args []any
	if reason != "" {
		q += ` WHERE reason = ?`
		args = append(args, reason)
	}
	q += ` ORDER BY email, reason;`

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ReviewItem
	for rows.Next() {
		var it domain.ReviewItem
		if err := rows.Scan(&it.Email, &it.Reason, &it.Evidence); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}
