package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"contactsignal-engine/internal/domain"
)

// Held is a contact curated out of the snapshot whose counters are kept so
// later mail adds to its history instead of starting from zero.
type Held struct {
	Contact *domain.Contact
	Reason  string
}

// LedgerCommit is everything a successful run writes to the ledger after the
// snapshot is saved. It is applied in one transaction.
type LedgerCommit struct {
	Seen    []SeenMessage
	Hold    []Held
	Release []string
}

func CommitLedger(ctx context.Context, db *sql.DB, c LedgerCommit) error {
	if len(c.Seen) == 0 && len(c.Hold) == 0 && len(c.Release) == 0 {
		return nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := nowText()
	if err := markSeenTx(ctx, tx, c.Seen, now); err != nil {
		return err
	}

	for _, email := range c.Release {
		if _, err := tx.ExecContext(ctx, `DELETE FROM held_contacts WHERE email = ?;`, domain.NormalizeEmail(email)); err != nil {
			return fmt.Errorf("release %s: %w", email, err)
		}
	}

	if len(c.Hold) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
INSERT INTO held_contacts (email, reason, contact, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(email) DO UPDATE SET
  reason = excluded.reason,
  contact = excluded.contact,
  updated_at = excluded.updated_at;`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, h := range c.Hold {
			if h.Contact == nil {
				continue
			}
			b, err := json.Marshal(h.Contact)
			if err != nil {
				return fmt.Errorf("encode held %s: %w", h.Contact.Email, err)
			}
			if _, err := stmt.ExecContext(ctx, domain.NormalizeEmail(h.Contact.Email), h.Reason, string(b), now); err != nil {
				return fmt.Errorf("hold %s: %w", h.Contact.Email, err)
			}
		}
	}
	return tx.Commit()
}

// LoadHeld returns the held records for the given addresses. Unknown
// addresses are skipped.
func LoadHeld(ctx context.Context, db *sql.DB, emails []string) (domain.ContactSet, error) {
	out := domain.ContactSet{}
	if len(emails) == 0 {
		return out, nil
	}
	args := make([]any, 0, len(emails))
	for _, e := range emails {
		args = append(args, domain.NormalizeEmail(e))
	}
	// sqlite caps bound parameters; run in chunks.
	const chunk = 500
	for start := 0; start < len(args); start += chunk {
		end := min(start+chunk, len(args))
		part := args[start:end]
		q := `SELECT contact FROM held_contacts WHERE email IN (?` + strings.Repeat(",?", len(part)-1) + `);`
		if err := loadHeldChunk(ctx, db, q, part, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func loadHeldChunk(ctx context.Context, db *sql.DB, q string, args []any, out domain.ContactSet) error {
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return err
		}
		var c domain.Contact
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return fmt.Errorf("decode held contact: %w", err)
		}
		out.Put(&c)
	}
	return rows.Err()
}

func CountHeld(ctx context.Context, db *sql.DB) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM held_contacts;`).Scan(&n)
	return n, err
}
