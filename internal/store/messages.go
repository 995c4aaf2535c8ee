package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// CountMessages returns the number of distinct Message-IDs in the ledger.
func CountMessages(ctx context.Context, db *sql.DB) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT message_id) FROM messages;`).Scan(&n)
	return n, err
}

func normalizeMessageID(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "<")
	s = strings.TrimSuffix(s, ">")
	return strings.ToLower(strings.TrimSpace(s))
}

// SeenMessage is a Message-ID counted for one contact, waiting to be
// committed to the ledger.
type SeenMessage struct {
	ID     string
	Email  string
	Source string
}

// MessageSeen reports whether the id was already counted for email. Rows
// without an email predate per-contact tracking and match every contact.
func MessageSeen(ctx context.Context, db *sql.DB, messageID, email string) (bool, error) {
	id := normalizeMessageID(messageID)
	if id == "" {
		return false, nil
	}
	var n int
	err := db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM messages
WHERE message_id = ? AND (email = ? OR email = '');`,
		id, strings.ToLower(strings.TrimSpace(email)),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("message seen: %w", err)
	}
	return n > 0, nil
}

// MarkMessagesSeen commits a batch of ids in one transaction. It runs after
// the snapshot holding their counters has been saved.
func MarkMessagesSeen(ctx context.Context, db *sql.DB, msgs []SeenMessage) error {
	return CommitLedger(ctx, db, LedgerCommit{Seen: msgs})
}

func markSeenTx(ctx context.Context, tx *sql.Tx, msgs []SeenMessage, now string) error {
	if len(msgs) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
INSERT OR IGNORE INTO messages (message_id, email, source, seen_at)
VALUES (?, ?, ?, ?);`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, m := range msgs {
		id := normalizeMessageID(m.ID)
		if id == "" {
			continue
		}
		email := strings.ToLower(strings.TrimSpace(m.Email))
		if _, err := stmt.ExecContext(ctx, id, email, m.Source, now); err != nil {
			return fmt.Errorf("mark messages seen: %w", err)
		}
	}
	return nil
}

func (d *DB) MessageSeen(ctx context.Context, messageID, email string) (bool, error) {
	return MessageSeen(ctx, d.Pool, messageID, email)
}

func nowText() string { return time.Now().UTC().Format(time.RFC3339) }
