package store

import (
	"database/sql"
	"fmt"
)

const schemaVersion = 2

// Migrate brings the ledger schema up to schemaVersion, tracked in PRAGMA user_version.
func Migrate(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var v int
	if err := tx.QueryRow(`PRAGMA user_version;`).Scan(&v); err != nil {
		return err
	}

	if v >= schemaVersion {
		return tx.Commit()
	}
	if v < 1 {
		if err := migrateV1(tx); err != nil {
			return err
		}
	}
	if v < 2 {
		if err := migrateV2(tx); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(fmt.Sprintf(`PRAGMA user_version = %d;`, schemaVersion)); err != nil {
		return err
	}

	return tx.Commit()
}

func migrateV1(tx *sql.Tx) error {
	// ---- Schema v1: tables ----

	if _, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS messages (
  message_id TEXT PRIMARY KEY,
  source TEXT NOT NULL,
  seen_at TEXT NOT NULL
);
`); err != nil {
		return err
	}

	if _, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS runs (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  started_at TEXT NOT NULL,
  finished_at TEXT NOT NULL,
  status TEXT NOT NULL,
  error TEXT NOT NULL DEFAULT '',
  snapshot_version INTEGER NOT NULL DEFAULT 0,
  report TEXT NOT NULL DEFAULT '{}'
);
`); err != nil {
		return err
	}

	if _, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS review_items (
  email TEXT NOT NULL,
  reason TEXT NOT NULL,
  evidence TEXT NOT NULL DEFAULT '',
  run_id INTEGER NOT NULL DEFAULT 0,
  PRIMARY KEY (email, reason)
);
`); err != nil {
		return err
	}

	// ---- Schema v1: indexes ----

	if _, err := tx.Exec(`
CREATE INDEX IF NOT EXISTS idx_runs_started_at
ON runs(started_at);
`); err != nil {
		return err
	}

	if !columnExists(tx, "messages", "source") {
		if _, err := tx.Exec(`ALTER TABLE messages ADD COLUMN source TEXT NOT NULL DEFAULT '';`); err != nil {
			return err
		}
	}
	return nil
}

// migrateV2 keys the message ledger by (message_id, email) so a message is
// committed per contact, and adds the held_contacts table. Rows carried over
// from v1 get email ” and count as seen for every contact.
func migrateV2(tx *sql.Tx) error {
	stmts := []string{`
CREATE TABLE messages_v2 (
  message_id TEXT NOT NULL,
  email TEXT NOT NULL DEFAULT '',
  source TEXT NOT NULL,
  seen_at TEXT NOT NULL,
  PRIMARY KEY (message_id, email)
);`, `
INSERT INTO messages_v2 (message_id, email, source, seen_at)
SELECT message_id, '', source, seen_at FROM messages;`,
		`DROP TABLE messages;`,
		`ALTER TABLE messages_v2 RENAME TO messages;`, `
CREATE TABLE IF NOT EXISTS held_contacts (
  email TEXT PRIMARY KEY,
  reason TEXT NOT NULL,
  contact TEXT NOT NULL,
  updated_at TEXT NOT NULL
);`,
	}
	for _, q := range stmts {
		if _, err := tx.Exec(q); err != nil {
			return fmt.Errorf("schema v2: %w", err)
		}
	}
	return nil
}

func columnExists(q interface {
	QueryRow(query string, args ...any) *sql.Row
}, table, col string) bool {
	query := fmt.Sprintf(`
SELECT 1
FROM pragma_table_info('%s')
WHERE name = ?
LIMIT 1;
`, table)

	var one int
	err := q.QueryRow(query, col).Scan(&one)
	return err == nil
}
