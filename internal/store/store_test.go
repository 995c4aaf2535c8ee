package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contactsignal-engine/internal/domain"
)

func TestSnapshot_LoadMissingIsFatal(t *testing.T) {
	s := NewSnapshot(filepath.Join(t.TempDir(), "contacts.json"))
	_, _, err := s.Load()
	require.ErrorIs(t, err, ErrSnapshotMissing)
}

func TestSnapshot_LoadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contacts.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version": 3, "contacts": [`), 0o644))

	_, _, err := NewSnapshot(path).Load()
	require.ErrorIs(t, err, ErrSnapshotCorrupt)
}

func TestSnapshot_InitSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "contacts.json")
	s := NewSnapshot(path)

	created, err := s.Init()
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.Init()
	require.NoError(t, err)
	assert.False(t, created)

	cs, v, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.Empty(t, cs)

	cs.Put(&domain.Contact{
		Email:      "Jane@KW.com",
		Name:       "Jane Doe",
		NameSource: domain.NameHigh,
		Signals:    domain.ExtractedSignals{Phones: []string{"3105550199"}},
		Stats:      domain.Stats{EmailsProcessed: 2, Received: 2},
	})
	nv, err := s.Save(cs, v)
	require.NoError(t, err)
	assert.Equal(t, 2, nv)

	got, gv, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, 2, gv)
	c, ok := got.Get("jane@kw.com")
	require.True(t, ok)
	assert.Equal(t, "Jane Doe", c.Name)
	assert.Equal(t, []string{"3105550199"}, c.Signals.Phones)

	_, err = os.Stat(path + ".bak")
	assert.NoError(t, err, "previous snapshot kept as .bak")
}

func TestSnapshot_OmitsUnobservedSignals(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contacts.json")
	s := NewSnapshot(path)
	cs := domain.ContactSet{}
	cs.Put(&domain.Contact{Email: "a@b.com"})
	_, err := s.Save(cs, 0)
	require.NoError(t, err)

	var raw struct {
		Contacts map[string]map[string]json.RawMessage `json:"contacts"`
	}
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, &raw))
	assert.JSONEq(t, `{}`, string(raw.Contacts["a@b.com"]["signals"]))
}

func TestSnapshot_VersionConflict(t *testing.T) {
	s := NewSnapshot(filepath.Join(t.TempDir(), "contacts.json"))
	_, err := s.Init()
	require.NoError(t, err)

	cs, v, err := s.Load()
	require.NoError(t, err)
	_, err = s.Save(cs, v)
	require.NoError(t, err)

	_, err = s.Save(cs, v)
	require.ErrorIs(t, err, ErrVersionConflict)
}

func TestSnapshot_SingleWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contacts.json")
	a := NewSnapshot(path)
	b := NewSnapshot(path)

	require.NoError(t, a.Lock(context.Background()))
	defer a.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, b.Lock(ctx), ErrSnapshotLocked)

	_, err := b.Save(domain.ContactSet{}, 0)
	require.ErrorIs(t, err, ErrSnapshotLocked)
}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrate_Idempotent(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, Migrate(db.Pool))

	var v int
	require.NoError(t, db.Pool.QueryRow(`PRAGMA user_version;`).Scan(&v))
	assert.Equal(t, schemaVersion, v)
}

func TestMessageSeen_PerContact(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, MarkMessagesSeen(ctx, db.Pool, []SeenMessage{
		{ID: "<ABC@mail.example.com>", Email: "jane@kw.com", Source: "imap:INBOX"},
		{ID: "  ", Email: "jane@kw.com", Source: "dir"},
	}))

	seen, err := MessageSeen(ctx, db.Pool, "abc@mail.example.com", "Jane@KW.com")
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = MessageSeen(ctx, db.Pool, "abc@mail.example.com", "bob@gmail.com")
	require.NoError(t, err)
	assert.False(t, seen, "a message counted for one recipient is still new for another")

	seen, err = MessageSeen(ctx, db.Pool, "  ", "jane@kw.com")
	require.NoError(t, err)
	assert.False(t, seen, "messages without an id are never treated as seen")

	n, err := CountMessages(ctx, db.Pool)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMigrate_CarriesV1MessagesForEveryContact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	pool, err := sql.Open("sqlite", "file:"+path)
	require.NoError(t, err)
	_, err = pool.Exec(`
CREATE TABLE messages (message_id TEXT PRIMARY KEY, source TEXT NOT NULL, seen_at TEXT NOT NULL);
INSERT INTO messages VALUES ('old@kw.com', 'imap:INBOX', '2025-01-01T00:00:00Z');
PRAGMA user_version = 1;`)
	require.NoError(t, err)
	require.NoError(t, pool.Close())

	db, err := Open(path)
	require.NoError(t, err)
	defer db.Close()

	seen, err := db.MessageSeen(context.Background(), "<old@kw.com>", "anyone@x.com")
	require.NoError(t, err)
	assert.True(t, seen)

	n, err := CountHeld(context.Background(), db.Pool)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCommitLedger_HoldAndRelease(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	held := &domain.Contact{Email: "jdoe77@gmail.com", Stats: domain.Stats{Received: 1, EmailsProcessed: 1}}
	require.NoError(t, CommitLedger(ctx, db.Pool, LedgerCommit{
		Seen: []SeenMessage{{ID: "1@gmail.com", Email: "jdoe77@gmail.com", Source: "test"}},
		Hold: []Held{{Contact: held, Reason: "zero_engagement"}},
	}))

	got, err := LoadHeld(ctx, db.Pool, []string{"JDOE77@gmail.com", "nobody@x.com"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 1, got["jdoe77@gmail.com"].Stats.Received)

	held.Stats.Sent = 1
	require.NoError(t, CommitLedger(ctx, db.Pool, LedgerCommit{Hold: []Held{{Contact: held, Reason: "zero_engagement"}}}))
	got, err = LoadHeld(ctx, db.Pool, []string{"jdoe77@gmail.com"})
	require.NoError(t, err)
	assert.Equal(t, 1, got["jdoe77@gmail.com"].Stats.Sent, "holding again replaces the record")

	require.NoError(t, CommitLedger(ctx, db.Pool, LedgerCommit{Release: []string{"jdoe77@gmail.com"}}))
	n, err := CountHeld(ctx, db.Pool)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRuns(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, ok, err := LastRun(ctx, db.Pool)
	require.NoError(t, err)
	assert.False(t, ok)

	start := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, err := InsertRun(ctx, db.Pool, Run{
			StartedAt:       start.Add(time.Duration(i) * time.Hour),
			FinishedAt:      start.Add(time.Duration(i)*time.Hour + time.Minute),
			Status:          RunOK,
			SnapshotVersion: i + 1,
			Report:          json.RawMessage(`{"contactsOut":5}`),
		})
		require.NoError(t, err)
	}

	runs, err := ListRuns(ctx, db.Pool, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, 3, runs[0].SnapshotVersion)
	assert.True(t, runs[0].StartedAt.Equal(start.Add(2*time.Hour)))
	assert.JSONEq(t, `{"contactsOut":5}`, string(runs[0].Report))

	last, ok, err := LastRun(ctx, db.Pool)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, runs[0].ID, last.ID)
}

func TestReviewQueue(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, ReplaceReviewQueue(ctx, db.Pool, 1, []domain.ReviewItem{
		{Email: "b@x.com", Reason: "shared_phone", Evidence: "3105550199"},
		{Email: "a@x.com", Reason: "automated"},
	}))
	require.NoError(t, ReplaceReviewQueue(ctx, db.Pool, 2, []domain.ReviewItem{
		{Email: "c@x.com", Reason: "unknown_category"},
		{Email: "a@x.com", Reason: "shared_phone", Evidence: "3105550199"},
	}))

	all, err := ListReviewItems(ctx, db.Pool, "")
	require.NoError(t, err)
	assert.Equal(t, []domain.ReviewItem{
		{Email: "a@x.com", Reason: "shared_phone", Evidence: "3105550199"},
		{Email: "c@x.com", Reason: "unknown_category"},
	}, all)

	phones, err := ListReviewItems(ctx, db.Pool, "shared_phone")
	require.NoError(t, err)
	assert.Len(t, phones, 1)
}

func TestMarkMessagesSeen_Batch(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	seen, err := db.MessageSeen(ctx, "<1@kw.com>", "me@lender.com")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, MarkMessagesSeen(ctx, db.Pool, []SeenMessage{
		{ID: "<1@kw.com>", Email: "me@lender.com", Source: "imap:INBOX"},
		{ID: "1@kw.com", Email: "sam@gmail.com", Source: "imap:INBOX"},
		{ID: "2@KW.com", Email: "me@lender.com", Source: "imap:INBOX"},
		{ID: "", Source: "dir"},
	}))

	seen, err = db.MessageSeen(ctx, "1@KW.COM", "me@lender.com")
	require.NoError(t, err)
	assert.True(t, seen)

	n, err := CountMessages(ctx, db.Pool)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
