package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"contactsignal-engine/internal/config"
	"contactsignal-engine/internal/store"
)

func rawMsg(headers map[string]string, body string) []byte {
	var b strings.Builder
	for _, k := range []string{"Message-ID", "From", "To", "Cc", "Date", "Subject"} {
		if v, ok := headers[k]; ok {
			b.WriteString(k + ": " + v + "\r\n")
		}
	}
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}

const janeBody = "Hi,\r\n\r\nThe appraisal is in.\r\n\r\n--\r\nJane Doe\r\nRealtor | Keller Williams Realty\r\n(310) 555-0199\r\n"

func mustParse(t *testing.T, raw []byte) Message {
	t.Helper()
	m, err := ParseMessage(raw, "test")
	require.NoError(t, err)
	return m
}

func TestParseMessage(t *testing.T) {
	m := mustParse(t, rawMsg(map[string]string{
		"Message-ID": "<abc@mail.kw.com>",
		"From":       `"Doe, Jane" <Jane@KW.com>`,
		"To":         "me@lender.com, Bob <bob@gmail.com>",
		"Date":       "Mon, 03 Mar 2025 09:30:00 -0800",
		"Subject":    "=?UTF-8?Q?Appraisal_=E2=9C=93?=",
	}, janeBody))

	assert.Equal(t, "abc@mail.kw.com", m.ID)
	assert.Equal(t, []Address{{Name: "Doe, Jane", Email: "jane@kw.com"}}, m.From)
	assert.Equal(t, []Address{{Email: "me@lender.com"}, {Name: "Bob", Email: "bob@gmail.com"}}, m.To)
	assert.True(t, m.Date.Equal(time.Date(2025, 3, 3, 17, 30, 0, 0, time.UTC)), "got %v", m.Date)
	assert.Equal(t, "Appraisal ✓", m.Subject)
	assert.Equal(t, "test", m.Source)
}

func TestParseMessage_NoSender(t *testing.T) {
	_, err := ParseMessage(rawMsg(map[string]string{"To": "me@lender.com"}, "hi\r\n"), "test")
	require.ErrorIs(t, err, ErrNoSender)
}

func TestBuilder_DirectionAndDedupe(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2025, 3, 3, 17, 0, 0, 0, time.UTC)

	inbound := mustParse(t, rawMsg(map[string]string{
		"Message-ID": "<1@kw.com>",
		"From":       "Jane Doe <jane@kw.com>",
		"To":         "me@lender.com",
		"Date":       at.Format(time.RFC1123Z),
	}, janeBody))
	outbound := mustParse(t, rawMsg(map[string]string{
		"Message-ID": "<2@lender.com>",
		"From":       "Me <ME@lender.com>",
		"To":         "jane@kw.com, Bob <bob@gmail.com>",
		"Cc":         "me@lender.com",
		"Date":       at.Add(time.Hour).Format(time.RFC1123Z),
	}, "Thanks!\r\n"))
	noID := mustParse(t, rawMsg(map[string]string{
		"From": "Jane Doe <jane@kw.com>",
		"Date": at.Add(2 * time.Hour).Format(time.RFC1123Z),
	}, "ok\r\n"))

	b := NewBuilder([]string{"me@lender.com"}, 8, nil, zaptest.NewLogger(t))
	require.NoError(t, b.AddAll(ctx, []Message{inbound, outbound, inbound, noID}))

	corpus := b.Corpus()
	require.Len(t, corpus, 2)

	jane := corpus["jane@kw.com"]
	require.NotNil(t, jane)
	assert.Equal(t, 2, jane.Received)
	assert.Equal(t, 1, jane.Sent)
	assert.Equal(t, []string{"Jane Doe", "Jane Doe"}, jane.DisplayNames)
	require.NotEmpty(t, jane.Samples)
	assert.Contains(t, jane.Samples[0].Text, "(310) 555-0199")
	assert.NotContains(t, jane.Samples[0].Text, "appraisal is in")
	assert.True(t, jane.FirstSeen.Equal(at))
	assert.True(t, jane.LastSeen.Equal(at.Add(2*time.Hour)))

	bob := corpus["bob@gmail.com"]
	require.NotNil(t, bob)
	assert.Equal(t, 1, bob.Sent)
	assert.Zero(t, bob.Received)
	assert.Empty(t, bob.DisplayNames, "recipient names are not evidence")

	assert.Equal(t, BuildStats{Messages: 3, Inbound: 2, Outbound: 1, Duplicates: 1}, b.Stats())
}

func TestBuilder_LedgerKeepsCountersAdditive(t *testing.T) {
	ctx := context.Background()
	db, err := store.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	msg := mustParse(t, rawMsg(map[string]string{
		"Message-ID": "<1@kw.com>",
		"From":       "jane@kw.com",
	}, janeBody))

	first := NewBuilder(nil, 8, db, zaptest.NewLogger(t))
	require.NoError(t, first.Add(ctx, msg))
	assert.Equal(t, 1, first.Corpus()["jane@kw.com"].Received)
	assert.Equal(t, []store.SeenMessage{{ID: "1@kw.com", Email: "jane@kw.com", Source: "test"}}, first.Pending())

	uncommitted := NewBuilder(nil, 8, db, zaptest.NewLogger(t))
	require.NoError(t, uncommitted.Add(ctx, msg))
	assert.Len(t, uncommitted.Corpus(), 1, "ids count as seen only after commit")

	require.NoError(t, store.MarkMessagesSeen(ctx, db.Pool, first.Pending()))

	second := NewBuilder(nil, 8, db, zaptest.NewLogger(t))
	require.NoError(t, second.Add(ctx, msg))
	assert.Empty(t, second.Corpus(), "a message seen in an earlier run is not counted again")
	assert.Equal(t, 1, second.Stats().Duplicates)
}

func TestBuilder_CountsMessagePerContact(t *testing.T) {
	ctx := context.Background()
	db, err := store.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	reply := mustParse(t, rawMsg(map[string]string{
		"Message-ID": "<r1@lender.com>",
		"From":       "me@lender.com",
		"To":         "jane@kw.com, bob@gmail.com, Bob <BOB@gmail.com>",
	}, "Thanks\r\n"))

	// Only jane's share of the reply was committed, as when bob's contact
	// failed enrichment on the earlier run.
	require.NoError(t, store.MarkMessagesSeen(ctx, db.Pool, []store.SeenMessage{
		{ID: "r1@lender.com", Email: "jane@kw.com", Source: "test"},
	}))

	b := NewBuilder([]string{"me@lender.com"}, 8, db, zaptest.NewLogger(t))
	require.NoError(t, b.Add(ctx, reply))

	assert.Nil(t, b.Corpus()["jane@kw.com"])
	require.NotNil(t, b.Corpus()["bob@gmail.com"])
	assert.Equal(t, 1, b.Corpus()["bob@gmail.com"].Sent, "a repeated recipient is counted once")
	assert.Equal(t, []store.SeenMessage{{ID: "r1@lender.com", Email: "bob@gmail.com", Source: "test"}}, b.Pending())
	assert.Equal(t, BuildStats{Messages: 1, Outbound: 1}, b.Stats())

	require.NoError(t, b.Add(ctx, reply))
	assert.Equal(t, 1, b.Stats().Duplicates)
}

func TestMboxSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.mbox")
	mbox := strings.Join([]string{
		"From jane@kw.com Mon Mar  3 09:30:00 2025",
		"Message-ID: <1@kw.com>",
		"From: Jane Doe <jane@kw.com>",
		"",
		"Line one",
		">From the desk of Jane",
		"",
		"From bob@gmail.com Mon Mar  3 10:30:00 2025",
		"Message-ID: <2@gmail.com>",
		"From: bob@gmail.com",
		"",
		"hello",
		"",
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(mbox), 0o644))

	msgs, err := NewMboxSource(path, zaptest.NewLogger(t)).Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "jane@kw.com", msgs[0].From[0].Email)
	assert.Contains(t, string(msgs[0].Raw), "\r\nFrom the desk of Jane\r\n")
	assert.Equal(t, "2@gmail.com", msgs[1].ID)
	assert.Equal(t, "mbox:archive.mbox", msgs[1].Source)
}

func TestDirSource(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "2025")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "a.eml"), rawMsg(map[string]string{"From": "jane@kw.com"}, "hi\r\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.EML"), rawMsg(map[string]string{"From": "bob@gmail.com"}, "hi\r\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("From: x@y.com\r\n\r\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.eml"), rawMsg(map[string]string{"To": "x@y.com"}, "hi\r\n"), 0o644))

	msgs, err := NewDirSource(dir, zaptest.NewLogger(t)).Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, msgs, 2)
}

type fakeSource struct {
	name string
	msgs []Message
	err  error
}

func (f fakeSource) Name() string { return f.name }

func (f fakeSource) Fetch(context.Context) ([]Message, error) { return f.msgs, f.err }

func TestFetchAll_SkipsFailingSource(t *testing.T) {
	boom := errors.New("connection refused")
	got, err := FetchAll(context.Background(), zaptest.NewLogger(t), time.Second,
		fakeSource{name: "a", msgs: []Message{{ID: "1"}}},
		fakeSource{name: "b", err: boom},
		fakeSource{name: "c", msgs: []Message{{ID: "2"}, {ID: "3"}}},
	)
	require.NoError(t, err)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, "1", got.Messages[0].ID)
	require.Len(t, got.Failed, 1)
	assert.Equal(t, "b", got.Failed[0].Source)
	assert.ErrorIs(t, got.Failed[0], boom)
}

func TestSourcesFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Email.Enabled = true
	cfg.Email.MboxPaths = []string{"/tmp/a.mbox"}
	cfg.Email.EMLDirs = []string{"/tmp/eml"}

	assert.Len(t, SourcesFromConfig(cfg, "", time.Now(), zaptest.NewLogger(t)), 2, "imap needs a password")

	srcs := SourcesFromConfig(cfg, "secret", time.Now(), zaptest.NewLogger(t))
	require.Len(t, srcs, 3)
	assert.IsType(t, &IMAPSource{}, srcs[0])
}
