package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contactsignal-engine/internal/pipeline"
	"contactsignal-engine/internal/runner"
)

const testMbox = "From jane@kw.com Mon Mar  3 09:30:00 2025\n" +
	"Message-ID: <1@kw.com>\n" +
	"From: Jane Doe <jane@kw.com>\n" +
	"To: me@lender.com\n" +
	"Date: Mon, 03 Mar 2025 09:30:00 -0800\n" +
	"\n" +
	"See attached.\n" +
	"\n" +
	"--\n" +
	"Jane Doe\n" +
	"Realtor | Keller Williams Realty\n" +
	"(310) 555-0199\n" +
	"\n"

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute(), out.String())
	return out.String()
}

func TestCLI_InitRunReportReview(t *testing.T) {
	dir := t.TempDir()
	mbox := filepath.Join(dir, "in.mbox")
	require.NoError(t, os.WriteFile(mbox, []byte(testMbox), 0o644))

	out := execute(t, "init", "--data-dir", dir)
	assert.Contains(t, out, runner.SnapshotPath(dir))
	assert.FileExists(t, filepath.Join(dir, "config.yml"))

	out = execute(t, "run", "--data-dir", dir, "--mbox", mbox)
	assert.Contains(t, out, "snapshot version 2 saved")
	assert.Contains(t, out, "1 messages")

	out = execute(t, "report", "--data-dir", dir)
	assert.True(t, strings.HasPrefix(out, "run #1 ok"), out)

	out = execute(t, "review", "--data-dir", dir, "--reason", "automated")
	assert.Contains(t, out, "review queue is empty")
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	printSummary(&buf, runner.Summary{Report: pipeline.Report{
		ContactsIn:  3,
		ContactsOut: 2,
		Processed:   3,
		Quality:     map[string]int{"good": 2},
		Removed:     map[string]int{"zero_engagement": 1},
		Failures:    []pipeline.Failure{{Email: "x@y.com", Error: "boom"}},
	}})

	out := buf.String()
	assert.Contains(t, out, "3 in, 2 out")
	assert.Contains(t, out, "zero_engagement")
	assert.Contains(t, out, "x@y.com")
}

func TestSortedKeys(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, sortedKeys(map[string]int{"c": 1, "a": 2, "b": 3}))
	assert.Empty(t, sortedKeys(nil))
}
