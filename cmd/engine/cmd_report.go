package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"contactsignal-engine/internal/runner"
	"contactsignal-engine/internal/store"
)

var (
	reportJSON   bool
	reviewReason string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show the report of the last run",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		last, ok, err := store.LastRun(cmd.Context(), e.db.Pool)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if !ok {
			fmt.Fprintln(out, "no runs recorded yet")
			return nil
		}
		if reportJSON {
			_, err := out.Write(append(last.Report, '\n'))
			return err
		}

		fmt.Fprintf(out, "run #%d %s, %s (snapshot v%d)\n",
			last.ID, last.Status, humanize.Time(last.StartedAt), last.SnapshotVersion)
		if last.Error != "" {
			fmt.Fprintf(out, "error: %s\n", last.Error)
			return nil
		}
		var sum runner.Summary
		if err := json.Unmarshal(last.Report, &sum); err != nil {
			return fmt.Errorf("decode run report: %w", err)
		}
		printSummary(out, sum)
		return nil
	},
}

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "List the review queue of the last run",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		items, err := store.ListReviewItems(cmd.Context(), e.db.Pool, reviewReason)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(items) == 0 {
			fmt.Fprintln(out, "review queue is empty")
			return nil
		}
		t := newTable(out, "Email", "Reason", "Evidence")
		for _, it := range items {
			t.Append([]string{it.Email, it.Reason, it.Evidence})
		}
		t.Render()
		fmt.Fprintf(out, "%s item(s)\n", humanize.Comma(int64(len(items))))
		return nil
	},
}

func init() {
	reportCmd.Flags().BoolVar(&reportJSON, "json", false, "Print the raw report JSON")
	reviewCmd.Flags().StringVar(&reviewReason, "reason", "", "Only show items with this reason")
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	t := tablewriter.NewWriter(w)
	t.SetHeader(header)
	t.SetBorder(false)
	t.SetAutoWrapText(false)
	t.SetAlignment(tablewriter.ALIGN_LEFT)
	return t
}

func printSummary(w io.Writer, s runner.Summary) {
	dur := time.Duration(s.DurationMS) * time.Millisecond
	fmt.Fprintf(w, "contacts: %s in, %s out, %s processed in %s\n",
		humanize.Comma(int64(s.ContactsIn)),
		humanize.Comma(int64(s.ContactsOut)),
		humanize.Comma(int64(s.Processed)),
		dur.Round(time.Millisecond))
	if s.Ingest != nil {
		fmt.Fprintf(w, "mail: %d messages (%d inbound, %d outbound, %d duplicates, %d skipped)\n",
			s.Ingest.Messages, s.Ingest.Inbound, s.Ingest.Outbound, s.Ingest.Duplicates, s.Ingest.Skipped)
	}
	for _, f := range s.FailedSources {
		fmt.Fprintf(w, "source failed: %s\n", f)
	}

	t := newTable(w, "Section", "Value", "Count")
	for _, sec := range []struct {
		name string
		m    map[string]int
	}{
		{"quality", s.Quality},
		{"category", s.Categories},
		{"relationship", s.Relationships},
		{"engagement", s.Engagement},
		{"group", s.Groups},
		{"removed", s.Removed},
	} {
		for _, k := range sortedKeys(sec.m) {
			t.Append([]string{sec.name, k, humanize.Comma(int64(sec.m[k]))})
		}
	}
	t.Render()
	fmt.Fprintf(w, "review items: %d\n", s.ReviewItems)

	if len(s.Failures) > 0 {
		ft := newTable(w, "Failed contact", "Error")
		for _, f := range s.Failures {
			ft.Append([]string{f.Email, f.Error})
		}
		ft.Render()
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
