package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"contactsignal-engine/internal/ingest"
	"contactsignal-engine/internal/runner"
)

var (
	runIngest bool
	runDryRun bool
	mboxFiles []string
	emlDirs   []string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Enrich, classify and reconcile the snapshot",
	Long: `run loads the snapshot, optionally ingests mail, runs the pipeline and
saves the new snapshot. --mbox and --eml add local mail to this run only.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return doRun(cmd, runner.Options{Ingest: runIngest, DryRun: runDryRun})
	},
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Fetch mail and show what a run would do, without saving",
	RunE: func(cmd *cobra.Command, args []string) error {
		return doRun(cmd, runner.Options{Ingest: true, DryRun: true})
	},
}

func init() {
	runCmd.Flags().BoolVar(&runIngest, "ingest", false, "Fetch configured mail sources first")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Compute the result without saving")
	for _, c := range []*cobra.Command{runCmd, ingestCmd} {
		c.Flags().StringSliceVar(&mboxFiles, "mbox", nil, "Extra mbox file(s) to read")
		c.Flags().StringSliceVar(&emlDirs, "eml", nil, "Extra directories of .eml files to read")
	}
}

func doRun(cmd *cobra.Command, opts runner.Options) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	extra, err := readLocalMail(ctx)
	if err != nil {
		return err
	}
	opts.Messages = extra

	res, err := e.runner().Run(ctx, opts)
	if err != nil {
		return err
	}
	logger.Info("run complete",
		zap.String("run_id", res.ID),
		zap.Int("version", res.Version),
		zap.Bool("dry_run", res.DryRun),
	)

	out := cmd.OutOrStdout()
	if res.DryRun {
		fmt.Fprintln(out, "dry run: nothing was saved")
	} else {
		fmt.Fprintf(out, "snapshot version %d saved\n", res.Version)
	}
	printSummary(out, res.Summary)
	return nil
}

func readLocalMail(ctx context.Context) ([]ingest.Message, error) {
	var sources []ingest.Source
	for _, p := range mboxFiles {
		sources = append(sources, ingest.NewMboxSource(p, logger))
	}
	for _, d := range emlDirs {
		sources = append(sources, ingest.NewDirSource(d, logger))
	}
	if len(sources) == 0 {
		return nil, nil
	}
	fetched, err := ingest.FetchAll(ctx, logger, 0, sources...)
	if err != nil {
		return nil, err
	}
	if len(fetched.Failed) > 0 {
		return nil, fmt.Errorf("read local mail: %w", fetched.Failed[0])
	}
	return fetched.Messages, nil
}
