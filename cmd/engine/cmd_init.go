package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the config, an empty snapshot and the ledger in the data dir",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		snap := e.runner().Snapshot()
		created, err := snap.Init()
		if err != nil {
			return err
		}
		if created {
			logger.Info("snapshot created", zap.String("path", snap.Path()))
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "config:   %s\n", e.cfgPath)
		fmt.Fprintf(out, "snapshot: %s\n", snap.Path())
		if !created {
			fmt.Fprintln(out, "          (already present, left untouched)")
		}
		return nil
	},
}
