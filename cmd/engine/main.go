package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"contactsignal-engine/internal/config"
	"contactsignal-engine/internal/runner"
	"contactsignal-engine/internal/store"
)

const dataDirEnv = "CONTACTSIGNAL_DATA_DIR"

var (
	dataDir string
	cfgPath string
	verbose bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "engine",
	Short: "Contact signal extraction and classification engine",
	Long: `engine turns a mailbox into a curated contact snapshot.

It reads mail (IMAP, mbox or .eml), extracts signature signals, scores
their quality, classifies each contact and reconciles the result against
the curation lists before saving the snapshot.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zc := zap.NewProductionConfig()
		if verbose {
			zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zc.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	def := os.Getenv(dataDirEnv)
	if def == "" {
		def = "."
	}
	rootCmd.PersistentFlags().StringVarP(&dataDir, "data-dir", "d", def, "Data directory (env "+dataDirEnv+")")
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "Config file (default: <data-dir>/config.yml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(reviewCmd)
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// engineEnv is everything a command needs from the data dir.
type engineEnv struct {
	dataDir       string
	cfgPath       string
	overridesPath string
	cfgVal        atomic.Value // config.Config
	db            *store.DB
	log           *zap.Logger
}

func openEnv() (*engineEnv, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}
	e := &engineEnv{
		dataDir:       dataDir,
		cfgPath:       cfgPath,
		overridesPath: filepath.Join(dataDir, "overrides.yml"),
		log:           logger,
	}
	if e.cfgPath == "" {
		p, err := config.EnsureUserConfig(dataDir, filepath.Join("config", "config.yml"))
		if err != nil {
			return nil, fmt.Errorf("config bootstrap: %w", err)
		}
		e.cfgPath = p
	}
	cfg, err := e.loadCfg()
	if err != nil {
		return nil, fmt.Errorf("config load (%s): %w", e.cfgPath, err)
	}
	e.cfgVal.Store(cfg)

	db, err := store.Open(runner.LedgerPath(dataDir))
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	e.db = db
	return e, nil
}

func (e *engineEnv) loadCfg() (config.Config, error) {
	return config.LoadFrom(e.cfgPath, e.overridesPath)
}

func (e *engineEnv) cfg() config.Config { return e.cfgVal.Load().(config.Config) }

func (e *engineEnv) runner() *runner.Runner {
	return runner.New(e.dataDir, e.db, e.cfg, nil, e.log)
}

func (e *engineEnv) Close() {
	if e.db != nil {
		_ = e.db.Close()
	}
}
