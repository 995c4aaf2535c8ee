// Package runner executes one full enrichment run against the data dir:
// lock and load the snapshot, optionally ingest new mail, run the pipeline,
// then save the snapshot and record the run in the ledger.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"contactsignal-engine/internal/config"
	"contactsignal-engine/internal/domain"
	"contactsignal-engine/internal/events"
	"contactsignal-engine/internal/ingest"
	"contactsignal-engine/internal/pipeline"
	"contactsignal-engine/internal/reconcile"
	"contactsignal-engine/internal/secrets"
	"contactsignal-engine/internal/store"
)

var ErrRunInProgress = errors.New("a run is already in progress")

const (
	SnapshotFile = "contacts.json"
	LedgerFile   = "ledger.db"
)

func SnapshotPath(dataDir string) string { return filepath.Join(dataDir, SnapshotFile) }
func LedgerPath(dataDir string) string   { return filepath.Join(dataDir, LedgerFile) }

type Options struct {
	// Ingest fetches the configured mail sources before the pipeline.
	Ingest bool
	// Messages are added to the corpus in addition to fetched mail.
	Messages []ingest.Message
	// DryRun computes the result without saving anything.
	DryRun    bool
	RequestID string
}

// Summary is what gets stored as the run report.
type Summary struct {
	pipeline.Report
	Ingest        *ingest.BuildStats `json:"ingest,omitempty"`
	FailedSources []string           `json:"failedSources,omitempty"`
}

type Result struct {
	ID        string
	RunID     int64
	Version   int
	Output    pipeline.Output
	Summary   Summary
	DryRun    bool
	StartedAt time.Time
}

// Status is the externally visible state of the runner.
type Status struct {
	Running   bool   `json:"running"`
	RunID     string `json:"run_id,omitempty"`
	LastRunAt string `json:"last_run_at,omitempty"`
	LastOkAt  string `json:"last_ok_at,omitempty"`
	LastError string `json:"last_error,omitempty"`
	Version   int    `json:"snapshot_version,omitempty"`
	Contacts  int    `json:"contacts,omitempty"`
}

type Runner struct {
	log  *zap.Logger
	snap *store.Snapshot
	db   *store.DB
	hub  *events.Hub
	cfg  func() config.Config

	Password func(config.Config) (string, error)

	mu     sync.Mutex
	status atomic.Value // Status
	now    func() time.Time

	preparePipeline func(*pipeline.Pipeline)
}

// New builds a runner. cfg is called at the start of every run so hot
// reloaded configuration takes effect. hub may be nil.
func New(dataDir string, db *store.DB, cfg func() config.Config, hub *events.Hub, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Runner{
		log:  log.Named("runner"),
		snap: store.NewSnapshot(SnapshotPath(dataDir)),
		db:   db,
		hub:  hub,
		cfg:  cfg,
		Password: func(c config.Config) (string, error) {
			return secrets.GetIMAPPassword(secrets.IMAPKeyringAccount(c))
		},
		now: time.Now,
	}
	r.status.Store(Status{})
	return r
}

func (r *Runner) Snapshot() *store.Snapshot { return r.snap }

func (r *Runner) Status() Status { return r.status.Load().(Status) }

// Run performs one run. Only one run executes at a time per runner; the
// snapshot lock extends that to other processes.
func (r *Runner) Run(ctx context.Context, opts Options) (Result, error) {
	if !r.mu.TryLock() {
		return Result{}, ErrRunInProgress
	}
	defer r.mu.Unlock()

	res := Result{ID: uuid.NewString(), DryRun: opts.DryRun, StartedAt: r.now().UTC()}
	log := r.log.With(zap.String("run_id", res.ID))

	prev := r.Status()
	r.status.Store(Status{
		Running:   true,
		RunID:     res.ID,
		LastRunAt: res.StartedAt.Format(time.RFC3339),
		LastOkAt:  prev.LastOkAt,
		Version:   prev.Version,
		Contacts:  prev.Contacts,
	})
	r.publish(opts.RequestID, events.TypeRunStarted, map[string]any{"run_id": res.ID, "dry_run": opts.DryRun})

	err := r.run(ctx, log, opts, &res)

	st := r.Status()
	st.Running = false
	if err != nil {
		st.LastError = err.Error()
		log.Error("run failed", zap.Error(err))
		r.recordFailure(res, err)
		r.publish(opts.RequestID, events.TypeRunFailed, map[string]any{"run_id": res.ID, "error": err.Error()})
	} else {
		st.LastError = ""
		st.LastOkAt = r.now().UTC().Format(time.RFC3339)
		if !opts.DryRun {
			st.Version = res.Version
		}
		st.Contacts = len(res.Output.Contacts)
		r.publish(opts.RequestID, events.TypeRunFinished, map[string]any{
			"run_id":       res.ID,
			"dry_run":      opts.DryRun,
			"version":      res.Version,
			"contacts_out": res.Summary.ContactsOut,
			"removed":      len(res.Output.Removed),
			"review":       len(res.Output.Review),
		})
	}
	r.status.Store(st)
	return res, err
}

func (r *Runner) run(ctx context.Context, log *zap.Logger, opts Options, res *Result) error {
	cfg := r.cfg()

	if err := r.snap.Lock(ctx); err != nil {
		return err
	}
	defer func() {
		if err := r.snap.Unlock(); err != nil {
			log.Warn("unlock snapshot", zap.Error(err))
		}
	}()

	cs, version, err := r.snap.Load()
	if err != nil {
		return err
	}

	var ledger ingest.Ledger
	if r.db != nil {
		ledger = r.db
	}
	b := ingest.BuilderFromConfig(cfg, ledger, log)

	var msgs []ingest.Message
	if opts.Ingest {
		fetched, err := r.fetch(ctx, log, cfg)
		if err != nil {
			return err
		}
		msgs = fetched.Messages
		for _, f := range fetched.Failed {
			res.Summary.FailedSources = append(res.Summary.FailedSources, f.Error())
		}
	}
	msgs = append(msgs, opts.Messages...)
	if err := b.AddAll(ctx, msgs); err != nil {
		return fmt.Errorf("build corpus: %w", err)
	}
	if len(msgs) > 0 {
		st := b.Stats()
		res.Summary.Ingest = &st
	}

	held, err := r.loadHeld(ctx, cs, b.Corpus())
	if err != nil {
		return fmt.Errorf("load held contacts: %w", err)
	}

	p, err := pipeline.New(cfg, log)
	if err != nil {
		return err
	}
	if r.preparePipeline != nil {
		r.preparePipeline(p)
	}
	out, err := p.Run(ctx, pipeline.Input{Snapshot: cs, Held: held, Corpus: b.Corpus()})
	if err != nil {
		return err
	}
	res.Output = out
	res.Summary.Report = out.Report
	res.Version = version

	if opts.DryRun {
		log.Info("dry run complete", zap.Int("contacts_out", out.Report.ContactsOut))
		return nil
	}

	nv, err := r.snap.Save(out.Contacts, version)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	res.Version = nv
	log.Info("snapshot saved", zap.Int("version", nv), zap.Int("contacts", len(out.Contacts)))

	if r.db == nil {
		return nil
	}
	// The snapshot is the source of truth; ledger failures below are logged
	// so a later run can still proceed.
	commit := ledgerCommit(b.Pending(), held, out)
	if err := store.CommitLedger(ctx, r.db.Pool, commit); err != nil {
		log.Error("commit message ledger", zap.Error(err))
	} else if len(commit.Hold) > 0 || len(commit.Release) > 0 {
		log.Info("held contacts updated", zap.Int("held", len(commit.Hold)), zap.Int("released", len(commit.Release)))
	}
	report, _ := json.Marshal(res.Summary)
	runID, err := store.InsertRun(ctx, r.db.Pool, store.Run{
		StartedAt:       res.StartedAt,
		FinishedAt:      r.now().UTC(),
		Status:          store.RunOK,
		SnapshotVersion: nv,
		Report:          report,
	})
	if err != nil {
		log.Error("record run", zap.Error(err))
		return nil
	}
	res.RunID = runID
	if err := store.ReplaceReviewQueue(ctx, r.db.Pool, runID, out.Review); err != nil {
		log.Error("store review queue", zap.Error(err))
	}
	return nil
}

// loadHeld returns the held records for corpus contacts missing from the
// snapshot.
func (r *Runner) loadHeld(ctx context.Context, cs domain.ContactSet, corpus domain.Corpus) (domain.ContactSet, error) {
	if r.db == nil {
		return domain.ContactSet{}, nil
	}
	var emails []string
	for email := range corpus {
		if _, ok := cs[email]; !ok {
			emails = append(emails, email)
		}
	}
	return store.LoadHeld(ctx, r.db.Pool, emails)
}

// ledgerCommit decides what the ledger learns from a saved run. Ids counted
// for a contact whose enrichment failed stay uncommitted so the next run
// counts them again. Zero-engagement removals are held with their counters;
// held contacts that left that state are released.
func ledgerCommit(pending []store.SeenMessage, held domain.ContactSet, out pipeline.Output) store.LedgerCommit {
	failed := map[string]bool{}
	for _, f := range out.Report.Failures {
		failed[f.Email] = true
	}

	var c store.LedgerCommit
	for _, m := range pending {
		if !failed[domain.NormalizeEmail(m.Email)] {
			c.Seen = append(c.Seen, m)
		}
	}

	rehold := map[string]bool{}
	for _, rm := range out.Removed {
		if rm.Reason != reconcile.ReasonZeroEngagement {
			continue
		}
		if contact := out.Curated[rm.Email]; contact != nil {
			c.Hold = append(c.Hold, store.Held{Contact: contact, Reason: rm.Reason})
			rehold[rm.Email] = true
		}
	}
	for _, email := range held.Emails() {
		if !failed[email] && !rehold[email] {
			c.Release = append(c.Release, email)
		}
	}
	return c
}

func (r *Runner) fetch(ctx context.Context, log *zap.Logger, cfg config.Config) (ingest.Fetched, error) {
	var password string
	if cfg.Email.Enabled && r.Password != nil {
		pw, err := r.Password(cfg)
		if err != nil {
			log.Warn("imap password unavailable", zap.Error(err))
		}
		password = pw
	}
	sources := ingest.SourcesFromConfig(cfg, password, r.now(), log)
	if len(sources) == 0 {
		log.Info("no mail sources configured")
		return ingest.Fetched{}, nil
	}
	return ingest.FetchAll(ctx, log, 10*time.Minute, sources...)
}

func (r *Runner) recordFailure(res Result, runErr error) {
	if r.db == nil || res.DryRun {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := store.InsertRun(ctx, r.db.Pool, store.Run{
		StartedAt:  res.StartedAt,
		FinishedAt: r.now().UTC(),
		Status:     store.RunFailed,
		Error:      runErr.Error(),
	}); err != nil {
		r.log.Error("record failed run", zap.Error(err))
	}
}

func (r *Runner) publish(reqID, typ string, data any) {
	if r.hub == nil {
		return
	}
	r.hub.Publish(events.MakeEvent(reqID, typ, 1, data))
}

// Contacts loads the current snapshot without taking the writer lock.
func (r *Runner) Contacts() (domain.ContactSet, int, error) {
	return r.snap.Load()
}
