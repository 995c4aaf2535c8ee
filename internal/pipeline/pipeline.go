// Package pipeline runs one enrichment batch: per-contact extraction, scoring
// and classification fan out over a bounded worker pool, then a single writer
// merges the results into a copy of the snapshot and runs the reconciler.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"contactsignal-engine/internal/classify"
	"contactsignal-engine/internal/config"
	"contactsignal-engine/internal/domain"
	"contactsignal-engine/internal/extract"
	"contactsignal-engine/internal/quality"
	"contactsignal-engine/internal/reconcile"
	"contactsignal-engine/internal/sanitize"
)

const defaultMaxSamples = 5

var errInvalidAddress = errors.New("not an email address")

type Options struct {
	Workers    int
	MaxSamples int
}

// Input is the loaded snapshot plus the evidence gathered by ingestion.
// Held carries counters of contacts curated out by earlier runs; a held
// contact is the base for new evidence when the snapshot lacks it. None of
// these are modified by Run.
type Input struct {
	Snapshot domain.ContactSet
	Held     domain.ContactSet
	Corpus   domain.Corpus
}

type Output struct {
	reconcile.Result
	Report Report
}

type Pipeline struct {
	log  *zap.Logger
	opts Options

	ex *extract.Extractor
	sc *quality.Scorer
	cl *classify.Classifier
	rc *reconcile.Reconciler

	now          func() time.Time
	beforeEnrich func(email string)
}

// New wires the rule tables from cfg.
func New(cfg config.Config, log *zap.Logger) (*Pipeline, error) {
	if log == nil {
		log = zap.NewNop()
	}
	cl, err := classify.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("build classifier: %w", err)
	}
	ex := extract.FromConfig(cfg)
	return &Pipeline{
		log: log.Named("pipeline"),
		opts: Options{
			Workers:    cfg.Pipeline.Workers,
			MaxSamples: cfg.Pipeline.MaxSamples,
		},
		ex:  ex,
		sc:  quality.New(ex),
		cl:  cl,
		rc:  reconcile.New(cfg.Overrides),
		now: time.Now,
	}, nil
}

// BeforeEnrich installs fn to run ahead of each contact's enrichment, inside
// the per-contact recover.
func (p *Pipeline) BeforeEnrich(fn func(email string)) { p.beforeEnrich = fn }

type enrichment struct {
	email   string
	contact *domain.Contact
	samples []domain.QualityLabel
	err     error
}

// Run processes every contact in the snapshot or the corpus. Per-contact
// failures are recorded in the report; only cancellation aborts the batch.
func (p *Pipeline) Run(ctx context.Context, in Input) (Output, error) {
	start := p.now()
	corpus := normalizeCorpus(in.Corpus)
	emails := unionKeys(in.Snapshot, corpus)

	p.log.Info("run started",
		zap.Int("snapshot_contacts", len(in.Snapshot)),
		zap.Int("corpus_contacts", len(corpus)),
		zap.Int("workers", p.workers()),
	)

	results := make([]enrichment, len(emails))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers())
	for i, email := range emails {
		i, email := i, email
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = p.safeEnrich(email, in.base(email), corpus[email])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Output{}, fmt.Errorf("pipeline: %w", err)
	}

	// Single writer from here on.
	merged := in.Snapshot.Clone()
	if merged == nil {
		merged = domain.ContactSet{}
	}
	rep := newReport(start)
	rep.ContactsIn = len(in.Snapshot)
	rep.CorpusContacts = len(corpus)

	for _, r := range results {
		if r.err != nil {
			p.log.Warn("contact failed", zap.String("email", r.email), zap.Error(r.err))
			rep.Failures = append(rep.Failures, Failure{Email: r.email, Error: r.err.Error()})
			continue
		}
		rep.Processed++
		for _, l := range r.samples {
			rep.SampleQuality[string(l)]++
		}
		merged.Put(r.contact)
	}

	res := p.rc.Reconcile(merged)
	rep.fill(res)
	rep.DurationMS = p.now().Sub(start).Milliseconds()

	p.log.Info("run complete",
		zap.Int("contacts_out", rep.ContactsOut),
		zap.Int("removed", len(res.Removed)),
		zap.Int("groups", len(res.Groups)),
		zap.Int("review", len(res.Review)),
		zap.Int("failures", len(rep.Failures)),
		zap.Int64("duration_ms", rep.DurationMS),
	)
	return Output{Result: res, Report: rep}, nil
}

func (in Input) base(email string) *domain.Contact {
	if c := in.Snapshot[email]; c != nil {
		return c
	}
	return in.Held[email]
}

func (p *Pipeline) safeEnrich(email string, base *domain.Contact, ev *domain.Evidence) (out enrichment) {
	defer func() {
		if rec := recover(); rec != nil {
			out = enrichment{email: email, err: fmt.Errorf("panic: %v", rec)}
		}
	}()
	if p.beforeEnrich != nil {
		p.beforeEnrich(email)
	}
	c, labels, err := p.enrich(email, base, ev)
	return enrichment{email: email, contact: c, samples: labels, err: err}
}

// enrich builds the updated contact from a private clone of base.
func (p *Pipeline) enrich(email string, base *domain.Contact, ev *domain.Evidence) (*domain.Contact, []domain.QualityLabel, error) {
	local, _, ok := domain.SplitEmail(email)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", errInvalidAddress, email)
	}

	c := base.Clone()
	if c == nil {
		c = &domain.Contact{Email: email, NameSource: domain.NameNone}
	}

	var fresh []domain.Sample
	if ev != nil {
		for _, s := range ev.Samples {
			if t := sanitize.Text(s.Text); t != "" {
				fresh = append(fresh, domain.Sample{Text: t, At: s.At})
			}
		}
		sort.SliceStable(fresh, func(i, j int) bool { return fresh[i].At.After(fresh[j].At) })

		c.Stats.Sent += ev.Sent
		c.Stats.Received += ev.Received
		c.Stats.EmailsProcessed += ev.Sent + ev.Received
		if !ev.FirstSeen.IsZero() && (c.Stats.FirstSeen.IsZero() || ev.FirstSeen.Before(c.Stats.FirstSeen)) {
			c.Stats.FirstSeen = ev.FirstSeen
		}
		if ev.LastSeen.After(c.Stats.LastSeen) {
			c.Stats.LastSeen = ev.LastSeen
		}
		c.UpdatedAt = p.now().UTC()
	}

	c.SampleSignatures = boundSamples(fresh, c.SampleSignatures, p.maxSamples())

	// Extraction never depends on the quality label.
	var labels []domain.QualityLabel
	for _, s := range fresh {
		labels = append(labels, p.sc.Score(s.Text).Label)
	}
	c.Signals = c.Signals.Merge(p.ex.ExtractAll(c.SampleSignatures))
	all := append([]domain.QualityLabel{c.SignatureQuality}, labels...)
	c.SignatureQuality = quality.Best(append(all, p.kept(c)...))

	var display []string
	if ev != nil {
		display = ev.DisplayNames
	}
	upgradeName(c, display, local)

	p.cl.Apply(c)
	return c, labels, nil
}

// kept scores the retained samples so the contact label reflects what is stored.
func (p *Pipeline) kept(c *domain.Contact) []domain.QualityLabel {
	out := make([]domain.QualityLabel, 0, len(c.SampleSignatures))
	for _, s := range c.SampleSignatures {
		out = append(out, p.sc.Score(s).Label)
	}
	return out
}

func (p *Pipeline) workers() int {
	if p.opts.Workers <= 0 {
		return 1
	}
	return p.opts.Workers
}

func (p *Pipeline) maxSamples() int {
	if p.opts.MaxSamples <= 0 {
		return defaultMaxSamples
	}
	return p.opts.MaxSamples
}

// boundSamples puts fresh samples (newest first) ahead of the stored ones,
// drops exact repeats and caps the list.
func boundSamples(fresh []domain.Sample, stored []string, max int) []string {
	seen := map[string]bool{}
	var out []string
	add := func(s string) {
		if len(out) >= max || s == "" || seen[s] {
			return
		}
		seen[s] = true
		out = append(out, s)
	}
	for _, s := range fresh {
		add(s.Text)
	}
	for _, s := range stored {
		add(s)
	}
	return out
}

func unionKeys(snap domain.ContactSet, corpus domain.Corpus) []string {
	set := map[string]bool{}
	for k := range snap {
		set[k] = true
	}
	for k := range corpus {
		set[k] = true
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// normalizeCorpus rekeys evidence by canonical address, folding duplicates.
func normalizeCorpus(in domain.Corpus) domain.Corpus {
	out := make(domain.Corpus, len(in))
	keys := make([]string, 0, len(in))
	for k := range in {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		ev := in[k]
		if ev == nil {
			continue
		}
		key := domain.NormalizeEmail(k)
		cur, ok := out[key]
		if !ok {
			cp := *ev
			cp.Email = key
			out[key] = &cp
			continue
		}
		merged := *cur
		merged.DisplayNames = append(append([]string(nil), cur.DisplayNames...), ev.DisplayNames...)
		merged.Samples = append(append([]domain.Sample(nil), cur.Samples...), ev.Samples...)
		merged.Sent += ev.Sent
		merged.Received += ev.Received
		if !ev.FirstSeen.IsZero() && (merged.FirstSeen.IsZero() || ev.FirstSeen.Before(merged.FirstSeen)) {
			merged.FirstSeen = ev.FirstSeen
		}
		if ev.LastSeen.After(merged.LastSeen) {
			merged.LastSeen = ev.LastSeen
		}
		out[key] = &merged
	}
	return out
}
