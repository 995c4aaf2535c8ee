package ingest

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"contactsignal-engine/internal/config"
	"contactsignal-engine/internal/domain"
	"contactsignal-engine/internal/sanitize"
	"contactsignal-engine/internal/store"
)

// Ledger remembers which Message-IDs earlier runs counted for each contact.
type Ledger interface {
	MessageSeen(ctx context.Context, messageID, email string) (bool, error)
}

type BuildStats struct {
	Messages   int `json:"messages"`
	Inbound    int `json:"inbound"`
	Outbound   int `json:"outbound"`
	Duplicates int `json:"duplicates"`
	Skipped    int `json:"skipped"`
}

// Builder folds messages into per-contact evidence. Owner addresses decide
// direction: mail from an owner counts as sent to each recipient, anything
// else counts as received from its sender.
type Builder struct {
	owners   map[string]bool
	sigLines int
	ledger   Ledger
	log      *zap.Logger

	seen    map[string]bool
	pending []store.SeenMessage
	corpus  domain.Corpus
	stats   BuildStats
}

// NewBuilder creates a builder. ledger may be nil, in which case duplicates
// are only detected within this builder.
func NewBuilder(owners []string, sigLines int, ledger Ledger, log *zap.Logger) *Builder {
	if log == nil {
		log = zap.NewNop()
	}
	b := &Builder{
		owners:   map[string]bool{},
		sigLines: sigLines,
		ledger:   ledger,
		log:      log.Named("ingest"),
		seen:     map[string]bool{},
		corpus:   domain.Corpus{},
	}
	for _, o := range owners {
		if o = domain.NormalizeEmail(o); o != "" {
			b.owners[o] = true
		}
	}
	return b
}

func BuilderFromConfig(cfg config.Config, ledger Ledger, log *zap.Logger) *Builder {
	return NewBuilder(cfg.Email.Owners, cfg.Pipeline.SignatureLines, ledger, log)
}

// Add applies one message. A Message-ID is counted at most once per contact;
// new (id, contact) pairs are held in Pending until the caller commits them.
func (b *Builder) Add(ctx context.Context, m Message) error {
	if len(m.From) == 0 {
		b.stats.Skipped++
		return nil
	}
	from := m.From[0]
	outbound := b.owners[from.Email]

	var targets []string
	if outbound {
		for _, rcpt := range append(append([]Address(nil), m.To...), m.Cc...) {
			if b.owners[rcpt.Email] {
				continue
			}
			if email, ok := contactEmail(rcpt.Email); ok && !slices.Contains(targets, email) {
				targets = append(targets, email)
			}
		}
	} else if email, ok := contactEmail(from.Email); ok {
		targets = append(targets, email)
	}

	fresh, dup, err := b.freshContacts(ctx, m, targets)
	if err != nil {
		return err
	}
	if dup {
		b.stats.Duplicates++
		return nil
	}
	b.stats.Messages++

	if outbound {
		b.stats.Outbound++
		for _, email := range fresh {
			ev := b.evidence(email)
			ev.Sent++
			touch(ev, m.Date)
		}
		return nil
	}

	if len(fresh) == 0 {
		b.stats.Skipped++
		return nil
	}
	ev := b.evidence(fresh[0])
	b.stats.Inbound++
	ev.Received++
	touch(ev, m.Date)
	if from.Name != "" {
		ev.DisplayNames = append(ev.DisplayNames, from.Name)
	}
	if sig := sanitize.Signature(sanitize.Body(m.Raw), b.sigLines); strings.TrimSpace(sig) != "" {
		ev.Samples = append(ev.Samples, domain.Sample{Text: sig, At: m.Date})
	}
	return nil
}

// AddAll applies msgs in order and stops at the first ledger error.
func (b *Builder) AddAll(ctx context.Context, msgs []Message) error {
	for _, m := range msgs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := b.Add(ctx, m); err != nil {
			return err
		}
	}
	b.log.Info("corpus built",
		zap.Int("contacts", len(b.corpus)),
		zap.Int("messages", b.stats.Messages),
		zap.Int("duplicates", b.stats.Duplicates),
		zap.Int("skipped", b.stats.Skipped),
	)
	return nil
}

func (b *Builder) Corpus() domain.Corpus { return b.corpus }

func (b *Builder) Stats() BuildStats { return b.stats }

// Pending lists the (Message-ID, contact) pairs counted by this builder that
// the ledger does not know yet.
func (b *Builder) Pending() []store.SeenMessage { return b.pending }

// freshContacts returns the targets this message has not been counted for.
// dup is set when the message carries an id and nothing is left to count.
// Messages without an id are always fresh and never reach the ledger.
func (b *Builder) freshContacts(ctx context.Context, m Message, targets []string) (fresh []string, dup bool, err error) {
	id := strings.ToLower(strings.Trim(strings.TrimSpace(m.ID), "<>"))
	if id == "" {
		return targets, false, nil
	}
	if len(targets) == 0 {
		key := id + "\x00"
		if b.seen[key] {
			return nil, true, nil
		}
		b.seen[key] = true
		return nil, false, nil
	}
	for _, email := range targets {
		key := id + "\x00" + email
		if b.seen[key] {
			continue
		}
		b.seen[key] = true
		if b.ledger != nil {
			known, err := b.ledger.MessageSeen(ctx, id, email)
			if err != nil {
				return nil, false, fmt.Errorf("ledger: %w", err)
			}
			if known {
				continue
			}
		}
		fresh = append(fresh, email)
		b.pending = append(b.pending, store.SeenMessage{ID: id, Email: email, Source: m.Source})
	}
	return fresh, len(fresh) == 0, nil
}

func contactEmail(email string) (string, bool) {
	email = domain.NormalizeEmail(email)
	_, _, ok := domain.SplitEmail(email)
	return email, ok
}

func (b *Builder) evidence(email string) *domain.Evidence {
	email = domain.NormalizeEmail(email)
	if _, _, ok := domain.SplitEmail(email); !ok {
		return nil
	}
	ev, ok := b.corpus[email]
	if !ok {
		ev = &domain.Evidence{Email: email}
		b.corpus[email] = ev
	}
	return ev
}

func touch(ev *domain.Evidence, at time.Time) {
	if at.IsZero() {
		return
	}
	if ev.FirstSeen.IsZero() || at.Before(ev.FirstSeen) {
		ev.FirstSeen = at
	}
	if at.After(ev.LastSeen) {
		ev.LastSeen = at
	}
}
