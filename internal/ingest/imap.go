package ingest

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"contactsignal-engine/internal/domain"
)

type IMAPConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	Mailboxes []string
	Since     time.Time
	Batch     int
	PerSecond float64
	TLS       *tls.Config
}

// IMAPSource reads mailboxes without changing them: every select is
// read-only and bodies are fetched with BODY.PEEK[] so \Seen is never set.
type IMAPSource struct {
	cfg IMAPConfig
	lim *rate.Limiter
	log *zap.Logger
}

func NewIMAPSource(cfg IMAPConfig, log *zap.Logger) *IMAPSource {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 100
	}
	if len(cfg.Mailboxes) == 0 {
		cfg.Mailboxes = []string{"INBOX"}
	}
	limit := rate.Inf
	if cfg.PerSecond > 0 {
		limit = rate.Limit(cfg.PerSecond)
	}
	return &IMAPSource{cfg: cfg, lim: rate.NewLimiter(limit, 1), log: log}
}

func (s *IMAPSource) Name() string { return "imap:" + s.cfg.Username }

func (s *IMAPSource) Fetch(ctx context.Context) ([]Message, error) {
	c, err := s.dial(ctx)
	if err != nil {
		return nil, err
	}
	stop := make(chan struct{})
	defer close(stop)
	// Best-effort close on context cancel.
	go func() {
		select {
		case <-ctx.Done():
			_ = c.Close()
		case <-stop:
		}
	}()
	defer func() {
		if err := c.Logout().Wait(); err != nil {
			s.log.Debug("imap logout", zap.Error(err))
		}
		_ = c.Close()
	}()

	var out []Message
	for _, mbox := range s.cfg.Mailboxes {
		msgs, err := s.fetchMailbox(ctx, c, mbox)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.log.Warn("mailbox skipped", zap.String("mailbox", mbox), zap.Error(err))
			continue
		}
		s.log.Debug("mailbox fetched", zap.String("mailbox", mbox), zap.Int("messages", len(msgs)))
		out = append(out, msgs...)
	}
	return out, nil
}

func (s *IMAPSource) dial(ctx context.Context) (*imapclient.Client, error) {
	if s.cfg.Host == "" {
		return nil, errors.New("imap host is required")
	}
	if s.cfg.Username == "" || s.cfg.Password == "" {
		return nil, errors.New("imap username/password is required")
	}
	tlsCfg := s.cfg.TLS
	if tlsCfg == nil {
		tlsCfg = &tls.Config{MinVersion: tls.VersionTLS12, ServerName: s.cfg.Host}
	}
	port := s.cfg.Port
	if port == 0 {
		port = 993
	}
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(port))

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := imapclient.DialTLS(addr, &imapclient.Options{TLSConfig: tlsCfg})
	if err != nil {
		return nil, fmt.Errorf("imap dial tls: %w", err)
	}
	if err := c.Login(s.cfg.Username, s.cfg.Password).Wait(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("imap login: %w", err)
	}
	return c, nil
}

func (s *IMAPSource) fetchMailbox(ctx context.Context, c *imapclient.Client, mbox string) ([]Message, error) {
	if _, err := c.Select(mbox, &imap.SelectOptions{ReadOnly: true}).Wait(); err != nil {
		return nil, fmt.Errorf("imap select %q: %w", mbox, err)
	}

	criteria := &imap.SearchCriteria{}
	if !s.cfg.Since.IsZero() {
		criteria.Since = s.cfg.Since
	}
	data, err := c.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("imap uid search: %w", err)
	}
	uids := data.AllUIDs()

	source := "imap:" + mbox
	var out []Message
	for start := 0; start < len(uids); start += s.cfg.Batch {
		end := min(start+s.cfg.Batch, len(uids))
		if err := s.lim.Wait(ctx); err != nil {
			return nil, err
		}
		msgs, err := s.fetchChunk(ctx, c, uids[start:end], source)
		if err != nil {
			return nil, err
		}
		out = append(out, msgs...)
	}
	return out, nil
}

func (s *IMAPSource) fetchChunk(ctx context.Context, c *imapclient.Client, uids []imap.UID, source string) ([]Message, error) {
	bodyAll := &imap.FetchItemBodySection{
		Specifier: imap.PartSpecifierNone,
		Peek:      true,
	}
	fetchCmd := c.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
		UID:          true,
		Envelope:     true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{bodyAll},
	})
	defer func() { _ = fetchCmd.Close() }()

	out := make([]Message, 0, len(uids))
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		msgData := fetchCmd.Next()
		if msgData == nil {
			break
		}
		buf, err := msgData.Collect()
		if err != nil {
			return nil, fmt.Errorf("imap fetch collect: %w", err)
		}
		raw := buf.FindBodySection(bodyAll)
		if len(raw) == 0 {
			continue
		}

		m, err := ParseMessage(append([]byte(nil), raw...), source)
		if errors.Is(err, ErrNoSender) && buf.Envelope != nil {
			m.From = envelopeAddrs(buf.Envelope.From)
			err = nil
			if len(m.From) == 0 {
				err = ErrNoSender
			}
		}
		if err != nil {
			s.log.Debug("skipping message", zap.Uint32("uid", uint32(buf.UID)), zap.Error(err))
			continue
		}
		if m.Date.IsZero() {
			m.Date = buf.InternalDate.UTC()
		}
		out = append(out, m)
	}

	if err := fetchCmd.Close(); err != nil {
		return nil, fmt.Errorf("imap fetch close: %w", err)
	}
	return out, nil
}

func envelopeAddrs(addrs []imap.Address) []Address {
	out := make([]Address, 0, len(addrs))
	for i := range addrs {
		a := &addrs[i]
		email := domain.NormalizeEmail(a.Addr())
		if email == "" {
			continue
		}
		out = append(out, Address{Name: strings.TrimSpace(a.Name), Email: email})
	}
	return out
}
