package ingest

import (
	"time"

	"go.uber.org/zap"

	"contactsignal-engine/internal/config"
)

// SourcesFromConfig lists the configured sources. IMAP is included only when
// enabled and a password is available.
func SourcesFromConfig(cfg config.Config, password string, now time.Time, log *zap.Logger) []Source {
	if log == nil {
		log = zap.NewNop()
	}
	var out []Source

	if cfg.Email.Enabled {
		if password == "" {
			log.Warn("imap enabled but no password stored; skipping imap source")
		} else {
			var since time.Time
			if cfg.Email.SinceDays > 0 {
				since = now.AddDate(0, 0, -cfg.Email.SinceDays)
			}
			out = append(out, NewIMAPSource(IMAPConfig{
				Host:      cfg.Email.IMAPHost,
				Port:      cfg.Email.IMAPPort,
				Username:  cfg.Email.Username,
				Password:  password,
				Mailboxes: cfg.Email.Mailboxes,
				Since:     since,
				Batch:     cfg.Email.FetchBatch,
				PerSecond: cfg.Email.FetchPerSecond,
			}, log))
		}
	}
	for _, p := range cfg.Email.MboxPaths {
		out = append(out, NewMboxSource(p, log))
	}
	for _, d := range cfg.Email.EMLDirs {
		out = append(out, NewDirSource(d, log))
	}
	return out
}
