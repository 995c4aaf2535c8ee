package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"contactsignal-engine/internal/domain"
)

func Validate(cfg Config) error {
	var errs []string

	if cfg.App.Port <= 0 || cfg.App.Port > 65535 {
		errs = append(errs, "app.port must be 1..65535")
	}
	if cfg.Polling.RunMinutes < 0 {
		errs = append(errs, "polling.run_minutes must be >= 0")
	}
	if spec := strings.TrimSpace(cfg.Polling.Cron); spec != "" {
		if _, err := cron.ParseStandard(spec); err != nil {
			errs = append(errs, fmt.Sprintf("polling.cron: %v", err))
		}
	}
	if cfg.Pipeline.Workers < 0 {
		errs = append(errs, "pipeline.workers must be >= 0")
	}
	if cfg.Pipeline.SignatureLines < 0 {
		errs = append(errs, "pipeline.signature_lines must be >= 0")
	}
	if cfg.Pipeline.MaxSamples < 0 {
		errs = append(errs, "pipeline.max_samples must be >= 0")
	}

	// Rule helpers
	checkRules := func(name string, rules []Rule) {
		for i, r := range rules {
			if r.Name == "" {
				errs = append(errs, fmt.Sprintf("%s[%d].name is required", name, i))
			}
			if !domain.Category(r.Category).Valid() {
				errs = append(errs, fmt.Sprintf("%s[%d].category %q is not a known category", name, i, r.Category))
			}
			if !domain.RelationshipType(r.Relationship).Valid() {
				errs = append(errs, fmt.Sprintf("%s[%d].relationship %q is not a known relationship", name, i, r.Relationship))
			}
			if len(r.Domains) == 0 && len(r.Any) == 0 {
				errs = append(errs, fmt.Sprintf("%s[%d] needs at least one of domains/any", name, i))
			}
			for j, term := range r.Any {
				if strings.TrimSpace(term) == "" {
					errs = append(errs, fmt.Sprintf("%s[%d].any[%d] cannot be empty", name, i, j))
				}
			}
		}
	}

	checkOverrides := func(name string, ovs []Override) {
		for i, o := range ovs {
			if strings.TrimSpace(o.Match) == "" {
				errs = append(errs, fmt.Sprintf("%s[%d].match is required", name, i))
			}
			switch o.Field {
			case "", "email", "name", "local":
			default:
				errs = append(errs, fmt.Sprintf("%s[%d].field must be email, name or local", name, i))
			}
			if o.Category != "" && !domain.Category(o.Category).Valid() {
				errs = append(errs, fmt.Sprintf("%s[%d].category %q is not a known category", name, i, o.Category))
			}
			if o.Relationship != "" && !domain.RelationshipType(o.Relationship).Valid() {
				errs = append(errs, fmt.Sprintf("%s[%d].relationship %q is not a known relationship", name, i, o.Relationship))
			}
		}
	}

	checkRules("classify.rules", cfg.Classify.Rules)
	checkOverrides("overrides.keep", cfg.Overrides.Keep)
	checkOverrides("overrides.deny", cfg.Overrides.Deny)

	for i, org := range cfg.Overrides.Orgs {
		if strings.TrimSpace(org.Domain) == "" {
			errs = append(errs, fmt.Sprintf("overrides.org_allowlists[%d].domain is required", i))
		}
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n- " + joinLines(errs))
	}
	return nil
}

func SaveAtomic(path string, cfg Config) error {
	if err := Validate(cfg); err != nil {
		return err
	}

	b, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp := path + ".tmp"
	bak := path + ".bak"

	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}

	_ = os.Remove(bak)
	_ = os.Rename(path, bak)

	return os.Rename(tmp, path)
}

func joinLines(lines []string) string {
	return strings.Join(lines, "\n- ")
}
