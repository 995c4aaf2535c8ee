package config

import (
	"fmt"
	"strings"
)

type Validation struct {
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

func (v *Validation) addErr(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}
func (v *Validation) addWarn(format string, args ...any) {
	v.Warnings = append(v.Warnings, fmt.Sprintf(format, args...))
}
func (v Validation) OK() bool { return len(v.Errors) == 0 }

// NormalizeAndValidate returns a normalized copy plus errors and warnings.
func NormalizeAndValidate(cfg Config) (Config, Validation) {
	var out = cfg
	var res Validation

	trimList := func(xs []string, lower bool) []string {
		seen := map[string]bool{}
		var ys []string
		for _, x := range xs {
			x = strings.TrimSpace(x)
			if x == "" {
				continue
			}
			key := strings.ToLower(x)
			if seen[key] {
				continue
			}
			seen[key] = true
			if lower {
				x = key
			}
			ys = append(ys, x)
		}
		return ys
	}

	out.Email.Mailboxes = trimList(out.Email.Mailboxes, false)
	out.Email.Owners = trimList(out.Email.Owners, true)
	out.Email.MboxPaths = trimList(out.Email.MboxPaths, false)
	out.Email.EMLDirs = trimList(out.Email.EMLDirs, false)
	out.Extract.Titles = trimList(out.Extract.Titles, true)
	out.Extract.CompanyKeywords = trimList(out.Extract.CompanyKeywords, true)
	out.Classify.RolePrefixes = trimList(out.Classify.RolePrefixes, true)

	rules := make([]Rule, len(out.Classify.Rules))
	for i, r := range out.Classify.Rules {
		r.Name = strings.TrimSpace(r.Name)
		r.Domains = trimList(r.Domains, true)
		r.Any = trimList(r.Any, true)
		rules[i] = r
	}
	out.Classify.Rules = rules

	out.Overrides.Orgs = append([]OrgAllowlist(nil), out.Overrides.Orgs...)
	for i := range out.Overrides.Orgs {
		out.Overrides.Orgs[i].Domain = strings.ToLower(strings.TrimSpace(out.Overrides.Orgs[i].Domain))
		out.Overrides.Orgs[i].Keep = trimList(out.Overrides.Orgs[i].Keep, false)
	}

	// ---- Validation rules ----

	if err := Validate(out); err != nil {
		for _, line := range strings.Split(err.Error(), "\n- ")[1:] {
			res.addErr("%s", line)
		}
	}

	if out.Pipeline.Workers == 0 {
		res.addWarn("pipeline.workers is 0; the pipeline will use one worker.")
	}
	if out.Pipeline.SignatureLines == 0 {
		res.addWarn("pipeline.signature_lines is 0; signatures are only taken after a '-- ' delimiter.")
	}
	if len(out.Classify.Rules) == 0 {
		res.addWarn("classify.rules is empty; every contact will be classified unknown.")
	}
	if len(out.Extract.Titles) == 0 {
		res.addWarn("extract.titles is empty; no job titles will be extracted.")
	}

	// email required fields if enabled (password not required here; it's in keychain)
	if out.Email.Enabled {
		if strings.TrimSpace(out.Email.IMAPHost) == "" {
			res.addErr("email.imap_host is required when email.enabled=true")
		}
		if out.Email.IMAPPort == 0 {
			res.addErr("email.imap_port is required when email.enabled=true")
		}
		if strings.TrimSpace(out.Email.Username) == "" {
			res.addErr("email.username is required when email.enabled=true")
		}
		if len(out.Email.Mailboxes) == 0 {
			res.addErr("email.mailboxes must list at least one mailbox when email.enabled=true")
		}
	}
	if len(out.Email.Owners) == 0 {
		res.addWarn("email.owner_addresses is empty; message direction (sent/received) cannot be determined.")
	}

	// simple conflict check
	denySet := map[string]bool{}
	for _, d := range out.Overrides.Deny {
		denySet[strings.ToLower(strings.TrimSpace(d.Match))] = true
	}
	for _, k := range out.Overrides.Keep {
		if denySet[strings.ToLower(strings.TrimSpace(k.Match))] {
			res.addWarn("override appears in both keep and deny: %q", k.Match)
		}
	}

	return out, res
}
