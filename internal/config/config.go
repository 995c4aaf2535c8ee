// internal/config/config.go
package config

import (
	_ "embed"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed default.yml
var defaultYAML []byte

// Rule is one row of the classification table. Domains match exactly,
// Any matches as a substring of the sender domain.
type Rule struct {
	Name               string   `yaml:"name" json:"name"`
	Category           string   `yaml:"category" json:"category"`
	Relationship       string   `yaml:"relationship" json:"relationship"`
	Domains            []string `yaml:"domains,omitempty" json:"domains,omitempty"`
	Any                []string `yaml:"any,omitempty" json:"any,omitempty"`
	RequiresEngagement bool     `yaml:"requires_engagement,omitempty" json:"requires_engagement,omitempty"`
}

// Override force-keeps or denies contacts whose field contains Match.
// Field is one of email, name, local (defaults to email).
type Override struct {
	Match        string `yaml:"match" json:"match"`
	Field        string `yaml:"field,omitempty" json:"field,omitempty"`
	Category     string `yaml:"category,omitempty" json:"category,omitempty"`
	Relationship string `yaml:"relationship,omitempty" json:"relationship,omitempty"`
	Reason       string `yaml:"reason,omitempty" json:"reason,omitempty"`
}

// OrgAllowlist retains only the named individuals of an organization domain.
type OrgAllowlist struct {
	Domain string   `yaml:"domain" json:"domain"`
	Keep   []string `yaml:"keep" json:"keep"`
}

type Overrides struct {
	Keep []Override     `yaml:"keep,omitempty" json:"keep,omitempty"`
	Deny []Override     `yaml:"deny,omitempty" json:"deny,omitempty"`
	Orgs []OrgAllowlist `yaml:"org_allowlists,omitempty" json:"org_allowlists,omitempty"`
}

type Config struct {
	App struct {
		Port    int    `yaml:"port" json:"port"`
		DataDir string `yaml:"data_dir" json:"data_dir"`
	} `yaml:"app" json:"app"`

	Polling struct {
		RunMinutes int    `yaml:"run_minutes" json:"run_minutes"`
		Cron       string `yaml:"cron,omitempty" json:"cron,omitempty"`
	} `yaml:"polling" json:"polling"`

	Email struct {
		Enabled        bool     `yaml:"enabled" json:"enabled"`
		IMAPHost       string   `yaml:"imap_host" json:"imap_host"`
		IMAPPort       int      `yaml:"imap_port" json:"imap_port"`
		Username       string   `yaml:"username" json:"username"`
		Mailboxes      []string `yaml:"mailboxes" json:"mailboxes"`
		Owners         []string `yaml:"owner_addresses" json:"owner_addresses"`
		SinceDays      int      `yaml:"since_days" json:"since_days"`
		FetchBatch     int      `yaml:"fetch_batch" json:"fetch_batch"`
		FetchPerSecond float64  `yaml:"fetch_per_second" json:"fetch_per_second"`
		MboxPaths      []string `yaml:"mbox_paths" json:"mbox_paths"`
		EMLDirs        []string `yaml:"eml_dirs" json:"eml_dirs"`
	} `yaml:"email" json:"email"`

	Pipeline struct {
		Workers        int `yaml:"workers" json:"workers"`
		SignatureLines int `yaml:"signature_lines" json:"signature_lines"`
		MaxSamples     int `yaml:"max_samples" json:"max_samples"`
	} `yaml:"pipeline" json:"pipeline"`

	Extract struct {
		Titles          []string `yaml:"titles" json:"titles"`
		CompanyKeywords []string `yaml:"company_keywords" json:"company_keywords"`
	} `yaml:"extract" json:"extract"`

	Classify struct {
		Rules        []Rule   `yaml:"rules" json:"rules"`
		RolePrefixes []string `yaml:"role_prefixes" json:"role_prefixes"`
	} `yaml:"classify" json:"classify"`

	Overrides Overrides `yaml:"overrides" json:"overrides"`
}

func Load(path string) (Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	err = yaml.Unmarshal(b, &cfg)
	return cfg, err
}

// Default returns the built-in configuration shipped with the engine.
func Default() Config {
	var cfg Config
	if err := yaml.Unmarshal(defaultYAML, &cfg); err != nil {
		panic("config: embedded default.yml is invalid: " + err.Error())
	}
	return cfg
}
