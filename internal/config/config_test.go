package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, Validate(cfg))

	_, vr := NormalizeAndValidate(cfg)
	assert.True(t, vr.OK(), "errors: %v", vr.Errors)
	assert.Contains(t, vr.Warnings, "email.owner_addresses is empty; message direction (sent/received) cannot be determined.")
}

func TestValidate_CollectsErrors(t *testing.T) {
	cfg := Default()
	cfg.App.Port = 0
	cfg.Polling.Cron = "every tuesday"
	cfg.Classify.Rules = append(cfg.Classify.Rules, Rule{Name: "bad", Category: "astronaut", Relationship: "client"})
	cfg.Overrides.Deny = []Override{{Match: " ", Field: "phone"}}

	err := Validate(cfg)
	require.Error(t, err)
	for _, want := range []string{
		"app.port must be 1..65535",
		"polling.cron",
		`category "astronaut" is not a known category`,
		"needs at least one of domains/any",
		"overrides.deny[0].match is required",
		"overrides.deny[0].field must be email, name or local",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestNormalizeAndValidate_TrimsLists(t *testing.T) {
	cfg := Default()
	cfg.Email.Owners = []string{" Me@Lender.com ", "me@lender.com", ""}
	cfg.Overrides.Keep = []Override{{Match: "pat@kw.com"}}
	cfg.Overrides.Deny = []Override{{Match: "PAT@kw.com"}}
	cfg.Email.Enabled = true
	cfg.Email.Username = ""

	out, vr := NormalizeAndValidate(cfg)
	assert.Equal(t, []string{"me@lender.com"}, out.Email.Owners)
	assert.Contains(t, vr.Errors, "email.username is required when email.enabled=true")
	assert.Contains(t, vr.Warnings, `override appears in both keep and deny: "pat@kw.com"`)
}

func TestEnsureUserConfigAndLoadFrom(t *testing.T) {
	dir := t.TempDir()
	path, err := EnsureUserConfig(dir, filepath.Join(dir, "missing.yml"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "config.yml"), path)

	overrides := filepath.Join(dir, "overrides.yml")
	require.NoError(t, os.WriteFile(overrides, []byte(`
keep:
  - match: jane@kw.com
    category: realtor
deny:
  - match: spam
    field: local
org_allowlists:
  - domain: BigBank.com
    keep: ["Pat Lee"]
`), 0o644))

	cfg, err := LoadFrom(path, overrides)
	require.NoError(t, err)
	require.Len(t, cfg.Overrides.Keep, 1)
	assert.Equal(t, "realtor", cfg.Overrides.Keep[0].Category)
	require.Len(t, cfg.Overrides.Orgs, 1)
	assert.Equal(t, "bigbank.com", cfg.Overrides.Orgs[0].Domain)

	// a missing overrides file is not an error
	_, err = LoadFrom(path, filepath.Join(dir, "nope.yml"))
	require.NoError(t, err)
}

func TestSaveAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	cfg := Default()
	require.NoError(t, SaveAtomic(path, cfg))

	cfg.Pipeline.Workers = 9
	require.NoError(t, SaveAtomic(path, cfg))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9, got.Pipeline.Workers)

	prev, err := Load(path + ".bak")
	require.NoError(t, err)
	assert.Equal(t, Default().Pipeline.Workers, prev.Pipeline.Workers)

	cfg.App.Port = -1
	require.Error(t, SaveAtomic(path, cfg), "invalid configs are never written")
}

func TestWatch_DebouncedReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("app: {}\n"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, zaptest.NewLogger(t), []string{path}, func() { calls.Add(1) })
	}()

	// give the watcher time to register before writing
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "unrelated.txt"), []byte("x"), 0o644))
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(path, []byte("app: {port: 1}\n"), 0o644))
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 }, 3*time.Second, 20*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}
