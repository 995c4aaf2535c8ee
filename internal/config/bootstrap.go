package config

import (
	"errors"
	"io"
	"os"
	"path/filepath"
)

// EnsureUserConfig makes sure dataDir/config.yml exists, copying defaultPath
// or, when that is missing too, the built-in defaults.
func EnsureUserConfig(dataDir string, defaultPath string) (string, error) {
	userPath := filepath.Join(dataDir, "config.yml")

	_, err := os.Stat(userPath)
	if err == nil {
		return userPath, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", err
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", err
	}

	// Copy defaultPath -> userPath
	src, err := os.Open(defaultPath)
	if errors.Is(err, os.ErrNotExist) || defaultPath == "" {
		return userPath, os.WriteFile(userPath, defaultYAML, 0o644)
	}
	if err != nil {
		return "", err
	}
	defer src.Close()

	dst, err := os.Create(userPath)
	if err != nil {
		return "", err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return "", err
	}
	return userPath, nil
}

// LoadFrom loads the user config and overlays dataDir/overrides.yml.
func LoadFrom(userPath, overridesPath string) (Config, error) {
	cfg, err := Load(userPath)
	if err != nil {
		return cfg, err
	}
	if err := OverlayOverrides(&cfg, overridesPath); err != nil {
		return cfg, err
	}
	cfg, vr := NormalizeAndValidate(cfg)
	if !vr.OK() {
		return cfg, errors.New("config validation failed:\n- " + joinLines(vr.Errors))
	}
	return cfg, nil
}
