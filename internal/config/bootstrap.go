// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Safe Bill Contributors

package config

import (
	_ "embed"
	"log/slog"
	"os"
	"path/filepath"

	sberr "github.com/safebill/assistant/pkg/errors"
)

//go:embed assistant.yaml.default
var DefaultConfigYAML []byte

// DefaultConfigPath returns ~/.config/assistant/assistant.yaml.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", sberr.Errorf(sberr.CodeConfigLoadReadFailure, "resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "assistant", "assistant.yaml"), nil
}

// DefaultDataDir returns ~/.local/share/assistant, where the reference backend
// keeps its database when no data_dir is configured.
func DefaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", sberr.Errorf(sberr.CodeConfigLoadReadFailure, "resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "assistant"), nil
}

// BootstrapConfig writes the commented default config to the default path
// unless a file already exists there. It returns the path written, or "" when
// nothing was written. Failures are logged, never fatal.
func BootstrapConfig() string {
	cfgPath, err := DefaultConfigPath()
	if err != nil {
		slog.Debug("skipping config bootstrap", "error", err)
		return ""
	}
	return bootstrapAt(cfgPath)
}

func bootstrapAt(cfgPath string) string {
	if _, err := os.Stat(cfgPath); err == nil {
		return ""
	}

	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		slog.Debug("skipping config bootstrap: cannot create directory", "path", dir, "error", err)
		return ""
	}

	if err := os.WriteFile(cfgPath, DefaultConfigYAML, 0o600); err != nil {
		slog.Debug("skipping config bootstrap: cannot write config", "path", cfgPath, "error", err)
		return ""
	}

	slog.Info("created default config", "path", cfgPath)
	return cfgPath
}
