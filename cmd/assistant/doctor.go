// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Safe Bill Contributors

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sys/unix"

	"github.com/safebill/assistant/internal/config"
	"github.com/safebill/assistant/internal/provider"
	"github.com/safebill/assistant/internal/secrets"
	sberr "github.com/safebill/assistant/pkg/errors"
)

// doctorHTTPClient is used for the backend and responder checks. Tests
// replace it.
var doctorHTTPClient = &http.Client{Timeout: 5 * time.Second}

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostics",
		Long:  "Check the config file, the saved backend token, backend reachability, the responder API key and data-directory disk space.",
		RunE:  runDoctor,
	}
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	w := cmd.OutOrStdout()
	ctx := cmd.Context()

	cfg, cfgErr := loadConfig()

	checks := []struct {
		name string
		fn   func() string
	}{
		{"Binary", checkBinary},
		{"Platform", checkPlatform},
		{"Config", func() string { return checkConfig(cfgErr) }},
		{"Token", checkToken},
		{"Backend", func() string { return checkBackend(ctx, cfg) }},
		{"Responder", func() string { return checkResponder(ctx, cfg) }},
		{"Disk Space", func() string { return checkDiskSpace(cfg) }},
	}

	for _, c := range checks {
		if _, err := fmt.Fprintf(w, "%-20s %s\n", c.name+":", c.fn()); err != nil {
			return err
		}
	}

	return nil
}

func checkBinary() string {
	return fmt.Sprintf("assistant %s (%s/%s)", version, runtime.GOOS, runtime.GOARCH)
}

func checkPlatform() string {
	return fmt.Sprintf("%s/%s, Go %s", runtime.GOOS, runtime.GOARCH, runtime.Version())
}

func checkConfig(loadErr error) string {
	if loadErr != nil {
		return fmt.Sprintf("invalid: %s", loadErr)
	}
	if cfgFile := viper.ConfigFileUsed(); cfgFile != "" {
		return fmt.Sprintf("loaded from %s", cfgFile)
	}
	return "using defaults (no config file found)"
}

func checkToken() string {
	_, err := secretStoreFactory().Retrieve(secrets.DefaultService, secrets.TokenKey)
	switch {
	case err == nil:
		return "saved in the OS keyring"
	case sberr.HasCode(err, sberr.CodeSecretNotFound):
		if os.Getenv(tokenEnvVar) != "" {
			return "from $" + tokenEnvVar
		}
		return "not saved (run 'assistant login')"
	default:
		return fmt.Sprintf("keyring unavailable: %s", err)
	}
}

func checkBackend(ctx context.Context, cfg *config.Config) string {
	if cfg == nil {
		return "skipped (config invalid)"
	}
	cl, err := newBackendClient(cfg)
	if err != nil {
		return fmt.Sprintf("error: %s", err)
	}

	if err := cl.Ping(ctx); err != nil {
		if sberr.HasCode(err, sberr.CodeClientBackendUnreachable) {
			return fmt.Sprintf("not reachable at %s", cl.BaseURL())
		}
		return fmt.Sprintf("error: %s", err)
	}

	if _, err := cl.ListSessions(ctx); err != nil {
		if sberr.IsUnauthorized(err) {
			return fmt.Sprintf("reachable at %s, but the token was rejected", cl.BaseURL())
		}
		return fmt.Sprintf("reachable at %s, listing sessions failed: %s", cl.BaseURL(), err)
	}
	return fmt.Sprintf("ok at %s", cl.BaseURL())
}

func checkResponder(ctx context.Context, cfg *config.Config) string {
	if cfg == nil {
		return "skipped (config invalid)"
	}
	rc := cfg.Responder
	if rc.Provider == provider.EchoName {
		return "echo (no API key needed)"
	}
	if rc.APIKey == "" {
		return fmt.Sprintf("%s: no api_key configured", rc.Provider)
	}

	err := provider.ValidateKey(ctx, doctorHTTPClient, rc.Provider, rc.APIKey, rc.BaseURL)
	switch {
	case err == nil:
		return fmt.Sprintf("%s/%s: key accepted", rc.Provider, rc.Model)
	case sberr.HasCode(err, sberr.CodeProviderKeyInvalid):
		return fmt.Sprintf("%s: key rejected", rc.Provider)
	default:
		return fmt.Sprintf("%s: unable to check: %s", rc.Provider, err)
	}
}

func checkDiskSpace(cfg *config.Config) string {
	path, err := config.DefaultDataDir()
	if cfg != nil && cfg.DataDir != "" {
		path, err = cfg.DataDir, nil
	}
	if err != nil {
		return fmt.Sprintf("unable to check: %s", err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		// Fall back to home directory if data dir doesn't exist yet.
		path, _ = os.UserHomeDir()
	}

	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return fmt.Sprintf("unable to check: %s", err)
	}

	availBytes := stat.Bavail * uint64(stat.Bsize)
	return formatBytes(availBytes) + " available"
}

// formatBytes formats a byte count as a human-readable string.
func formatBytes(b uint64) string {
	const (
		gb = 1024 * 1024 * 1024
		mb = 1024 * 1024
	)
	switch {
	case b >= gb:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(gb))
	case b >= mb:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(mb))
	default:
		return fmt.Sprintf("%d bytes", b)
	}
}
