// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Safe Bill Contributors

package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/safebill/assistant/internal/config"
	sberr "github.com/safebill/assistant/pkg/errors"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reference assistant backend",
		Long: `Load configuration, open the session store, register the responder and
serve the chat and session endpoints until interrupted.

The reference backend answers with an echo responder by default; set
responder.provider to openai, anthropic or google for real answers.`,
		RunE: runServe,
	}

	cmd.Flags().String("listen", "", "override listen address (host:port)")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.Server.Listen = listen
	}

	dataDir, err := resolveDataDir(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := WireBackend(ctx, cfg, dataDir)
	if err != nil {
		return err
	}
	defer func() {
		if err := backend.Close(); err != nil {
			slog.Warn("closing backend", "error", err)
		}
	}()

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Serving the assistant backend on %s (storage: %s, responder: %s)\n",
		cfg.Server.Listen, cfg.Storage.Backend, cfg.Responder.Provider)

	err = backend.Start(ctx)
	if sberr.HasCode(err, sberr.CodeServerShutdownFailure) {
		slog.Warn("server did not shut down cleanly", "error", err)
		return nil
	}
	return err
}

// resolveDataDir returns the configured data directory or the default one.
func resolveDataDir(cfg *config.Config) (string, error) {
	if cfg.DataDir != "" {
		return cfg.DataDir, nil
	}
	return config.DefaultDataDir()
}
