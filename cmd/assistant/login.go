// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Safe Bill Contributors

package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/safebill/assistant/internal/client"
	"github.com/safebill/assistant/internal/secrets"
	"github.com/safebill/assistant/internal/tui"
	sberr "github.com/safebill/assistant/pkg/errors"
)

// promptSecret reads a secret interactively. Tests replace it.
var promptSecret = tui.PromptSecret

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Save the backend bearer token in the OS keyring",
		Long: `Store the bearer token used to call the assistant backend in the OS keyring.

The token is read from --token, from stdin with --stdin, or from a hidden
prompt. Unless --no-verify is given, the token is checked against the backend
first; an unreachable backend only produces a warning.`,
		Args: cobra.NoArgs,
		RunE: runLogin,
	}

	cmd.Flags().String("token", "", "bearer token (visible in shell history; prefer the prompt or --stdin)")
	cmd.Flags().Bool("stdin", false, "read the token from stdin")
	cmd.Flags().Bool("no-verify", false, "save without checking the token against the backend")

	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the saved backend token",
		Args:  cobra.NoArgs,
		RunE:  runLogout,
	}
}

func runLogin(cmd *cobra.Command, _ []string) error {
	token, err := readSecret(cmd, "Backend token")
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if noVerify, _ := cmd.Flags().GetBool("no-verify"); !noVerify {
		cl, err := client.New(client.Config{
			BaseURL:      cfg.Backend.BaseURL,
			SessionsPath: cfg.Backend.SessionsPath,
			Credentials:  secrets.StaticProvider(token),
			Timeout:      cfg.Backend.Timeout,
		})
		if err != nil {
			return sberr.Wrapf(err, sberr.CodeCLISetupFailure, "creating backend client")
		}
		if _, err := cl.ListSessions(cmd.Context()); err != nil {
			switch {
			case sberr.IsUnauthorized(err):
				return sberr.New(sberr.CodeCLIInputInvalid, "the backend rejected this token; nothing was saved")
			case sberr.HasCode(err, sberr.CodeClientBackendUnreachable):
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Warning: backend at %s is not reachable; saving the token unverified\n", cl.BaseURL())
			default:
				return sberr.Errorf(sberr.CodeCLIRequestFailure, "verifying token: %w", err)
			}
		}
	}

	if err := secretStoreFactory().Store(secrets.DefaultService, secrets.TokenKey, token); err != nil {
		return sberr.Errorf(sberr.CodeSecretStoreFailure, "saving token: %w", err)
	}
	_, _ = fmt.Fprintln(out, "Token saved to the OS keyring.")
	return nil
}

// readSecret takes the value from --token, --stdin or an interactive prompt
// labelled label.
func readSecret(cmd *cobra.Command, label string) (string, error) {
	if token, _ := cmd.Flags().GetString("token"); token != "" {
		return strings.TrimSpace(token), nil
	}

	in := cmd.InOrStdin()
	if fromStdin, _ := cmd.Flags().GetBool("stdin"); fromStdin {
		line, err := bufio.NewReader(in).ReadString('\n')
		token := strings.TrimSpace(line)
		if token == "" {
			if err != nil {
				return "", sberr.Errorf(sberr.CodeCLIInputInvalid, "reading %s from stdin: %w", label, err)
			}
			return "", sberr.Errorf(sberr.CodeCLIInputInvalid, "%s is empty", label)
		}
		return token, nil
	}

	f, ok := in.(*os.File)
	if !ok || !isTerminal(f) {
		return "", sberr.New(sberr.CodeCLIInputInvalid, "no terminal to prompt for a secret; use --stdin")
	}
	token, err := promptSecret(f, cmd.ErrOrStderr(), label)
	if err != nil {
		return "", err
	}
	return token, nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	err := secretStoreFactory().Delete(secrets.DefaultService, secrets.TokenKey)
	switch {
	case sberr.HasCode(err, sberr.CodeSecretNotFound):
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Not logged in.")
		return nil
	case err != nil:
		return sberr.Errorf(sberr.CodeSecretDeleteFailure, "removing token: %w", err)
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Token removed from the OS keyring.")
	return nil
}
