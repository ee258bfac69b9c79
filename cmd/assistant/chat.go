// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Safe Bill Contributors

package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/safebill/assistant/internal/config"
	"github.com/safebill/assistant/internal/tui"
	sberr "github.com/safebill/assistant/pkg/errors"
)

func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Chat with the assistant",
		Long: `Send a message to the assistant and stream the answer to stdout.

Without a message, an interactive terminal UI starts. When stdin is not a
terminal, the message is read from stdin instead.`,
		RunE: runChat,
	}

	cmd.Flags().StringP("session", "s", "", "continue an existing session by ID")
	cmd.Flags().String("style", "auto", "markdown style for the terminal UI: auto, dark, light or notty")

	return cmd
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	sessionID, _ := cmd.Flags().GetString("session")

	message := strings.Join(args, " ")
	if message == "" {
		if f, ok := cmd.InOrStdin().(*os.File); ok && isTerminal(f) {
			return runInteractiveChat(cmd, cfg, sessionID)
		}
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return sberr.Errorf(sberr.CodeCLIInputInvalid, "reading message from stdin: %w", err)
		}
		message = string(data)
	}
	if strings.TrimSpace(message) == "" {
		return sberr.New(sberr.CodeCLIInputInvalid, "message is empty")
	}

	cl, err := newBackendClient(cfg)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	ctrl, err := newController(cfg, cl, func(text string) {
		_, _ = io.WriteString(out, text)
	})
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if sessionID != "" {
		if err := ctrl.OpenSession(ctx, sessionID); err != nil {
			return sberr.Errorf(sberr.CodeCLIRequestFailure, "opening session %s: %w", sessionID, err)
		}
	}

	outcome := ctrl.Submit(ctx, message)
	_, _ = fmt.Fprintln(out)

	if !outcome.Completed() {
		msgs := ctrl.Transcript().Messages()
		if n := len(msgs); n > 0 && outcome.Failed() {
			_, _ = fmt.Fprintln(cmd.ErrOrStderr(), msgs[n-1].Content)
		}
		return sberr.Errorf(sberr.CodeCLIRequestFailure, "chat turn %s: %w", outcome.Status, outcome.Err)
	}
	if outcome.NewSessionID.IsSet() {
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "session: %s\n", outcome.NewSessionID)
	}
	return nil
}

func runInteractiveChat(cmd *cobra.Command, cfg *config.Config, sessionID string) error {
	cl, err := newBackendClient(cfg)
	if err != nil {
		return err
	}
	ctrl, err := newController(cfg, cl, nil)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if sessionID != "" {
		if err := ctrl.OpenSession(ctx, sessionID); err != nil {
			return sberr.Errorf(sberr.CodeCLIRequestFailure, "opening session %s: %w", sessionID, err)
		}
	}

	style, _ := cmd.Flags().GetString("style")
	return tui.Run(ctx, ctrl, tui.Options{Style: style})
}

// isTerminal reports whether f is a terminal file descriptor.
func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}
