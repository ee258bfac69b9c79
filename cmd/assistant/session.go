// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Safe Bill Contributors

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/safebill/assistant/internal/client"
	"github.com/safebill/assistant/internal/transcript"
	sberr "github.com/safebill/assistant/pkg/errors"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Browse past conversations",
		Long:  "List your conversations with the assistant and show or export their history.",
	}

	cmd.AddCommand(
		newSessionListCmd(),
		newSessionShowCmd(),
	)

	return cmd
}

func newSessionListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sessions, most recent first",
		RunE:  runSessionList,
	}
}

func newSessionShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show the history of a session",
		Args:  cobra.ExactArgs(1),
		RunE:  runSessionShow,
	}

	cmd.Flags().StringP("output", "o", "text", "output format: text, json or yaml")
	cmd.Flags().String("style", "", "markdown style for text output (default: auto on a terminal, notty otherwise)")

	return cmd
}

func runSessionList(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cl, err := newBackendClient(cfg)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	sessions, err := cl.ListSessions(cmd.Context())
	if err != nil {
		if sberr.HasCode(err, sberr.CodeClientBackendUnreachable) {
			_, _ = fmt.Fprintf(out, "Backend at %s is not reachable\n", cl.BaseURL())
			return nil
		}
		return sberr.Errorf(sberr.CodeCLIRequestFailure, "listing sessions: %w", err)
	}

	if len(sessions) == 0 {
		_, _ = fmt.Fprintln(out, "No sessions found")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tUPDATED\tTITLE")
	for _, s := range sessions {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", s.ID, s.UpdatedAt.Local().Format(time.DateTime), s.Title)
	}
	return tw.Flush()
}

func runSessionShow(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("output")
	switch format {
	case "text", "json", "yaml":
	default:
		return sberr.Errorf(sberr.CodeCLIInputInvalid, "unknown output format %q (want text, json or yaml)", format)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cl, err := newBackendClient(cfg)
	if err != nil {
		return err
	}

	detail, err := cl.GetSession(cmd.Context(), args[0])
	if err != nil {
		if sberr.FieldsOf(err)["status"] == http.StatusNotFound {
			return sberr.Errorf(sberr.CodeCLIInputInvalid, "session %q not found", args[0])
		}
		return sberr.Errorf(sberr.CodeCLIRequestFailure, "getting session %s: %w", args[0], err)
	}
	if detail.ID == "" {
		detail.ID = args[0]
	}

	out := cmd.OutOrStdout()
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(detail)
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(detail); err != nil {
			return sberr.Errorf(sberr.CodeCLIRequestFailure, "encoding yaml: %w", err)
		}
		return enc.Close()
	}

	style, _ := cmd.Flags().GetString("style")
	if style == "" {
		style = "notty"
		if f, ok := out.(*os.File); ok && isTerminal(f) {
			style = "auto"
		}
	}
	return writeSessionText(out, detail, style)
}

// writeSessionText renders a session as markdown through glamour.
func writeSessionText(w io.Writer, detail *client.SessionDetail, style string) error {
	var md strings.Builder
	title := detail.Title
	if title == "" {
		title = detail.ID
	}
	fmt.Fprintf(&md, "# %s\n\n", title)
	if !detail.UpdatedAt.IsZero() {
		fmt.Fprintf(&md, "_%s · last updated %s_\n\n", detail.ID, detail.UpdatedAt.Local().Format(time.DateTime))
	}
	for _, m := range detail.Messages {
		switch m.Role {
		case transcript.RoleUser:
			fmt.Fprintf(&md, "## You\n\n%s\n\n", m.Content)
		default:
			fmt.Fprintf(&md, "## Assistant\n\n%s\n\n", m.Content)
		}
	}
	if len(detail.Messages) == 0 {
		md.WriteString("_No messages._\n")
	}

	r, err := glamour.NewTermRenderer(glamour.WithStandardStyle(style), glamour.WithWordWrap(100))
	if err != nil {
		return sberr.Errorf(sberr.CodeCLISetupFailure, "creating markdown renderer: %w", err)
	}
	rendered, err := r.Render(md.String())
	if err != nil {
		return sberr.Errorf(sberr.CodeCLIRequestFailure, "rendering session: %w", err)
	}
	_, err = io.WriteString(w, rendered)
	return err
}
