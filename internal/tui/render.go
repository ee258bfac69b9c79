// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Safe Bill Contributors

package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/safebill/assistant/internal/session"
	"github.com/safebill/assistant/internal/transcript"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	userLabel      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	assistantLabel = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("78"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
)

// markdown renders closed assistant messages. Rendering is slow compared to
// a frame, so results are cached per content until the width changes.
type markdown struct {
	style string
	width int
	r     *glamour.TermRenderer
	cache map[string]string
}

func newMarkdown(style string) *markdown {
	return &markdown{style: style, cache: make(map[string]string)}
}

// resize drops the renderer when the wrap width changes.
func (md *markdown) resize(width int) {
	if width == md.width {
		return
	}
	md.width = width
	md.r = nil
	clear(md.cache)
}

func (md *markdown) render(content string) string {
	if out, ok := md.cache[content]; ok {
		return out
	}
	if md.r == nil {
		r, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle(md.style),
			glamour.WithWordWrap(max(md.width, 20)),
		)
		if err != nil {
			return content
		}
		md.r = r
	}

	out, err := md.r.Render(content)
	if err != nil {
		return content
	}
	out = strings.Trim(out, "\n")
	md.cache[content] = out
	return out
}

// renderTranscript lays out the messages for the viewport. The open
// assistant message, if any, is shown as plain text since it is still
// growing.
func renderTranscript(msgs []transcript.Message, open bool, md *markdown, width int) string {
	if len(msgs) == 0 {
		return dimStyle.Render("Ask anything about your bills. Type /help for commands.")
	}

	plain := lipgloss.NewStyle().Width(max(width, 20)).PaddingLeft(2)
	blocks := make([]string, 0, len(msgs))
	for i, m := range msgs {
		var b strings.Builder
		switch m.Role {
		case transcript.RoleUser:
			b.WriteString(userLabel.Render("You"))
			b.WriteString("\n")
			b.WriteString(plain.Render(m.Content))
		default:
			b.WriteString(assistantLabel.Render("Assistant"))
			b.WriteString("\n")
			switch {
			case open && i == len(msgs)-1 && m.Content == "":
				b.WriteString(plain.Render("…"))
			case open && i == len(msgs)-1:
				b.WriteString(plain.Render(m.Content))
			default:
				b.WriteString(md.render(m.Content))
			}
		}
		blocks = append(blocks, b.String())
	}
	return strings.Join(blocks, "\n\n")
}

func renderSessionList(list []session.Summary) string {
	if len(list) == 0 {
		return dimStyle.Render("No saved sessions yet.")
	}
	var b strings.Builder
	b.WriteString(headerStyle.Render("Sessions"))
	for i, s := range list {
		title := s.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Fprintf(&b, "\n%3d. %s %s", i+1, title, dimStyle.Render(s.UpdatedAt.Local().Format("2006-01-02 15:04")))
	}
	b.WriteString("\n")
	b.WriteString(dimStyle.Render("Open one with /open <number>."))
	return b.String()
}

func sessionLabel(id session.ID) string {
	if !id.IsSet() {
		return "new conversation"
	}
	return "session " + id.String()
}

const helpText = `Commands
  /new            start a new conversation
  /sessions       list saved sessions
  /open <n|id>    open a session by list number or id
  /copy           copy the last answer (also ctrl+y)
  /help           show this help
  /quit           exit (also ctrl+c)

Keys
  enter           send
  ctrl+n          new conversation, even while a reply streams
  pgup/pgdown     scroll`
