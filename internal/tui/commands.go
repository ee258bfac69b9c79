// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Safe Bill Contributors

package tui

import (
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

// commandHandler runs one slash command.
type commandHandler func(m Model, args []string) (tea.Model, tea.Cmd)

var commandHandlers = map[string]commandHandler{
	"new":      handleNew,
	"sessions": handleSessions,
	"list":     handleSessions,
	"open":     handleOpen,
	"copy":     handleCopy,
	"help":     handleHelp,
	"?":        handleHelp,
	"quit":     handleQuit,
	"q":        handleQuit,
	"exit":     handleQuit,
}

func (m Model) runCommand(line string) (tea.Model, tea.Cmd) {
	fields := strings.Fields(strings.TrimPrefix(line, "/"))
	if len(fields) == 0 {
		return m, nil
	}
	handler, ok := commandHandlers[strings.ToLower(fields[0])]
	if !ok {
		m.setError("Unknown command /" + fields[0] + ". Type /help.")
		return m, nil
	}
	return handler(m, fields[1:])
}

func handleNew(m Model, _ []string) (tea.Model, tea.Cmd) {
	return m.newConversation()
}

func handleSessions(m Model, _ []string) (tea.Model, tea.Cmd) {
	if m.streaming {
		m.setNotice("Wait for the current reply to finish.")
		return m, nil
	}
	m.setNotice("Loading sessions…")
	ctx, ctrl := m.ctx, m.ctrl
	return m, func() tea.Msg {
		list, err := ctrl.Refresh(ctx)
		return sessionsMsg{list: list, err: err}
	}
}

func handleOpen(m Model, args []string) (tea.Model, tea.Cmd) {
	if len(args) != 1 {
		m.setError("Usage: /open <number|id>")
		return m, nil
	}
	if m.streaming {
		m.setNotice("Wait for the current reply to finish, or press ctrl+n.")
		return m, nil
	}

	id := args[0]
	if n, err := strconv.Atoi(id); err == nil {
		if n < 1 || n > len(m.listed) {
			m.setError("No session " + id + " in the list. Run /sessions first.")
			return m, nil
		}
		id = m.listed[n-1].ID
	}

	m.setNotice("Opening session…")
	ctx, ctrl := m.ctx, m.ctrl
	return m, func() tea.Msg {
		return openedMsg{id: id, err: ctrl.OpenSession(ctx, id)}
	}
}

func handleCopy(m Model, _ []string) (tea.Model, tea.Cmd) {
	return m.copyLast()
}

func handleHelp(m Model, _ []string) (tea.Model, tea.Cmd) {
	m.aside = helpText
	m.notice = ""
	m.refresh()
	return m, nil
}

func handleQuit(m Model, _ []string) (tea.Model, tea.Cmd) {
	return m, tea.Quit
}
