// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Safe Bill Contributors

package tui

import tea "github.com/charmbracelet/bubbletea"

// RunSecretPrompt feeds keys to a secret prompt and reports what it would
// return.
func RunSecretPrompt(keys ...tea.KeyMsg) (value string, done bool, view string) {
	var m tea.Model = newSecretPrompt("Token")
	for _, k := range keys {
		m, _ = m.Update(k)
		if p := m.(secretPrompt); p.done || p.canceled {
			break
		}
	}
	p := m.(secretPrompt)
	return p.input.Value(), p.done, p.View()
}
