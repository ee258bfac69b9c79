// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Safe Bill Contributors

package tui

import (
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	sberr "github.com/safebill/assistant/pkg/errors"
)

type secretPrompt struct {
	label    string
	input    textinput.Model
	done     bool
	canceled bool
}

func newSecretPrompt(label string) secretPrompt {
	in := textinput.New()
	in.EchoMode = textinput.EchoPassword
	in.EchoCharacter = '•'
	in.Prompt = "› "
	in.Focus()
	return secretPrompt{label: label, input: in}
}

func (p secretPrompt) Init() tea.Cmd { return textinput.Blink }

func (p secretPrompt) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.Type {
		case tea.KeyEnter:
			if strings.TrimSpace(p.input.Value()) == "" {
				return p, nil
			}
			p.done = true
			return p, tea.Quit
		case tea.KeyEsc, tea.KeyCtrlC:
			p.canceled = true
			return p, tea.Quit
		}
	}
	var cmd tea.Cmd
	p.input, cmd = p.input.Update(msg)
	return p, cmd
}

func (p secretPrompt) View() string {
	if p.done || p.canceled {
		return ""
	}
	return headerStyle.Render(p.label) + "\n" + p.input.View() + "\n" + dimStyle.Render("enter to save · esc to cancel") + "\n"
}

// PromptSecret asks for a secret without echoing it. Empty input is not
// accepted; esc or ctrl+c cancels.
func PromptSecret(in io.Reader, out io.Writer, label string) (string, error) {
	p := tea.NewProgram(newSecretPrompt(label), tea.WithInput(in), tea.WithOutput(out))
	final, err := p.Run()
	if err != nil {
		return "", sberr.Wrapf(err, sberr.CodeTUIRunFailure, "reading %s", label)
	}
	res, _ := final.(secretPrompt)
	if !res.done {
		return "", sberr.New(sberr.CodeTUIInputCanceled, "input canceled")
	}
	return strings.TrimSpace(res.input.Value()), nil
}
