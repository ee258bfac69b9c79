// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Safe Bill Contributors

// Package tui is the interactive terminal front end for a conversation.
package tui

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/safebill/assistant/internal/conversation"
	"github.com/safebill/assistant/internal/session"
	"github.com/safebill/assistant/internal/stream"
	"github.com/safebill/assistant/internal/transcript"
	sberr "github.com/safebill/assistant/pkg/errors"
)

const (
	defaultRedrawInterval = 50 * time.Millisecond
	// header, status line and input
	chromeHeight = 3
)

// Options configures the terminal UI.
type Options struct {
	// Style is the glamour style for assistant answers: auto, dark, light
	// or notty. Default: auto.
	Style string
	// Copy writes text to the clipboard. Default: clipboard.WriteAll.
	Copy func(string) error
	// RedrawInterval is how often a streaming reply is redrawn.
	RedrawInterval time.Duration
}

func (o *Options) applyDefaults() {
	if o.Style == "" {
		o.Style = "auto"
	}
	if o.Copy == nil {
		o.Copy = clipboard.WriteAll
	}
	if o.RedrawInterval <= 0 {
		o.RedrawInterval = defaultRedrawInterval
	}
}

// turnDoneMsg carries the outcome of a Submit started by the model.
type turnDoneMsg struct{ outcome stream.TurnOutcome }

// redrawMsg polls the transcript while a reply streams.
type redrawMsg struct{}

type sessionsMsg struct {
	list []session.Summary
	err  error
}

type openedMsg struct {
	id  string
	err error
}

// Model is the bubbletea model for a chat session.
type Model struct {
	ctx  context.Context
	ctrl *conversation.Controller
	opts Options
	md   *markdown

	viewport viewport.Model
	input    textinput.Model
	spinner  spinner.Model

	width, height int
	streaming     bool
	revision      uint64
	// listed is what /sessions last showed; /open numbers refer to it.
	listed []session.Summary
	// aside is shown below the transcript until the next turn.
	aside     string
	notice    string
	noticeErr bool
}

// New returns a Model driving ctrl. ctx bounds every backend call.
func New(ctx context.Context, ctrl *conversation.Controller, opts Options) Model {
	opts.applyDefaults()

	in := textinput.New()
	in.Placeholder = "Ask about a bill…"
	in.Prompt = "› "
	in.CharLimit = 16000
	in.Focus()

	sp := spinner.New(spinner.WithSpinner(spinner.Dot))

	m := Model{
		ctx:      ctx,
		ctrl:     ctrl,
		opts:     opts,
		md:       newMarkdown(opts.Style),
		viewport: viewport.New(80, 20),
		input:    in,
		spinner:  sp,
		width:    80,
		height:   20 + chromeHeight,
	}
	m.refresh()
	return m
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-chromeHeight, 1)
		m.input.Width = max(msg.Width-4, 10)
		m.md.resize(msg.Width - 4)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case spinner.TickMsg:
		if !m.streaming {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case redrawMsg:
		if !m.streaming {
			return m, nil
		}
		if rev := m.ctrl.Transcript().Revision(); rev != m.revision {
			m.refresh()
		}
		return m, m.redrawTick()

	case turnDoneMsg:
		return m.handleTurnDone(msg.outcome)

	case sessionsMsg:
		if msg.err != nil {
			m.setError("Could not load sessions: " + describe(msg.err))
			return m, nil
		}
		m.listed = msg.list
		m.aside = renderSessionList(msg.list)
		m.notice = ""
		m.refresh()
		return m, nil

	case openedMsg:
		if msg.err != nil {
			m.setError("Could not open session: " + describe(msg.err))
			return m, nil
		}
		m.aside = ""
		m.setNotice("Opened " + sessionLabel(session.Established(msg.id)))
		m.refresh()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		return m, tea.Quit
	case tea.KeyCtrlY:
		return m.copyLast()
	case tea.KeyCtrlN:
		return m.newConversation()
	case tea.KeyPgUp, tea.KeyPgDown, tea.KeyUp, tea.KeyDown:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	case tea.KeyEnter:
		return m.submit()
	}

	if m.streaming {
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return m, nil
	}
	if strings.HasPrefix(text, "/") {
		m.input.Reset()
		return m.runCommand(text)
	}
	if m.streaming || !m.ctrl.CanSubmit() {
		m.setNotice("Wait for the current reply to finish.")
		return m, nil
	}

	m.input.Reset()
	m.input.Blur()
	m.streaming = true
	m.aside = ""
	m.notice = ""

	ctx, ctrl := m.ctx, m.ctrl
	submit := func() tea.Msg {
		return turnDoneMsg{outcome: ctrl.Submit(ctx, text)}
	}
	return m, tea.Batch(submit, m.redrawTick(), m.spinner.Tick)
}

func (m Model) handleTurnDone(out stream.TurnOutcome) (tea.Model, tea.Cmd) {
	m.streaming = false
	cmd := m.input.Focus()

	switch {
	case out.Failed():
		m.setError(describe(out.Err))
	case out.Status == stream.StatusAbandoned:
		// The user moved on; nothing to report.
	default:
		m.notice = ""
	}
	m.refresh()
	return m, cmd
}

func (m Model) newConversation() (tea.Model, tea.Cmd) {
	m.ctrl.NewConversation()
	m.aside = ""
	m.setNotice("Started a new conversation.")
	m.refresh()
	return m, nil
}

func (m Model) copyLast() (tea.Model, tea.Cmd) {
	msgs := m.ctrl.Transcript().Messages()
	open := m.ctrl.Transcript().HasOpen()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role != transcript.RoleAssistant || (open && i == len(msgs)-1) {
			continue
		}
		if err := m.opts.Copy(msgs[i].Content); err != nil {
			m.setError("Copy failed: " + err.Error())
		} else {
			m.setNotice("Copied the last answer.")
		}
		return m, nil
	}
	m.setNotice("No answer to copy yet.")
	return m, nil
}

func (m Model) redrawTick() tea.Cmd {
	return tea.Tick(m.opts.RedrawInterval, func(time.Time) tea.Msg { return redrawMsg{} })
}

// refresh re-renders the transcript into the viewport, following the tail
// when the view was already at the bottom.
func (m *Model) refresh() {
	tr := m.ctrl.Transcript()
	m.revision = tr.Revision()

	follow := m.viewport.AtBottom() || m.streaming
	content := renderTranscript(tr.Messages(), tr.HasOpen(), m.md, m.width-4)
	if m.aside != "" {
		content += "\n\n" + m.aside
	}
	m.viewport.SetContent(content)
	if follow {
		m.viewport.GotoBottom()
	}
}

func (m *Model) setNotice(s string) {
	m.notice, m.noticeErr = s, false
}

func (m *Model) setError(s string) {
	m.notice, m.noticeErr = s, true
}

func (m Model) View() string {
	header := headerStyle.Render("Safe Bill Assistant") + "  " + dimStyle.Render(sessionLabel(m.ctrl.Session()))

	var status string
	switch {
	case m.streaming:
		status = m.spinner.View() + " " + dimStyle.Render("thinking… (ctrl+n to abandon)")
	case m.notice != "" && m.noticeErr:
		status = errorStyle.Render(m.notice)
	case m.notice != "":
		status = dimStyle.Render(m.notice)
	default:
		status = dimStyle.Render("enter send · /help commands · ctrl+c quit")
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		m.viewport.View(),
		status,
		m.input.View(),
	)
}

// describe turns an error into a line fit for the status bar.
func describe(err error) string {
	switch {
	case err == nil:
		return "The reply failed."
	case sberr.IsUnauthorized(err):
		return "The backend rejected your credentials. Run `assistant login`."
	case sberr.IsNotFound(err), sberr.FieldsOf(err)["status"] == http.StatusNotFound:
		return "That session no longer exists."
	case sberr.IsConflict(err):
		return "A reply is still streaming."
	case sberr.HasCode(err, sberr.CodeClientBackendUnreachable):
		return "The assistant backend is unreachable."
	case errors.Is(err, context.Canceled):
		return "Canceled."
	}
	return err.Error()
}

// Run starts the full-screen UI and blocks until the user quits or ctx ends.
func Run(ctx context.Context, ctrl *conversation.Controller, opts Options) error {
	p := tea.NewProgram(New(ctx, ctrl, opts), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return sberr.Wrapf(err, sberr.CodeTUIRunFailure, "running terminal ui")
	}
	return nil
}
