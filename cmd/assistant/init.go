// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Safe Bill Contributors

package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/safebill/assistant/internal/client"
	"github.com/safebill/assistant/internal/config"
	"github.com/safebill/assistant/internal/provider"
	"github.com/safebill/assistant/internal/secrets"
	sberr "github.com/safebill/assistant/pkg/errors"
)

// initHTTPClient is the HTTP client used for key and token validation.
// Exposed as a variable so tests can replace it.
var initHTTPClient = &http.Client{Timeout: 10 * time.Second}

// initWizardStep tracks which step of the wizard is active.
type initWizardStep int

const (
	stepResponder     initWizardStep = iota // select responder
	stepAPIKey                              // enter API key
	stepValidateKey                         // validating key (spinner)
	stepToken                               // enter backend token
	stepValidateToken                       // validating token (spinner)
	stepDone                                // wizard complete
	stepError                               // terminal error
)

// initResult holds the collected wizard configuration.
type initResult struct {
	Provider   string
	APIKey     string
	BackendURL string
	Token      string
}

type validationSuccessMsg struct {
	step    initWizardStep
	warning string
}

type validationErrorMsg struct {
	step initWizardStep
	err  error
}

type configWrittenMsg struct{ path string }

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99"))
	promptStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	warnStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	successStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	boxStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("62")).Padding(0, 1)
)

var supportedResponders = []string{
	provider.EchoName,
	provider.NameAnthropic,
	provider.NameOpenAI,
	provider.NameGoogle,
}

// initModel is the bubbletea model for the init wizard.
type initModel struct {
	step           initWizardStep
	responderIdx   int
	apiKeyInput    textinput.Model
	tokenInput     textinput.Model
	spinner        spinner.Model
	result         initResult
	validationErr  string
	warning        string
	configPath     string
	secretStore    secrets.Store
	errFinal       error
	forceOverwrite bool
}

func newInitModel(store secrets.Store, backendURL string) initModel {
	apiKey := textinput.New()
	apiKey.Placeholder = "paste API key here"
	apiKey.EchoMode = textinput.EchoPassword
	apiKey.EchoCharacter = '•'

	token := textinput.New()
	token.Placeholder = "paste backend token, or leave empty to skip"
	token.EchoMode = textinput.EchoPassword
	token.EchoCharacter = '•'

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return initModel{
		step:        stepResponder,
		apiKeyInput: apiKey,
		tokenInput:  token,
		spinner:     sp,
		result:      initResult{BackendURL: backendURL},
		secretStore: store,
	}
}

func (m initModel) Init() tea.Cmd {
	return nil
}

func (m initModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case validationSuccessMsg:
		return m.handleValidationSuccess(msg)

	case validationErrorMsg:
		m.validationErr = msg.err.Error()
		switch msg.step {
		case stepValidateKey:
			m.step = stepAPIKey
			m.apiKeyInput.Focus()
		case stepValidateToken:
			m.step = stepToken
			m.tokenInput.Focus()
		}
		return m, nil

	case configWrittenMsg:
		m.step = stepDone
		m.configPath = msg.path
		return m, tea.Quit

	case error:
		m.step = stepError
		m.errFinal = msg
		return m, tea.Quit
	}

	return m.updateInputs(msg)
}

func (m initModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.step {
	case stepResponder:
		return m.handleResponderKey(msg)
	case stepAPIKey:
		return m.handleAPIKeyInput(msg)
	case stepToken:
		return m.handleTokenInput(msg)
	}
	if msg.Type == tea.KeyCtrlC {
		return m, tea.Quit
	}
	return m, nil
}

func (m initModel) handleResponderKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		if m.responderIdx > 0 {
			m.responderIdx--
		}
	case "down", "j":
		if m.responderIdx < len(supportedResponders)-1 {
			m.responderIdx++
		}
	case "enter":
		m.result.Provider = supportedResponders[m.responderIdx]
		m.validationErr = ""
		if m.result.Provider == provider.EchoName {
			m.result.APIKey = ""
			return m.enterTokenStep()
		}
		m.step = stepAPIKey
		m.apiKeyInput.SetValue("")
		m.apiKeyInput.Focus()
		return m, textinput.Blink
	case "q", "ctrl+c":
		return m, tea.Quit
	}
	return m, nil
}

func (m initModel) handleAPIKeyInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEnter:
		key := strings.TrimSpace(m.apiKeyInput.Value())
		if key == "" {
			m.validationErr = "API key must not be empty"
			return m, nil
		}
		m.result.APIKey = key
		m.validationErr = ""
		m.step = stepValidateKey
		m.apiKeyInput.Blur()
		return m, tea.Batch(
			m.spinner.Tick,
			validateResponderKeyCmd(m.result.Provider, key),
		)
	case tea.KeyCtrlC:
		return m, tea.Quit
	}
	var cmd tea.Cmd
	m.apiKeyInput, cmd = m.apiKeyInput.Update(msg)
	return m, cmd
}

func (m initModel) enterTokenStep() (tea.Model, tea.Cmd) {
	m.step = stepToken
	m.tokenInput.SetValue("")
	m.tokenInput.Focus()
	return m, textinput.Blink
}

func (m initModel) handleTokenInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEnter:
		token := strings.TrimSpace(m.tokenInput.Value())
		m.validationErr = ""
		m.tokenInput.Blur()
		if token == "" {
			m.result.Token = ""
			return m, writeConfigCmd(m.result, m.secretStore, m.forceOverwrite)
		}
		m.result.Token = token
		m.step = stepValidateToken
		return m, tea.Batch(
			m.spinner.Tick,
			validateBackendTokenCmd(m.result.BackendURL, token),
		)
	case tea.KeyCtrlC:
		return m, tea.Quit
	}
	var cmd tea.Cmd
	m.tokenInput, cmd = m.tokenInput.Update(msg)
	return m, cmd
}

func (m initModel) handleValidationSuccess(msg validationSuccessMsg) (tea.Model, tea.Cmd) {
	if msg.warning != "" {
		m.warning = msg.warning
	}
	switch msg.step {
	case stepValidateKey:
		return m.enterTokenStep()
	case stepValidateToken:
		return m, writeConfigCmd(m.result, m.secretStore, m.forceOverwrite)
	}
	return m, nil
}

func (m initModel) updateInputs(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch m.step {
	case stepAPIKey:
		m.apiKeyInput, cmd = m.apiKeyInput.Update(msg)
	case stepToken:
		m.tokenInput, cmd = m.tokenInput.Update(msg)
	}
	return m, cmd
}

func (m initModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("  Safe Bill Assistant Setup  ") + "\n\n")

	switch m.step {
	case stepResponder:
		b.WriteString(promptStyle.Render("Step 1/2: Choose the responder for `assistant serve`") + "\n\n")
		for i, p := range supportedResponders {
			label := p
			if p == provider.EchoName {
				label += " (no API key, repeats your message)"
			}
			if i == m.responderIdx {
				b.WriteString(selectedStyle.Render("  > "+label) + "\n")
			} else {
				b.WriteString(dimStyle.Render("    "+label) + "\n")
			}
		}
		b.WriteString("\n" + dimStyle.Render("↑/↓ to navigate  enter to select  q to quit"))

	case stepAPIKey:
		b.WriteString(promptStyle.Render("Step 1/2: "+m.result.Provider+" API key") + "\n\n")
		b.WriteString(m.apiKeyInput.View() + "\n")
		m.writeValidationErr(&b)
		b.WriteString("\n" + dimStyle.Render("enter to continue  ctrl+c to quit"))

	case stepValidateKey:
		b.WriteString(m.spinner.View() + " Validating " + m.result.Provider + " API key…\n")

	case stepToken:
		b.WriteString(promptStyle.Render("Step 2/2: Bearer token for "+m.result.BackendURL) + "\n\n")
		b.WriteString(m.tokenInput.View() + "\n")
		m.writeValidationErr(&b)
		b.WriteString("\n" + dimStyle.Render("enter to continue (empty skips)  ctrl+c to quit"))

	case stepValidateToken:
		b.WriteString(m.spinner.View() + " Checking the token against " + m.result.BackendURL + "…\n")

	case stepDone:
		b.WriteString(successStyle.Render("  Setup complete!  ") + "\n\n")
		if m.configPath != "" {
			b.WriteString(dimStyle.Render("Config written to: "+m.configPath) + "\n\n")
		}
		if m.warning != "" {
			b.WriteString(warnStyle.Render(m.warning) + "\n\n")
		}
		b.WriteString("Run " + promptStyle.Render("assistant serve") + " for a local backend and " +
			promptStyle.Render("assistant chat") + " to start talking.\n")
		b.WriteString("Run " + promptStyle.Render("assistant doctor") + " to verify setup.\n")

	case stepError:
		b.WriteString(errorStyle.Render("Setup failed: "+m.errFinal.Error()) + "\n")
	}

	return boxStyle.Render(b.String())
}

func (m initModel) writeValidationErr(b *strings.Builder) {
	if m.validationErr != "" {
		b.WriteString("\n" + errorStyle.Render("  "+m.validationErr) + "\n")
	}
}

func validateResponderKeyCmd(name, key string) tea.Cmd {
	return func() tea.Msg {
		if err := provider.ValidateKey(context.Background(), initHTTPClient, name, key, ""); err != nil {
			return validationErrorMsg{step: stepValidateKey, err: err}
		}
		return validationSuccessMsg{step: stepValidateKey}
	}
}

// validateBackendTokenCmd lists sessions with token. A rejected token is an
// error; an unreachable backend only produces a warning, since the wizard is
// often run before `assistant serve`.
func validateBackendTokenCmd(baseURL, token string) tea.Cmd {
	return func() tea.Msg {
		cl, err := client.New(client.Config{
			BaseURL:     baseURL,
			Credentials: secrets.StaticProvider(token),
			HTTPClient:  initHTTPClient,
		})
		if err != nil {
			return validationErrorMsg{step: stepValidateToken, err: err}
		}
		_, err = cl.ListSessions(context.Background())
		switch {
		case err == nil:
			return validationSuccessMsg{step: stepValidateToken}
		case sberr.HasCode(err, sberr.CodeClientBackendUnreachable):
			return validationSuccessMsg{
				step:    stepValidateToken,
				warning: "The backend was not reachable; the token was saved unverified.",
			}
		case sberr.IsUnauthorized(err):
			return validationErrorMsg{step: stepValidateToken, err: sberr.New(sberr.CodeCLIInputInvalid, "the backend rejected this token")}
		default:
			return validationErrorMsg{step: stepValidateToken, err: err}
		}
	}
}

func writeConfigCmd(result initResult, store secrets.Store, forceOverwrite bool) tea.Cmd {
	return func() tea.Msg {
		path, err := storeSecretsAndWriteConfig(result, store, forceOverwrite)
		if err != nil {
			return err
		}
		return configWrittenMsg{path: path}
	}
}

// apiKeyName is the keyring entry holding a responder's API key.
func apiKeyName(providerName string) string {
	return providerName + "-api-key"
}

// GenerateConfigYAML produces an assistant.yaml from the wizard result. API
// keys are referenced via keyring:// URIs; the backend token is read from the
// keyring without a config entry.
func GenerateConfigYAML(result initResult) string {
	var sb strings.Builder
	sb.WriteString("# Safe Bill assistant configuration, generated by `assistant init`.\n\n")

	sb.WriteString("backend:\n")
	fmt.Fprintf(&sb, "  base_url: %q\n\n", result.BackendURL)

	sb.WriteString("server:\n")
	sb.WriteString("  listen: \"127.0.0.1:8787\"\n\n")

	sb.WriteString("storage:\n")
	sb.WriteString("  backend: sqlite\n\n")

	sb.WriteString("responder:\n")
	fmt.Fprintf(&sb, "  provider: %s\n", result.Provider)
	if result.Provider != provider.EchoName {
		fmt.Fprintf(&sb, "  model: %q\n", defaultModelForProvider(result.Provider))
		fmt.Fprintf(&sb, "  api_key: %q\n", secrets.KeyringURI(secrets.DefaultService, apiKeyName(result.Provider)))
	}

	return sb.String()
}

// defaultModelForProvider returns a sensible default model for a responder.
func defaultModelForProvider(name string) string {
	switch name {
	case provider.NameAnthropic:
		return "claude-sonnet-4-5"
	case provider.NameOpenAI:
		return "gpt-4o"
	case provider.NameGoogle:
		return "gemini-2.0-flash"
	default:
		return name
	}
}

// storeSecretsAndWriteConfig saves the API key and token to the OS keyring and
// writes the config YAML.
//
// An existing config is only replaced when forceOverwrite is set or the file
// still holds the bootstrapped defaults.
func storeSecretsAndWriteConfig(result initResult, store secrets.Store, forceOverwrite bool) (string, error) {
	if result.APIKey != "" {
		if err := store.Store(secrets.DefaultService, apiKeyName(result.Provider), result.APIKey); err != nil {
			return "", sberr.Errorf(sberr.CodeSecretStoreFailure, "storing %s API key: %w", result.Provider, err)
		}
	}
	if result.Token != "" {
		if err := store.Store(secrets.DefaultService, secrets.TokenKey, result.Token); err != nil {
			return "", sberr.Errorf(sberr.CodeSecretStoreFailure, "storing backend token: %w", err)
		}
	}

	cfgPath, err := configPathForWrite()
	if err != nil {
		return "", err
	}

	if !forceOverwrite {
		if existing, readErr := os.ReadFile(cfgPath); readErr == nil && !bytes.Equal(existing, config.DefaultConfigYAML) {
			return "", sberr.Errorf(sberr.CodeConfigAlreadyExists,
				"config file already exists at %s; use --force to overwrite", cfgPath)
		}
	}

	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", sberr.Errorf(sberr.CodeConfigLoadReadFailure, "creating config directory %s: %w", dir, err)
	}

	if err := os.WriteFile(cfgPath, []byte(GenerateConfigYAML(result)), 0o600); err != nil {
		return "", sberr.Errorf(sberr.CodeConfigLoadReadFailure, "writing config to %s: %w", cfgPath, err)
	}

	return cfgPath, nil
}

// configPathForWrite returns where the wizard writes its config: the file
// already in use, or the default path. Tests override it.
var configPathForWrite = func() (string, error) {
	if used := viper.ConfigFileUsed(); used != "" {
		return used, nil
	}
	return config.DefaultConfigPath()
}

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Interactive setup wizard",
		Long: `Run an interactive wizard that walks you through:
  1. Choosing the responder used by the reference backend (echo, Anthropic, OpenAI, Google)
  2. Saving the bearer token for the assistant backend

API keys and the token are stored in the OS keyring. The config file only
holds keyring:// references, never the secrets themselves.

After completion, run:
  assistant serve    start the reference backend
  assistant chat     start a conversation
  assistant doctor   verify your setup`,
		Args: cobra.NoArgs,
		RunE: runInit,
	}

	cmd.Flags().Bool("force", false, "overwrite an existing config file")

	return cmd
}

func runInit(cmd *cobra.Command, _ []string) error {
	f, ok := cmd.InOrStdin().(*os.File)
	if !ok || !isTerminal(f) {
		_, _ = fmt.Fprintln(cmd.ErrOrStderr(),
			"assistant init requires an interactive terminal.\n"+
				"To configure the assistant non-interactively, edit ~/.config/assistant/assistant.yaml and use `assistant login --stdin`.")
		return sberr.New(sberr.CodeCLISetupFailure, "assistant init: not an interactive terminal")
	}

	forceOverwrite, _ := cmd.Flags().GetBool("force")

	backendURL := viper.GetString("backend.base_url")
	m := newInitModel(secretStoreFactory(), backendURL)
	m.forceOverwrite = forceOverwrite

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(cmd.Context()))
	finalModel, err := p.Run()
	if err != nil {
		return sberr.Errorf(sberr.CodeCLISetupFailure, "init wizard error: %w", err)
	}

	fm, ok := finalModel.(initModel)
	if !ok {
		return sberr.New(sberr.CodeCLISetupFailure, "unexpected model type after wizard")
	}

	if fm.errFinal != nil {
		return sberr.Errorf(sberr.CodeCLISetupFailure, "init failed: %w", fm.errFinal)
	}

	// Quitting early is not an error.
	return nil
}
