// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Safe Bill Contributors

package main

import (
	"errors"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/safebill/assistant/internal/config"
	"github.com/safebill/assistant/internal/secrets"
	sberr "github.com/safebill/assistant/pkg/errors"
)

// NewRootCmd creates the root assistant command with all subcommands registered.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "assistant",
		Short:         "Safe Bill assistant",
		Long:          "Chat with the Safe Bill assistant from the terminal, browse past conversations, or run the reference backend.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := initViper(cmd); err != nil {
				return err
			}
			setupLogging(cmd.ErrOrStderr(), viper.GetViper())
			return nil
		},
	}

	root.PersistentFlags().StringP("config", "c", "", "path to config file")
	root.PersistentFlags().String("data-dir", "", "path to data directory")
	root.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")
	root.PersistentFlags().String("log-format", "", "log format: text or json (default from config)")

	root.AddCommand(
		newInitCmd(),
		newChatCmd(),
		newSessionCmd(),
		newServeCmd(),
		newLoginCmd(),
		newLogoutCmd(),
		newSecretCmd(),
		newTokenCmd(),
		newDoctorCmd(),
		newVersionCmd(),
	)

	return root
}

// initViper sets up the global Viper with defaults, env bindings, flag
// bindings, and optional config file so the standard precedence
// (flag > env > file > defaults) is handled uniformly. Each invocation starts
// from a clean Viper.
func initViper(cmd *cobra.Command) error {
	viper.Reset()
	v := viper.GetViper()

	config.SetDefaults(v)
	config.SetupEnv(v)

	if cfgFile, _ := cmd.Flags().GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return sberr.Errorf(sberr.CodeConfigLoadReadFailure, "reading config file: %w", err)
		}
	} else {
		// SetConfigType is left unset so Viper never falls back to the bare
		// name, which would match the ./assistant binary.
		v.SetConfigName("assistant")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/assistant")
		v.AddConfigPath("/etc/assistant")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return sberr.Errorf(sberr.CodeConfigLoadReadFailure, "reading config: %w", err)
			}
			if path := config.BootstrapConfig(); path != "" {
				v.SetConfigFile(path)
				if err := v.ReadInConfig(); err != nil {
					return sberr.Errorf(sberr.CodeConfigLoadReadFailure, "reading bootstrapped config: %w", err)
				}
			}
		}
	}
	if used := v.ConfigFileUsed(); used != "" {
		config.WarnInsecurePermissions(used)
	}

	flags := cmd.Root().PersistentFlags()
	for key, flag := range map[string]string{
		"data_dir":       "data-dir",
		"verbose":        "verbose",
		"logging.format": "log-format",
	} {
		f := flags.Lookup(flag)
		if !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return sberr.Errorf(sberr.CodeCLISetupFailure, "binding %s flag: %w", flag, err)
		}
	}

	if err := secrets.ResolveViperSecrets(v, secretStoreFactory()); err != nil {
		return err
	}
	return nil
}

// loadConfig decodes and validates the configuration initViper assembled.
func loadConfig() (*config.Config, error) {
	return config.FromViper(viper.GetViper())
}

// setupLogging installs the process-wide slog handler on w.
func setupLogging(w io.Writer, v *viper.Viper) {
	level := config.LoggingConfig{Level: v.GetString("logging.level")}.SlogLevel()
	if v.GetBool("verbose") {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if v.GetString("logging.format") == "json" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(h))
}
