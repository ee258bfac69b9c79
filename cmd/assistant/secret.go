// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Safe Bill Contributors

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/safebill/assistant/internal/secrets"
	sberr "github.com/safebill/assistant/pkg/errors"
)

func newSecretCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage secrets stored in the OS keyring",
		Long: "List and delete secrets stored under the " + secrets.DefaultService + " service in the operating system keyring.\n" +
			"Config values written as keyring://" + secrets.DefaultService + "/<name> are read from here.",
	}

	cmd.AddCommand(
		newSecretListCmd(),
		newSecretSetCmd(),
		newSecretDeleteCmd(),
	)

	return cmd
}

func newSecretListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all stored secret names",
		RunE:  runSecretList,
	}
}

func newSecretSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <name>",
		Short: "Store a secret, e.g. a responder API key or the JWT secret",
		Args:  cobra.ExactArgs(1),
		RunE:  runSecretSet,
	}
	cmd.Flags().Bool("stdin", false, "read the value from stdin")
	return cmd
}

func newSecretDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a secret by name",
		Args:  cobra.ExactArgs(1),
		RunE:  runSecretDelete,
	}
}

func runSecretList(cmd *cobra.Command, _ []string) error {
	store := secretStoreFactory()
	keys, err := store.List(secrets.DefaultService)
	if err != nil {
		return sberr.Errorf(sberr.CodeSecretListFailure, "listing secrets: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(keys) == 0 {
		_, _ = fmt.Fprintln(out, "No secrets stored.")
		return nil
	}

	for _, k := range keys {
		_, _ = fmt.Fprintln(out, k)
	}
	return nil
}

func runSecretSet(cmd *cobra.Command, args []string) error {
	name := args[0]
	value, err := readSecret(cmd, name)
	if err != nil {
		return err
	}

	if err := secretStoreFactory().Store(secrets.DefaultService, name, value); err != nil {
		return sberr.Errorf(sberr.CodeSecretStoreFailure, "storing secret %q: %w", name, err)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Stored secret: %s (use %s in config)\n", name, secrets.KeyringURI(secrets.DefaultService, name))
	return nil
}

func runSecretDelete(cmd *cobra.Command, args []string) error {
	name := args[0]
	store := secretStoreFactory()

	if err := store.Delete(secrets.DefaultService, name); err != nil {
		if sberr.HasCode(err, sberr.CodeSecretNotFound) {
			return sberr.Errorf(sberr.CodeSecretNotFound, "secret %q not found", name)
		}
		return sberr.Errorf(sberr.CodeSecretDeleteFailure, "deleting secret %q: %w", name, err)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted secret: %s\n", name)
	return nil
}
