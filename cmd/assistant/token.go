// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Safe Bill Contributors

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/safebill/assistant/internal/server"
	sberr "github.com/safebill/assistant/pkg/errors"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage bearer tokens for the reference backend",
	}
	cmd.AddCommand(newTokenMintCmd())
	return cmd
}

func newTokenMintCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mint",
		Short: "Sign a JWT accepted by `assistant serve`",
		Long: `Sign an HS256 token with server.auth.jwt_secret. The subject is the user
that owns the sessions created with the token.

  assistant token mint --user alice | assistant login --stdin`,
		Args: cobra.NoArgs,
		RunE: runTokenMint,
	}

	cmd.Flags().String("user", "", "user ID to put in the sub claim (required)")
	cmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func runTokenMint(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Server.Auth.JWTSecret == "" {
		return sberr.New(sberr.CodeCLIInputInvalid, "server.auth.jwt_secret is not configured")
	}

	user, _ := cmd.Flags().GetString("user")
	ttl, _ := cmd.Flags().GetDuration("ttl")

	token, err := server.MintToken(cfg.Server.Auth.JWTSecret, cfg.Server.Auth.JWTIssuer, user, ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
	return err
}
