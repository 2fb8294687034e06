// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app provides the entry point for the grantd command-line
// application.
package app

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/grantd/grantd/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:               "grantd",
	DisableAutoGenTag: true,
	Short:             "grantd is an embeddable OAuth2 authorization server",
	Long: `grantd is an OAuth2 authorization and token issuance server.

It implements the authorization code (with PKCE), client credentials,
refresh token, resource owner password, and optionally implicit grants,
issues JWT access tokens, and serves the JWKS and discovery documents
resource servers need to verify them.`,
	Run: func(cmd *cobra.Command, _ []string) {
		if err := cmd.Help(); err != nil {
			logger.Errorf("Error displaying help: %v", err)
		}
	},
}

// NewRootCmd creates the root command for the grantd CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().String("config", "", "Path to the configuration file")
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}
