// SPDX-License-Identifier: Apache-2.0

// Package pgsync assembles the pgsync command-line tree: sync, diff,
// validate, plan, and status, each a thin cobra wrapper around the pkg/
// packages that do the actual work (spec.md §6, SPEC_FULL.md §2.1).
package pgsync

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pgsync/pgsync/cmd/pgsync/flags"
)

// Version is set at build time via -ldflags.
var Version = "development"

func init() {
	viper.SetEnvPrefix("PGSYNC")
	viper.AutomaticEnv()

	flags.ConnectionFlags(rootCmd)
}

var rootCmd = &cobra.Command{
	Use:          "pgsync",
	Short:        "Incremental, idempotent row-level replication between two PostgreSQL databases",
	SilenceUsage: true,
	Version:      Version,
}

// Execute runs the root command.
func Execute() error {
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(diffCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(statusCmd())

	return rootCmd.Execute()
}
