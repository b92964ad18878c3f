// SPDX-License-Identifier: Apache-2.0

package pgsync

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pgsync/pgsync/pkg/migrate"
)

func planCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Generate the idempotent DDL that would align the target schema with the source",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			tables, err := selectedTables()
			if err != nil {
				return err
			}

			source, target, err := openConnections(ctx)
			if err != nil {
				return err
			}
			defer source.Close()
			defer target.Close()

			sourceSchema, targetSchema, err := inspectBoth(ctx, source, target)
			if err != nil {
				return err
			}

			plan := migrate.New().Plan(sourceSchema, targetSchema, tables)

			out, err := json.MarshalIndent(plan, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
	return cmd
}
