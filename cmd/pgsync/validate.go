// SPDX-License-Identifier: Apache-2.0

package pgsync

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pgsync/pgsync/pkg/validate"
)

func validateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check that source and target schemas are compatible for a sync",
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

			result := validate.New().Validate(sourceSchema, targetSchema, tables)

			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))

			if !result.CanProceed {
				return fmt.Errorf("pgsync: %d critical validation issue(s) block this sync", result.SeverityHistogram[validate.SeverityCritical])
			}
			return nil
		},
	}
	return cmd
}
