// SPDX-License-Identifier: Apache-2.0

package pgsync

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pgsync/pgsync/pkg/diff"
)

func diffCmd() *cobra.Command {
	var sampleSize int

	cmd := &cobra.Command{
		Use:   "diff",
		Short: "Preview how many rows would be inserted or updated, without writing anything",
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

			diffs, err := diff.Preview(ctx, source, target, diff.PreviewOptions{Tables: tables, SampleSize: sampleSize})
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(diffs, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}

	cmd.Flags().IntVar(&sampleSize, "sample-size", 10, "Number of sample row ids to include per table")
	return cmd
}
