// SPDX-License-Identifier: Apache-2.0

package pgsync

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pgsync/pgsync/pkg/metrics"
)

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show the last recorded outcome of a sync job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID := args[0]

			store := metrics.NewFileStore(metricsDir)
			record, err := store.Get(jobID)
			if err != nil {
				return err
			}

			fmt.Println(record.Summary())
			return nil
		},
	}
	return cmd
}
