// SPDX-License-Identifier: Apache-2.0

package pgsync

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/pgsync/pgsync/cmd/pgsync/flags"
	"github.com/pgsync/pgsync/pkg/backup"
	"github.com/pgsync/pgsync/pkg/credential"
	"github.com/pgsync/pgsync/pkg/metrics"
	"github.com/pgsync/pgsync/pkg/sink"
	pgsyncsync "github.com/pgsync/pgsync/pkg/sync"
)

const metricsDir = ".pgsync/metrics"

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run (or resume) a row-level sync job",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			tables, err := selectedTables()
			if err != nil {
				return err
			}

			sourceURL, targetURL, err := flags.ResolveConnections(ctx, credential.NewEnvResolver())
			if err != nil {
				return err
			}

			tableConfigs := make([]pgsyncsync.TableConfig, len(tables))
			for i, t := range tables {
				tableConfigs[i] = pgsyncsync.TableConfig{TableName: t, Enabled: true}
			}

			jobID := uuid.NewString()
			logSink := sink.NewMulti(sink.FileConfig{Path: flags.LogFile(), MaxSizeMB: 100, MaxBackups: 3, MaxAgeDays: 28, Compress: true})
			defer logSink.Close()

			executor := pgsyncsync.New(nil, backup.New(backup.NewMemStore()), logSink)
			executor.Metrics = metrics.NewFileStore(metricsDir)

			cfg := pgsyncsync.JobConfig{
				JobID:                   jobID,
				SourceURL:               sourceURL,
				TargetURL:               targetURL,
				Tables:                  tableConfigs,
				Direction:               pgsyncsync.Direction(flags.Direction()),
				BatchSize:               flags.BatchSize(),
				BulkInsertSize:          flags.BulkInsertSize(),
				MaxRetries:              flags.MaxRetries(),
				JobTimeout:              flags.JobTimeout(),
				RateLimitOpsPerSecond:   flags.RateLimitOps(),
				RateLimitBytesPerSecond: flags.RateLimitBytes(),
				RequireValidation:       !flags.SkipValidation(),
			}

			result, err := executor.Execute(ctx, cfg, pgsyncsync.NewControlHandle())
			if err != nil {
				return err
			}
			if !result.Success {
				return fmt.Errorf("pgsync: job %s did not complete; stopped at table %s", jobID, checkpointTableHint(result))
			}

			fmt.Printf("job %s completed: %d table(s) synced\n", jobID, len(result.Tables))
			return nil
		},
	}
	return cmd
}

func checkpointTableHint(result *pgsyncsync.Result) string {
	if result.Checkpoint == nil {
		return "<unknown>"
	}
	return result.Checkpoint.LastTable
}
