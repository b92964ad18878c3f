// SPDX-License-Identifier: Apache-2.0

package flags

import (
	"context"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pgsync/pgsync/pkg/credential"
)

func SourceRef() string { return viper.GetString("SOURCE") }
func TargetRef() string { return viper.GetString("TARGET") }

func Tables() []string {
	raw := viper.GetString("TABLES")
	if raw == "" {
		return nil
	}
	var out []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func Direction() string          { return viper.GetString("DIRECTION") }
func BatchSize() int             { return viper.GetInt("BATCH_SIZE") }
func BulkInsertSize() int        { return viper.GetInt("BULK_INSERT_SIZE") }
func MaxRetries() int            { return viper.GetInt("MAX_RETRIES") }
func JobTimeout() time.Duration  { return viper.GetDuration("JOB_TIMEOUT") }
func RateLimitOps() float64      { return viper.GetFloat64("RATE_LIMIT_OPS") }
func RateLimitBytes() float64    { return viper.GetFloat64("RATE_LIMIT_BYTES") }
func SkipValidation() bool       { return viper.GetBool("SKIP_VALIDATION") }
func LogFile() string            { return viper.GetString("LOG_FILE") }

// ConnectionFlags registers the shared source/target/table selection flags
// used by every subcommand that touches a database, mirroring pgroll's
// PgConnectionFlags (cmd/flags/flags.go in the teacher's tree) generalized
// to a source+target pair.
func ConnectionFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("source", "", "Source connection reference or postgres:// URL")
	cmd.PersistentFlags().String("target", "", "Target connection reference or postgres:// URL")
	cmd.PersistentFlags().String("tables", "", "Comma-separated list of tables to sync")
	cmd.PersistentFlags().String("direction", "one_way", "Sync direction: one_way or two_way")
	cmd.PersistentFlags().Int("batch-size", 100, "Rows fetched per page from the source")
	cmd.PersistentFlags().Int("bulk-insert-size", 50, "Rows per multi-value INSERT statement")
	cmd.PersistentFlags().Int("max-retries", 3, "Maximum retry attempts for transient errors")
	cmd.PersistentFlags().Duration("job-timeout", 2*time.Hour, "Overall job timeout")
	cmd.PersistentFlags().Float64("rate-limit-ops", 500, "Maximum row operations per second")
	cmd.PersistentFlags().Float64("rate-limit-bytes", 50*1024*1024, "Maximum bytes per second")
	cmd.PersistentFlags().Bool("skip-validation", false, "Skip pre-flight schema validation")
	cmd.PersistentFlags().String("log-file", "pgsync.log", "Path to the rotating log file")

	viper.BindPFlag("SOURCE", cmd.PersistentFlags().Lookup("source"))
	viper.BindPFlag("TARGET", cmd.PersistentFlags().Lookup("target"))
	viper.BindPFlag("TABLES", cmd.PersistentFlags().Lookup("tables"))
	viper.BindPFlag("DIRECTION", cmd.PersistentFlags().Lookup("direction"))
	viper.BindPFlag("BATCH_SIZE", cmd.PersistentFlags().Lookup("batch-size"))
	viper.BindPFlag("BULK_INSERT_SIZE", cmd.PersistentFlags().Lookup("bulk-insert-size"))
	viper.BindPFlag("MAX_RETRIES", cmd.PersistentFlags().Lookup("max-retries"))
	viper.BindPFlag("JOB_TIMEOUT", cmd.PersistentFlags().Lookup("job-timeout"))
	viper.BindPFlag("RATE_LIMIT_OPS", cmd.PersistentFlags().Lookup("rate-limit-ops"))
	viper.BindPFlag("RATE_LIMIT_BYTES", cmd.PersistentFlags().Lookup("rate-limit-bytes"))
	viper.BindPFlag("SKIP_VALIDATION", cmd.PersistentFlags().Lookup("skip-validation"))
	viper.BindPFlag("LOG_FILE", cmd.PersistentFlags().Lookup("log-file"))
}

// ResolveConnections turns the configured --source/--target references into
// usable Postgres URLs through resolver (spec.md §6.1's CredentialResolver
// collaborator).
func ResolveConnections(ctx context.Context, resolver credential.Resolver) (sourceURL, targetURL string, err error) {
	sourceURL, err = resolver.Resolve(ctx, SourceRef())
	if err != nil {
		return "", "", err
	}
	targetURL, err = resolver.Resolve(ctx, TargetRef())
	if err != nil {
		return "", "", err
	}
	return sourceURL, targetURL, nil
}
