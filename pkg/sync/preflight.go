// SPDX-License-Identifier: Apache-2.0

package sync

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pgsync/pgsync/internal/dbconn"
	"github.com/pgsync/pgsync/pkg/backup"
	"github.com/pgsync/pgsync/pkg/metrics"
	"github.com/pgsync/pgsync/pkg/ratelimit"
	"github.com/pgsync/pgsync/pkg/schema"
	"github.com/pgsync/pgsync/pkg/validate"
)

// preflight implements spec.md §4.9.2 in order: reject empty table sets,
// open connections, start metrics, inspect both schemas (and validate them
// when RequireValidation is set), optionally back up the target, resolve
// circular FK dependencies, and compute topological table order.
func (e *Executor) preflight(ctx context.Context, cfg JobConfig, control *ControlHandle) (*jobState, error) {
	names, strategies := cfg.enabledTables()
	if len(names) == 0 {
		return nil, fmt.Errorf("sync: no tables enabled for job %s", cfg.JobID)
	}

	var source, target dbconn.Conn
	err := withRetryWrapper(ctx, cfg, func(ctx context.Context) error {
		var openErr error
		source, target, openErr = dbconn.OpenPair(ctx, cfg.SourceURL, cfg.TargetURL)
		return openErr
	})
	if err != nil {
		return nil, fmt.Errorf("opening connections: %w", err)
	}
	opened := false
	defer func() {
		if !opened {
			source.Close()
			target.Close()
		}
	}()

	st := &jobState{
		cfg:        cfg,
		control:    control,
		source:     source,
		target:     target,
		strategies: strategies,
		limiter:    ratelimit.New(cfg.RateLimitOpsPerSecond, cfg.RateLimitBytesPerSecond),
		metrics:    metrics.New(cfg.JobID, e.Metrics),
		deadline:   time.Now().Add(cfg.JobTimeout),
		results:    map[string]*TableResult{},
	}

	sourceSchema, err := e.inspector.Inspect(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("inspecting source schema: %w", err)
	}
	targetSchema, err := e.inspector.Inspect(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("inspecting target schema: %w", err)
	}
	st.sourceSchema = sourceSchema
	st.targetSchema = targetSchema

	if cfg.RequireValidation {
		result := e.validator.Validate(sourceSchema, targetSchema, names)
		if !result.CanProceed {
			return nil, fmt.Errorf("sync: schema validation blocks job %s: %d critical issues", cfg.JobID, result.SeverityHistogram[validate.SeverityCritical])
		}
	}

	if cfg.Checkpoint == nil && e.Backup != nil {
		meta, err := e.Backup.Snapshot(ctx, cfg.JobID, connParamsFromURL(cfg.TargetURL))
		if err != nil {
			e.logError("pre-sync backup failed (continuing without one): %v", err)
		} else {
			st.backupID = meta.ID
		}
	}

	cycles := validate.DetectCircularDependencies(sourceSchema.Tables, names)
	for _, cycle := range cycles {
		for _, table := range cycle {
			e.deferConstraints(ctx, target, sourceSchema, table)
		}
	}

	order := validate.SyncOrder(sourceSchema.Tables, names)
	if !sameOrder(order, names) {
		e.logInfo("table sync order differs from input order: %v", order)
	}
	st.tableOrder = order

	opened = true
	return st, nil
}

// deferConstraints attempts SET CONSTRAINTS ... DEFERRED for every FK on
// table, ignoring failures for FKs that are not DEFERRABLE (spec.md
// §4.9.2 step 6).
func (e *Executor) deferConstraints(ctx context.Context, target dbconn.Conn, src *schema.DatabaseSchema, table string) {
	t := src.GetTable(table)
	if t == nil {
		return
	}
	for _, fk := range t.ForeignKeys {
		stmt := fmt.Sprintf(`SET CONSTRAINTS %s DEFERRED`, quoteIdentifier(fk.Name))
		if _, err := target.ExecContext(ctx, stmt); err != nil {
			continue
		}
	}
}

func sameOrder(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// connParamsFromURL breaks a postgres:// connection URL into the discrete
// flags pg_dump/pg_restore expect, mirroring the fields lib/pq itself
// extracts when opening a connection from the same URL.
func connParamsFromURL(rawURL string) backup.ConnParams {
	u, err := url.Parse(rawURL)
	if err != nil {
		return backup.ConnParams{}
	}

	params := backup.ConnParams{
		Host:     u.Hostname(),
		Database: strings.TrimPrefix(u.Path, "/"),
	}
	if u.User != nil {
		params.User = u.User.Username()
		params.Password, _ = u.User.Password()
	}
	if port := u.Port(); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			params.Port = p
		}
	}
	if sslmode := u.Query().Get("sslmode"); sslmode != "" {
		params.SSLMode = sslmode
	}
	return params
}

// quoteIdentifier mirrors pkg/diff's identifier sanitation (spec.md
// §4.9.5); duplicated here rather than imported to keep sync decoupled
// from diff's internal package.
func quoteIdentifier(name string) string {
	name = strings.ReplaceAll(name, "\x00", "")
	if len(name) > 63 {
		name = name[:63]
	}
	name = strings.ReplaceAll(name, `"`, `""`)
	return `"` + name + `"`
}
