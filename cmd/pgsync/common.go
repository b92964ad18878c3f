// SPDX-License-Identifier: Apache-2.0

package pgsync

import (
	"context"
	"fmt"

	"github.com/pgsync/pgsync/cmd/pgsync/flags"
	"github.com/pgsync/pgsync/internal/dbconn"
	"github.com/pgsync/pgsync/pkg/credential"
	"github.com/pgsync/pgsync/pkg/schema"
)

// openConnections resolves --source/--target through an EnvResolver and
// opens both connections in parallel, mirroring the pattern pkg/sync's
// preflight uses for a job's own connections.
func openConnections(ctx context.Context) (source, target dbconn.Conn, err error) {
	sourceURL, targetURL, err := flags.ResolveConnections(ctx, credential.NewEnvResolver())
	if err != nil {
		return nil, nil, err
	}
	return dbconn.OpenPair(ctx, sourceURL, targetURL)
}

// inspectBoth runs the schema inspector against both connections.
func inspectBoth(ctx context.Context, source, target dbconn.Conn) (*schema.DatabaseSchema, *schema.DatabaseSchema, error) {
	insp := schema.NewInspector("")
	sourceSchema, err := insp.Inspect(ctx, source)
	if err != nil {
		return nil, nil, fmt.Errorf("inspecting source: %w", err)
	}
	targetSchema, err := insp.Inspect(ctx, target)
	if err != nil {
		return nil, nil, fmt.Errorf("inspecting target: %w", err)
	}
	return sourceSchema, targetSchema, nil
}

func selectedTables() ([]string, error) {
	tables := flags.Tables()
	if len(tables) == 0 {
		return nil, errNoTablesSelected
	}
	return tables, nil
}
