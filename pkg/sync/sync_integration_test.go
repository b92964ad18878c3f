// SPDX-License-Identifier: Apache-2.0

package sync_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgsync/pgsync/internal/testutils"
	"github.com/pgsync/pgsync/pkg/sink"
	pgsyncsync "github.com/pgsync/pgsync/pkg/sync"
)

func TestMain(m *testing.M) {
	testutils.SharedTestMain(m)
}

const schemaDDL = `
CREATE TABLE users (
	id uuid PRIMARY KEY,
	name text,
	updated_at timestamptz NOT NULL
);
CREATE TABLE orders (
	id uuid PRIMARY KEY,
	user_id uuid REFERENCES users(id),
	updated_at timestamptz NOT NULL
);
`

func mustExec(t *testing.T, db *sql.DB, query string, args ...interface{}) {
	t.Helper()
	_, err := db.Exec(query, args...)
	require.NoError(t, err)
}

func baseTableConfig() []pgsyncsync.TableConfig {
	return []pgsyncsync.TableConfig{
		{TableName: "users", Enabled: true},
		{TableName: "orders", Enabled: true},
	}
}

// TestScenarioS1FreshOneWaySync exercises a from-empty one-way sync: every
// source row must be inserted, in FK-respecting table order.
func TestScenarioS1FreshOneWaySync(t *testing.T) {
	t.Parallel()

	testutils.WithSourceAndTargetDatabases(t, func(sourceURL, targetURL string) {
		ctx := context.Background()

		sourceDB, err := sql.Open("postgres", sourceURL)
		require.NoError(t, err)
		defer sourceDB.Close()
		targetDB, err := sql.Open("postgres", targetURL)
		require.NoError(t, err)
		defer targetDB.Close()

		mustExec(t, sourceDB, schemaDDL)
		mustExec(t, targetDB, schemaDDL)

		now := time.Now().UTC().Truncate(time.Microsecond)
		userIDs := []string{uuid.NewString(), uuid.NewString(), uuid.NewString()}
		for _, id := range userIDs {
			mustExec(t, sourceDB, "INSERT INTO users (id, name, updated_at) VALUES ($1, $2, $3)", id, "user-"+id[:8], now)
		}
		orderIDs := []string{uuid.NewString(), uuid.NewString()}
		for i, id := range orderIDs {
			mustExec(t, sourceDB, "INSERT INTO orders (id, user_id, updated_at) VALUES ($1, $2, $3)", id, userIDs[i], now)
		}

		executor := pgsyncsync.New(nil, nil, nil)
		cfg := pgsyncsync.JobConfig{
			JobID:     "s1",
			SourceURL: sourceURL,
			TargetURL: targetURL,
			Tables:    baseTableConfig(),
			Direction: pgsyncsync.DirectionOneWay,
		}

		result, err := executor.Execute(ctx, cfg, pgsyncsync.NewControlHandle())
		require.NoError(t, err)
		require.True(t, result.Success)

		assert.EqualValues(t, 3, result.Tables["users"].Inserted)
		assert.EqualValues(t, 0, result.Tables["users"].Updated)
		assert.EqualValues(t, 2, result.Tables["orders"].Inserted)

		var count int
		require.NoError(t, targetDB.QueryRow("SELECT count(*) FROM users").Scan(&count))
		assert.Equal(t, 3, count)
		require.NoError(t, targetDB.QueryRow("SELECT count(*) FROM orders").Scan(&count))
		assert.Equal(t, 2, count)
	})
}

// TestScenarioS2IncrementalSync reruns a sync after the source has one
// updated row and one new row: only those two rows should be written.
func TestScenarioS2IncrementalSync(t *testing.T) {
	t.Parallel()

	testutils.WithSourceAndTargetDatabases(t, func(sourceURL, targetURL string) {
		ctx := context.Background()

		sourceDB, err := sql.Open("postgres", sourceURL)
		require.NoError(t, err)
		defer sourceDB.Close()
		targetDB, err := sql.Open("postgres", targetURL)
		require.NoError(t, err)
		defer targetDB.Close()

		mustExec(t, sourceDB, schemaDDL)
		mustExec(t, targetDB, schemaDDL)

		base := time.Now().UTC().Truncate(time.Microsecond)
		userIDs := []string{uuid.NewString(), uuid.NewString(), uuid.NewString()}
		for _, id := range userIDs {
			mustExec(t, sourceDB, "INSERT INTO users (id, name, updated_at) VALUES ($1, $2, $3)", id, "orig-"+id[:8], base)
		}

		executor := pgsyncsync.New(nil, nil, nil)
		cfg := pgsyncsync.JobConfig{
			JobID:     "s2-first",
			SourceURL: sourceURL,
			TargetURL: targetURL,
			Tables:    []pgsyncsync.TableConfig{{TableName: "users", Enabled: true}},
			Direction: pgsyncsync.DirectionOneWay,
		}
		result, err := executor.Execute(ctx, cfg, pgsyncsync.NewControlHandle())
		require.NoError(t, err)
		require.True(t, result.Success)
		require.EqualValues(t, 3, result.Tables["users"].Inserted)

		mustExec(t, sourceDB, "UPDATE users SET name = 'renamed', updated_at = $2 WHERE id = $1", userIDs[0], base.Add(time.Second))
		newUserID := uuid.NewString()
		mustExec(t, sourceDB, "INSERT INTO users (id, name, updated_at) VALUES ($1, $2, $3)", newUserID, "new-user", base)

		cfg.JobID = "s2-second"
		result, err = executor.Execute(ctx, cfg, pgsyncsync.NewControlHandle())
		require.NoError(t, err)
		require.True(t, result.Success)

		assert.EqualValues(t, 1, result.Tables["users"].Inserted)
		assert.EqualValues(t, 1, result.Tables["users"].Updated)
		assert.EqualValues(t, 2, result.Tables["users"].Skipped.AlreadySynced)
	})
}

// TestScenarioS3TwoWayLastWriteWins verifies that when the target's row is
// newer, last_write_wins leaves the target untouched and records a conflict.
func TestScenarioS3TwoWayLastWriteWins(t *testing.T) {
	t.Parallel()

	testutils.WithSourceAndTargetDatabases(t, func(sourceURL, targetURL string) {
		ctx := context.Background()

		sourceDB, err := sql.Open("postgres", sourceURL)
		require.NoError(t, err)
		defer sourceDB.Close()
		targetDB, err := sql.Open("postgres", targetURL)
		require.NoError(t, err)
		defer targetDB.Close()

		mustExec(t, sourceDB, schemaDDL)
		mustExec(t, targetDB, schemaDDL)

		id := uuid.NewString()
		base := time.Now().UTC().Truncate(time.Microsecond)
		mustExec(t, sourceDB, "INSERT INTO users (id, name, updated_at) VALUES ($1, 'source-name', $2)", id, base.Add(2*time.Second))
		mustExec(t, targetDB, "INSERT INTO users (id, name, updated_at) VALUES ($1, 'target-name', $2)", id, base.Add(5*time.Second))

		executor := pgsyncsync.New(nil, nil, nil)
		cfg := pgsyncsync.JobConfig{
			JobID:     "s3",
			SourceURL: sourceURL,
			TargetURL: targetURL,
			Tables: []pgsyncsync.TableConfig{
				{TableName: "users", Enabled: true, ConflictStrategy: pgsyncsync.StrategyLastWriteWins},
			},
			Direction: pgsyncsync.DirectionTwoWay,
		}

		result, err := executor.Execute(ctx, cfg, pgsyncsync.NewControlHandle())
		require.NoError(t, err)
		require.True(t, result.Success)

		assert.EqualValues(t, 1, result.Tables["users"].Skipped.Conflict)

		var name string
		require.NoError(t, targetDB.QueryRow("SELECT name FROM users WHERE id = $1", id).Scan(&name))
		assert.Equal(t, "target-name", name)
	})
}

// TestScenarioS4ManualConflict verifies the manual strategy records a
// Conflict with both timestamps rather than silently resolving it.
func TestScenarioS4ManualConflict(t *testing.T) {
	t.Parallel()

	testutils.WithSourceAndTargetDatabases(t, func(sourceURL, targetURL string) {
		ctx := context.Background()

		sourceDB, err := sql.Open("postgres", sourceURL)
		require.NoError(t, err)
		defer sourceDB.Close()
		targetDB, err := sql.Open("postgres", targetURL)
		require.NoError(t, err)
		defer targetDB.Close()

		mustExec(t, sourceDB, schemaDDL)
		mustExec(t, targetDB, schemaDDL)

		id := uuid.NewString()
		base := time.Now().UTC().Truncate(time.Microsecond)
		mustExec(t, sourceDB, "INSERT INTO users (id, name, updated_at) VALUES ($1, 'source-name', $2)", id, base.Add(2*time.Second))
		mustExec(t, targetDB, "INSERT INTO users (id, name, updated_at) VALUES ($1, 'target-name', $2)", id, base.Add(5*time.Second))

		executor := pgsyncsync.New(nil, nil, nil)
		cfg := pgsyncsync.JobConfig{
			JobID:     "s4",
			SourceURL: sourceURL,
			TargetURL: targetURL,
			Tables: []pgsyncsync.TableConfig{
				{TableName: "users", Enabled: true, ConflictStrategy: pgsyncsync.StrategyManual},
			},
			Direction: pgsyncsync.DirectionTwoWay,
		}

		result, err := executor.Execute(ctx, cfg, pgsyncsync.NewControlHandle())
		require.NoError(t, err)
		require.True(t, result.Success)

		require.Len(t, result.Tables["users"].Conflicts, 1)
		conflict := result.Tables["users"].Conflicts[0]
		assert.Equal(t, id, conflict.RowID)
		assert.True(t, conflict.TargetUpdated.After(conflict.SourceUpdated))
	})
}

// TestScenarioS5ResumeAfterCheckpoint pauses a job mid-table and verifies
// that resuming with the returned checkpoint reaches the same end state a
// single uninterrupted run would.
func TestScenarioS5ResumeAfterCheckpoint(t *testing.T) {
	t.Parallel()

	testutils.WithSourceAndTargetDatabases(t, func(sourceURL, targetURL string) {
		ctx := context.Background()

		sourceDB, err := sql.Open("postgres", sourceURL)
		require.NoError(t, err)
		defer sourceDB.Close()
		targetDB, err := sql.Open("postgres", targetURL)
		require.NoError(t, err)
		defer targetDB.Close()

		mustExec(t, sourceDB, schemaDDL)
		mustExec(t, targetDB, schemaDDL)

		now := time.Now().UTC().Truncate(time.Microsecond)
		userIDs := []string{uuid.NewString(), uuid.NewString(), uuid.NewString()}
		for _, id := range userIDs {
			mustExec(t, sourceDB, "INSERT INTO users (id, name, updated_at) VALUES ($1, $2, $3)", id, "user-"+id[:8], now)
		}

		progressSink := sink.NewChannel(100)
		executor := pgsyncsync.New(nil, nil, progressSink)
		control := pgsyncsync.NewControlHandle()

		cfg := pgsyncsync.JobConfig{
			JobID:     "s5",
			SourceURL: sourceURL,
			TargetURL: targetURL,
			Tables:    []pgsyncsync.TableConfig{{TableName: "users", Enabled: true}},
			Direction: pgsyncsync.DirectionOneWay,
			BatchSize: 1,
		}

		resultCh := make(chan *pgsyncsync.Result, 1)
		errCh := make(chan error, 1)
		go func() {
			result, err := executor.Execute(ctx, cfg, control)
			resultCh <- result
			errCh <- err
		}()

		select {
		case <-progressSink.ProgressCh:
			control.Pause()
		case <-time.After(10 * time.Second):
			t.Fatal("timed out waiting for first progress update")
		}

		result := <-resultCh
		require.NoError(t, <-errCh)
		require.False(t, result.Success)
		require.NotNil(t, result.Checkpoint)
		assert.Equal(t, "users", result.Checkpoint.LastTable)

		resumeExecutor := pgsyncsync.New(nil, nil, nil)
		cfg.Checkpoint = result.Checkpoint
		finalResult, err := resumeExecutor.Execute(ctx, cfg, pgsyncsync.NewControlHandle())
		require.NoError(t, err)
		require.True(t, finalResult.Success)

		var count int
		require.NoError(t, targetDB.QueryRow("SELECT count(*) FROM users").Scan(&count))
		assert.Equal(t, 3, count)
	})
}
