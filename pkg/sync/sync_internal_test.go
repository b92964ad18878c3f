// SPDX-License-Identifier: Apache-2.0

package sync

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/pgsync/pgsync/pkg/diff"
	"github.com/pgsync/pgsync/pkg/rowvalue"
	"github.com/pgsync/pgsync/pkg/schema"
)

func TestJobConfigWithDefaults(t *testing.T) {
	t.Parallel()

	cfg := JobConfig{}.withDefaults()

	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, 50, cfg.BulkInsertSize)
	assert.Equal(t, 50, cfg.CheckpointInterval)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.RetryDelay)
	assert.Equal(t, 2*time.Hour, cfg.JobTimeout)
	assert.Equal(t, 2*time.Minute, cfg.BatchTimeout)
	assert.Equal(t, float64(500), cfg.RateLimitOpsPerSecond)
	assert.Equal(t, float64(50*1024*1024), cfg.RateLimitBytesPerSecond)
}

func TestJobConfigWithDefaultsPreservesExplicitValues(t *testing.T) {
	t.Parallel()

	cfg := JobConfig{BatchSize: 7, MaxRetries: 1}.withDefaults()

	assert.Equal(t, 7, cfg.BatchSize)
	assert.Equal(t, 1, cfg.MaxRetries)
}

func TestEnabledTablesFiltersAndDefaultsStrategy(t *testing.T) {
	t.Parallel()

	cfg := JobConfig{Tables: []TableConfig{
		{TableName: "users", Enabled: true},
		{TableName: "orders", Enabled: true, ConflictStrategy: StrategySourceWins},
		{TableName: "audit_log", Enabled: false},
	}}

	names, strategies := cfg.enabledTables()

	assert.Equal(t, []string{"users", "orders"}, names)
	assert.Equal(t, StrategyLastWriteWins, strategies["users"])
	assert.Equal(t, StrategySourceWins, strategies["orders"])
	assert.NotContains(t, strategies, "audit_log")
}

func TestQuoteIdentifier(t *testing.T) {
	t.Parallel()

	assert.Equal(t, `"users"`, quoteIdentifier("users"))
	assert.Equal(t, `"weird""name"`, quoteIdentifier(`weird"name`))
	assert.Equal(t, `"nonulhere"`, quoteIdentifier("nonul\x00here"))
}

func TestQuoteIdentifierList(t *testing.T) {
	t.Parallel()

	assert.Equal(t, `"id", "name"`, quoteIdentifierList([]string{"id", "name"}))
}

func TestClassifyRowError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err      error
		contains string
	}{
		{errors.New(`duplicate key value violates unique constraint "users_pkey"`), "unique constraint"},
		{errors.New(`insert or update on table "orders" violates foreign key constraint`), "foreign key"},
		{errors.New(`null value in column "email" violates not-null constraint`), "not-null"},
		{errors.New(`new row for relation "accounts" violates check constraint "balance_nonneg"`), "check constraint"},
		{errors.New("connection reset by peer"), "connection reset by peer"},
	}

	for _, tc := range tests {
		got := classifyRowError(tc.err)
		assert.Contains(t, got, tc.contains)
	}
}

func TestContains(t *testing.T) {
	t.Parallel()

	assert.True(t, contains([]string{"a", "b", "c"}, "b"))
	assert.False(t, contains([]string{"a", "b", "c"}, "z"))
	assert.False(t, contains(nil, "a"))
}

func TestSameOrder(t *testing.T) {
	t.Parallel()

	assert.True(t, sameOrder([]string{"a", "b"}, []string{"a", "b"}))
	assert.False(t, sameOrder([]string{"a", "b"}, []string{"b", "a"}))
	assert.False(t, sameOrder([]string{"a"}, []string{"a", "b"}))
}

func TestAppendBoundedCapsAtLimit(t *testing.T) {
	t.Parallel()

	var msgs []string
	for i := 0; i < maxErrorMessagesPerTable+5; i++ {
		msgs = appendBounded(msgs, "error")
	}
	assert.Len(t, msgs, maxErrorMessagesPerTable)
}

func TestInsertColumnsExcludesGenerated(t *testing.T) {
	t.Parallel()

	table := &schema.DetailedTableSchema{
		Columns: []schema.DetailedColumn{
			{Name: "id"},
			{Name: "full_name"},
			{Name: "search_vector"},
		},
		GeneratedColumns: []string{"search_vector"},
	}

	assert.Equal(t, []string{"id", "full_name"}, insertColumns(table))
}

func TestColumnNamesNilTable(t *testing.T) {
	t.Parallel()

	assert.Nil(t, columnNames(nil))
}

func TestEstimateBatchBytesSumsRows(t *testing.T) {
	t.Parallel()

	row := rowvalue.NewRow()
	row.Set("id", rowvalue.String("abc"))
	row.Set("count", rowvalue.Int64(42))

	page := &diff.Page{Rows: []rowvalue.Row{row, row}}

	assert.Equal(t, 2*row.ByteSize(), estimateBatchBytes(page))
}

func TestCheckpointAtExcludesCurrentTable(t *testing.T) {
	t.Parallel()

	e := &Executor{}
	st := &jobState{results: map[string]*TableResult{
		"users":  {},
		"orders": {},
	}}

	cp := e.checkpointAt(st, "orders", "row-5", time.Time{})

	assert.Equal(t, "orders", cp.LastTable)
	assert.Equal(t, "row-5", cp.LastRowID)
	assert.ElementsMatch(t, []string{"users"}, cp.ProcessedTables)
}

func TestControlHandleShouldStop(t *testing.T) {
	t.Parallel()

	h := NewControlHandle()
	assert.False(t, h.shouldStop())

	h.Pause()
	assert.True(t, h.shouldStop())
	assert.True(t, h.isPaused())
	assert.False(t, h.isCancelled())

	h2 := NewControlHandle()
	h2.Cancel()
	assert.True(t, h2.shouldStop())
	assert.True(t, h2.isCancelled())
}
