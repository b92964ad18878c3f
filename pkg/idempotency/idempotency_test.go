// SPDX-License-Identifier: Apache-2.0

package idempotency_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgsync/pgsync/pkg/idempotency"
)

func TestMarkAndIsRowProcessed(t *testing.T) {
	t.Parallel()

	tracker := idempotency.New(
		idempotency.WithEphemeralStore(idempotency.NewMemEphemeralStore()),
		idempotency.WithDurableStore(idempotency.NewMemDurableStore()),
	)
	ctx := context.Background()

	processed, err := tracker.IsRowProcessed(ctx, "job1", "users", "row1")
	require.NoError(t, err)
	assert.False(t, processed)

	require.NoError(t, tracker.MarkRowProcessed(ctx, "job1", "users", "row1", idempotency.OperationInsert, "batch1"))

	processed, err = tracker.IsRowProcessed(ctx, "job1", "users", "row1")
	require.NoError(t, err)
	assert.True(t, processed)

	processed, err = tracker.IsRowProcessed(ctx, "job1", "users", "row2")
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestGetProcessedRowIDsBatches(t *testing.T) {
	t.Parallel()

	durable := idempotency.NewMemDurableStore()
	tracker := idempotency.New(idempotency.WithDurableStore(durable))
	ctx := context.Background()

	ids := []string{"a", "b", "c", "d", "e"}
	require.NoError(t, tracker.MarkRowsProcessed(ctx, "job1", "users", ids[:3], idempotency.OperationInsert, "batch1"))

	found, err := tracker.GetProcessedRowIDs(ctx, "job1", "users", ids, 2)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"a": true, "b": true, "c": true}, found)
}

func TestTrackerDegradesToNoOpWithoutStores(t *testing.T) {
	t.Parallel()

	tracker := idempotency.New()
	ctx := context.Background()

	require.NoError(t, tracker.MarkRowProcessed(ctx, "job1", "users", "row1", idempotency.OperationInsert, ""))

	processed, err := tracker.IsRowProcessed(ctx, "job1", "users", "row1")
	require.NoError(t, err)
	assert.False(t, processed, "no-op tracker must report every row as unprocessed")
}

func TestMemEphemeralStoreExpiry(t *testing.T) {
	t.Parallel()

	store := idempotency.NewMemEphemeralStore()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k1", -1*time.Second))

	exists, err := store.Exists(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, exists, "expired key must report absent")
}
