// SPDX-License-Identifier: Apache-2.0

package backup_test

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pgsync/pgsync/pkg/backup"
)

func TestRestoreRefusesSecondAttempt(t *testing.T) {
	t.Parallel()

	store := backup.NewMemStore()
	mgr := backup.New(store)

	meta := &backup.Metadata{ID: "snap1", JobID: "job1"}
	// Seed the store directly so Restore has something to read before the
	// first (expected-to-fail, since pg_restore isn't present in this
	// environment) attempt marks the job restored.
	_, _ = store.Save(context.Background(), "snap1", emptyReader{})

	_ = mgr.Restore(context.Background(), "job1", meta, backup.ConnParams{Database: "target"})
	assert.True(t, mgr.HasRestored("job1"))

	err := mgr.Restore(context.Background(), "job1", meta, backup.ConnParams{Database: "target"})
	assert.ErrorContains(t, err, "already been restored")
}

type emptyReader struct{}

func (emptyReader) Read(p []byte) (int, error) { return 0, io.EOF }
