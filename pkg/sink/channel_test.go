// SPDX-License-Identifier: Apache-2.0

package sink_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgsync/pgsync/pkg/sink"
)

func TestChannelPublishesProgressAndLogs(t *testing.T) {
	t.Parallel()

	ch := sink.NewChannel(4)
	ch.Progress(sink.Progress{JobID: "job1", Table: "users", RowsDone: 1, RowsTotal: 10})
	ch.Info("started", "table", "users")

	select {
	case p := <-ch.ProgressCh:
		assert.Equal(t, "users", p.Table)
	default:
		t.Fatal("expected a progress update")
	}

	select {
	case e := <-ch.LogCh:
		assert.Equal(t, "started", e.Msg)
	default:
		t.Fatal("expected a log entry")
	}

	require.NoError(t, ch.Close())
}

func TestChannelPublishesCheckpointAndComplete(t *testing.T) {
	t.Parallel()

	ch := sink.NewChannel(4)
	ch.Checkpoint(sink.Checkpoint{JobID: "job1", Table: "users", LastRowID: "42"})
	ch.Complete(true, nil)

	select {
	case cp := <-ch.CheckpointCh:
		assert.Equal(t, "42", cp.LastRowID)
	default:
		t.Fatal("expected a checkpoint update")
	}

	select {
	case e := <-ch.CompleteCh:
		assert.True(t, e.Success)
		assert.Nil(t, e.Checkpoint)
	default:
		t.Fatal("expected a completion event")
	}

	require.NoError(t, ch.Close())
}

func TestChannelDropsWhenFull(t *testing.T) {
	t.Parallel()

	ch := sink.NewChannel(1)
	ch.Progress(sink.Progress{JobID: "job1"})
	ch.Progress(sink.Progress{JobID: "job2"}) // dropped, buffer full

	assert.Len(t, ch.ProgressCh, 1)
	require.NoError(t, ch.Close())
}
