// SPDX-License-Identifier: Apache-2.0

package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgsync/pgsync/pkg/retry"
)

func TestClassifyTransientPqError(t *testing.T) {
	t.Parallel()
	err := &pq.Error{Code: "40001"}
	assert.Equal(t, retry.ClassTransient, retry.Classify(err))
}

func TestClassifyPermanentPqError(t *testing.T) {
	t.Parallel()
	err := &pq.Error{Code: "23505"}
	assert.Equal(t, retry.ClassPermanent, retry.Classify(err))
}

func TestClassifyFatalBySubstring(t *testing.T) {
	t.Parallel()
	err := errors.New("FATAL: password authentication failed for user \"pgsync\"")
	assert.Equal(t, retry.ClassFatal, retry.Classify(err))
}

func TestWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	t.Parallel()

	attempts := 0
	err := retry.WithRetry(context.Background(), retry.Config{MaxAttempts: 5, MaxBackoff: time.Millisecond, BaseInterval: time.Millisecond}, func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return &pq.Error{Code: "40001"}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestWithRetryDoesNotRetryPermanentErrors(t *testing.T) {
	t.Parallel()

	attempts := 0
	err := retry.WithRetry(context.Background(), retry.Config{MaxAttempts: 5, MaxBackoff: time.Millisecond, BaseInterval: time.Millisecond}, func(ctx context.Context) error {
		attempts++
		return &pq.Error{Code: "23505"}
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	t.Parallel()

	cb := retry.NewCircuitBreaker(2, time.Hour)
	failing := func(ctx context.Context) error { return errors.New("boom") }

	_ = cb.Execute(context.Background(), failing)
	_ = cb.Execute(context.Background(), failing)

	err := cb.Execute(context.Background(), func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, retry.ErrCircuitOpen)
}
