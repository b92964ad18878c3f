// SPDX-License-Identifier: Apache-2.0

package diff

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuoteIdentifier(t *testing.T) {
	t.Parallel()

	assert.Equal(t, `"users"`, quoteIdentifier("users"))
	assert.Equal(t, `"weird""name"`, quoteIdentifier(`weird"name`))

	long := make([]byte, 100)
	for i := range long {
		long[i] = 'a'
	}
	assert.Len(t, quoteIdentifier(string(long)), 65) // 63 chars + 2 quotes
}

func TestQuoteIdentifierList(t *testing.T) {
	t.Parallel()

	assert.Equal(t, `"id", "updated_at"`, quoteIdentifierList([]string{"id", "updated_at"}))
}
