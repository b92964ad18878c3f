// SPDX-License-Identifier: Apache-2.0

package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pgsync/pgsync/pkg/schema"
)

func tableWithFKs(name string, refs ...string) *schema.DetailedTableSchema {
	t := &schema.DetailedTableSchema{TableName: name}
	for _, r := range refs {
		t.ForeignKeys = append(t.ForeignKeys, schema.ForeignKey{
			Name: name + "_" + r + "_fkey", ReferencedTable: r,
		})
	}
	return t
}

func TestSyncOrderRespectsForeignKeys(t *testing.T) {
	t.Parallel()

	tables := map[string]*schema.DetailedTableSchema{
		"users":       tableWithFKs("users"),
		"orders":      tableWithFKs("orders", "users"),
		"order_items": tableWithFKs("order_items", "orders"),
	}
	selected := []string{"order_items", "orders", "users"}

	order := SyncOrder(tables, selected)

	assert.Equal(t, []string{"users", "orders", "order_items"}, order)
}

func TestSyncOrderIndependentTablesAreDeterministic(t *testing.T) {
	t.Parallel()

	tables := map[string]*schema.DetailedTableSchema{
		"a": tableWithFKs("a"),
		"b": tableWithFKs("b"),
	}
	order := SyncOrder(tables, []string{"b", "a"})

	assert.Equal(t, []string{"a", "b"}, order)
}

func TestDetectCircularDependenciesFindsCycle(t *testing.T) {
	t.Parallel()

	tables := map[string]*schema.DetailedTableSchema{
		"a": tableWithFKs("a", "b"),
		"b": tableWithFKs("b", "a"),
	}
	cycles := DetectCircularDependencies(tables, []string{"a", "b"})

	if assert.Len(t, cycles, 1) {
		assert.ElementsMatch(t, []string{"a", "b"}, cycles[0])
	}
}

func TestDetectCircularDependenciesNoCycle(t *testing.T) {
	t.Parallel()

	tables := map[string]*schema.DetailedTableSchema{
		"users":  tableWithFKs("users"),
		"orders": tableWithFKs("orders", "users"),
	}
	cycles := DetectCircularDependencies(tables, []string{"users", "orders"})

	assert.Empty(t, cycles)
}

func TestSyncOrderCycleMembersAppendedAtTail(t *testing.T) {
	t.Parallel()

	tables := map[string]*schema.DetailedTableSchema{
		"a":         tableWithFKs("a", "b"),
		"b":         tableWithFKs("b", "a"),
		"standalone": tableWithFKs("standalone"),
	}
	order := SyncOrder(tables, []string{"a", "b", "standalone"})

	if assert.Len(t, order, 3) {
		assert.Equal(t, "standalone", order[0])
		assert.ElementsMatch(t, []string{"a", "b"}, order[1:])
	}
}
