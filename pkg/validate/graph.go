// SPDX-License-Identifier: Apache-2.0

package validate

import (
	"sort"

	"github.com/pgsync/pgsync/pkg/schema"
)

// buildFKGraph builds an adjacency map from table name -> set of tables it
// has a foreign key into, restricted to the given table set (spec.md §9:
// "plain data structures: adjacency map from TableName -> set of TableName").
func buildFKGraph(tables map[string]*schema.DetailedTableSchema, selected []string) map[string]map[string]bool {
	inSelection := map[string]bool{}
	for _, t := range selected {
		inSelection[t] = true
	}

	graph := make(map[string]map[string]bool, len(selected))
	for _, name := range selected {
		graph[name] = map[string]bool{}
	}

	for _, name := range selected {
		table := tables[name]
		if table == nil {
			continue
		}
		for _, fk := range table.ForeignKeys {
			if inSelection[fk.ReferencedTable] && fk.ReferencedTable != name {
				graph[name][fk.ReferencedTable] = true
			}
		}
	}
	return graph
}

// DetectCircularDependencies runs DFS cycle detection on the FK graph of the
// given tables, returning every cycle found as a list of table names.
func DetectCircularDependencies(tables map[string]*schema.DetailedTableSchema, selected []string) [][]string {
	graph := buildFKGraph(tables, selected)

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := map[string]int{}
	var stack []string
	var cycles [][]string

	var visit func(node string)
	visit = func(node string) {
		color[node] = gray
		stack = append(stack, node)

		neighbors := make([]string, 0, len(graph[node]))
		for n := range graph[node] {
			neighbors = append(neighbors, n)
		}
		sort.Strings(neighbors)

		for _, n := range neighbors {
			switch color[n] {
			case white:
				visit(n)
			case gray:
				// found a back edge: extract the cycle from the stack
				cycle := []string{}
				for i := len(stack) - 1; i >= 0; i-- {
					cycle = append(cycle, stack[i])
					if stack[i] == n {
						break
					}
				}
				cycles = append(cycles, reverse(cycle))
			}
		}

		stack = stack[:len(stack)-1]
		color[node] = black
	}

	names := make([]string, 0, len(graph))
	for n := range graph {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, n := range names {
		if color[n] == white {
			visit(n)
		}
	}

	return cycles
}

func reverse(s []string) []string {
	out := make([]string, len(s))
	for i, v := range s {
		out[len(s)-1-i] = v
	}
	return out
}

// SyncOrder computes a Kahn topological sort of the tables such that for
// every FK edge A -> B, B precedes A (children never written before
// parents). Cycle members are appended at the tail, in deterministic order.
func SyncOrder(tables map[string]*schema.DetailedTableSchema, selected []string) []string {
	graph := buildFKGraph(tables, selected)

	// remaining counts, for each table, how many selected tables it
	// references (all must be written before it); dependents maps each
	// referenced table to the tables that reference it, so writing a table
	// releases its dependents.
	dependents := map[string][]string{} // referenced table -> tables that depend on it
	remaining := map[string]int{}       // table -> number of unresolved dependencies

	for _, name := range selected {
		remaining[name] = len(graph[name])
	}
	for name, refs := range graph {
		for ref := range refs {
			dependents[ref] = append(dependents[ref], name)
		}
	}
	for ref := range dependents {
		sort.Strings(dependents[ref])
	}

	var ready []string
	for _, name := range selected {
		if remaining[name] == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	var order []string
	visited := map[string]bool{}

	for len(ready) > 0 {
		sort.Strings(ready)
		node := ready[0]
		ready = ready[1:]
		if visited[node] {
			continue
		}
		visited[node] = true
		order = append(order, node)

		for _, dep := range dependents[node] {
			remaining[dep]--
			if remaining[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(order) < len(selected) {
		// cycle members: append remaining tables (not yet visited) in
		// deterministic order at the tail.
		var leftover []string
		for _, name := range selected {
			if !visited[name] {
				leftover = append(leftover, name)
			}
		}
		sort.Strings(leftover)
		order = append(order, leftover...)
	}

	return order
}
