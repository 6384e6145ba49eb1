//
// Tencent is pleased to support the open source community by making trpc-graph-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-graph-go is licensed under the Apache License Version 2.0.
//
//

package graph

import "sort"

// validate checks every graph invariant and fills g.topo. Checks run in a
// fixed order so the reported violation is deterministic.
func validate[S any](g *Graph[S]) error {
	if g.entry == "" {
		return structErr(KindMissingEntryPoint, "", "graph must have an entry point")
	}
	if _, ok := g.nodes[g.entry]; !ok {
		return structErr(KindMissingEntryPoint, g.entry, "entry point does not exist")
	}
	if len(g.finish) == 0 {
		return structErr(KindNoFinishPoint, "", "graph must have at least one finish point")
	}
	for _, from := range sortedUnique(keysOfSlices(g.succ)) {
		for _, to := range g.succ[from] {
			if _, ok := g.nodes[to]; !ok {
				return structErr(KindUnknownNode, to, "edge from %s targets a missing node", from)
			}
		}
	}

	topo, cyclic := kahn(g)
	if len(cyclic) > 0 {
		return structErr(KindIllegalCycle, cyclic[0],
			"static edges form a cycle, unresolved nodes %v; declare back edges with AddLoopEdge", cyclic)
	}
	g.topo = topo

	reach := reachable(g.entry, func(id string) []string { return g.succ[id] })
	for _, f := range g.finish {
		if !reach[f] {
			return structErr(KindUnreachableFinishPoint, f, "finish point is not reachable from entry point %s", g.entry)
		}
	}
	for _, id := range g.ids {
		if !reach[id] {
			return structErr(KindUnreachableNode, id, "node is not reachable from entry point %s", g.entry)
		}
	}

	for _, from := range sortedUnique(keysOfSlices(g.loops)) {
		ancestors := reachable(from, func(id string) []string { return g.pred[id] })
		for _, to := range g.loops[from] {
			if !ancestors[to] {
				return structErr(KindInvalidLoopEdge, from,
					"loop target %s is neither the node itself nor one of its ancestors", to)
			}
		}
	}
	return nil
}

// kahn returns a topological order, or the nodes left on cycles in sorted order.
func kahn[S any](g *Graph[S]) (order []string, cyclic []string) {
	indeg := make(map[string]int, len(g.ids))
	for _, id := range g.ids {
		indeg[id] = len(g.pred[id])
	}
	var ready []string
	for _, id := range g.ids {
		if indeg[id] == 0 {
			ready = append(ready, id)
		}
	}
	for len(ready) > 0 {
		sort.Strings(ready)
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)
		for _, s := range g.succ[id] {
			indeg[s]--
			if indeg[s] == 0 {
				ready = append(ready, s)
			}
		}
	}
	if len(order) == len(g.ids) {
		return order, nil
	}
	for _, id := range g.ids {
		if indeg[id] > 0 {
			cyclic = append(cyclic, id)
		}
	}
	return nil, cyclic
}

// reachable returns start and every node reachable from it through next.
func reachable(start string, next func(string) []string) map[string]bool {
	seen := map[string]bool{start: true}
	stack := []string{start}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, n := range next(id) {
			if !seen[n] {
				seen[n] = true
				stack = append(stack, n)
			}
		}
	}
	return seen
}

func keysOfSlices(m map[string][]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
