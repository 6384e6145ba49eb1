//
// Tencent is pleased to support the open source community by making trpc-graph-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-graph-go is licensed under the Apache License Version 2.0.
//
//

// Package graph describes immutable dependency graphs of executable nodes.
//
// Graphs are assembled with a Builder and frozen by Build, which validates
// the whole topology or returns a *StructureError. A built Graph is never
// mutated and can be shared between goroutines without locking.
package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// EdgeKind distinguishes how an edge enables its targets.
type EdgeKind string

// Edge kinds.
const (
	EdgeSimple      EdgeKind = "simple"
	EdgeFanOut      EdgeKind = "fan_out"
	EdgeConditional EdgeKind = "conditional"
	EdgeLoop        EdgeKind = "loop"
)

// Edge is a declared relationship between a source and its targets.
type Edge struct {
	From string
	To   []string
	Kind EdgeKind
}

// Graph is a validated, frozen topology.
type Graph[S any] struct {
	id     string
	nodes  map[string]*Node[S]
	ids    []string
	edges  []Edge
	static map[string][]string
	cond   map[string]*ConditionalEdge[S]
	succ   map[string][]string
	pred   map[string][]string
	loops  map[string][]string
	entry  string
	finish []string
	isEnd  map[string]bool
	topo   []string
}

// ID is a stable identity derived from the topology and node metadata.
// Two builds of the same declarations share an ID.
func (g *Graph[S]) ID() string {
	return g.id
}

// Node returns a node by ID.
func (g *Graph[S]) Node(id string) (*Node[S], bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// NodeIDs returns every node ID in sorted order.
func (g *Graph[S]) NodeIDs() []string {
	return append([]string(nil), g.ids...)
}

// Len returns the number of nodes.
func (g *Graph[S]) Len() int {
	return len(g.ids)
}

// Edges returns the declared edges, loop edges included, in declaration order.
func (g *Graph[S]) Edges() []Edge {
	out := make([]Edge, len(g.edges))
	for i, e := range g.edges {
		out[i] = Edge{From: e.From, To: append([]string(nil), e.To...), Kind: e.Kind}
	}
	return out
}

// Successors returns every node that lists id as a predecessor: static
// targets in declaration order followed by conditional candidates.
func (g *Graph[S]) Successors(id string) []string {
	return append([]string(nil), g.succ[id]...)
}

// StaticSuccessors returns the targets of simple and fan-out edges from id.
func (g *Graph[S]) StaticSuccessors(id string) []string {
	return append([]string(nil), g.static[id]...)
}

// Predecessors returns the distinct predecessors of id in sorted order.
// Loop edges are not included.
func (g *Graph[S]) Predecessors(id string) []string {
	return append([]string(nil), g.pred[id]...)
}

// ConditionalEdge returns the conditional edge leaving id, if any.
func (g *Graph[S]) ConditionalEdge(id string) (*ConditionalEdge[S], bool) {
	c, ok := g.cond[id]
	return c, ok
}

// LoopTargets returns the targets of loop edges leaving id.
func (g *Graph[S]) LoopTargets(id string) []string {
	return append([]string(nil), g.loops[id]...)
}

// IsLoopEdge reports whether from has a loop edge to to.
func (g *Graph[S]) IsLoopEdge(from, to string) bool {
	return contains(g.loops[from], to)
}

// EntryPoint returns the entry node ID.
func (g *Graph[S]) EntryPoint() string {
	return g.entry
}

// FinishPoints returns the finish node IDs in sorted order.
func (g *Graph[S]) FinishPoints() []string {
	return append([]string(nil), g.finish...)
}

// IsFinishPoint reports whether id is a finish point.
func (g *Graph[S]) IsFinishPoint(id string) bool {
	return g.isEnd[id]
}

// TopologicalOrder returns one topological order of the static edges,
// breaking ties by node ID.
func (g *Graph[S]) TopologicalOrder() []string {
	return append([]string(nil), g.topo...)
}

type identityNode struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Priority  int      `json:"priority"`
	Exclusive bool     `json:"exclusive"`
	Risky     bool     `json:"risky"`
	Tags      []string `json:"tags"`
}

type identityEdge struct {
	From   string   `json:"from"`
	To     []string `json:"to"`
	Kind   EdgeKind `json:"kind"`
	Labels []string `json:"labels,omitempty"`
}

type identity struct {
	Entry  string         `json:"entry"`
	Finish []string       `json:"finish"`
	Nodes  []identityNode `json:"nodes"`
	Edges  []identityEdge `json:"edges"`
}

// computeID hashes a canonical description of g. Every slice is sorted so
// declaration order does not change the digest.
func computeID[S any](g *Graph[S]) string {
	doc := identity{Entry: g.entry, Finish: g.finish}
	for _, id := range g.ids {
		n := g.nodes[id]
		tags := append([]string(nil), n.Metadata.Tags...)
		sort.Strings(tags)
		doc.Nodes = append(doc.Nodes, identityNode{
			ID:        id,
			Name:      n.Metadata.Name,
			Priority:  int(n.Metadata.Priority),
			Exclusive: n.Metadata.Exclusive,
			Risky:     n.Metadata.Risky,
			Tags:      tags,
		})
	}
	for _, e := range g.edges {
		ie := identityEdge{From: e.From, To: sortedUnique(e.To), Kind: e.Kind}
		if e.Kind == EdgeConditional {
			if c, ok := g.cond[e.From]; ok {
				for label, to := range c.PathMap {
					ie.Labels = append(ie.Labels, label+"="+to)
				}
				sort.Strings(ie.Labels)
			}
		}
		doc.Edges = append(doc.Edges, ie)
	}
	sort.Slice(doc.Edges, func(i, j int) bool {
		a, b := doc.Edges[i], doc.Edges[j]
		if a.From != b.From {
			return a.From < b.From
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		ka, _ := json.Marshal(a.To)
		kb, _ := json.Marshal(b.To)
		return string(ka) < string(kb)
	})
	raw, _ := json.Marshal(doc)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func valuesOf(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

func sortedUnique(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == End || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
