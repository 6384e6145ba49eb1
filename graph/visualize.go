//
// Tencent is pleased to support the open source community by making trpc-graph-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-graph-go is licensed under the Apache License Version 2.0.
//
//

package graph

import (
	"fmt"
	"sort"
	"strings"
)

// Graphviz layout directions.
const (
	RankDirLR = "LR"
	RankDirTB = "TB"
)

const (
	colorEntryFill   = "#e1f5e1"
	colorEntryBorder = "#4caf50"
	colorFinishFill  = "#ffe1e1"
	colorFinishEdge  = "#f44336"
	colorRiskyFill   = "#fff3e0"
	colorRiskyBorder = "#ff9800"
	colorCondEdge    = "#999999"
	colorLoopEdge    = "#2196f3"
)

// VizOptions configures DOT output.
type VizOptions struct {
	RankDir    string
	GraphLabel string
	// ShowPriority appends the dispatch priority to node labels.
	ShowPriority bool
}

// VizOption mutates VizOptions.
type VizOption func(*VizOptions)

// WithRankDir sets the layout direction.
func WithRankDir(dir string) VizOption {
	return func(o *VizOptions) {
		o.RankDir = dir
	}
}

// WithGraphLabel labels the whole graph.
func WithGraphLabel(label string) VizOption {
	return func(o *VizOptions) {
		o.GraphLabel = label
	}
}

// WithShowPriority includes priorities in node labels.
func WithShowPriority() VizOption {
	return func(o *VizOptions) {
		o.ShowPriority = true
	}
}

// DOT renders the graph in Graphviz DOT syntax. Output is deterministic.
func (g *Graph[S]) DOT(opts ...VizOption) string {
	o := VizOptions{RankDir: RankDirLR}
	for _, opt := range opts {
		opt(&o)
	}
	var sb strings.Builder
	sb.WriteString("digraph G {\n")
	fmt.Fprintf(&sb, "  rankdir=%s;\n", o.RankDir)
	if o.GraphLabel != "" {
		fmt.Fprintf(&sb, "  label=%q;\n", o.GraphLabel)
	}
	sb.WriteString("  node [shape=box, style=\"rounded,filled\", fillcolor=\"#ffffff\"];\n")

	for _, id := range g.ids {
		n := g.nodes[id]
		label := n.Metadata.Name
		if o.ShowPriority {
			label = fmt.Sprintf("%s\\n[%s]", label, n.Metadata.Priority)
		}
		attrs := []string{fmt.Sprintf("label=%q", label)}
		switch {
		case id == g.entry:
			attrs = append(attrs, "shape=oval",
				fmt.Sprintf("fillcolor=%q", colorEntryFill), fmt.Sprintf("color=%q", colorEntryBorder))
		case g.isEnd[id]:
			attrs = append(attrs, "shape=doubleoctagon",
				fmt.Sprintf("fillcolor=%q", colorFinishFill), fmt.Sprintf("color=%q", colorFinishEdge))
		case n.Metadata.Risky:
			attrs = append(attrs,
				fmt.Sprintf("fillcolor=%q", colorRiskyFill), fmt.Sprintf("color=%q", colorRiskyBorder))
		}
		if n.Metadata.Exclusive {
			attrs = append(attrs, "peripheries=2")
		}
		fmt.Fprintf(&sb, "  %q [%s];\n", id, strings.Join(attrs, ", "))
	}

	for _, e := range g.edges {
		switch e.Kind {
		case EdgeSimple:
			fmt.Fprintf(&sb, "  %q -> %q;\n", e.From, e.To[0])
		case EdgeFanOut:
			for _, to := range e.To {
				fmt.Fprintf(&sb, "  %q -> %q [style=bold];\n", e.From, to)
			}
		case EdgeConditional:
			c := g.cond[e.From]
			labels := make([]string, 0, len(c.PathMap))
			for label := range c.PathMap {
				labels = append(labels, label)
			}
			sort.Strings(labels)
			for _, label := range labels {
				to := c.PathMap[label]
				if to == End {
					continue
				}
				fmt.Fprintf(&sb, "  %q -> %q [style=dashed, color=%q, label=%q];\n",
					e.From, to, colorCondEdge, label)
			}
		case EdgeLoop:
			fmt.Fprintf(&sb, "  %q -> %q [style=dotted, color=%q, constraint=false];\n",
				e.From, e.To[0], colorLoopEdge)
		}
	}
	sb.WriteString("}\n")
	return sb.String()
}
