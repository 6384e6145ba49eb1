//
// Tencent is pleased to support the open source community by making trpc-graph-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-graph-go is licensed under the Apache License Version 2.0.
//
//

package engine

import (
	"context"
	"fmt"

	"trpc.group/trpc-go/trpc-graph-go/graph"
	"trpc.group/trpc-go/trpc-graph-go/state"
)

// Subgraph is a node that runs another engine's graph to completion.
// The child run gets an execution context one level deeper than the
// parent's and its own state, mapped from and back into the parent state.
type Subgraph[P, C any] struct {
	child *Engine[C]
	in    func(P) C
	out   func(*P, C)
	meta  graph.Metadata
}

// NewSubgraph wraps child as a node of a graph over P. in builds the child's
// initial state from the parent state; out, when set, folds the child's
// final state back into the parent.
func NewSubgraph[P, C any](child *Engine[C], in func(P) C, out func(*P, C), opts ...graph.Option) *Subgraph[P, C] {
	meta := graph.Metadata{Name: "subgraph " + child.Graph().ID()}
	for _, opt := range opts {
		opt(&meta)
	}
	return &Subgraph[P, C]{child: child, in: in, out: out, meta: meta}
}

// Metadata implements graph.Executable.
func (s *Subgraph[P, C]) Metadata() graph.Metadata {
	return s.meta
}

// Execute implements graph.Executable. The payload of the output is the
// child's *Result.
func (s *Subgraph[P, C]) Execute(ctx context.Context, st state.Accessor[P]) (graph.Output, error) {
	var parent P
	st.View(func(p P) { parent = state.DeepCopy(p) })
	res, err := s.child.Run(ctx, s.in(parent))
	if err != nil {
		return graph.Output{}, fmt.Errorf("subgraph %s: %w", s.child.Graph().ID(), err)
	}
	if res.Status != StatusCompleted {
		return graph.Output{}, fmt.Errorf("%w: %s ended %s", ErrSubgraphNotCompleted, s.child.Graph().ID(), res.Status)
	}
	if res.Err != nil {
		return graph.Output{}, fmt.Errorf("subgraph %s: %w", s.child.Graph().ID(), res.Err)
	}
	if s.out != nil {
		if err := st.Write(ctx, func(p *P) error {
			s.out(p, res.State)
			return nil
		}); err != nil {
			return graph.Output{}, err
		}
	}
	return graph.Done(res), nil
}
