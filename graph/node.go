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
	"context"
	"time"

	"trpc.group/trpc-go/trpc-graph-go/scheduler"
	"trpc.group/trpc-go/trpc-graph-go/state"
)

// End may be named in Output.Next to stop routing from a node.
const End = "__end__"

// Executable is the capability a node wraps. Implementations receive the
// run state only through the accessor and must observe ctx between steps.
type Executable[S any] interface {
	Execute(ctx context.Context, st state.Accessor[S]) (Output, error)
	Metadata() Metadata
}

// Output is what a node body returns on success.
type Output struct {
	// Success false with a nil error is reported as a node failure.
	Success bool
	Payload any
	// Next overrides routing. Entries must be successors of the node,
	// one of its loop targets, or End.
	Next []string
}

// Done returns a successful output carrying payload.
func Done(payload any) Output {
	return Output{Success: true, Payload: payload}
}

// GoTo returns a successful output routed to next.
func GoTo(next ...string) Output {
	return Output{Success: true, Next: next}
}

// Metadata is static information used for scheduling and observability.
// It never affects correctness.
type Metadata struct {
	Name             string             `json:"name,omitempty"`
	Description      string             `json:"description,omitempty"`
	Priority         scheduler.Priority `json:"priority"`
	Exclusive        bool               `json:"exclusive,omitempty"`
	ExpectedDuration time.Duration      `json:"expected_duration,omitempty"`
	Timeout          time.Duration      `json:"timeout,omitempty"`
	Risky            bool               `json:"risky,omitempty"`
	Tags             []string           `json:"tags,omitempty"`
}

// ParallelSafe reports whether the node may run alongside other nodes.
func (m Metadata) ParallelSafe() bool {
	return !m.Exclusive
}

// NodeFunc adapts a function to Executable with default metadata.
type NodeFunc[S any] func(ctx context.Context, st state.Accessor[S]) (Output, error)

// Execute implements Executable.
func (f NodeFunc[S]) Execute(ctx context.Context, st state.Accessor[S]) (Output, error) {
	return f(ctx, st)
}

// Metadata implements Executable.
func (f NodeFunc[S]) Metadata() Metadata {
	return Metadata{Priority: scheduler.Normal}
}

// Mutate builds a node that applies fn through a single state write.
func Mutate[S any](fn func(ctx context.Context, s *S) error) NodeFunc[S] {
	return func(ctx context.Context, st state.Accessor[S]) (Output, error) {
		if err := st.Write(ctx, func(s *S) error { return fn(ctx, s) }); err != nil {
			return Output{}, err
		}
		return Done(nil), nil
	}
}

// Node is a vertex of a built graph.
type Node[S any] struct {
	ID         string
	Executable Executable[S]
	Metadata   Metadata
}

// Option adjusts node metadata at registration time.
type Option func(*Metadata)

// WithName sets the human readable name.
func WithName(name string) Option {
	return func(m *Metadata) {
		m.Name = name
	}
}

// WithDescription sets the description.
func WithDescription(description string) Option {
	return func(m *Metadata) {
		m.Description = description
	}
}

// WithPriority sets the dispatch priority.
func WithPriority(p scheduler.Priority) Option {
	return func(m *Metadata) {
		m.Priority = p
	}
}

// WithParallelSafe marks whether the node may run alongside others.
func WithParallelSafe(safe bool) Option {
	return func(m *Metadata) {
		m.Exclusive = !safe
	}
}

// WithExpectedDuration records a duration hint.
func WithExpectedDuration(d time.Duration) Option {
	return func(m *Metadata) {
		m.ExpectedDuration = d
	}
}

// WithTimeout overrides the engine node timeout for this node.
func WithTimeout(d time.Duration) Option {
	return func(m *Metadata) {
		m.Timeout = d
	}
}

// WithRisky flags the node so that automatic checkpointing can fire before it runs.
func WithRisky() Option {
	return func(m *Metadata) {
		m.Risky = true
	}
}

// WithTags attaches free form tags.
func WithTags(tags ...string) Option {
	return func(m *Metadata) {
		m.Tags = append(m.Tags, tags...)
	}
}

// RouteFunc picks the label of the live branch of a conditional edge. It
// receives the source node's output and a copy of the committed state.
type RouteFunc[S any] func(ctx context.Context, out Output, s S) (string, error)

// ConditionalEdge routes to exactly one of its candidate targets.
type ConditionalEdge[S any] struct {
	From    string
	Route   RouteFunc[S]
	PathMap map[string]string
}

// Targets returns the distinct candidate targets in sorted order.
func (c *ConditionalEdge[S]) Targets() []string {
	return sortedUnique(valuesOf(c.PathMap))
}

// Resolve maps a route label to its target.
func (c *ConditionalEdge[S]) Resolve(label string) (string, bool) {
	if label == End {
		return End, true
	}
	to, ok := c.PathMap[label]
	return to, ok
}
