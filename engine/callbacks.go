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
	"time"

	"trpc.group/trpc-go/trpc-graph-go/graph"
	"trpc.group/trpc-go/trpc-graph-go/scheduler"
	"trpc.group/trpc-go/trpc-graph-go/state"
)

// NodeCallbackContext provides context information for node callbacks.
type NodeCallbackContext struct {
	// NodeID is the ID of the node being executed.
	NodeID string
	// NodeName is the name of the node being executed.
	NodeName string
	// Priority is the node's dispatch priority.
	Priority scheduler.Priority
	// ExecutionID identifies the run.
	ExecutionID string
	// GraphID identifies the graph.
	GraphID string
	// Depth is the subgraph nesting depth of the run.
	Depth int
	// ExecutionStartTime is when the node execution started.
	ExecutionStartTime time.Time
}

// BeforeNodeCallback is called before a node is executed.
// Returns (customOutput, error).
//   - customOutput: if not nil, it is used as the node's output and the node body is skipped.
//   - error: if not nil, the node fails with this error.
type BeforeNodeCallback[S any] func(
	ctx context.Context,
	callbackCtx *NodeCallbackContext,
	st state.Accessor[S],
) (*graph.Output, error)

// AfterNodeCallback is called after a node is executed.
// Returns (customOutput, error).
//   - customOutput: if not nil, it replaces the node's output.
//   - error: if not nil, the node fails with this error.
type AfterNodeCallback[S any] func(
	ctx context.Context,
	callbackCtx *NodeCallbackContext,
	st state.Accessor[S],
	out graph.Output,
	nodeErr error,
) (*graph.Output, error)

// OnNodeErrorCallback is called when a node execution fails.
// It cannot change the error. Interrupts are not reported here.
type OnNodeErrorCallback[S any] func(
	ctx context.Context,
	callbackCtx *NodeCallbackContext,
	st state.Accessor[S],
	err error,
)

// NodeCallbacks holds callbacks for node operations.
type NodeCallbacks[S any] struct {
	// BeforeNode is a list of callbacks that are called before the node is executed.
	BeforeNode []BeforeNodeCallback[S]
	// AfterNode is a list of callbacks that are called after the node is executed.
	AfterNode []AfterNodeCallback[S]
	// OnNodeError is a list of callbacks that are called when a node execution fails.
	OnNodeError []OnNodeErrorCallback[S]
}

// NewNodeCallbacks creates a new NodeCallbacks instance.
func NewNodeCallbacks[S any]() *NodeCallbacks[S] {
	return &NodeCallbacks[S]{}
}

// RegisterBeforeNode registers a before node callback.
func (c *NodeCallbacks[S]) RegisterBeforeNode(cb BeforeNodeCallback[S]) *NodeCallbacks[S] {
	c.BeforeNode = append(c.BeforeNode, cb)
	return c
}

// RegisterAfterNode registers an after node callback.
func (c *NodeCallbacks[S]) RegisterAfterNode(cb AfterNodeCallback[S]) *NodeCallbacks[S] {
	c.AfterNode = append(c.AfterNode, cb)
	return c
}

// RegisterOnNodeError registers an on node error callback.
func (c *NodeCallbacks[S]) RegisterOnNodeError(cb OnNodeErrorCallback[S]) *NodeCallbacks[S] {
	c.OnNodeError = append(c.OnNodeError, cb)
	return c
}

// RunBeforeNode runs all before node callbacks in order.
// If any callback returns a custom output, stop and return it.
func (c *NodeCallbacks[S]) RunBeforeNode(
	ctx context.Context,
	callbackCtx *NodeCallbackContext,
	st state.Accessor[S],
) (*graph.Output, error) {
	if c == nil {
		return nil, nil
	}
	for _, cb := range c.BeforeNode {
		custom, err := cb(ctx, callbackCtx, st)
		if err != nil {
			return nil, err
		}
		if custom != nil {
			return custom, nil
		}
	}
	return nil, nil
}

// RunAfterNode runs all after node callbacks in order, each one seeing the
// output left by the previous.
func (c *NodeCallbacks[S]) RunAfterNode(
	ctx context.Context,
	callbackCtx *NodeCallbackContext,
	st state.Accessor[S],
	out graph.Output,
	nodeErr error,
) (graph.Output, error) {
	if c == nil {
		return out, nil
	}
	current := out
	for _, cb := range c.AfterNode {
		custom, err := cb(ctx, callbackCtx, st, current, nodeErr)
		if err != nil {
			return graph.Output{}, err
		}
		if custom != nil {
			current = *custom
		}
	}
	return current, nil
}

// RunOnNodeError runs all on node error callbacks in order.
func (c *NodeCallbacks[S]) RunOnNodeError(
	ctx context.Context,
	callbackCtx *NodeCallbackContext,
	st state.Accessor[S],
	err error,
) {
	if c == nil {
		return
	}
	for _, cb := range c.OnNodeError {
		cb(ctx, callbackCtx, st, err)
	}
}
