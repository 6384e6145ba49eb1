//
// Tencent is pleased to support the open source community by making trpc-graph-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-graph-go is licensed under the Apache License Version 2.0.
//
//

// Package engine runs dependency graphs concurrently.
//
// An Engine drives a frozen graph from its entry point: ready nodes are
// ordered by priority, dispatched onto a bounded worker pool and their
// completions fed back to the resolver until nothing is ready or running.
// Runs can be checkpointed, interrupted for human input and resumed.
package engine

import (
	"context"
	"fmt"

	"trpc.group/trpc-go/trpc-graph-go/checkpoint"
	"trpc.group/trpc-go/trpc-graph-go/event"
	"trpc.group/trpc-go/trpc-graph-go/execution"
	"trpc.group/trpc-go/trpc-graph-go/graph"
	"trpc.group/trpc-go/trpc-graph-go/resolver"
	"trpc.group/trpc-go/trpc-graph-go/state"
)

// Engine executes one graph. It is safe to start several runs concurrently.
type Engine[S any] struct {
	g           *graph.Graph[S]
	cfg         Config
	checkpoints *checkpoint.Manager[S]
	bus         *event.Bus
	callbacks   *NodeCallbacks[S]
	stateOpts   []state.Option[S]
	executionID string
	inst        *instruments
}

// New creates an engine for g.
func New[S any](g *graph.Graph[S], opts ...Option) (*Engine[S], error) {
	if g == nil {
		return nil, ErrNilGraph
	}
	o := options{cfg: DefaultConfig()}
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine[S]{
		g:           g,
		cfg:         o.cfg,
		bus:         o.bus,
		executionID: o.executionID,
		inst:        newInstruments(),
	}
	if o.checkpoints != nil {
		m, ok := o.checkpoints.(*checkpoint.Manager[S])
		if !ok {
			return nil, fmt.Errorf("engine: checkpoint manager %T does not match the graph state type", o.checkpoints)
		}
		e.checkpoints = m
	}
	if o.callbacks != nil {
		cb, ok := o.callbacks.(*NodeCallbacks[S])
		if !ok {
			return nil, fmt.Errorf("engine: callbacks %T do not match the graph state type", o.callbacks)
		}
		e.callbacks = cb
	}
	if o.stateOpts != nil {
		so, ok := o.stateOpts.([]state.Option[S])
		if !ok {
			return nil, fmt.Errorf("engine: state options %T do not match the graph state type", o.stateOpts)
		}
		e.stateOpts = so
	}
	if e.cfg.AutoCheckpoint.Enabled() && e.checkpoints == nil {
		return nil, fmt.Errorf("%w: automatic checkpoints need one", ErrNoCheckpointManager)
	}
	return e, nil
}

// Graph returns the graph the engine runs.
func (e *Engine[S]) Graph() *graph.Graph[S] {
	return e.g
}

// Config returns the effective configuration.
func (e *Engine[S]) Config() Config {
	return e.cfg
}

// Checkpoints returns the checkpoint manager, if any.
func (e *Engine[S]) Checkpoints() *checkpoint.Manager[S] {
	return e.checkpoints
}

// Run executes the graph from initial.
func (e *Engine[S]) Run(ctx context.Context, initial S) (*Result[S], error) {
	return e.Execute(ctx, state.NewManager(initial, e.stateOpts...))
}

// Execute runs the graph against an existing state manager. The manager
// holds the final state when Execute returns.
func (e *Engine[S]) Execute(ctx context.Context, st *state.Manager[S]) (*Result[S], error) {
	if st == nil {
		return nil, fmt.Errorf("engine: state manager is nil")
	}
	var execCtx *execution.Context
	if parent, ok := ExecutionFromContext(ctx); ok {
		execCtx = parent.Child(e.g.ID())
	} else {
		execCtx = execution.New(e.g.ID())
	}
	if e.executionID != "" {
		execCtx.SetExecutionID(e.executionID)
	}
	r := e.newRun(st, execCtx, resolver.New(e.g))
	return r.execute(ctx)
}

// ResumeFromCheckpoint restores checkpoint id and continues the run it
// belongs to. Failed, cancelled and interrupted nodes run again.
func (e *Engine[S]) ResumeFromCheckpoint(ctx context.Context, id string) (*Result[S], error) {
	if e.checkpoints == nil {
		return nil, ErrNoCheckpointManager
	}
	var zero S
	st := state.NewManager(zero, e.stateOpts...)
	execCtx, err := e.checkpoints.Restore(ctx, id, st)
	if err != nil {
		return nil, err
	}
	res, err := e.restoreResolver(execCtx)
	if err != nil {
		return nil, err
	}
	rearm := append(res.InStatus(resolver.Failed), res.InStatus(resolver.Cancelled)...)
	rearm = append(rearm, res.InStatus(resolver.Interrupted)...)
	if err := res.Rearm(rearm...); err != nil {
		return nil, fmt.Errorf("engine: rearm nodes of checkpoint %s: %w", id, err)
	}
	r := e.newRun(st, execCtx, res)
	r.resumedFrom = id
	return r.execute(ctx)
}

// Resume consumes an approved resume token and continues the interrupted
// run. Every approved node of the suspension receives its resume value,
// rejected nodes fail with a *RejectedError and undecided ones run again.
func (e *Engine[S]) Resume(ctx context.Context, tokenID string) (*Result[S], error) {
	if e.checkpoints == nil {
		return nil, ErrNoCheckpointManager
	}
	var zero S
	st := state.NewManager(zero, e.stateOpts...)
	resumption, err := e.checkpoints.Consume(ctx, tokenID, st)
	if err != nil {
		return nil, err
	}
	res, err := e.restoreResolver(resumption.Context)
	if err != nil {
		return nil, err
	}
	if err := res.Rearm(res.InStatus(resolver.Interrupted)...); err != nil {
		return nil, fmt.Errorf("engine: rearm interrupted nodes: %w", err)
	}
	r := e.newRun(st, resumption.Context, res)
	r.resumedFrom = resumption.Token.CheckpointID
	for node, v := range resumption.Values {
		r.resumeValues[node] = v
	}
	for node, reason := range resumption.Rejections {
		r.rejections[node] = reason
	}
	return r.execute(ctx)
}

func (e *Engine[S]) restoreResolver(execCtx *execution.Context) (*resolver.Resolver, error) {
	if execCtx.GraphID() != e.g.ID() {
		return nil, fmt.Errorf("%w: %s, engine runs %s", ErrGraphMismatch, execCtx.GraphID(), e.g.ID())
	}
	res, err := resolver.Restore(e.g, execCtx.Progress())
	if err != nil {
		return nil, fmt.Errorf("engine: restore progress: %w", err)
	}
	return res, nil
}

type executionKey struct{}

// withExecution records the run's execution context on ctx.
func withExecution(ctx context.Context, execCtx *execution.Context) context.Context {
	return context.WithValue(ctx, executionKey{}, execCtx)
}

// ExecutionFromContext returns the execution context of the run whose node
// is executing under ctx.
func ExecutionFromContext(ctx context.Context) (*execution.Context, bool) {
	execCtx, ok := ctx.Value(executionKey{}).(*execution.Context)
	return execCtx, ok
}
