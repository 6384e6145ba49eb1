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
	"time"

	"trpc.group/trpc-go/trpc-graph-go/checkpoint"
	"trpc.group/trpc-go/trpc-graph-go/event"
	"trpc.group/trpc-go/trpc-graph-go/state"
)

// Option configures an Engine.
type Option func(*options)

type options struct {
	cfg         Config
	bus         *event.Bus
	executionID string
	// Typed values are checked against the engine's state type in New.
	checkpoints any
	callbacks   any
	stateOpts   any
}

// WithConfig replaces the whole configuration. Later options still apply on top.
func WithConfig(cfg Config) Option {
	return func(o *options) {
		o.cfg = cfg
	}
}

// WithMaxConcurrency sets how many nodes may run at once.
func WithMaxConcurrency(n int) Option {
	return func(o *options) {
		o.cfg.MaxConcurrency = n
	}
}

// WithFailFast selects the fail-fast policy when true and the continue policy otherwise.
func WithFailFast(failFast bool) Option {
	return func(o *options) {
		o.cfg.FailFast = failFast
	}
}

// WithNodeTimeout sets the default per-node timeout.
func WithNodeTimeout(d time.Duration) Option {
	return func(o *options) {
		o.cfg.NodeTimeout = d
	}
}

// WithRunTimeout bounds each run.
func WithRunTimeout(d time.Duration) Option {
	return func(o *options) {
		o.cfg.RunTimeout = d
	}
}

// WithMaxLoopIterations bounds how often a loop edge is followed per run.
func WithMaxLoopIterations(n int) Option {
	return func(o *options) {
		o.cfg.MaxLoopIterations = n
	}
}

// WithAutoCheckpoint sets the automatic checkpoint policy. It needs a
// checkpoint manager.
func WithAutoCheckpoint(p AutoCheckpointPolicy) Option {
	return func(o *options) {
		o.cfg.AutoCheckpoint = p
	}
}

// WithCheckpointManager enables checkpoints, interrupts and resume.
func WithCheckpointManager[S any](m *checkpoint.Manager[S]) Option {
	return func(o *options) {
		o.checkpoints = m
	}
}

// WithEventBus publishes execution events to bus.
func WithEventBus(bus *event.Bus) Option {
	return func(o *options) {
		o.bus = bus
	}
}

// WithCallbacks installs node callbacks.
func WithCallbacks[S any](cb *NodeCallbacks[S]) Option {
	return func(o *options) {
		o.callbacks = cb
	}
}

// WithStateOptions configures the state managers the engine creates for
// Run and for resumed runs.
func WithStateOptions[S any](opts ...state.Option[S]) Option {
	return func(o *options) {
		o.stateOpts = opts
	}
}

// WithExecutionID gives fresh runs a fixed execution ID instead of a
// generated one.
func WithExecutionID(id string) Option {
	return func(o *options) {
		o.executionID = id
	}
}
