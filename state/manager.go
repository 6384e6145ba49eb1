//
// Tencent is pleased to support the open source community by making trpc-graph-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-graph-go is licensed under the Apache License Version 2.0.
//
//

// Package state owns the shared mutable run state of a graph execution.
//
// A Manager serializes every mutation: each Write runs against a private
// working copy that is committed only when the mutator succeeds, so readers
// and snapshots never observe a partially applied change.
package state

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ErrAccessorClosed is returned by a scoped accessor used after its node finished.
var ErrAccessorClosed = errors.New("state: accessor is closed")

// Accessor is the view of the run state handed to node bodies.
type Accessor[S any] interface {
	// Write applies mutate atomically. A mutator error discards every change it made.
	Write(ctx context.Context, mutate func(*S) error) error
	// View calls fn with the committed state under a shared lock.
	// fn must not retain or modify anything reachable from the value.
	View(fn func(S))
	// Snapshot returns a consistent deep copy of the committed state.
	Snapshot() Snapshot[S]
}

// Snapshot is an independently owned copy of the run state.
type Snapshot[S any] struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Version   uint64    `json:"version"`
	State     S         `json:"state"`
}

// Manager guards a single run-state value.
type Manager[S any] struct {
	mu      sync.RWMutex
	state   S
	version uint64
	clone   func(S) S
}

// Option configures a Manager.
type Option[S any] func(*Manager[S])

// WithCloner replaces the reflection based deep copy used for working copies and snapshots.
func WithCloner[S any](fn func(S) S) Option[S] {
	return func(m *Manager[S]) {
		if fn != nil {
			m.clone = fn
		}
	}
}

// NewManager creates a Manager owning a deep copy of initial.
func NewManager[S any](initial S, opts ...Option[S]) *Manager[S] {
	m := &Manager[S]{clone: DeepCopy[S]}
	for _, opt := range opts {
		opt(m)
	}
	m.state = m.clone(initial)
	return m
}

// Write applies mutate under the exclusive lock.
func (m *Manager[S]) Write(ctx context.Context, mutate func(*S) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	working := m.clone(m.state)
	if err := mutate(&working); err != nil {
		return err
	}
	m.state = working
	m.version++
	return nil
}

// Update is Write for mutators that produce a result.
func Update[S, R any](ctx context.Context, a Accessor[S], mutate func(*S) (R, error)) (R, error) {
	var out R
	err := a.Write(ctx, func(s *S) error {
		r, err := mutate(s)
		if err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		var zero R
		return zero, err
	}
	return out, nil
}

// View calls fn with the committed state under the shared lock.
func (m *Manager[S]) View(fn func(S)) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fn(m.state)
}

// Read returns a deep copy of the committed state.
func (m *Manager[S]) Read() S {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.clone(m.state)
}

// Version counts committed writes and restores.
func (m *Manager[S]) Version() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}

// Snapshot returns a deep copy of the committed state tagged with a fresh id.
func (m *Manager[S]) Snapshot() Snapshot[S] {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot[S]{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Version:   m.version,
		State:     m.clone(m.state),
	}
}

// Restore replaces the committed state with a copy of snap.State.
func (m *Manager[S]) Restore(snap Snapshot[S]) {
	restored := m.clone(snap.State)
	m.mu.Lock()
	m.state = restored
	m.version++
	m.mu.Unlock()
}

// Scoped returns an accessor that stops accepting writes once closed.
func (m *Manager[S]) Scoped() *ScopedAccessor[S] {
	return &ScopedAccessor[S]{m: m}
}

// ScopedAccessor is handed to a single node execution.
type ScopedAccessor[S any] struct {
	m      *Manager[S]
	closed atomic.Bool
}

// Close makes later writes fail with ErrAccessorClosed. A write already
// holding the lock completes.
func (a *ScopedAccessor[S]) Close() {
	a.closed.Store(true)
}

// Write implements Accessor.
func (a *ScopedAccessor[S]) Write(ctx context.Context, mutate func(*S) error) error {
	if a.closed.Load() {
		return ErrAccessorClosed
	}
	return a.m.Write(ctx, func(s *S) error {
		if a.closed.Load() {
			return ErrAccessorClosed
		}
		return mutate(s)
	})
}

// View implements Accessor.
func (a *ScopedAccessor[S]) View(fn func(S)) {
	a.m.View(fn)
}

// Snapshot implements Accessor.
func (a *ScopedAccessor[S]) Snapshot() Snapshot[S] {
	return a.m.Snapshot()
}
