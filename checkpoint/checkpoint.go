//
// Tencent is pleased to support the open source community by making trpc-graph-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-graph-go is licensed under the Apache License Version 2.0.
//
//

// Package checkpoint persists run snapshots and resume tokens so that an
// execution can be recovered after a failure or continued after a
// human-in-the-loop interrupt.
package checkpoint

import (
	"context"
	"time"

	"trpc.group/trpc-go/trpc-graph-go/execution"
	"trpc.group/trpc-go/trpc-graph-go/state"
)

// Type is the trigger that produced a checkpoint.
type Type string

// Checkpoint types.
const (
	TypeManual    Type = "manual"
	TypeAutomatic Type = "automatic"
	TypeInterrupt Type = "interrupt"
)

// Checkpoint bundles a state snapshot with the execution context it was taken in.
type Checkpoint[S any] struct {
	ID          string             `json:"id"`
	Type        Type               `json:"type"`
	ExecutionID string             `json:"execution_id"`
	GraphID     string             `json:"graph_id"`
	CreatedAt   time.Time          `json:"created_at"`
	Snapshot    state.Snapshot[S]  `json:"snapshot"`
	Context     *execution.Context `json:"context"`
	Metadata    map[string]string  `json:"metadata,omitempty"`
}

// Info describes a checkpoint without its state.
type Info struct {
	ID           string    `json:"id"`
	Type         Type      `json:"type"`
	ExecutionID  string    `json:"execution_id"`
	GraphID      string    `json:"graph_id"`
	CreatedAt    time.Time `json:"created_at"`
	SnapshotID   string    `json:"snapshot_id"`
	StateVersion uint64    `json:"state_version"`
}

// infoDoc decodes the header of a stored checkpoint and skips the state.
type infoDoc struct {
	ID          string    `json:"id"`
	Type        Type      `json:"type"`
	ExecutionID string    `json:"execution_id"`
	GraphID     string    `json:"graph_id"`
	CreatedAt   time.Time `json:"created_at"`
	Snapshot    struct {
		ID      string `json:"id"`
		Version uint64 `json:"version"`
	} `json:"snapshot"`
}

func (d infoDoc) info() Info {
	return Info{
		ID:           d.ID,
		Type:         d.Type,
		ExecutionID:  d.ExecutionID,
		GraphID:      d.GraphID,
		CreatedAt:    d.CreatedAt,
		SnapshotID:   d.Snapshot.ID,
		StateVersion: d.Snapshot.Version,
	}
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	ExecutionID string
	GraphID     string
	Type        Type
	// Limit caps the result size when positive.
	Limit int
}

// NewFilter creates an empty filter.
func NewFilter() *Filter {
	return &Filter{}
}

// WithExecutionID restricts the filter to one run.
func (f *Filter) WithExecutionID(id string) *Filter {
	f.ExecutionID = id
	return f
}

// WithGraphID restricts the filter to one graph.
func (f *Filter) WithGraphID(id string) *Filter {
	f.GraphID = id
	return f
}

// WithType restricts the filter to one checkpoint type.
func (f *Filter) WithType(t Type) *Filter {
	f.Type = t
	return f
}

// WithLimit sets the limit.
func (f *Filter) WithLimit(limit int) *Filter {
	f.Limit = limit
	return f
}

func (f *Filter) match(i Info) bool {
	if f == nil {
		return true
	}
	if f.ExecutionID != "" && f.ExecutionID != i.ExecutionID {
		return false
	}
	if f.GraphID != "" && f.GraphID != i.GraphID {
		return false
	}
	if f.Type != "" && f.Type != i.Type {
		return false
	}
	return true
}

// Store is the state surface a checkpoint is taken from and restored into.
// *state.Manager satisfies it.
type Store[S any] interface {
	Snapshot() state.Snapshot[S]
	Restore(state.Snapshot[S])
}

// Kind separates checkpoints from resume tokens in a Saver.
type Kind string

// Record kinds.
const (
	KindCheckpoint Kind = "checkpoint"
	KindToken      Kind = "token"
)

// Record is the unit a Saver persists. Data is opaque to the saver.
type Record struct {
	ID          string
	Kind        Kind
	ExecutionID string
	CreatedAt   time.Time
	Data        []byte
}

// Saver is the storage boundary. Implementations must make Put atomic per
// ID and must be safe for concurrent use.
type Saver interface {
	// Put stores rec, replacing any record with the same ID.
	Put(ctx context.Context, rec *Record) error
	// Get returns the record for id, or nil and no error when absent.
	Get(ctx context.Context, id string) (*Record, error)
	// Delete removes id and reports whether it existed.
	Delete(ctx context.Context, id string) (bool, error)
	// ListIDs returns the IDs of every record of kind.
	ListIDs(ctx context.Context, kind Kind) ([]string, error)
	// Close releases the saver's resources.
	Close() error
}
