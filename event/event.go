//
// Tencent is pleased to support the open source community by making trpc-graph-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-graph-go is licensed under the Apache License Version 2.0.
//
//

// Package event provides the execution event stream.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Type is the kind of an execution event.
type Type string

// Event types.
const (
	TypeExecutionStarted     Type = "graph.execution.started"
	TypeNodeStarted          Type = "graph.node.started"
	TypeNodeCompleted        Type = "graph.node.completed"
	TypeNodeFailed           Type = "graph.node.failed"
	TypeNodeSkipped          Type = "graph.node.skipped"
	TypeProgressUpdate       Type = "graph.progress.update"
	TypeCheckpointCreated    Type = "graph.checkpoint.created"
	TypeExecutionInterrupted Type = "graph.execution.interrupted"
	TypeExecutionCompleted   Type = "graph.execution.completed"
	TypeExecutionFailed      Type = "graph.execution.failed"
)

// Progress summarizes how far a run has come.
type Progress struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Running   int `json:"running"`
}

// Event is a single entry of the execution stream.
type Event struct {
	// ID is the unique identifier of the event.
	ID string `json:"id"`

	// Type is the kind of event.
	Type Type `json:"type"`

	// ExecutionID is the run the event belongs to.
	ExecutionID string `json:"executionId"`

	// NodeID is set for node level events.
	NodeID string `json:"nodeId,omitempty"`

	// Timestamp is the timestamp of the event.
	Timestamp time.Time `json:"timestamp"`

	// Error carries the failure message of error events.
	Error string `json:"error,omitempty"`

	// Duration is the node or run duration for completion and failure events.
	Duration time.Duration `json:"duration,omitempty"`

	// Progress is set on progress updates.
	Progress *Progress `json:"progress,omitempty"`

	// Metadata holds free form details such as a checkpoint or token ID.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Option configures an Event.
type Option func(*Event)

// WithNodeID sets the node the event refers to.
func WithNodeID(id string) Option {
	return func(e *Event) {
		e.NodeID = id
	}
}

// WithError records err on the event.
func WithError(err error) Option {
	return func(e *Event) {
		if err != nil {
			e.Error = err.Error()
		}
	}
}

// WithDuration sets the duration.
func WithDuration(d time.Duration) Option {
	return func(e *Event) {
		e.Duration = d
	}
}

// WithProgress attaches a progress summary.
func WithProgress(p Progress) Option {
	return func(e *Event) {
		e.Progress = &p
	}
}

// WithMetadata sets one metadata entry.
func WithMetadata(key, value string) Option {
	return func(e *Event) {
		if e.Metadata == nil {
			e.Metadata = make(map[string]string)
		}
		e.Metadata[key] = value
	}
}

// New creates a new Event with generated ID and timestamp.
func New(typ Type, executionID string, opts ...Option) *Event {
	e := &Event{
		ID:          uuid.New().String(),
		Type:        typ,
		ExecutionID: executionID,
		Timestamp:   time.Now(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Clone creates a deep copy of the event.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	clone := *e
	if e.Progress != nil {
		p := *e.Progress
		clone.Progress = &p
	}
	if e.Metadata != nil {
		clone.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}

// IsError reports whether the event reports a failure.
func (e *Event) IsError() bool {
	return e.Type == TypeNodeFailed || e.Type == TypeExecutionFailed
}

// IsCompletion reports whether the event reports a completion.
func (e *Event) IsCompletion() bool {
	return e.Type == TypeNodeCompleted || e.Type == TypeExecutionCompleted
}

// IsProgress reports whether the event is a progress update.
func (e *Event) IsProgress() bool {
	return e.Type == TypeProgressUpdate
}
