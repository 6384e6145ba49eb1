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
	"errors"
	"fmt"
	"time"
)

// Sentinel errors.
var (
	ErrNilGraph             = errors.New("engine: graph is nil")
	ErrNoCheckpointManager  = errors.New("engine: no checkpoint manager configured")
	ErrGraphMismatch        = errors.New("engine: checkpoint belongs to another graph")
	ErrUnsuccessfulOutput   = errors.New("engine: node reported an unsuccessful output")
	ErrMaxLoopIterations    = errors.New("engine: loop iteration limit exceeded")
	ErrResumeRejected       = errors.New("engine: resume was rejected")
	ErrSubgraphNotCompleted = errors.New("engine: subgraph did not complete")
)

// NodeExecutionError is the failure of a single node.
type NodeExecutionError struct {
	NodeID   string
	Duration time.Duration
	Cause    error
}

// Error implements error.
func (e *NodeExecutionError) Error() string {
	return fmt.Sprintf("node %s failed: %v", e.NodeID, e.Cause)
}

// Unwrap returns the cause.
func (e *NodeExecutionError) Unwrap() error {
	return e.Cause
}

// TimeoutError reports an exceeded node or run timeout. NodeID is empty
// for the run timeout.
type TimeoutError struct {
	NodeID  string
	Timeout time.Duration
}

// Error implements error.
func (e *TimeoutError) Error() string {
	if e.NodeID == "" {
		return fmt.Sprintf("run timed out after %s", e.Timeout)
	}
	return fmt.Sprintf("node %s timed out after %s", e.NodeID, e.Timeout)
}

// Is matches context.DeadlineExceeded.
func (e *TimeoutError) Is(target error) bool {
	return target == context.DeadlineExceeded
}

// ConcurrencyError reports that the engine could not obtain a permit or a
// worker. It ends the run.
type ConcurrencyError struct {
	Op  string
	Err error
}

// Error implements error.
func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("engine concurrency failure during %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConcurrencyError) Unwrap() error {
	return e.Err
}

// RejectedError fails a node whose resume token was rejected.
type RejectedError struct {
	NodeID string
	Reason string
}

// Error implements error.
func (e *RejectedError) Error() string {
	return fmt.Sprintf("resume of node %s rejected: %s", e.NodeID, e.Reason)
}

// Unwrap returns ErrResumeRejected.
func (e *RejectedError) Unwrap() error {
	return ErrResumeRejected
}
