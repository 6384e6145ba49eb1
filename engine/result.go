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
	"sort"

	"trpc.group/trpc-go/trpc-graph-go/checkpoint"
	"trpc.group/trpc-go/trpc-graph-go/execution"
)

// Status is the state of a run.
type Status string

// Run statuses. Starting and Running are transient.
const (
	StatusStarting    Status = "starting"
	StatusRunning     Status = "running"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
	StatusTimedOut    Status = "timed_out"
	StatusInterrupted Status = "interrupted"
)

// Terminal reports whether s ends a run.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut, StatusInterrupted:
		return true
	}
	return false
}

// Result is the structured outcome of a run. Node ID lists are sorted.
type Result[S any] struct {
	ExecutionID string
	Status      Status

	Completed   []string
	Failed      []string
	Skipped     []string
	Cancelled   []string
	Pruned      []string
	Interrupted []string
	// NotReached lists nodes that never ran and were neither skipped nor pruned.
	NotReached []string
	// FinishReached reports whether at least one finish point completed.
	FinishReached bool

	// Errors holds every node failure keyed by node ID.
	Errors map[string]error
	// Err combines Errors in node ID order. It is nil when no node failed.
	Err error

	State   S
	Context *execution.Context
	// Tokens are the resume tokens created when the run was interrupted.
	Tokens []*checkpoint.ResumeToken
	// Checkpoints lists the IDs of checkpoints taken during the run, oldest first.
	Checkpoints []string
}

// Succeeded reports whether the run completed without node failures.
func (r *Result[S]) Succeeded() bool {
	return r.Status == StatusCompleted && len(r.Errors) == 0
}

// FailedNodes returns the IDs of failed nodes in sorted order.
func (r *Result[S]) FailedNodes() []string {
	ids := make([]string, 0, len(r.Errors))
	for id := range r.Errors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
