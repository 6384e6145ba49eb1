//
// Tencent is pleased to support the open source community by making trpc-graph-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-graph-go is licensed under the Apache License Version 2.0.
//
//

// Package execution holds the per-run metadata shared by the engine and checkpointing.
package execution

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"trpc.group/trpc-go/trpc-graph-go/resolver"
)

// Metrics accumulates node outcomes for a run.
type Metrics struct {
	NodesRun      int                      `json:"nodes_run"`
	Successes     int                      `json:"successes"`
	Failures      int                      `json:"failures"`
	Skipped       int                      `json:"skipped"`
	TotalDuration time.Duration            `json:"total_duration"`
	NodeDurations map[string]time.Duration `json:"node_durations,omitempty"`
}

// Context is the metadata of one run. It is safe for concurrent use.
type Context struct {
	mu sync.RWMutex

	executionID string
	graphID     string
	parentID    string
	startTime   time.Time
	endTime     time.Time
	depth       int
	metrics     Metrics
	annotations map[string]string
	progress    resolver.Progress
}

// New creates a context for a fresh run of graphID.
func New(graphID string) *Context {
	return &Context{
		executionID: uuid.NewString(),
		graphID:     graphID,
		startTime:   time.Now().UTC(),
		annotations: make(map[string]string),
		metrics:     Metrics{NodeDurations: make(map[string]time.Duration)},
	}
}

// Child creates a context for a nested graph run one level deeper.
func (c *Context) Child(graphID string) *Context {
	child := New(graphID)
	c.mu.RLock()
	child.depth = c.depth + 1
	child.parentID = c.executionID
	c.mu.RUnlock()
	return child
}

// ExecutionID returns the run identifier.
func (c *Context) ExecutionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.executionID
}

// SetExecutionID overrides the generated run identifier.
func (c *Context) SetExecutionID(id string) {
	c.mu.Lock()
	c.executionID = id
	c.mu.Unlock()
}

// GraphID returns the identity of the graph being run.
func (c *Context) GraphID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.graphID
}

// ParentID returns the execution ID of the enclosing run, if nested.
func (c *Context) ParentID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.parentID
}

// Depth returns the nesting level; top level runs are 0.
func (c *Context) Depth() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.depth
}

// StartTime returns when the run started.
func (c *Context) StartTime() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.startTime
}

// EndTime returns when the run finished, zero while running.
func (c *Context) EndTime() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.endTime
}

// Finish stamps the end time.
func (c *Context) Finish() {
	c.mu.Lock()
	c.endTime = time.Now().UTC()
	c.mu.Unlock()
}

// Reopen clears the end time so a restored run can continue.
func (c *Context) Reopen() {
	c.mu.Lock()
	c.endTime = time.Time{}
	c.mu.Unlock()
}

// RecordSuccess counts a successful node run.
func (c *Context) RecordSuccess(nodeID string, d time.Duration) {
	c.record(nodeID, d, true)
}

// RecordFailure counts a failed node run.
func (c *Context) RecordFailure(nodeID string, d time.Duration) {
	c.record(nodeID, d, false)
}

func (c *Context) record(nodeID string, d time.Duration, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics.NodesRun++
	if ok {
		c.metrics.Successes++
	} else {
		c.metrics.Failures++
	}
	c.metrics.TotalDuration += d
	c.metrics.NodeDurations[nodeID] += d
}

// RecordSkipped counts nodes skipped because a dependency failed.
func (c *Context) RecordSkipped(n int) {
	c.mu.Lock()
	c.metrics.Skipped += n
	c.mu.Unlock()
}

// Metrics returns a copy of the accumulated metrics.
func (c *Context) Metrics() Metrics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m := c.metrics
	m.NodeDurations = make(map[string]time.Duration, len(c.metrics.NodeDurations))
	for k, v := range c.metrics.NodeDurations {
		m.NodeDurations[k] = v
	}
	return m
}

// Annotate sets a free form key/value pair.
func (c *Context) Annotate(key, value string) {
	c.mu.Lock()
	c.annotations[key] = value
	c.mu.Unlock()
}

// Annotation returns the value stored for key.
func (c *Context) Annotation(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.annotations[key]
	return v, ok
}

// Annotations returns a copy of every annotation.
func (c *Context) Annotations() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.annotations))
	for k, v := range c.annotations {
		out[k] = v
	}
	return out
}

// AnnotationKeys returns the annotation keys in sorted order.
func (c *Context) AnnotationKeys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.annotations))
	for k := range c.annotations {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SetProgress stores the resolver frontier to be serialized with the context.
func (c *Context) SetProgress(p resolver.Progress) {
	c.mu.Lock()
	c.progress = p
	c.mu.Unlock()
}

// Progress returns the stored resolver frontier.
func (c *Context) Progress() resolver.Progress {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.progress
}

type wireContext struct {
	ExecutionID string            `json:"execution_id"`
	GraphID     string            `json:"graph_id"`
	ParentID    string            `json:"parent_id,omitempty"`
	StartTime   time.Time         `json:"start_time"`
	EndTime     time.Time         `json:"end_time,omitempty"`
	Depth       int               `json:"depth"`
	Metrics     Metrics           `json:"metrics"`
	Annotations map[string]string `json:"annotations,omitempty"`
	Progress    resolver.Progress `json:"progress"`
}

// MarshalJSON implements json.Marshaler.
func (c *Context) MarshalJSON() ([]byte, error) {
	c.mu.RLock()
	w := wireContext{
		ExecutionID: c.executionID,
		GraphID:     c.graphID,
		ParentID:    c.parentID,
		StartTime:   c.startTime,
		EndTime:     c.endTime,
		Depth:       c.depth,
		Metrics:     c.metrics,
		Annotations: c.annotations,
		Progress:    c.progress,
	}
	raw, err := json.Marshal(w)
	c.mu.RUnlock()
	return raw, err
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Context) UnmarshalJSON(b []byte) error {
	var w wireContext
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	if w.Annotations == nil {
		w.Annotations = make(map[string]string)
	}
	if w.Metrics.NodeDurations == nil {
		w.Metrics.NodeDurations = make(map[string]time.Duration)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.executionID = w.ExecutionID
	c.graphID = w.GraphID
	c.parentID = w.ParentID
	c.startTime = w.StartTime
	c.endTime = w.EndTime
	c.depth = w.Depth
	c.metrics = w.Metrics
	c.annotations = w.Annotations
	c.progress = w.Progress
	return nil
}
