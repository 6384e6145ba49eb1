//
// Tencent is pleased to support the open source community by making trpc-graph-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-graph-go is licensed under the Apache License Version 2.0.
//
//

// Package scheduler orders ready work by priority.
//
// Items are kept in four FIFO buckets. Next always returns the oldest item
// of the highest non-empty bucket, so dispatch order is fully determined by
// the priority assignment and the arrival order.
package scheduler

import (
	"fmt"
	"strings"
	"sync"
)

// Priority is a dispatch level. Higher values are dispatched first.
type Priority int

// Priority levels.
const (
	Low Priority = iota
	Normal
	High
	Critical
)

// levels lists priorities from highest to lowest.
var levels = [...]Priority{Critical, High, Normal, Low}

// String returns the lowercase level name.
func (p Priority) String() string {
	switch p {
	case Low:
		return "low"
	case Normal:
		return "normal"
	case High:
		return "high"
	case Critical:
		return "critical"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// Valid reports whether p is one of the four defined levels.
func (p Priority) Valid() bool {
	return p >= Low && p <= Critical
}

// ParsePriority parses a level name, case-insensitively.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return Low, nil
	case "normal", "":
		return Normal, nil
	case "high":
		return High, nil
	case "critical":
		return Critical, nil
	default:
		return Normal, fmt.Errorf("scheduler: unknown priority %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Priority) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("scheduler: invalid priority %d", int(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Priority) UnmarshalText(b []byte) error {
	v, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Queue is a four-level priority queue, FIFO within a level.
// It is safe for concurrent use.
type Queue[T any] struct {
	mu      sync.Mutex
	buckets [Critical + 1][]T
	size    int
}

// New creates an empty queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{}
}

// Schedule enqueues item at priority p. Unknown priorities are treated as Normal.
func (q *Queue[T]) Schedule(item T, p Priority) {
	if !p.Valid() {
		p = Normal
	}
	q.mu.Lock()
	q.buckets[p] = append(q.buckets[p], item)
	q.size++
	q.mu.Unlock()
}

// Next dequeues the oldest item of the highest non-empty level.
func (q *Queue[T]) Next() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, p := range levels {
		b := q.buckets[p]
		if len(b) == 0 {
			continue
		}
		item := b[0]
		var zero T
		b[0] = zero
		q.buckets[p] = b[1:]
		q.size--
		return item, true
	}
	var zero T
	return zero, false
}

// Peek returns the item Next would return without removing it.
func (q *Queue[T]) Peek() (T, Priority, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, p := range levels {
		if b := q.buckets[p]; len(b) > 0 {
			return b[0], p, true
		}
	}
	var zero T
	return zero, Normal, false
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Drain removes and returns every item in dispatch order.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]T, 0, q.size)
	for _, p := range levels {
		out = append(out, q.buckets[p]...)
		q.buckets[p] = nil
	}
	q.size = 0
	return out
}
