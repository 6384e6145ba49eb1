//
// Tencent is pleased to support the open source community by making trpc-graph-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-graph-go is licensed under the Apache License Version 2.0.
//
//

package graph

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// InterruptError is returned by a node body that asks to be suspended
// until a human or external system supplies a resume value.
type InterruptError struct {
	// NodeID is the interrupted node. The engine fills it when empty.
	NodeID string
	// Prompt describes what the node is waiting for.
	Prompt any
	// Timestamp is when the interrupt was raised.
	Timestamp time.Time
}

// Error implements error.
func (e *InterruptError) Error() string {
	return fmt.Sprintf("graph interrupted at node %s: %v", e.NodeID, e.Prompt)
}

// NewInterruptError creates an InterruptError carrying prompt.
func NewInterruptError(prompt any) *InterruptError {
	return &InterruptError{Prompt: prompt, Timestamp: time.Now().UTC()}
}

// IsInterrupt reports whether err is or wraps an *InterruptError.
func IsInterrupt(err error) bool {
	var ie *InterruptError
	return errors.As(err, &ie)
}

// AsInterrupt returns the *InterruptError in err's chain.
func AsInterrupt(err error) (*InterruptError, bool) {
	var ie *InterruptError
	ok := errors.As(err, &ie)
	return ie, ok
}

type nodeIDKey struct{}

type resumeKey struct{}

// resumeSlot hands a resume value to the first Interrupt call of a node run.
type resumeSlot struct {
	value any
	taken atomic.Bool
}

// WithNodeID records the executing node on ctx.
func WithNodeID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, nodeIDKey{}, id)
}

// NodeIDFromContext returns the executing node's ID.
func NodeIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(nodeIDKey{}).(string)
	return id
}

// WithResumeValue makes value available to the next Interrupt call under ctx.
func WithResumeValue(ctx context.Context, value any) context.Context {
	return context.WithValue(ctx, resumeKey{}, &resumeSlot{value: value})
}

// Interrupt suspends the calling node. When the node is being resumed
// from an approved token, Interrupt returns the supplied value instead.
//
//	answer, err := graph.Interrupt(ctx, "approve transfer?")
//	if err != nil {
//		return graph.Output{}, err
//	}
func Interrupt(ctx context.Context, prompt any) (any, error) {
	if slot, ok := ctx.Value(resumeKey{}).(*resumeSlot); ok && slot.taken.CompareAndSwap(false, true) {
		return slot.value, nil
	}
	ie := NewInterruptError(prompt)
	ie.NodeID = NodeIDFromContext(ctx)
	return nil, ie
}

// ResumeValue returns the pending resume value typed as T without consuming it.
func ResumeValue[T any](ctx context.Context) (T, bool) {
	var zero T
	slot, ok := ctx.Value(resumeKey{}).(*resumeSlot)
	if !ok || slot.taken.Load() {
		return zero, false
	}
	v, ok := slot.value.(T)
	if !ok {
		return zero, false
	}
	return v, true
}
