//
// Tencent is pleased to support the open source community by making trpc-graph-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-graph-go is licensed under the Apache License Version 2.0.
//
//

package checkpoint

import (
	"time"

	"trpc.group/trpc-go/trpc-graph-go/execution"
)

// TokenStatus is the lifecycle state of a resume token.
type TokenStatus string

// Token statuses.
const (
	TokenPending  TokenStatus = "pending"
	TokenApproved TokenStatus = "approved"
	TokenRejected TokenStatus = "rejected"
	TokenConsumed TokenStatus = "consumed"
	TokenExpired  TokenStatus = "expired"
)

// Finished reports whether a token in status s can no longer be resumed.
func (s TokenStatus) Finished() bool {
	return s == TokenRejected || s == TokenConsumed || s == TokenExpired
}

// ResumeToken parks one interrupted node until a decision is recorded.
// Tokens created by the same suspension share a checkpoint and a SuspensionID.
type ResumeToken struct {
	ID           string      `json:"id"`
	SuspensionID string      `json:"suspension_id"`
	CheckpointID string      `json:"checkpoint_id"`
	ExecutionID  string      `json:"execution_id"`
	GraphID      string      `json:"graph_id"`
	NodeID       string      `json:"node_id"`
	Prompt       any         `json:"prompt,omitempty"`
	Status       TokenStatus `json:"status"`
	Value        any         `json:"value,omitempty"`
	Reason       string      `json:"reason,omitempty"`
	Siblings     []string    `json:"siblings,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	ExpiresAt    time.Time   `json:"expires_at,omitempty"`
	DecidedAt    time.Time   `json:"decided_at,omitempty"`
}

// Expired reports whether the token's TTL has passed at now.
func (t *ResumeToken) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && now.After(t.ExpiresAt)
}

// settledAt is the time the token stopped being resumable.
func (t *ResumeToken) settledAt() time.Time {
	if !t.DecidedAt.IsZero() {
		return t.DecidedAt
	}
	if !t.ExpiresAt.IsZero() {
		return t.ExpiresAt
	}
	return t.CreatedAt
}

// Parked is an interrupted node waiting for a token.
type Parked struct {
	NodeID string
	Prompt any
}

// Resumption is what Consume hands back to the engine.
type Resumption struct {
	// Context is the restored execution context.
	Context *execution.Context
	// Token is the consumed token.
	Token *ResumeToken
	// Values holds the resume value of every approved token of the
	// suspension, keyed by node ID.
	Values map[string]any
	// Rejections holds the reason of every rejected sibling, keyed by node ID.
	Rejections map[string]string
}
