//
// Tencent is pleased to support the open source community by making trpc-graph-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-graph-go is licensed under the Apache License Version 2.0.
//
//

// Package schema defines the JSON payloads of the debug HTTP server.
package schema

// ApproveRequest is the body of POST /tokens/{id}/approve.
type ApproveRequest struct {
	Value any `json:"value"`
}

// RejectRequest is the body of POST /tokens/{id}/reject.
type RejectRequest struct {
	Reason string `json:"reason"`
}

// ErrorResponse is written for every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// DeleteResponse acknowledges a deleted checkpoint.
type DeleteResponse struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}
