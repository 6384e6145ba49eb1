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
	"errors"
	"fmt"
)

// StructureKind classifies a topology violation.
type StructureKind string

// Structure violation kinds.
const (
	KindEmptyNodeID            StructureKind = "empty_node_id"
	KindDuplicateNodeID        StructureKind = "duplicate_node_id"
	KindUnknownNode            StructureKind = "unknown_node"
	KindMissingEntryPoint      StructureKind = "missing_entry_point"
	KindNoFinishPoint          StructureKind = "no_finish_point"
	KindUnreachableFinishPoint StructureKind = "unreachable_finish_point"
	KindUnreachableNode        StructureKind = "unreachable_node"
	KindIllegalCycle           StructureKind = "illegal_cycle"
	KindInvalidEdge            StructureKind = "invalid_edge"
	KindInvalidLoopEdge        StructureKind = "invalid_loop_edge"
	KindNilExecutable          StructureKind = "nil_executable"
)

// ErrGraphStructure matches every *StructureError through errors.Is.
var ErrGraphStructure = errors.New("graph structure error")

// StructureError describes the first topology violation found while building a graph.
type StructureError struct {
	Kind   StructureKind
	NodeID string
	Detail string
}

// Error implements error.
func (e *StructureError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("invalid graph: %s: node %q: %s", e.Kind, e.NodeID, e.Detail)
	}
	return fmt.Sprintf("invalid graph: %s: %s", e.Kind, e.Detail)
}

// Is reports ErrGraphStructure and kind sentinels as matches.
func (e *StructureError) Is(target error) bool {
	if target == ErrGraphStructure {
		return true
	}
	var other *StructureError
	if errors.As(target, &other) {
		return other.Kind == e.Kind && (other.NodeID == "" || other.NodeID == e.NodeID)
	}
	return false
}

func structErr(kind StructureKind, nodeID, format string, args ...any) *StructureError {
	return &StructureError{Kind: kind, NodeID: nodeID, Detail: fmt.Sprintf(format, args...)}
}

// IsStructureKind reports whether err is a StructureError of the given kind.
func IsStructureKind(err error, kind StructureKind) bool {
	var se *StructureError
	return errors.As(err, &se) && se.Kind == kind
}

// ErrRouting is wrapped by errors produced while resolving a node's successors.
var ErrRouting = errors.New("routing error")
