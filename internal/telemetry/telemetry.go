//
// Tencent is pleased to support the open source community by making trpc-graph-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-graph-go is licensed under the Apache License Version 2.0.
//
//

// Package telemetry holds names and helpers shared by the tracing and metrics packages.
package telemetry

import (
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// telemetry service constants.
const (
	ServiceName      = "graph-engine"
	ServiceVersion   = "v0.1.0"
	ServiceNamespace = "trpc-go-graph"
	InstrumentName   = "trpc.graph.go"

	SpanNameExecuteGraph      = "execute_graph"
	SpanNamePrefixExecuteNode = "execute_node"
)

const (
	// ProtocolGRPC uses gRPC protocol for OTLP exporter.
	ProtocolGRPC string = "grpc"
	// ProtocolHTTP uses HTTP protocol for OTLP exporter.
	ProtocolHTTP string = "http"
)

// span attribute keys.
const (
	KeyExecutionID = "trpc.go.graph.execution_id"
	KeyGraphID     = "trpc.go.graph.graph_id"
	KeyNodeID      = "trpc.go.graph.node_id"
	KeyNodeName    = "trpc.go.graph.node_name"
	KeyPriority    = "trpc.go.graph.priority"
	KeyDepth       = "trpc.go.graph.depth"
	KeyStatus      = "trpc.go.graph.status"
	KeyCheckpoint  = "trpc.go.graph.checkpoint_id"
)

// metric instrument names.
const (
	MetricNodeDuration    = "graph_node_duration_seconds"
	MetricNodeSuccess     = "graph_node_success_total"
	MetricNodeFailure     = "graph_node_failure_total"
	MetricActiveNodes     = "graph_active_nodes"
	MetricCheckpoints     = "graph_checkpoints_total"
	MetricRunDuration     = "graph_run_duration_seconds"
	MetricStorageRetries  = "graph_checkpoint_storage_retries_total"
	MetricQueuedReadyNode = "graph_ready_queue_depth"
)

// NewGRPCConn creates a gRPC client connection to an OpenTelemetry collector.
func NewGRPCConn(endpoint string) (*grpc.ClientConn, error) {
	// Insecure transport; put a TLS-terminating collector in front in production.
	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection to collector: %w", err)
	}
	return conn, nil
}
