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
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	noopm "go.opentelemetry.io/otel/metric/noop"

	itelemetry "trpc.group/trpc-go/trpc-graph-go/internal/telemetry"
	"trpc.group/trpc-go/trpc-graph-go/log"
	gmetric "trpc.group/trpc-go/trpc-graph-go/telemetry/metric"
)

type instruments struct {
	nodeDuration metric.Float64Histogram
	nodeSuccess  metric.Int64Counter
	nodeFailure  metric.Int64Counter
	activeNodes  metric.Int64UpDownCounter
	checkpoints  metric.Int64Counter
	runDuration  metric.Float64Histogram
	queueDepth   metric.Int64Gauge
}

// newInstruments creates the engine instruments on the global meter,
// falling back to no-op instruments for any that cannot be created.
func newInstruments() *instruments {
	m := gmetric.Meter
	noop := noopm.Meter{}
	inst := &instruments{}
	var err error
	if inst.nodeDuration, err = m.Float64Histogram(itelemetry.MetricNodeDuration,
		metric.WithDescription("Node execution duration"), metric.WithUnit("s")); err != nil {
		log.Warnf("create metric %s: %v", itelemetry.MetricNodeDuration, err)
		inst.nodeDuration, _ = noop.Float64Histogram(itelemetry.MetricNodeDuration)
	}
	if inst.nodeSuccess, err = m.Int64Counter(itelemetry.MetricNodeSuccess,
		metric.WithDescription("Nodes completed successfully")); err != nil {
		log.Warnf("create metric %s: %v", itelemetry.MetricNodeSuccess, err)
		inst.nodeSuccess, _ = noop.Int64Counter(itelemetry.MetricNodeSuccess)
	}
	if inst.nodeFailure, err = m.Int64Counter(itelemetry.MetricNodeFailure,
		metric.WithDescription("Nodes that failed")); err != nil {
		log.Warnf("create metric %s: %v", itelemetry.MetricNodeFailure, err)
		inst.nodeFailure, _ = noop.Int64Counter(itelemetry.MetricNodeFailure)
	}
	if inst.activeNodes, err = m.Int64UpDownCounter(itelemetry.MetricActiveNodes,
		metric.WithDescription("Nodes currently running")); err != nil {
		log.Warnf("create metric %s: %v", itelemetry.MetricActiveNodes, err)
		inst.activeNodes, _ = noop.Int64UpDownCounter(itelemetry.MetricActiveNodes)
	}
	if inst.checkpoints, err = m.Int64Counter(itelemetry.MetricCheckpoints,
		metric.WithDescription("Checkpoints created by the engine")); err != nil {
		log.Warnf("create metric %s: %v", itelemetry.MetricCheckpoints, err)
		inst.checkpoints, _ = noop.Int64Counter(itelemetry.MetricCheckpoints)
	}
	if inst.runDuration, err = m.Float64Histogram(itelemetry.MetricRunDuration,
		metric.WithDescription("Graph run duration"), metric.WithUnit("s")); err != nil {
		log.Warnf("create metric %s: %v", itelemetry.MetricRunDuration, err)
		inst.runDuration, _ = noop.Float64Histogram(itelemetry.MetricRunDuration)
	}
	if inst.queueDepth, err = m.Int64Gauge(itelemetry.MetricQueuedReadyNode,
		metric.WithDescription("Ready nodes waiting for a permit")); err != nil {
		log.Warnf("create metric %s: %v", itelemetry.MetricQueuedReadyNode, err)
		inst.queueDepth, _ = noop.Int64Gauge(itelemetry.MetricQueuedReadyNode)
	}
	return inst
}

func (i *instruments) nodeDone(ctx context.Context, graphID, nodeID string, d time.Duration, ok bool) {
	attrs := metric.WithAttributes(
		attribute.String(itelemetry.KeyGraphID, graphID),
		attribute.String(itelemetry.KeyNodeID, nodeID),
	)
	i.nodeDuration.Record(ctx, d.Seconds(), attrs)
	if ok {
		i.nodeSuccess.Add(ctx, 1, attrs)
		return
	}
	i.nodeFailure.Add(ctx, 1, attrs)
}
