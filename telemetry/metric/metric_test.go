//
// Tencent is pleased to support the open source community by making trpc-graph-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-graph-go is licensed under the Apache License Version 2.0.
//
//

package metric

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT", "m:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "g:4317")
	assert.Equal(t, "m:4317", metricsEndpoint())

	t.Setenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT", "")
	assert.Equal(t, "g:4317", metricsEndpoint())

	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	assert.Equal(t, "localhost:4317", metricsEndpoint())
}

func TestStartReplacesMeter(t *testing.T) {
	old := Meter
	defer func() { Meter = old }()

	clean, err := Start(context.Background(), WithEndpoint("localhost:4317"), WithServiceName("graph-test"))
	require.NoError(t, err)
	require.NotNil(t, clean)
	assert.NotEqual(t, old, Meter)
	_ = clean()
}
