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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-graph-go/checkpoint"
	"trpc.group/trpc-go/trpc-graph-go/checkpoint/inmemory"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultMaxConcurrency, cfg.MaxConcurrency)
	assert.Equal(t, DefaultMaxLoopIterations, cfg.MaxLoopIterations)
	assert.True(t, cfg.FailFast)
	assert.False(t, cfg.AutoCheckpoint.Enabled())
	assert.Equal(t, checkpoint.DefaultRetention(), cfg.Checkpoint.Retention)
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
max_concurrency: 8
fail_fast: false
node_timeout: 5s
run_timeout: 1m
auto_checkpoint:
  every_nodes: 3
  on_failure: true
checkpoint:
  token_ttl: 2h
  retention:
    max_per_execution: 5
  retry:
    max_attempts: 4
`))
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.MaxConcurrency)
	assert.False(t, cfg.FailFast)
	assert.Equal(t, 5*time.Second, cfg.NodeTimeout)
	assert.Equal(t, time.Minute, cfg.RunTimeout)
	assert.Equal(t, DefaultMaxLoopIterations, cfg.MaxLoopIterations)
	assert.Equal(t, AutoCheckpointPolicy{EveryNodes: 3, OnFailure: true}, cfg.AutoCheckpoint)
	assert.True(t, cfg.AutoCheckpoint.Enabled())
	assert.Equal(t, 2*time.Hour, cfg.Checkpoint.TokenTTL)
	assert.Equal(t, 5, cfg.Checkpoint.Retention.MaxPerExecution)
	assert.Equal(t, 4, cfg.Checkpoint.Retry.MaxAttempts)
	assert.Equal(t, checkpoint.DefaultRetryPolicy().InitialInterval, cfg.Checkpoint.Retry.InitialInterval)
	assert.Len(t, cfg.Checkpoint.Options(), 3)
}

func TestParseConfig_Invalid(t *testing.T) {
	for name, doc := range map[string]string{
		"zero concurrency": "max_concurrency: 0",
		"negative timeout": "node_timeout: -1s",
		"zero loop limit":  "max_loop_iterations: 0",
		"bad retry":        "checkpoint:\n  retry:\n    max_attempts: 0",
		"not yaml":         "max_concurrency: [",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseConfig([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestConfig_AppliedByEngine(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrency = 2
	cfg.FailFast = false
	e, err := New(diamondGraph(), WithConfig(cfg), WithNodeTimeout(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 2, e.Config().MaxConcurrency)
	assert.False(t, e.Config().FailFast)
	assert.Equal(t, time.Second, e.Config().NodeTimeout)
	assert.Nil(t, e.Checkpoints())
}

func TestNewCheckpointManager(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Checkpoint.TokenTTL = time.Minute
	mgr := NewCheckpointManager[runState](inmemory.NewSaver(), cfg)
	require.NotNil(t, mgr)
	e, err := New(diamondGraph(), WithCheckpointManager(mgr))
	require.NoError(t, err)
	assert.Same(t, mgr, e.Checkpoints())
}
