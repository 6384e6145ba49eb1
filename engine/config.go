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
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"trpc.group/trpc-go/trpc-graph-go/checkpoint"
)

// Defaults applied by DefaultConfig.
const (
	DefaultMaxConcurrency    = 4
	DefaultMaxLoopIterations = 100
)

// AutoCheckpointPolicy decides when the engine checkpoints on its own.
// Every automatic checkpoint is taken while no node is running.
type AutoCheckpointPolicy struct {
	// EveryNodes checkpoints after that many node completions. Zero disables it.
	EveryNodes int `yaml:"every_nodes" json:"every_nodes" validate:"gte=0"`
	// BeforeRisky checkpoints before dispatching a node flagged Risky.
	BeforeRisky bool `yaml:"before_risky" json:"before_risky"`
	// OnFailure checkpoints after a node fails.
	OnFailure bool `yaml:"on_failure" json:"on_failure"`
	// Cleanup runs the checkpoint manager's retention after each automatic checkpoint.
	Cleanup bool `yaml:"cleanup" json:"cleanup"`
}

// Enabled reports whether any trigger is set.
func (p AutoCheckpointPolicy) Enabled() bool {
	return p.EveryNodes > 0 || p.BeforeRisky || p.OnFailure
}

// CheckpointConfig configures a checkpoint manager built from Config.
type CheckpointConfig struct {
	Retention checkpoint.Retention   `yaml:"retention" json:"retention"`
	Retry     checkpoint.RetryPolicy `yaml:"retry" json:"retry"`
	TokenTTL  time.Duration          `yaml:"token_ttl" json:"token_ttl" validate:"gte=0"`
}

// Options returns the manager options matching c.
func (c CheckpointConfig) Options() []checkpoint.Option {
	return []checkpoint.Option{
		checkpoint.WithRetention(c.Retention),
		checkpoint.WithRetryPolicy(c.Retry),
		checkpoint.WithTokenTTL(c.TokenTTL),
	}
}

// Config is the run configuration of an Engine.
type Config struct {
	// MaxConcurrency bounds how many nodes run at once.
	MaxConcurrency int `yaml:"max_concurrency" json:"max_concurrency" validate:"gte=1,lte=10000"`
	// FailFast cancels the run on the first node failure. When false,
	// dependents of a failed node are skipped and the rest continues.
	FailFast bool `yaml:"fail_fast" json:"fail_fast"`
	// NodeTimeout applies to nodes without their own timeout. Zero disables it.
	NodeTimeout time.Duration `yaml:"node_timeout" json:"node_timeout" validate:"gte=0"`
	// RunTimeout bounds the whole run. Zero disables it.
	RunTimeout time.Duration `yaml:"run_timeout" json:"run_timeout" validate:"gte=0"`
	// MaxLoopIterations bounds how often a single loop edge is followed.
	MaxLoopIterations int `yaml:"max_loop_iterations" json:"max_loop_iterations" validate:"gte=1"`
	// AutoCheckpoint is the automatic checkpoint policy.
	AutoCheckpoint AutoCheckpointPolicy `yaml:"auto_checkpoint" json:"auto_checkpoint"`
	// Checkpoint configures managers built with NewCheckpointManager.
	Checkpoint CheckpointConfig `yaml:"checkpoint" json:"checkpoint"`
}

// DefaultConfig returns the configuration used when no option overrides it.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency:    DefaultMaxConcurrency,
		FailFast:          true,
		MaxLoopIterations: DefaultMaxLoopIterations,
		Checkpoint: CheckpointConfig{
			Retention: checkpoint.DefaultRetention(),
			Retry:     checkpoint.DefaultRetryPolicy(),
		},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the field constraints of c.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("engine: invalid config: %w", err)
	}
	return nil
}

// ParseConfig decodes YAML over DefaultConfig and validates the result.
// Durations are written the way time.ParseDuration reads them.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("engine: parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// NewCheckpointManager builds a checkpoint manager over saver configured by cfg.Checkpoint.
func NewCheckpointManager[S any](saver checkpoint.Saver, cfg Config) *checkpoint.Manager[S] {
	return checkpoint.NewManager[S](saver, cfg.Checkpoint.Options()...)
}
