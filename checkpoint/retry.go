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
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	itelemetry "trpc.group/trpc-go/trpc-graph-go/internal/telemetry"
	"trpc.group/trpc-go/trpc-graph-go/log"
	gmetric "trpc.group/trpc-go/trpc-graph-go/telemetry/metric"
)

// RetryPolicy bounds how storage operations are retried.
type RetryPolicy struct {
	MaxAttempts     int           `yaml:"max_attempts" json:"max_attempts" validate:"gte=1,lte=100"`
	InitialInterval time.Duration `yaml:"initial_interval" json:"initial_interval" validate:"gte=0"`
	MaxInterval     time.Duration `yaml:"max_interval" json:"max_interval" validate:"gte=0"`
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     time.Second,
	}
}

func (p RetryPolicy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	return b
}

// ErrPermanent marks a saver error that must not be retried.
var ErrPermanent = errors.New("checkpoint: permanent storage failure")

// retryingSaver retries transient failures of the wrapped saver.
type retryingSaver struct {
	next    Saver
	policy  RetryPolicy
	retries metric.Int64Counter
}

// NewRetryingSaver wraps s so every operation is retried up to
// policy.MaxAttempts times with exponential backoff. Errors that remain
// are returned as *StorageError. Context errors and errors wrapping
// ErrPermanent are not retried.
func NewRetryingSaver(s Saver, policy RetryPolicy) Saver {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	counter, err := gmetric.Meter.Int64Counter(itelemetry.MetricStorageRetries,
		metric.WithDescription("Checkpoint storage operations retried after a failure"))
	if err != nil {
		counter = nil
	}
	return &retryingSaver{next: s, policy: policy, retries: counter}
}

func retry[T any](ctx context.Context, r *retryingSaver, op, id string, fn func() (T, error)) (T, error) {
	attempts := 0
	v, err := backoff.Retry(ctx, func() (T, error) {
		attempts++
		v, err := fn()
		if err != nil && permanent(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(r.policy.backOff()),
		backoff.WithMaxTries(uint(r.policy.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			if r.retries != nil {
				r.retries.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
			}
			log.Debugf("checkpoint storage %s %s failed, retrying in %s: %v", op, id, next, err)
		}),
	)
	if err != nil {
		var zero T
		var se *StorageError
		if errors.As(err, &se) {
			se.Attempts = attempts
			return zero, se
		}
		return zero, &StorageError{Op: op, ID: id, Attempts: attempts, Err: err}
	}
	return v, nil
}

func permanent(err error) bool {
	return errors.Is(err, ErrPermanent) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// Put implements Saver.
func (r *retryingSaver) Put(ctx context.Context, rec *Record) error {
	_, err := retry(ctx, r, "put", rec.ID, func() (struct{}, error) {
		return struct{}{}, r.next.Put(ctx, rec)
	})
	return err
}

// Get implements Saver.
func (r *retryingSaver) Get(ctx context.Context, id string) (*Record, error) {
	return retry(ctx, r, "get", id, func() (*Record, error) {
		return r.next.Get(ctx, id)
	})
}

// Delete implements Saver.
func (r *retryingSaver) Delete(ctx context.Context, id string) (bool, error) {
	return retry(ctx, r, "delete", id, func() (bool, error) {
		return r.next.Delete(ctx, id)
	})
}

// ListIDs implements Saver.
func (r *retryingSaver) ListIDs(ctx context.Context, kind Kind) ([]string, error) {
	return retry(ctx, r, "list", string(kind), func() ([]string, error) {
		return r.next.ListIDs(ctx, kind)
	})
}

// Close implements Saver.
func (r *retryingSaver) Close() error {
	return r.next.Close()
}
